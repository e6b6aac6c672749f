// Package state models the canonical world snapshot of one story.
//
// The canonical state is the single authoritative record of "what is true in
// this story so far". All identifiers are opaque strings; cross-references
// between entities are id-based, never pointer-based.
package state

import (
	"encoding/json"
	"time"
)

// Meta carries bookkeeping for a canonical state snapshot.
type Meta struct {
	StoryID      string    `json:"story_id"`
	CanonVersion string    `json:"canon_version"`
	Turn         int       `json:"turn"`
	LastEventID  string    `json:"last_event_id,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TimeAnchor is a point on the narrative timeline. Order is monotonic;
// Label is the human-readable name of the moment.
type TimeAnchor struct {
	Label string `json:"label"`
	Order int    `json:"order"`
}

// TimeState tracks the story's calendar and current anchor.
type TimeState struct {
	Calendar string     `json:"calendar"`
	Anchor   TimeAnchor `json:"anchor"`
}

// Player is the protagonist's slice of the world state. Party and Inventory
// preserve insertion order and contain no duplicates.
type Player struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	LocationID string   `json:"location_id"`
	Party      []string `json:"party"`
	Inventory  []string `json:"inventory"`
}

// Character is a named actor in the world. Alive defaults to true when the
// field is absent from a serialized record.
type Character struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	LocationID string         `json:"location_id"`
	Alive      bool           `json:"alive"`
	FactionID  string         `json:"faction_id,omitempty"`
	Metadata   map[string]any `json:"metadata"`
}

// UnmarshalJSON keeps the alive-by-default rule for records that omit the flag.
func (c *Character) UnmarshalJSON(data []byte) error {
	type alias Character
	aux := alias{Alive: true}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*c = Character(aux)
	return nil
}

// Item is an ownable object. A unique item must always have an owner; every
// item must have an owner or a location.
type Item struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	OwnerID    string         `json:"owner_id,omitempty"`
	LocationID string         `json:"location_id,omitempty"`
	Unique     bool           `json:"unique"`
	Metadata   map[string]any `json:"metadata"`
}

// Location is a place; locations may nest through ParentLocationID.
type Location struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	ParentLocationID string         `json:"parent_location_id,omitempty"`
	Metadata         map[string]any `json:"metadata"`
}

// Faction is a group of characters with an optional leader.
type Faction struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	LeaderID string         `json:"leader_id,omitempty"`
	Members  []string       `json:"members"`
	Metadata map[string]any `json:"metadata"`
}

// QuestStatus is the lifecycle state of a quest.
type QuestStatus string

const (
	// QuestActive marks a quest still in progress.
	QuestActive QuestStatus = "active"
	// QuestCompleted marks a quest finished successfully.
	QuestCompleted QuestStatus = "completed"
	// QuestFailed marks a quest finished unsuccessfully.
	QuestFailed QuestStatus = "failed"
)

// Quest is a tracked goal.
type Quest struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Status        QuestStatus    `json:"status"`
	Prerequisites []string       `json:"prerequisites,omitempty"`
	Metadata      map[string]any `json:"metadata"`
}

// ConstraintType classifies a world constraint.
type ConstraintType string

const (
	// ConstraintImmutableEvent pins an event that may never be re-submitted.
	ConstraintImmutableEvent ConstraintType = "immutable_event"
	// ConstraintUniqueItem marks an item as single-owner.
	ConstraintUniqueItem ConstraintType = "unique_item"
	// ConstraintEntityState pins an entity field to a value.
	ConstraintEntityState ConstraintType = "entity_state"
	// ConstraintRelationship pins a relationship (e.g. faction membership).
	ConstraintRelationship ConstraintType = "relationship"
)

// Constraint is a hard rule the gate enforces against every projected state.
type Constraint struct {
	ID          string         `json:"id"`
	Type        ConstraintType `json:"type"`
	Description string         `json:"description"`
	EntityID    string         `json:"entity_id,omitempty"`
	Value       map[string]any `json:"value"`
}

// Entities holds the four entity tables keyed by id.
type Entities struct {
	Characters map[string]*Character `json:"characters"`
	Items      map[string]*Item      `json:"items"`
	Locations  map[string]*Location  `json:"locations"`
	Factions   map[string]*Faction   `json:"factions"`
}

// QuestLog splits quests into active and finished. Failed quests live in
// Completed with status failed; the two lists never share an id.
type QuestLog struct {
	Active    []*Quest `json:"active"`
	Completed []*Quest `json:"completed"`
}

// Constraints aggregates the world's standing rules.
type Constraints struct {
	UniqueItemIDs   []string     `json:"unique_item_ids"`
	ImmutableEvents []string     `json:"immutable_events"`
	Constraints     []Constraint `json:"constraints"`
}

// CanonicalState is the root aggregate, one per story.
type CanonicalState struct {
	Meta        Meta        `json:"meta"`
	Time        TimeState   `json:"time"`
	Player      Player      `json:"player"`
	Entities    Entities    `json:"entities"`
	Quest       QuestLog    `json:"quest"`
	Constraints Constraints `json:"constraints"`
}

// Character returns the character with the given id, or nil.
func (s *CanonicalState) Character(id string) *Character {
	return s.Entities.Characters[id]
}

// Item returns the item with the given id, or nil.
func (s *CanonicalState) Item(id string) *Item {
	return s.Entities.Items[id]
}

// Location returns the location with the given id, or nil.
func (s *CanonicalState) Location(id string) *Location {
	return s.Entities.Locations[id]
}

// Faction returns the faction with the given id, or nil.
func (s *CanonicalState) Faction(id string) *Faction {
	return s.Entities.Factions[id]
}

// FindQuest locates a quest by id, searching active before completed.
func (s *CanonicalState) FindQuest(id string) *Quest {
	for _, q := range s.Quest.Active {
		if q.ID == id {
			return q
		}
	}
	for _, q := range s.Quest.Completed {
		if q.ID == id {
			return q
		}
	}
	return nil
}

// Clone deep-copies the state. Mutating the clone never touches the original.
func (s *CanonicalState) Clone() *CanonicalState {
	out := &CanonicalState{
		Meta:   s.Meta,
		Time:   s.Time,
		Player: s.Player,
	}
	out.Player.Party = append(s.Player.Party[:0:0], s.Player.Party...)
	out.Player.Inventory = append(s.Player.Inventory[:0:0], s.Player.Inventory...)

	out.Entities.Characters = make(map[string]*Character, len(s.Entities.Characters))
	for id, c := range s.Entities.Characters {
		cc := *c
		cc.Metadata = cloneMetadata(c.Metadata)
		out.Entities.Characters[id] = &cc
	}
	out.Entities.Items = make(map[string]*Item, len(s.Entities.Items))
	for id, it := range s.Entities.Items {
		ic := *it
		ic.Metadata = cloneMetadata(it.Metadata)
		out.Entities.Items[id] = &ic
	}
	out.Entities.Locations = make(map[string]*Location, len(s.Entities.Locations))
	for id, loc := range s.Entities.Locations {
		lc := *loc
		lc.Metadata = cloneMetadata(loc.Metadata)
		out.Entities.Locations[id] = &lc
	}
	out.Entities.Factions = make(map[string]*Faction, len(s.Entities.Factions))
	for id, f := range s.Entities.Factions {
		fc := *f
		fc.Members = append(f.Members[:0:0], f.Members...)
		fc.Metadata = cloneMetadata(f.Metadata)
		out.Entities.Factions[id] = &fc
	}

	out.Quest.Active = cloneQuests(s.Quest.Active)
	out.Quest.Completed = cloneQuests(s.Quest.Completed)

	out.Constraints.UniqueItemIDs = append(s.Constraints.UniqueItemIDs[:0:0], s.Constraints.UniqueItemIDs...)
	out.Constraints.ImmutableEvents = append(s.Constraints.ImmutableEvents[:0:0], s.Constraints.ImmutableEvents...)
	out.Constraints.Constraints = make([]Constraint, len(s.Constraints.Constraints))
	for i, c := range s.Constraints.Constraints {
		cc := c
		cc.Value = cloneMetadata(c.Value)
		out.Constraints.Constraints[i] = cc
	}
	return out
}

func cloneQuests(quests []*Quest) []*Quest {
	if quests == nil {
		return nil
	}
	out := make([]*Quest, len(quests))
	for i, q := range quests {
		qc := *q
		qc.Prerequisites = append([]string(nil), q.Prerequisites...)
		qc.Metadata = cloneMetadata(q.Metadata)
		out[i] = &qc
	}
	return out
}

// cloneMetadata copies one level; nested values are shared. Metadata is
// treated as opaque by the engine, which only ever replaces or shallow-merges
// whole keys.
func cloneMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
