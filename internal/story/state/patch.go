package state

// EntityType identifies which entity table an update targets.
type EntityType string

const (
	// EntityCharacter targets the characters table.
	EntityCharacter EntityType = "character"
	// EntityItem targets the items table.
	EntityItem EntityType = "item"
	// EntityLocation targets the locations table.
	EntityLocation EntityType = "location"
	// EntityFaction targets the factions table.
	EntityFaction EntityType = "faction"
)

// Valid reports whether the entity type is one of the four tables.
func (t EntityType) Valid() bool {
	switch t {
	case EntityCharacter, EntityItem, EntityLocation, EntityFaction:
		return true
	}
	return false
}

// FieldUpdates is the closed set of updatable entity fields. Each entity type
// reads its own subset; pointers distinguish "set to zero value" from
// "leave unchanged". Metadata is shallow-merged, every other field replaces.
type FieldUpdates struct {
	Name             *string        `json:"name,omitempty"`
	LocationID       *string        `json:"location_id,omitempty"`
	Alive            *bool          `json:"alive,omitempty"`
	FactionID        *string        `json:"faction_id,omitempty"`
	OwnerID          *string        `json:"owner_id,omitempty"`
	Unique           *bool          `json:"unique,omitempty"`
	ParentLocationID *string        `json:"parent_location_id,omitempty"`
	LeaderID         *string        `json:"leader_id,omitempty"`
	Members          []string       `json:"members,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// IsZero reports whether no field is set.
func (u FieldUpdates) IsZero() bool {
	return u.Name == nil && u.LocationID == nil && u.Alive == nil &&
		u.FactionID == nil && u.OwnerID == nil && u.Unique == nil &&
		u.ParentLocationID == nil && u.LeaderID == nil &&
		u.Members == nil && u.Metadata == nil
}

// EntityUpdate describes a change to one entity.
type EntityUpdate struct {
	EntityType EntityType   `json:"entity_type"`
	EntityID   string       `json:"entity_id"`
	Updates    FieldUpdates `json:"updates"`
}

// TimeUpdate overwrites the calendar and/or the anchor.
type TimeUpdate struct {
	Calendar string      `json:"calendar,omitempty"`
	Anchor   *TimeAnchor `json:"anchor,omitempty"`
}

// QuestUpdate sets a quest's status, creating the quest when unknown.
type QuestUpdate struct {
	QuestID  string         `json:"quest_id"`
	Status   QuestStatus    `json:"status"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// PlayerUpdates is the closed set of player-update actions. The add/remove
// sequences apply as append-if-absent and remove-all-matching.
type PlayerUpdates struct {
	Name            *string  `json:"name,omitempty"`
	LocationID      *string  `json:"location_id,omitempty"`
	InventoryAdd    []string `json:"inventory_add,omitempty"`
	InventoryRemove []string `json:"inventory_remove,omitempty"`
	PartyAdd        []string `json:"party_add,omitempty"`
	PartyRemove     []string `json:"party_remove,omitempty"`
}

// IsZero reports whether no action is set.
func (u PlayerUpdates) IsZero() bool {
	return u.Name == nil && u.LocationID == nil &&
		u.InventoryAdd == nil && u.InventoryRemove == nil &&
		u.PartyAdd == nil && u.PartyRemove == nil
}

// StatePatch is the declarative diff an event asserts against the state.
type StatePatch struct {
	EntityUpdates       map[string]EntityUpdate `json:"entity_updates,omitempty"`
	TimeUpdate          *TimeUpdate             `json:"time_update,omitempty"`
	QuestUpdates        []QuestUpdate           `json:"quest_updates,omitempty"`
	ConstraintAdditions []Constraint            `json:"constraint_additions,omitempty"`
	PlayerUpdates       *PlayerUpdates          `json:"player_updates,omitempty"`
}

// IsEmpty reports whether the patch carries no effect at all. An event with
// an empty patch is untraceable and rejected at construction.
func (p StatePatch) IsEmpty() bool {
	if len(p.EntityUpdates) > 0 {
		return false
	}
	if p.TimeUpdate != nil && (p.TimeUpdate.Calendar != "" || p.TimeUpdate.Anchor != nil) {
		return false
	}
	if len(p.QuestUpdates) > 0 {
		return false
	}
	if len(p.ConstraintAdditions) > 0 {
		return false
	}
	if p.PlayerUpdates != nil && !p.PlayerUpdates.IsZero() {
		return false
	}
	return true
}
