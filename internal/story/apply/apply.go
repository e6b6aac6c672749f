// Package apply folds event patches into a canonical state.
//
// The applier is deterministic and pure: the input state is deep-copied
// before any mutation, and the same inputs always produce the same output.
// It never re-checks referential integrity; that belongs to whoever persists
// the result.
package apply

import (
	"sort"
	"time"

	"github.com/louisbranch/storygate/internal/story/event"
	"github.com/louisbranch/storygate/internal/story/state"
)

// Apply folds one patch into the state and returns the new state. Meta is
// stamped with the supplied event id, turn, and clock; the location
// auto-materialiser runs before returning.
func Apply(s *state.CanonicalState, patch state.StatePatch, eventID string, turn int, now time.Time) *state.CanonicalState {
	next := s.Clone()

	for _, entityID := range sortedUpdateKeys(patch.EntityUpdates) {
		applyEntityUpdate(next, entityID, patch.EntityUpdates[entityID])
	}
	if patch.PlayerUpdates != nil {
		applyPlayerUpdates(next, *patch.PlayerUpdates)
	}
	if patch.TimeUpdate != nil {
		if patch.TimeUpdate.Calendar != "" {
			next.Time.Calendar = patch.TimeUpdate.Calendar
		}
		if patch.TimeUpdate.Anchor != nil {
			next.Time.Anchor = *patch.TimeUpdate.Anchor
		}
	}
	for _, qu := range patch.QuestUpdates {
		applyQuestUpdate(next, qu)
	}
	for _, c := range patch.ConstraintAdditions {
		next.Constraints.Constraints = append(next.Constraints.Constraints, c)
		if c.Type == state.ConstraintUniqueItem && c.EntityID != "" {
			if !contains(next.Constraints.UniqueItemIDs, c.EntityID) {
				next.Constraints.UniqueItemIDs = append(next.Constraints.UniqueItemIDs, c.EntityID)
			}
		}
	}

	next.Meta.Turn = turn
	next.Meta.LastEventID = eventID
	next.Meta.UpdatedAt = now.UTC()

	state.EnsureLocations(next)
	return next
}

// ApplyMany folds a sequence of events in order. The resulting turn is the
// maximum of the state's turn and every event's turn; the last event id wins.
// An empty batch returns the state untouched.
func ApplyMany(s *state.CanonicalState, events []event.Event, now time.Time) *state.CanonicalState {
	if len(events) == 0 {
		return s
	}

	current := s
	maxTurn := s.Meta.Turn
	lastEventID := s.Meta.LastEventID
	for _, evt := range events {
		if evt.Turn > maxTurn {
			maxTurn = evt.Turn
		}
		lastEventID = evt.EventID
		current = Apply(current, evt.StatePatch, evt.EventID, evt.Turn, now)
	}

	current.Meta.Turn = maxTurn
	current.Meta.LastEventID = lastEventID
	current.Meta.UpdatedAt = now.UTC()
	state.EnsureLocations(current)
	return current
}

func applyEntityUpdate(s *state.CanonicalState, entityID string, update state.EntityUpdate) {
	switch update.EntityType {
	case state.EntityCharacter:
		c := s.Entities.Characters[entityID]
		if c == nil {
			// Characters are never auto-created; a patch naming an unknown
			// character is a no-op here and the gate's concern upstream.
			return
		}
		u := update.Updates
		if u.Name != nil {
			c.Name = *u.Name
		}
		if u.LocationID != nil {
			c.LocationID = *u.LocationID
		}
		if u.Alive != nil {
			c.Alive = *u.Alive
		}
		if u.FactionID != nil {
			c.FactionID = *u.FactionID
		}
		c.Metadata = mergeMetadata(c.Metadata, u.Metadata)

	case state.EntityItem:
		it := s.Entities.Items[entityID]
		if it == nil {
			u := update.Updates
			if u.Name == nil {
				return
			}
			it = &state.Item{ID: entityID, Name: *u.Name, Metadata: map[string]any{}}
			if u.OwnerID != nil {
				it.OwnerID = *u.OwnerID
			}
			if u.LocationID != nil {
				it.LocationID = *u.LocationID
			}
			if u.Unique != nil {
				it.Unique = *u.Unique
			}
			it.Metadata = mergeMetadata(it.Metadata, u.Metadata)
			s.Entities.Items[entityID] = it
			return
		}
		u := update.Updates
		if u.Name != nil {
			it.Name = *u.Name
		}
		if u.OwnerID != nil {
			it.OwnerID = *u.OwnerID
		}
		if u.LocationID != nil {
			it.LocationID = *u.LocationID
		}
		if u.Unique != nil {
			it.Unique = *u.Unique
		}
		it.Metadata = mergeMetadata(it.Metadata, u.Metadata)

	case state.EntityLocation:
		loc := s.Entities.Locations[entityID]
		if loc == nil {
			u := update.Updates
			if u.Name == nil {
				return
			}
			loc = &state.Location{ID: entityID, Name: *u.Name, Metadata: map[string]any{}}
			if u.ParentLocationID != nil {
				loc.ParentLocationID = *u.ParentLocationID
			}
			loc.Metadata = mergeMetadata(loc.Metadata, u.Metadata)
			s.Entities.Locations[entityID] = loc
			return
		}
		u := update.Updates
		if u.Name != nil {
			loc.Name = *u.Name
		}
		if u.ParentLocationID != nil {
			loc.ParentLocationID = *u.ParentLocationID
		}
		loc.Metadata = mergeMetadata(loc.Metadata, u.Metadata)

	case state.EntityFaction:
		f := s.Entities.Factions[entityID]
		if f == nil {
			u := update.Updates
			if u.Name == nil {
				return
			}
			f = &state.Faction{ID: entityID, Name: *u.Name, Metadata: map[string]any{}}
			if u.LeaderID != nil {
				f.LeaderID = *u.LeaderID
			}
			if u.Members != nil {
				f.Members = append([]string(nil), u.Members...)
			}
			f.Metadata = mergeMetadata(f.Metadata, u.Metadata)
			s.Entities.Factions[entityID] = f
			return
		}
		u := update.Updates
		if u.Name != nil {
			f.Name = *u.Name
		}
		if u.LeaderID != nil {
			f.LeaderID = *u.LeaderID
		}
		if u.Members != nil {
			f.Members = append([]string(nil), u.Members...)
		}
		f.Metadata = mergeMetadata(f.Metadata, u.Metadata)
	}
}

func applyPlayerUpdates(s *state.CanonicalState, updates state.PlayerUpdates) {
	if updates.Name != nil {
		s.Player.Name = *updates.Name
	}
	if updates.LocationID != nil {
		s.Player.LocationID = *updates.LocationID
	}
	for _, itemID := range updates.InventoryAdd {
		if !contains(s.Player.Inventory, itemID) {
			s.Player.Inventory = append(s.Player.Inventory, itemID)
		}
	}
	if len(updates.InventoryRemove) > 0 {
		s.Player.Inventory = removeAll(s.Player.Inventory, updates.InventoryRemove)
	}
	for _, charID := range updates.PartyAdd {
		if !contains(s.Player.Party, charID) {
			s.Player.Party = append(s.Player.Party, charID)
		}
	}
	if len(updates.PartyRemove) > 0 {
		s.Player.Party = removeAll(s.Player.Party, updates.PartyRemove)
	}
}

func applyQuestUpdate(s *state.CanonicalState, update state.QuestUpdate) {
	quest := s.FindQuest(update.QuestID)
	if quest != nil {
		quest.Status = update.Status
		quest.Metadata = mergeMetadata(quest.Metadata, update.Metadata)
	} else {
		title := update.QuestID
		if t, ok := update.Metadata["title"].(string); ok && t != "" {
			title = t
		}
		quest = &state.Quest{
			ID:       update.QuestID,
			Title:    title,
			Status:   update.Status,
			Metadata: mergeMetadata(map[string]any{}, update.Metadata),
		}
		switch update.Status {
		case state.QuestCompleted, state.QuestFailed:
			s.Quest.Completed = append(s.Quest.Completed, quest)
		default:
			s.Quest.Active = append(s.Quest.Active, quest)
		}
	}

	// A quest that is now finished must leave the active list; the two lists
	// never share an id.
	if update.Status == state.QuestCompleted || update.Status == state.QuestFailed {
		var active []*state.Quest
		var moved *state.Quest
		for _, q := range s.Quest.Active {
			if q.ID == update.QuestID {
				moved = q
				continue
			}
			active = append(active, q)
		}
		s.Quest.Active = active
		if moved != nil && !questListed(s.Quest.Completed, update.QuestID) {
			moved.Status = update.Status
			s.Quest.Completed = append(s.Quest.Completed, moved)
		}
	}
}

func questListed(quests []*state.Quest, id string) bool {
	for _, q := range quests {
		if q.ID == id {
			return true
		}
	}
	return false
}

// mergeMetadata shallow-merges incoming keys over existing metadata.
func mergeMetadata(existing, incoming map[string]any) map[string]any {
	if incoming == nil {
		return existing
	}
	if existing == nil {
		existing = make(map[string]any, len(incoming))
	}
	for k, v := range incoming {
		existing[k] = v
	}
	return existing
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func removeAll(values []string, targets []string) []string {
	drop := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		drop[t] = struct{}{}
	}
	out := values[:0]
	for _, v := range values {
		if _, gone := drop[v]; !gone {
			out = append(out, v)
		}
	}
	return out
}

func sortedUpdateKeys(m map[string]state.EntityUpdate) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Deterministic application order regardless of map iteration.
	sort.Strings(keys)
	return keys
}
