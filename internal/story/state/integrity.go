package state

import (
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/louisbranch/storygate/internal/platform/errors"
)

// Validate enforces the referential-integrity invariants of a canonical
// state. It is called whenever a state is constructed or committed; the patch
// applier itself never re-checks.
func Validate(s *CanonicalState) error {
	var problems []string

	if s.Player.LocationID != "" {
		if _, ok := s.Entities.Locations[s.Player.LocationID]; !ok {
			problems = append(problems, fmt.Sprintf("player location %q is unknown", s.Player.LocationID))
		}
	}
	for _, id := range s.Player.Party {
		if _, ok := s.Entities.Characters[id]; !ok {
			problems = append(problems, fmt.Sprintf("party member %q is not a character", id))
		}
	}
	for _, id := range s.Player.Inventory {
		if _, ok := s.Entities.Items[id]; !ok {
			problems = append(problems, fmt.Sprintf("inventory entry %q is not an item", id))
		}
	}

	for _, id := range sortedKeys(s.Entities.Characters) {
		c := s.Entities.Characters[id]
		if c.LocationID != "" {
			if _, ok := s.Entities.Locations[c.LocationID]; !ok {
				problems = append(problems, fmt.Sprintf("character %q location %q is unknown", id, c.LocationID))
			}
		}
		if c.FactionID != "" {
			if _, ok := s.Entities.Factions[c.FactionID]; !ok {
				problems = append(problems, fmt.Sprintf("character %q faction %q is unknown", id, c.FactionID))
			}
		}
	}

	for _, id := range sortedKeys(s.Entities.Items) {
		it := s.Entities.Items[id]
		if it.OwnerID == "" && it.LocationID == "" {
			problems = append(problems, fmt.Sprintf("item %q has neither owner nor location", id))
		}
		if it.Unique && it.OwnerID == "" {
			problems = append(problems, fmt.Sprintf("unique item %q has no owner", id))
		}
		if it.OwnerID != "" {
			_, isChar := s.Entities.Characters[it.OwnerID]
			_, isLoc := s.Entities.Locations[it.OwnerID]
			if !isChar && !isLoc {
				problems = append(problems, fmt.Sprintf("item %q owner %q is neither character nor location", id, it.OwnerID))
			}
		}
		if it.LocationID != "" {
			if _, ok := s.Entities.Locations[it.LocationID]; !ok {
				problems = append(problems, fmt.Sprintf("item %q location %q is unknown", id, it.LocationID))
			}
		}
	}

	for _, id := range sortedKeys(s.Entities.Locations) {
		loc := s.Entities.Locations[id]
		if loc.ParentLocationID != "" {
			if _, ok := s.Entities.Locations[loc.ParentLocationID]; !ok {
				problems = append(problems, fmt.Sprintf("location %q parent %q is unknown", id, loc.ParentLocationID))
			}
		}
	}

	for _, id := range sortedKeys(s.Entities.Factions) {
		f := s.Entities.Factions[id]
		if f.LeaderID != "" {
			if _, ok := s.Entities.Characters[f.LeaderID]; !ok {
				problems = append(problems, fmt.Sprintf("faction %q leader %q is not a character", id, f.LeaderID))
			}
		}
		for _, member := range f.Members {
			if _, ok := s.Entities.Characters[member]; !ok {
				problems = append(problems, fmt.Sprintf("faction %q member %q is not a character", id, member))
			}
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return apperrors.WithMetadata(
		apperrors.CodeStateInvalid,
		"canonical state failed referential integrity: "+strings.Join(problems, "; "),
		map[string]string{"story_id": s.Meta.StoryID},
	)
}

// EnsureLocations materialises every location id referenced by the player, a
// character, an item's location, or an item's owner that is clearly not a
// character, creating it with name = id and empty metadata. This is the only
// auto-creation the model permits; missing characters, items, and factions
// are errors.
func EnsureLocations(s *CanonicalState) {
	if s.Entities.Locations == nil {
		s.Entities.Locations = make(map[string]*Location)
	}

	required := make(map[string]struct{})
	if s.Player.LocationID != "" {
		required[s.Player.LocationID] = struct{}{}
	}
	for _, c := range s.Entities.Characters {
		if c.LocationID != "" {
			required[c.LocationID] = struct{}{}
		}
	}
	for _, it := range s.Entities.Items {
		if it.LocationID != "" {
			required[it.LocationID] = struct{}{}
		}
		if it.OwnerID != "" {
			if _, isChar := s.Entities.Characters[it.OwnerID]; !isChar {
				required[it.OwnerID] = struct{}{}
			}
		}
	}

	for id := range required {
		if _, ok := s.Entities.Locations[id]; !ok {
			s.Entities.Locations[id] = &Location{
				ID:       id,
				Name:     id,
				Metadata: map[string]any{},
			}
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
