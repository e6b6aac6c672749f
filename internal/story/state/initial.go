package state

import "time"

// Defaults for a freshly created story.
const (
	// DefaultPlayerID is the protagonist id seeded into every new story.
	DefaultPlayerID = "player_001"
	// DefaultPlayerName is the protagonist's display name.
	DefaultPlayerName = "玩家"
	// DefaultLocationID is the seed location id.
	DefaultLocationID = "unknown"
	// DefaultLocationName is the seed location's display name.
	DefaultLocationName = "未知地点"
	// DefaultCalendar is the label used before any time advance.
	DefaultCalendar = "初始时间"
	// CanonVersion is the current canonical-state schema version.
	CanonVersion = "1"
)

// NewInitial builds the canonical state a story starts from: turn 0, the
// player at the seed location, and everything else empty.
func NewInitial(storyID string, now time.Time) *CanonicalState {
	return &CanonicalState{
		Meta: Meta{
			StoryID:      storyID,
			CanonVersion: CanonVersion,
			Turn:         0,
			UpdatedAt:    now.UTC(),
		},
		Time: TimeState{
			Calendar: DefaultCalendar,
			Anchor:   TimeAnchor{Label: DefaultCalendar, Order: 0},
		},
		Player: Player{
			ID:         DefaultPlayerID,
			Name:       DefaultPlayerName,
			LocationID: DefaultLocationID,
			Party:      []string{},
			Inventory:  []string{},
		},
		Entities: Entities{
			Characters: map[string]*Character{},
			Items:      map[string]*Item{},
			Locations: map[string]*Location{
				DefaultLocationID: {
					ID:       DefaultLocationID,
					Name:     DefaultLocationName,
					Metadata: map[string]any{},
				},
			},
			Factions: map[string]*Faction{},
		},
		Quest: QuestLog{
			Active:    []*Quest{},
			Completed: []*Quest{},
		},
		Constraints: Constraints{
			UniqueItemIDs:   []string{},
			ImmutableEvents: []string{},
			Constraints:     []Constraint{},
		},
	}
}
