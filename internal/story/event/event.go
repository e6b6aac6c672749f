// Package event models the unit of state change in a story.
//
// An event records a single state-changing occurrence together with the
// declarative patch it asserts against the canonical state. Events are
// created by the extractor, validated by the gate, stored once in the
// append-only log, and never mutated afterwards.
package event

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/storygate/internal/platform/errors"
	"github.com/louisbranch/storygate/internal/platform/id"
	"github.com/louisbranch/storygate/internal/story/state"
)

// Type identifies the kind of a story event.
type Type string

const (
	// TypeOwnershipChange records an item changing hands.
	TypeOwnershipChange Type = "OWNERSHIP_CHANGE"
	// TypeDeath records a character dying.
	TypeDeath Type = "DEATH"
	// TypeRevival records a character returning to life.
	TypeRevival Type = "REVIVAL"
	// TypeTravel records a character moving between locations.
	TypeTravel Type = "TRAVEL"
	// TypeFactionChange records a character switching factions.
	TypeFactionChange Type = "FACTION_CHANGE"
	// TypeQuestStart records a quest beginning.
	TypeQuestStart Type = "QUEST_START"
	// TypeQuestComplete records a quest finishing successfully.
	TypeQuestComplete Type = "QUEST_COMPLETE"
	// TypeQuestFail records a quest finishing unsuccessfully.
	TypeQuestFail Type = "QUEST_FAIL"
	// TypeItemCreate records an item entering the world.
	TypeItemCreate Type = "ITEM_CREATE"
	// TypeItemDestroy records an item leaving the world.
	TypeItemDestroy Type = "ITEM_DESTROY"
	// TypeRelationshipChange records a relationship shift between characters.
	TypeRelationshipChange Type = "RELATIONSHIP_CHANGE"
	// TypeTimeAdvance records the narrative clock moving forward.
	TypeTimeAdvance Type = "TIME_ADVANCE"
	// TypeOther records any occurrence outside the closed set above.
	TypeOther Type = "OTHER"
)

// Valid reports whether t is a member of the closed event-type set.
func (t Type) Valid() bool {
	switch t {
	case TypeOwnershipChange, TypeDeath, TypeRevival, TypeTravel,
		TypeFactionChange, TypeQuestStart, TypeQuestComplete, TypeQuestFail,
		TypeItemCreate, TypeItemDestroy, TypeRelationshipChange,
		TypeTimeAdvance, TypeOther:
		return true
	}
	return false
}

// IDPrefix is the mandatory prefix of every event id.
const IDPrefix = "evt_"

// Time places the event on the narrative timeline.
type Time struct {
	Label string `json:"label"`
	Order int    `json:"order"`
}

// Where places the event in the world.
type Where struct {
	LocationID string `json:"location_id"`
}

// Participants lists who acted and who saw it happen.
type Participants struct {
	Actors    []string `json:"actors"`
	Witnesses []string `json:"witnesses,omitempty"`
}

// Evidence ties the event back to the draft text it was extracted from.
type Evidence struct {
	Source   string `json:"source"`
	TextSpan string `json:"text_span,omitempty"`
}

// Event is a structured record of a single state-changing occurrence.
type Event struct {
	EventID    string           `json:"event_id"`
	Turn       int              `json:"turn"`
	Time       Time             `json:"time"`
	Where      Where            `json:"where"`
	Who        Participants     `json:"who"`
	Type       Type             `json:"type"`
	Summary    string           `json:"summary"`
	Payload    map[string]any   `json:"payload"`
	StatePatch state.StatePatch `json:"state_patch"`
	Evidence   Evidence         `json:"evidence"`
	CreatedAt  time.Time        `json:"created_at"`
}

// NewID builds an event id in the mandated evt_{turn}_{unix}_{random8hex}
// format. The extractor, not the LLM, assigns ids.
func NewID(turn int, now time.Time) (string, error) {
	suffix, err := id.RandomHex8()
	if err != nil {
		return "", fmt.Errorf("event id suffix: %w", err)
	}
	return fmt.Sprintf("%s%d_%d_%s", IDPrefix, turn, now.Unix(), suffix), nil
}

// Validate enforces the structural invariants every event must satisfy
// before it can enter the gate or the log.
func Validate(evt Event) error {
	if !strings.HasPrefix(evt.EventID, IDPrefix) {
		return apperrors.New(apperrors.CodeEventInvalid,
			fmt.Sprintf("event id %q must begin with %q", evt.EventID, IDPrefix))
	}
	if evt.Turn < 0 {
		return apperrors.New(apperrors.CodeEventInvalid,
			fmt.Sprintf("event %s turn %d is negative", evt.EventID, evt.Turn))
	}
	if evt.Time.Order < 0 {
		return apperrors.New(apperrors.CodeEventInvalid,
			fmt.Sprintf("event %s time order %d is negative", evt.EventID, evt.Time.Order))
	}
	if !evt.Type.Valid() {
		return apperrors.New(apperrors.CodeEventInvalid,
			fmt.Sprintf("event %s type %q is not recognised", evt.EventID, evt.Type))
	}
	if strings.TrimSpace(evt.Summary) == "" {
		return apperrors.New(apperrors.CodeEventInvalid,
			fmt.Sprintf("event %s summary is empty", evt.EventID))
	}
	if err := validatePayload(evt); err != nil {
		return err
	}
	if evt.StatePatch.IsEmpty() {
		return apperrors.New(apperrors.CodeEventPatchEmpty,
			fmt.Sprintf("event %s carries an empty state patch", evt.EventID))
	}
	return nil
}
