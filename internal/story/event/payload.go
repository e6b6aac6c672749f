package event

import (
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/storygate/internal/platform/errors"
)

// requiredPayloadKeys maps each event type to the payload keys it must carry.
// Types absent from the table have a free-form payload.
var requiredPayloadKeys = map[Type][]string{
	TypeOwnershipChange: {"item_id", "old_owner_id", "new_owner_id"},
	TypeDeath:           {"character_id"},
	TypeTravel:          {"character_id", "from_location_id", "to_location_id"},
	TypeFactionChange:   {"character_id", "old_faction_id", "new_faction_id"},
	TypeQuestStart:      {"quest_id"},
	TypeQuestComplete:   {"quest_id"},
	TypeQuestFail:       {"quest_id"},
	TypeItemCreate:      {"item_id"},
	TypeItemDestroy:     {"item_id"},
	TypeTimeAdvance:     {"time_anchor"},
}

// RequiredPayloadKeys returns the payload keys mandated for the type, or nil
// for free-form types.
func RequiredPayloadKeys(t Type) []string {
	return requiredPayloadKeys[t]
}

// PayloadString reads a payload value as a string, tolerating absence.
func PayloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func validatePayload(evt Event) error {
	required := requiredPayloadKeys[evt.Type]
	if len(required) == 0 {
		return nil
	}
	var missing []string
	for _, key := range required {
		if _, ok := evt.Payload[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return apperrors.New(apperrors.CodeEventInvalid, fmt.Sprintf(
			"event %s payload for %s is missing %s",
			evt.EventID, evt.Type, strings.Join(missing, ", ")))
	}
	return nil
}
