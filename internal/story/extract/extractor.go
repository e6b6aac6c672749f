// Package extract obtains structured events from an LLM for one draft turn.
//
// The extractor owns the prompt contract, the two structured-output call
// modes with their retries, event-id assignment, and the default-event
// fallback. It never fails a request on LLM trouble: the worst outcome is a
// single "conversation continues" event.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/louisbranch/storygate/internal/llm"
	apperrors "github.com/louisbranch/storygate/internal/platform/errors"
	"github.com/louisbranch/storygate/internal/story/event"
	"github.com/louisbranch/storygate/internal/story/state"
)

// evidenceSpanLimit caps the draft excerpt recorded as event evidence.
const evidenceSpanLimit = 200

// Result is the extractor's answer for one draft turn.
type Result struct {
	Events            []event.Event `json:"events"`
	OpenQuestions     []string      `json:"open_questions"`
	RequiresUserInput bool          `json:"requires_user_input"`
}

// Extractor turns a draft continuation into structured events via an LLM.
type Extractor struct {
	client llm.Client
	now    func() time.Time
}

// New builds an extractor over the given client. The client is required;
// construction fails without one so that missing credentials surface at
// startup rather than mid-request.
func New(client llm.Client) (*Extractor, error) {
	if client == nil {
		return nil, apperrors.New(apperrors.CodeExtractorNotConfigured, "llm client is required")
	}
	return &Extractor{client: client, now: time.Now}, nil
}

// wireEvent is the shape the LLM returns: an event without id and creation
// time, plus a confidence score.
type wireEvent struct {
	Turn       int                `json:"turn"`
	Time       event.Time         `json:"time"`
	Where      event.Where        `json:"where"`
	Who        event.Participants `json:"who"`
	Type       event.Type         `json:"type"`
	Summary    string             `json:"summary"`
	Payload    map[string]any     `json:"payload"`
	StatePatch state.StatePatch   `json:"state_patch"`
	Confidence float64            `json:"confidence"`
}

type wireResult struct {
	Events        []wireEvent `json:"events"`
	OpenQuestions []string    `json:"open_questions"`
}

// Extract runs the extraction protocol for one turn. It guarantees that
// either open questions are returned (and RequiresUserInput is set), or at
// least one structurally valid event is — synthesising the default event
// when the model yields nothing usable.
func (x *Extractor) Extract(ctx context.Context, current *state.CanonicalState, userMessage, draft string, turn int) (Result, error) {
	messages := []llm.Message{
		{Role: "system", Content: buildSystemPrompt(current, turn)},
		{Role: "user", Content: buildUserPrompt(userMessage, draft)},
	}

	raw, err := x.callWithRetry(ctx, messages)
	if err != nil {
		if ctx.Err() != nil {
			// Cancellation aborts the request; no default event is synthesised.
			return Result{}, ctx.Err()
		}
		log.Printf("extractor: all call modes failed, falling back to default event: %v", err)
		raw = nil
	}

	var wire wireResult
	if raw != nil {
		if err := json.Unmarshal(raw, &wire); err != nil {
			log.Printf("extractor: discarding undecodable result: %v", err)
			wire = wireResult{}
		}
	}

	result := Result{OpenQuestions: wire.OpenQuestions}
	if len(wire.OpenQuestions) > 0 {
		result.RequiresUserInput = true
	}

	for _, we := range wire.Events {
		evt, err := x.toEvent(we, turn, draft)
		if err != nil {
			log.Printf("extractor: dropping malformed event: %v", err)
			continue
		}
		result.Events = append(result.Events, evt)
	}

	// The default event stands in only when nothing real was extracted and
	// no clarification is pending; it never rides alongside real events.
	if len(result.Events) == 0 && !result.RequiresUserInput {
		evt, err := x.defaultEvent(current, turn, draft)
		if err != nil {
			return Result{}, err
		}
		result.Events = []event.Event{evt}
	}
	return result, nil
}

// callWithRetry works through the call modes in order of preference: a
// forced tool call, then a JSON-object response. Each mode is retried once
// with a stricter reminder appended.
func (x *Extractor) callWithRetry(ctx context.Context, messages []llm.Message) (json.RawMessage, error) {
	strict := append(append([]llm.Message(nil), messages...), llm.Message{
		Role:    "system",
		Content: "注意：上次输出解析失败。请严格按照 JSON Schema 输出，不要包含任何额外文字。",
	})

	tool := llm.ToolSchema{
		Name:        "extract_events",
		Description: "提交从对话草稿中提取的结构化事件与待澄清问题",
		Parameters:  wrapperSchema(),
	}
	raw, toolErr := x.client.CallWithTool(ctx, messages, tool)
	if toolErr == nil {
		return raw, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	raw, err := x.client.CallWithTool(ctx, strict, tool)
	if err == nil {
		return raw, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	raw, err = x.client.CallWithJSON(ctx, messages, wrapperSchema())
	if err == nil {
		return raw, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	raw, err = x.client.CallWithJSON(ctx, strict, wrapperSchema())
	if err == nil {
		return raw, nil
	}
	return nil, fmt.Errorf("tool mode: %v; json mode: %w", toolErr, err)
}

// toEvent converts a wire event into a full Event: the extractor assigns the
// id and stamps the evidence.
func (x *Extractor) toEvent(we wireEvent, turn int, draft string) (event.Event, error) {
	now := x.now()
	eventID, err := event.NewID(turn, now)
	if err != nil {
		return event.Event{}, err
	}
	evt := event.Event{
		EventID:    eventID,
		Turn:       we.Turn,
		Time:       we.Time,
		Where:      we.Where,
		Who:        we.Who,
		Type:       we.Type,
		Summary:    we.Summary,
		Payload:    we.Payload,
		StatePatch: we.StatePatch,
		Evidence: event.Evidence{
			Source:   fmt.Sprintf("draft_turn_%d", turn),
			TextSpan: truncateRunes(draft, evidenceSpanLimit),
		},
		CreatedAt: now.UTC(),
	}
	if err := event.Validate(evt); err != nil {
		return event.Event{}, err
	}
	return evt, nil
}

// defaultEvent is the "conversation continues" fallback. Its patch is a
// character update addressed to the player id that sets last_turn metadata,
// so the patch is non-empty and the traceability invariant holds. The
// applier ignores updates for ids that are not in the characters table, so
// unless the player is also registered as a character, no world state changes.
func (x *Extractor) defaultEvent(current *state.CanonicalState, turn int, draft string) (event.Event, error) {
	now := x.now()
	eventID, err := event.NewID(turn, now)
	if err != nil {
		return event.Event{}, err
	}
	return event.Event{
		EventID: eventID,
		Turn:    turn,
		Time: event.Time{
			Label: current.Time.Calendar,
			Order: current.Time.Anchor.Order,
		},
		Where:   event.Where{LocationID: current.Player.LocationID},
		Who:     event.Participants{Actors: []string{current.Player.ID}},
		Type:    event.TypeOther,
		Summary: "对话继续",
		Payload: map[string]any{},
		StatePatch: state.StatePatch{
			EntityUpdates: map[string]state.EntityUpdate{
				current.Player.ID: {
					EntityType: state.EntityCharacter,
					EntityID:   current.Player.ID,
					Updates: state.FieldUpdates{
						Metadata: map[string]any{"last_turn": turn},
					},
				},
			},
		},
		Evidence: event.Evidence{
			Source:   fmt.Sprintf("draft_turn_%d", turn),
			TextSpan: truncateRunes(draft, evidenceSpanLimit),
		},
		CreatedAt: now.UTC(),
	}, nil
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
