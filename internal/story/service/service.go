// Package service orchestrates one draft-processing request: load the
// canonical state, extract events, gate the batch, and commit or reject.
package service

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/storygate/internal/platform/errors"
	"github.com/louisbranch/storygate/internal/storage"
	"github.com/louisbranch/storygate/internal/story/apply"
	"github.com/louisbranch/storygate/internal/story/event"
	"github.com/louisbranch/storygate/internal/story/extract"
	"github.com/louisbranch/storygate/internal/story/gate"
	"github.com/louisbranch/storygate/internal/story/state"
)

// recentEventsLimit bounds the event list returned with a committed turn.
const recentEventsLimit = 10

// Extractor is the service's view of the event extractor.
type Extractor interface {
	Extract(ctx context.Context, current *state.CanonicalState, userMessage, draft string, turn int) (extract.Result, error)
}

// Outcome is the classified result of one processed draft.
type Outcome struct {
	FinalAction         gate.Action           `json:"final_action"`
	State               *state.CanonicalState `json:"state,omitempty"`
	RecentEvents        []event.Event         `json:"recent_events,omitempty"`
	RewriteInstructions string                `json:"rewrite_instructions,omitempty"`
	Questions           []string              `json:"questions,omitempty"`
	Violations          []gate.RuleViolation  `json:"violations,omitempty"`
}

// Service owns the in-memory canonical state for the duration of a request.
type Service struct {
	store     storage.Store
	extractor Extractor
	locks     *storyLocks
	now       func() time.Time
	tracer    trace.Tracer
}

// New wires the service over its collaborators.
func New(store storage.Store, extractor Extractor) *Service {
	return &Service{
		store:     store,
		extractor: extractor,
		locks:     newStoryLocks(),
		now:       time.Now,
		tracer:    otel.Tracer("storygate/service"),
	}
}

// GetState returns the story's canonical state, creating and persisting the
// initial state on first access.
func (s *Service) GetState(ctx context.Context, storyID string) (*state.CanonicalState, error) {
	if strings.TrimSpace(storyID) == "" {
		return nil, apperrors.New(apperrors.CodeStoryIDEmpty, "story id is required")
	}
	release := s.locks.acquire(storyID)
	defer release()
	return s.loadOrInit(ctx, storyID)
}

// RecentEvents exposes the event log's recency view.
func (s *Service) RecentEvents(ctx context.Context, storyID string, limit, offset int) ([]event.Event, error) {
	return s.store.ListRecentEvents(ctx, storyID, limit, offset)
}

// ProcessDraft runs the full pipeline for one draft turn. Requests for the
// same story are serialised; nothing is persisted unless the gate passes or
// auto-fixes the batch.
func (s *Service) ProcessDraft(ctx context.Context, storyID, userMessage, draft string) (Outcome, error) {
	if strings.TrimSpace(storyID) == "" {
		return Outcome{}, apperrors.New(apperrors.CodeStoryIDEmpty, "story id is required")
	}

	ctx, span := s.tracer.Start(ctx, "story.process_draft",
		trace.WithAttributes(attribute.String("story.id", storyID)))
	defer span.End()

	release := s.locks.acquire(storyID)
	defer release()

	current, err := s.loadOrInit(ctx, storyID)
	if err != nil {
		return Outcome{}, err
	}
	turn := current.Meta.Turn + 1

	extraction, err := s.extractor.Extract(ctx, current, userMessage, draft, turn)
	if err != nil {
		return Outcome{}, err
	}
	if extraction.RequiresUserInput {
		span.SetAttributes(attribute.String("story.action", string(gate.ActionAskUser)))
		return Outcome{
			FinalAction: gate.ActionAskUser,
			Questions:   extraction.OpenQuestions,
		}, nil
	}

	result := gate.Validate(current, extraction.Events)
	span.SetAttributes(attribute.String("story.action", string(result.Action)))

	switch result.Action {
	case gate.ActionPass, gate.ActionAutoFix:
		next := apply.ApplyMany(current, extraction.Events, s.now())
		if result.Action == gate.ActionAutoFix && result.Fixes != nil {
			next = apply.Apply(next, *result.Fixes, next.Meta.LastEventID, next.Meta.Turn, s.now())
		}
		if err := state.Validate(next); err != nil {
			return Outcome{}, err
		}
		if err := s.store.CommitTurn(ctx, storyID, next, extraction.Events); err != nil {
			return Outcome{}, err
		}
		recent, err := s.store.ListRecentEvents(ctx, storyID, recentEventsLimit, 0)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{
			FinalAction:  result.Action,
			State:        next,
			RecentEvents: recent,
			Violations:   result.Violations,
		}, nil

	case gate.ActionAskUser:
		return Outcome{
			FinalAction: gate.ActionAskUser,
			Questions:   result.Questions,
			Violations:  result.Violations,
		}, nil

	default:
		return Outcome{
			FinalAction:         gate.ActionRewrite,
			RewriteInstructions: strings.Join(result.Reasons, "\n"),
			Violations:          result.Violations,
		}, nil
	}
}

// ValidateDraftText runs the draft-fidelity check (R10) without touching
// events or state.
func (s *Service) ValidateDraftText(ctx context.Context, storyID, draft string) (gate.ValidationResult, error) {
	if strings.TrimSpace(storyID) == "" {
		return gate.ValidationResult{}, apperrors.New(apperrors.CodeStoryIDEmpty, "story id is required")
	}
	release := s.locks.acquire(storyID)
	defer release()

	current, err := s.loadOrInit(ctx, storyID)
	if err != nil {
		return gate.ValidationResult{}, err
	}
	return gate.ValidateDraft(current, draft), nil
}

// loadOrInit fetches the stored state or seeds and persists the initial one.
func (s *Service) loadOrInit(ctx context.Context, storyID string) (*state.CanonicalState, error) {
	current, err := s.store.LoadState(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if current != nil {
		return current, nil
	}
	current = state.NewInitial(storyID, s.now())
	if err := s.store.SaveState(ctx, storyID, current); err != nil {
		return nil, err
	}
	return current, nil
}
