// Package storage defines the persistence contracts the engine core depends
// on: a state store for the canonical snapshot and an append-only event log.
package storage

import (
	"context"

	"github.com/louisbranch/storygate/internal/story/event"
	"github.com/louisbranch/storygate/internal/story/state"
)

// StateStore holds the durable canonical state, one document per story.
type StateStore interface {
	// LoadState returns the stored state, or (nil, nil) when the story has
	// none yet. Implementations must synthesise locations missing from older
	// persisted states before returning.
	LoadState(ctx context.Context, storyID string) (*state.CanonicalState, error)
	// SaveState overwrites the stored state atomically.
	SaveState(ctx context.Context, storyID string, s *state.CanonicalState) error
}

// EventLog is the append-only record of committed events.
type EventLog interface {
	// AppendEvent stores one event; an existing event_id is an error.
	AppendEvent(ctx context.Context, storyID string, evt event.Event) error
	// ListRecentEvents returns events ordered by
	// (time.order desc, turn desc, created_at desc).
	ListRecentEvents(ctx context.Context, storyID string, limit, offset int) ([]event.Event, error)
	// GetEvent returns the event with the given id, or (nil, nil).
	GetEvent(ctx context.Context, eventID string) (*event.Event, error)
	// EventsByTurn returns every event committed for the given turn.
	EventsByTurn(ctx context.Context, storyID string, turn int) ([]event.Event, error)
	// EventsByTimeRange returns events whose time.order falls within the
	// bounds; nil bounds are open.
	EventsByTimeRange(ctx context.Context, storyID string, min, max *int) ([]event.Event, error)
}

// Store is the combined persistence surface. CommitTurn is the only way a
// processed draft reaches disk: the state save and the event appends succeed
// or fail together.
type Store interface {
	StateStore
	EventLog
	// CommitTurn atomically saves the state and appends the batch in order.
	CommitTurn(ctx context.Context, storyID string, s *state.CanonicalState, events []event.Event) error
	// Close releases the underlying resources.
	Close() error
}
