package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/storygate/internal/platform/errors"
	"github.com/louisbranch/storygate/internal/story/event"
	"github.com/louisbranch/storygate/internal/story/state"
)

// AppendEvent stores one event. An existing event_id is a programmer error
// (the extractor assigns unique ids) and surfaces as a collision.
func (s *Store) AppendEvent(ctx context.Context, storyID string, evt event.Event) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := appendEventTx(ctx, tx, storyID, evt); err != nil {
		return err
	}
	return tx.Commit()
}

func appendEventTx(ctx context.Context, tx *sql.Tx, storyID string, evt event.Event) error {
	if strings.TrimSpace(storyID) == "" {
		return apperrors.New(apperrors.CodeStoryIDEmpty, "story id is required")
	}
	if err := event.Validate(evt); err != nil {
		return err
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", evt.EventID, err)
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO events (event_id, story_id, turn, time_order, created_at, event_json)
VALUES (?, ?, ?, ?, ?, ?)`,
		evt.EventID, storyID, evt.Turn, evt.Time.Order, toMillis(evt.CreatedAt), string(payload))
	if err != nil {
		if isConstraintViolation(err) {
			return apperrors.Wrap(apperrors.CodeEventIDCollision,
				fmt.Sprintf("event id %s already exists", evt.EventID), err)
		}
		return fmt.Errorf("append event %s: %w", evt.EventID, err)
	}
	return nil
}

// CommitTurn atomically saves the state and appends the batch in order.
// Readers of the story observe either the whole turn or none of it.
func (s *Store) CommitTurn(ctx context.Context, storyID string, st *state.CanonicalState, events []event.Event) error {
	if strings.TrimSpace(storyID) == "" {
		return apperrors.New(apperrors.CodeStoryIDEmpty, "story id is required")
	}
	if st == nil {
		return fmt.Errorf("state is required")
	}

	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state %s: %w", storyID, err)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO states (story_id, state_json, updated_at) VALUES (?, ?, ?)
ON CONFLICT(story_id) DO UPDATE SET state_json = excluded.state_json, updated_at = excluded.updated_at`,
		storyID, string(payload), toMillis(st.Meta.UpdatedAt)); err != nil {
		return fmt.Errorf("save state %s: %w", storyID, err)
	}
	for _, evt := range events {
		if err := appendEventTx(ctx, tx, storyID, evt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListRecentEvents pages through a story's events, most recent narrative
// moment first.
func (s *Store) ListRecentEvents(ctx context.Context, storyID string, limit, offset int) ([]event.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT event_json FROM events WHERE story_id = ?
ORDER BY time_order DESC, turn DESC, created_at DESC
LIMIT ? OFFSET ?`, storyID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list events %s: %w", storyID, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetEvent returns the event with the given id, or (nil, nil).
func (s *Store) GetEvent(ctx context.Context, eventID string) (*event.Event, error) {
	var payload string
	err := s.sqlDB.QueryRowContext(ctx,
		"SELECT event_json FROM events WHERE event_id = ?", eventID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", eventID, err)
	}
	var evt event.Event
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		return nil, fmt.Errorf("decode event %s: %w", eventID, err)
	}
	return &evt, nil
}

// EventsByTurn returns the events committed for one turn in narrative order.
func (s *Store) EventsByTurn(ctx context.Context, storyID string, turn int) ([]event.Event, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT event_json FROM events WHERE story_id = ? AND turn = ?
ORDER BY time_order ASC, created_at ASC`, storyID, turn)
	if err != nil {
		return nil, fmt.Errorf("events by turn %s/%d: %w", storyID, turn, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventsByTimeRange returns events whose time.order lies within the bounds;
// nil bounds are open.
func (s *Store) EventsByTimeRange(ctx context.Context, storyID string, min, max *int) ([]event.Event, error) {
	query := "SELECT event_json FROM events WHERE story_id = ?"
	args := []any{storyID}
	if min != nil {
		query += " AND time_order >= ?"
		args = append(args, *min)
	}
	if max != nil {
		query += " AND time_order <= ?"
		args = append(args, *max)
	}
	query += " ORDER BY time_order ASC, turn ASC, created_at ASC"

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("events by time range %s: %w", storyID, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]event.Event, error) {
	var out []event.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		var evt event.Event
		if err := json.Unmarshal([]byte(payload), &evt); err != nil {
			return nil, fmt.Errorf("decode event row: %w", err)
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}
