package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/storygate/internal/platform/errors"
	"github.com/louisbranch/storygate/internal/story/state"
)

// corruptStateHint tells the operator how to recover from an unreadable
// persisted state. The engine never silently overwrites one.
const corruptStateHint = "建议：删除损坏的状态并重新初始化，或从事件日志重建状态"

// LoadState reads and validates the stored canonical state. Missing
// locations referenced by an older persisted state are synthesised before
// the state is returned, keeping pre-fix states readable.
func (s *Store) LoadState(ctx context.Context, storyID string) (*state.CanonicalState, error) {
	if strings.TrimSpace(storyID) == "" {
		return nil, apperrors.New(apperrors.CodeStoryIDEmpty, "story id is required")
	}

	var stateJSON string
	err := s.sqlDB.QueryRowContext(ctx,
		"SELECT state_json FROM states WHERE story_id = ?", storyID,
	).Scan(&stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state %s: %w", storyID, err)
	}

	var loaded state.CanonicalState
	if err := json.Unmarshal([]byte(stateJSON), &loaded); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStateCorrupt,
			fmt.Sprintf("state JSON 损坏，无法解析 (story_id: %s)。%s", storyID, corruptStateHint), err)
	}

	state.EnsureLocations(&loaded)
	if err := state.Validate(&loaded); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStateCorrupt,
			fmt.Sprintf("state 结构损坏，引用完整性校验失败 (story_id: %s)。%s", storyID, corruptStateHint), err)
	}
	return &loaded, nil
}

// SaveState overwrites the stored state for the story.
func (s *Store) SaveState(ctx context.Context, storyID string, st *state.CanonicalState) error {
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
	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO states (story_id, state_json, updated_at) VALUES (?, ?, ?)
ON CONFLICT(story_id) DO UPDATE SET state_json = excluded.state_json, updated_at = excluded.updated_at`,
		storyID, string(payload), toMillis(st.Meta.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save state %s: %w", storyID, err)
	}
	return nil
}
