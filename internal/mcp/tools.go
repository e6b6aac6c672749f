package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/louisbranch/storygate/internal/story/event"
	"github.com/louisbranch/storygate/internal/story/gate"
	"github.com/louisbranch/storygate/internal/story/state"
)

// StateGetInput requests a story's canonical state.
type StateGetInput struct {
	StoryID string `json:"story_id"`
}

// StateGetResult carries the canonical state.
type StateGetResult struct {
	State *state.CanonicalState `json:"state"`
}

// DraftProcessInput submits one draft continuation for validation.
type DraftProcessInput struct {
	StoryID        string `json:"story_id"`
	UserMessage    string `json:"user_message"`
	AssistantDraft string `json:"assistant_draft"`
}

// DraftProcessResult carries the classified outcome.
type DraftProcessResult struct {
	FinalAction         gate.Action           `json:"final_action"`
	State               *state.CanonicalState `json:"state,omitempty"`
	RewriteInstructions string                `json:"rewrite_instructions,omitempty"`
	Questions           []string              `json:"questions,omitempty"`
	Violations          []gate.RuleViolation  `json:"violations,omitempty"`
}

// EventsListInput pages through a story's committed events.
type EventsListInput struct {
	StoryID string `json:"story_id"`
	Limit   int    `json:"limit"`
	Offset  int    `json:"offset"`
}

// EventsListResult carries the page of events.
type EventsListResult struct {
	Events []event.Event `json:"events"`
}

// StateGetTool defines the MCP tool schema for reading canonical state.
func StateGetTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "state_get",
		Description: "Reads the canonical state of a story, initialising it on first access",
	}
}

// DraftProcessTool defines the MCP tool schema for processing a draft.
func DraftProcessTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "draft_process",
		Description: "Validates a draft continuation against the canonical state and commits or rejects its events",
	}
}

// EventsListTool defines the MCP tool schema for listing committed events.
func EventsListTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "events_list",
		Description: "Lists a story's committed events, most recent narrative moment first",
	}
}

// StateGetHandler reads the canonical state.
func StateGetHandler(engine Engine) mcp.ToolHandlerFor[StateGetInput, StateGetResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input StateGetInput) (*mcp.CallToolResult, StateGetResult, error) {
		current, err := engine.GetState(ctx, input.StoryID)
		if err != nil {
			return nil, StateGetResult{}, fmt.Errorf("get state failed: %w", err)
		}
		return nil, StateGetResult{State: current}, nil
	}
}

// DraftProcessHandler runs the draft-processing pipeline.
func DraftProcessHandler(engine Engine) mcp.ToolHandlerFor[DraftProcessInput, DraftProcessResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input DraftProcessInput) (*mcp.CallToolResult, DraftProcessResult, error) {
		outcome, err := engine.ProcessDraft(ctx, input.StoryID, input.UserMessage, input.AssistantDraft)
		if err != nil {
			return nil, DraftProcessResult{}, fmt.Errorf("draft process failed: %w", err)
		}
		return nil, DraftProcessResult{
			FinalAction:         outcome.FinalAction,
			State:               outcome.State,
			RewriteInstructions: outcome.RewriteInstructions,
			Questions:           outcome.Questions,
			Violations:          outcome.Violations,
		}, nil
	}
}

// EventsListHandler pages through committed events.
func EventsListHandler(engine Engine) mcp.ToolHandlerFor[EventsListInput, EventsListResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input EventsListInput) (*mcp.CallToolResult, EventsListResult, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 20
		}
		events, err := engine.RecentEvents(ctx, input.StoryID, limit, input.Offset)
		if err != nil {
			return nil, EventsListResult{}, fmt.Errorf("events list failed: %w", err)
		}
		return nil, EventsListResult{Events: events}, nil
	}
}
