// Package llm provides the chat-completion client contract the extractor
// depends on, plus an OpenAI-compatible implementation.
//
// The engine never talks to a provider SDK; requests are explicit JSON over
// net/http with an injectable HTTP client, and the two structured-output
// modes (forced tool call, JSON object) are separate calls so the extractor
// owns retry and fallback policy.
package llm

import (
	"context"
	"encoding/json"
)

// Message is one chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolSchema describes the single function the model is forced to call in
// tool mode.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Client is the extractor's view of a language model. Both calls return the
// raw structured payload; parsing and validation stay with the caller.
type Client interface {
	// CallWithTool forces one call to the described function and returns its
	// arguments payload.
	CallWithTool(ctx context.Context, messages []Message, tool ToolSchema) (json.RawMessage, error)
	// CallWithJSON requests a JSON-object response conforming to schema and
	// returns the body.
	CallWithJSON(ctx context.Context, messages []Message, schema map[string]any) (json.RawMessage, error)
}
