package httpapi

import (
	"context"
	"net/http"

	apperrors "github.com/louisbranch/storygate/internal/platform/errors"
	"github.com/louisbranch/storygate/internal/rag"
	"github.com/louisbranch/storygate/internal/story/service"
	"github.com/louisbranch/storygate/internal/story/state"
)

// Engine is the handler set's view of the draft-processing core.
type Engine interface {
	GetState(ctx context.Context, storyID string) (*state.CanonicalState, error)
	ProcessDraft(ctx context.Context, storyID, userMessage, draft string) (service.Outcome, error)
}

// Retriever is the handler set's view of the RAG service.
type Retriever interface {
	Query(ctx context.Context, storyID, query string, topK int) ([]rag.QueryResult, error)
}

// Handlers binds the request surface to the engine and retriever.
type Handlers struct {
	engine    Engine
	retriever Retriever // nil when no RAG index is configured
}

// NewHandlers wires the handler set.
func NewHandlers(engine Engine, retriever Retriever) *Handlers {
	return &Handlers{engine: engine, retriever: retriever}
}

// GetState serves GET /state/{story_id}, auto-initialising absent stories.
func (h *Handlers) GetState(w http.ResponseWriter, r *http.Request) {
	storyID := r.PathValue("story_id")
	current, err := h.engine.GetState(r.Context(), storyID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, current)
}

// ProcessDraft serves POST /draft/process. Classified outcomes are 200s with
// the classification in the body; only fatal errors surface as 5xx.
func (h *Handlers) ProcessDraft(w http.ResponseWriter, r *http.Request) {
	var req DraftProcessRequest
	if !decodeBody(w, r, &req) {
		return
	}
	outcome, err := h.engine.ProcessDraft(r.Context(), req.StoryID, req.UserMessage, req.AssistantDraft)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// RAGQuery serves POST /rag/query.
func (h *Handlers) RAGQuery(w http.ResponseWriter, r *http.Request) {
	if h.retriever == nil {
		writeError(w, apperrors.New(apperrors.CodeRAGUnavailable, "retrieval is not configured"))
		return
	}
	var req RAGQueryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	results, err := h.retriever.Query(r.Context(), req.StoryID, req.Query, req.TopK)
	if err != nil {
		writeError(w, err)
		return
	}
	if results == nil {
		results = []rag.QueryResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"query":   req.Query,
	})
}
