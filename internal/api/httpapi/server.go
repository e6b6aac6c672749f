// Package httpapi exposes the engine over the JSON request surface: state
// reads, draft processing, and retrieval queries.
package httpapi

import (
	"encoding/json"
	"log"
	"net/http"

	apperrors "github.com/louisbranch/storygate/internal/platform/errors"
)

// DraftProcessRequest is the body of POST /draft/process.
type DraftProcessRequest struct {
	StoryID        string `json:"story_id"`
	UserMessage    string `json:"user_message"`
	AssistantDraft string `json:"assistant_draft"`
}

// RAGQueryRequest is the body of POST /rag/query.
type RAGQueryRequest struct {
	StoryID string `json:"story_id"`
	Query   string `json:"query"`
	TopK    int    `json:"top_k"`
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error string         `json:"error"`
	Code  apperrors.Code `json:"code"`
}

// NewMux routes the request surface onto the handler set.
func NewMux(h *Handlers) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /state/{story_id}", h.GetState)
	mux.HandleFunc("POST /draft/process", h.ProcessDraft)
	mux.HandleFunc("POST /rag/query", h.RAGQuery)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("httpapi: encode response: %v", err)
	}
}

// writeError maps domain errors onto HTTP statuses: fatal store errors and
// unknowns become 5xx, classified input problems 4xx.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	writeJSON(w, code.HTTPStatus(), errorBody{Error: err.Error(), Code: code})
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := decoder.Decode(target); err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeRequestInvalid, "request body is not valid JSON", err))
		return false
	}
	return true
}
