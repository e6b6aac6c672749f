// Package errors provides structured error handling for the engine.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// State errors
	CodeStateNotFound  Code = "STATE_NOT_FOUND"
	CodeStateCorrupt   Code = "STATE_CORRUPT"
	CodeStateInvalid   Code = "STATE_INVALID"
	CodeStoryIDEmpty   Code = "STORY_ID_EMPTY"
	CodeStateConflict  Code = "STATE_CONFLICT"
	CodeStateStoreDown Code = "STATE_STORE_UNAVAILABLE"

	// Event errors
	CodeEventInvalid     Code = "EVENT_INVALID"
	CodeEventIDCollision Code = "EVENT_ID_COLLISION"
	CodeEventNotFound    Code = "EVENT_NOT_FOUND"
	CodeEventPatchEmpty  Code = "EVENT_PATCH_EMPTY"

	// Extractor errors
	CodeExtractorNotConfigured Code = "EXTRACTOR_NOT_CONFIGURED"
	CodeLLMUnavailable         Code = "LLM_UNAVAILABLE"
	CodeLLMMalformedResponse   Code = "LLM_MALFORMED_RESPONSE"

	// RAG errors
	CodeRAGIndexMissing Code = "RAG_INDEX_MISSING"
	CodeRAGUnavailable  Code = "RAG_UNAVAILABLE"

	// Request errors
	CodeRequestInvalid Code = "REQUEST_INVALID"
)

// HTTPStatus maps the code to an HTTP response status.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeStateNotFound, CodeEventNotFound, CodeRAGIndexMissing:
		return http.StatusNotFound
	case CodeStoryIDEmpty, CodeEventInvalid, CodeEventPatchEmpty, CodeRequestInvalid, CodeStateInvalid:
		return http.StatusBadRequest
	case CodeEventIDCollision, CodeStateConflict:
		return http.StatusConflict
	case CodeLLMUnavailable, CodeRAGUnavailable, CodeStateStoreDown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
