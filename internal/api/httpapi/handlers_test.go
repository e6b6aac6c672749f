package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "github.com/louisbranch/storygate/internal/platform/errors"
	"github.com/louisbranch/storygate/internal/rag"
	"github.com/louisbranch/storygate/internal/story/gate"
	"github.com/louisbranch/storygate/internal/story/service"
	"github.com/louisbranch/storygate/internal/story/state"
)

type fakeEngine struct {
	state   *state.CanonicalState
	outcome service.Outcome
	err     error
}

func (f *fakeEngine) GetState(_ context.Context, storyID string) (*state.CanonicalState, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.state, nil
}

func (f *fakeEngine) ProcessDraft(_ context.Context, _, _, _ string) (service.Outcome, error) {
	if f.err != nil {
		return service.Outcome{}, f.err
	}
	return f.outcome, nil
}

type fakeRetriever struct {
	results []rag.QueryResult
	err     error
}

func (f *fakeRetriever) Query(_ context.Context, _, _ string, _ int) ([]rag.QueryResult, error) {
	return f.results, f.err
}

func TestGetState(t *testing.T) {
	s := state.NewInitial("story_1", time.Unix(1700000000, 0))
	mux := NewMux(NewHandlers(&fakeEngine{state: s}, nil))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state/story_1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got state.CanonicalState
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Meta.StoryID != "story_1" {
		t.Fatalf("story id = %q", got.Meta.StoryID)
	}
}

func TestGetStateCorruptIs500(t *testing.T) {
	engine := &fakeEngine{err: apperrors.New(apperrors.CodeStateCorrupt, "state JSON 损坏")}
	mux := NewMux(NewHandlers(engine, nil))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state/story_1", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "STATE_CORRUPT") {
		t.Fatalf("body should carry the code: %s", rec.Body.String())
	}
}

func TestProcessDraftClassifiedOutcomeIs200(t *testing.T) {
	engine := &fakeEngine{outcome: service.Outcome{
		FinalAction:         gate.ActionRewrite,
		RewriteInstructions: "R5: 角色位置变更必须通过 TRAVEL 事件记录",
	}}
	mux := NewMux(NewHandlers(engine, nil))

	body := `{"story_id":"story_1","user_message":"继续","assistant_draft":"草稿"}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/draft/process", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for classified outcome", rec.Code)
	}
	var got service.Outcome
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.FinalAction != gate.ActionRewrite || !strings.Contains(got.RewriteInstructions, "R5") {
		t.Fatalf("outcome = %+v", got)
	}
}

func TestProcessDraftBadJSONIs400(t *testing.T) {
	mux := NewMux(NewHandlers(&fakeEngine{}, nil))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/draft/process", strings.NewReader("{broken")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRAGQuery(t *testing.T) {
	retriever := &fakeRetriever{results: []rag.QueryResult{{Text: "玉玺在洛阳", Score: 0.9}}}
	mux := NewMux(NewHandlers(&fakeEngine{}, retriever))

	body := `{"story_id":"story_1","query":"玉玺","top_k":3}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rag/query", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got struct {
		Results []rag.QueryResult `json:"results"`
		Query   string            `json:"query"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Results) != 1 || got.Query != "玉玺" {
		t.Fatalf("response = %+v", got)
	}
}

func TestRAGQueryUnconfiguredIs503(t *testing.T) {
	mux := NewMux(NewHandlers(&fakeEngine{}, nil))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rag/query",
		strings.NewReader(`{"story_id":"s","query":"q"}`)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestRAGQueryIndexMissingIs404(t *testing.T) {
	retriever := &fakeRetriever{err: apperrors.New(apperrors.CodeRAGIndexMissing, "no index")}
	mux := NewMux(NewHandlers(&fakeEngine{}, retriever))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rag/query",
		strings.NewReader(`{"story_id":"s","query":"q"}`)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
