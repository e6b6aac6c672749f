package rag

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "github.com/louisbranch/storygate/internal/platform/errors"
)

func TestSplitTextEmpty(t *testing.T) {
	if got := SplitText("   \n\n  "); got != nil {
		t.Fatalf("expected nil for blank input, got %v", got)
	}
}

func TestSplitTextShortSingleChunk(t *testing.T) {
	got := SplitText("第一段。\n\n第二段。")
	if len(got) != 1 {
		t.Fatalf("chunks = %d, want 1", len(got))
	}
	if !strings.Contains(got[0], "第一段") || !strings.Contains(got[0], "第二段") {
		t.Fatalf("chunk lost content: %q", got[0])
	}
}

func TestSplitTextLongTextOverlaps(t *testing.T) {
	long := strings.Repeat("洛", 1200)
	got := SplitText(long)
	if len(got) < 2 {
		t.Fatalf("chunks = %d, want several", len(got))
	}
	for i, c := range got {
		if n := len([]rune(c)); n > chunkSize {
			t.Fatalf("chunk %d has %d runes, cap is %d", i, n, chunkSize)
		}
	}
	// Consecutive chunks share the overlap window.
	first := []rune(got[0])
	tail := string(first[len(first)-chunkOverlap:])
	if !strings.Contains(got[1], tail) {
		t.Fatal("expected overlap between consecutive chunks")
	}
}

func TestKeywords(t *testing.T) {
	got := Keywords("The seal of Cao Cao 传国玉玺在洛阳")
	set := make(map[string]bool)
	for _, k := range got {
		set[k] = true
	}
	if set["the"] || set["of"] {
		t.Fatalf("stop words should be removed: %v", got)
	}
	if !set["seal"] || !set["cao"] {
		t.Fatalf("content words missing: %v", got)
	}
	// CJK bigrams.
	if !set["玉玺"] || !set["洛阳"] {
		t.Fatalf("cjk bigrams missing: %v", got)
	}
}

func TestOverlapScore(t *testing.T) {
	if got := overlapScore([]string{"a", "b"}, []string{"a", "c"}); got != 0.5 {
		t.Fatalf("score = %v, want 0.5", got)
	}
	if got := overlapScore(nil, []string{"a"}); got != 0 {
		t.Fatalf("score = %v, want 0", got)
	}
}

func TestQueryWithoutIndexReturnsMissing(t *testing.T) {
	svc, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer svc.Close()

	_, err = svc.Query(context.Background(), "story_1", "玉玺下落", 5)
	if apperrors.CodeOf(err) != apperrors.CodeRAGIndexMissing {
		t.Fatalf("expected index-missing error, got %v", err)
	}
}

func TestIndexAndKeywordQuery(t *testing.T) {
	svc, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer svc.Close()
	ctx := context.Background()

	n, err := svc.IndexDocument(ctx, "story_1", "world_bible.md",
		"传国玉玺由曹操保管，藏于洛阳司空府。\n\n青釭剑是夏侯恩的佩剑。")
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if n == 0 {
		t.Fatal("expected chunks to be indexed")
	}

	results, err := svc.Query(ctx, "story_1", "玉玺在哪里", 5)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected keyword hits")
	}
	if !strings.Contains(results[0].Text, "玉玺") {
		t.Fatalf("top hit should mention the query subject: %q", results[0].Text)
	}
	if results[0].Score <= 0 {
		t.Fatalf("score = %v", results[0].Score)
	}
	if results[0].Metadata["source"] != "world_bible.md" {
		t.Fatalf("metadata = %v", results[0].Metadata)
	}

	// Other stories see nothing.
	_, err = svc.Query(ctx, "story_2", "玉玺", 5)
	if apperrors.CodeOf(err) != apperrors.CodeRAGIndexMissing {
		t.Fatalf("expected index-missing for other story, got %v", err)
	}
}

type fixedEmbedder struct{ dim int }

func (f fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, f.dim)
		// Deterministic toy embedding keyed on rune sums.
		for j, r := range []rune(text) {
			vec[j%f.dim] += float32(r%97) / 97
		}
		out[i] = vec
	}
	return out, nil
}

func TestIndexAndVectorQuery(t *testing.T) {
	svc, err := Open(t.TempDir(), fixedEmbedder{dim: 8})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer svc.Close()
	ctx := context.Background()

	if _, err := svc.IndexDocument(ctx, "story_1", "notes.md",
		"传国玉玺由曹操保管。\n\n洛阳城防由夏侯惇统领。"); err != nil {
		t.Fatalf("index: %v", err)
	}

	results, err := svc.Query(ctx, "story_1", "传国玉玺由曹操保管。", 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected vector hits")
	}
	if results[0].Score <= 0 || results[0].Score > 1 {
		t.Fatalf("score out of range: %v", results[0].Score)
	}
}

func TestOpenAIEmbedderParsesVectors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0.5,0.5]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer srv.Close()

	embedder, err := NewOpenAIEmbedder(EmbedConfig{APIKey: "k", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new embedder: %v", err)
	}
	got, err := embedder.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(got) != 2 || got[0][0] != 1 || got[1][0] != 0.5 {
		t.Fatalf("vectors misordered: %v", got)
	}
}

func TestNewOpenAIEmbedderRequiresKey(t *testing.T) {
	if _, err := NewOpenAIEmbedder(EmbedConfig{}); err == nil {
		t.Fatal("expected error without api key")
	}
}
