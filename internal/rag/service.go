// Package rag provides per-story retrieval over indexed world-bible notes.
//
// Vectors live in a sqlite-vec virtual table; chunk text and metadata sit in
// a plain table beside it. When no embedder is configured the service
// degrades to keyword search instead of failing the request.
package rag

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
	"github.com/oklog/ulid/v2"

	apperrors "github.com/louisbranch/storygate/internal/platform/errors"
)

// QueryResult is one retrieval hit.
type QueryResult struct {
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Service answers retrieval queries against per-story indices.
type Service struct {
	db       *sql.DB
	embedder Embedder // nil enables the keyword fallback
}

const ragSchema = `
CREATE TABLE IF NOT EXISTS chunks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    chunk_id TEXT NOT NULL UNIQUE,
    story_id TEXT NOT NULL,
    source TEXT NOT NULL,
    position INTEGER NOT NULL,
    text TEXT NOT NULL,
    keywords TEXT NOT NULL,
    metadata TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_story ON chunks (story_id);
`

// Open opens (or creates) the retrieval index under dir. The embedder is
// optional; without one, Query falls back to keyword scoring.
func Open(dir string, embedder Embedder) (*Service, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("index directory is required")
	}
	db, err := sql.Open("sqlite3", "file:"+filepath.Join(dir, "world_bible.db"))
	if err != nil {
		return nil, fmt.Errorf("open rag index: %w", err)
	}
	if _, err := db.Exec(ragSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure rag schema: %w", err)
	}
	return &Service{db: db, embedder: embedder}, nil
}

// Close releases the index database.
func (s *Service) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// IndexDocument chunks, embeds, and stores one source document for a story.
// Returns the number of chunks indexed.
func (s *Service) IndexDocument(ctx context.Context, storyID, source, text string) (int, error) {
	if strings.TrimSpace(storyID) == "" {
		return 0, apperrors.New(apperrors.CodeStoryIDEmpty, "story id is required")
	}
	pieces := SplitText(text)
	if len(pieces) == 0 {
		return 0, nil
	}

	var vectors [][]float32
	if s.embedder != nil {
		var err error
		vectors, err = s.embedder.Embed(ctx, pieces)
		if err != nil {
			return 0, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin index tx: %w", err)
	}
	defer tx.Rollback()

	for i, piece := range pieces {
		chunkID := "chk_" + ulid.Make().String()
		keywords, err := json.Marshal(Keywords(piece))
		if err != nil {
			return 0, fmt.Errorf("marshal keywords: %w", err)
		}
		metadata, err := json.Marshal(map[string]any{"source": source, "position": i})
		if err != nil {
			return 0, fmt.Errorf("marshal chunk metadata: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
INSERT INTO chunks (chunk_id, story_id, source, position, text, keywords, metadata)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			chunkID, storyID, source, i, piece, string(keywords), string(metadata))
		if err != nil {
			return 0, fmt.Errorf("insert chunk: %w", err)
		}

		if vectors != nil {
			rowID, err := res.LastInsertId()
			if err != nil {
				return 0, fmt.Errorf("chunk rowid: %w", err)
			}
			if err := s.ensureVecTable(ctx, tx, len(vectors[i])); err != nil {
				return 0, err
			}
			vec, err := json.Marshal(vectors[i])
			if err != nil {
				return 0, fmt.Errorf("marshal vector: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO chunks_vec (rowid, embedding) VALUES (?, ?)",
				rowID, string(vec)); err != nil {
				return 0, fmt.Errorf("insert vector: %w", err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit index tx: %w", err)
	}
	return len(pieces), nil
}

// ensureVecTable creates the vec0 virtual table the first time a vector
// dimension is known.
func (s *Service) ensureVecTable(ctx context.Context, tx *sql.Tx, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}
	_, err := tx.ExecContext(ctx, fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS chunks_vec USING vec0(embedding float[%d])", dim))
	if err != nil {
		return fmt.Errorf("ensure vec table: %w", err)
	}
	return nil
}

// Query returns the topK most relevant chunks for the story. Vector search
// when an embedder is configured, keyword scoring otherwise.
func (s *Service) Query(ctx context.Context, storyID, query string, topK int) ([]QueryResult, error) {
	if strings.TrimSpace(storyID) == "" {
		return nil, apperrors.New(apperrors.CodeStoryIDEmpty, "story id is required")
	}
	if topK <= 0 {
		topK = 5
	}
	if topK > 20 {
		topK = 20
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	var indexed int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chunks WHERE story_id = ?", storyID).Scan(&indexed); err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	if indexed == 0 {
		return nil, apperrors.WithMetadata(apperrors.CodeRAGIndexMissing,
			fmt.Sprintf("story %s has no indexed documents; run the indexer first", storyID),
			map[string]string{"story_id": storyID})
	}

	if s.embedder != nil {
		return s.vectorQuery(ctx, storyID, query, topK)
	}
	return s.keywordQuery(ctx, storyID, query, topK)
}

func (s *Service) vectorQuery(ctx context.Context, storyID, query string, topK int) ([]QueryResult, error) {
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	vec, err := json.Marshal(vectors[0])
	if err != nil {
		return nil, fmt.Errorf("marshal query vector: %w", err)
	}

	// Over-fetch so per-story filtering still fills topK.
	rows, err := s.db.QueryContext(ctx, `
SELECT c.text, c.metadata, c.story_id, v.distance
FROM chunks_vec v
JOIN chunks c ON c.id = v.rowid
WHERE v.embedding MATCH ? AND v.k = ?
ORDER BY v.distance`, string(vec), topK*4)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	defer rows.Close()

	var out []QueryResult
	for rows.Next() {
		var text, metaJSON, rowStory string
		var distance float64
		if err := rows.Scan(&text, &metaJSON, &rowStory, &distance); err != nil {
			return nil, fmt.Errorf("scan vector hit: %w", err)
		}
		if rowStory != storyID {
			continue
		}
		out = append(out, QueryResult{
			Text:     text,
			Score:    1.0 / (1.0 + distance),
			Metadata: decodeMetadata(metaJSON),
		})
		if len(out) >= topK {
			break
		}
	}
	return out, rows.Err()
}

func (s *Service) keywordQuery(ctx context.Context, storyID, query string, topK int) ([]QueryResult, error) {
	queryTerms := Keywords(query)
	if len(queryTerms) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT text, keywords, metadata FROM chunks WHERE story_id = ?", storyID)
	if err != nil {
		return nil, fmt.Errorf("keyword query: %w", err)
	}
	defer rows.Close()

	var out []QueryResult
	for rows.Next() {
		var text, keywordsJSON, metaJSON string
		if err := rows.Scan(&text, &keywordsJSON, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan keyword row: %w", err)
		}
		var chunkTerms []string
		if err := json.Unmarshal([]byte(keywordsJSON), &chunkTerms); err != nil {
			continue
		}
		score := overlapScore(queryTerms, chunkTerms)
		if score == 0 {
			continue
		}
		out = append(out, QueryResult{
			Text:     text,
			Score:    score,
			Metadata: decodeMetadata(metaJSON),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Highest overlap first; stable for equal scores.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// overlapScore is the fraction of query terms present in the chunk.
func overlapScore(queryTerms, chunkTerms []string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	chunkSet := make(map[string]struct{}, len(chunkTerms))
	for _, t := range chunkTerms {
		chunkSet[t] = struct{}{}
	}
	hits := 0
	for _, t := range queryTerms {
		if _, ok := chunkSet[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTerms))
}

func decodeMetadata(metaJSON string) map[string]any {
	var meta map[string]any
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil
	}
	return meta
}
