// The indexer builds a story's retrieval index from world-bible notes.
package main

import (
	"context"
	"flag"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	platformcmd "github.com/louisbranch/storygate/internal/platform/cmd"
	"github.com/louisbranch/storygate/internal/platform/config"
	"github.com/louisbranch/storygate/internal/rag"
)

type indexerConfig struct {
	LLMAPIKey       string `env:"STORYGATE_LLM_API_KEY"`
	LLMBaseURL      string `env:"STORYGATE_LLM_BASE_URL"`
	EmbeddingsModel string `env:"STORYGATE_EMBEDDINGS_MODEL" envDefault:"text-embedding-3-small"`
	RAGIndexDir     string `env:"STORYGATE_RAG_INDEX_DIR" envDefault:"data/indices"`
}

var (
	storyID  = flag.String("story", "", "story id to index notes for")
	notesDir = flag.String("notes", "", "directory of .md/.txt world-bible notes")
)

func main() {
	ctx := context.Background()

	var cfg indexerConfig
	if err := platformcmd.ParseConfigFromArgs(&cfg, flag.CommandLine, os.Args[1:]); err != nil {
		config.Exitf("parse config: %v", err)
	}
	if *storyID == "" || *notesDir == "" {
		config.Exitf("usage: indexer -story <story_id> -notes <dir>")
	}

	var embedder rag.Embedder
	if cfg.LLMAPIKey != "" {
		var err error
		embedder, err = rag.NewOpenAIEmbedder(rag.EmbedConfig{
			APIKey:  cfg.LLMAPIKey,
			BaseURL: cfg.LLMBaseURL,
			Model:   cfg.EmbeddingsModel,
		})
		if err != nil {
			config.Exitf("embedder: %v", err)
		}
	} else {
		log.Printf("no LLM credentials; indexing for keyword search only")
	}

	if err := os.MkdirAll(cfg.RAGIndexDir, 0o755); err != nil {
		config.Exitf("create index dir: %v", err)
	}
	svc, err := rag.Open(cfg.RAGIndexDir, embedder)
	if err != nil {
		config.Exitf("open index: %v", err)
	}
	defer svc.Close()

	total := 0
	err = filepath.WalkDir(*notesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".md" && ext != ".txt" {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		n, err := svc.IndexDocument(ctx, *storyID, filepath.Base(path), string(content))
		if err != nil {
			return err
		}
		log.Printf("indexed %s: %d chunks", path, n)
		total += n
		return nil
	})
	if err != nil {
		config.Exitf("index notes: %v", err)
	}
	log.Printf("done: %d chunks for story %s", total, *storyID)
}
