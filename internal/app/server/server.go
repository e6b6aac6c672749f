// Package server boots the HTTP API: configuration, storage, LLM client,
// extractor, gate service, and optional retrieval, wired behind one mux.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/louisbranch/storygate/internal/api/httpapi"
	"github.com/louisbranch/storygate/internal/llm"
	"github.com/louisbranch/storygate/internal/rag"
	"github.com/louisbranch/storygate/internal/storage/sqlite"
	"github.com/louisbranch/storygate/internal/story/extract"
	"github.com/louisbranch/storygate/internal/story/service"
)

const shutdownTimeout = 10 * time.Second

// Config carries the environment configuration for the API server.
type Config struct {
	Addr            string `env:"STORYGATE_ADDR" envDefault:":8080"`
	DBPath          string `env:"STORYGATE_DB_PATH" envDefault:"data/storygate.db"`
	LLMAPIKey       string `env:"STORYGATE_LLM_API_KEY"`
	LLMBaseURL      string `env:"STORYGATE_LLM_BASE_URL"`
	LLMModel        string `env:"STORYGATE_LLM_MODEL" envDefault:"gpt-4o-mini"`
	EmbeddingsModel string `env:"STORYGATE_EMBEDDINGS_MODEL" envDefault:"text-embedding-3-small"`
	RAGIndexDir     string `env:"STORYGATE_RAG_INDEX_DIR"`
}

// Run starts the API server and blocks until the context is cancelled.
func Run(ctx context.Context, cfg Config) error {
	if dir := filepath.Dir(cfg.DBPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("close store: %v", err)
		}
	}()

	client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:  cfg.LLMAPIKey,
		BaseURL: cfg.LLMBaseURL,
		Model:   cfg.LLMModel,
	})
	if err != nil {
		return err
	}
	extractor, err := extract.New(client)
	if err != nil {
		return err
	}

	svc := service.New(store, extractor)

	var retriever httpapi.Retriever
	if cfg.RAGIndexDir != "" {
		var embedder rag.Embedder
		if cfg.LLMAPIKey != "" {
			embedder, err = rag.NewOpenAIEmbedder(rag.EmbedConfig{
				APIKey:  cfg.LLMAPIKey,
				BaseURL: cfg.LLMBaseURL,
				Model:   cfg.EmbeddingsModel,
			})
			if err != nil {
				return err
			}
		}
		ragService, err := rag.Open(cfg.RAGIndexDir, embedder)
		if err != nil {
			return err
		}
		defer func() {
			if err := ragService.Close(); err != nil {
				log.Printf("close rag index: %v", err)
			}
		}()
		retriever = ragService
	}

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: httpapi.NewMux(httpapi.NewHandlers(svc, retriever)),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("storygate server listening at %s", cfg.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
