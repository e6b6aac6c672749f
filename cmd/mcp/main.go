package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/louisbranch/storygate/internal/llm"
	storymcp "github.com/louisbranch/storygate/internal/mcp"
	platformcmd "github.com/louisbranch/storygate/internal/platform/cmd"
	"github.com/louisbranch/storygate/internal/platform/config"
	"github.com/louisbranch/storygate/internal/storage/sqlite"
	"github.com/louisbranch/storygate/internal/story/extract"
	"github.com/louisbranch/storygate/internal/story/service"
)

type mcpConfig struct {
	DBPath     string `env:"STORYGATE_DB_PATH" envDefault:"data/storygate.db"`
	LLMAPIKey  string `env:"STORYGATE_LLM_API_KEY"`
	LLMBaseURL string `env:"STORYGATE_LLM_BASE_URL"`
	LLMModel   string `env:"STORYGATE_LLM_MODEL" envDefault:"gpt-4o-mini"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg mcpConfig
	if err := platformcmd.ParseConfigFromArgs(&cfg, flag.CommandLine, os.Args[1:]); err != nil {
		config.Exitf("parse config: %v", err)
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		config.Exitf("open store: %v", err)
	}
	defer store.Close()

	client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:  cfg.LLMAPIKey,
		BaseURL: cfg.LLMBaseURL,
		Model:   cfg.LLMModel,
	})
	if err != nil {
		config.Exitf("llm client: %v", err)
	}
	extractor, err := extract.New(client)
	if err != nil {
		config.Exitf("extractor: %v", err)
	}

	srv, err := storymcp.New(service.New(store, extractor))
	if err != nil {
		config.Exitf("mcp server: %v", err)
	}

	if err := platformcmd.RunWithTelemetry(ctx, platformcmd.ServiceMCP, srv.Run); err != nil {
		config.Exitf("serve mcp: %v", err)
	}
}
