package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/louisbranch/storygate/internal/app/server"
	platformcmd "github.com/louisbranch/storygate/internal/platform/cmd"
	"github.com/louisbranch/storygate/internal/platform/config"
)

var addr = flag.String("addr", "", "listen address (overrides STORYGATE_ADDR)")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg server.Config
	if err := platformcmd.ParseConfigFromArgs(&cfg, flag.CommandLine, os.Args[1:]); err != nil {
		config.Exitf("parse config: %v", err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	if err := platformcmd.RunWithTelemetry(ctx, platformcmd.ServiceServer, func(ctx context.Context) error {
		return server.Run(ctx, cfg)
	}); err != nil {
		config.Exitf("serve: %v", err)
	}
}
