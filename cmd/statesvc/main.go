// Package main is the entry point of the reference state server.
//
// The server stores students, classes, story and stage state and
// measurements, and answers the same HTTP routes the session runner and
// the roster adapters call on the hosted CosmicDS API. It is configured
// from CDS_-prefixed environment variables.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"

	"github.com/patudom/cds-app/config"
	"github.com/patudom/cds-app/internal/app"
	"github.com/patudom/cds-app/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	v := viper.New()
	config.Bind(v)
	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.New(cfg.Log.Logger())
	log.Info("starting CosmicDS state server",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"driver", cfg.Database.Driver,
		"address", cfg.Server.HTTP().Address(),
	)
	if cfg.IsProduction() && len(cfg.Server.APIKeyHashes) == 0 {
		log.Warn("no API key hashes configured, every route except health is open")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. SERVE UNTIL SIGNALLED
	// ─────────────────────────────────────────────────────────────────────────
	return app.Serve(ctx, cfg, log)
}
