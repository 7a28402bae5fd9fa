package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/patudom/cds-app/config"
	"github.com/patudom/cds-app/internal/infrastructure/persistence"
	statehttp "github.com/patudom/cds-app/internal/interface/http"
	"github.com/patudom/cds-app/internal/interface/http/handlers"
	"github.com/patudom/cds-app/pkg/circuitbreaker"
)

// HealthChecker reports on the store through a breaker so that a failing
// database answers readiness probes without waiting on every probe. cache
// may be nil.
func HealthChecker(store persistence.Store, cache handlers.Pinger, version string, log *slog.Logger) *handlers.CompositeHealthChecker {
	breaker := circuitbreaker.DatabaseBreaker(func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
	})

	checker := handlers.NewCompositeHealthChecker(version)
	checker.AddCheck("store", func(ctx context.Context) error {
		return breaker.Execute(ctx, store.Ping)
	})
	if cache != nil {
		checker.AddCheck("cache", handlers.NewPingCheck(cache))
	}
	return checker
}

// Serve runs the state server until ctx is cancelled, then drains it
// within cfg.App.ShutdownTimeout.
func Serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	store, err := OpenStore(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing store")
		if err := store.Close(); err != nil {
			log.Warn("store close failed", "error", err)
		}
	}()

	cache, err := OpenCache(ctx, cfg.Redis, log)
	if err != nil {
		log.Warn("redis unavailable, running without it", "error", err)
		cache = nil
	}
	var pinger handlers.Pinger
	if cache != nil {
		defer cache.Close()
		pinger = cache
	}

	server := statehttp.NewServer(cfg.Server.HTTP(), statehttp.Dependencies{
		Store:         store,
		Logger:        log,
		HealthChecker: HealthChecker(store, pinger, cfg.App.Version, log),
		Version:       cfg.App.Version,
	})
	errCh := server.StartAsync()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil {
		return err
	}
	log.Info("shutdown completed")
	return nil
}
