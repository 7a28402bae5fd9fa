package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/patudom/cds-app/internal/domain/student"
	"github.com/patudom/cds-app/internal/infrastructure/persistence"
	statehttp "github.com/patudom/cds-app/internal/interface/http"
)

// Local is a state server on a loopback port, for simulations that should
// not touch a shared API.
type Local struct {
	URL    string
	Store  persistence.Store
	server *http.Server
	done   chan error
}

// StartLocal serves store on 127.0.0.1 with an ephemeral port, without
// authentication or rate limiting.
func StartLocal(store persistence.Store, log *slog.Logger) (*Local, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	cfg := statehttp.DefaultConfig()
	cfg.RateLimitPerMinute = 0
	handler := statehttp.NewServer(cfg, statehttp.Dependencies{Store: store, Logger: log}).Handler()

	l := &Local{
		URL:    "http://" + ln.Addr().String(),
		Store:  store,
		server: &http.Server{Handler: handler, ReadTimeout: cfg.ReadTimeout, WriteTimeout: cfg.WriteTimeout},
		done:   make(chan error, 1),
	}
	go func() {
		err := l.server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		l.done <- err
	}()
	log.Info("local state server started", "url", l.URL)
	return l, nil
}

// SeedClass registers an educator and a class students can join with
// code.
func (l *Local) SeedClass(ctx context.Context, code, storyName string) (*student.Class, error) {
	edu := &student.Educator{Username: "local-educator-" + code}
	if err := l.Store.CreateEducator(ctx, edu); err != nil {
		return nil, fmt.Errorf("seed educator: %w", err)
	}
	class, err := student.NewClass(code, "Local class "+code, edu.ID, storyName)
	if err != nil {
		return nil, err
	}
	if err := l.Store.CreateClass(ctx, class); err != nil {
		return nil, fmt.Errorf("seed class: %w", err)
	}
	return class, nil
}

// Close stops serving and waits for the listener to exit.
func (l *Local) Close(ctx context.Context) error {
	if err := l.server.Shutdown(ctx); err != nil {
		return err
	}
	return <-l.done
}
