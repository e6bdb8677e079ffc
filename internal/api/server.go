// Package api exposes a running link over HTTP: its status, a way to send
// messages to the device and a WebSocket stream of decoded messages.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/allbin/go-devlink"
	"github.com/allbin/go-devlink/internal/config"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
	readHeaderTimeout       = 10 * time.Second
	maxBodySize             = 64 * 1024
)

// Link is the part of a devlink.Manager the API serves.
type Link interface {
	Status() devlink.Snapshot
	Send(ctx context.Context, v any) error
	Subscribe() *devlink.Subscription
}

type Server struct {
	cfg  config.APIConfig
	link Link
	log  *zap.Logger

	// Closed on shutdown; WebSocket streams are hijacked and not covered
	// by http.Server.Shutdown.
	done chan struct{}
}

func New(cfg config.APIConfig, link Link, log *zap.Logger) *Server {
	return &Server{
		cfg:  cfg,
		link: link,
		log:  log.Named("api"),
		done: make(chan struct{}),
	}
}

// Handler returns the router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Get("/status", s.handleStatus)
	r.Post("/send", s.handleSend)
	r.Get("/events", s.handleEvents)

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api server listening", zap.String("address", s.cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		close(s.done)
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	close(s.done)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.log.Info("api server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down api server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
