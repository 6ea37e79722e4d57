// Package api serves the FormPipe HTTP interface.
//
// Clients submit event URLs to POST /registrations; each becomes a durable registration job (or a
// cron schedule that enqueues one per tick). Outcomes and job state are read back over GET.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/FormPipe/internal/scheduler"
	"github.com/BTreeMap/FormPipe/internal/store"
)

const (
	// DefaultAddr is the listen address when none is configured.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// maxBodyBytes caps request bodies.
	maxBodyBytes = 1 << 20
)

// Server holds the API dependencies.
type Server struct {
	st    store.Backend
	sched *scheduler.Scheduler
	mux   *http.ServeMux
}

// NewServer wires the routes. sched may be nil, in which case cron requests are rejected.
func NewServer(st store.Backend, sched *scheduler.Scheduler) *Server {
	s := &Server{st: st, sched: sched, mux: http.NewServeMux()}
	s.mux.HandleFunc("/registrations", s.registrationsHandler)
	s.mux.HandleFunc("/registrations/", s.registrationHandler)
	s.mux.HandleFunc("/schedules", s.schedulesHandler)
	s.mux.HandleFunc("/outcomes", s.outcomesHandler)
	s.mux.HandleFunc("/health", s.healthHandler)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("Server.Run: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
