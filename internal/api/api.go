// Package api provides HTTP handlers and the main API server logic for MediChat.
//
// It exposes RESTful endpoints for intake turn submission, conversation
// history, clinician responses and archival. Authentication is handled
// upstream; handlers take patient and clinician ids from the request.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/anesxvito/MediChat-sub001/internal/intake"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server hosts the MediChat HTTP API.
type Server struct {
	orchestrator *intake.Orchestrator
	addr         string
	httpServer   *http.Server
}

// NewServer creates an API server over the given orchestrator.
func NewServer(orchestrator *intake.Orchestrator, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	slog.Debug("Server.NewServer: creating API server", "addr", cfg.Addr)
	return &Server{
		orchestrator: orchestrator,
		addr:         cfg.Addr,
	}
}

// routes registers all endpoints on a fresh mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /conversations/turns", s.submitTurnHandler)
	mux.HandleFunc("GET /conversations/{id}/messages", s.getMessagesHandler)
	mux.HandleFunc("GET /patients/{id}/conversations", s.listConversationsHandler)
	mux.HandleFunc("POST /conversations/{id}/clinician-response", s.clinicianResponseHandler)
	mux.HandleFunc("POST /conversations/{id}/archive", s.archiveHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	return mux
}

// Run starts the HTTP server and blocks until the context is cancelled or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: MediChat API listening", "addr", s.addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("Server.Run: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
