// Package server exposes the attestation service over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ogulcanaydogan/milestone-attestation/internal/attest"
	"github.com/ogulcanaydogan/milestone-attestation/internal/config"
	"github.com/ogulcanaydogan/milestone-attestation/internal/store"
)

// Server wires the HTTP listener to one attestation service. The journal is
// optional; nil disables record keeping and the listing endpoint.
type Server struct {
	cfg     config.Config
	svc     *attest.Service
	journal store.Journal
	logger  *slog.Logger
	now     func() time.Time
	http    *http.Server
}

// New constructs a Server. It does not start listening.
func New(cfg config.Config, svc *attest.Service, journal store.Journal, logger *slog.Logger) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("attestation service is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		svc:     svc,
		journal: journal,
		logger:  logger,
		now:     time.Now,
	}
	s.http = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s, nil
}

// Handler returns the routed handler with request logging applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/attestations", s.handleCreate)
	mux.HandleFunc("GET /v1/attestations", s.handleList)
	mux.HandleFunc("POST /v1/verify", s.handleVerify)
	mux.HandleFunc("GET /v1/public-key", s.handlePublicKey)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	return s.withRequestLog(mux)
}

// Run listens on cfg.Listen and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully
// within cfg.ShutdownTimeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("verifier listening",
			"addr", ln.Addr().String(),
			"key_id", s.svc.KeyID(),
			"message_version", int(s.svc.Version()),
			"ephemeral_key", s.svc.Ephemeral())
		var err error
		if s.cfg.TLSCertPath != "" && s.cfg.TLSKeyPath != "" {
			err = s.http.ServeTLS(ln, s.cfg.TLSCertPath, s.cfg.TLSKeyPath)
		} else {
			err = s.http.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		s.logger.Info("verifier shutting down")
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}
