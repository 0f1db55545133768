// Package admin serves the read-only status HTTP API: job health, table
// pipeline states and current offsets.
package admin

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/relogdev/relog/cfg"
	"github.com/relogdev/relog/common"
	"github.com/relogdev/relog/coordinator"
	"github.com/rs/zerolog/log"
)

// JobInspector is the coordinator surface the admin API reads from.
type JobInspector interface {
	Status() coordinator.Status
	Offsets() map[string]common.Position
}

// Server is the admin HTTP server.
type Server struct {
	job  JobInspector
	http *http.Server
}

// NewServer builds the admin server from configuration.
func NewServer(config cfg.AdminConfiguration, job JobInspector) *Server {
	h := &handlers{job: job}

	r := chi.NewRouter()
	r.Use(authMiddleware(config.AuthToken))
	r.Get("/status", h.handleStatus)
	r.Get("/tables", h.handleTables)
	r.Get("/offsets", h.handleOffsets)

	return &Server{
		job: job,
		http: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", config.Address, config.Port),
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start serves in a background goroutine until Stop.
func (s *Server) Start() {
	log.Info().Str("addr", s.http.Addr).Msg("Starting admin API")
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Admin API server failed")
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping admin API")
	return s.http.Shutdown(ctx)
}
