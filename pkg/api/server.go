package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vyvern/vyvern/internal/metrics"
	"github.com/vyvern/vyvern/pkg/campaign"
	"github.com/vyvern/vyvern/pkg/registry"
)

// SessionManager is the surface the API needs from the supervisor.
type SessionManager interface {
	Start(c *campaign.Campaign) (string, error)
	Cleanup(sessionID string)
	LatestSnapshot(sessionID string) ([]byte, bool)
}

// CampaignScheduler keeps cron entries in sync with campaign edits.
type CampaignScheduler interface {
	Add(c *campaign.Campaign) error
	Remove(campaignID string)
}

// ServerOptions holds HTTP server configuration
type ServerOptions struct {
	Host string
	Port int
}

// Server is the polling HTTP surface. It reads session state exclusively
// from the registry and the supervisor's snapshot buffers; no request ever
// touches a browser handle.
type Server struct {
	options        ServerOptions
	server         *http.Server
	store          *campaign.Store
	registry       *registry.Registry
	sessions       SessionManager
	scheduler      CampaignScheduler
	logger         zerolog.Logger
	startTime      time.Time
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// NewServer creates a new API server
func NewServer(options ServerOptions, store *campaign.Store, reg *registry.Registry, sessions SessionManager, scheduler CampaignScheduler, logger zerolog.Logger) (*Server, error) {
	if options.Port == 0 {
		options.Port = 8080
	}
	if options.Host == "" {
		options.Host = "0.0.0.0"
	}

	if store == nil {
		return nil, fmt.Errorf("campaign store is required")
	}
	if reg == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}

	return &Server{
		options:   options,
		store:     store,
		registry:  reg,
		sessions:  sessions,
		scheduler: scheduler,
		logger:    logger.With().Str("component", "api").Logger(),
		startTime: time.Now(),
	}, nil
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Default().Handler())

	mux.HandleFunc("POST /api/campaigns", s.wrap(s.handleCampaignCreate))
	mux.HandleFunc("GET /api/campaigns", s.wrap(s.handleCampaignList))
	mux.HandleFunc("GET /api/campaigns/{id}", s.wrap(s.handleCampaignGet))
	mux.HandleFunc("DELETE /api/campaigns/{id}", s.wrap(s.handleCampaignDelete))
	mux.HandleFunc("POST /api/campaigns/{id}/test", s.wrap(s.handleCampaignTest))

	mux.HandleFunc("GET /api/sessions/{id}/status", s.wrap(s.handleSessionStatus))
	mux.HandleFunc("GET /api/sessions/{id}/messages", s.wrap(s.handleSessionMessages))
	mux.HandleFunc("GET /api/sessions/{id}/snapshot", s.wrap(s.handleSessionSnapshot))
	mux.HandleFunc("POST /api/sessions/{id}/cleanup", s.wrap(s.handleSessionCleanup))

	return mux
}

// wrap adds shutdown rejection, in-flight tracking, and request logging.
func (s *Server) wrap(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.shutdownMu.RLock()
		if s.isShuttingDown {
			s.shutdownMu.RUnlock()
			http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
			return
		}
		s.shutdownMu.RUnlock()

		s.inFlightReqs.Add(1)
		defer s.inFlightReqs.Done()

		start := time.Now()
		h(w, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int64("duration", time.Since(start).Milliseconds()).
			Msg("Request completed")
	}
}

// Start starts the API server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.options.Host, s.options.Port),
		Handler: s.Handler(),
	}

	s.logger.Info().
		Str("host", s.options.Host).
		Int("port", s.options.Port).
		Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	return nil
}

// Stop gracefully stops the API server
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down API server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown API server: %w", err)
	}

	s.logger.Info().Msg("API server stopped")
	return nil
}
