package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vyvern/vyvern/pkg/campaign"
	"github.com/vyvern/vyvern/pkg/driver"
	"github.com/vyvern/vyvern/pkg/engine"
	"github.com/vyvern/vyvern/pkg/registry"
	"github.com/vyvern/vyvern/pkg/reply"
	"github.com/vyvern/vyvern/pkg/snapshot"
)

// Config holds supervisor configuration
type Config struct {
	// MaxSessionDuration caps how long a session may run. Zero disables
	// the cap.
	MaxSessionDuration time.Duration

	// CleanupWait bounds how long Cleanup blocks for the run to wind down.
	CleanupWait time.Duration

	// Snapshot timing for per-session publishers.
	Snapshot snapshot.Config
}

// DefaultConfig returns the standard supervisor configuration.
func DefaultConfig() Config {
	return Config{
		MaxSessionDuration: 30 * time.Minute,
		CleanupWait:        5 * time.Second,
		Snapshot:           snapshot.DefaultConfig(),
	}
}

// run tracks one live session and everything that must be torn down with it.
type run struct {
	cancel    context.CancelFunc
	done      chan struct{}
	publisher *snapshot.Publisher
	release   func()
}

// Supervisor owns session lifecycles: it launches the driver, wires the
// snapshot publisher, runs the engine, and guarantees the browser handle is
// released exactly once no matter how the session ends.
type Supervisor struct {
	registry *registry.Registry
	driver   driver.Driver
	engine   *engine.Engine
	cfg      Config
	logger   zerolog.Logger

	mu   sync.Mutex
	runs map[string]*run
}

// New creates a supervisor.
func New(reg *registry.Registry, drv driver.Driver, eng *engine.Engine, cfg Config, logger zerolog.Logger) *Supervisor {
	if cfg.CleanupWait <= 0 {
		cfg.CleanupWait = DefaultConfig().CleanupWait
	}
	return &Supervisor{
		registry: reg,
		driver:   drv,
		engine:   eng,
		cfg:      cfg,
		logger:   logger.With().Str("component", "supervisor").Logger(),
		runs:     make(map[string]*run),
	}
}

// Start begins a session for the campaign and returns immediately with the
// new session id. The session itself runs in the background.
func (s *Supervisor) Start(c *campaign.Campaign) (string, error) {
	sessionID := s.registry.Create(c.ID)

	var ctx context.Context
	var cancel context.CancelFunc
	if s.cfg.MaxSessionDuration > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), s.cfg.MaxSessionDuration)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	r := &run{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.runs[sessionID] = r
	s.mu.Unlock()

	go s.supervise(ctx, sessionID, c, r)

	return sessionID, nil
}

func (s *Supervisor) supervise(ctx context.Context, sessionID string, c *campaign.Campaign, r *run) {
	defer close(r.done)

	log := s.logger.With().Str("session_id", sessionID).Logger()

	defer func() {
		if rec := recover(); rec != nil {
			detail := fmt.Sprintf("session panicked: %v", rec)
			log.Error().Str("panic", fmt.Sprint(rec)).Msg("Session goroutine panicked")
			_ = s.registry.AppendMessage(sessionID, registry.KindSystem, detail)
			_ = s.registry.Transition(sessionID, registry.StatusError, detail)
		}
	}()

	handle, err := s.driver.Launch(ctx)
	if err != nil {
		detail := fmt.Sprintf("browser launch failed: %v", err)
		_ = s.registry.AppendMessage(sessionID, registry.KindSystem, detail)
		_ = s.registry.Transition(sessionID, registry.StatusError, detail)
		log.Error().Err(err).Msg("Browser launch failed")
		return
	}

	var releaseOnce sync.Once
	release := func() {
		releaseOnce.Do(func() {
			if err := handle.Release(); err != nil {
				log.Warn().Err(err).Msg("Handle release failed")
			}
		})
	}
	defer release()

	publisher := snapshot.NewPublisher(handle, s.cfg.Snapshot, log)
	publisher.Start(ctx)
	defer publisher.Stop()

	s.mu.Lock()
	r.publisher = publisher
	r.release = release
	s.mu.Unlock()

	runErr := s.engine.Run(ctx, engine.Params{
		SessionID:      sessionID,
		Handle:         handle,
		Counterpart:    c.Recipient.Name,
		OpeningMessage: c.OpeningMessage,
		Persona: reply.PersonaContext{
			RecipientName: c.Recipient.Name,
			Company:       c.CompanyName,
			Role:          c.Recipient.Role,
			School:        c.Recipient.School,
			Objective:     c.Objective,
		},
	})

	if runErr != nil {
		// The engine already recorded the error state.
		log.Error().Err(runErr).Msg("Session ended with error")
		return
	}

	// Clean shutdown: cancellation or natural completion.
	_ = s.registry.Transition(sessionID, registry.StatusCompleted, "")
	log.Info().Msg("Session completed")
}

// Cleanup stops a session, releases its browser, and removes it from the
// registry. It always acknowledges: cleaning up an unknown or already
// cleaned session is a silent success.
func (s *Supervisor) Cleanup(sessionID string) {
	s.mu.Lock()
	r, ok := s.runs[sessionID]
	if ok {
		delete(s.runs, sessionID)
	}
	s.mu.Unlock()

	if ok {
		r.cancel()

		select {
		case <-r.done:
		case <-time.After(s.cfg.CleanupWait):
			s.logger.Warn().Str("session_id", sessionID).Msg("Session did not wind down in time, releasing anyway")
		}

		s.mu.Lock()
		publisher, release := r.publisher, r.release
		s.mu.Unlock()

		if publisher != nil {
			publisher.Stop()
		}
		if release != nil {
			release()
		}
	}

	s.registry.Remove(sessionID)
	s.logger.Info().Str("session_id", sessionID).Msg("Session cleaned up")
}

// LatestSnapshot returns the newest frame for a live session.
func (s *Supervisor) LatestSnapshot(sessionID string) ([]byte, bool) {
	s.mu.Lock()
	r, ok := s.runs[sessionID]
	var publisher *snapshot.Publisher
	if ok {
		publisher = r.publisher
	}
	s.mu.Unlock()

	if publisher == nil {
		return nil, false
	}
	return publisher.Latest()
}

// Shutdown cancels every live session and waits briefly for each to stop.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Cleanup(id)
	}
}
