package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/vyvern/vyvern/internal/metrics"
	"github.com/vyvern/vyvern/pkg/campaign"
	"github.com/vyvern/vyvern/pkg/registry"
)

// Starter launches a session for a campaign. The supervisor satisfies this.
type Starter interface {
	Start(c *campaign.Campaign) (string, error)
}

// frequencySpec maps campaign frequencies to cron expressions.
var frequencySpec = map[string]string{
	campaign.FrequencyHourly: "@hourly",
	campaign.FrequencyDaily:  "@daily",
	campaign.FrequencyWeekly: "@weekly",
}

// Scheduler fires campaign sessions on their configured cadence. A campaign
// that still has a live session when its slot comes up is skipped rather
// than doubled up.
type Scheduler struct {
	store    *campaign.Store
	registry *registry.Registry
	starter  Starter
	logger   zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	running bool
}

// New creates a scheduler.
func New(store *campaign.Store, reg *registry.Registry, starter Starter, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		registry: reg,
		starter:  starter,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		cron:     cron.New(),
		entries:  make(map[string]cron.EntryID),
	}
}

// Start registers every stored campaign with a frequency and begins the
// cron loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	campaigns, err := s.store.List()
	if err != nil {
		return fmt.Errorf("failed to load campaigns: %w", err)
	}

	for _, c := range campaigns {
		if c.Frequency == "" {
			continue
		}
		if err := s.register(c); err != nil {
			s.logger.Warn().Err(err).Str("campaign_id", c.ID).Msg("Failed to schedule campaign")
		}
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().Int("scheduled", len(s.entries)).Msg("Scheduler started")
	return nil
}

// Add schedules (or reschedules) a single campaign. Campaigns without a
// frequency are removed from the schedule.
func (s *Scheduler) Add(c *campaign.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[c.ID]; ok {
		s.cron.Remove(id)
		delete(s.entries, c.ID)
	}

	if c.Frequency == "" {
		return nil
	}

	return s.register(c)
}

// Remove drops a campaign's cron entry. Unknown ids are a no-op so callers
// can remove unconditionally after deleting a campaign.
func (s *Scheduler) Remove(campaignID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entries[campaignID]
	if !ok {
		return
	}

	s.cron.Remove(id)
	delete(s.entries, campaignID)
	s.logger.Info().Str("campaign_id", campaignID).Msg("Campaign unscheduled")
}

// register must be called with the lock held.
func (s *Scheduler) register(c *campaign.Campaign) error {
	spec, ok := frequencySpec[c.Frequency]
	if !ok {
		return fmt.Errorf("unknown frequency: %s", c.Frequency)
	}

	campaignID := c.ID
	entryID, err := s.cron.AddFunc(spec, func() {
		s.fire(campaignID)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron entry: %w", err)
	}

	s.entries[c.ID] = entryID
	s.logger.Info().
		Str("campaign_id", c.ID).
		Str("frequency", c.Frequency).
		Msg("Campaign scheduled")

	return nil
}

// fire starts a session for the campaign unless one is already live.
func (s *Scheduler) fire(campaignID string) {
	if s.registry.ActiveForCampaign(campaignID) {
		metrics.RecordScheduledSkip()
		s.logger.Info().Str("campaign_id", campaignID).Msg("Skipping scheduled run, session already active")
		return
	}

	c, err := s.store.Get(campaignID)
	if err != nil {
		s.logger.Warn().Err(err).Str("campaign_id", campaignID).Msg("Scheduled campaign no longer loadable")
		return
	}

	sessionID, err := s.starter.Start(c)
	if err != nil {
		s.logger.Error().Err(err).Str("campaign_id", campaignID).Msg("Scheduled session failed to start")
		return
	}

	metrics.RecordScheduledRun()
	if err := s.store.SetLastRun(campaignID, time.Now()); err != nil {
		s.logger.Warn().Err(err).Str("campaign_id", campaignID).Msg("Failed to stamp last run")
	}
	s.logger.Info().
		Str("campaign_id", campaignID).
		Str("session_id", sessionID).
		Msg("Scheduled session started")
}

// Stop halts the cron loop. Already running jobs are not interrupted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.cron.Stop()
	s.running = false
	s.logger.Info().Msg("Scheduler stopped")
}
