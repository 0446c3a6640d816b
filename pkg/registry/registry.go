package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/vyvern/vyvern/internal/metrics"
)

// Status represents the lifecycle state of a session.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusLoggedIn     Status = "logged_in"
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusError        Status = "error"
)

// statusRank encodes the forward-only ordering of session states.
// A transition is only applied when it moves to a strictly higher rank.
var statusRank = map[Status]int{
	StatusInitializing: 0,
	StatusLoggedIn:     1,
	StatusRunning:      2,
	StatusCompleted:    3,
	StatusError:        3,
}

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Kind classifies a transcript message.
type Kind string

const (
	KindSystem   Kind = "system"
	KindSent     Kind = "sent"
	KindReceived Kind = "received"
)

// Message is a single entry in a session transcript.
type Message struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionView is an immutable snapshot of a session, safe to hand to
// polling readers without further synchronization.
type SessionView struct {
	ID          string
	CampaignID  string
	Status      Status
	StartedAt   time.Time
	FinishedAt  time.Time
	ErrorDetail string
	Transcript  []Message
}

// session is the mutable record behind a registry entry. Each session
// carries its own mutex so transcript writes on one session never block
// status reads on another.
type session struct {
	mu          sync.RWMutex
	id          string
	campaignID  string
	status      Status
	startedAt   time.Time
	finishedAt  time.Time
	errorDetail string
	transcript  []Message
}

// Registry is the process-wide map of active sessions. It is the single
// source of truth polled by the HTTP boundary; readers never touch the
// automation driver through it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
	logger   zerolog.Logger
}

// New creates an empty registry.
func New(logger zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*session),
		logger:   logger.With().Str("component", "registry").Logger(),
	}
}

// Create allocates a new session in the initializing state and returns its id.
func (r *Registry) Create(campaignID string) string {
	id := uuid.New().String()

	s := &session{
		id:         id,
		campaignID: campaignID,
		status:     StatusInitializing,
		startedAt:  time.Now(),
	}

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	metrics.RecordSessionCreated()
	metrics.SetActiveSessions(r.activeCount())

	r.logger.Info().
		Str("session_id", id).
		Str("campaign_id", campaignID).
		Msg("Session created")

	return id
}

// Get returns an immutable snapshot of a session, or false when the id is
// unknown. The transcript is copied so callers can hold the view freely.
func (r *Registry) Get(id string) (SessionView, bool) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok {
		return SessionView{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	view := SessionView{
		ID:          s.id,
		CampaignID:  s.campaignID,
		Status:      s.status,
		StartedAt:   s.startedAt,
		FinishedAt:  s.finishedAt,
		ErrorDetail: s.errorDetail,
		Transcript:  make([]Message, len(s.transcript)),
	}
	copy(view.Transcript, s.transcript)

	return view, true
}

// AppendMessage appends a message to a session transcript. Timestamps are
// clamped so the transcript stays monotonically non-decreasing even if the
// wall clock steps backwards.
func (r *Registry) AppendMessage(id string, kind Kind, text string) error {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}

	msgID, err := gonanoid.New()
	if err != nil {
		r.logger.Warn().Err(err).Msg("Message id generation failed, falling back to uuid")
		msgID = uuid.New().String()
	}
	now := time.Now()

	s.mu.Lock()
	if n := len(s.transcript); n > 0 && now.Before(s.transcript[n-1].Timestamp) {
		now = s.transcript[n-1].Timestamp
	}
	s.transcript = append(s.transcript, Message{
		ID:        msgID,
		Kind:      kind,
		Text:      text,
		Timestamp: now,
	})
	s.mu.Unlock()

	metrics.RecordMessage(string(kind))

	return nil
}

// Transition moves a session to a new status. The state machine is
// forward-only: attempts to move backwards or out of a terminal state are
// logged and ignored rather than treated as errors.
func (r *Registry) Transition(id string, status Status, detail string) error {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}

	s.mu.Lock()

	if s.status.Terminal() || statusRank[status] <= statusRank[s.status] {
		from := s.status
		s.mu.Unlock()
		r.logger.Debug().
			Str("session_id", id).
			Str("from", string(from)).
			Str("to", string(status)).
			Msg("Ignoring non-forward status transition")
		return nil
	}

	s.status = status
	if status.Terminal() {
		s.finishedAt = time.Now()
	}
	if status == StatusError {
		s.errorDetail = detail
		metrics.RecordSessionError()
	}
	s.mu.Unlock()

	// A terminal session no longer counts as active, even while it lingers
	// in the registry awaiting cleanup.
	if status.Terminal() {
		metrics.SetActiveSessions(r.activeCount())
	}

	r.logger.Info().
		Str("session_id", id).
		Str("status", string(status)).
		Msg("Session status changed")

	return nil
}

// Remove deletes a session from the registry. Removing an unknown id is a
// no-op; cleanup must always be safe to repeat.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	_, existed := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if existed {
		metrics.SetActiveSessions(r.activeCount())
		r.logger.Info().Str("session_id", id).Msg("Session removed")
	}
}

// activeCount counts non-terminal sessions.
func (r *Registry) activeCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, s := range r.sessions {
		s.mu.RLock()
		if !s.status.Terminal() {
			n++
		}
		s.mu.RUnlock()
	}
	return n
}

// ActiveForCampaign reports whether any non-terminal session exists for the
// campaign. The scheduler uses this to avoid overlapping runs.
func (r *Registry) ActiveForCampaign(campaignID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.sessions {
		s.mu.RLock()
		match := s.campaignID == campaignID && !s.status.Terminal()
		s.mu.RUnlock()
		if match {
			return true
		}
	}
	return false
}

// List returns session views for every registered session.
func (r *Registry) List() []SessionView {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	views := make([]SessionView, 0, len(ids))
	for _, id := range ids {
		if view, ok := r.Get(id); ok {
			views = append(views, view)
		}
	}
	return views
}
