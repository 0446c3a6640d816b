package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vyvern/vyvern/internal/metrics"
	"github.com/vyvern/vyvern/pkg/driver"
	"github.com/vyvern/vyvern/pkg/registry"
	"github.com/vyvern/vyvern/pkg/reply"
)

// Config holds engine timing configuration
type Config struct {
	// PollInterval is how often the open conversation is re-read.
	PollInterval time.Duration

	// SurfaceURL is the landing page of the messaging surface.
	SurfaceURL string

	// Credentials used for the surface login flow.
	Credentials driver.Credentials
}

// Params describes one session run.
type Params struct {
	SessionID      string
	Handle         driver.Handle
	Counterpart    string
	OpeningMessage string
	Persona        reply.PersonaContext
}

// Engine drives a single conversation: login, opening message, then a poll
// loop that answers each new inbound message with a generated reply.
type Engine struct {
	registry  *registry.Registry
	generator reply.Generator
	cfg       Config
	logger    zerolog.Logger
}

// New creates an engine.
func New(reg *registry.Registry, gen reply.Generator, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	return &Engine{
		registry:  reg,
		generator: gen,
		cfg:       cfg,
		logger:    logger.With().Str("component", "engine").Logger(),
	}
}

// Run executes the session until the context is cancelled or the driver
// fails. A cancelled context is a normal shutdown and returns nil; a driver
// error is fatal for the session and is returned after the transcript and
// status record it.
func (e *Engine) Run(ctx context.Context, params Params) error {
	log := e.logger.With().Str("session_id", params.SessionID).Logger()

	fail := func(stage string, err error) error {
		detail := fmt.Sprintf("%s: %v", stage, err)
		e.appendSystem(params.SessionID, detail)
		if terr := e.registry.Transition(params.SessionID, registry.StatusError, detail); terr != nil {
			log.Warn().Err(terr).Msg("Failed to record error status")
		}
		log.Error().Err(err).Str("stage", stage).Msg("Session failed")
		return fmt.Errorf("%s: %w", stage, err)
	}

	e.appendSystem(params.SessionID, "Navigating to the messaging surface")
	if err := params.Handle.Navigate(ctx, e.cfg.SurfaceURL); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fail("navigation failed", err)
	}

	e.appendSystem(params.SessionID, "Signing in")
	if err := params.Handle.Authenticate(ctx, e.cfg.Credentials); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fail("authentication failed", err)
	}

	if err := e.registry.Transition(params.SessionID, registry.StatusLoggedIn, ""); err != nil {
		return err
	}

	e.appendSystem(params.SessionID, fmt.Sprintf("Opening conversation with %s", params.Counterpart))
	if err := params.Handle.OpenConversation(ctx, params.Counterpart); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fail("conversation open failed", err)
	}

	if params.OpeningMessage != "" {
		if err := params.Handle.SendMessage(ctx, params.OpeningMessage); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fail("opening message failed", err)
		}
		e.append(params.SessionID, registry.KindSent, params.OpeningMessage)
	}

	if err := e.registry.Transition(params.SessionID, registry.StatusRunning, ""); err != nil {
		return err
	}

	log.Info().Str("counterpart", params.Counterpart).Msg("Conversation loop started")

	// Inbound messages already answered, keyed by exact text.
	seen := make(map[string]bool)

	for {
		if err := e.sleep(ctx); err != nil {
			return nil
		}

		visible, err := params.Handle.ReadVisibleMessages(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fail("message read failed", err)
		}

		newest, ok := latestInboundMessage(visible)
		if !ok || seen[newest] {
			continue
		}
		seen[newest] = true

		e.append(params.SessionID, registry.KindReceived, newest)
		log.Debug().Msg("New inbound message")

		text := e.generateReply(ctx, params.SessionID, params.Persona)
		if ctx.Err() != nil {
			return nil
		}

		if err := params.Handle.SendMessage(ctx, text); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fail("message send failed", err)
		}
		e.append(params.SessionID, registry.KindSent, text)
	}
}

// generateReply asks the generator for the next message, falling back to
// canned text when generation fails. Generation failures are recoverable;
// the session keeps running.
func (e *Engine) generateReply(ctx context.Context, sessionID string, persona reply.PersonaContext) string {
	view, ok := e.registry.Get(sessionID)
	if !ok {
		return reply.FallbackText
	}

	prompt := reply.Prompt{
		Persona:    persona,
		Transcript: make([]reply.TranscriptEntry, 0, len(view.Transcript)),
	}
	for _, msg := range view.Transcript {
		prompt.Transcript = append(prompt.Transcript, reply.TranscriptEntry{
			Kind: string(msg.Kind),
			Text: msg.Text,
		})
	}

	start := time.Now()
	text, err := e.generator.Generate(ctx, prompt)
	metrics.ObserveReplyDuration(time.Since(start).Seconds())

	if err != nil {
		metrics.RecordReply("fallback")
		e.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Reply generation failed, using fallback")
		e.appendSystem(sessionID, fmt.Sprintf("Reply generation failed: %v", err))
		return reply.FallbackText
	}

	metrics.RecordReply("ok")
	return text
}

func (e *Engine) sleep(ctx context.Context) error {
	timer := time.NewTimer(e.cfg.PollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Engine) append(sessionID string, kind registry.Kind, text string) {
	if err := e.registry.AppendMessage(sessionID, kind, text); err != nil {
		e.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Transcript append failed")
	}
}

func (e *Engine) appendSystem(sessionID, text string) {
	e.append(sessionID, registry.KindSystem, text)
}

// latestInboundMessage returns the newest visible message, and only when the
// counterpart authored it. If the conversation currently ends with one of our
// own messages there is nothing to answer, even if older counterpart rows are
// still on screen.
func latestInboundMessage(visible []driver.VisibleMessage) (string, bool) {
	if len(visible) == 0 {
		return "", false
	}
	last := visible[len(visible)-1]
	if !last.FromCounterpart {
		return "", false
	}
	return last.Text, true
}

// IsDriverError reports whether err originated in the automation driver.
func IsDriverError(err error) bool {
	var derr *driver.DriverError
	return errors.As(err, &derr)
}
