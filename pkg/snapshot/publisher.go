package snapshot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vyvern/vyvern/internal/metrics"
)

// Capturer produces viewport snapshots. The driver handle satisfies this.
type Capturer interface {
	CaptureSnapshot(ctx context.Context) ([]byte, error)
}

// Config holds publisher timing configuration
type Config struct {
	// Interval is how often the publisher wakes up to consider a capture.
	Interval time.Duration

	// MinInterval is the floor between two actual capture attempts.
	MinInterval time.Duration
}

// DefaultConfig returns the standard publisher timing.
func DefaultConfig() Config {
	return Config{
		Interval:    500 * time.Millisecond,
		MinInterval: 2 * time.Second,
	}
}

// Publisher periodically captures snapshots from a Capturer and keeps only
// the latest frame. Capture failures are logged and skipped; the session
// itself never dies because a screenshot failed.
type Publisher struct {
	capturer Capturer
	cfg      Config
	logger   zerolog.Logger

	mu     sync.RWMutex
	latest []byte
	taken  time.Time

	inFlight    atomic.Bool
	lastAttempt atomic.Int64 // unix nanos

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPublisher creates a publisher around a capturer.
func NewPublisher(capturer Capturer, cfg Config, logger zerolog.Logger) *Publisher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.MinInterval < cfg.Interval {
		cfg.MinInterval = DefaultConfig().MinInterval
	}
	return &Publisher{
		capturer: capturer,
		cfg:      cfg,
		logger:   logger.With().Str("component", "snapshot").Logger(),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the capture loop.
func (p *Publisher) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.loop(ctx)
}

func (p *Publisher) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.maybeCapture(ctx)
		}
	}
}

// maybeCapture starts a capture unless one is already running or the last
// attempt was too recent. Ticks that lose either race are skipped, never
// queued.
func (p *Publisher) maybeCapture(ctx context.Context) {
	now := time.Now()
	last := time.Unix(0, p.lastAttempt.Load())
	if now.Sub(last) < p.cfg.MinInterval {
		return
	}

	if !p.inFlight.CompareAndSwap(false, true) {
		return
	}

	// The gate moves at attempt start so a slow capture delays the next
	// attempt instead of letting attempts bunch up behind it.
	p.lastAttempt.Store(now.UnixNano())

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inFlight.Store(false)

		data, err := p.capturer.CaptureSnapshot(ctx)
		if err != nil {
			metrics.RecordSnapshot("error")
			p.logger.Warn().Err(err).Msg("Snapshot capture failed")
			return
		}

		metrics.RecordSnapshot("ok")

		p.mu.Lock()
		p.latest = data
		p.taken = time.Now()
		p.mu.Unlock()
	}()
}

// Latest returns the most recent snapshot, or false when none has been
// captured yet.
func (p *Publisher) Latest() ([]byte, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.latest == nil {
		return nil, false
	}

	out := make([]byte, len(p.latest))
	copy(out, p.latest)
	return out, true
}

// TakenAt returns when the latest snapshot was captured.
func (p *Publisher) TakenAt() (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.taken, p.latest != nil
}

// Stop halts the capture loop and drops the buffered frame. Idempotent.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()

	p.mu.Lock()
	p.latest = nil
	p.mu.Unlock()
}
