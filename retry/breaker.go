package retry

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrBreakerOpen is returned instead of running an operation while the
// breaker is open. It is terminal: retrying through an open breaker would
// defeat its purpose.
var ErrBreakerOpen = errors.New("circuit breaker open")

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	}
	return "unknown"
}

type BreakerSettings struct {
	// ConsecutiveFailures opens the breaker after this many failures in a
	// row.
	ConsecutiveFailures int
	// FailureRate opens the breaker when the rolling failure rate reaches
	// this fraction. Only evaluated once WindowSize outcomes have been
	// recorded.
	FailureRate float64
	WindowSize  int
	// Cooldown is how long the breaker stays open before admitting a
	// half-open probe.
	Cooldown time.Duration
}

func (s BreakerSettings) Verify() error {
	if s.ConsecutiveFailures < 1 {
		return errors.Newf("consecutive failures must be >= 1, got %d", s.ConsecutiveFailures)
	}
	if s.FailureRate <= 0 || s.FailureRate > 1 {
		return errors.Newf("failure rate must be in (0, 1], got %f", s.FailureRate)
	}
	if s.WindowSize < 1 {
		return errors.Newf("window size must be >= 1, got %d", s.WindowSize)
	}
	if s.Cooldown <= 0 {
		return errors.Newf("cooldown must be > 0, got %s", s.Cooldown)
	}
	return nil
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		ConsecutiveFailures: 5,
		FailureRate:         0.5,
		WindowSize:          20,
		Cooldown:            30 * time.Second,
	}
}

// Breaker is an explicit state machine over the Closed, Open and HalfOpen
// states, evaluated at call time rather than by a background timer, keeping
// callers single-threaded and deterministic. It is not safe for concurrent use;
// the sync pipeline owns one breaker per connection.
type Breaker struct {
	settings BreakerSettings

	state       BreakerState
	consecutive int
	window      []bool
	windowIdx   int
	windowLen   int
	openedAt    time.Time

	now func() time.Time
}

func NewBreaker(settings BreakerSettings) (*Breaker, error) {
	return NewBreakerWithClock(settings, time.Now)
}

func NewBreakerWithClock(settings BreakerSettings, now func() time.Time) (*Breaker, error) {
	if err := settings.Verify(); err != nil {
		return nil, err
	}
	return &Breaker{
		settings: settings,
		window:   make([]bool, settings.WindowSize),
		now:      now,
	}, nil
}

// State evaluates the cooldown and returns the current state. An open
// breaker whose cooldown has elapsed transitions to half-open.
func (b *Breaker) State() BreakerState {
	if b.state == BreakerOpen && !b.now().Before(b.openedAt.Add(b.settings.Cooldown)) {
		b.state = BreakerHalfOpen
	}
	return b.state
}

// Allow reports whether an operation may proceed. In the half-open state
// the next operation is the probe.
func (b *Breaker) Allow() bool {
	return b.State() != BreakerOpen
}

func (b *Breaker) ReportSuccess() {
	if b.State() == BreakerHalfOpen {
		b.reset()
		return
	}
	b.consecutive = 0
	b.record(false)
}

func (b *Breaker) ReportFailure() {
	if b.State() == BreakerHalfOpen {
		// The probe failed; start a fresh cooldown.
		b.trip()
		return
	}
	b.consecutive++
	b.record(true)
	if b.consecutive >= b.settings.ConsecutiveFailures || b.failureRate() >= b.settings.FailureRate {
		b.trip()
	}
}

// Do runs fn behind the breaker. While open, fn is skipped entirely and
// ErrBreakerOpen is returned so queued operations fail fast during the
// cooldown window.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.Allow() {
		return errors.Mark(
			errors.Newf("circuit breaker open until %s", b.openedAt.Add(b.settings.Cooldown)),
			ErrBreakerOpen,
		)
	}
	if err := fn(ctx); err != nil {
		b.ReportFailure()
		return err
	}
	b.ReportSuccess()
	return nil
}

func (b *Breaker) trip() {
	b.state = BreakerOpen
	b.openedAt = b.now()
}

func (b *Breaker) reset() {
	b.state = BreakerClosed
	b.consecutive = 0
	b.windowIdx = 0
	b.windowLen = 0
}

func (b *Breaker) record(failed bool) {
	b.window[b.windowIdx] = failed
	b.windowIdx = (b.windowIdx + 1) % len(b.window)
	if b.windowLen < len(b.window) {
		b.windowLen++
	}
}

// failureRate is the fraction of failures in the rolling window, or 0
// until the window has filled.
func (b *Breaker) failureRate() float64 {
	if b.windowLen < len(b.window) {
		return 0
	}
	failures := 0
	for _, failed := range b.window {
		if failed {
			failures++
		}
	}
	return float64(failures) / float64(b.windowLen)
}
