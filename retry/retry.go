// Package retry provides exponential backoff with jitter, a classifier
// separating retryable from terminal failures, and a circuit breaker for
// dependencies that keep failing.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

type Settings struct {
	InitialBackoff time.Duration
	Multiplier     int
	MaxBackoff     time.Duration
	// MaxRetries bounds the number of attempts; 0 means unbounded.
	MaxRetries int
	// Jitter is the symmetric jitter fraction applied to the capped
	// backoff, e.g. 0.1 spreads each delay by 10% either way. 0 disables
	// jitter.
	Jitter float64
}

func (s Settings) Verify() error {
	if s.InitialBackoff <= 0 {
		return errors.Newf("initial backoff must be set to >= 0, got %s", s.InitialBackoff)
	}
	if s.Multiplier < 1 {
		return errors.Newf("multiplier must be >= 1, got %d", s.Multiplier)
	}
	if s.MaxBackoff > 0 && s.InitialBackoff > s.MaxBackoff {
		return errors.Newf("initial backoff (%s) must be less than max backoff (%s)", s.InitialBackoff, s.MaxBackoff)
	}
	if s.Jitter < 0 || s.Jitter >= 1 {
		return errors.Newf("jitter must be in [0, 1), got %f", s.Jitter)
	}
	return nil
}

func DefaultSettings() Settings {
	return Settings{
		InitialBackoff: time.Second,
		Multiplier:     2,
		MaxBackoff:     30 * time.Second,
		MaxRetries:     5,
		Jitter:         0.1,
	}
}

// BackoffDuration returns the delay before the given 1-based attempt is
// retried: InitialBackoff * Multiplier^(attempt-1), capped at MaxBackoff,
// with symmetric jitter applied after the cap.
func (s Settings) BackoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(s.InitialBackoff) * math.Pow(float64(s.Multiplier), float64(attempt-1)))
	if s.MaxBackoff > 0 && d > s.MaxBackoff {
		d = s.MaxBackoff
	}
	if s.Jitter > 0 {
		spread := float64(d) * s.Jitter
		d += time.Duration((rand.Float64()*2 - 1) * spread)
	}
	return d
}

type Retry struct {
	Iteration int
	StartTime time.Time
	NextRetry time.Time

	settings Settings
}

func NewRetry(settings Settings) (*Retry, error) {
	return NewRetryWithTime(time.Now(), settings)
}

func NewRetryWithTime(t time.Time, settings Settings) (*Retry, error) {
	if err := settings.Verify(); err != nil {
		return nil, err
	}
	return &Retry{
		Iteration: 1,
		StartTime: t,
		NextRetry: t.Add(settings.InitialBackoff),
		settings:  settings,
	}, nil
}

func (rm *Retry) ShouldContinue() bool {
	if rm.settings.MaxRetries == 0 {
		return true
	}
	return rm.Iteration < rm.settings.MaxRetries
}

func (rm *Retry) Next() {
	rm.Iteration++
	rm.NextRetry = rm.NextRetry.Add(rm.settings.BackoffDuration(rm.Iteration))
}

// Do runs fn under the Retry state machine, retrying failures the
// classifier deems retryable with exponential backoff. Terminal failures
// return immediately. Retried operations must be safe to re-issue; the
// diff phases only wrap connection establishment and read queries in Do,
// never writes.
func (rm *Retry) Do(
	ctx context.Context, logger zerolog.Logger, fn func(ctx context.Context) error,
) error {
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		if !rm.ShouldContinue() {
			return errors.Wrapf(err, "giving up after %d attempts", rm.Iteration)
		}
		backoff := rm.settings.BackoffDuration(rm.Iteration)
		logger.Debug().
			Err(err).
			Int("attempt", rm.Iteration).
			Dur("backoff", backoff).
			Msgf("retrying after retryable failure")
		rm.Next()
		select {
		case <-ctx.Done():
			return errors.CombineErrors(ctx.Err(), err)
		case <-time.After(backoff):
		}
	}
}

// Do runs fn on a fresh Retry built from settings.
func Do(
	ctx context.Context, settings Settings, logger zerolog.Logger, fn func(ctx context.Context) error,
) error {
	rm, err := NewRetry(settings)
	if err != nil {
		return err
	}
	return rm.Do(ctx, logger, fn)
}
