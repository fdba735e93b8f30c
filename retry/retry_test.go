package retry

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestVerifySettings(t *testing.T) {
	for _, tc := range []struct {
		desc          string
		settings      Settings
		expectedError string
	}{
		{
			desc:     "default settings",
			settings: DefaultSettings(),
		},
		{
			desc:          "initial backoff bad settings",
			settings:      Settings{},
			expectedError: "initial backoff must be set to >= 0, got 0s",
		},
		{
			desc:          "multiplier bad",
			settings:      Settings{InitialBackoff: time.Second},
			expectedError: "multiplier must be >= 1, got 0",
		},
		{
			desc:          "max backoff bad",
			settings:      Settings{InitialBackoff: time.Second, Multiplier: 5, MaxBackoff: time.Millisecond},
			expectedError: "initial backoff (1s) must be less than max backoff (1ms)",
		},
		{
			desc:          "jitter bad",
			settings:      Settings{InitialBackoff: time.Second, Multiplier: 2, Jitter: 1},
			expectedError: "jitter must be in [0, 1), got 1.000000",
		},
		{
			desc:     "everything valid",
			settings: Settings{InitialBackoff: time.Second, Multiplier: 5, MaxBackoff: time.Hour, Jitter: 0.1},
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			err := tc.settings.Verify()
			if tc.expectedError != "" {
				require.Error(t, err)
				require.EqualError(t, err, tc.expectedError)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestBackoffDuration(t *testing.T) {
	for _, tc := range []struct {
		desc     string
		settings Settings
		attempt  int
		expected time.Duration
	}{
		{
			desc:     "first attempt is the initial backoff",
			settings: Settings{InitialBackoff: time.Second, Multiplier: 2},
			attempt:  1,
			expected: time.Second,
		},
		{
			desc:     "third attempt quadruples",
			settings: Settings{InitialBackoff: time.Second, Multiplier: 2},
			attempt:  3,
			expected: 4 * time.Second,
		},
		{
			desc:     "capped at max backoff",
			settings: Settings{InitialBackoff: time.Second, Multiplier: 2, MaxBackoff: 3 * time.Second},
			attempt:  3,
			expected: 3 * time.Second,
		},
		{
			desc:     "multiplier of one stays flat",
			settings: Settings{InitialBackoff: 500 * time.Millisecond, Multiplier: 1},
			attempt:  10,
			expected: 500 * time.Millisecond,
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			require.Equal(t, tc.expected, tc.settings.BackoffDuration(tc.attempt))
		})
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	settings := Settings{InitialBackoff: time.Second, Multiplier: 2, Jitter: 0.1}
	for i := 0; i < 100; i++ {
		d := settings.BackoffDuration(3)
		require.GreaterOrEqual(t, d, 3600*time.Millisecond)
		require.LessOrEqual(t, d, 4400*time.Millisecond)
	}
}

func TestRetry(t *testing.T) {
	startTime := time.Date(2020, 01, 01, 0, 0, 0, 0, time.UTC)

	for _, tc := range []struct {
		desc             string
		settings         Settings
		expectedNext     []time.Time
		expectedContinue bool
	}{
		{
			desc: "infinite retries",
			settings: Settings{
				InitialBackoff: time.Second,
				Multiplier:     2,
			},
			expectedNext: []time.Time{
				startTime.Add(time.Second),
				startTime.Add(time.Second * 3),
				startTime.Add(time.Second * 7),
				startTime.Add(time.Second * 15),
			},
			expectedContinue: true,
		},
		{
			desc: "max backoff",
			settings: Settings{
				InitialBackoff: time.Second,
				Multiplier:     2,
				MaxBackoff:     time.Second * 2,
			},
			expectedNext: []time.Time{
				startTime.Add(time.Second),
				startTime.Add(time.Second * 3),
				startTime.Add(time.Second * 5),
				startTime.Add(time.Second * 7),
			},
			expectedContinue: true,
		},
		{
			desc: "max retries",
			settings: Settings{
				InitialBackoff: time.Second,
				Multiplier:     2,
				MaxRetries:     3,
			},
			expectedNext: []time.Time{
				startTime.Add(time.Second),
				startTime.Add(time.Second * 3),
				startTime.Add(time.Second * 7),
			},
			expectedContinue: false,
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			r := mustRetryWithTime(t, startTime, tc.settings)
			for i, expectedNext := range tc.expectedNext {
				require.Equal(t, i+1, r.Iteration)
				require.Equal(t, r.NextRetry, expectedNext)
				if i < len(tc.expectedNext)-1 {
					require.True(t, r.ShouldContinue())
				}
				r.Next()
			}
			require.Equal(t, tc.expectedContinue, r.ShouldContinue())
		})
	}
}

func mustRetryWithTime(t *testing.T, ti time.Time, settings Settings) *Retry {
	ret, err := NewRetryWithTime(ti, settings)
	require.NoError(t, err)
	return ret
}

func fastSettings(maxRetries int) Settings {
	return Settings{
		InitialBackoff: time.Microsecond,
		Multiplier:     1,
		MaxRetries:     maxRetries,
	}
}

func TestDoRetriesRetryable(t *testing.T) {
	ctx := context.Background()

	attempts := 0
	err := Do(ctx, fastSettings(5), zerolog.Nop(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.Mark(errors.New("boom"), ErrConnection)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestDoStopsOnTerminal(t *testing.T) {
	ctx := context.Background()

	attempts := 0
	terminal := errors.Mark(errors.New("bad statement"), ErrSyntax)
	err := Do(ctx, fastSettings(5), zerolog.Nop(), func(ctx context.Context) error {
		attempts++
		return terminal
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrSyntax))
	require.Equal(t, 1, attempts)
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	ctx := context.Background()

	attempts := 0
	err := Do(ctx, fastSettings(3), zerolog.Nop(), func(ctx context.Context) error {
		attempts++
		return errors.Mark(errors.New("flaky"), ErrConnection)
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "giving up after 3 attempts")
	require.Equal(t, 3, attempts)
}

func TestDoAdvancesRetryState(t *testing.T) {
	ctx := context.Background()

	rm, err := NewRetry(fastSettings(5))
	require.NoError(t, err)

	attempts := 0
	err = rm.Do(ctx, zerolog.Nop(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.Mark(errors.New("boom"), ErrConnection)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
	// Each retried failure advanced the state machine.
	require.Equal(t, 3, rm.Iteration)
}

func TestDoRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, Settings{InitialBackoff: time.Hour, Multiplier: 2}, zerolog.Nop(), func(ctx context.Context) error {
		return errors.Mark(errors.New("flaky"), ErrConnection)
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled))
}
