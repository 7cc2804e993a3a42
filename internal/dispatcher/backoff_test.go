package dispatcher_test

import (
	"testing"
	"time"

	"github.com/eggdevsol-del/manuscalendair-notifications/internal/dispatcher"
	"github.com/stretchr/testify/require"
)

func TestBackoff_ExponentialWithJitterBounds(t *testing.T) {
	b := dispatcher.Backoff{BaseDelay: time.Second, MaxDelay: time.Minute}

	for attempt := 1; attempt <= 6; attempt++ {
		expected := time.Second << (attempt - 1)

		for i := 0; i < 50; i++ {
			delay := b.Delay(attempt)
			require.GreaterOrEqual(t, delay, expected, "attempt %d", attempt)
			require.LessOrEqual(t, delay, expected+expected/5, "attempt %d", attempt)
		}
	}
}

func TestBackoff_MonotonicIgnoringJitter(t *testing.T) {
	b := dispatcher.Backoff{BaseDelay: 500 * time.Millisecond, MaxDelay: time.Hour}

	// Lower bound of the jitter window grows with the attempt number.
	prev := time.Duration(0)
	for attempt := 1; attempt <= 10; attempt++ {
		floor := 500 * time.Millisecond << (attempt - 1)
		require.Greater(t, floor, prev)
		require.GreaterOrEqual(t, b.Delay(attempt), floor)
		prev = floor
	}
}

func TestBackoff_CappedAtMaxDelay(t *testing.T) {
	b := dispatcher.Backoff{BaseDelay: time.Second, MaxDelay: 8 * time.Second}

	for i := 0; i < 50; i++ {
		delay := b.Delay(30)
		require.GreaterOrEqual(t, delay, 8*time.Second)
		require.LessOrEqual(t, delay, 8*time.Second+8*time.Second/5)
	}
}

func TestBackoff_NextAttemptAtNeverBeforeNow(t *testing.T) {
	b := dispatcher.Backoff{BaseDelay: time.Second, MaxDelay: time.Minute}

	now := time.Now().UTC()
	require.True(t, b.NextAttemptAt(now, 1).After(now))
}

func TestBackoff_ZeroAttemptTreatedAsFirst(t *testing.T) {
	b := dispatcher.Backoff{BaseDelay: time.Second, MaxDelay: time.Minute}

	delay := b.Delay(0)
	require.GreaterOrEqual(t, delay, time.Second)
	require.LessOrEqual(t, delay, time.Second+time.Second/5)
}
