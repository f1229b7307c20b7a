package backoff

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/seo-auditor/internal/audit"
)

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	p := New(Config{MaxAttempts: 3})
	transient := audit.NewFetchError("https://example.com", 503, nil)
	permanent := audit.NewFetchError("https://example.com", 404, nil)

	require.True(t, p.ShouldRetry(transient, 1))
	require.True(t, p.ShouldRetry(fmt.Errorf("wrapped: %w", context.DeadlineExceeded), 2))
	require.False(t, p.ShouldRetry(transient, 3))
	require.False(t, p.ShouldRetry(permanent, 1))
	require.False(t, p.ShouldRetry(errors.New("parse"), 1))
	require.False(t, p.ShouldRetry(nil, 1))
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	t.Parallel()

	p := New(Config{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond})
	p.jitter = func(limit time.Duration) time.Duration { return limit }

	require.Equal(t, 100*time.Millisecond, p.Backoff(1))
	require.Equal(t, 200*time.Millisecond, p.Backoff(2))
	require.Equal(t, 300*time.Millisecond, p.Backoff(3))
	require.Equal(t, 300*time.Millisecond, p.Backoff(10))
	require.Equal(t, 100*time.Millisecond, p.Backoff(0))
}

func TestBackoffJitterBounds(t *testing.T) {
	t.Parallel()

	p := New(Config{BaseDelay: time.Second})
	for i := 0; i < 50; i++ {
		d := p.Backoff(2)
		require.GreaterOrEqual(t, d, time.Second)
		require.Less(t, d, 2*time.Second)
	}
	require.Equal(t, 3, p.MaxAttempts())
}
