package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func TestFailuresWarnAtThresholdAndResetAfterWindow(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	mon := NewFailures("pagespeed", 10*time.Minute, 5, clk, zap.New(core))

	for i := 1; i <= 4; i++ {
		require.Equal(t, i, mon.Record())
	}
	require.Zero(t, logs.Len())

	require.Equal(t, 5, mon.Record())
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	require.Equal(t, "pagespeed", entry.ContextMap()["service"])

	clk.now = clk.now.Add(10*time.Minute + time.Second)
	require.Equal(t, 1, mon.Record())
	require.Equal(t, 1, mon.Count())
}

func TestFailuresDefaults(t *testing.T) {
	t.Parallel()

	mon := NewFailures("search-console", 0, 0, &fakeClock{now: time.Unix(0, 0)}, nil)
	for i := 0; i < 10; i++ {
		mon.Record()
	}
	require.Equal(t, 10, mon.Count())
}

func TestFailuresWithoutClock(t *testing.T) {
	t.Parallel()

	mon := NewFailures("pagespeed", time.Minute, 2, nil, nil)
	require.Equal(t, 1, mon.Record())
	require.Equal(t, 2, mon.Record())
	require.Equal(t, 2, mon.Count())
}

func TestFailuresWarnOnEveryFailurePastThreshold(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	mon := NewFailures("pagespeed", 10*time.Minute, 2, &fakeClock{now: time.Unix(1_700_000_000, 0)}, zap.New(core))

	mon.Record()
	require.Zero(t, logs.Len())
	mon.Record()
	mon.Record()
	mon.Record()
	require.Equal(t, 3, logs.Len())
}
