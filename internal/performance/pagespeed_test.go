package performance

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const psiBody = `{
  "loadingExperience": {"metrics": {"CUMULATIVE_LAYOUT_SHIFT_SCORE": {"percentile": 5}}},
  "lighthouseResult": {
    "audits": {
      "largest-contentful-paint": {"id": "largest-contentful-paint", "numericValue": 3200},
      "cumulative-layout-shift": {"id": "cumulative-layout-shift", "numericValue": 0.4},
      "total-blocking-time": {"id": "total-blocking-time", "numericValue": 350},
      "render-blocking-resources": {"id": "render-blocking-resources", "title": "Eliminate render-blocking resources", "score": 0.2, "displayValue": "Potential savings of 450 ms"},
      "uses-http2": {"id": "uses-http2", "title": "Use HTTP/2", "score": 1}
    },
    "categories": {"performance": {"score": 0.72}}
  }
}`

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

type psiServer struct {
	srv      *httptest.Server
	calls    atomic.Int32
	failures int32
	lastURL  atomic.Value
}

func newPSIServer(t *testing.T, failures int32) *psiServer {
	t.Helper()
	ps := &psiServer{failures: failures}
	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := ps.calls.Add(1)
		ps.lastURL.Store(r.URL.String())
		if n <= ps.failures {
			http.Error(w, `{"error":{"code":500,"message":"backend"}}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, psiBody)
	}))
	t.Cleanup(ps.srv.Close)
	return ps
}

func newTestClient(t *testing.T, ps *psiServer, clk *fakeClock, retries int) *Client {
	t.Helper()
	c, err := New(context.Background(), Config{APIKey: "test-key", MaxRetries: retries}, clk, zap.NewNop(),
		option.WithEndpoint(ps.srv.URL+"/"))
	require.NoError(t, err)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestFetchWithoutKeyReturnsNil(t *testing.T) {
	t.Parallel()

	c, err := New(context.Background(), Config{}, &fakeClock{}, nil)
	require.NoError(t, err)
	require.False(t, c.Configured())

	report, err := c.Fetch(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Nil(t, report)
}

func TestFetchExtractsMetrics(t *testing.T) {
	t.Parallel()

	ps := newPSIServer(t, 0)
	c := newTestClient(t, ps, &fakeClock{now: time.Unix(0, 0)}, 2)

	report, err := c.Fetch(context.Background(), "https://example.com/")
	require.NoError(t, err)
	require.NotNil(t, report)
	require.Contains(t, ps.lastURL.Load(), "strategy=MOBILE")
	require.Contains(t, ps.lastURL.Load(), "category=PERFORMANCE")

	require.Equal(t, "mobile", report.Strategy)
	require.InDelta(t, 3.2, *report.LCP, 0.0001)
	require.InDelta(t, 0.05, *report.CLS, 0.0001, "field data wins over lab data")
	require.InDelta(t, 350, *report.TBT, 0.0001)
	require.Nil(t, report.INP)
	require.InDelta(t, 72, *report.PerformanceScore, 0.0001)

	require.Contains(t, report.Notes, "Good performance score: 72/100")
	require.Contains(t, report.Notes, "LCP needs improvement: 3.20s (target: ≤2.5s)")
	require.Contains(t, report.Notes, "CLS is excellent: 0.050 (target: ≤0.1)")

	require.Len(t, report.Opportunities, 2)
	require.Equal(t, auditLCP, report.Opportunities[0].ID)
	require.InDelta(t, 700, report.Opportunities[0].SavingsMs, 0.0001)
	require.Equal(t, auditTBT, report.Opportunities[1].ID)

	require.Len(t, report.Diagnostics, 1)
	require.Equal(t, "render-blocking-resources", report.Diagnostics[0].ID)
}

func TestFetchCachesPerURL(t *testing.T) {
	t.Parallel()

	ps := newPSIServer(t, 0)
	clk := &fakeClock{now: time.Unix(0, 0)}
	c := newTestClient(t, ps, clk, 0)

	_, err := c.Fetch(context.Background(), "https://example.com/")
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), "https://example.com/")
	require.NoError(t, err)
	require.Equal(t, int32(1), ps.calls.Load())

	clk.now = clk.now.Add(31 * time.Minute)
	_, err = c.Fetch(context.Background(), "https://example.com/")
	require.NoError(t, err)
	require.Equal(t, int32(2), ps.calls.Load())
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	ps := newPSIServer(t, 2)
	c := newTestClient(t, ps, &fakeClock{now: time.Unix(0, 0)}, 2)

	report, err := c.Fetch(context.Background(), "https://example.com/")
	require.NoError(t, err)
	require.NotNil(t, report)
	require.Equal(t, int32(3), ps.calls.Load())
	require.Equal(t, 2, c.failures.Count())
}

func TestFetchGivesUpAfterRetries(t *testing.T) {
	t.Parallel()

	ps := newPSIServer(t, 100)
	c := newTestClient(t, ps, &fakeClock{now: time.Unix(0, 0)}, 1)

	report, err := c.Fetch(context.Background(), "https://example.com/")
	require.Error(t, err)
	require.Nil(t, report)
	require.Contains(t, err.Error(), "after 2 attempts")
	require.Equal(t, int32(2), ps.calls.Load())
}

func TestNewWithoutClockUsesWallTime(t *testing.T) {
	t.Parallel()

	ps := newPSIServer(t, 0)
	c, err := New(context.Background(), Config{APIKey: "test-key"}, nil, nil, option.WithEndpoint(ps.srv.URL+"/"))
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), "https://example.com/")
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), "https://example.com/")
	require.NoError(t, err)
	require.Equal(t, int32(1), ps.calls.Load())
}
