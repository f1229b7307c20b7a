package audit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunStatusTransitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to RunStatus
		ok       bool
	}{
		{RunStatusQueued, RunStatusRunning, true},
		{RunStatusQueued, RunStatusReady, false},
		{RunStatusQueued, RunStatusFailed, true},
		{RunStatusRunning, RunStatusRunning, true},
		{RunStatusRunning, RunStatusReady, true},
		{RunStatusRunning, RunStatusFailed, true},
		{RunStatusRunning, RunStatusQueued, false},
		{RunStatusReady, RunStatusFailed, false},
		{RunStatusReady, RunStatusRunning, false},
		{RunStatusFailed, RunStatusRunning, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.ok, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
	require.ElementsMatch(t, []RunStatus{RunStatusRunning}, AllowedFrom(RunStatusReady))
	require.ElementsMatch(t, []RunStatus{RunStatusQueued, RunStatusRunning}, AllowedFrom(RunStatusFailed))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	t.Parallel()

	require.Equal(t, KindTransient, Classify(NewFetchError("u", http.StatusServiceUnavailable, nil)))
	require.Equal(t, KindTransient, Classify(NewFetchError("u", http.StatusTooManyRequests, nil)))
	require.Equal(t, KindPermanent, Classify(NewFetchError("u", http.StatusNotFound, nil)))
	require.Equal(t, KindPermanent, Classify(NewFetchError("u", http.StatusForbidden, nil)))
	require.Equal(t, KindTransient, Classify(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	require.Equal(t, KindTransient, Classify(&net.OpError{Op: "read", Err: syscall.ECONNRESET}))
	require.Equal(t, KindTransient, Classify(&net.DNSError{Err: "no such host", Name: "x.invalid"}))
	require.Equal(t, KindTransient, Classify(timeoutErr{}))
	require.Equal(t, KindPermanent, Classify(errors.New("parse failure")))
	require.Equal(t, KindPermanent, Classify(PermanentError("u", context.DeadlineExceeded)))

	transportErr := NewFetchError("u", 0, fmt.Errorf("get: %w", timeoutErr{}))
	require.Equal(t, KindTransient, transportErr.Kind)
	require.True(t, IsTransient(fmt.Errorf("job: %w", transportErr)))
}

func TestFetchErrorMessage(t *testing.T) {
	t.Parallel()

	err := NewFetchError("https://example.com", http.StatusBadGateway, nil)
	require.Equal(t, "fetch https://example.com: status 502: Bad Gateway", err.Error())
	require.Equal(t, "transient", err.Kind.String())
}

func TestResultEncodeDecode(t *testing.T) {
	t.Parallel()

	res := Result{
		URL:          "https://example.com/",
		FetchedAt:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Checks:       map[string]CheckResult{"title": Warn(50, "title length 4 (expected 50-60)")},
		OverallScore: 50,
		Analytics:    UnavailableAnalytics("Search Console authentication required. Please authenticate first."),
	}
	data, err := res.Encode()
	require.NoError(t, err)
	require.Contains(t, string(data), `"version":"1.0"`)
	require.Contains(t, string(data), `"performance":null`)

	decoded, err := DecodeResult(data)
	require.NoError(t, err)
	require.Equal(t, ResultSchemaVersion, decoded.Version)
	require.Equal(t, res.Checks, decoded.Checks)

	_, err = DecodeResult([]byte(`{"version":"2.0","url":"x"}`))
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestCheckConstructorsClampScore(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, Fail(-5, "").Score)
	require.Equal(t, 100, Warn(150, "").Score)
	require.Equal(t, CheckResult{Status: CheckPass, Score: 100, Notes: "ok"}, Pass("ok"))
}
