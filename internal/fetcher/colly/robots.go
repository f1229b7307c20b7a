package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const allowAllRobots = "User-agent: *\nAllow: /"

// defaultRobotsDelays are the waits between robots.txt attempts; len+1 attempts are made.
var defaultRobotsDelays = []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second}

// robotsTransport retries robots.txt requests that time out. When every attempt times out it
// answers with an allow-all document and records why.
// One transport serves one fetch.
type robotsTransport struct {
	next       http.RoundTripper
	delays     []time.Duration
	assumedBy  string
	robotsHits int
}

func newRobotsTransport(next http.RoundTripper) *robotsTransport {
	return &robotsTransport{next: next, delays: defaultRobotsDelays}
}

// assumedAllowAll reports whether robots.txt was replaced by the allow-all fallback.
func (t *robotsTransport) assumedAllowAll() bool {
	return t.assumedBy != ""
}

func (t *robotsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots transport: nil request")
	}
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		resp, err := t.next.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("roundtrip %s: %w", req.URL.Host, err)
		}
		return resp, nil
	}

	for attempt := 0; ; attempt++ {
		t.robotsHits++
		resp, err := t.next.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !isRobotsTimeout(err) {
			return nil, fmt.Errorf("fetch robots.txt: %w", err)
		}
		if attempt >= len(t.delays) {
			t.assumedBy = "robots.txt timed out after " + fmt.Sprint(attempt+1) + " attempts"
			return allowAllResponse(req), nil
		}
		if err := waitContext(req.Context(), t.delays[attempt]); err != nil {
			return nil, fmt.Errorf("fetch robots.txt: %w", err)
		}
	}
}

func allowAllResponse(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Request:       req,
	}
}

// isRobotsTimeout matches deadline and TLS handshake timeouts; other errors fail the fetch.
func isRobotsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}

func waitContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
