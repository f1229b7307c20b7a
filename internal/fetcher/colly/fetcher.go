// Package collyfetcher implements audit.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-auditor/internal/audit"
	"github.com/JakeFAU/seo-auditor/internal/telemetry"
)

// DefaultUserAgent mimics a desktop Chrome so sites serve their regular markup.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// DefaultTimeout bounds a single fetch.
const DefaultTimeout = 15 * time.Second

var browserHeaders = http.Header{
	"Accept": {"text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"},
	"Accept-Language":           {"en-US,en;q=0.9"},
	"Cache-Control":             {"no-cache"},
	"Pragma":                    {"no-cache"},
	"Sec-Fetch-Dest":            {"document"},
	"Sec-Fetch-Mode":            {"navigate"},
	"Sec-Fetch-Site":            {"none"},
	"Upgrade-Insecure-Requests": {"1"},
}

// ErrEmptyBody is returned when a page answers 2xx without content.
var ErrEmptyBody = errors.New("empty response body")

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Fetcher implements audit.Fetcher using the Colly collector.
// Each fetch gets its own collector; only the connection pool is shared.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
	logger    *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:       cfg,
		transport: newHTTPTransport(),
		logger:    logger.Named("colly_fetcher"),
	}
}

// Fetch executes a single HTTP GET. Every failure is an *audit.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, request audit.FetchRequest) (audit.FetchResponse, error) {
	var (
		result   audit.FetchResponse
		failure  *audit.FetchError
		start    = time.Now()
		respects = f.cfg.RespectRobots || request.RespectRobots
	)
	collector, robots := f.buildCollector(ctx, request, respects, start, &result, &failure)

	if err := f.runCollector(ctx, collector, request.URL, &failure); err != nil {
		telemetry.ObserveSourceFailure("html", audit.Classify(err).String())
		return audit.FetchResponse{}, err
	}
	if robots != nil && robots.assumedAllowAll() {
		f.logger.Warn("robots.txt unreachable, treated as allow-all",
			zap.String("url", request.URL),
			zap.String("reason", robots.assumedBy),
		)
	}
	if len(strings.TrimSpace(string(result.Body))) == 0 {
		err := &audit.FetchError{Kind: audit.KindTransient, URL: request.URL, StatusCode: result.StatusCode, Err: ErrEmptyBody}
		telemetry.ObserveSourceFailure("html", err.Kind.String())
		return audit.FetchResponse{}, err
	}
	telemetry.ObserveFetch(request.URL, false, len(result.Body))
	return result, nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	request audit.FetchRequest,
	respectRobots bool,
	start time.Time,
	result *audit.FetchResponse,
	failure **audit.FetchError,
) (*colly.Collector, *robotsTransport) {
	collector := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.StdlibContext(ctx),
		colly.UserAgent(f.cfg.UserAgent),
	)
	collector.IgnoreRobotsTxt = !respectRobots
	collector.SetRequestTimeout(f.cfg.Timeout)

	var robots *robotsTransport
	if respectRobots {
		robots = newRobotsTransport(f.transport)
		collector.WithTransport(robots)
	} else {
		collector.WithTransport(f.transport)
	}

	f.configureCollectorHooks(collector, request, start, result, failure)
	return collector, robots
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request audit.FetchRequest,
	start time.Time,
	result *audit.FetchResponse,
	failure **audit.FetchError,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(browserHeaders, r)
		copyHeaders(request.Headers, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = audit.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		*failure = audit.NewFetchError(request.URL, status, err)
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, failure **audit.FetchError) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return audit.NewFetchError(url, 0, fmt.Errorf("colly fetch canceled: %w", ctx.Err()))
	case err := <-done:
		if *failure != nil {
			return *failure
		}
		if err != nil {
			if errors.Is(err, colly.ErrRobotsTxtBlocked) || errors.Is(err, colly.ErrMissingURL) {
				return audit.PermanentError(url, err)
			}
			return audit.NewFetchError(url, 0, err)
		}
		return nil
	}
}

func copyHeaders(headers http.Header, r *colly.Request) {
	for key, values := range headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
