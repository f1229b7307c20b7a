// Package performance fetches page-performance metrics from the PageSpeed Insights API.
package performance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/api/pagespeedonline/v5"

	"github.com/JakeFAU/seo-auditor/internal/audit"
	"github.com/JakeFAU/seo-auditor/internal/clock/system"
	"github.com/JakeFAU/seo-auditor/internal/cache"
	"github.com/JakeFAU/seo-auditor/internal/monitor"
	"github.com/JakeFAU/seo-auditor/internal/telemetry"
)

// NotConfiguredNote explains a missing performance report when no API key is set.
const NotConfiguredNote = "PSI API key not provided - performance data unavailable"

// Config holds PageSpeed settings.
type Config struct {
	APIKey     string
	Strategy   string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	CacheTTL   time.Duration
}

// Client implements audit.PerformanceSource on top of the PageSpeed Insights v5 API.
type Client struct {
	cfg      Config
	svc      *pagespeedonline.Service
	cache    *cache.TTL[*audit.PerformanceReport]
	failures *monitor.Failures
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// New builds a Client. Without an API key it is valid but reports nothing.
// opts are passed to the Google API client, which tests use to point it at a fake endpoint.
func New(
	ctx context.Context,
	cfg Config,
	clock audit.Clock,
	logger *zap.Logger,
	opts ...option.ClientOption,
) (*Client, error) {
	if cfg.Strategy == "" {
		cfg.Strategy = "mobile"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Minute
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		cfg:      cfg,
		cache:    cache.New[*audit.PerformanceReport](cfg.CacheTTL, clock),
		failures: monitor.NewFailures("pagespeed", 10*time.Minute, 5, clock, logger),
		logger:   logger.Named("pagespeed"),
		sleep:    sleepContext,
	}
	if cfg.APIKey == "" {
		return c, nil
	}
	svc, err := pagespeedonline.NewService(ctx, append([]option.ClientOption{option.WithAPIKey(cfg.APIKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create pagespeed service: %w", err)
	}
	c.svc = svc
	return c, nil
}

// Configured reports whether an API key was supplied.
func (c *Client) Configured() bool {
	return c.svc != nil
}

// Fetch returns the performance report for pageURL. It returns nil, nil when no API key is configured.
func (c *Client) Fetch(ctx context.Context, pageURL string) (*audit.PerformanceReport, error) {
	if c.svc == nil {
		return nil, nil
	}
	key := pageURL + "|" + c.cfg.Strategy
	if report, ok := c.cache.Get(key); ok {
		telemetry.ObserveCacheLookup("pagespeed", true)
		return report, nil
	}
	telemetry.ObserveCacheLookup("pagespeed", false)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.RetryDelay * time.Duration(math.Pow(2, float64(attempt-1)))
			if err := c.sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("pagespeed backoff: %w", err)
			}
		}
		resp, err := c.run(ctx, pageURL)
		if err == nil {
			report := buildReport(resp, c.cfg.Strategy)
			c.cache.Set(key, report)
			return report, nil
		}
		lastErr = err
		c.failures.Record()
		c.logger.Warn("pagespeed request failed",
			zap.String("url", pageURL),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if errors.Is(err, context.Canceled) {
			break
		}
	}
	telemetry.ObserveSourceFailure("performance", audit.Classify(lastErr).String())
	return nil, fmt.Errorf("pagespeed after %d attempts: %w", c.cfg.MaxRetries+1, lastErr)
}

func (c *Client) run(ctx context.Context, pageURL string) (*pagespeedonline.PagespeedApiPagespeedResponseV5, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	resp, err := c.svc.Pagespeedapi.Runpagespeed(pageURL).
		Strategy(strings.ToUpper(c.cfg.Strategy)).
		Category("PERFORMANCE").
		Context(callCtx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("run pagespeed: %w", err)
	}
	return resp, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
