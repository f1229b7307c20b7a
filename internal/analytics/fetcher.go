// Package analytics reports Search Console query data for audited pages.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/JakeFAU/seo-auditor/internal/audit"
	"github.com/JakeFAU/seo-auditor/internal/clock/system"
	"github.com/JakeFAU/seo-auditor/internal/cache"
	"github.com/JakeFAU/seo-auditor/internal/monitor"
	"github.com/JakeFAU/seo-auditor/internal/oauth"
	"github.com/JakeFAU/seo-auditor/internal/telemetry"
)

// AuthRequiredMessage is reported when no usable token exists.
const AuthRequiredMessage = "Search Console authentication required. Please authenticate first."

const dateLayout = "2006-01-02"

// TokenProvider resolves an OAuth token source for a tenant state.
type TokenProvider interface {
	TokenSource(ctx context.Context, state string) (oauth2.TokenSource, error)
}

// Config holds analytics settings. Zero values take the defaults.
type Config struct {
	CacheTTL     time.Duration
	LookbackDays int
	RowLimit     int64
}

// Fetcher implements audit.AnalyticsSource.
type Fetcher struct {
	cfg       Config
	tokens    TokenProvider
	newClient ClientFactory
	cache     *cache.TTL[audit.AnalyticsReport]
	failures  *monitor.Failures
	clock     audit.Clock
	logger    *zap.Logger
}

// New builds a Fetcher. Defaults: 10 minute cache, 28 day lookback, 10 rows, UTC wall clock.
func New(cfg Config, tokens TokenProvider, newClient ClientFactory, clock audit.Clock, logger *zap.Logger) *Fetcher {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 28
	}
	if cfg.RowLimit <= 0 {
		cfg.RowLimit = 10
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:       cfg,
		tokens:    tokens,
		newClient: newClient,
		cache:     cache.New[audit.AnalyticsReport](cfg.CacheTTL, clock),
		failures:  monitor.NewFailures("search_console", 10*time.Minute, 5, clock, logger),
		clock:     clock,
		logger:    logger.Named("analytics"),
	}
}

// Fetch returns analytics for pageURL. Failures are reported in the result with Available false.
func (f *Fetcher) Fetch(ctx context.Context, pageURL, state string) audit.AnalyticsReport {
	key := pageURL + "|" + state
	if report, ok := f.cache.Get(key); ok {
		telemetry.ObserveCacheLookup("analytics", true)
		return report
	}
	telemetry.ObserveCacheLookup("analytics", false)

	report, err := f.fetch(ctx, pageURL, state)
	if err != nil {
		f.failures.Record()
		telemetry.ObserveSourceFailure("analytics", audit.Classify(err).String())
		f.logger.Warn("search console fetch failed", zap.String("url", pageURL), zap.Error(err))
		return audit.UnavailableAnalytics("Search Console error: " + err.Error())
	}
	if report.Available {
		f.cache.Set(key, report)
	}
	return report
}

func (f *Fetcher) fetch(ctx context.Context, pageURL, state string) (audit.AnalyticsReport, error) {
	host, err := hostname(pageURL)
	if err != nil {
		return audit.AnalyticsReport{}, err
	}
	ts, err := f.tokens.TokenSource(ctx, state)
	if errors.Is(err, oauth.ErrNoToken) || errors.Is(err, oauth.ErrNotConfigured) {
		return audit.UnavailableAnalytics(AuthRequiredMessage), nil
	}
	if err != nil {
		return audit.AnalyticsReport{}, fmt.Errorf("resolve token: %w", err)
	}
	client, err := f.newClient(ctx, ts)
	if err != nil {
		return audit.AnalyticsReport{}, err
	}

	sites, err := client.ListSites(ctx)
	if err != nil {
		return audit.AnalyticsReport{}, err
	}
	property := ResolveProperty(sites, host)
	if property == "" {
		return audit.UnavailableAnalytics(fmt.Sprintf(
			"This Google account has no Search Console property for %s. Add the site in Search Console to view metrics.", host)), nil
	}

	end := f.clock.Now().UTC()
	start := end.AddDate(0, 0, -f.cfg.LookbackDays)
	q := Query{StartDate: start.Format(dateLayout), EndDate: end.Format(dateLayout), RowLimit: f.cfg.RowLimit}
	rows, err := client.QueryByQuery(ctx, property, q)
	if err != nil {
		return audit.AnalyticsReport{}, err
	}

	report := audit.AnalyticsReport{
		Available:  true,
		Message:    fmt.Sprintf("Data for %s (last %d days)", property, f.cfg.LookbackDays),
		Property:   property,
		StartDate:  q.StartDate,
		EndDate:    q.EndDate,
		TopQueries: rows,
	}
	for _, r := range rows {
		report.TotalClicks += r.Clicks
		report.TotalImpressions += r.Impressions
	}
	if report.TotalImpressions > 0 {
		report.AvgCTR = report.TotalClicks / report.TotalImpressions
	}
	return report, nil
}

// ResolveProperty picks the Search Console property for host: the domain property first,
// then the https and http URL-prefix properties. It returns "" when none matches.
func ResolveProperty(sites []string, host string) string {
	host = strings.ToLower(host)
	candidates := []string{
		"sc-domain:" + strings.TrimPrefix(host, "www."),
		"https://" + host + "/",
		"http://" + host + "/",
	}
	for _, want := range candidates {
		for _, site := range sites {
			if strings.EqualFold(site, want) {
				return site
			}
		}
	}
	return ""
}

func hostname(pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("page url %q has no host", pageURL)
	}
	return strings.ToLower(u.Hostname()), nil
}
