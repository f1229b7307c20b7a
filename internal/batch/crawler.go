package batch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/seo-auditor/internal/audit"
	"github.com/JakeFAU/seo-auditor/internal/heuristics"
	"github.com/JakeFAU/seo-auditor/internal/policy/backoff"
	"github.com/JakeFAU/seo-auditor/internal/telemetry"
)

// Config tunes a batch run. Zero values take the defaults.
type Config struct {
	Concurrency    int
	Delay          time.Duration
	RetryLimit     int
	RenderHeadless bool
	RespectRobots  bool
}

// Row is the audit outcome for one URL. Error is set and OverallScore is 0 when the URL failed.
type Row struct {
	URL              string
	Lang             string
	OverallScore     float64
	Checks           map[string]audit.CheckResult
	Error            string
	RenderedHeadless bool
	InSitemap        bool
	LastMod          string
	ChangeFreq       string
	Priority         *float64
}

// Crawler audits target lists in bounded batches.
type Crawler struct {
	fetcher  audit.Fetcher
	headless audit.Fetcher
	limiter  audit.Limiter
	engine   *heuristics.Engine
	policy   *backoff.Policy
	cfg      Config
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option customizes a Crawler.
type Option func(*Crawler)

// WithHeadless sets the renderer used for pages built by a client-side framework.
func WithHeadless(f audit.Fetcher) Option {
	return func(c *Crawler) { c.headless = f }
}

// WithLimiter paces every fetch through l.
func WithLimiter(l audit.Limiter) Option {
	return func(c *Crawler) { c.limiter = l }
}

// New builds a Crawler. Defaults: 10 concurrent URLs, 1s between batches, 2 retries.
func New(fetcher audit.Fetcher, engine *heuristics.Engine, cfg Config, logger *zap.Logger, opts ...Option) *Crawler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if cfg.RetryLimit < 0 {
		cfg.RetryLimit = 0
	}
	if engine == nil {
		engine = heuristics.NewEngine(heuristics.DefaultConfig())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Crawler{
		fetcher: fetcher,
		engine:  engine,
		policy:  backoff.New(backoff.Config{MaxAttempts: cfg.RetryLimit + 1, BaseDelay: time.Second}),
		cfg:     cfg,
		logger:  logger.Named("batch"),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run audits every target and returns one row per target in input order.
// URL failures become error rows; the returned error is set only when ctx ends the run early.
func (c *Crawler) Run(ctx context.Context, targets []Target, keywords map[string][]string, sitemap Sitemap) ([]Row, error) {
	seen := c.engine.NewSeenTracker()
	rows := make([]Row, len(targets))

	for start := 0; start < len(targets); start += c.cfg.Concurrency {
		if start > 0 {
			if err := c.sleep(ctx, c.cfg.Delay); err != nil {
				return rows[:start], fmt.Errorf("batch interrupted: %w", err)
			}
		}
		end := min(start+c.cfg.Concurrency, len(targets))
		c.logger.Info("processing batch",
			zap.Int("from", start+1),
			zap.Int("to", end),
			zap.Int("total", len(targets)),
		)

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				target := targets[i]
				rows[i] = c.auditURL(ctx, target, keywords[target.Lang], seen, sitemap)
				return nil
			})
		}
		_ = g.Wait()
	}
	return rows, nil
}

func (c *Crawler) auditURL(ctx context.Context, target Target, keywords []string, seen *heuristics.SeenTracker, sitemap Sitemap) (row Row) {
	row = Row{URL: target.URL, Lang: target.Lang}
	if entry, ok := sitemap[target.URL]; ok {
		row.InSitemap = true
		row.LastMod = entry.LastMod
		row.ChangeFreq = entry.ChangeFreq
		row.Priority = entry.Priority
	}
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("panic auditing url", zap.String("url", target.URL), zap.Any("panic", rec))
			row.Checks = nil
			row.OverallScore = 0
			row.Error = fmt.Sprintf("panic: %v", rec)
			telemetry.ObserveBatchPage("panic")
		}
	}()

	resp, err := c.fetchWithRetry(ctx, target.URL)
	if err != nil {
		c.logger.Warn("audit failed", zap.String("url", target.URL), zap.Error(err))
		row.Error = err.Error()
		telemetry.ObserveBatchPage("failed")
		return row
	}
	page, err := heuristics.Parse(resp.Body, target.URL, resp.Headers)
	if err != nil {
		row.Error = err.Error()
		telemetry.ObserveBatchPage("failed")
		return row
	}
	if rendered, ok := c.render(ctx, page); ok {
		page = rendered
		row.RenderedHeadless = true
	}

	report := c.engine.Evaluate(page, heuristics.Inputs{
		Keywords:   keywords,
		Lang:       target.Lang,
		Seen:       seen,
		Reciprocal: c.reciprocal(ctx, page, target.Lang),
	})
	seen.Record(page.Title, page.MetaDescription)

	for name, check := range report.Checks {
		if check.Status != audit.CheckPass {
			telemetry.ObserveCheckIssue(name, string(check.Status))
		}
	}
	row.Checks = report.Checks
	row.OverallScore = report.OverallScore
	telemetry.ObserveBatchPage("ok")
	return row
}

// render re-fetches a framework-rendered page headlessly. Any failure keeps the plain HTML.
func (c *Crawler) render(ctx context.Context, page heuristics.Page) (heuristics.Page, bool) {
	if !c.cfg.RenderHeadless || c.headless == nil || !page.UsesClientFramework() {
		return page, false
	}
	resp, err := c.headless.Fetch(ctx, audit.FetchRequest{URL: page.URL})
	if err != nil {
		c.logger.Warn("headless render failed, using plain html", zap.String("url", page.URL), zap.Error(err))
		return page, false
	}
	rendered, err := heuristics.Parse(resp.Body, page.URL, resp.Headers)
	if err != nil {
		c.logger.Warn("parse rendered html failed", zap.String("url", page.URL), zap.Error(err))
		return page, false
	}
	return rendered, true
}

// reciprocal fetches the counterpart-language alternate: de for English pages, en otherwise.
// It returns nil when the page declares no usable counterpart.
func (c *Crawler) reciprocal(ctx context.Context, page heuristics.Page, lang string) *heuristics.Reciprocal {
	counterpart := "en"
	if primaryLang(lang, page.Lang) == "en" {
		counterpart = "de"
	}
	href := page.Alternates[counterpart]
	if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
		return nil
	}
	rec := &heuristics.Reciprocal{URL: href}
	resp, err := c.fetchOnce(ctx, href)
	if err != nil {
		rec.Err = err
		return rec
	}
	rec.Alternates, rec.Err = heuristics.ParseAlternates(resp.Body)
	return rec
}

func (c *Crawler) fetchWithRetry(ctx context.Context, url string) (audit.FetchResponse, error) {
	for attempt := 1; ; attempt++ {
		resp, err := c.fetchOnce(ctx, url)
		if err == nil {
			return resp, nil
		}
		if !c.policy.ShouldRetry(err, attempt) || ctx.Err() != nil {
			return audit.FetchResponse{}, fmt.Errorf("fetch %s after %d attempt(s): %w", url, attempt, err)
		}
		delay := c.policy.Backoff(attempt)
		c.logger.Debug("retrying fetch",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return audit.FetchResponse{}, fmt.Errorf("fetch %s: %w", url, err)
		}
	}
}

func (c *Crawler) fetchOnce(ctx context.Context, url string) (audit.FetchResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, url); err != nil {
			return audit.FetchResponse{}, err
		}
	}
	resp, err := c.fetcher.Fetch(ctx, audit.FetchRequest{URL: url, RespectRobots: c.cfg.RespectRobots})
	if err != nil {
		return audit.FetchResponse{}, err
	}
	return resp, nil
}

func primaryLang(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			primary, _, _ := strings.Cut(strings.ToLower(v), "-")
			return primary
		}
	}
	return "en"
}

func sleepContext(ctx context.Context, d time.Duration) error {
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

// Summary aggregates a batch run.
type Summary struct {
	TotalPages  int            `json:"totalPages"`
	AvgScore    float64        `json:"avgScore"`
	FailedPages int            `json:"failedPages"`
	Issues      map[string]int `json:"issues"`
}

// Summarize averages overall scores across all rows, failed rows included at 0,
// and counts non-pass results per check.
func Summarize(rows []Row) Summary {
	s := Summary{TotalPages: len(rows), Issues: make(map[string]int)}
	if len(rows) == 0 {
		return s
	}
	var total float64
	for _, row := range rows {
		total += row.OverallScore
		if row.Error != "" {
			s.FailedPages++
		}
		for name, check := range row.Checks {
			if check.Status != audit.CheckPass {
				s.Issues[name]++
			}
		}
	}
	s.AvgScore = total / float64(len(rows))
	return s
}
