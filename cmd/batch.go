package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-auditor/internal/audit"
	"github.com/JakeFAU/seo-auditor/internal/batch"
	"github.com/JakeFAU/seo-auditor/internal/config"
	collyfetcher "github.com/JakeFAU/seo-auditor/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/seo-auditor/internal/fetcher/headless"
	"github.com/JakeFAU/seo-auditor/internal/heuristics"
	"github.com/JakeFAU/seo-auditor/internal/policy/ratelimit"
	"github.com/JakeFAU/seo-auditor/internal/storage/gcs"
	"github.com/JakeFAU/seo-auditor/internal/storage/local"
)

type batchFlags struct {
	urls        string
	keywordsDir string
	output      string
	baseURL     string
	langs       []string
	subset      int
	concurrency int
	delay       time.Duration
	retryLimit  int
}

// newBatchCmd creates the 'batch' subcommand, which audits a URL list offline and
// writes audit_results.csv and audit_summary.json.
func newBatchCmd() *cobra.Command {
	flags := &batchFlags{}
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Audits a list of URLs and writes CSV and JSON reports",
		Long: `Reads urls.csv (header url,lang), audits each URL with the full check battery
including cross-page similarity and reciprocal hreflang, cross-references the
site's sitemap.xml, and writes the reports to a directory or a gs:// prefix.

Only transient fetch failures (timeouts, connection errors, 429 and 5xx) are
retried; other 4xx responses are recorded as failed rows after one attempt.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			return runBatch(cmd.Context(), applyBatchFlags(cmd, flags, rt.Config), rt.Logger)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.urls, "urls", "", "CSV file of URLs to audit (default from batch.urls_file)")
	f.StringVar(&flags.keywordsDir, "keywords-dir", "", "directory holding keywords[_<lang>].txt")
	f.StringVar(&flags.output, "output", "", "output directory or gs://bucket/prefix")
	f.StringVar(&flags.baseURL, "base-url", "", "site root used to fetch sitemap.xml")
	f.StringSliceVar(&flags.langs, "langs", nil, "locales to audit, comma separated; empty audits all")
	f.IntVar(&flags.subset, "subset", 0, "audit at most this many URLs (0 = all)")
	f.IntVar(&flags.concurrency, "concurrency", 0, "URLs audited concurrently per batch")
	f.DurationVar(&flags.delay, "delay", 0, "pause between batches")
	f.IntVar(&flags.retryLimit, "retry-limit", 0, "retries per URL for transient fetch failures (4xx other than 429 is not retried)")
	return cmd
}

// applyBatchFlags overlays explicitly set flags on the configured batch settings.
func applyBatchFlags(cmd *cobra.Command, flags *batchFlags, cfg config.Config) config.Config {
	set := cmd.Flags().Changed
	b := &cfg.Batch
	if set("urls") {
		b.URLsFile = flags.urls
	}
	if set("keywords-dir") {
		b.KeywordsDir = flags.keywordsDir
	}
	if set("output") {
		b.Output = flags.output
	}
	if set("base-url") {
		b.BaseURL = flags.baseURL
	}
	if set("langs") {
		b.Langs = flags.langs
	}
	if set("subset") {
		b.Subset = flags.subset
	}
	if set("concurrency") {
		b.Concurrency = flags.concurrency
	}
	if set("delay") {
		b.DelayMs = int(flags.delay / time.Millisecond)
	}
	if set("retry-limit") {
		b.RetryLimit = flags.retryLimit
	}
	return cfg
}

func runBatch(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	b := cfg.Batch
	targets, err := batch.LoadURLFile(b.URLsFile)
	if err != nil {
		return err
	}
	targets = batch.FilterURLs(targets, normalizeLangs(b.Langs), b.Subset)
	if len(targets) == 0 {
		return errors.New("no URLs to audit after filtering")
	}
	keywords, err := batch.LoadKeywordSets(b.KeywordsDir, targets)
	if err != nil {
		return err
	}

	store, closeStore, err := openReportStore(ctx, b.Output)
	if err != nil {
		return err
	}
	defer closeStore()

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.HTML.UserAgent,
		RespectRobots: cfg.HTML.RespectRobots,
		Timeout:       time.Duration(cfg.HTML.TimeoutSeconds) * time.Second,
	}, logger)

	var opts []batch.Option
	if b.RateLimitRPS > 0 {
		opts = append(opts, batch.WithLimiter(ratelimit.New(ratelimit.Config{RPS: b.RateLimitRPS, Burst: b.RateLimitBurst})))
		logger.Info("rate limiter enabled", zap.Float64("rps", b.RateLimitRPS), zap.Int("burst", b.RateLimitBurst))
	}
	if cfg.Headless.Enabled {
		renderer, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.HTML.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless fetcher init failed, rendering disabled", zap.Error(err))
		} else {
			defer renderer.Close()
			opts = append(opts, batch.WithHeadless(renderer))
		}
	}

	sitemap := batch.FetchSitemap(ctx, fetcher, b.BaseURL, logger)
	crawler := batch.New(fetcher, heuristics.NewEngine(heuristics.Config{
		SimilarityThreshold: cfg.Worker.SimilarityThreshold,
	}), batch.Config{
		Concurrency:    b.Concurrency,
		Delay:          cfg.BatchDelay(),
		RetryLimit:     b.RetryLimit,
		RenderHeadless: cfg.Headless.Enabled,
		RespectRobots:  cfg.HTML.RespectRobots,
	}, logger, opts...)

	logger.Info("batch audit started",
		zap.Int("urls", len(targets)),
		zap.Strings("langs", b.Langs),
		zap.Int("sitemap_entries", len(sitemap)),
	)
	rows, runErr := crawler.Run(ctx, targets, keywords, sitemap)
	summary := batch.Summarize(rows)

	uris, err := batch.Emit(context.WithoutCancel(ctx), store, rows, summary)
	if err != nil {
		return fmt.Errorf("write reports: %w", err)
	}
	logger.Info("batch audit finished",
		zap.Int("pages", summary.TotalPages),
		zap.Int("failed", summary.FailedPages),
		zap.Float64("avg_score", summary.AvgScore),
		zap.Strings("reports", uris),
	)
	return runErr
}

func normalizeLangs(langs []string) []string {
	var out []string
	for _, l := range langs {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "all" {
			return nil
		}
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

func openReportStore(ctx context.Context, output string) (audit.BlobStore, func(), error) {
	if strings.HasPrefix(output, "gs://") {
		gcsCfg, err := gcs.ParseURI(output)
		if err != nil {
			return nil, nil, err
		}
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := gcs.New(client, gcsCfg)
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return store, func() { _ = client.Close() }, nil
	}
	store, err := local.New(output)
	if err != nil {
		return nil, nil, fmt.Errorf("local blob store init failed: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}
