// Package worker implements the audit job execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-auditor/internal/audit"
	"github.com/JakeFAU/seo-auditor/internal/clock/system"
	"github.com/JakeFAU/seo-auditor/internal/heuristics"
	"github.com/JakeFAU/seo-auditor/internal/notify"
	"github.com/JakeFAU/seo-auditor/internal/performance"
	"github.com/JakeFAU/seo-auditor/internal/policy/backoff"
	"github.com/JakeFAU/seo-auditor/internal/telemetry"
)

// analyticsDisabledMessage is reported when no analytics source is wired.
const analyticsDisabledMessage = "Search Console not configured - analytics unavailable"

// Config controls Worker behavior.
type Config struct {
	JobTimeout     time.Duration
	RenderHeadless bool
	RespectRobots  bool
}

// Sources groups the fetchers a job fans out to. Headless, Detector, Performance and Analytics are optional.
type Sources struct {
	HTML        audit.Fetcher
	Headless    audit.Fetcher
	Detector    audit.HeadlessDetector
	Performance audit.PerformanceSource
	Analytics   audit.AnalyticsSource
}

// Worker consumes queue items and runs audits.
type Worker struct {
	queue    audit.Queue
	runs     audit.RunStore
	sources  Sources
	engine   *heuristics.Engine
	hasher   audit.Hasher
	clock    audit.Clock
	policy   *backoff.Policy
	notifier *notify.Notifier
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker.
func New(
	queue audit.Queue,
	runs audit.RunStore,
	sources Sources,
	engine *heuristics.Engine,
	hasher audit.Hasher,
	clock audit.Clock,
	policy *backoff.Policy,
	notifier *notify.Notifier,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	if engine == nil {
		engine = heuristics.NewEngine(heuristics.DefaultConfig())
	}
	if policy == nil {
		policy = backoff.New(backoff.Config{})
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:    queue,
		runs:     runs,
		sources:  sources,
		engine:   engine,
		hasher:   hasher,
		clock:    clock,
		policy:   policy,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.Named("worker"),
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		w.logger.Debug("dequeued job",
			zap.String("run_id", item.Job.RunID),
			zap.Int("attempt", item.Attempt),
		)
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item audit.QueueItem) {
	telemetry.IncActiveWorkers()
	defer telemetry.DecActiveWorkers()
	start := w.clock.Now()
	job := item.Job
	logger := w.logger.With(zap.String("run_id", job.RunID), zap.String("url", job.PageURL))

	if err := w.runs.TransitionRun(ctx, job.RunID, audit.RunStatusRunning, ""); err != nil {
		if errors.Is(err, audit.ErrInvalidTransition) || errors.Is(err, audit.ErrNotFound) {
			logger.Info("dropping job for settled or unknown run", zap.Error(err))
			w.ack(ctx, item, logger)
			return
		}
		logger.Error("mark run running failed", zap.Error(err))
		w.retryOrFail(ctx, item, fmt.Errorf("mark running: %w", err), start, logger)
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	result, err := w.audit(jobCtx, job)
	cancel()
	if err == nil {
		err = w.runs.CompleteRun(ctx, job.RunID, result)
		if err != nil {
			err = fmt.Errorf("complete run: %w", err)
		}
	}
	if err != nil {
		w.retryOrFail(ctx, item, err, start, logger)
		return
	}

	w.ack(ctx, item, logger)
	w.notifier.Ready(ctx, job, result.OverallScore)
	telemetry.ObserveJob(string(audit.RunStatusReady), w.clock.Now().Sub(start))
	logger.Info("audit complete",
		zap.Float64("score", result.OverallScore),
		zap.Bool("headless", result.RenderedHeadless),
	)
}

// retryOrFail hands a transient failure back to the queue while attempts remain,
// otherwise it records the run as failed.
func (w *Worker) retryOrFail(ctx context.Context, item audit.QueueItem, err error, start time.Time, logger *zap.Logger) {
	if ctx.Err() != nil {
		logger.Warn("shutdown interrupted job; leaving for redelivery", zap.Error(err))
		return
	}
	attempt := item.Attempt + 1
	if w.policy.ShouldRetry(err, attempt) {
		delay := w.policy.Backoff(attempt)
		qErr := w.queue.Retry(ctx, item, delay)
		if qErr == nil {
			telemetry.ObserveJob("retried", w.clock.Now().Sub(start))
			logger.Warn("transient audit failure; retry scheduled",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			return
		}
		logger.Error("queue retry failed", zap.Error(qErr))
	}

	errText := err.Error()
	if tErr := w.runs.TransitionRun(ctx, item.Job.RunID, audit.RunStatusFailed, errText); tErr != nil {
		logger.Error("mark run failed", zap.Error(tErr))
	}
	w.ack(ctx, item, logger)
	w.notifier.Failed(ctx, item.Job, errText)
	telemetry.ObserveJob(string(audit.RunStatusFailed), w.clock.Now().Sub(start))
	logger.Warn("audit failed",
		zap.String("kind", audit.Classify(err).String()),
		zap.Int("attempt", attempt),
		zap.Error(err),
	)
}

func (w *Worker) ack(ctx context.Context, item audit.QueueItem, logger *zap.Logger) {
	if err := w.queue.Ack(ctx, item); err != nil {
		logger.Error("queue ack failed", zap.Error(err))
	}
}

type htmlOutcome struct {
	resp audit.FetchResponse
	err  error
}

type perfOutcome struct {
	report *audit.PerformanceReport
	err    error
}

// audit runs one job end to end and returns the result to persist.
func (w *Worker) audit(ctx context.Context, job audit.Job) (audit.Result, error) {
	if err := validatePageURL(job.PageURL); err != nil {
		return audit.Result{}, audit.PermanentError(job.PageURL, err)
	}
	if w.sources.HTML == nil {
		return audit.Result{}, audit.PermanentError(job.PageURL, errors.New("no html fetcher configured"))
	}

	var (
		wg        sync.WaitGroup
		html      htmlOutcome
		perf      perfOutcome
		analytics audit.AnalyticsReport
	)
	wg.Add(3)
	go supervise(&wg, func(err error) { html.err = err }, func() {
		html.resp, html.err = w.sources.HTML.Fetch(ctx, audit.FetchRequest{
			URL:           job.PageURL,
			RespectRobots: w.cfg.RespectRobots,
		})
	})
	go supervise(&wg, func(err error) { perf.err = err }, func() {
		if w.sources.Performance != nil {
			perf.report, perf.err = w.sources.Performance.Fetch(ctx, job.PageURL)
		}
	})
	go supervise(&wg, func(err error) { analytics = audit.UnavailableAnalytics(err.Error()) }, func() {
		if w.sources.Analytics == nil {
			analytics = audit.UnavailableAnalytics(analyticsDisabledMessage)
			return
		}
		analytics = w.sources.Analytics.Fetch(ctx, job.PageURL, job.State)
	})
	wg.Wait()

	if html.err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			html.err = audit.NewFetchError(job.PageURL, 0, fmt.Errorf("job deadline: %w", ctx.Err()))
		}
		telemetry.ObserveSourceFailure("html", audit.Classify(html.err).String())
		return audit.Result{}, fmt.Errorf("fetch html: %w", html.err)
	}

	var perfNote string
	switch {
	case perf.err != nil:
		perfNote = "Performance data unavailable: " + perf.err.Error()
		telemetry.ObserveSourceFailure("performance", audit.Classify(perf.err).String())
	case perf.report == nil:
		perfNote = performance.NotConfiguredNote
	}

	resp := w.maybeRender(ctx, job, html.resp)
	page, err := heuristics.Parse(resp.Body, job.PageURL, resp.Headers)
	if err != nil {
		return audit.Result{}, audit.PermanentError(job.PageURL, fmt.Errorf("parse html: %w", err))
	}

	seen := w.engine.NewSeenTracker()
	report := w.engine.Evaluate(page, heuristics.Inputs{
		Keywords:    keywordsFor(job),
		Lang:        page.Lang,
		Seen:        seen,
		Performance: perf.report,
	})
	seen.Record(page.Title, page.MetaDescription)
	for name, check := range report.Checks {
		if check.Status != audit.CheckPass {
			telemetry.ObserveCheckIssue(name, string(check.Status))
		}
	}

	var contentHash string
	if w.hasher != nil {
		if contentHash, err = w.hasher.Hash(resp.Body); err != nil {
			w.logger.Warn("hash content failed", zap.String("run_id", job.RunID), zap.Error(err))
		}
	}

	return audit.Result{
		Version:          audit.ResultSchemaVersion,
		URL:              job.PageURL,
		FetchedAt:        w.clock.Now().UTC(),
		Checks:           report.Checks,
		OverallScore:     report.OverallScore,
		Performance:      perf.report,
		PerformanceNote:  perfNote,
		Analytics:        analytics,
		ContentHash:      contentHash,
		RenderedHeadless: resp.UsedHeadless,
	}, nil
}

// maybeRender re-fetches client-rendered pages through the headless fetcher. Renderer
// failures fall back to the plain response.
func (w *Worker) maybeRender(ctx context.Context, job audit.Job, resp audit.FetchResponse) audit.FetchResponse {
	if !w.cfg.RenderHeadless || w.sources.Headless == nil || w.sources.Detector == nil {
		return resp
	}
	if !w.sources.Detector.ShouldPromote(resp) {
		return resp
	}
	rendered, err := w.sources.Headless.Fetch(ctx, audit.FetchRequest{URL: job.PageURL})
	if err != nil {
		telemetry.ObserveSourceFailure("headless", audit.Classify(err).String())
		w.logger.Warn("headless render failed; using plain html",
			zap.String("run_id", job.RunID),
			zap.Error(err),
		)
		return resp
	}
	rendered.UsedHeadless = true
	return rendered
}

// supervise runs fn in the calling goroutine, turning a panic into an error passed to onPanic.
func supervise(wg *sync.WaitGroup, onPanic func(error), fn func()) {
	defer wg.Done()
	defer func() {
		if r := recover(); r != nil {
			onPanic(fmt.Errorf("panic: %v", r))
		}
	}()
	fn()
}

func validatePageURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("unsupported url %q", raw)
	}
	return nil
}

func keywordsFor(job audit.Job) []string {
	if job.TargetKeyword == "" {
		return nil
	}
	return []string{job.TargetKeyword}
}
