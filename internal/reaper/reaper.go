// Package reaper fails audit runs that have been stuck in running for too long.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-auditor/internal/audit"
	"github.com/JakeFAU/seo-auditor/internal/clock/system"
	"github.com/JakeFAU/seo-auditor/internal/notify"
	"github.com/JakeFAU/seo-auditor/internal/telemetry"
)

// Config controls sweep cadence and the age past which a running run is considered stuck.
type Config struct {
	Interval  time.Duration
	MaxRunAge time.Duration
}

// Reaper periodically sweeps the run store for stale runs.
type Reaper struct {
	runs     audit.RunStore
	notifier *notify.Notifier
	clock    audit.Clock
	cfg      Config
	logger   *zap.Logger
}

// New builds a Reaper. Defaults: sweep every minute, fail runs older than 15 minutes.
func New(runs audit.RunStore, notifier *notify.Notifier, clock audit.Clock, cfg Config, logger *zap.Logger) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.MaxRunAge <= 0 {
		cfg.MaxRunAge = 15 * time.Minute
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{
		runs:     runs,
		notifier: notifier,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.Named("reaper"),
	}
}

// Run sweeps on every tick until ctx ends.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("reaper sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep fails every run stuck in running past MaxRunAge and returns how many it failed.
// Runs that settle concurrently are skipped.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	cutoff := r.clock.Now().Add(-r.cfg.MaxRunAge)
	stale, err := r.runs.ListStaleRuns(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale runs: %w", err)
	}
	reaped := 0
	for _, run := range stale {
		reason := fmt.Sprintf("run exceeded max age %s in running", r.cfg.MaxRunAge)
		err := r.runs.TransitionRun(ctx, run.ID, audit.RunStatusFailed, reason)
		if errors.Is(err, audit.ErrInvalidTransition) || errors.Is(err, audit.ErrNotFound) {
			continue
		}
		if err != nil {
			return reaped, fmt.Errorf("fail stale run %s: %w", run.ID, err)
		}
		reaped++
		r.notifier.Failed(ctx, run.Job(), reason)
		r.logger.Warn("reaped stuck run",
			zap.String("run_id", run.ID),
			zap.Time("updated_at", run.UpdatedAt),
		)
	}
	if reaped > 0 {
		telemetry.ObserveRunsReaped(reaped)
	}
	return reaped, nil
}
