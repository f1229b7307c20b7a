// Package monitor tracks upstream failures in a rolling window and warns when they pile up.
package monitor

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-auditor/internal/audit"
	"github.com/JakeFAU/seo-auditor/internal/clock/system"
)

// Failures counts failures of one upstream service. Crossing the threshold only logs; callers are never blocked.
type Failures struct {
	mu          sync.Mutex
	name        string
	window      time.Duration
	threshold   int
	clock       audit.Clock
	logger      *zap.Logger
	count       int
	windowStart time.Time
}

// NewFailures builds a monitor. Defaults: 10 minute window, threshold 5, UTC wall clock.
func NewFailures(name string, window time.Duration, threshold int, clock audit.Clock, logger *zap.Logger) *Failures {
	if window <= 0 {
		window = 10 * time.Minute
	}
	if threshold <= 0 {
		threshold = 5
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Failures{
		name:        name,
		window:      window,
		threshold:   threshold,
		clock:       clock,
		logger:      logger.Named("monitor"),
		windowStart: clock.Now(),
	}
}

// Record counts one failure and returns the count in the current window.
// The window restarts when a failure arrives after it has expired.
func (f *Failures) Record() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.clock.Now()
	if now.Sub(f.windowStart) > f.window {
		f.windowStart = now
		f.count = 0
	}
	f.count++
	if f.count >= f.threshold {
		f.logger.Warn("upstream failing repeatedly",
			zap.String("service", f.name),
			zap.Int("failures", f.count),
			zap.Duration("window", f.window),
		)
	}
	return f.count
}

// Count returns the failures recorded in the current window.
func (f *Failures) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}
