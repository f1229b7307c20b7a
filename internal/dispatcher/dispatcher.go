// Package dispatcher manages worker fan-out over the audit queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-auditor/internal/audit"
	"github.com/JakeFAU/seo-auditor/internal/worker"
)

// ErrInvalidItem is returned by Enqueue for items that name no run or page.
var ErrInvalidItem = errors.New("queue item needs a run id and page url")

// Dispatcher owns the worker pool and is the only writer to the queue on the submit path.
type Dispatcher struct {
	queue   audit.Queue
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher over workers. A nil logger is allowed.
func New(queue audit.Queue, workers []*worker.Worker, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{queue: queue, workers: workers, logger: logger.Named("dispatcher")}
}

// Size returns the number of workers in the pool.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Run starts every worker and returns once ctx is done and all of them have drained.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started", zap.Int("workers", len(d.workers)))
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Go(func() { w.Run(ctx) })
	}
	<-ctx.Done()
	wg.Wait()
	d.logger.Info("dispatcher stopped")
}

// Enqueue validates item and hands it to the queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item audit.QueueItem) error {
	if item.Job.RunID == "" || item.Job.PageURL == "" {
		return ErrInvalidItem
	}
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	d.logger.Debug("job enqueued", zap.String("run_id", item.Job.RunID), zap.Int("attempt", item.Attempt))
	return nil
}
