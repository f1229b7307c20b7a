// Package memory provides an in-process audit job queue for local development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/seo-auditor/internal/audit"
)

// ErrClosed is returned once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded channel queue with at-least-once semantics inside one process.
type Queue struct {
	ch       chan audit.QueueItem
	done     chan struct{}
	closeMu  sync.Mutex
	closed   bool
	seq      atomic.Int64
	mu       sync.Mutex
	inflight map[string]audit.QueueItem
	timers   map[*time.Timer]struct{}
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch:       make(chan audit.QueueItem, capacity),
		done:     make(chan struct{}),
		inflight: make(map[string]audit.QueueItem),
		timers:   make(map[*time.Timer]struct{}),
	}
}

// Enqueue pushes an item, assigning an ID, or returns when ctx ends.
func (q *Queue) Enqueue(ctx context.Context, item audit.QueueItem) error {
	item.ID = strconv.FormatInt(q.seq.Add(1), 10)
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return ErrClosed
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next item and tracks it as in flight until Ack or Retry.
func (q *Queue) Dequeue(ctx context.Context) (audit.QueueItem, error) {
	select {
	case <-ctx.Done():
		return audit.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return audit.QueueItem{}, ErrClosed
	case item := <-q.ch:
		q.mu.Lock()
		q.inflight[item.ID] = item
		q.mu.Unlock()
		return item, nil
	}
}

// Ack drops the item from the in-flight set.
func (q *Queue) Ack(_ context.Context, item audit.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, item.ID)
	return nil
}

// Retry re-enqueues item after delay with Attempt incremented.
func (q *Queue) Retry(ctx context.Context, item audit.QueueItem, delay time.Duration) error {
	if err := q.Ack(ctx, item); err != nil {
		return err
	}
	item.Attempt++
	if delay <= 0 {
		return q.Enqueue(ctx, item)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		q.mu.Unlock()
		_ = q.Enqueue(context.Background(), item)
	})
	q.timers[timer] = struct{}{}
	return nil
}

// Inflight reports how many dequeued items are awaiting Ack or Retry.
func (q *Queue) Inflight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

// Close stops delivery and cancels scheduled retries. It is safe to call twice.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
	q.mu.Lock()
	for timer := range q.timers {
		timer.Stop()
	}
	clear(q.timers)
	q.mu.Unlock()
}
