package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/seo-auditor/internal/audit"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue(t *testing.T, mr *miniredis.Miniredis, consumer string, clock audit.Clock) *Queue {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q, err := New(context.Background(), client, Config{
		Consumer:     consumer,
		Block:        50 * time.Millisecond,
		ClaimMinIdle: time.Minute,
	}, clock, nil)
	require.NoError(t, err)
	return q
}

func dequeueWithin(t *testing.T, q *Queue, d time.Duration) (audit.QueueItem, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return q.Dequeue(ctx)
}

func TestEnqueueDequeueAck(t *testing.T) {
	mr := miniredis.RunT(t)
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	q := newTestQueue(t, mr, "w1", clock)

	job := audit.Job{RunID: "run-1", PageURL: "https://example.com/", TargetKeyword: "seo"}
	require.NoError(t, q.Enqueue(context.Background(), audit.QueueItem{Job: job}))

	item, err := dequeueWithin(t, q, time.Second)
	require.NoError(t, err)
	require.Equal(t, job, item.Job)
	require.Zero(t, item.Attempt)
	require.Equal(t, clock.Now().UnixMilli(), item.Submitted)
	require.NotEmpty(t, item.ID)

	require.NoError(t, q.Ack(context.Background(), item))
	length, err := q.client.XLen(context.Background(), q.cfg.Stream).Result()
	require.NoError(t, err)
	require.Zero(t, length)

	_, err = dequeueWithin(t, q, 150*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGroupCreationIsIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	newTestQueue(t, mr, "w1", clock)
	newTestQueue(t, mr, "w2", clock)
}

func TestRetryIsDelayedThenRedelivered(t *testing.T) {
	mr := miniredis.RunT(t)
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	q := newTestQueue(t, mr, "w1", clock)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, audit.QueueItem{Job: audit.Job{RunID: "run-1"}}))
	item, err := dequeueWithin(t, q, time.Second)
	require.NoError(t, err)

	require.NoError(t, q.Retry(ctx, item, 30*time.Second))
	delayed, err := q.client.ZCard(ctx, q.delayed).Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), delayed)

	_, err = dequeueWithin(t, q, 150*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded, "retry must wait for its delay")

	clock.Advance(31 * time.Second)
	again, err := dequeueWithin(t, q, time.Second)
	require.NoError(t, err)
	require.Equal(t, "run-1", again.Job.RunID)
	require.Equal(t, 1, again.Attempt)
	require.Equal(t, item.Submitted, again.Submitted)

	delayed, err = q.client.ZCard(ctx, q.delayed).Result()
	require.NoError(t, err)
	require.Zero(t, delayed)
}

func TestPendingEntriesAreReclaimed(t *testing.T) {
	mr := miniredis.RunT(t)
	start := time.Unix(1700000000, 0)
	mr.SetTime(start)
	clock := &fakeClock{now: start}
	crashed := newTestQueue(t, mr, "crashed", clock)
	survivor := newTestQueue(t, mr, "survivor", clock)

	require.NoError(t, crashed.Enqueue(context.Background(), audit.QueueItem{Job: audit.Job{RunID: "run-9"}}))
	first, err := dequeueWithin(t, crashed, time.Second)
	require.NoError(t, err)

	_, err = dequeueWithin(t, survivor, 150*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded, "fresh pending entries are not reclaimed")

	mr.SetTime(start.Add(2 * time.Minute))
	claimed, err := dequeueWithin(t, survivor, time.Second)
	require.NoError(t, err)
	require.Equal(t, first.ID, claimed.ID)
	require.Equal(t, "run-9", claimed.Job.RunID)
	require.NoError(t, survivor.Ack(context.Background(), claimed))
}

func TestUndecodableMessagesAreDropped(t *testing.T) {
	mr := miniredis.RunT(t)
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	q := newTestQueue(t, mr, "w1", clock)
	ctx := context.Background()

	require.NoError(t, q.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: map[string]any{fieldJob: "{not json"},
	}).Err())
	require.NoError(t, q.Enqueue(ctx, audit.QueueItem{Job: audit.Job{RunID: "good"}}))

	item, err := dequeueWithin(t, q, time.Second)
	require.NoError(t, err)
	require.Equal(t, "good", item.Job.RunID)
}

func TestNewValidates(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	_, err := New(context.Background(), client, Config{}, &fakeClock{}, nil)
	require.Error(t, err)
	_, err = New(context.Background(), nil, Config{Consumer: "w"}, &fakeClock{}, nil)
	require.Error(t, err)
}
