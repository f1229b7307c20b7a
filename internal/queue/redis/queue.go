// Package redis provides an audit job queue on Redis Streams with a sorted set for delayed retries.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-auditor/internal/audit"
)

const (
	defaultStream       = "seoaudit:jobs"
	defaultGroup        = "workers"
	defaultBlock        = 2 * time.Second
	defaultClaimMinIdle = 5 * time.Minute
	promoteBatch        = 20
	claimBatch          = 10

	fieldJob       = "job"
	fieldAttempt   = "attempt"
	fieldSubmitted = "submitted"
)

// Config controls stream names and consumer behaviour.
type Config struct {
	Stream       string
	Group        string
	Consumer     string
	Block        time.Duration
	ClaimMinIdle time.Duration
}

// Queue implements audit.Queue. Delivered entries stay pending in the consumer group until
// Ack or Retry; entries idle longer than ClaimMinIdle are reclaimed by other consumers.
type Queue struct {
	client  goredis.UniversalClient
	cfg     Config
	delayed string
	clock   audit.Clock
	logger  *zap.Logger
}

type envelope struct {
	Job       audit.Job `json:"job"`
	Attempt   int       `json:"attempt"`
	Submitted int64     `json:"submitted"`
	Origin    string    `json:"origin"`
}

// New creates the consumer group if needed and returns a Queue.
func New(ctx context.Context, client goredis.UniversalClient, cfg Config, clock audit.Clock, logger *zap.Logger) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Consumer == "" {
		return nil, errors.New("consumer name is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = defaultStream
	}
	if cfg.Group == "" {
		cfg.Group = defaultGroup
	}
	if cfg.Block <= 0 {
		cfg.Block = defaultBlock
	}
	if cfg.ClaimMinIdle <= 0 {
		cfg.ClaimMinIdle = defaultClaimMinIdle
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	err := client.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return &Queue{
		client:  client,
		cfg:     cfg,
		delayed: cfg.Stream + ":delayed",
		clock:   clock,
		logger:  logger.Named("redis_queue"),
	}, nil
}

// Enqueue appends item to the stream.
func (q *Queue) Enqueue(ctx context.Context, item audit.QueueItem) error {
	payload, err := json.Marshal(item.Job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if item.Submitted == 0 {
		item.Submitted = q.clock.Now().UnixMilli()
	}
	err = q.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: map[string]any{
			fieldJob:       string(payload),
			fieldAttempt:   item.Attempt,
			fieldSubmitted: item.Submitted,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd job: %w", err)
	}
	return nil
}

// Dequeue blocks until an item is available or ctx ends. Due retries are promoted and
// stale pending entries reclaimed before each read.
func (q *Queue) Dequeue(ctx context.Context) (audit.QueueItem, error) {
	for {
		if err := ctx.Err(); err != nil {
			return audit.QueueItem{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		if err := q.promoteDue(ctx); err != nil {
			q.logger.Warn("promote delayed jobs", zap.Error(err))
		}
		if item, ok, err := q.reclaim(ctx); err != nil {
			q.logger.Warn("reclaim pending jobs", zap.Error(err))
		} else if ok {
			return item, nil
		}

		streams, err := q.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    q.cfg.Group,
			Consumer: q.cfg.Consumer,
			Streams:  []string{q.cfg.Stream, ">"},
			Count:    1,
			Block:    q.cfg.Block,
		}).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return audit.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctxErr)
			}
			return audit.QueueItem{}, fmt.Errorf("xreadgroup: %w", err)
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				item, err := decodeMessage(msg)
				if err != nil {
					q.logger.Error("dropping undecodable job", zap.String("id", msg.ID), zap.Error(err))
					q.drop(ctx, msg.ID)
					continue
				}
				return item, nil
			}
		}
	}
}

// Ack acknowledges and deletes the delivered entry.
func (q *Queue) Ack(ctx context.Context, item audit.QueueItem) error {
	_, err := q.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.XAck(ctx, q.cfg.Stream, q.cfg.Group, item.ID)
		pipe.XDel(ctx, q.cfg.Stream, item.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack %s: %w", item.ID, err)
	}
	return nil
}

// Retry schedules the job in the delayed set and acknowledges the current delivery atomically.
func (q *Queue) Retry(ctx context.Context, item audit.QueueItem, delay time.Duration) error {
	member, err := json.Marshal(envelope{
		Job:       item.Job,
		Attempt:   item.Attempt + 1,
		Submitted: item.Submitted,
		Origin:    item.ID,
	})
	if err != nil {
		return fmt.Errorf("encode retry: %w", err)
	}
	due := q.clock.Now().Add(delay).UnixMilli()
	_, err = q.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZAdd(ctx, q.delayed, goredis.Z{Score: float64(due), Member: string(member)})
		pipe.XAck(ctx, q.cfg.Stream, q.cfg.Group, item.ID)
		pipe.XDel(ctx, q.cfg.Stream, item.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("schedule retry %s: %w", item.ID, err)
	}
	return nil
}

// promoteDue moves delayed jobs whose time has come back onto the stream. Only the
// consumer that wins the ZREM re-adds a member, so concurrent consumers do not duplicate it.
func (q *Queue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(q.clock.Now().UnixMilli(), 10)
	members, err := q.client.ZRangeByScore(ctx, q.delayed, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: promoteBatch,
	}).Result()
	if err != nil {
		return fmt.Errorf("zrangebyscore: %w", err)
	}
	for _, member := range members {
		removed, err := q.client.ZRem(ctx, q.delayed, member).Result()
		if err != nil {
			return fmt.Errorf("zrem: %w", err)
		}
		if removed == 0 {
			continue
		}
		var env envelope
		if err := json.Unmarshal([]byte(member), &env); err != nil {
			q.logger.Error("dropping undecodable retry", zap.Error(err))
			continue
		}
		item := audit.QueueItem{Job: env.Job, Attempt: env.Attempt, Submitted: env.Submitted}
		if err := q.Enqueue(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// reclaim claims one entry left pending by a consumer that stopped before Ack.
func (q *Queue) reclaim(ctx context.Context) (audit.QueueItem, bool, error) {
	pending, err := q.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: q.cfg.Stream,
		Group:  q.cfg.Group,
		Idle:   q.cfg.ClaimMinIdle,
		Start:  "-",
		End:    "+",
		Count:  claimBatch,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return audit.QueueItem{}, false, nil
		}
		return audit.QueueItem{}, false, fmt.Errorf("xpending: %w", err)
	}
	for _, p := range pending {
		if p.Consumer == q.cfg.Consumer || p.Idle < q.cfg.ClaimMinIdle {
			continue
		}
		msgs, err := q.client.XClaim(ctx, &goredis.XClaimArgs{
			Stream:   q.cfg.Stream,
			Group:    q.cfg.Group,
			Consumer: q.cfg.Consumer,
			MinIdle:  q.cfg.ClaimMinIdle,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			return audit.QueueItem{}, false, fmt.Errorf("xclaim: %w", err)
		}
		for _, msg := range msgs {
			item, err := decodeMessage(msg)
			if err != nil {
				q.drop(ctx, msg.ID)
				continue
			}
			q.logger.Info("reclaimed pending job",
				zap.String("id", msg.ID),
				zap.String("from", p.Consumer),
				zap.Duration("idle", p.Idle),
			)
			return item, true, nil
		}
	}
	return audit.QueueItem{}, false, nil
}

func (q *Queue) drop(ctx context.Context, id string) {
	if err := q.Ack(ctx, audit.QueueItem{ID: id}); err != nil {
		q.logger.Warn("drop message", zap.String("id", id), zap.Error(err))
	}
}

func decodeMessage(msg goredis.XMessage) (audit.QueueItem, error) {
	raw, ok := msg.Values[fieldJob].(string)
	if !ok {
		return audit.QueueItem{}, fmt.Errorf("message %s has no job field", msg.ID)
	}
	var job audit.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return audit.QueueItem{}, fmt.Errorf("decode job %s: %w", msg.ID, err)
	}
	item := audit.QueueItem{ID: msg.ID, Job: job}
	if v, ok := msg.Values[fieldAttempt].(string); ok {
		item.Attempt, _ = strconv.Atoi(v)
	}
	if v, ok := msg.Values[fieldSubmitted].(string); ok {
		item.Submitted, _ = strconv.ParseInt(v, 10, 64)
	}
	return item, nil
}
