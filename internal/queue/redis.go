package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"hookrouter/internal/types"
)

// RedisClient is the subset of go-redis commands the queue uses.
// *redis.Client satisfies it.
type RedisClient interface {
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	ZCard(ctx context.Context, key string) *redis.IntCmd
	ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
	BZPopMin(ctx context.Context, timeout time.Duration, keys ...string) *redis.ZWithKeyCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SCard(ctx context.Context, key string) *redis.IntCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

var (
	_ RedisClient = (*redis.Client)(nil)
	_ types.Queue = (*RedisQueue)(nil)
)

// DefaultKeyPrefix namespaces every key the queue writes.
const DefaultKeyPrefix = "hookrouter:queue:"

const (
	popTimeout      = time.Second
	promoteInterval = 250 * time.Millisecond
	promoteBatch    = 100
)

// RedisOptions configures a RedisQueue.
type RedisOptions struct {
	KeyPrefix       string
	Retry           RetryConfig
	RetainCompleted int
	RetainFailed    int
}

// RedisQueue keeps jobs in Redis so several instances can share one queue.
//
// Keys: waiting (ZSET scored by priority then age), delayed (ZSET scored by
// ready time in ms), jobs (HASH id -> JSON), active (SET), completed and
// failed (LIST of retained ids) plus completed:count and failed:count.
type RedisQueue struct {
	client RedisClient
	keys   redisKeys

	handler     types.MessageHandler
	concurrency int

	retry           RetryConfig
	retainCompleted int64
	retainFailed    int64
	clock           types.Clock
	logger          types.Logger
}

type redisKeys struct {
	waiting, delayed, jobs, active string
	completed, failed              string
	completedCount, failedCount    string
}

// NewRedisClient parses a redis:// URL and applies an optional password.
func NewRedisClient(redisURL, password string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	return redis.NewClient(opts), nil
}

// NewRedisQueue creates a queue over client.
func NewRedisQueue(client RedisClient, opts RedisOptions, logger types.Logger) *RedisQueue {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	rc, rf := opts.RetainCompleted, opts.RetainFailed
	if rc <= 0 {
		rc = DefaultRetainCompleted
	}
	if rf <= 0 {
		rf = DefaultRetainFailed
	}
	return &RedisQueue{
		client: client,
		keys: redisKeys{
			waiting:        prefix + "waiting",
			delayed:        prefix + "delayed",
			jobs:           prefix + "jobs",
			active:         prefix + "active",
			completed:      prefix + "completed",
			failed:         prefix + "failed",
			completedCount: prefix + "completed:count",
			failedCount:    prefix + "failed:count",
		},
		concurrency:     1,
		retry:           opts.Retry,
		retainCompleted: int64(rc),
		retainFailed:    int64(rf),
		clock:           types.RealClock{},
		logger:          logger,
	}
}

// Enqueue stores the job body and adds it to the waiting set.
func (q *RedisQueue) Enqueue(ctx context.Context, msg *types.NotificationMessage, priority int) (string, error) {
	if msg == nil {
		return "", ErrNilMessage
	}
	job := &Job{
		ID:         uuid.NewString(),
		Message:    msg,
		Priority:   priority,
		EnqueuedAt: q.clock.Now(),
	}
	if err := q.saveJob(ctx, job); err != nil {
		return "", err
	}
	score := priorityScore(priority, job.EnqueuedAt)
	if err := q.client.ZAdd(ctx, q.keys.waiting, redis.Z{Score: score, Member: job.ID}).Err(); err != nil {
		return "", fmt.Errorf("redis queue: add waiting job: %w", err)
	}
	q.logger.Debug("job enqueued", "job_id", job.ID, "message_id", msg.ID, "priority", priority)
	return job.ID, nil
}

func (q *RedisQueue) saveJob(ctx context.Context, job *Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("redis queue: marshal job: %w", err)
	}
	if err := q.client.HSet(ctx, q.keys.jobs, job.ID, body).Err(); err != nil {
		return fmt.Errorf("redis queue: store job: %w", err)
	}
	return nil
}

func (q *RedisQueue) loadJob(ctx context.Context, id string) (*Job, error) {
	raw, err := q.client.HGet(ctx, q.keys.jobs, id).Result()
	if err != nil {
		return nil, fmt.Errorf("redis queue: load job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("redis queue: decode job %s: %w", id, err)
	}
	return &job, nil
}

// RegisterHandler installs the handler and worker count used by Start.
func (q *RedisQueue) RegisterHandler(handler types.MessageHandler, concurrency int) {
	q.handler = handler
	q.concurrency = max(concurrency, 1)
}

// Start runs the workers and the delayed-job promoter until ctx is done.
func (q *RedisQueue) Start(ctx context.Context) error {
	if q.handler == nil {
		return ErrNoHandler
	}
	q.logger.Info("redis queue started", "workers", q.concurrency)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(promoteInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if _, err := q.promote(gctx); err != nil && gctx.Err() == nil {
					q.logger.Warn("redis queue promote failed", "error", err.Error())
				}
			}
		}
	})
	for i := 0; i < q.concurrency; i++ {
		g.Go(func() error {
			for gctx.Err() == nil {
				if err := q.work(gctx); err != nil && gctx.Err() == nil {
					q.logger.Warn("redis queue worker error", "error", err.Error())
					sleepContext(gctx, time.Second)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// work pops at most one job and runs it.
func (q *RedisQueue) work(ctx context.Context) error {
	popped, err := q.client.BZPopMin(ctx, popTimeout, q.keys.waiting).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("pop waiting: %w", err)
	}
	id, ok := popped.Member.(string)
	if !ok {
		return fmt.Errorf("unexpected member type %T", popped.Member)
	}

	if err := q.client.SAdd(ctx, q.keys.active, id).Err(); err != nil {
		return fmt.Errorf("mark active: %w", err)
	}
	job, err := q.loadJob(ctx, id)
	if err != nil {
		_ = q.client.SRem(ctx, q.keys.active, id).Err()
		return err
	}
	job.Attempts++

	herr := invoke(ctx, q.handler, job.Message, q.logger)
	// Bookkeeping must survive shutdown of the worker context.
	return q.finish(context.WithoutCancel(ctx), job, herr)
}

func (q *RedisQueue) finish(ctx context.Context, job *Job, herr error) error {
	defer func() {
		if err := q.client.SRem(ctx, q.keys.active, job.ID).Err(); err != nil {
			q.logger.Warn("redis queue: clear active", "job_id", job.ID, "error", err.Error())
		}
	}()
	now := q.clock.Now()

	if herr == nil {
		job.FinishedAt = now
		job.LastError = ""
		return q.record(ctx, job, q.keys.completed, q.keys.completedCount)
	}

	job.LastError = herr.Error()
	if delay, ok := q.retry.Backoff(job.Attempts, herr); ok {
		job.ReadyAt = now.Add(delay)
		if err := q.saveJob(ctx, job); err != nil {
			return err
		}
		q.logger.Info("job scheduled for retry", "job_id", job.ID, "attempts", job.Attempts, "delay", delay.String(), "error", herr.Error())
		return q.client.ZAdd(ctx, q.keys.delayed, redis.Z{Score: float64(job.ReadyAt.UnixMilli()), Member: job.ID}).Err()
	}

	job.FinishedAt = now
	q.logger.Warn("job failed permanently", "job_id", job.ID, "attempts", job.Attempts, "error", herr.Error())
	return q.record(ctx, job, q.keys.failed, q.keys.failedCount)
}

// record stores the finished job and appends it to a retention list.
func (q *RedisQueue) record(ctx context.Context, job *Job, list, counter string) error {
	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	if err := q.client.LPush(ctx, list, job.ID).Err(); err != nil {
		return fmt.Errorf("redis queue: record job: %w", err)
	}
	return q.client.Incr(ctx, counter).Err()
}

// promote moves due delayed jobs back to the waiting set. ZRem guards
// against two instances promoting the same job.
func (q *RedisQueue) promote(ctx context.Context) (int, error) {
	now := q.clock.Now()
	ids, err := q.client.ZRangeByScore(ctx, q.keys.delayed, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: promoteBatch,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("list delayed: %w", err)
	}

	var moved int
	for _, id := range ids {
		n, err := q.client.ZRem(ctx, q.keys.delayed, id).Result()
		if err != nil {
			return moved, fmt.Errorf("claim delayed %s: %w", id, err)
		}
		if n == 0 {
			continue
		}
		job, err := q.loadJob(ctx, id)
		if err != nil {
			q.logger.Warn("redis queue: dropping unreadable delayed job", "job_id", id, "error", err.Error())
			continue
		}
		if err := q.client.ZAdd(ctx, q.keys.waiting, redis.Z{Score: priorityScore(job.Priority, now), Member: id}).Err(); err != nil {
			return moved, fmt.Errorf("requeue %s: %w", id, err)
		}
		moved++
	}
	return moved, nil
}

// Status reads the job counts. Completed and Failed are lifetime totals.
func (q *RedisQueue) Status(ctx context.Context) (types.QueueStatus, error) {
	var s types.QueueStatus
	var err error
	if s.Waiting, err = q.client.ZCard(ctx, q.keys.waiting).Result(); err != nil {
		return s, fmt.Errorf("redis queue status: %w", err)
	}
	if s.Delayed, err = q.client.ZCard(ctx, q.keys.delayed).Result(); err != nil {
		return s, fmt.Errorf("redis queue status: %w", err)
	}
	if s.Active, err = q.client.SCard(ctx, q.keys.active).Result(); err != nil {
		return s, fmt.Errorf("redis queue status: %w", err)
	}
	if s.Completed, err = q.counter(ctx, q.keys.completedCount); err != nil {
		return s, err
	}
	if s.Failed, err = q.counter(ctx, q.keys.failedCount); err != nil {
		return s, err
	}
	return s, nil
}

func (q *RedisQueue) counter(ctx context.Context, key string) (int64, error) {
	n, err := q.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis queue counter %s: %w", key, err)
	}
	return n, nil
}

// Prune removes finished job records beyond the retention limits.
func (q *RedisQueue) Prune(ctx context.Context) (int, error) {
	a, err := q.pruneList(ctx, q.keys.completed, q.retainCompleted)
	if err != nil {
		return a, err
	}
	b, err := q.pruneList(ctx, q.keys.failed, q.retainFailed)
	return a + b, err
}

func (q *RedisQueue) pruneList(ctx context.Context, list string, keep int64) (int, error) {
	stale, err := q.client.LRange(ctx, list, keep, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("redis queue prune %s: %w", list, err)
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := q.client.HDel(ctx, q.keys.jobs, stale...).Err(); err != nil {
		return 0, fmt.Errorf("redis queue prune %s: %w", list, err)
	}
	if err := q.client.LTrim(ctx, list, 0, keep-1).Err(); err != nil {
		return 0, fmt.Errorf("redis queue prune %s: %w", list, err)
	}
	return len(stale), nil
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
