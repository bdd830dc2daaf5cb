package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// priorityStride separates priority bands in the waiting set score so that
// enqueue time only orders jobs within the same priority.
const priorityStride = 1e13

// ErrPermanent marks failures that must not be retried.
var ErrPermanent = errors.New("permanent job failure")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }
func (e *permanentError) Is(target error) bool {
	return target == ErrPermanent
}

// Permanent wraps err so that the worker moves the job straight to the failed set.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Job is a unit of work referencing one action.
type Job struct {
	ID          string     `json:"id"`
	ActionID    string     `json:"action_id"`
	Priority    int        `json:"priority"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
	LastError   string     `json:"last_error,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Options configures queue behaviour.
type Options struct {
	Prefix        string
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	Visibility    time.Duration
	KeepCompleted int64
	KeepFailed    int64
}

// DefaultOptions mirrors the production defaults: three attempts, 2s doubling backoff,
// the last 100 completed and 500 failed jobs retained.
func DefaultOptions() Options {
	return Options{
		Prefix:        "actions:queue",
		MaxAttempts:   3,
		BackoffBase:   2 * time.Second,
		BackoffMax:    5 * time.Minute,
		Visibility:    5 * time.Minute,
		KeepCompleted: 100,
		KeepFailed:    500,
	}
}

// EnqueueOptions controls ordering and scheduling of a single job.
type EnqueueOptions struct {
	Priority    int
	NotBefore   time.Time
	MaxAttempts int
}

// Stats reports the size of each queue partition.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Queue is a Redis-backed priority queue with at-least-once delivery, delayed retries
// and bounded retention of finished jobs.
type Queue struct {
	client *redis.Client
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

var enqueueScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("HSET", KEYS[4], ARGV[5], ARGV[2])
if ARGV[3] == "1" then
  redis.call("ZADD", KEYS[3], ARGV[4], ARGV[5])
else
  redis.call("ZADD", KEYS[2], ARGV[2], ARGV[5])
end
return 1
`)

var dequeueScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local expired = redis.call("ZRANGEBYSCORE", KEYS[3], "-inf", now)
for _, id in ipairs(expired) do
  redis.call("ZREM", KEYS[3], id)
  redis.call("ZADD", KEYS[1], redis.call("HGET", KEYS[4], id) or 0, id)
end
local due = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", now)
for _, id in ipairs(due) do
  redis.call("ZREM", KEYS[2], id)
  redis.call("ZADD", KEYS[1], redis.call("HGET", KEYS[4], id) or 0, id)
end
local head = redis.call("ZRANGE", KEYS[1], 0, 0)
if #head == 0 then
  return false
end
local id = head[1]
redis.call("ZREM", KEYS[1], id)
redis.call("ZADD", KEYS[3], ARGV[2], id)
return id
`)

// New constructs a queue on top of the given Redis client.
func New(client *redis.Client, opts Options, logger zerolog.Logger) *Queue {
	defaults := DefaultOptions()
	if opts.Prefix == "" {
		opts.Prefix = defaults.Prefix
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaults.MaxAttempts
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaults.BackoffBase
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = defaults.BackoffMax
	}
	if opts.Visibility <= 0 {
		opts.Visibility = defaults.Visibility
	}
	if opts.KeepCompleted <= 0 {
		opts.KeepCompleted = defaults.KeepCompleted
	}
	if opts.KeepFailed <= 0 {
		opts.KeepFailed = defaults.KeepFailed
	}

	return &Queue{
		client: client,
		opts:   opts,
		logger: logger.With().Str("component", "action_queue").Logger(),
		now:    time.Now,
	}
}

// Enqueue adds a job for the action. It returns false when a job for the action is already queued.
func (q *Queue) Enqueue(ctx context.Context, actionID string, opts EnqueueOptions) (bool, error) {
	now := q.now().UTC()
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.opts.MaxAttempts
	}

	job := Job{
		ID:          actionID,
		ActionID:    actionID,
		Priority:    opts.Priority,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  now,
	}
	encoded, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("encode job: %w", err)
	}

	delayed := "0"
	readyAt := now.UnixMilli()
	if opts.NotBefore.After(now) {
		delayed = "1"
		readyAt = opts.NotBefore.UnixMilli()
	}

	score := float64(opts.Priority)*priorityStride + float64(now.UnixMilli())
	added, err := enqueueScript.Run(ctx, q.client,
		[]string{q.jobKey(actionID), q.key("waiting"), q.key("delayed"), q.key("scores")},
		string(encoded), strconv.FormatFloat(score, 'f', -1, 64), delayed, readyAt, actionID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("enqueue job: %w", err)
	}

	return added == 1, nil
}

// Dequeue leases the most urgent due job. It returns nil when nothing is ready.
// Jobs whose lease expired are returned to the waiting set first.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	now := q.now().UTC()
	deadline := now.Add(q.opts.Visibility)

	id, err := dequeueScript.Run(ctx, q.client,
		[]string{q.key("waiting"), q.key("delayed"), q.key("active"), q.key("scores")},
		now.UnixMilli(), deadline.UnixMilli(),
	).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue job: %w", err)
	}

	raw, err := q.client.Get(ctx, q.jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			q.logger.Warn().Str("job_id", id).Msg("dropping queue entry without job body")
			q.client.ZRem(ctx, q.key("active"), id)
			return nil, nil
		}
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}

	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

// Complete acknowledges a job and moves it into the bounded completed list.
func (q *Queue) Complete(ctx context.Context, job *Job) error {
	return q.finish(ctx, job, "completed", q.opts.KeepCompleted)
}

// Fail moves a job into the bounded failed list without further attempts.
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) error {
	if cause != nil {
		job.LastError = cause.Error()
	}
	return q.finish(ctx, job, "failed", q.opts.KeepFailed)
}

// Retry reschedules a job with exponential backoff. Once the attempt budget is spent
// the job is failed instead and Retry reports false.
func (q *Queue) Retry(ctx context.Context, job *Job, cause error) (bool, error) {
	job.Attempts++
	if cause != nil {
		job.LastError = cause.Error()
	}
	if job.Attempts >= job.MaxAttempts {
		return false, q.Fail(ctx, job, cause)
	}

	encoded, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("encode job: %w", err)
	}

	readyAt := q.now().UTC().Add(q.Backoff(job.Attempts))
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.jobKey(job.ID), encoded, 0)
		pipe.ZRem(ctx, q.key("active"), job.ID)
		pipe.ZAdd(ctx, q.key("delayed"), redis.Z{Score: float64(readyAt.UnixMilli()), Member: job.ID})
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("reschedule job %s: %w", job.ID, err)
	}
	return true, nil
}

// Backoff returns the delay before the given retry attempt: base, 2*base, 4*base, ...
func (q *Queue) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := q.opts.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= q.opts.BackoffMax {
			return q.opts.BackoffMax
		}
	}
	return delay
}

// Stats reports the current partition sizes.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.ZCard(ctx, q.key("waiting"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	active := pipe.ZCard(ctx, q.key("active"))
	completed := pipe.LLen(ctx, q.key("completed"))
	failed := pipe.LLen(ctx, q.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}

	return Stats{
		Waiting:   waiting.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

// Finished returns the most recent jobs from the completed or failed list.
func (q *Queue) Finished(ctx context.Context, list string, limit int64) ([]Job, error) {
	if list != "completed" && list != "failed" {
		return nil, fmt.Errorf("unknown job list %q", list)
	}
	if limit <= 0 {
		limit = 20
	}

	items, err := q.client.LRange(ctx, q.key(list), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s jobs: %w", list, err)
	}

	jobs := make([]Job, 0, len(items))
	for _, item := range items {
		var job Job
		if err := json.Unmarshal([]byte(item), &job); err != nil {
			q.logger.Warn().Err(err).Str("list", list).Msg("skipping undecodable job")
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (q *Queue) finish(ctx context.Context, job *Job, list string, keep int64) error {
	finishedAt := q.now().UTC()
	job.FinishedAt = &finishedAt
	encoded, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.key("active"), job.ID)
		pipe.Del(ctx, q.jobKey(job.ID))
		pipe.HDel(ctx, q.key("scores"), job.ID)
		pipe.LPush(ctx, q.key(list), encoded)
		pipe.LTrim(ctx, q.key(list), 0, keep-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("move job %s to %s: %w", job.ID, list, err)
	}
	return nil
}

func (q *Queue) key(name string) string {
	return q.opts.Prefix + ":" + name
}

func (q *Queue) jobKey(id string) string {
	return q.opts.Prefix + ":job:" + id
}
