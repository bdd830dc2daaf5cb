package queue

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestQueue(t *testing.T, opts Options) (*Queue, *testClock) {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	q := New(client, opts, zerolog.New(io.Discard))
	q.now = clock.Now
	return q, clock
}

func TestQueueOrdersByPriorityThenEnqueueTime(t *testing.T) {
	q, clock := newTestQueue(t, Options{})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "low", EnqueueOptions{Priority: 8})
	require.NoError(t, err)
	clock.Advance(time.Millisecond)
	_, err = q.Enqueue(ctx, "normal-1", EnqueueOptions{Priority: 5})
	require.NoError(t, err)
	clock.Advance(time.Millisecond)
	_, err = q.Enqueue(ctx, "urgent", EnqueueOptions{Priority: 1})
	require.NoError(t, err)
	clock.Advance(time.Millisecond)
	_, err = q.Enqueue(ctx, "normal-2", EnqueueOptions{Priority: 5})
	require.NoError(t, err)

	var order []string
	for {
		job, err := q.Dequeue(ctx)
		require.NoError(t, err)
		if job == nil {
			break
		}
		order = append(order, job.ActionID)
	}
	require.Equal(t, []string{"urgent", "normal-1", "normal-2", "low"}, order)
}

func TestQueueEnqueueIsIdempotentPerAction(t *testing.T) {
	q, _ := newTestQueue(t, Options{})
	ctx := context.Background()

	added, err := q.Enqueue(ctx, "a-1", EnqueueOptions{Priority: 5})
	require.NoError(t, err)
	require.True(t, added)

	added, err = q.Enqueue(ctx, "a-1", EnqueueOptions{Priority: 1})
	require.NoError(t, err)
	require.False(t, added)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, job))

	added, err = q.Enqueue(ctx, "a-1", EnqueueOptions{Priority: 5})
	require.NoError(t, err)
	require.True(t, added)
}

func TestQueueHoldsScheduledJobsUntilDue(t *testing.T) {
	q, clock := newTestQueue(t, Options{})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "later", EnqueueOptions{Priority: 5, NotBefore: clock.now.Add(time.Hour)})
	require.NoError(t, err)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Nil(t, job)

	clock.Advance(time.Hour + time.Second)
	job, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, "later", job.ActionID)
}

func TestQueueRetryUsesDoublingBackoffAndFailsWhenExhausted(t *testing.T) {
	q, clock := newTestQueue(t, Options{MaxAttempts: 3, BackoffBase: 2 * time.Second})
	ctx := context.Background()

	require.Equal(t, 2*time.Second, q.Backoff(1))
	require.Equal(t, 4*time.Second, q.Backoff(2))
	require.Equal(t, 8*time.Second, q.Backoff(3))

	_, err := q.Enqueue(ctx, "flaky", EnqueueOptions{Priority: 5})
	require.NoError(t, err)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	retrying, err := q.Retry(ctx, job, errors.New("timeout"))
	require.NoError(t, err)
	require.True(t, retrying)

	job, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.Nil(t, job, "job must wait for its backoff")

	clock.Advance(2 * time.Second)
	job, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, 1, job.Attempts)

	retrying, err = q.Retry(ctx, job, errors.New("timeout"))
	require.NoError(t, err)
	require.True(t, retrying)

	clock.Advance(4 * time.Second)
	job, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	retrying, err = q.Retry(ctx, job, errors.New("timeout"))
	require.NoError(t, err)
	require.False(t, retrying)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{Failed: 1}, stats)

	failed, err := q.Finished(ctx, "failed", 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "timeout", failed[0].LastError)
	require.Equal(t, 3, failed[0].Attempts)
}

func TestQueueReclaimsExpiredLeases(t *testing.T) {
	q, clock := newTestQueue(t, Options{Visibility: time.Minute})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "crashy", EnqueueOptions{Priority: 5})
	require.NoError(t, err)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	job, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.Nil(t, job)

	clock.Advance(2 * time.Minute)
	job, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, "crashy", job.ActionID)
}

func TestQueueRetentionIsBounded(t *testing.T) {
	q, _ := newTestQueue(t, Options{KeepCompleted: 2})
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(ctx, id, EnqueueOptions{Priority: 5})
		require.NoError(t, err)
		job, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NoError(t, q.Complete(ctx, job))
	}

	completed, err := q.Finished(ctx, "completed", 10)
	require.NoError(t, err)
	require.Len(t, completed, 2)
	require.Equal(t, "c", completed[0].ID)
}

func TestPermanentErrorIsDetectable(t *testing.T) {
	cause := errors.New("no handler")
	err := Permanent(cause)
	require.ErrorIs(t, err, ErrPermanent)
	require.ErrorIs(t, err, cause)
	require.NoError(t, Permanent(nil))
}
