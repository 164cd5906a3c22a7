package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eldergen-backend/internal/queue"
)

func newTestQueue(t *testing.T) (*queue.Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return queue.NewWithClient(rdb, log), mr
}

func TestEnqueueAndConsume(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	task := queue.Task{JobID: "job-1", UserID: 7, Prompt: "make it sparkle", Attempt: 1}
	require.NoError(t, q.Enqueue(ctx, task))

	received := make(chan queue.Task, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.Run(ctx, 1, func(_ context.Context, got queue.Task) error {
			received <- got
			return nil
		})
	}()

	select {
	case got := <-received:
		assert.Equal(t, task, got)
	case <-time.After(5 * time.Second):
		t.Fatal("task was not delivered")
	}

	cancel()
	wg.Wait()
}

func TestEnqueueIn_NotDeliverableBeforeDue(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	task := queue.Task{JobID: "job-1", UserID: 7, Attempt: 2}
	require.NoError(t, q.EnqueueIn(ctx, task, time.Hour))

	// The task sits in the delayed set, not the ready list.
	ready, err := mr.List("eldergen:jobs")
	assert.Error(t, err) // key does not exist yet
	assert.Empty(t, ready)
	members, err := mr.ZMembers("eldergen:jobs:delayed")
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestEnqueueIn_DueTaskIsPromotedAndDelivered(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	task := queue.Task{JobID: "job-1", UserID: 7, Attempt: 2}
	require.NoError(t, q.EnqueueIn(ctx, task, -time.Second))

	received := make(chan queue.Task, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.Run(ctx, 1, func(_ context.Context, got queue.Task) error {
			received <- got
			return nil
		})
	}()

	select {
	case got := <-received:
		assert.Equal(t, task, got)
	case <-time.After(5 * time.Second):
		t.Fatal("due task was not promoted")
	}

	cancel()
	wg.Wait()
}

// Each task goes to exactly one worker even with several consuming.
func TestConcurrentWorkersNoDoubleDelivery(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const tasks = 20
	for i := 0; i < tasks; i++ {
		require.NoError(t, q.Enqueue(ctx, queue.Task{JobID: string(rune('a' + i)), Attempt: 1}))
	}

	var mu sync.Mutex
	seen := map[string]int{}
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.Run(ctx, 4, func(_ context.Context, got queue.Task) error {
			mu.Lock()
			seen[got.JobID]++
			total := len(seen)
			mu.Unlock()
			if total == tasks {
				close(done)
			}
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("not all tasks delivered")
	}

	cancel()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for jobID, count := range seen {
		assert.Equal(t, 1, count, "job %s delivered %d times", jobID, count)
	}
}

// Malformed payloads are dropped, and consumption continues.
func TestMalformedTaskDropped(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mr.Lpush("eldergen:jobs", "not-json")
	require.NoError(t, q.Enqueue(ctx, queue.Task{JobID: "job-1", Attempt: 1}))

	received := make(chan queue.Task, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.Run(ctx, 1, func(_ context.Context, got queue.Task) error {
			received <- got
			return nil
		})
	}()

	select {
	case got := <-received:
		assert.Equal(t, "job-1", got.JobID)
	case <-time.After(5 * time.Second):
		t.Fatal("valid task after malformed one was not delivered")
	}

	cancel()
	wg.Wait()
}

// A handler error does not ack-and-retry at the queue level; redelivery
// is the handler's own requeue decision.
func TestHandlerErrorDoesNotRedeliver(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Enqueue(ctx, queue.Task{JobID: "job-1", Attempt: 1}))

	handled := make(chan struct{}, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.Run(ctx, 1, func(_ context.Context, _ queue.Task) error {
			handled <- struct{}{}
			return assert.AnError
		})
	}()

	<-handled
	time.Sleep(100 * time.Millisecond)

	ready, _ := mr.List("eldergen:jobs")
	assert.Empty(t, ready)
	select {
	case <-handled:
		t.Fatal("task was redelivered after handler error")
	default:
	}

	cancel()
	wg.Wait()
}
