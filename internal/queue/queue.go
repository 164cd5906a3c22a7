// Package queue is a Redis-backed job queue with at-least-once delivery
// and delayed retries. Ready tasks live in a list consumed with BRPOP,
// so each task is handed to exactly one worker at a time; delayed tasks
// wait in a sorted set scored by their due time.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const (
	readyKey   = "eldergen:jobs"
	delayedKey = "eldergen:jobs:delayed"

	popTimeout      = 5 * time.Second
	promoteInterval = time.Second
)

// Task is the unit of work handed to the image worker.
type Task struct {
	JobID       string `json:"job_id"`
	UserID      int64  `json:"user_id"`
	Prompt      string `json:"prompt"`
	OriginalURL string `json:"original_url,omitempty"`
	Attempt     int    `json:"attempt"`
}

// Handler processes one task. A returned error is logged; redelivery is
// driven by the handler's own requeue decisions, not by the queue.
type Handler func(ctx context.Context, task Task) error

type Queue struct {
	rdb *redis.Client
	log *logrus.Logger
}

func New(redisURL string, log *logrus.Logger) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &Queue{rdb: rdb, log: log}, nil
}

// NewWithClient wraps an existing Redis client.
func NewWithClient(rdb *redis.Client, log *logrus.Logger) *Queue {
	return &Queue{rdb: rdb, log: log}
}

func (q *Queue) Close() error {
	return q.rdb.Close()
}

// Enqueue makes the task deliverable immediately.
func (q *Queue) Enqueue(ctx context.Context, task Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	if err := q.rdb.LPush(ctx, readyKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// EnqueueIn schedules the task for delivery after delay.
func (q *Queue) EnqueueIn(ctx context.Context, task Task, delay time.Duration) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	due := float64(time.Now().Add(delay).Unix())
	if err := q.rdb.ZAdd(ctx, delayedKey, &redis.Z{Score: due, Member: payload}).Err(); err != nil {
		return fmt.Errorf("failed to schedule task: %w", err)
	}
	return nil
}

// Run consumes tasks with the given worker concurrency until ctx is
// cancelled. A promoter goroutine moves due delayed tasks onto the
// ready list.
func (q *Queue) Run(ctx context.Context, concurrency int, handler Handler) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(promoteInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := q.promoteDue(ctx); err != nil && ctx.Err() == nil {
					q.log.WithError(err).Warn("failed to promote delayed tasks")
				}
			}
		}
	}()

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			q.consume(ctx, slot, handler)
		}(i)
	}

	wg.Wait()
}

func (q *Queue) consume(ctx context.Context, slot int, handler Handler) {
	for {
		if ctx.Err() != nil {
			return
		}

		res, err := q.rdb.BRPop(ctx, popTimeout, readyKey).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.log.WithError(err).WithField("slot", slot).Warn("failed to pop task")
			time.Sleep(time.Second)
			continue
		}

		var task Task
		if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
			q.log.WithError(err).WithField("payload", res[1]).Error("dropping malformed task")
			continue
		}

		if err := handler(ctx, task); err != nil {
			q.log.WithError(err).WithField("job_id", task.JobID).Error("task handler failed")
		}
	}
}

// promoteDue moves tasks whose score has passed onto the ready list.
// ZREM before LPUSH keeps a task from being promoted twice when several
// workers run the promoter.
func (q *Queue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	members, err := q.rdb.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return err
	}

	for _, member := range members {
		removed, err := q.rdb.ZRem(ctx, delayedKey, member).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		if err := q.rdb.LPush(ctx, readyKey, member).Err(); err != nil {
			return err
		}
	}
	return nil
}
