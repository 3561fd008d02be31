package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	TaskThumbnail = "asset:thumbnail"
	TaskAutoTag   = "asset:autotag"
)

// Task is a deferred post-processing step for a single asset
type Task struct {
	Type    string `json:"type"`
	AssetID uint   `json:"asset_id"`
}

type TaskHandler func(ctx context.Context, t Task) error

// Dispatcher hands tasks to whatever runs them in the background
type Dispatcher interface {
	Enqueue(ctx context.Context, t Task) error
}

// JobQueue is an in-process bounded worker pool. It's used when no redis
// is configured.
type JobQueue struct {
	jobs    chan Task
	handler TaskHandler
	running atomic.Int32
	workers int
	timeout time.Duration
	wg      sync.WaitGroup

	// Guards closing jobs against in-flight sends
	mu      sync.RWMutex
	stopped bool
}

// NewJobQueue initializes a new job queue that limits the
// max amount of jobs that can be queued at once
func NewJobQueue(workers, maxQueued int, h TaskHandler) *JobQueue {
	if workers <= 0 {
		workers = 1
	}

	zap.L().Debug("Initializing job queue", zap.Int("workers", workers), zap.Int("max_jobs", maxQueued))

	return &JobQueue{
		jobs:    make(chan Task, maxQueued),
		handler: h,
		workers: workers,
		timeout: 5 * time.Minute,
	}
}

func (q *JobQueue) StartWorkerPool() {
	for range q.workers {
		q.wg.Add(1)
		go q.worker()
	}
}

func (q *JobQueue) worker() {
	defer q.wg.Done()

	for t := range q.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		err := q.handler(ctx, t)
		cancel()

		q.running.Add(-1)

		if err != nil {
			zap.L().Error("Job finished with an error",
				zap.String("type", t.Type),
				zap.Uint("asset_id", t.AssetID),
				zap.Error(err))
		} else {
			zap.L().Debug("Job finished successfully", zap.String("type", t.Type), zap.Uint("asset_id", t.AssetID))
		}
	}
}

func (q *JobQueue) Enqueue(_ context.Context, t Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.stopped {
		return ErrQueueFull
	}

	q.running.Add(1)

	select {
	case q.jobs <- t:
		zap.L().Debug("New job enqueued", zap.Int32("enqueued", q.running.Load()), zap.String("type", t.Type))
		return nil
	default:
		q.running.Add(-1)
		return ErrQueueFull
	}
}

// Pending returns the number of jobs queued or running
func (q *JobQueue) Pending() int {
	return int(q.running.Load())
}

// Stop stops accepting jobs and waits for the queued ones to finish
func (q *JobQueue) Stop() {
	q.mu.Lock()
	if !q.stopped {
		q.stopped = true
		close(q.jobs)
	}
	q.mu.Unlock()

	q.wg.Wait()
}
