package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// AsynqDispatcher pushes tasks to redis so a separate worker process can
// pick them up
type AsynqDispatcher struct {
	client *asynq.Client
	queue  string
}

func NewAsynqDispatcher(opt asynq.RedisClientOpt, queue string) *AsynqDispatcher {
	return &AsynqDispatcher{
		client: asynq.NewClient(opt),
		queue:  queue,
	}
}

func (d *AsynqDispatcher) Enqueue(ctx context.Context, t Task) error {
	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal task, %w", err)
	}

	info, err := d.client.EnqueueContext(ctx, asynq.NewTask(t.Type, b),
		asynq.Queue(d.queue),
		asynq.MaxRetry(3),
		asynq.Timeout(5*time.Minute),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s task, %w", t.Type, err)
	}

	zap.L().Debug("Task enqueued", zap.String("type", t.Type), zap.String("task_id", info.ID), zap.Uint("asset_id", t.AssetID))
	return nil
}

func (d *AsynqDispatcher) Close() error {
	return d.client.Close()
}

// NewAsynqWorker builds the server and mux that process asset tasks
func NewAsynqWorker(opt asynq.RedisClientOpt, queue string, concurrency int, h TaskHandler) (*asynq.Server, *asynq.ServeMux) {
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	handle := func(ctx context.Context, task *asynq.Task) error {
		var t Task
		if err := json.Unmarshal(task.Payload(), &t); err != nil {
			return fmt.Errorf("failed to unmarshal task payload, %w: %w", err, asynq.SkipRetry)
		}

		t.Type = task.Type()
		return skipPermanent(h(ctx, t))
	}

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskThumbnail, handle)
	mux.HandleFunc(TaskAutoTag, handle)

	return srv, mux
}

// skipPermanent stops asynq from retrying failures that can't go away on
// their own
func skipPermanent(err error) error {
	if errors.Is(err, ErrUndecodableImage) || errors.Is(err, ErrImageTooLarge) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	return err
}
