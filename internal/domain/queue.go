package domain

import (
	"context"
	"time"
)

// Publisher enqueues tasks onto the external broker. The receiver must never
// block on downstream work, so Publish is the only thing it does with a task.
type Publisher interface {
	// Publish enqueues a task for immediate consumption.
	Publish(ctx context.Context, task Task) error

	// PublishDelayed enqueues a task that becomes visible to consumers
	// only after the given delay. Used by the orchestrator's retry path.
	PublishDelayed(ctx context.Context, task Task, delay time.Duration) error

	// Ping verifies broker connectivity for the status endpoint.
	Ping(ctx context.Context) error

	// ConsumerCount reports how many workers are attached to the queue,
	// also for the status endpoint.
	ConsumerCount(ctx context.Context) (int, error)

	Close() error
}

// TaskHandler processes one task. A nil return acknowledges the task; an
// error return leaves it to the broker's redelivery mechanics.
type TaskHandler func(ctx context.Context, task Task) error

// Consumer drains the task queue with a bounded worker pool.
type Consumer interface {
	// Consume blocks, dispatching tasks to handler until ctx is cancelled.
	Consume(ctx context.Context, handler TaskHandler) error

	Close() error
}
