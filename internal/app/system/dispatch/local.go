// Package dispatch schedules later worker-path invocations. Local keeps the
// queue in MongoDB and is drained by workers.DispatchPoller; HTTP hands each
// task to an external task-queue API that calls the worker endpoint back.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/dalemusser/invitegate/internal/app/store/tasks"
	"go.uber.org/zap"
)

// Local enqueues tasks into the dispatch_tasks collection.
type Local struct {
	tasks *tasks.Store
	log   *zap.Logger
	now   func() time.Time
}

// NewLocal creates a Local dispatcher.
func NewLocal(store *tasks.Store, logger *zap.Logger) *Local {
	return &Local{
		tasks: store,
		log:   logger,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue implements lifecycle.Dispatcher.
func (d *Local) Enqueue(ctx context.Context, transactionID string, delay time.Duration) error {
	now := d.now()
	if delay < 0 {
		delay = 0
	}
	task, err := d.tasks.Enqueue(ctx, transactionID, now.Add(delay), now)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", transactionID, err)
	}
	d.log.Debug("task enqueued",
		zap.String("transaction_id", transactionID),
		zap.String("task_id", task.ID.Hex()),
		zap.Duration("delay", delay))
	return nil
}
