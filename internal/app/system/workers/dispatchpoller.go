// internal/app/system/workers/dispatchpoller.go
package workers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dalemusser/invitegate/internal/app/store/tasks"
	"github.com/dalemusser/invitegate/internal/app/system/lifecycle"
	"github.com/dalemusser/invitegate/internal/app/system/timeouts"
	"go.uber.org/zap"
)

// Processor runs the worker path for one transaction.
type Processor interface {
	ProcessInvite(ctx context.Context, transactionID string) (lifecycle.Outcome, error)
}

// Per-tick limit so one busy tick cannot starve Stop.
const maxTasksPerTick = 100

// DispatchPoller is a background worker that drains the local dispatch
// queue, invoking the worker path for every due task.
type DispatchPoller struct {
	tasks      *tasks.Store
	processor  Processor
	log        *zap.Logger
	interval   time.Duration
	staleAfter time.Duration
	retryAfter time.Duration
	now        func() time.Time
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// NewDispatchPoller creates a new dispatch poller.
//
// Parameters:
//   - taskStore: the local dispatch queue
//   - processor: runs the worker path (the lifecycle controller)
//   - logger: zap logger for logging
//   - interval: how often to poll for due tasks (e.g., 1 second)
//   - staleAfter: how long a claimed task may stay unacknowledged before it is released
func NewDispatchPoller(taskStore *tasks.Store, processor Processor, logger *zap.Logger, interval, staleAfter time.Duration) *DispatchPoller {
	return &DispatchPoller{
		tasks:      taskStore,
		processor:  processor,
		log:        logger,
		interval:   interval,
		staleAfter: staleAfter,
		retryAfter: 5 * time.Second,
		now:        func() time.Time { return time.Now().UTC() },
		stopCh:     make(chan struct{}),
	}
}

// Start begins the background polling loop.
func (w *DispatchPoller) Start() {
	w.wg.Add(1)
	go w.run()
	w.log.Info("dispatch poller started",
		zap.Duration("interval", w.interval),
		zap.Duration("stale_after", w.staleAfter))
}

// Stop signals the worker to stop and waits for it to finish.
func (w *DispatchPoller) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("dispatch poller stopped")
}

func (w *DispatchPoller) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.Poll()
		}
	}
}

// Poll releases stale claims and then processes due tasks until none remain,
// the per-tick limit is hit, or Stop is called. It returns the number of
// tasks processed.
func (w *DispatchPoller) Poll() int {
	w.releaseStale()

	n := 0
	for n < maxTasksPerTick {
		select {
		case <-w.stopCh:
			return n
		default:
		}
		if !w.processNext() {
			return n
		}
		n++
	}
	return n
}

func (w *DispatchPoller) releaseStale() {
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Short())
	defer cancel()

	count, err := w.tasks.RequeueStale(ctx, w.now().Add(-w.staleAfter))
	if err != nil {
		w.log.Error("failed to release stale dispatch tasks", zap.Error(err))
		return
	}
	if count > 0 {
		w.log.Warn("released stale dispatch tasks", zap.Int64("count", count))
	}
}

// processNext claims and runs one due task. It reports whether a task was
// claimed.
func (w *DispatchPoller) processNext() bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Short())
	task, err := w.tasks.ClaimDue(ctx, w.now())
	cancel()
	if errors.Is(err, tasks.ErrNoneDue) {
		return false
	}
	if err != nil {
		w.log.Error("failed to claim dispatch task", zap.Error(err))
		return false
	}

	log := w.log.With(zap.String("transaction_id", task.TransactionID), zap.String("task_id", task.ID.Hex()))

	pctx, pcancel := timeouts.WithTimeout(context.Background(), timeouts.Long(), w.log, "process invite")
	outcome, err := w.processor.ProcessInvite(pctx, task.TransactionID)
	pcancel()

	ctx, cancel = context.WithTimeout(context.Background(), timeouts.Short())
	defer cancel()

	if err != nil {
		log.Error("worker path failed; task released", zap.Error(err))
		if rerr := w.tasks.Release(ctx, task.ID, w.now().Add(w.retryAfter)); rerr != nil {
			log.Error("failed to release dispatch task", zap.Error(rerr))
		}
		return true
	}

	// Retries and lease follow-ups are enqueued by the controller as new
	// tasks, so every outcome acknowledges this one.
	log.Debug("dispatch task processed", zap.String("outcome", string(outcome)))
	if err := w.tasks.Delete(ctx, task.ID); err != nil {
		log.Error("failed to acknowledge dispatch task", zap.Error(err))
	}
	return true
}
