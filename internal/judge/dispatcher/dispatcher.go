package dispatcher

import (
	"context"
	"sync/atomic"
	"time"

	"wbuoj/internal/judge/hub"
	"wbuoj/internal/judge/model"
	"wbuoj/internal/judge/protocol"
	"wbuoj/pkg/utils/logger"

	"go.uber.org/zap"
)

// DefaultInterval is the dispatch tick period.
const DefaultInterval = time.Second

// TaskSource is the queue view the dispatcher needs. Implemented by
// queue.TaskQueue.
type TaskSource interface {
	Pop(ctx context.Context) (string, *model.JudgeTask, error)
	Requeue(ctx context.Context, submissionID string) error
}

// Pool is the connection-table view the dispatcher needs. Implemented by
// hub.Hub.
type Pool interface {
	Snapshot() []hub.WorkerInfo
	Assign(workerID, submissionID string) error
	Unassign(workerID, submissionID string)
	SendTo(workerID string, data []byte) error
}

// FailureReporter records submissions that can never reach a worker, such as
// tasks whose queued payload expired before dispatch.
type FailureReporter interface {
	ReportDispatchFailure(ctx context.Context, submissionID, reason string) error
}

// Dispatcher drains the pending queue into free worker slots on a fixed
// tick. A single instance runs per process; ticks never overlap.
type Dispatcher struct {
	queue    TaskSource
	pool     Pool
	reporter FailureReporter
	domain   string
	interval time.Duration

	ticking atomic.Bool
}

// NewDispatcher creates a dispatcher. A non-positive interval falls back to
// DefaultInterval.
func NewDispatcher(queue TaskSource, pool Pool, reporter FailureReporter, domain string, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Dispatcher{
		queue:    queue,
		pool:     pool,
		reporter: reporter,
		domain:   domain,
		interval: interval,
	}
}

// Run ticks until the context is cancelled. Blocks; run it in its own
// goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	logger.Info(ctx, "dispatcher started", zap.Duration("interval", d.interval))
	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "dispatcher stopped")
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick runs one dispatch round. If a previous round is still running the
// call returns immediately so slow rounds never stack.
func (d *Dispatcher) Tick(ctx context.Context) {
	if !d.ticking.CompareAndSwap(false, true) {
		return
	}
	defer d.ticking.Store(false)

	for _, info := range d.pool.Snapshot() {
		free := info.Concurrency - info.Assigned
		if free <= 0 {
			continue
		}
		if !d.fillWorker(ctx, info.ID, free) {
			return
		}
	}
}

// fillWorker pops tasks into one worker until its free slots are used up.
// Returns false when the queue is drained or failing, which ends the whole
// round.
func (d *Dispatcher) fillWorker(ctx context.Context, workerID string, free int) bool {
	for free > 0 {
		submissionID, task, err := d.queue.Pop(ctx)
		if err != nil {
			logger.Error(ctx, "queue pop failed", zap.Error(err))
			return false
		}
		if submissionID == "" {
			return false
		}
		if task == nil {
			// The id outlived its payload. The submission can never be
			// judged, so surface that instead of dropping it silently.
			d.reportFailure(ctx, submissionID, "task payload expired before dispatch")
			continue
		}

		data, err := d.encodeTask(task)
		if err != nil {
			logger.Error(ctx, "task encode failed",
				zap.String("submission_id", submissionID), zap.Error(err))
			d.reportFailure(ctx, submissionID, "task could not be encoded for dispatch")
			continue
		}

		if err := d.pool.Assign(workerID, submissionID); err != nil {
			// Capacity changed under us; put the task back for the next round.
			d.requeue(ctx, submissionID)
			return true
		}
		if err := d.pool.SendTo(workerID, data); err != nil {
			logger.Warn(ctx, "task send failed",
				zap.String("worker_id", workerID),
				zap.String("submission_id", submissionID),
				zap.Error(err),
			)
			d.pool.Unassign(workerID, submissionID)
			d.requeue(ctx, submissionID)
			return true
		}

		logger.Info(ctx, "task dispatched",
			zap.String("worker_id", workerID),
			zap.String("submission_id", submissionID),
		)
		free--
	}
	return true
}

func (d *Dispatcher) encodeTask(task *model.JudgeTask) ([]byte, error) {
	msg, err := protocol.BuildTaskMessage(task, d.domain)
	if err != nil {
		return nil, err
	}
	return protocol.EncodeEnvelope(model.MessageTypeTask, msg)
}

func (d *Dispatcher) requeue(ctx context.Context, submissionID string) {
	if err := d.queue.Requeue(ctx, submissionID); err != nil {
		logger.Error(ctx, "requeue failed",
			zap.String("submission_id", submissionID), zap.Error(err))
	}
}

func (d *Dispatcher) reportFailure(ctx context.Context, submissionID, reason string) {
	if err := d.reporter.ReportDispatchFailure(ctx, submissionID, reason); err != nil {
		logger.Error(ctx, "dispatch failure report failed",
			zap.String("submission_id", submissionID), zap.Error(err))
	}
}
