package hub

import (
	"context"
	"sync"
	"time"

	"wbuoj/internal/judge/model"
	appErr "wbuoj/pkg/errors"
	"wbuoj/pkg/utils/logger"

	"go.uber.org/zap"
)

// Requeuer hands a submission id back to the pending queue. Implemented by
// the task queue; called for every in-flight task of a lost worker.
type Requeuer interface {
	Requeue(ctx context.Context, submissionID string) error
}

// ResultSink consumes inbound result messages. Implemented by the result
// ingestor.
type ResultSink interface {
	HandleProgress(ctx context.Context, msg *model.ProgressMessage)
	HandleFinal(ctx context.Context, msg *model.FinalMessage)
}

// WorkerInfo is an admin-surface snapshot of one connection.
type WorkerInfo struct {
	ID          string    `json:"id"`
	Concurrency int       `json:"concurrency"`
	Languages   []string  `json:"languages"`
	Assigned    int       `json:"assigned"`
	LastPong    time.Time `json:"last_pong"`
}

// Hub owns the authoritative table of live worker connections. Every read
// and write of a worker's assigned set goes through the hub so the capacity
// invariant holds across concurrent socket handlers and dispatcher ticks.
type Hub struct {
	mu       sync.RWMutex
	workers  map[string]*Worker
	requeuer Requeuer

	pingInterval time.Duration
}

// NewHub creates a hub. A non-positive pingInterval falls back to 30s.
func NewHub(requeuer Requeuer, pingInterval time.Duration) *Hub {
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	return &Hub{
		workers:      make(map[string]*Worker),
		requeuer:     requeuer,
		pingInterval: pingInterval,
	}
}

// Register adds a worker to the table.
func (h *Hub) Register(w *Worker) {
	h.mu.Lock()
	h.workers[w.ID] = w
	h.mu.Unlock()

	logger.Info(context.Background(), "worker registered", zap.String("worker_id", w.ID))
}

// Unregister removes a worker and requeues every submission id still in its
// assigned set. Called once, when the transport signals the connection as
// closed. Tasks redelivered this way may still be executing on the lost
// worker: delivery is at-least-once, not exactly-once.
func (h *Hub) Unregister(ctx context.Context, w *Worker) {
	h.mu.Lock()
	current, ok := h.workers[w.ID]
	if !ok || current != w {
		h.mu.Unlock()
		return
	}
	delete(h.workers, w.ID)
	h.mu.Unlock()

	for _, submissionID := range w.takeAssigned() {
		if err := h.requeuer.Requeue(ctx, submissionID); err != nil {
			logger.Error(ctx, "requeue after worker loss failed",
				zap.String("worker_id", w.ID),
				zap.String("submission_id", submissionID),
				zap.Error(err),
			)
			continue
		}
		logger.Info(ctx, "requeued in-flight submission",
			zap.String("worker_id", w.ID),
			zap.String("submission_id", submissionID),
		)
	}

	logger.Info(ctx, "worker removed", zap.String("worker_id", w.ID))
}

// Assign records a submission on a worker, failing when the worker is gone
// or already at its announced concurrency.
func (h *Hub) Assign(workerID, submissionID string) error {
	h.mu.RLock()
	w, ok := h.workers[workerID]
	h.mu.RUnlock()
	if !ok {
		return appErr.Newf(appErr.WorkerNotFound, "worker %s is not connected", workerID)
	}
	if !w.addAssigned(submissionID) {
		return appErr.Newf(appErr.DispatchFailed, "worker %s has no free capacity", workerID)
	}
	return nil
}

// Unassign drops a submission from a worker without requeueing, used when a
// send fails right after capacity was reserved.
func (h *Hub) Unassign(workerID, submissionID string) {
	h.mu.RLock()
	w, ok := h.workers[workerID]
	h.mu.RUnlock()
	if ok {
		w.removeAssigned(submissionID)
	}
}

// SendTo queues a frame for a worker by id.
func (h *Hub) SendTo(workerID string, data []byte) error {
	h.mu.RLock()
	w, ok := h.workers[workerID]
	h.mu.RUnlock()
	if !ok {
		return appErr.Newf(appErr.WorkerNotFound, "worker %s is not connected", workerID)
	}
	return w.Send(data)
}

// Release frees the capacity slot holding a submission and returns the id of
// the worker that held it.
func (h *Hub) Release(submissionID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, w := range h.workers {
		if w.removeAssigned(submissionID) {
			return id, true
		}
	}
	return "", false
}

// Workers returns a snapshot of the connection table.
func (h *Hub) Workers() []*Worker {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Worker, 0, len(h.workers))
	for _, w := range h.workers {
		out = append(out, w)
	}
	return out
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.workers)
}

// Snapshot renders the table for the admin surface.
func (h *Hub) Snapshot() []WorkerInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]WorkerInfo, 0, len(h.workers))
	for _, w := range h.workers {
		out = append(out, w.info())
	}
	return out
}
