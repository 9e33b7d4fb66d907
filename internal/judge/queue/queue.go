package queue

import (
	"context"
	"encoding/json"
	"time"

	"wbuoj/internal/common/cache"
	"wbuoj/internal/judge/model"
	appErr "wbuoj/pkg/errors"
)

const (
	pendingListKey = "judge:queue:pending"
	taskKeyPrefix  = "judge:task:"
	defaultTaskTTL = 24 * time.Hour
)

// TaskQueue is a durable strict-FIFO queue of pending submissions backed by
// redis. The task payload is stored per submission id with a bounded TTL;
// the pending list carries only submission ids. Producers push to the tail,
// the dispatcher pops from the head, and requeued ids go back to the tail;
// there is no re-prioritization on retry.
type TaskQueue struct {
	cache   cache.Cache
	taskTTL time.Duration
}

// NewTaskQueue creates a queue on the given cache. A non-positive ttl falls
// back to 24h.
func NewTaskQueue(c cache.Cache, taskTTL time.Duration) *TaskQueue {
	if taskTTL <= 0 {
		taskTTL = defaultTaskTTL
	}
	return &TaskQueue{cache: c, taskTTL: taskTTL}
}

// Enqueue persists the task payload and appends the submission id to the
// tail of the pending list.
func (q *TaskQueue) Enqueue(ctx context.Context, task *model.JudgeTask) error {
	if task == nil || task.SubmissionID == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("task submission id is required")
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return appErr.Wrap(err, appErr.TaskEncodeFailed)
	}
	if err := q.cache.Set(ctx, taskKeyPrefix+task.SubmissionID, payload, q.taskTTL); err != nil {
		return appErr.Wrap(err, appErr.QueueError)
	}
	if err := q.cache.RPush(ctx, pendingListKey, task.SubmissionID); err != nil {
		return appErr.Wrap(err, appErr.QueueError)
	}
	return nil
}

// Pop removes the head submission id and loads its payload. It returns
// ("", nil, nil) when the list is empty, and (id, nil, nil) when the id was
// present but its payload TTL has elapsed. The caller decides how to
// surface the expiry.
func (q *TaskQueue) Pop(ctx context.Context) (string, *model.JudgeTask, error) {
	id, err := q.cache.LPop(ctx, pendingListKey)
	if err != nil {
		return "", nil, appErr.Wrap(err, appErr.QueueError)
	}
	if id == "" {
		return "", nil, nil
	}

	raw, err := q.cache.Get(ctx, taskKeyPrefix+id)
	if err != nil {
		return id, nil, appErr.Wrap(err, appErr.QueueError)
	}
	if raw == "" {
		return id, nil, nil
	}

	var task model.JudgeTask
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return id, nil, appErr.Wrap(err, appErr.QueueError)
	}
	return id, &task, nil
}

// Requeue appends a submission id back to the tail of the pending list.
// The payload written at enqueue time is reused if it has not expired.
func (q *TaskQueue) Requeue(ctx context.Context, submissionID string) error {
	if submissionID == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("submission id is required")
	}
	if err := q.cache.RPush(ctx, pendingListKey, submissionID); err != nil {
		return appErr.Wrap(err, appErr.QueueError)
	}
	return nil
}

// Remove deletes the stored task payload, called once a final result lands.
func (q *TaskQueue) Remove(ctx context.Context, submissionID string) error {
	if submissionID == "" {
		return nil
	}
	if err := q.cache.Del(ctx, taskKeyPrefix+submissionID); err != nil {
		return appErr.Wrap(err, appErr.QueueError)
	}
	return nil
}

// Depth returns the number of pending submission ids.
func (q *TaskQueue) Depth(ctx context.Context) (int64, error) {
	depth, err := q.cache.LLen(ctx, pendingListKey)
	if err != nil {
		return 0, appErr.Wrap(err, appErr.QueueError)
	}
	return depth, nil
}
