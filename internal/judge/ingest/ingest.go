package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"wbuoj/internal/common/db"
	"wbuoj/internal/common/mq"
	"wbuoj/internal/judge/model"
	"wbuoj/internal/judge/protocol"
	"wbuoj/internal/judge/repository"
	"wbuoj/pkg/utils/logger"

	"go.uber.org/zap"
)

// SlotReleaser frees the worker capacity slot held by a submission.
// Implemented by hub.Hub.
type SlotReleaser interface {
	Release(submissionID string) (string, bool)
}

// TaskRemover deletes a finished task's queued payload. Implemented by
// queue.TaskQueue.
type TaskRemover interface {
	Remove(ctx context.Context, submissionID string) error
}

// Config holds the ingestor's dependencies.
type Config struct {
	DB          db.Database
	Submissions repository.SubmissionRepository
	Problems    repository.ProblemRepository
	UserStats   repository.UserStatsRepository
	Queue       TaskRemover
	Slots       SlotReleaser
	Producer    mq.Producer // optional, nil disables status events
	EventTopic  string
}

// Ingestor applies inbound results to storage. Results can arrive more than
// once and out of order; the non-terminal status guard in the submission
// repository makes the first terminal write win and every later write a
// no-op.
type Ingestor struct {
	db          db.Database
	submissions repository.SubmissionRepository
	problems    repository.ProblemRepository
	userStats   repository.UserStatsRepository
	queue       TaskRemover
	slots       SlotReleaser
	producer    mq.Producer
	eventTopic  string

	waiters sync.Map // submission id -> chan model.FinalResult
}

// NewIngestor creates an ingestor.
func NewIngestor(cfg Config) (*Ingestor, error) {
	if cfg.DB == nil {
		return nil, errors.New("database is required")
	}
	if cfg.Submissions == nil {
		return nil, errors.New("submission repository is required")
	}
	if cfg.Problems == nil {
		return nil, errors.New("problem repository is required")
	}
	if cfg.UserStats == nil {
		return nil, errors.New("user stats repository is required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("task remover is required")
	}
	if cfg.Slots == nil {
		return nil, errors.New("slot releaser is required")
	}
	if cfg.Producer != nil && cfg.EventTopic == "" {
		return nil, errors.New("event topic is required when a producer is set")
	}
	return &Ingestor{
		db:          cfg.DB,
		submissions: cfg.Submissions,
		problems:    cfg.Problems,
		userStats:   cfg.UserStats,
		queue:       cfg.Queue,
		slots:       cfg.Slots,
		producer:    cfg.Producer,
		eventTopic:  cfg.EventTopic,
	}, nil
}

// HandleProgress applies a streamed partial result: the submission moves to
// judging unless a terminal status already won, and any per-case verdict is
// appended to the case log.
func (i *Ingestor) HandleProgress(ctx context.Context, msg *model.ProgressMessage) {
	moved, err := i.submissions.MarkJudging(ctx, nil, msg.SubmissionID)
	if err != nil {
		logger.Error(ctx, "progress status write failed",
			zap.String("submission_id", msg.SubmissionID), zap.Error(err))
		return
	}
	if !moved {
		// Already terminal; the progress message lost the race and per-case
		// rows for it would describe a run that no longer counts.
		return
	}

	if msg.Case != nil {
		result := &model.CaseResult{
			SubmissionID: msg.SubmissionID,
			Case:         msg.Case.Case,
			Passed:       protocol.StatusFromVerdict(msg.Case.Verdict) == model.StatusAccepted,
			TimeMS:       msg.Case.TimeMS,
			MemoryKB:     msg.Case.MemoryKB,
		}
		if err := i.submissions.AppendCaseResult(ctx, nil, result); err != nil {
			logger.Error(ctx, "case result write failed",
				zap.String("submission_id", msg.SubmissionID),
				zap.Int("case", msg.Case.Case),
				zap.Error(err),
			)
		}
	}
}

// HandleFinal applies a terminal result, then cleans up the queued payload,
// frees the worker slot, notifies in-process waiters and publishes a status
// event. Statistics run only for the result that actually landed.
func (i *Ingestor) HandleFinal(ctx context.Context, msg *model.FinalMessage) {
	status := protocol.StatusFromVerdict(msg.Verdict)
	if !status.Terminal() {
		// A final frame must carry a terminal verdict; anything else is a
		// worker bug and recorded as a runtime error.
		logger.Warn(ctx, "final message with non-terminal verdict",
			zap.String("submission_id", msg.SubmissionID),
			zap.Int("verdict", msg.Verdict),
		)
		status = model.StatusRuntimeError
	}

	update := &repository.FinalUpdate{
		SubmissionID: msg.SubmissionID,
		Status:       status,
		TimeMS:       msg.TimeMS,
		MemoryKB:     msg.MemoryKB,
	}
	if status == model.StatusCompileError {
		update.CompileError = msg.CompileError
	}
	if status == model.StatusRuntimeError {
		update.RuntimeMessage = msg.RuntimeMessage
	}

	applied, submission, err := i.finalize(ctx, update)
	if err != nil {
		logger.Error(ctx, "final status write failed",
			zap.String("submission_id", msg.SubmissionID), zap.Error(err))
		return
	}

	i.cleanup(ctx, msg.SubmissionID)

	if !applied {
		logger.Info(ctx, "duplicate final result ignored",
			zap.String("submission_id", msg.SubmissionID),
			zap.String("status", string(status)),
		)
		return
	}

	logger.Info(ctx, "submission finalized",
		zap.String("submission_id", msg.SubmissionID),
		zap.String("status", string(status)),
		zap.Int("time_ms", msg.TimeMS),
		zap.Int("memory_kb", msg.MemoryKB),
	)

	result := model.FinalResult{
		SubmissionID: msg.SubmissionID,
		Status:       status,
		TimeMS:       msg.TimeMS,
		MemoryKB:     msg.MemoryKB,
	}
	i.notifyWaiter(result)
	i.publishEvent(ctx, submission, result)
}

// ReportDispatchFailure finalizes a submission that can never reach a
// worker. The run is recorded as a runtime error with the reason as the
// runtime message.
func (i *Ingestor) ReportDispatchFailure(ctx context.Context, submissionID, reason string) error {
	update := &repository.FinalUpdate{
		SubmissionID:   submissionID,
		Status:         model.StatusRuntimeError,
		RuntimeMessage: reason,
	}
	applied, submission, err := i.finalize(ctx, update)
	if err != nil {
		return err
	}

	i.cleanup(ctx, submissionID)
	if !applied {
		return nil
	}

	logger.Warn(ctx, "submission failed before dispatch",
		zap.String("submission_id", submissionID),
		zap.String("reason", reason),
	)

	result := model.FinalResult{
		SubmissionID: submissionID,
		Status:       model.StatusRuntimeError,
	}
	i.notifyWaiter(result)
	i.publishEvent(ctx, submission, result)
	return nil
}

// finalize writes the terminal status and, when the write was the winning
// one, updates problem counters and first-accept statistics in the same
// transaction.
func (i *Ingestor) finalize(ctx context.Context, update *repository.FinalUpdate) (bool, *model.Submission, error) {
	var (
		applied    bool
		submission *model.Submission
	)
	err := i.db.Transaction(ctx, func(tx db.Transaction) error {
		ok, err := i.submissions.Finalize(ctx, tx, update)
		if err != nil {
			return err
		}
		applied = ok
		if !ok {
			return nil
		}

		submission, err = i.submissions.GetByID(ctx, tx, update.SubmissionID)
		if err != nil {
			return err
		}

		accepted := update.Status == model.StatusAccepted
		if err := i.problems.BumpCounters(ctx, tx, submission.ProblemID, accepted); err != nil {
			return err
		}
		if !accepted {
			return nil
		}

		problem, err := i.problems.GetByID(ctx, tx, submission.ProblemID)
		if err != nil {
			return err
		}
		first, err := i.userStats.RecordFirstAccept(ctx, tx, submission.UserID, submission.ProblemID, problem.Difficulty)
		if err != nil {
			return err
		}
		if first {
			logger.Info(ctx, "first accept awarded",
				zap.Int64("user_id", submission.UserID),
				zap.Int64("problem_id", submission.ProblemID),
				zap.Int("score", problem.Difficulty),
			)
		}
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	return applied, submission, nil
}

// cleanup drops the queued payload and frees the worker slot. Both are
// idempotent and run for duplicates too, since either side may not have been
// cleaned by the winning result yet.
func (i *Ingestor) cleanup(ctx context.Context, submissionID string) {
	if err := i.queue.Remove(ctx, submissionID); err != nil {
		logger.Error(ctx, "queued payload removal failed",
			zap.String("submission_id", submissionID), zap.Error(err))
	}
	if workerID, ok := i.slots.Release(submissionID); ok {
		logger.Debug(ctx, "worker slot released",
			zap.String("submission_id", submissionID),
			zap.String("worker_id", workerID),
		)
	}
}

// WaitForFinal registers an in-process waiter for a submission's terminal
// result. The returned channel receives at most one value; call cancel when
// done to drop the registration.
func (i *Ingestor) WaitForFinal(submissionID string) (<-chan model.FinalResult, func()) {
	ch := make(chan model.FinalResult, 1)
	i.waiters.Store(submissionID, ch)
	cancel := func() {
		i.waiters.Delete(submissionID)
	}
	return ch, cancel
}

func (i *Ingestor) notifyWaiter(result model.FinalResult) {
	value, ok := i.waiters.LoadAndDelete(result.SubmissionID)
	if !ok {
		return
	}
	ch := value.(chan model.FinalResult)
	select {
	case ch <- result:
	default:
	}
}

// publishEvent emits a status event for downstream consumers. Failures are
// logged and swallowed; event delivery never gates result ingestion.
func (i *Ingestor) publishEvent(ctx context.Context, submission *model.Submission, result model.FinalResult) {
	if i.producer == nil || submission == nil {
		return
	}

	event := model.StatusEvent{
		SubmissionID: result.SubmissionID,
		ProblemID:    submission.ProblemID,
		UserID:       submission.UserID,
		Status:       result.Status,
		TimeMS:       result.TimeMS,
		MemoryKB:     result.MemoryKB,
		CreatedAt:    time.Now(),
	}
	body, err := json.Marshal(event)
	if err != nil {
		logger.Error(ctx, "status event marshal failed",
			zap.String("submission_id", result.SubmissionID), zap.Error(err))
		return
	}

	msg := mq.NewMessage(body)
	msg.ID = result.SubmissionID
	msg.SetHeader("x-event-type", "submission.final")
	if err := i.producer.Publish(ctx, i.eventTopic, msg); err != nil {
		logger.Error(ctx, "status event publish failed",
			zap.String("submission_id", result.SubmissionID), zap.Error(err))
	}
}
