package repository

import (
	"context"
	"errors"

	"wbuoj/internal/common/db"
	"wbuoj/internal/judge/model"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
)

// nonTerminalGuard limits status writes to submissions still in flight. A
// terminal status is never reverted, even by a late or duplicate result.
const nonTerminalGuard = "status IN ('pending', 'judging')"

// FinalUpdate carries the terminal fields written by a final result.
type FinalUpdate struct {
	SubmissionID   string
	Status         model.Status
	TimeMS         int
	MemoryKB       int
	CompileError   string
	RuntimeMessage string
}

// SubmissionRepository defines submission persistence interfaces.
type SubmissionRepository interface {
	GetByID(ctx context.Context, tx db.Transaction, submissionID string) (*model.Submission, error)
	MarkJudging(ctx context.Context, tx db.Transaction, submissionID string) (bool, error)
	Finalize(ctx context.Context, tx db.Transaction, update *FinalUpdate) (bool, error)
	AppendCaseResult(ctx context.Context, tx db.Transaction, result *model.CaseResult) error
	ResetForRejudge(ctx context.Context, tx db.Transaction, submissionID string) error
}

// MySQLSubmissionRepository implements SubmissionRepository with MySQL.
type MySQLSubmissionRepository struct {
	db db.Database
}

// NewSubmissionRepository creates a submission repository.
func NewSubmissionRepository(database db.Database) SubmissionRepository {
	return &MySQLSubmissionRepository{db: database}
}

const submissionColumns = "submission_id, problem_id, user_id, language, source_code, status, time_ms, memory_kb, compile_error, runtime_message"

// GetByID retrieves a submission by id.
func (r *MySQLSubmissionRepository) GetByID(ctx context.Context, tx db.Transaction, submissionID string) (*model.Submission, error) {
	if submissionID == "" {
		return nil, errors.New("submissionID is required")
	}

	query := "SELECT " + submissionColumns + " FROM submissions WHERE submission_id = ? LIMIT 1"
	row := db.GetQuerier(r.db, tx).QueryRow(ctx, query, submissionID)
	submission := &model.Submission{}
	var compileError, runtimeMessage *string
	if err := row.Scan(
		&submission.ID,
		&submission.ProblemID,
		&submission.UserID,
		&submission.Language,
		&submission.Source,
		&submission.Status,
		&submission.TimeMS,
		&submission.MemoryKB,
		&compileError,
		&runtimeMessage,
	); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	if compileError != nil {
		submission.CompileError = *compileError
	}
	if runtimeMessage != nil {
		submission.RuntimeMessage = *runtimeMessage
	}
	return submission, nil
}

// MarkJudging moves a submission to judging. Returns false when the row is
// missing or already terminal.
func (r *MySQLSubmissionRepository) MarkJudging(ctx context.Context, tx db.Transaction, submissionID string) (bool, error) {
	if submissionID == "" {
		return false, errors.New("submissionID is required")
	}

	query := "UPDATE submissions SET status = ? WHERE submission_id = ? AND " + nonTerminalGuard
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, query, model.StatusJudging, submissionID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Finalize writes the terminal status and measurements. Returns false when
// the row is missing or a terminal status already won, so the caller can
// skip post-write effects for the losing result.
func (r *MySQLSubmissionRepository) Finalize(ctx context.Context, tx db.Transaction, update *FinalUpdate) (bool, error) {
	if update == nil {
		return false, errors.New("update is nil")
	}
	if update.SubmissionID == "" {
		return false, errors.New("submissionID is required")
	}
	if !update.Status.Terminal() {
		return false, errors.New("status is not terminal")
	}

	query := `
		UPDATE submissions
		SET status = ?, time_ms = ?, memory_kb = ?, compile_error = ?, runtime_message = ?
		WHERE submission_id = ? AND ` + nonTerminalGuard
	result, err := db.GetQuerier(r.db, tx).Exec(
		ctx,
		query,
		update.Status,
		update.TimeMS,
		update.MemoryKB,
		update.CompileError,
		update.RuntimeMessage,
		update.SubmissionID,
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ResetForRejudge puts a submission back to pending and discards the previous
// run's measurements and per-case records.
func (r *MySQLSubmissionRepository) ResetForRejudge(ctx context.Context, tx db.Transaction, submissionID string) error {
	if submissionID == "" {
		return errors.New("submissionID is required")
	}

	querier := db.GetQuerier(r.db, tx)
	query := `
		UPDATE submissions
		SET status = ?, time_ms = 0, memory_kb = 0, compile_error = '', runtime_message = ''
		WHERE submission_id = ?
	`
	if _, err := querier.Exec(ctx, query, model.StatusPending, submissionID); err != nil {
		return err
	}
	_, err := querier.Exec(ctx, "DELETE FROM submission_cases WHERE submission_id = ?", submissionID)
	return err
}

// AppendCaseResult inserts one per-case verdict record.
func (r *MySQLSubmissionRepository) AppendCaseResult(ctx context.Context, tx db.Transaction, result *model.CaseResult) error {
	if result == nil {
		return errors.New("result is nil")
	}
	if result.SubmissionID == "" {
		return errors.New("submissionID is required")
	}
	if result.Case < 1 {
		return errors.New("case number must be positive")
	}

	query := `
		INSERT INTO submission_cases (submission_id, case_seq, passed, time_ms, memory_kb)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := db.GetQuerier(r.db, tx).Exec(
		ctx,
		query,
		result.SubmissionID,
		result.Case,
		result.Passed,
		result.TimeMS,
		result.MemoryKB,
	)
	return err
}
