package repository

import (
	"context"
	"errors"

	"wbuoj/internal/common/db"
	"wbuoj/internal/judge/model"
)

var (
	ErrProblemNotFound = errors.New("problem not found")
)

// ProblemRepository defines problem persistence interfaces.
type ProblemRepository interface {
	GetByID(ctx context.Context, tx db.Transaction, problemID int64) (*model.Problem, error)
	GetByCode(ctx context.Context, tx db.Transaction, code int64) (*model.Problem, error)
	GetTestCases(ctx context.Context, tx db.Transaction, problemID int64) ([]model.TestCase, error)
	BumpCounters(ctx context.Context, tx db.Transaction, problemID int64, accepted bool) error
}

// MySQLProblemRepository implements ProblemRepository with MySQL.
type MySQLProblemRepository struct {
	db db.Database
}

// NewProblemRepository creates a problem repository.
func NewProblemRepository(database db.Database) ProblemRepository {
	return &MySQLProblemRepository{db: database}
}

const problemColumns = "id, code, title, difficulty, time_limit_ms, memory_limit_kb"

// GetByID retrieves a problem by internal id.
func (r *MySQLProblemRepository) GetByID(ctx context.Context, tx db.Transaction, problemID int64) (*model.Problem, error) {
	if problemID <= 0 {
		return nil, errors.New("problemID is required")
	}
	query := "SELECT " + problemColumns + " FROM problems WHERE id = ? LIMIT 1"
	return r.scanOne(db.GetQuerier(r.db, tx).QueryRow(ctx, query, problemID))
}

// GetByCode retrieves a problem by the numeric code used on the wire.
func (r *MySQLProblemRepository) GetByCode(ctx context.Context, tx db.Transaction, code int64) (*model.Problem, error) {
	if code <= 0 {
		return nil, errors.New("code is required")
	}
	query := "SELECT " + problemColumns + " FROM problems WHERE code = ? LIMIT 1"
	return r.scanOne(db.GetQuerier(r.db, tx).QueryRow(ctx, query, code))
}

func (r *MySQLProblemRepository) scanOne(row db.Row) (*model.Problem, error) {
	problem := &model.Problem{}
	if err := row.Scan(
		&problem.ID,
		&problem.Code,
		&problem.Title,
		&problem.Difficulty,
		&problem.TimeLimitMS,
		&problem.MemoryLimitKB,
	); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrProblemNotFound
		}
		return nil, err
	}
	return problem, nil
}

// GetTestCases loads a problem's test cases ordered by sequence number.
func (r *MySQLProblemRepository) GetTestCases(ctx context.Context, tx db.Transaction, problemID int64) ([]model.TestCase, error) {
	if problemID <= 0 {
		return nil, errors.New("problemID is required")
	}

	query := "SELECT input, output FROM problem_cases WHERE problem_id = ? ORDER BY case_seq ASC"
	rows, err := db.GetQuerier(r.db, tx).Query(ctx, query, problemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []model.TestCase
	for rows.Next() {
		var tc model.TestCase
		if err := rows.Scan(&tc.Input, &tc.Output); err != nil {
			return nil, err
		}
		cases = append(cases, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cases, nil
}

// BumpCounters increments a problem's submit counter, and its accepted
// counter when the run was accepted. Counted per final result, not per
// distinct user.
func (r *MySQLProblemRepository) BumpCounters(ctx context.Context, tx db.Transaction, problemID int64, accepted bool) error {
	if problemID <= 0 {
		return errors.New("problemID is required")
	}

	query := "UPDATE problems SET submit_count = submit_count + 1 WHERE id = ?"
	if accepted {
		query = "UPDATE problems SET submit_count = submit_count + 1, accepted_count = accepted_count + 1 WHERE id = ?"
	}
	_, err := db.GetQuerier(r.db, tx).Exec(ctx, query, problemID)
	return err
}
