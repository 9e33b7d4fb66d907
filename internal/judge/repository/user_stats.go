package repository

import (
	"context"
	"errors"

	"wbuoj/internal/common/db"
)

// UserStatsRepository records per-user solve statistics.
type UserStatsRepository interface {
	RecordFirstAccept(ctx context.Context, tx db.Transaction, userID, problemID int64, score int) (bool, error)
}

// MySQLUserStatsRepository implements UserStatsRepository with MySQL.
type MySQLUserStatsRepository struct {
	db db.Database
}

// NewUserStatsRepository creates a user stats repository.
func NewUserStatsRepository(database db.Database) UserStatsRepository {
	return &MySQLUserStatsRepository{db: database}
}

// RecordFirstAccept awards the solve exactly once per (user, problem) pair.
// The unique key on user_accepted_problems is the idempotence mechanism: a
// duplicate-key insert means the pair was already awarded, so the score
// update is skipped and (false, nil) is returned. Run inside a transaction
// so the insert and the score update land together.
func (r *MySQLUserStatsRepository) RecordFirstAccept(ctx context.Context, tx db.Transaction, userID, problemID int64, score int) (bool, error) {
	if userID <= 0 {
		return false, errors.New("userID is required")
	}
	if problemID <= 0 {
		return false, errors.New("problemID is required")
	}

	querier := db.GetQuerier(r.db, tx)

	insert := "INSERT INTO user_accepted_problems (user_id, problem_id) VALUES (?, ?)"
	if _, err := querier.Exec(ctx, insert, userID, problemID); err != nil {
		if db.IsDuplicateKey(err) {
			return false, nil
		}
		return false, err
	}

	update := "UPDATE user_stats SET solved_count = solved_count + 1, score = score + ? WHERE user_id = ?"
	if _, err := querier.Exec(ctx, update, score, userID); err != nil {
		return false, err
	}
	return true, nil
}
