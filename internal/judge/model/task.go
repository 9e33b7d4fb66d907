package model

import "time"

// JudgeTask is the ephemeral queue payload for one submission. It carries
// everything a worker needs so dispatch never reads the data store.
type JudgeTask struct {
	SubmissionID  string     `json:"submission_id"`
	ProblemID     int64      `json:"problem_id"`
	ProblemCode   int64      `json:"problem_code"`
	UserID        int64      `json:"user_id"`
	Language      string     `json:"language"`
	Source        string     `json:"source"`
	TimeLimitMS   int        `json:"time_limit_ms"`
	MemoryLimitKB int        `json:"memory_limit_kb"`
	Cases         []TestCase `json:"cases"`
	CreatedAt     time.Time  `json:"created_at"`
}
