package model

// Submission mirrors the columns of the submissions table that the
// orchestrator reads or mutates. The record itself is owned by the
// external submission service.
type Submission struct {
	ID             string
	ProblemID      int64
	UserID         int64
	Language       string
	Source         string
	Status         Status
	TimeMS         int
	MemoryKB       int
	CompileError   string
	RuntimeMessage string
}

// Problem carries the problem fields the orchestrator needs: the numeric
// code used by the worker wire protocol, resource limits and the difficulty
// score awarded on first accept.
type Problem struct {
	ID            int64
	Code          int64
	Title         string
	Difficulty    int
	TimeLimitMS   int
	MemoryLimitKB int
}

// TestCase is one (input, expected output) pair, ordered by sequence.
type TestCase struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// CaseResult is one per-test-case verdict record. Records are append-only.
type CaseResult struct {
	SubmissionID string
	Case         int
	Passed       bool
	TimeMS       int
	MemoryKB     int
}
