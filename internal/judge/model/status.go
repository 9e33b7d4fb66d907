package model

// Status is the internal judging status of a submission.
type Status string

const (
	StatusPending             Status = "pending"
	StatusJudging             Status = "judging"
	StatusAccepted            Status = "accepted"
	StatusWrongAnswer         Status = "wrong_answer"
	StatusTimeLimitExceeded   Status = "time_limit_exceeded"
	StatusMemoryLimitExceeded Status = "memory_limit_exceeded"
	StatusRuntimeError        Status = "runtime_error"
	StatusCompileError        Status = "compile_error"
)

// Terminal reports whether the status ends the current judge run.
// A terminal status is never reverted by the orchestrator.
func (s Status) Terminal() bool {
	switch s {
	case StatusAccepted, StatusWrongAnswer, StatusTimeLimitExceeded,
		StatusMemoryLimitExceeded, StatusRuntimeError, StatusCompileError:
		return true
	}
	return false
}

// Valid reports whether s is one of the eight internal statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusJudging:
		return true
	}
	return s.Terminal()
}
