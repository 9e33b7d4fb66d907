package protocol

import "wbuoj/internal/judge/model"

// Verdict codes of the worker wire protocol.
const (
	VerdictWaiting      = 0
	VerdictFetched      = 1
	VerdictCompiling    = 2
	VerdictJudging      = 3
	VerdictAccepted     = 4
	VerdictWrongAnswer  = 5
	VerdictTimeLimit    = 6
	VerdictMemoryLimit  = 7
	VerdictOutputLimit  = 8
	VerdictRuntimeError = 9
	VerdictCompileError = 10
)

// StatusFromVerdict maps a wire verdict code to an internal status. The
// mapping is total: codes the orchestrator does not recognize map to
// runtime_error so a partially understood worker can never wedge a
// submission forever.
func StatusFromVerdict(code int) model.Status {
	switch code {
	case VerdictWaiting, VerdictFetched:
		return model.StatusPending
	case VerdictCompiling, VerdictJudging:
		return model.StatusJudging
	case VerdictAccepted:
		return model.StatusAccepted
	case VerdictWrongAnswer:
		return model.StatusWrongAnswer
	case VerdictTimeLimit:
		return model.StatusTimeLimitExceeded
	case VerdictMemoryLimit, VerdictOutputLimit:
		return model.StatusMemoryLimitExceeded
	case VerdictRuntimeError:
		return model.StatusRuntimeError
	case VerdictCompileError:
		return model.StatusCompileError
	default:
		return model.StatusRuntimeError
	}
}
