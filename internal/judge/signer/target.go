package signer

import (
	"strconv"
	"strings"

	appErr "wbuoj/pkg/errors"
)

// TargetKind discriminates the recognized target shapes.
type TargetKind int

const (
	// TargetTestData is testdata/{problemId}/{n}.in or testdata/{problemId}/{n}.out
	TargetTestData TargetKind = iota
	// TargetSubmission is submission/{submissionId}
	TargetSubmission
)

// Target is a parsed signed-link target.
type Target struct {
	Kind         TargetKind
	ProblemID    int64
	CaseNumber   int  // 1-based
	WantInput    bool // .in vs .out
	SubmissionID string
}

// ParseTarget parses a target path. Any shape other than the two recognized
// ones yields a generic not-found error so the response never leaks whether
// the underlying resource exists.
func ParseTarget(target string) (*Target, error) {
	parts := strings.Split(target, "/")
	switch {
	case len(parts) == 2 && parts[0] == "submission" && parts[1] != "":
		return &Target{Kind: TargetSubmission, SubmissionID: parts[1]}, nil

	case len(parts) == 3 && parts[0] == "testdata":
		problemID, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || problemID <= 0 {
			return nil, appErr.New(appErr.FileNotFound)
		}
		name := parts[2]
		var wantInput bool
		switch {
		case strings.HasSuffix(name, ".in"):
			wantInput = true
			name = strings.TrimSuffix(name, ".in")
		case strings.HasSuffix(name, ".out"):
			name = strings.TrimSuffix(name, ".out")
		default:
			return nil, appErr.New(appErr.FileNotFound)
		}
		caseNumber, err := strconv.Atoi(name)
		if err != nil || caseNumber <= 0 {
			return nil, appErr.New(appErr.FileNotFound)
		}
		return &Target{
			Kind:       TargetTestData,
			ProblemID:  problemID,
			CaseNumber: caseNumber,
			WantInput:  wantInput,
		}, nil
	}
	return nil, appErr.New(appErr.FileNotFound)
}
