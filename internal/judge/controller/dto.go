package controller

import "wbuoj/internal/judge/service"

// LoginRequest is the compatibility login payload. Older judge daemons send
// the secret under "password", newer ones under "secret"; both are accepted.
type LoginRequest struct {
	Username string `json:"username" form:"username"`
	Secret   string `json:"secret" form:"secret"`
	Password string `json:"password" form:"password"`
}

// LoginResponse returns the session token. The same value is also set as the
// session cookie for clients that only speak cookies.
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// EnqueueRequest asks the orchestrator to queue a submission for judging.
type EnqueueRequest struct {
	SubmissionID string `json:"submission_id"`
}

// FilesRequest asks for signed download links: either a submission's source
// or a problem's test files, optionally narrowed to specific names. Workers
// address problems by the numeric code they receive in task messages, which
// the legacy protocol carries under "problem_id".
type FilesRequest struct {
	SubmissionID string   `json:"submission_id"`
	ProblemCode  int64    `json:"problem_id"`
	Filenames    []string `json:"filenames"`
}

// FilesResponse is the manifest of a problem's test files.
type FilesResponse struct {
	ProblemCode int64                   `json:"problem_id"`
	Files       []service.ManifestEntry `json:"files"`
}
