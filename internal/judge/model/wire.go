package model

import (
	"encoding/json"
	"time"
)

// Wire message types exchanged with judge workers over the socket.
const (
	MessageTypeLanguages = "langs"    // server -> worker, descriptor table on connect
	MessageTypeTask      = "task"     // server -> worker, one dispatch
	MessageTypeConfig    = "config"   // worker -> server, capacity announcement
	MessageTypeProgress  = "progress" // worker -> server, partial result
	MessageTypeFinal     = "final"    // worker -> server, terminal result
)

// Envelope is the outer frame of every socket message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// WireLanguage is one entry of the language descriptor table pushed to a
// newly connected worker.
type WireLanguage struct {
	ID                 int    `json:"id"`
	Name               string `json:"name"`
	SourceFile         string `json:"source_file"`
	CompileCmd         string `json:"compile_cmd,omitempty"`
	ExecuteCmd         string `json:"execute_cmd"`
	CompileTimeLimitMS int    `json:"compile_time_limit,omitempty"`
	CompileMemoryKB    int    `json:"compile_memory_limit,omitempty"`
}

// LanguagesMessage carries the full descriptor table.
type LanguagesMessage struct {
	Languages []WireLanguage `json:"languages"`
}

// ConfigMessage is a worker's announcement of its concurrency and the
// language keys it supports.
type ConfigMessage struct {
	Concurrency int      `json:"concurrency"`
	Languages   []string `json:"languages"`
}

// CasePair names the input/output files of one test case.
type CasePair struct {
	Input  string `json:"in"`
	Output string `json:"out"`
}

// FileMeta describes one downloadable test file.
type FileMeta struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size"`
	Checksum  string `json:"checksum"`
}

// TaskMessage is the outbound dispatch envelope. The external protocol
// addresses problems by their numeric code and users by a synthetic id.
type TaskMessage struct {
	SubmissionID  string     `json:"sid"`
	Domain        string     `json:"domain"`
	ProblemCode   int64      `json:"pid"`
	UserID        string     `json:"uid"`
	Language      int        `json:"language"`
	Source        string     `json:"source"`
	TimeLimitMS   int        `json:"time_limit"`
	MemoryLimitKB int        `json:"memory_limit"`
	Cases         []CasePair `json:"cases"`
	Files         []FileMeta `json:"files"`
}

// CaseVerdict is a per-case result embedded in progress messages.
type CaseVerdict struct {
	Case     int `json:"case"`
	Verdict  int `json:"verdict"`
	TimeMS   int `json:"time"`
	MemoryKB int `json:"memory"`
}

// ProgressMessage is a streamed partial result.
type ProgressMessage struct {
	SubmissionID string       `json:"sid"`
	Verdict      int          `json:"verdict"`
	Case         *CaseVerdict `json:"case,omitempty"`
}

// FinalMessage is the terminal result for one submission.
type FinalMessage struct {
	SubmissionID   string `json:"sid"`
	Verdict        int    `json:"verdict"`
	TimeMS         int    `json:"time"`
	MemoryKB       int    `json:"memory"`
	CompileError   string `json:"compiler_text,omitempty"`
	RuntimeMessage string `json:"runtime_text,omitempty"`
}

// FinalResult is delivered to in-process waiters registered for a
// submission's verdict.
type FinalResult struct {
	SubmissionID string
	Status       Status
	TimeMS       int
	MemoryKB     int
}

// StatusEvent is published to the message queue after every final result so
// downstream consumers (UI push, statistics) can react asynchronously.
type StatusEvent struct {
	SubmissionID string    `json:"submission_id"`
	ProblemID    int64     `json:"problem_id"`
	UserID       int64     `json:"user_id"`
	Status       Status    `json:"status"`
	TimeMS       int       `json:"time_ms"`
	MemoryKB     int       `json:"memory_kb"`
	CreatedAt    time.Time `json:"created_at"`
}
