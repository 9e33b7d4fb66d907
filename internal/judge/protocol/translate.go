package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"wbuoj/internal/judge/model"
	appErr "wbuoj/pkg/errors"
)

// syntheticUserID is the user id presented to the wire protocol; the worker
// daemon requires one but the orchestrator never exposes real user ids.
const syntheticUserID = "1"

// BuildTaskMessage translates a JudgeTask into the outbound wire envelope:
// problem addressed by numeric code, language by wire id, and one metadata
// entry per test file the worker will fetch.
func BuildTaskMessage(task *model.JudgeTask, domain string) (*model.TaskMessage, error) {
	if task == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("task is nil")
	}
	lang, ok := LookupLanguage(task.Language)
	if !ok {
		return nil, appErr.Newf(appErr.UnknownLanguage, "unknown language key %q", task.Language)
	}

	cases := make([]model.CasePair, 0, len(task.Cases))
	files := make([]model.FileMeta, 0, 2*len(task.Cases))
	for i, tc := range task.Cases {
		in := fmt.Sprintf("%d.in", i+1)
		out := fmt.Sprintf("%d.out", i+1)
		cases = append(cases, model.CasePair{Input: in, Output: out})
		files = append(files,
			fileMeta(in, tc.Input),
			fileMeta(out, tc.Output),
		)
	}

	return &model.TaskMessage{
		SubmissionID:  task.SubmissionID,
		Domain:        domain,
		ProblemCode:   task.ProblemCode,
		UserID:        syntheticUserID,
		Language:      lang.WireID,
		Source:        task.Source,
		TimeLimitMS:   task.TimeLimitMS,
		MemoryLimitKB: task.MemoryLimitKB,
		Cases:         cases,
		Files:         files,
	}, nil
}

func fileMeta(name, content string) model.FileMeta {
	sum := sha256.Sum256([]byte(content))
	return model.FileMeta{
		Name:      name,
		SizeBytes: int64(len(content)),
		Checksum:  hex.EncodeToString(sum[:]),
	}
}

// EncodeEnvelope frames a payload into a wire envelope.
func EncodeEnvelope(messageType string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.TaskEncodeFailed, "marshal %s payload failed", messageType)
	}
	data, err := json.Marshal(model.Envelope{Type: messageType, Payload: body})
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.TaskEncodeFailed, "marshal %s envelope failed", messageType)
	}
	return data, nil
}

// DecodeEnvelope parses the outer frame of an inbound message.
func DecodeEnvelope(data []byte) (*model.Envelope, error) {
	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, appErr.Wrap(err, appErr.ProtocolViolation)
	}
	if env.Type == "" {
		return nil, appErr.New(appErr.ProtocolViolation).WithMessage("message type is empty")
	}
	return &env, nil
}

// DecodeConfig parses a worker capacity announcement.
func DecodeConfig(payload []byte) (*model.ConfigMessage, error) {
	var msg model.ConfigMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, appErr.Wrap(err, appErr.ProtocolViolation)
	}
	if msg.Concurrency < 1 {
		msg.Concurrency = 1
	}
	return &msg, nil
}

// DecodeProgress parses a streamed partial result.
func DecodeProgress(payload []byte) (*model.ProgressMessage, error) {
	var msg model.ProgressMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, appErr.Wrap(err, appErr.ProtocolViolation)
	}
	if msg.SubmissionID == "" {
		return nil, appErr.New(appErr.ProtocolViolation).WithMessage("progress without submission id")
	}
	return &msg, nil
}

// DecodeFinal parses a terminal result.
func DecodeFinal(payload []byte) (*model.FinalMessage, error) {
	var msg model.FinalMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, appErr.Wrap(err, appErr.ProtocolViolation)
	}
	if msg.SubmissionID == "" {
		return nil, appErr.New(appErr.ProtocolViolation).WithMessage("final without submission id")
	}
	return &msg, nil
}
