package protocol_test

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"

	"wbuoj/internal/judge/model"
	"wbuoj/internal/judge/protocol"
	appErr "wbuoj/pkg/errors"
)

func sampleTask() *model.JudgeTask {
	return &model.JudgeTask{
		SubmissionID:  "sub-1",
		ProblemID:     7,
		ProblemCode:   1007,
		UserID:        42,
		Language:      "cpp",
		Source:        "int main() {}",
		TimeLimitMS:   1000,
		MemoryLimitKB: 262144,
		Cases: []model.TestCase{
			{Input: "1 2\n", Output: "3\n"},
			{Input: "4 5\n", Output: "9\n"},
		},
	}
}

func TestBuildTaskMessage(t *testing.T) {
	msg, err := protocol.BuildTaskMessage(sampleTask(), "wbuoj")
	if err != nil {
		t.Fatalf("build task message failed: %v", err)
	}

	if msg.SubmissionID != "sub-1" {
		t.Fatalf("unexpected sid: %s", msg.SubmissionID)
	}
	if msg.ProblemCode != 1007 {
		t.Fatalf("expected wire pid to be the problem code, got %d", msg.ProblemCode)
	}
	if msg.UserID != "1" {
		t.Fatalf("expected synthetic user id, got %q", msg.UserID)
	}
	if msg.Domain != "wbuoj" {
		t.Fatalf("unexpected domain: %s", msg.Domain)
	}

	lang, _ := protocol.LookupLanguage("cpp")
	if msg.Language != lang.WireID {
		t.Fatalf("expected wire language id %d, got %d", lang.WireID, msg.Language)
	}

	if len(msg.Cases) != 2 {
		t.Fatalf("expected 2 case pairs, got %d", len(msg.Cases))
	}
	if msg.Cases[0].Input != "1.in" || msg.Cases[0].Output != "1.out" {
		t.Fatalf("unexpected first case pair: %+v", msg.Cases[0])
	}
	if msg.Cases[1].Input != "2.in" || msg.Cases[1].Output != "2.out" {
		t.Fatalf("unexpected second case pair: %+v", msg.Cases[1])
	}

	if len(msg.Files) != 4 {
		t.Fatalf("expected 4 file entries, got %d", len(msg.Files))
	}
	sum := sha256.Sum256([]byte("1 2\n"))
	if msg.Files[0].Name != "1.in" || msg.Files[0].Checksum != hex.EncodeToString(sum[:]) {
		t.Fatalf("unexpected first file meta: %+v", msg.Files[0])
	}
	if msg.Files[0].SizeBytes != 4 {
		t.Fatalf("unexpected file size: %d", msg.Files[0].SizeBytes)
	}
}

func TestBuildTaskMessageUnknownLanguage(t *testing.T) {
	task := sampleTask()
	task.Language = "brainfuck"

	_, err := protocol.BuildTaskMessage(task, "wbuoj")
	if appErr.GetCode(err) != appErr.UnknownLanguage {
		t.Fatalf("expected unknown language error, got %v", err)
	}
}

func TestStatusFromVerdictTotal(t *testing.T) {
	cases := map[int]model.Status{
		protocol.VerdictWaiting:      model.StatusPending,
		protocol.VerdictFetched:      model.StatusPending,
		protocol.VerdictCompiling:    model.StatusJudging,
		protocol.VerdictJudging:      model.StatusJudging,
		protocol.VerdictAccepted:     model.StatusAccepted,
		protocol.VerdictWrongAnswer:  model.StatusWrongAnswer,
		protocol.VerdictTimeLimit:    model.StatusTimeLimitExceeded,
		protocol.VerdictMemoryLimit:  model.StatusMemoryLimitExceeded,
		protocol.VerdictOutputLimit:  model.StatusMemoryLimitExceeded,
		protocol.VerdictRuntimeError: model.StatusRuntimeError,
		protocol.VerdictCompileError: model.StatusCompileError,
	}
	for verdict, want := range cases {
		if got := protocol.StatusFromVerdict(verdict); got != want {
			t.Errorf("verdict %d: expected %s, got %s", verdict, want, got)
		}
	}

	// Codes outside the table must still map somewhere terminal.
	for _, verdict := range []int{-1, 11, 99, 1000} {
		if got := protocol.StatusFromVerdict(verdict); got != model.StatusRuntimeError {
			t.Errorf("verdict %d: expected runtime error fallback, got %s", verdict, got)
		}
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	data, err := protocol.EncodeEnvelope(model.MessageTypeConfig, model.ConfigMessage{Concurrency: 4})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if env.Type != model.MessageTypeConfig {
		t.Fatalf("unexpected type: %s", env.Type)
	}

	cfg, err := protocol.DecodeConfig(env.Payload)
	if err != nil {
		t.Fatalf("decode config failed: %v", err)
	}
	if cfg.Concurrency != 4 {
		t.Fatalf("unexpected concurrency: %d", cfg.Concurrency)
	}
}

func TestDecodeConfigClampsConcurrency(t *testing.T) {
	payload, _ := json.Marshal(model.ConfigMessage{Concurrency: 0, Languages: []string{"c"}})
	cfg, err := protocol.DecodeConfig(payload)
	if err != nil {
		t.Fatalf("decode config failed: %v", err)
	}
	if cfg.Concurrency != 1 {
		t.Fatalf("expected concurrency clamped to 1, got %d", cfg.Concurrency)
	}
}

func TestDecodeFinalRequiresSubmissionID(t *testing.T) {
	payload, _ := json.Marshal(model.FinalMessage{Verdict: 4})
	if _, err := protocol.DecodeFinal(payload); appErr.GetCode(err) != appErr.ProtocolViolation {
		t.Fatalf("expected protocol violation, got %v", err)
	}
}

func TestDecodeEnvelopeRejectsEmptyType(t *testing.T) {
	if _, err := protocol.DecodeEnvelope([]byte(`{"payload":{}}`)); err == nil {
		t.Fatal("expected error for empty message type")
	}
	if _, err := protocol.DecodeEnvelope([]byte("not json")); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}

func TestWireLanguagesMatchesTable(t *testing.T) {
	wire := protocol.WireLanguages()
	langs := protocol.Languages()
	if len(wire) != len(langs) {
		t.Fatalf("wire table has %d entries, language table %d", len(wire), len(langs))
	}
	seen := make(map[int]bool)
	for _, w := range wire {
		if w.ID <= 0 {
			t.Fatalf("wire id must be positive: %+v", w)
		}
		if seen[w.ID] {
			t.Fatalf("duplicate wire id %d", w.ID)
		}
		seen[w.ID] = true
	}
}
