package ingest_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"wbuoj/internal/common/db"
	"wbuoj/internal/common/mq"
	"wbuoj/internal/judge/ingest"
	"wbuoj/internal/judge/model"
	"wbuoj/internal/judge/protocol"
	"wbuoj/internal/judge/repository"
)

type fakeDB struct{}

func (f *fakeDB) Query(context.Context, string, ...interface{}) (db.Rows, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeDB) QueryRow(context.Context, string, ...interface{}) db.Row { return nil }
func (f *fakeDB) Exec(context.Context, string, ...interface{}) (db.Result, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeDB) Transaction(_ context.Context, fn func(tx db.Transaction) error) error {
	return fn(nil)
}
func (f *fakeDB) Ping(context.Context) error { return nil }
func (f *fakeDB) Close() error               { return nil }

type fakeSubmissions struct {
	rows        map[string]*model.Submission
	finalized   []*repository.FinalUpdate
	caseResults []*model.CaseResult
}

func newFakeSubmissions(rows ...*model.Submission) *fakeSubmissions {
	f := &fakeSubmissions{rows: make(map[string]*model.Submission)}
	for _, row := range rows {
		f.rows[row.ID] = row
	}
	return f
}

func (f *fakeSubmissions) GetByID(_ context.Context, _ db.Transaction, submissionID string) (*model.Submission, error) {
	row, ok := f.rows[submissionID]
	if !ok {
		return nil, repository.ErrSubmissionNotFound
	}
	copied := *row
	return &copied, nil
}

func (f *fakeSubmissions) MarkJudging(_ context.Context, _ db.Transaction, submissionID string) (bool, error) {
	row, ok := f.rows[submissionID]
	if !ok || row.Status.Terminal() {
		return false, nil
	}
	row.Status = model.StatusJudging
	return true, nil
}

func (f *fakeSubmissions) Finalize(_ context.Context, _ db.Transaction, update *repository.FinalUpdate) (bool, error) {
	row, ok := f.rows[update.SubmissionID]
	if !ok || row.Status.Terminal() {
		return false, nil
	}
	row.Status = update.Status
	row.TimeMS = update.TimeMS
	row.MemoryKB = update.MemoryKB
	row.CompileError = update.CompileError
	row.RuntimeMessage = update.RuntimeMessage
	f.finalized = append(f.finalized, update)
	return true, nil
}

func (f *fakeSubmissions) AppendCaseResult(_ context.Context, _ db.Transaction, result *model.CaseResult) error {
	f.caseResults = append(f.caseResults, result)
	return nil
}

func (f *fakeSubmissions) ResetForRejudge(_ context.Context, _ db.Transaction, submissionID string) error {
	row, ok := f.rows[submissionID]
	if !ok {
		return repository.ErrSubmissionNotFound
	}
	row.Status = model.StatusPending
	return nil
}

type fakeProblems struct {
	problems map[int64]*model.Problem
	bumped   []bool
}

func (f *fakeProblems) GetByID(_ context.Context, _ db.Transaction, problemID int64) (*model.Problem, error) {
	problem, ok := f.problems[problemID]
	if !ok {
		return nil, repository.ErrProblemNotFound
	}
	return problem, nil
}

func (f *fakeProblems) GetByCode(_ context.Context, _ db.Transaction, code int64) (*model.Problem, error) {
	for _, problem := range f.problems {
		if problem.Code == code {
			return problem, nil
		}
	}
	return nil, repository.ErrProblemNotFound
}

func (f *fakeProblems) GetTestCases(context.Context, db.Transaction, int64) ([]model.TestCase, error) {
	return []model.TestCase{{Input: "a", Output: "b"}}, nil
}

func (f *fakeProblems) BumpCounters(_ context.Context, _ db.Transaction, _ int64, accepted bool) error {
	f.bumped = append(f.bumped, accepted)
	return nil
}

type fakeStats struct {
	awarded map[[2]int64]int
}

func newFakeStats() *fakeStats {
	return &fakeStats{awarded: make(map[[2]int64]int)}
}

func (f *fakeStats) RecordFirstAccept(_ context.Context, _ db.Transaction, userID, problemID int64, score int) (bool, error) {
	key := [2]int64{userID, problemID}
	if _, ok := f.awarded[key]; ok {
		return false, nil
	}
	f.awarded[key] = score
	return true, nil
}

type fakeRemover struct {
	removed []string
}

func (f *fakeRemover) Remove(_ context.Context, submissionID string) error {
	f.removed = append(f.removed, submissionID)
	return nil
}

type fakeReleaser struct {
	released []string
}

func (f *fakeReleaser) Release(submissionID string) (string, bool) {
	f.released = append(f.released, submissionID)
	return "w1", true
}

type fakeProducer struct {
	published []*mq.Message
	topics    []string
}

func (f *fakeProducer) Publish(_ context.Context, topic string, message *mq.Message) error {
	f.topics = append(f.topics, topic)
	f.published = append(f.published, message)
	return nil
}
func (f *fakeProducer) Ping(context.Context) error { return nil }
func (f *fakeProducer) Close() error               { return nil }

type deps struct {
	submissions *fakeSubmissions
	problems    *fakeProblems
	stats       *fakeStats
	remover     *fakeRemover
	releaser    *fakeReleaser
	producer    *fakeProducer
}

func newIngestor(t *testing.T, rows ...*model.Submission) (*ingest.Ingestor, *deps) {
	t.Helper()
	d := &deps{
		submissions: newFakeSubmissions(rows...),
		problems: &fakeProblems{problems: map[int64]*model.Problem{
			1: {ID: 1, Code: 1001, Difficulty: 300, TimeLimitMS: 1000, MemoryLimitKB: 65536},
		}},
		stats:    newFakeStats(),
		remover:  &fakeRemover{},
		releaser: &fakeReleaser{},
		producer: &fakeProducer{},
	}
	ingestor, err := ingest.NewIngestor(ingest.Config{
		DB:          &fakeDB{},
		Submissions: d.submissions,
		Problems:    d.problems,
		UserStats:   d.stats,
		Queue:       d.remover,
		Slots:       d.releaser,
		Producer:    d.producer,
		EventTopic:  "judge.status.final",
	})
	if err != nil {
		t.Fatalf("new ingestor failed: %v", err)
	}
	return ingestor, d
}

func pendingSubmission(id string) *model.Submission {
	return &model.Submission{ID: id, ProblemID: 1, UserID: 9, Language: "c", Status: model.StatusPending}
}

func TestHandleProgressMovesToJudging(t *testing.T) {
	ingestor, d := newIngestor(t, pendingSubmission("s1"))

	ingestor.HandleProgress(context.Background(), &model.ProgressMessage{
		SubmissionID: "s1",
		Verdict:      protocol.VerdictJudging,
		Case:         &model.CaseVerdict{Case: 1, Verdict: protocol.VerdictAccepted, TimeMS: 12, MemoryKB: 640},
	})

	if d.submissions.rows["s1"].Status != model.StatusJudging {
		t.Fatalf("expected judging, got %s", d.submissions.rows["s1"].Status)
	}
	if len(d.submissions.caseResults) != 1 {
		t.Fatalf("expected 1 case result, got %d", len(d.submissions.caseResults))
	}
	if !d.submissions.caseResults[0].Passed {
		t.Fatal("accepted case verdict must record a pass")
	}
}

func TestHandleProgressAfterTerminalIsIgnored(t *testing.T) {
	row := pendingSubmission("s1")
	row.Status = model.StatusAccepted
	ingestor, d := newIngestor(t, row)

	ingestor.HandleProgress(context.Background(), &model.ProgressMessage{
		SubmissionID: "s1",
		Verdict:      protocol.VerdictJudging,
		Case:         &model.CaseVerdict{Case: 1, Verdict: protocol.VerdictAccepted},
	})

	if d.submissions.rows["s1"].Status != model.StatusAccepted {
		t.Fatal("terminal status must never be reverted")
	}
	if len(d.submissions.caseResults) != 0 {
		t.Fatal("late progress must not append case results")
	}
}

func TestHandleFinalAccepted(t *testing.T) {
	ingestor, d := newIngestor(t, pendingSubmission("s1"))

	ch, cancel := ingestor.WaitForFinal("s1")
	defer cancel()

	ingestor.HandleFinal(context.Background(), &model.FinalMessage{
		SubmissionID: "s1",
		Verdict:      protocol.VerdictAccepted,
		TimeMS:       42,
		MemoryKB:     1024,
	})

	row := d.submissions.rows["s1"]
	if row.Status != model.StatusAccepted || row.TimeMS != 42 || row.MemoryKB != 1024 {
		t.Fatalf("unexpected final row: %+v", row)
	}
	if len(d.problems.bumped) != 1 || !d.problems.bumped[0] {
		t.Fatalf("expected one accepted counter bump, got %v", d.problems.bumped)
	}
	if score := d.stats.awarded[[2]int64{9, 1}]; score != 300 {
		t.Fatalf("expected first accept score 300, got %d", score)
	}
	if len(d.remover.removed) != 1 || d.remover.removed[0] != "s1" {
		t.Fatalf("expected queued payload removed, got %v", d.remover.removed)
	}
	if len(d.releaser.released) != 1 {
		t.Fatalf("expected slot released, got %v", d.releaser.released)
	}

	select {
	case result := <-ch:
		if result.Status != model.StatusAccepted || result.TimeMS != 42 {
			t.Fatalf("unexpected waiter result: %+v", result)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was not notified")
	}

	if len(d.producer.published) != 1 || d.producer.topics[0] != "judge.status.final" {
		t.Fatalf("expected one status event, got %v", d.producer.topics)
	}
}

func TestHandleFinalDuplicateIgnored(t *testing.T) {
	ingestor, d := newIngestor(t, pendingSubmission("s1"))

	final := &model.FinalMessage{SubmissionID: "s1", Verdict: protocol.VerdictWrongAnswer}
	ingestor.HandleFinal(context.Background(), final)

	late := &model.FinalMessage{SubmissionID: "s1", Verdict: protocol.VerdictAccepted, TimeMS: 1}
	ingestor.HandleFinal(context.Background(), late)

	if d.submissions.rows["s1"].Status != model.StatusWrongAnswer {
		t.Fatal("first final result must win")
	}
	if len(d.problems.bumped) != 1 {
		t.Fatalf("duplicate final must not bump counters again, got %v", d.problems.bumped)
	}
	if len(d.producer.published) != 1 {
		t.Fatalf("duplicate final must not publish again, got %d events", len(d.producer.published))
	}
}

func TestHandleFinalSecondAcceptNoDoubleAward(t *testing.T) {
	ingestor, d := newIngestor(t, pendingSubmission("s1"), pendingSubmission("s2"))

	ingestor.HandleFinal(context.Background(), &model.FinalMessage{SubmissionID: "s1", Verdict: protocol.VerdictAccepted})
	ingestor.HandleFinal(context.Background(), &model.FinalMessage{SubmissionID: "s2", Verdict: protocol.VerdictAccepted})

	if len(d.stats.awarded) != 1 {
		t.Fatalf("expected a single first-accept award, got %v", d.stats.awarded)
	}
	if len(d.problems.bumped) != 2 {
		t.Fatalf("problem counters are per final result, got %v", d.problems.bumped)
	}
}

func TestHandleFinalTextFields(t *testing.T) {
	ingestor, d := newIngestor(t, pendingSubmission("s1"), pendingSubmission("s2"))

	ingestor.HandleFinal(context.Background(), &model.FinalMessage{
		SubmissionID:   "s1",
		Verdict:        protocol.VerdictCompileError,
		CompileError:   "missing semicolon",
		RuntimeMessage: "should be dropped",
	})
	ingestor.HandleFinal(context.Background(), &model.FinalMessage{
		SubmissionID:   "s2",
		Verdict:        protocol.VerdictRuntimeError,
		CompileError:   "should be dropped",
		RuntimeMessage: "segfault",
	})

	s1 := d.submissions.rows["s1"]
	if s1.CompileError != "missing semicolon" || s1.RuntimeMessage != "" {
		t.Fatalf("compile error row mismatch: %+v", s1)
	}
	s2 := d.submissions.rows["s2"]
	if s2.RuntimeMessage != "segfault" || s2.CompileError != "" {
		t.Fatalf("runtime error row mismatch: %+v", s2)
	}
}

func TestHandleFinalNonTerminalVerdictCoerced(t *testing.T) {
	ingestor, d := newIngestor(t, pendingSubmission("s1"))

	ingestor.HandleFinal(context.Background(), &model.FinalMessage{SubmissionID: "s1", Verdict: protocol.VerdictJudging})

	if d.submissions.rows["s1"].Status != model.StatusRuntimeError {
		t.Fatalf("expected runtime error for non-terminal final, got %s", d.submissions.rows["s1"].Status)
	}
}

func TestReportDispatchFailure(t *testing.T) {
	ingestor, d := newIngestor(t, pendingSubmission("s1"))

	if err := ingestor.ReportDispatchFailure(context.Background(), "s1", "task payload expired before dispatch"); err != nil {
		t.Fatalf("report failed: %v", err)
	}

	row := d.submissions.rows["s1"]
	if row.Status != model.StatusRuntimeError {
		t.Fatalf("expected runtime error, got %s", row.Status)
	}
	if row.RuntimeMessage != "task payload expired before dispatch" {
		t.Fatalf("expected reason as runtime message, got %q", row.RuntimeMessage)
	}
}
