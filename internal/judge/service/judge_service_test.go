package service_test

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"wbuoj/internal/common/cache"
	"wbuoj/internal/common/db"
	"wbuoj/internal/common/storage"
	"wbuoj/internal/judge/hub"
	"wbuoj/internal/judge/model"
	"wbuoj/internal/judge/repository"
	"wbuoj/internal/judge/service"
	"wbuoj/internal/judge/signer"
	appErr "wbuoj/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

type fakeSubmissions struct {
	rows map[string]*model.Submission
}

func (f *fakeSubmissions) GetByID(_ context.Context, _ db.Transaction, submissionID string) (*model.Submission, error) {
	row, ok := f.rows[submissionID]
	if !ok {
		return nil, repository.ErrSubmissionNotFound
	}
	return row, nil
}

func (f *fakeSubmissions) MarkJudging(context.Context, db.Transaction, string) (bool, error) {
	return false, nil
}

func (f *fakeSubmissions) Finalize(context.Context, db.Transaction, *repository.FinalUpdate) (bool, error) {
	return false, nil
}

func (f *fakeSubmissions) AppendCaseResult(context.Context, db.Transaction, *model.CaseResult) error {
	return nil
}

func (f *fakeSubmissions) ResetForRejudge(_ context.Context, _ db.Transaction, submissionID string) error {
	row, ok := f.rows[submissionID]
	if !ok {
		return repository.ErrSubmissionNotFound
	}
	row.Status = model.StatusPending
	row.TimeMS = 0
	row.MemoryKB = 0
	row.CompileError = ""
	row.RuntimeMessage = ""
	return nil
}

type fakeProblems struct {
	problems map[int64]*model.Problem
	cases    map[int64][]model.TestCase
	caseGets int
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

func (f *fakeProblems) GetTestCases(_ context.Context, _ db.Transaction, problemID int64) ([]model.TestCase, error) {
	f.caseGets++
	return f.cases[problemID], nil
}

func (f *fakeProblems) BumpCounters(context.Context, db.Transaction, int64, bool) error {
	return nil
}

type fakeEnqueuer struct {
	tasks []*model.JudgeTask
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, task *model.JudgeTask) error {
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *fakeEnqueuer) Depth(context.Context) (int64, error) {
	return int64(len(f.tasks)), nil
}

type fakeWaiter struct {
	ch chan model.FinalResult
}

func (f *fakeWaiter) WaitForFinal(string) (<-chan model.FinalResult, func()) {
	return f.ch, func() {}
}

type fakeStorage struct {
	bucket string
	key    string
	body   []byte
}

func (f *fakeStorage) PutObject(_ context.Context, bucket, objectKey string, reader io.Reader, _ int64, _ string) error {
	f.bucket = bucket
	f.key = objectKey
	body, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.body = body
	return nil
}

func (f *fakeStorage) GetObject(context.Context, string, string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.body)), nil
}

func (f *fakeStorage) StatObject(context.Context, string, string) (storage.ObjectStat, error) {
	return storage.ObjectStat{SizeBytes: int64(len(f.body))}, nil
}

type testDeps struct {
	submissions *fakeSubmissions
	problems    *fakeProblems
	queue       *fakeEnqueuer
	storage     *fakeStorage
	signer      *signer.Signer
}

func newTestService(t *testing.T, credentials []service.Credential) (*service.JudgeService, *testDeps) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	redisCache, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new redis cache failed: %v", err)
	}
	t.Cleanup(func() { _ = redisCache.Close() })

	d := &testDeps{
		submissions: &fakeSubmissions{rows: map[string]*model.Submission{
			"s1": {ID: "s1", ProblemID: 1, UserID: 9, Language: "c", Source: "int main(){}", Status: model.StatusPending},
		}},
		problems: &fakeProblems{
			problems: map[int64]*model.Problem{
				1: {ID: 1, Code: 1001, Difficulty: 100, TimeLimitMS: 1000, MemoryLimitKB: 65536},
			},
			cases: map[int64][]model.TestCase{
				1: {{Input: "1 2\n", Output: "3\n"}},
			},
		},
		queue:   &fakeEnqueuer{},
		storage: &fakeStorage{},
		signer:  signer.NewSigner("test-secret"),
	}

	svc, err := service.NewJudgeService(service.Config{
		Submissions:    d.submissions,
		Problems:       d.problems,
		Queue:          d.queue,
		Workers:        hub.NewHub(&nopRequeuer{}, 0),
		Waiter:         &fakeWaiter{ch: make(chan model.FinalResult, 1)},
		Cache:          redisCache,
		Storage:        d.storage,
		Signer:         d.signer,
		Credentials:    credentials,
		ArtifactBucket: "judge-artifacts",
	})
	if err != nil {
		t.Fatalf("new judge service failed: %v", err)
	}
	return svc, d
}

type nopRequeuer struct{}

func (nopRequeuer) Requeue(context.Context, string) error { return nil }

func TestAuthenticate(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt failed: %v", err)
	}
	svc, _ := newTestService(t, []service.Credential{
		{Username: "judge-plain", Secret: "plaintext"},
		{Username: "judge-hashed", Secret: string(hash)},
	})

	if err := svc.Authenticate("judge-plain", "plaintext"); err != nil {
		t.Fatalf("plain secret rejected: %v", err)
	}
	if err := svc.Authenticate("judge-hashed", "hunter2"); err != nil {
		t.Fatalf("hashed secret rejected: %v", err)
	}
	if err := svc.Authenticate("judge-plain", "wrong"); appErr.GetCode(err) != appErr.SecretMismatch {
		t.Fatalf("expected secret mismatch, got %v", err)
	}
	if err := svc.Authenticate("judge-hashed", "wrong"); appErr.GetCode(err) != appErr.SecretMismatch {
		t.Fatalf("expected secret mismatch, got %v", err)
	}
	if err := svc.Authenticate("nobody", "x"); appErr.GetCode(err) != appErr.InvalidCredentials {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}

func TestEnqueue(t *testing.T) {
	svc, d := newTestService(t, nil)

	if err := svc.Enqueue(context.Background(), "s1"); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if len(d.queue.tasks) != 1 {
		t.Fatalf("expected 1 queued task, got %d", len(d.queue.tasks))
	}
	task := d.queue.tasks[0]
	if task.ProblemCode != 1001 || task.TimeLimitMS != 1000 || len(task.Cases) != 1 {
		t.Fatalf("unexpected task: %+v", task)
	}

	if err := svc.Enqueue(context.Background(), "missing"); appErr.GetCode(err) != appErr.SubmissionNotFound {
		t.Fatalf("expected submission not found, got %v", err)
	}
}

func TestEnqueueRejectsTerminalAndUnknownLanguage(t *testing.T) {
	svc, d := newTestService(t, nil)

	d.submissions.rows["done"] = &model.Submission{ID: "done", ProblemID: 1, Language: "c", Status: model.StatusAccepted}
	if err := svc.Enqueue(context.Background(), "done"); appErr.GetCode(err) != appErr.InvalidParams {
		t.Fatalf("expected invalid params for terminal submission, got %v", err)
	}

	d.submissions.rows["weird"] = &model.Submission{ID: "weird", ProblemID: 1, Language: "cobol", Status: model.StatusPending}
	if err := svc.Enqueue(context.Background(), "weird"); appErr.GetCode(err) != appErr.UnknownLanguage {
		t.Fatalf("expected unknown language, got %v", err)
	}
}

func TestRejudgeResetsTerminalSubmission(t *testing.T) {
	svc, d := newTestService(t, nil)

	d.submissions.rows["done"] = &model.Submission{
		ID:        "done",
		ProblemID: 1,
		Language:  "c",
		Source:    "int main(){}",
		Status:    model.StatusWrongAnswer,
		TimeMS:    120,
		MemoryKB:  2048,
	}

	if err := svc.Rejudge(context.Background(), "done"); err != nil {
		t.Fatalf("rejudge failed: %v", err)
	}
	if got := d.submissions.rows["done"].Status; got != model.StatusPending {
		t.Fatalf("expected pending after rejudge, got %s", got)
	}
	if d.submissions.rows["done"].TimeMS != 0 || d.submissions.rows["done"].MemoryKB != 0 {
		t.Fatalf("expected measurements cleared, got %+v", d.submissions.rows["done"])
	}
	if len(d.queue.tasks) != 1 || d.queue.tasks[0].SubmissionID != "done" {
		t.Fatalf("expected one queued task for done, got %+v", d.queue.tasks)
	}

	if err := svc.Rejudge(context.Background(), "missing"); appErr.GetCode(err) != appErr.SubmissionNotFound {
		t.Fatalf("expected submission not found, got %v", err)
	}
}

func TestFileManifest(t *testing.T) {
	svc, d := newTestService(t, nil)

	// Workers know the problem only as its numeric code, never the internal id.
	entries, err := svc.FileManifest(context.Background(), 1001, "http://judge.example.com")
	if err != nil {
		t.Fatalf("manifest failed: %v", err)
	}
	if len(entries) != 2 || entries[0].Name != "1.in" || entries[1].Name != "1.out" {
		t.Fatalf("unexpected manifest: %+v", entries)
	}

	parsed, err := url.Parse(entries[0].URL)
	if err != nil {
		t.Fatalf("parse signed url failed: %v", err)
	}
	q := parsed.Query()
	if q.Get("target") != "testdata/1/1.in" {
		t.Fatalf("expected target keyed by internal id, got %q", q.Get("target"))
	}
	expiry, _ := strconv.ParseInt(q.Get("expire"), 10, 64)
	if err := d.signer.Verify(q.Get("target"), expiry, q.Get("signature")); err != nil {
		t.Fatalf("manifest link did not verify: %v", err)
	}

	if _, err := svc.FileManifest(context.Background(), 7777, "http://judge.example.com"); appErr.GetCode(err) != appErr.ProblemNotFound {
		t.Fatalf("expected problem not found for unknown code, got %v", err)
	}

	// Second call is served from the cache.
	if _, err := svc.FileManifest(context.Background(), 1001, "http://judge.example.com"); err != nil {
		t.Fatalf("second manifest failed: %v", err)
	}
	if d.problems.caseGets != 1 {
		t.Fatalf("expected cached manifest, got %d test data loads", d.problems.caseGets)
	}

	// The admin surface clears the cache by internal id.
	if err := svc.ClearFileCache(context.Background(), 1); err != nil {
		t.Fatalf("clear cache failed: %v", err)
	}
	if _, err := svc.FileManifest(context.Background(), 1001, "http://judge.example.com"); err != nil {
		t.Fatalf("manifest after clear failed: %v", err)
	}
	if d.problems.caseGets != 2 {
		t.Fatalf("expected rebuild after clear, got %d test data loads", d.problems.caseGets)
	}
}

func TestOpenTarget(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	name, content, err := svc.OpenTarget(ctx, &signer.Target{Kind: signer.TargetSubmission, SubmissionID: "s1"})
	if err != nil {
		t.Fatalf("open submission failed: %v", err)
	}
	if name != "s1.code" || string(content) != "int main(){}" {
		t.Fatalf("unexpected submission content: %s %q", name, content)
	}

	name, content, err = svc.OpenTarget(ctx, &signer.Target{Kind: signer.TargetTestData, ProblemID: 1, CaseNumber: 1, WantInput: true})
	if err != nil {
		t.Fatalf("open testdata failed: %v", err)
	}
	if name != "1.in" || string(content) != "1 2\n" {
		t.Fatalf("unexpected testdata content: %s %q", name, content)
	}

	if _, _, err := svc.OpenTarget(ctx, &signer.Target{Kind: signer.TargetTestData, ProblemID: 1, CaseNumber: 9}); appErr.GetCode(err) != appErr.FileNotFound {
		t.Fatalf("expected file not found for out-of-range case, got %v", err)
	}
	if _, _, err := svc.OpenTarget(ctx, &signer.Target{Kind: signer.TargetSubmission, SubmissionID: "ghost"}); appErr.GetCode(err) != appErr.FileNotFound {
		t.Fatalf("expected file not found for unknown submission, got %v", err)
	}
}

func TestStoreArtifact(t *testing.T) {
	svc, d := newTestService(t, nil)

	raw := strings.Repeat("judge output line\n", 100)
	if err := svc.StoreArtifact(context.Background(), "s1", "stderr.log", strings.NewReader(raw)); err != nil {
		t.Fatalf("store artifact failed: %v", err)
	}
	if d.storage.bucket != "judge-artifacts" || d.storage.key != "artifacts/s1/stderr.log.zst" {
		t.Fatalf("unexpected object location: %s/%s", d.storage.bucket, d.storage.key)
	}

	decoder, err := zstd.NewReader(bytes.NewReader(d.storage.body))
	if err != nil {
		t.Fatalf("zstd reader failed: %v", err)
	}
	defer decoder.Close()
	decoded, err := io.ReadAll(decoder)
	if err != nil {
		t.Fatalf("decompress failed: %v", err)
	}
	if string(decoded) != raw {
		t.Fatal("artifact content did not round-trip")
	}
}

func TestWaitForResultAlreadyTerminal(t *testing.T) {
	svc, d := newTestService(t, nil)
	d.submissions.rows["s1"].Status = model.StatusWrongAnswer
	d.submissions.rows["s1"].TimeMS = 15

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	result, err := svc.WaitForResult(ctx, "s1")
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if result.Status != model.StatusWrongAnswer || result.TimeMS != 15 {
		t.Fatalf("unexpected result: %+v", result)
	}
}
