package dispatcher_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"wbuoj/internal/judge/dispatcher"
	"wbuoj/internal/judge/hub"
	"wbuoj/internal/judge/model"
)

type queuedTask struct {
	id   string
	task *model.JudgeTask
}

type fakeQueue struct {
	items    []queuedTask
	requeued []string
	popErr   error
}

func (f *fakeQueue) Pop(context.Context) (string, *model.JudgeTask, error) {
	if f.popErr != nil {
		return "", nil, f.popErr
	}
	if len(f.items) == 0 {
		return "", nil, nil
	}
	head := f.items[0]
	f.items = f.items[1:]
	return head.id, head.task, nil
}

func (f *fakeQueue) Requeue(_ context.Context, submissionID string) error {
	f.requeued = append(f.requeued, submissionID)
	return nil
}

type fakePool struct {
	infos      []hub.WorkerInfo
	assigned   map[string][]string
	unassigned []string
	sent       map[string]int
	sendErr    error
}

func newFakePool(infos ...hub.WorkerInfo) *fakePool {
	return &fakePool{
		infos:    infos,
		assigned: make(map[string][]string),
		sent:     make(map[string]int),
	}
}

func (f *fakePool) Snapshot() []hub.WorkerInfo { return f.infos }

func (f *fakePool) Assign(workerID, submissionID string) error {
	f.assigned[workerID] = append(f.assigned[workerID], submissionID)
	return nil
}

func (f *fakePool) Unassign(_, submissionID string) {
	f.unassigned = append(f.unassigned, submissionID)
}

func (f *fakePool) SendTo(workerID string, _ []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent[workerID]++
	return nil
}

type fakeReporter struct {
	failures map[string]string
}

func newFakeReporter() *fakeReporter {
	return &fakeReporter{failures: make(map[string]string)}
}

func (f *fakeReporter) ReportDispatchFailure(_ context.Context, submissionID, reason string) error {
	f.failures[submissionID] = reason
	return nil
}

func task(id string) *model.JudgeTask {
	return &model.JudgeTask{
		SubmissionID:  id,
		ProblemID:     1,
		ProblemCode:   1001,
		UserID:        7,
		Language:      "c",
		Source:        "int main(){}",
		TimeLimitMS:   1000,
		MemoryLimitKB: 65536,
		Cases:         []model.TestCase{{Input: "a", Output: "b"}},
		CreatedAt:     time.Now(),
	}
}

func TestTickFillsFreeSlots(t *testing.T) {
	q := &fakeQueue{items: []queuedTask{
		{"s1", task("s1")},
		{"s2", task("s2")},
		{"s3", task("s3")},
	}}
	pool := newFakePool(hub.WorkerInfo{ID: "w1", Concurrency: 2, Assigned: 0})
	d := dispatcher.NewDispatcher(q, pool, newFakeReporter(), "wbuoj", 0)

	d.Tick(context.Background())

	if pool.sent["w1"] != 2 {
		t.Fatalf("expected 2 sends, got %d", pool.sent["w1"])
	}
	if len(pool.assigned["w1"]) != 2 {
		t.Fatalf("expected 2 assignments, got %v", pool.assigned["w1"])
	}
	if len(q.items) != 1 || q.items[0].id != "s3" {
		t.Fatalf("expected s3 left on queue, got %v", q.items)
	}
}

func TestTickSkipsFullWorkers(t *testing.T) {
	q := &fakeQueue{items: []queuedTask{{"s1", task("s1")}}}
	pool := newFakePool(
		hub.WorkerInfo{ID: "w1", Concurrency: 1, Assigned: 1},
		hub.WorkerInfo{ID: "w2", Concurrency: 1, Assigned: 0},
	)
	d := dispatcher.NewDispatcher(q, pool, newFakeReporter(), "wbuoj", 0)

	d.Tick(context.Background())

	if pool.sent["w1"] != 0 {
		t.Fatal("full worker must not receive tasks")
	}
	if pool.sent["w2"] != 1 {
		t.Fatalf("expected w2 to receive the task, got %d", pool.sent["w2"])
	}
}

func TestTickReportsExpiredPayload(t *testing.T) {
	q := &fakeQueue{items: []queuedTask{
		{"gone", nil},
		{"s2", task("s2")},
	}}
	pool := newFakePool(hub.WorkerInfo{ID: "w1", Concurrency: 1, Assigned: 0})
	reporter := newFakeReporter()
	d := dispatcher.NewDispatcher(q, pool, reporter, "wbuoj", 0)

	d.Tick(context.Background())

	if _, ok := reporter.failures["gone"]; !ok {
		t.Fatalf("expected expired task to be reported, got %v", reporter.failures)
	}
	// The expired entry must not consume the worker's slot.
	if pool.sent["w1"] != 1 {
		t.Fatalf("expected s2 dispatched after expired entry, got %d sends", pool.sent["w1"])
	}
}

func TestTickRequeuesOnSendFailure(t *testing.T) {
	q := &fakeQueue{items: []queuedTask{{"s1", task("s1")}}}
	pool := newFakePool(hub.WorkerInfo{ID: "w1", Concurrency: 1, Assigned: 0})
	pool.sendErr = errors.New("connection reset")
	d := dispatcher.NewDispatcher(q, pool, newFakeReporter(), "wbuoj", 0)

	d.Tick(context.Background())

	if len(pool.unassigned) != 1 || pool.unassigned[0] != "s1" {
		t.Fatalf("expected s1 unassigned, got %v", pool.unassigned)
	}
	if len(q.requeued) != 1 || q.requeued[0] != "s1" {
		t.Fatalf("expected s1 requeued, got %v", q.requeued)
	}
}

func TestTickStopsOnEmptyQueue(t *testing.T) {
	q := &fakeQueue{}
	pool := newFakePool(
		hub.WorkerInfo{ID: "w1", Concurrency: 4, Assigned: 0},
		hub.WorkerInfo{ID: "w2", Concurrency: 4, Assigned: 0},
	)
	d := dispatcher.NewDispatcher(q, pool, newFakeReporter(), "wbuoj", 0)

	d.Tick(context.Background())

	if len(pool.sent) != 0 {
		t.Fatalf("expected no sends from an empty queue, got %v", pool.sent)
	}
}

func TestTickReportsUnknownLanguage(t *testing.T) {
	bad := task("s1")
	bad.Language = "cobol"
	q := &fakeQueue{items: []queuedTask{{"s1", bad}}}
	pool := newFakePool(hub.WorkerInfo{ID: "w1", Concurrency: 1, Assigned: 0})
	reporter := newFakeReporter()
	d := dispatcher.NewDispatcher(q, pool, reporter, "wbuoj", 0)

	d.Tick(context.Background())

	if _, ok := reporter.failures["s1"]; !ok {
		t.Fatalf("expected encode failure to be reported, got %v", reporter.failures)
	}
	if pool.sent["w1"] != 0 {
		t.Fatal("unencodable task must not be sent")
	}
}
