package automation

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"order-messaging-automation/internal/domain/dedupe"
	"order-messaging-automation/internal/domain/notifications"
	"order-messaging-automation/internal/domain/sheet"
	"order-messaging-automation/internal/infra/resilience"
)

type fakeSheet struct {
	rows []sheet.OrderRow
	err  error
}

func (f *fakeSheet) FetchRows(context.Context) ([]sheet.OrderRow, error) {
	return f.rows, f.err
}

type fakeTransport struct {
	online bool
}

func (f *fakeTransport) Send(context.Context, string, string) error { return nil }
func (f *fakeTransport) IsOnline() bool                             { return f.online }

type fakePhone struct{}

func (fakePhone) Canonicalize(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	return raw, true
}

type recordingSender struct {
	mu   sync.Mutex
	jobs []notifications.Job
}

func (s *recordingSender) Deliver(_ context.Context, job notifications.Job) (notifications.SendOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return notifications.SendOutcome{}, nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func newTestResilience() *resilience.Wrapper {
	w := resilience.NewWrapper()
	w.Register(resilience.FamilySheetRead, resilience.FamilyConfig{
		RatePerSecond: 100, Burst: 10, MaxRetries: 1,
		BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond,
	})
	return w
}

func newTestQueue(t *testing.T, dir string) (*notifications.Queue, *recordingSender) {
	t.Helper()
	store, err := notifications.NewQueueStore(filepath.Join(dir, "queue.json"), time.Millisecond)
	if err != nil {
		t.Fatalf("NewQueueStore: %v", err)
	}
	failed, err := notifications.NewFailedStore(filepath.Join(dir, "failed.json"))
	if err != nil {
		t.Fatalf("NewFailedStore: %v", err)
	}
	sender := &recordingSender{}
	q, err := notifications.NewQueue(notifications.QueueOptions{
		Sender: sender,
		Store:  store,
		Failed: failed,
	})
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	return q, sender
}

func newTestEngine(t *testing.T, rows []sheet.OrderRow) (*Engine, *recordingSender, dedupe.Guard) {
	t.Helper()
	dir := t.TempDir()

	guard, err := dedupe.NewFileGuard(filepath.Join(dir, "dedupe.json"))
	if err != nil {
		t.Fatalf("NewFileGuard: %v", err)
	}

	queue, sender := newTestQueue(t, dir)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	queue.Start(ctx)

	engine, err := NewEngine(EngineOptions{
		Sheet:       &fakeSheet{rows: rows},
		Transport:   &fakeTransport{online: true},
		Resilience:  newTestResilience(),
		Guard:       guard,
		Queue:       queue,
		Classifier:  testClassifier(),
		Templates:   notifications.TemplateSet{"shipped": "Hello {name}, order {orderId} shipped."},
		Phone:       fakePhone{},
		CompanyName: "Acme",
		HistoryPath: filepath.Join(dir, "history.json"),

		CheckInterval: time.Minute,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine, sender, guard
}

func TestEngine_RunOnce_EnqueuesNewShippedOrder(t *testing.T) {
	rows := []sheet.OrderRow{
		{RowIndex: 1, OrderID: "ORD-1", CustomerName: "سارة", Phone: "0100", Status: "تم الشحن", Amount: decimal.NewFromInt(100)},
	}
	engine, sender, _ := newTestEngine(t, rows)

	if err := engine.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	// The queue waits a random 1-3s before every send.
	deadline := time.Now().Add(5 * time.Second)
	for sender.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := sender.count(); got != 1 {
		t.Fatalf("sender delivered %d jobs, want 1", got)
	}
}

func TestEngine_RunOnce_SkipsAlreadySentOrder(t *testing.T) {
	rows := []sheet.OrderRow{
		{RowIndex: 1, OrderID: "ORD-1", CustomerName: "سارة", Phone: "0100", Status: "تم الشحن", Amount: decimal.NewFromInt(100)},
	}
	engine, sender, guard := newTestEngine(t, rows)
	ctx := context.Background()

	if err := guard.Mark(ctx, "ORD-1", "0100", "سارة", "shipped"); err != nil {
		t.Fatalf("Mark: %v", err)
	}

	if err := engine.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	// Wait past the queue's maximum 3s pre-send delay so a send would be seen.
	time.Sleep(3500 * time.Millisecond)
	if got := sender.count(); got != 0 {
		t.Fatalf("sender delivered %d jobs, want 0 (duplicate guard should have skipped)", got)
	}
}

func TestEngine_RunOnce_OfflineTransportSkipsIteration(t *testing.T) {
	rows := []sheet.OrderRow{
		{RowIndex: 1, OrderID: "ORD-1", CustomerName: "سارة", Phone: "0100", Status: "تم الشحن", Amount: decimal.NewFromInt(100)},
	}
	engine, sender, _ := newTestEngine(t, rows)
	engine.opts.Transport = &fakeTransport{online: false}

	if err := engine.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	time.Sleep(3500 * time.Millisecond)
	if got := sender.count(); got != 0 {
		t.Fatalf("sender delivered %d jobs while offline, want 0", got)
	}
}
