package lifecycle

import (
	"context"
	"errors"
	"testing"
)

func noopStart(ctx context.Context) (context.Context, error) { return nil, nil }

func TestManager_StartsInDependencyOrderStopsReversed(t *testing.T) {
	m := New(context.Background())

	var events []string
	record := func(name string) (StartFunc, StopFunc) {
		return func(ctx context.Context) (context.Context, error) {
				events = append(events, "start:"+name)
				return nil, nil
			}, func(ctx context.Context) error {
				events = append(events, "stop:"+name)
				return nil
			}
	}

	aStart, aStop := record("a")
	bStart, bStop := record("b")
	cStart, cStop := record("c")

	if err := m.Register("a", "", nil, aStart, aStop); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := m.Register("b", "", []string{"a"}, bStart, bStop); err != nil {
		t.Fatalf("register b: %v", err)
	}
	if err := m.Register("c", "", []string{"b"}, cStart, cStop); err != nil {
		t.Fatalf("register c: %v", err)
	}

	if err := m.StartAll(); err != nil {
		t.Fatalf("StartAll: %v", err)
	}

	wantStart := []string{"start:a", "start:b", "start:c"}
	for i, want := range wantStart {
		if i >= len(events) || events[i] != want {
			t.Fatalf("start order = %v, want prefix %v", events, wantStart)
		}
	}

	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	wantFull := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	if len(events) != len(wantFull) {
		t.Fatalf("events = %v, want %v", events, wantFull)
	}
	for i, want := range wantFull {
		if events[i] != want {
			t.Fatalf("events[%d] = %q, want %q (full: %v)", i, events[i], want, events)
		}
	}
}

func TestManager_RejectsSelfDependency(t *testing.T) {
	m := New(context.Background())
	err := m.Register("a", "", []string{"a"}, noopStart, nil)
	if err == nil {
		t.Fatal("expected error registering a node that depends on itself")
	}
}

func TestManager_RejectsUnknownParent(t *testing.T) {
	m := New(context.Background())
	err := m.Register("a", "missing", nil, noopStart, nil)
	if err == nil {
		t.Fatal("expected error registering a node with an unknown parent")
	}
}

func TestManager_StartAllReportsFailingNode(t *testing.T) {
	m := New(context.Background())
	boom := errors.New("boom")

	if err := m.Register("bad", "", nil, func(ctx context.Context) (context.Context, error) {
		return nil, boom
	}, nil); err != nil {
		t.Fatalf("register: %v", err)
	}

	err := m.StartAll()
	if err == nil {
		t.Fatal("expected StartAll to report the failing node's error")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("StartAll error = %v, want wrapping %v", err, boom)
	}
}

func TestManager_ShutdownOnlyStopsRunningNodes(t *testing.T) {
	m := New(context.Background())

	stopped := false
	if err := m.Register("never-started", "", nil, nil, func(ctx context.Context) error {
		stopped = true
		return nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if stopped {
		t.Fatal("Shutdown must not call Stop on a node that never started")
	}
}
