package transport

import (
	"context"
	"testing"
	"time"
)

func TestLiveness_StartsOnline(t *testing.T) {
	l := NewLiveness()
	if !l.IsOnline() {
		t.Fatal("expected a fresh Liveness to start online")
	}
	if err := l.WaitOnline(context.Background()); err != nil {
		t.Fatalf("WaitOnline on an online tracker: %v", err)
	}
}

func TestLiveness_WaitOnlineBlocksUntilMarkConnected(t *testing.T) {
	l := NewLiveness()
	l.MarkDisconnected()

	done := make(chan error, 1)
	go func() {
		done <- l.WaitOnline(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("WaitOnline returned before MarkConnected was called")
	case <-time.After(20 * time.Millisecond):
	}

	l.MarkConnected()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitOnline after MarkConnected: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitOnline did not unblock after MarkConnected")
	}
}

func TestLiveness_WaitOnlineRespectsContextCancellation(t *testing.T) {
	l := NewLiveness()
	l.MarkDisconnected()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := l.WaitOnline(ctx); err == nil {
		t.Fatal("expected WaitOnline to return an error once the context is done")
	}
}

func TestLiveness_MarkDisconnectedOpensNewGeneration(t *testing.T) {
	l := NewLiveness()
	l.MarkDisconnected()
	l.MarkConnected()
	if !l.IsOnline() {
		t.Fatal("expected online after MarkConnected")
	}

	// A second disconnect must open a fresh wait-channel generation so a
	// caller blocked in WaitOnline before this disconnect doesn't get woken
	// by a stale close from the earlier generation.
	l.MarkDisconnected()
	if l.IsOnline() {
		t.Fatal("expected offline after MarkDisconnected")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.WaitOnline(ctx); err == nil {
		t.Fatal("expected WaitOnline to keep blocking on the new generation")
	}
}
