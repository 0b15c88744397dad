package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

type permanentErr struct{ msg string }

func (e permanentErr) Error() string   { return e.msg }
func (e permanentErr) StopRetry() bool { return true }

// retriableErr stands in for a transient network failure in tests: it
// carries its own RetriableCode rather than relying on a real syscall.Errno.
type retriableErr struct{ msg string }

func (e retriableErr) Error() string        { return e.msg }
func (e retriableErr) RetriableCode() string { return CodeConnReset }

func TestWrapper_RetriesTransientThenSucceeds(t *testing.T) {
	w := NewWrapper()
	w.Register(FamilySheetRead, FamilyConfig{
		RatePerSecond: 1000, Burst: 10, MaxRetries: 3,
		BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond,
	})

	attempts := 0
	err := w.Do(context.Background(), FamilySheetRead, func() error {
		attempts++
		if attempts < 3 {
			return retriableErr{msg: "transient"}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestWrapper_StopsOnPermanentError(t *testing.T) {
	w := NewWrapper()
	w.Register(FamilyTransportSend, FamilyConfig{
		RatePerSecond: 1000, Burst: 10, MaxRetries: 5,
		BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond,
	})

	attempts := 0
	err := w.Do(context.Background(), FamilyTransportSend, func() error {
		attempts++
		return permanentErr{msg: "invalid recipient"}
	})

	if err == nil {
		t.Fatal("expected permanent error to be returned")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry on permanent error)", attempts)
	}
}

func TestWrapper_ExhaustsMaxRetries(t *testing.T) {
	w := NewWrapper()
	w.Register(FamilySheetRead, FamilyConfig{
		RatePerSecond: 1000, Burst: 10, MaxRetries: 2,
		BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond,
	})

	attempts := 0
	err := w.Do(context.Background(), FamilySheetRead, func() error {
		attempts++
		return retriableErr{msg: "always fails"}
	})

	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 3 { // initial attempt + 2 retries
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestWrapper_CircuitOpensAndRejects(t *testing.T) {
	w := NewWrapper()
	w.Register(FamilyTransportSend, FamilyConfig{
		RatePerSecond: 1000, Burst: 10, MaxRetries: 1,
		BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond,
		BreakerThreshold: 1, BreakerCooldown: time.Hour, HalfOpenMaxProbes: 1,
	})

	_ = w.Do(context.Background(), FamilyTransportSend, func() error {
		return errors.New("boom")
	})

	err := w.Do(context.Background(), FamilyTransportSend, func() error {
		t.Fatal("fn must not be called while circuit is open")
		return nil
	})

	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestWrapper_HealthOverviewReportsStats(t *testing.T) {
	w := NewWrapper()
	w.Register(FamilySheetRead, FamilyConfig{
		RatePerSecond: 1000, Burst: 10, MaxRetries: 1,
		BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond,
	})

	_ = w.Do(context.Background(), FamilySheetRead, func() error {
		return errors.New("fails once")
	})

	health := w.HealthOverview()
	stats, ok := health[FamilySheetRead]
	if !ok {
		t.Fatal("expected FamilySheetRead entry in HealthOverview")
	}
	if stats.Stats.TotalRetries == 0 {
		t.Fatal("expected TotalRetries > 0 after a failing call")
	}
}
