package resilience

import (
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewCircuitBreaker(3, time.Hour, 1)

	for i := 0; i < 2; i++ {
		if !b.Allow() {
			t.Fatalf("expected Allow() = true before threshold, iteration %d", i)
		}
		b.RecordFailure()
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed before threshold", b.State())
	}

	b.RecordFailure() // third consecutive failure crosses threshold
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open after threshold", b.State())
	}
	if b.Allow() {
		t.Fatal("expected Allow() = false while open and within cooldown")
	}
}

func TestCircuitBreaker_HalfOpenProbeSuccessCloses(t *testing.T) {
	b := NewCircuitBreaker(1, time.Millisecond, 1)

	b.RecordFailure() // opens immediately (threshold=1)
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	time.Sleep(5 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("expected Allow() = true once cooldown elapses (half-open probe)")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", b.State())
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after successful probe", b.State())
	}
}

func TestCircuitBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	b := NewCircuitBreaker(1, time.Millisecond, 1)

	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("expected half-open probe to be allowed")
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open after failed probe", b.State())
	}
}

func TestCircuitBreaker_DisabledWhenThresholdNonPositive(t *testing.T) {
	b := NewCircuitBreaker(0, time.Hour, 1)
	for i := 0; i < 10; i++ {
		b.RecordFailure()
		if !b.Allow() {
			t.Fatal("disabled breaker (threshold<=0) must always allow")
		}
	}
}
