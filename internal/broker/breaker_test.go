package broker

import (
	"testing"
	"time"
)

func TestNewDefaultsClosed(t *testing.T) {
	cb := New(Config{})
	if cb.Status() != Closed {
		t.Errorf("expected new breaker to start closed, got %s", cb.Status())
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	cb := New(Config{Threshold: 3, Timeout: time.Minute})

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.Status() != Closed {
		t.Fatalf("expected closed before threshold, got %s", cb.Status())
	}

	cb.RecordFailure()
	if cb.Status() != Open {
		t.Fatalf("expected open at threshold, got %s", cb.Status())
	}
	if cb.CanProceed() {
		t.Error("expected CanProceed false while open and before timeout")
	}
}

func TestBreakerHalfOpenAfterTimeout(t *testing.T) {
	cb := New(Config{Threshold: 1, Timeout: 20 * time.Millisecond})

	cb.RecordFailure()
	if cb.Status() != Open {
		t.Fatalf("expected open, got %s", cb.Status())
	}

	time.Sleep(30 * time.Millisecond)

	if !cb.CanProceed() {
		t.Fatal("expected CanProceed true after timeout elapses")
	}
	if cb.Status() != HalfOpen {
		t.Errorf("expected half-open after timeout, got %s", cb.Status())
	}
}

func TestBreakerClosesAfterHalfOpenSuccesses(t *testing.T) {
	cb := New(Config{Threshold: 1, Timeout: 10 * time.Millisecond, HalfOpenRequired: 2})

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	cb.CanProceed()

	if cb.Status() != HalfOpen {
		t.Fatalf("expected half-open, got %s", cb.Status())
	}

	cb.RecordSuccess()
	if cb.Status() != HalfOpen {
		t.Fatalf("expected still half-open after one success, got %s", cb.Status())
	}

	cb.RecordSuccess()
	if cb.Status() != Closed {
		t.Errorf("expected closed after required half-open successes, got %s", cb.Status())
	}
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	cb := New(Config{Threshold: 1, Timeout: 10 * time.Millisecond, HalfOpenRequired: 2})

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	cb.CanProceed()

	if cb.Status() != HalfOpen {
		t.Fatalf("expected half-open, got %s", cb.Status())
	}

	cb.RecordFailure()
	if cb.Status() != Open {
		t.Errorf("expected re-opened after half-open failure, got %s", cb.Status())
	}
}

func TestBreakerRecordSuccessResetsConsecutiveErrors(t *testing.T) {
	cb := New(Config{Threshold: 3, Timeout: time.Minute})

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.Status() != Closed {
		t.Errorf("expected closed since consecutive errors reset below threshold, got %s", cb.Status())
	}
}

func TestBreakerStats(t *testing.T) {
	cb := New(Config{Threshold: 1, Timeout: time.Minute})
	cb.RecordFailure()

	stats := cb.Stats()
	if stats["state"] != "open" {
		t.Errorf("expected state open in stats, got %v", stats["state"])
	}
	if stats["consecutive_errors"].(int) != 1 {
		t.Errorf("expected 1 consecutive error in stats, got %v", stats["consecutive_errors"])
	}
	if _, ok := stats["open_until"]; !ok {
		t.Error("expected open_until present while circuit is open")
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{Closed: "closed", Open: "open", HalfOpen: "half_open"}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
