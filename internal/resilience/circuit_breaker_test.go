package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

// newTestBreaker returns a breaker whose clock is driven by the returned func.
func newTestBreaker(maxFailures int, reset time.Duration) (*CircuitBreaker, func(time.Duration)) {
	cb := NewCircuitBreaker("test", maxFailures, reset)
	now := time.Unix(1_700_000_000, 0)
	cb.now = func() time.Time { return now }
	return cb, func(d time.Duration) { now = now.Add(d) }
}

func fail(context.Context) error    { return errors.New("boom") }
func succeed(context.Context) error { return nil }

func TestCircuitBreaker_StateClosed(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	if cb.GetState() != StateClosed {
		t.Errorf("Expected initial state to be Closed, got %s", cb.GetState())
	}
	if err := cb.Call(context.Background(), succeed); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func TestCircuitBreaker_OpenAfterFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)
	ctx := context.Background()

	cb.Call(ctx, fail)
	cb.Call(ctx, fail)
	if cb.GetState() != StateClosed {
		t.Error("Expected state to still be Closed after 2 failures")
	}

	cb.Call(ctx, fail)
	if cb.GetState() != StateOpen {
		t.Error("Expected state to be Open after 3 failures")
	}

	called := false
	err := cb.Call(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Expected fn not to run while the circuit is open")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(2, time.Second)
	ctx := context.Background()

	cb.Call(ctx, fail)
	cb.Call(ctx, succeed)
	cb.Call(ctx, fail)
	if cb.GetState() != StateClosed {
		t.Error("Expected non-consecutive failures to keep the circuit closed")
	}
}

func TestCircuitBreaker_HalfOpenThenClose(t *testing.T) {
	cb, advance := newTestBreaker(1, time.Second)
	ctx := context.Background()

	cb.Call(ctx, fail)
	if cb.GetState() != StateOpen {
		t.Fatal("Expected circuit to be Open")
	}

	advance(500 * time.Millisecond)
	if err := cb.Call(ctx, succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Expected ErrCircuitOpen before reset timeout, got %v", err)
	}

	advance(time.Second)
	for i := 0; i < 3; i++ {
		if err := cb.Call(ctx, succeed); err != nil {
			t.Fatalf("probe %d: unexpected error %v", i, err)
		}
		if i < 2 && cb.GetState() != StateHalfOpen {
			t.Fatalf("Expected HalfOpen after probe %d, got %s", i, cb.GetState())
		}
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected Closed after successful probes, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_OpenAfterFailureInHalfOpen(t *testing.T) {
	cb, advance := newTestBreaker(1, time.Second)
	ctx := context.Background()

	cb.Call(ctx, fail)
	advance(2 * time.Second)
	cb.Call(ctx, fail)

	if cb.GetState() != StateOpen {
		t.Error("Expected state to be Open after failure in HalfOpen")
	}
}

func TestCircuitBreaker_CallerCancellationIsNotAFailure(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Call(ctx, func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Error("Expected caller cancellation to leave the circuit closed")
	}
}

func TestCircuitBreaker_GetStatsAndReset(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)
	ctx := context.Background()

	cb.Call(ctx, succeed)
	cb.Call(ctx, succeed)
	cb.Call(ctx, fail)

	state, requestCount, failureCount, failureRate := cb.GetStats()
	if state != StateClosed {
		t.Errorf("Expected state Closed, got %s", state)
	}
	if requestCount != 3 {
		t.Errorf("Expected 3 requests, got %d", requestCount)
	}
	if failureCount != 1 {
		t.Errorf("Expected 1 failure, got %d", failureCount)
	}
	if failureRate < 33.0 || failureRate > 34.0 {
		t.Errorf("Expected failure rate around 33.33%%, got %.2f%%", failureRate)
	}

	cb.Reset()
	state, requestCount, failureCount, _ = cb.GetStats()
	if state != StateClosed || requestCount != 0 || failureCount != 0 {
		t.Error("Expected stats to be reset")
	}
}
