package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	cb := New(Config{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Minute, HalfOpenMaxRequests: 1})

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d: err = %v; want boom", i, err)
		}
	}

	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Fatalf("err = %v; want ErrCircuitBreakerOpen", err)
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v; want open", cb.GetState())
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := New(Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute, HalfOpenMaxRequests: 1})

	_ = cb.Execute(func() error { return errBoom })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return errBoom })

	if got := cb.GetState(); got != StateClosed {
		t.Fatalf("state = %v; want closed", got)
	}
}

func TestHalfOpenProbeClosesBreaker(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Millisecond, HalfOpenMaxRequests: 1})

	_ = cb.Execute(func() error { return errBoom })
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v; want open", cb.GetState())
	}

	time.Sleep(5 * time.Millisecond)

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe err = %v; want nil", err)
	}
	// One more success observed from closed keeps it closed.
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("post-probe err = %v; want nil", err)
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("state = %v; want closed", cb.GetState())
	}
}

func TestReset(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour, HalfOpenMaxRequests: 1})

	_ = cb.Execute(func() error { return errBoom })
	cb.Reset()

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("err after reset = %v; want nil", err)
	}
}
