package bridge

import (
	"errors"
	"testing"
	"time"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	for i := 0; i < 2; i++ {
		b.Failure()
	}
	if b.State() != StateClosed {
		t.Fatalf("opened early at %d failures", 2)
	}
	b.Failure()
	if b.State() != StateOpen {
		t.Fatal("did not open at threshold")
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	b.Failure()
	b.Failure()
	b.Success()
	b.Failure()
	b.Failure()
	if b.State() != StateClosed {
		t.Fatal("consecutive-failure count not reset by success")
	}
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	b := NewBreaker(1, 20*time.Millisecond)
	b.Failure()
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatal("expected fail-fast while open")
	}
	time.Sleep(30 * time.Millisecond)
	if err := b.Allow(); err != nil {
		t.Fatalf("trial call not admitted after cooldown: %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %v", b.State())
	}
	// Only one trial call is admitted while the probe is in flight.
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatal("second call admitted during half-open trial")
	}
}

func TestBreakerClosesOnHalfOpenSuccess(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond)
	b.Failure()
	time.Sleep(20 * time.Millisecond)
	if err := b.Allow(); err != nil {
		t.Fatalf("trial not admitted: %v", err)
	}
	b.Success()
	if b.State() != StateClosed {
		t.Fatal("success during half-open did not close breaker")
	}
	if err := b.Allow(); err != nil {
		t.Fatal("closed breaker rejected a call")
	}
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	b := NewBreaker(5, 10*time.Millisecond)
	for i := 0; i < 5; i++ {
		b.Failure()
	}
	time.Sleep(20 * time.Millisecond)
	if err := b.Allow(); err != nil {
		t.Fatalf("trial not admitted: %v", err)
	}
	b.Failure()
	if b.State() != StateOpen {
		t.Fatal("failure during half-open did not reopen breaker")
	}
}

func TestCoolingDown(t *testing.T) {
	b := NewBreaker(1, 50*time.Millisecond)
	if b.CoolingDown() {
		t.Fatal("closed breaker reported cooling down")
	}
	b.Failure()
	if !b.CoolingDown() {
		t.Fatal("open breaker inside cooldown not reported")
	}
	time.Sleep(60 * time.Millisecond)
	if b.CoolingDown() {
		t.Fatal("cooldown did not elapse")
	}
}
