package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 3, Timeout: time.Minute})
	boom := errors.New("boom")
	fail := func(context.Context) error { return boom }

	for i := 0; i < 3; i++ {
		if err := b.Call(context.Background(), fail); !errors.Is(err, boom) {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
	if err := b.Call(context.Background(), fail); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 2, Timeout: time.Minute})
	boom := errors.New("boom")

	b.Call(context.Background(), func(context.Context) error { return boom })
	b.Call(context.Background(), func(context.Context) error { return nil })
	b.Call(context.Background(), func(context.Context) error { return boom })

	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Timeout: 10 * time.Second, HalfOpenMax: 1})
	now := time.Now()
	b.now = func() time.Time { return now }

	b.Call(context.Background(), func(context.Context) error { return errors.New("x") })
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	// After the timeout a probe is allowed; success closes the breaker.
	now = now.Add(11 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", b.State())
	}
	if err := b.Call(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Timeout: 10 * time.Second})
	now := time.Now()
	b.now = func() time.Time { return now }

	b.Call(context.Background(), func(context.Context) error { return errors.New("x") })
	now = now.Add(11 * time.Second)
	b.Call(context.Background(), func(context.Context) error { return errors.New("still down") })

	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open again", b.State())
	}
}

func TestLimiter_AllowRespectsBurst(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 0.0001, Burst: 2})
	if !l.Allow() || !l.Allow() {
		t.Fatal("burst tokens must be available")
	}
	if l.Allow() {
		t.Fatal("third call must be limited")
	}
}

func TestLimiter_Refills(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 1000, Burst: 1})
	now := time.Now()
	l.now = func() time.Time { return now }

	if !l.Allow() {
		t.Fatal("first token")
	}
	if l.Allow() {
		t.Fatal("bucket should be empty")
	}
	now = now.Add(10 * time.Millisecond) // 10 tokens at 1000/s, capped at burst 1
	if !l.Allow() {
		t.Fatal("bucket should have refilled")
	}
}

func TestLimiter_Call(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 0.0001, Burst: 1})
	if err := l.Call(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("first call: %v", err)
	}
	err := l.Call(context.Background(), func(context.Context) error { return nil })
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestLimiter_WaitHonorsCancel(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 0.0001, Burst: 1})
	l.Allow() // drain

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}
