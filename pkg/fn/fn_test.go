package fn

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"
)

func TestResult(t *testing.T) {
	ok := Ok(42)
	if !ok.IsOk() || ok.IsErr() {
		t.Fatal("Ok result misreported")
	}
	if v, err := ok.Unwrap(); v != 42 || err != nil {
		t.Fatalf("Unwrap = %v, %v", v, err)
	}
	if v := ok.UnwrapOr(0); v != 42 {
		t.Fatalf("UnwrapOr = %v", v)
	}

	boom := errors.New("boom")
	bad := Err[int](boom)
	if bad.IsOk() || !bad.IsErr() {
		t.Fatal("Err result misreported")
	}
	if v := bad.UnwrapOr(7); v != 7 {
		t.Fatalf("UnwrapOr on Err = %v", v)
	}
	if _, err := bad.Unwrap(); !errors.Is(err, boom) {
		t.Fatalf("Unwrap err = %v", err)
	}
}

func TestFromPair(t *testing.T) {
	if r := FromPair(5, nil); !r.IsOk() {
		t.Fatal("expected Ok")
	}
	if r := FromPair(0, errors.New("x")); !r.IsErr() {
		t.Fatal("expected Err")
	}
}

func TestMapResult(t *testing.T) {
	r := MapResult(Ok(3), func(n int) string { return strconv.Itoa(n * 2) })
	if v, _ := r.Unwrap(); v != "6" {
		t.Fatalf("mapped = %q", v)
	}
	bad := MapResult(Err[int](errors.New("x")), func(n int) string { return "" })
	if bad.IsOk() {
		t.Fatal("error must propagate through MapResult")
	}
}

func TestCollect(t *testing.T) {
	all := Collect([]Result[int]{Ok(1), Ok(2), Ok(3)})
	if v, err := all.Unwrap(); err != nil || len(v) != 3 || v[2] != 3 {
		t.Fatalf("Collect = %v, %v", v, err)
	}

	boom := errors.New("boom")
	bad := Collect([]Result[int]{Ok(1), Err[int](boom), Ok(3)})
	if _, err := bad.Unwrap(); !errors.Is(err, boom) {
		t.Fatalf("expected first error, got %v", err)
	}
}

func TestThen_ShortCircuits(t *testing.T) {
	boom := errors.New("boom")
	first := func(_ context.Context, n int) Result[int] { return Err[int](boom) }
	called := false
	second := func(_ context.Context, n int) Result[int] { called = true; return Ok(n) }

	r := Then(first, second)(context.Background(), 1)
	if r.IsOk() || called {
		t.Fatal("second stage must not run after failure")
	}
}

func TestPipeline(t *testing.T) {
	double := func(_ context.Context, n int) Result[int] { return Ok(n * 2) }
	addOne := func(_ context.Context, n int) Result[int] { return Ok(n + 1) }

	r := Pipeline(double, addOne, double)(context.Background(), 3)
	if v, err := r.Unwrap(); err != nil || v != 14 {
		t.Fatalf("pipeline = %v, %v", v, err)
	}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond},
		func(context.Context) Result[string] {
			calls++
			if calls < 3 {
				return Errf[string]("attempt %d failed", calls)
			}
			return Ok("done")
		})
	if v, err := r.Unwrap(); err != nil || v != "done" {
		t.Fatalf("retry = %v, %v", v, err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("always")
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 2, InitialWait: time.Millisecond},
		func(context.Context) Result[int] {
			calls++
			return Err[int](boom)
		})
	if _, err := r.Unwrap(); !errors.Is(err, boom) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestRetry_HonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	r := Retry(ctx, RetryOpts{MaxAttempts: 5, InitialWait: time.Hour},
		func(context.Context) Result[int] {
			calls++
			return Errf[int]("fail")
		})
	if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestParMap(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	out := ParMap(items, 2, func(n int) int { return n * n })
	want := []int{1, 4, 9, 16, 25}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out[%d] = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestParMap_Empty(t *testing.T) {
	if out := ParMap(nil, 4, func(n int) int { return n }); len(out) != 0 {
		t.Fatalf("expected empty, got %v", out)
	}
}
