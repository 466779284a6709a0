package fn

import (
	"context"
	"errors"
	"testing"
)

func TestResultOkErr(t *testing.T) {
	r := Ok(3)
	if !r.IsOk() || r.IsErr() {
		t.Fatal("Ok should be ok")
	}
	if v, err := r.Unwrap(); v != 3 || err != nil {
		t.Fatalf("Unwrap = %v, %v", v, err)
	}

	e := Err[int](errors.New("bad"))
	if e.IsOk() || e.UnwrapOr(7) != 7 {
		t.Fatal("Err should fall back")
	}
	if _, err := e.Unwrap(); err.Error() != "bad" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestErrNilStillFails(t *testing.T) {
	r := Err[int](nil)
	if r.IsOk() {
		t.Fatal("Err(nil) must not be ok")
	}
	if _, err := r.Unwrap(); !errors.Is(err, errUnknown) {
		t.Fatalf("got %v", err)
	}
}

func TestThenShortCircuits(t *testing.T) {
	called := false
	fail := Stage[int, int](func(_ context.Context, _ int) Result[int] { return Err[int](errors.New("fail")) })
	next := Stage[int, string](func(_ context.Context, _ int) Result[string] {
		called = true
		return Ok("x")
	})
	r := Then(fail, next)(context.Background(), 1)
	if r.IsOk() || called {
		t.Fatal("second stage must not run after error")
	}
}

func TestThenChains(t *testing.T) {
	double := MapStage(func(v int) int { return v * 2 })
	str := MapStage(func(v int) string { return string(rune('a' + v)) })
	r := Then(double, str)(context.Background(), 1)
	if v, _ := r.Unwrap(); v != "c" {
		t.Fatalf("got %q", v)
	}
}

func TestTapAndTraced(t *testing.T) {
	seen := 0
	tap := TapStage(func(_ context.Context, v int) { seen = v })
	r := TracedStage("tap", tap)(context.Background(), 5)
	if r.UnwrapOr(0) != 5 || seen != 5 {
		t.Fatal("tap should pass through")
	}

	failing := TracedStage("fail", Stage[int, int](func(context.Context, int) Result[int] {
		return Err[int](errors.New("x"))
	}))
	if failing(context.Background(), 1).IsOk() {
		t.Fatal("traced stage must keep the error")
	}
}

func TestRetry_OneRetry(t *testing.T) {
	calls := 0
	r := Retry(context.Background(), RetryOpts{Attempts: 2}, func(context.Context) Result[int] {
		calls++
		if calls == 1 {
			return Err[int](errors.New("transient"))
		}
		return Ok(9)
	})
	if r.UnwrapOr(0) != 9 || calls != 2 {
		t.Fatalf("calls=%d result=%v", calls, r)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	r := Retry(context.Background(), RetryOpts{Attempts: 2}, func(context.Context) Result[int] {
		calls++
		return Err[int](errors.New("down"))
	})
	if r.IsOk() || calls != 2 {
		t.Fatalf("expected 2 failed calls, got %d", calls)
	}
}

func TestRetry_ZeroAttemptsMeansOnce(t *testing.T) {
	calls := 0
	Retry(context.Background(), RetryOpts{}, func(context.Context) Result[int] {
		calls++
		return Err[int](errors.New("down"))
	})
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestRetry_NotRetryable(t *testing.T) {
	calls := 0
	permanent := errors.New("auth")
	Retry(context.Background(), RetryOpts{Attempts: 3, Retryable: func(err error) bool { return !errors.Is(err, permanent) }},
		func(context.Context) Result[int] {
			calls++
			return Err[int](permanent)
		})
	if calls != 1 {
		t.Fatalf("non-retryable error retried %d times", calls)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := Retry(ctx, RetryOpts{Attempts: 3}, func(context.Context) Result[int] {
		return Err[int](errors.New("x"))
	})
	if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
