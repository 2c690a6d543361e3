package fn

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// --- Result ---

func TestOkAndErr(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() || r.IsErr() {
		t.Fatal("Ok should be ok")
	}
	v, err := r.Unwrap()
	if v != 42 || err != nil {
		t.Fatal("wrong unwrap")
	}

	e := Err[int](errors.New("fail"))
	if e.IsOk() || !e.IsErr() {
		t.Fatal("Err should be err")
	}
}

func TestFromPair(t *testing.T) {
	if !FromPair(1, nil).IsOk() {
		t.Fatal("nil error should be ok")
	}
	if FromPair(1, errors.New("x")).IsOk() {
		t.Fatal("error should be err")
	}
}

// --- Slices ---

func TestUnique(t *testing.T) {
	got := Unique([]int{3, 1, 3, 2, 1})
	want := []int{3, 1, 2}
	if len(got) != len(want) {
		t.Fatalf("Unique failed: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Unique must keep first-seen order: %v", got)
		}
	}
	if Unique[int](nil) == nil {
		t.Fatal("Unique of nil should be an empty slice")
	}
}

func TestChunk(t *testing.T) {
	got := Chunk([]int{1, 2, 3, 4, 5}, 2)
	if len(got) != 3 || len(got[2]) != 1 {
		t.Fatalf("Chunk failed: %v", got)
	}
	if Chunk([]int{1}, 0) != nil {
		t.Fatal("Chunk(0) should be nil")
	}
}

// --- Stages ---

func TestTracedStage(t *testing.T) {
	var seen int
	s := TracedStage("test-stage",
		func(v int) []attribute.KeyValue { seen = v; return []attribute.KeyValue{attribute.Int("v", v)} },
		Stage[int, int](func(_ context.Context, v int) Result[int] { return Ok(v + 1) }))
	v, err := s(context.Background(), 1).Unwrap()
	if err != nil || v != 2 {
		t.Fatal("TracedStage failed")
	}
	if seen != 1 {
		t.Fatal("attrs not evaluated with the input")
	}

	e := TracedStage("err-stage", nil, Stage[int, int](func(_ context.Context, _ int) Result[int] { return Err[int](errors.New("x")) }))
	if e(context.Background(), 1).IsOk() {
		t.Fatal("TracedStage error should propagate")
	}
}

// --- Retry ---

func TestRetrySuccess(t *testing.T) {
	attempts := 0
	var retried []int
	r := Retry(context.Background(), RetryOpts{
		MaxAttempts: 3,
		InitialWait: time.Millisecond,
		OnRetry:     func(n int, _ error) { retried = append(retried, n) },
	}, func(_ context.Context) Result[int] {
		attempts++
		if attempts < 3 {
			return Err[int](errors.New("not yet"))
		}
		return Ok(42)
	})
	if v, _ := r.Unwrap(); v != 42 || attempts != 3 {
		t.Fatal("Retry should succeed on 3rd attempt")
	}
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Fatalf("OnRetry calls: %v", retried)
	}
}

func TestRetryExhausted(t *testing.T) {
	attempts := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 2, InitialWait: time.Millisecond}, func(_ context.Context) Result[int] {
		attempts++
		return Err[int](errors.New("fail"))
	})
	if r.IsOk() || attempts != 2 {
		t.Fatalf("Retry should fail after 2 attempts, made %d", attempts)
	}
}

func TestRetryNotRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	attempts := 0
	err := RetryErr(context.Background(), RetryOpts{
		MaxAttempts: 5,
		InitialWait: time.Millisecond,
		Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
	}, func(context.Context) error {
		attempts++
		return permanent
	})
	if !errors.Is(err, permanent) || attempts != 1 {
		t.Fatalf("expected one attempt, got %d (%v)", attempts, err)
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts := 0
	err := RetryErr(ctx, RetryOpts{MaxAttempts: 100, InitialWait: time.Hour}, func(context.Context) error {
		attempts++
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) || attempts != 1 {
		t.Fatalf("expected cancellation after one attempt, got %d (%v)", attempts, err)
	}
}

func TestRetryErrSuccess(t *testing.T) {
	if err := RetryErr(context.Background(), RetryOpts{MaxAttempts: 3}, func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
}
