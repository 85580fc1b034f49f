package fn

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
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

func TestErrf(t *testing.T) {
	_, err := Errf[string]("status %d", 503).Unwrap()
	if err == nil || err.Error() != "status 503" {
		t.Fatal("Errf wrong message")
	}
}

func TestUnwrapOr(t *testing.T) {
	if Ok(1).UnwrapOr(9) != 1 {
		t.Fatal("should return value")
	}
	if Err[int](errors.New("x")).UnwrapOr(9) != 9 {
		t.Fatal("should return fallback")
	}
}

func TestFromPair(t *testing.T) {
	if v, err := strconv.Atoi("12"); FromPair(v, err).UnwrapOr(0) != 12 {
		t.Fatal("FromPair ok")
	}
	if v, err := strconv.Atoi("x"); FromPair(v, err).IsOk() {
		t.Fatal("FromPair should carry the error")
	}
}

// --- Slices ---

func TestMap(t *testing.T) {
	got := Map([]int{1, 2, 3}, strconv.Itoa)
	if len(got) != 3 || got[2] != "3" {
		t.Fatalf("Map = %v", got)
	}
}

func TestChunk(t *testing.T) {
	got := Chunk([]int{1, 2, 3, 4, 5}, 2)
	if len(got) != 3 || len(got[2]) != 1 || got[2][0] != 5 {
		t.Fatalf("Chunk = %v", got)
	}
	if Chunk([]int{1}, 0) != nil || Chunk([]int(nil), 3) != nil {
		t.Fatal("Chunk of nothing should be nil")
	}
}

func TestParMapKeepsOrderAndBound(t *testing.T) {
	var live, peak atomic.Int32
	got := ParMap([]int{1, 2, 3, 4, 5, 6}, 2, func(v int) int {
		n := live.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		live.Add(-1)
		return v * 10
	})
	for i, v := range got {
		if v != (i+1)*10 {
			t.Fatalf("ParMap out of order: %v", got)
		}
	}
	if peak.Load() > 2 {
		t.Fatalf("peak concurrency %d, want <= 2", peak.Load())
	}
	if len(ParMap([]int{}, 0, func(v int) int { return v })) != 0 {
		t.Fatal("empty input")
	}
}

// --- Stages ---

func TestTracedMapStage(t *testing.T) {
	s := TracedStage("double", MapStage(func(v int) int { return v * 2 }))
	if v, err := s(context.Background(), 4).Unwrap(); err != nil || v != 8 {
		t.Fatalf("got %d, %v", v, err)
	}
	failing := TracedStage("fail", Stage[int, int](func(context.Context, int) Result[int] {
		return Errf[int]("boom")
	}))
	if failing(context.Background(), 1).IsOk() {
		t.Fatal("error should pass through the span")
	}
}

// --- Retry ---

func TestRetrySuccess(t *testing.T) {
	attempts := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond}, func(_ context.Context) Result[int] {
		attempts++
		if attempts < 3 {
			return Err[int](errors.New("not yet"))
		}
		return Ok(42)
	})
	if r.UnwrapOr(0) != 42 || attempts != 3 {
		t.Fatal("Retry should succeed on 3rd attempt")
	}
}

func TestRetryExhausted(t *testing.T) {
	attempts := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 2, InitialWait: time.Millisecond, Jitter: true}, func(_ context.Context) Result[int] {
		attempts++
		return Err[int](errors.New("fail"))
	})
	if r.IsOk() || attempts != 2 {
		t.Fatalf("attempts = %d, want 2 and a failure", attempts)
	}
}

func TestRetryZeroAttemptsCallsOnce(t *testing.T) {
	attempts := 0
	Retry(context.Background(), RetryOpts{}, func(_ context.Context) Result[int] {
		attempts++
		return Err[int](errors.New("fail"))
	})
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("404")
	attempts := 0
	r := Retry(context.Background(), RetryOpts{
		MaxAttempts: 5,
		InitialWait: time.Millisecond,
		Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
	}, func(_ context.Context) Result[int] {
		attempts++
		return Err[int](permanent)
	})
	if _, err := r.Unwrap(); !errors.Is(err, permanent) || attempts != 1 {
		t.Fatalf("attempts = %d err = %v", attempts, err)
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	r := Retry(ctx, RetryOpts{MaxAttempts: 100, InitialWait: 10 * time.Millisecond, MaxWait: 10 * time.Millisecond}, func(ctx context.Context) Result[int] {
		return Err[int](errors.New("fail"))
	})
	if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
