package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

func TestExecuteRetriesTemporaryFailure(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})

	attempts := 0
	errTemp := errors.New("temporary")
	err := exec.Execute(context.Background(), "chunks.search_text", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTemp
		}
		return nil
	}, func(err error) ErrorClassification {
		return ErrorClassification{
			Retryable:     errors.Is(err, errTemp),
			RecordFailure: true,
		}
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})

	attempts := 0
	errPermanent := errors.New("permanent")
	err := exec.Execute(context.Background(), "chunks.search_text", func(context.Context) error {
		attempts++
		return errPermanent
	}, func(error) ErrorClassification {
		return ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	})
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     1 * time.Millisecond,
		RetryMaxBackoff:         1 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	})

	errTemp := errors.New("temporary")
	classifier := func(error) ErrorClassification {
		return ErrorClassification{
			Retryable:     false,
			RecordFailure: true,
		}
	}

	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "chunks.search_text", func(context.Context) error {
			return errTemp
		}, classifier)
		if !errors.Is(err, errTemp) {
			t.Fatalf("expected temporary error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "chunks.search_text", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, classifier)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
}

func TestExecuteBoundsEachAttemptWithCallTimeout(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     1 * time.Millisecond,
		RetryMultiplier:     2,
		CallTimeout:         10 * time.Millisecond,
		BreakerEnabled:      false,
	})

	attempts := 0
	err := exec.Execute(context.Background(), "ollama.generate", func(ctx context.Context) error {
		attempts++
		<-ctx.Done()
		return ctx.Err()
	}, func(err error) ErrorClassification {
		return ErrorClassification{Retryable: errors.Is(err, ErrCallTimeout), RecordFailure: true}
	})
	if !errors.Is(err, ErrCallTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected call timeout, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestExecuteStopsWhenCallerContextEnds(t *testing.T) {
	exec := NewExecutor(Config{RetryMaxAttempts: 3, BreakerEnabled: false})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := exec.Execute(ctx, "ollama.embed", func(context.Context) error {
		called = true
		return nil
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if called {
		t.Fatalf("operation must not run after cancellation")
	}
}

type recordingObserver struct {
	retries     []int
	transitions []string
}

func (o *recordingObserver) RetryScheduled(_ string, attempt int, _ time.Duration) {
	o.retries = append(o.retries, attempt)
}

func (o *recordingObserver) BreakerStateChanged(operation string, from, to string) {
	o.transitions = append(o.transitions, operation+":"+from+"->"+to)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	cfg := Config{
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     350 * time.Millisecond,
		RetryMultiplier:     2,
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 350 * time.Millisecond, 350 * time.Millisecond}
	for i, w := range want {
		if got := cfg.Backoff(i + 1); got != w {
			t.Fatalf("Backoff(%d) = %s, want %s", i+1, got, w)
		}
	}
}

func TestExecuteReportsRetriesAndBreakerTransitions(t *testing.T) {
	observer := &recordingObserver{}
	exec := NewExecutor(Config{
		RetryMaxAttempts:        2,
		RetryInitialBackoff:     time.Millisecond,
		RetryMaxBackoff:         time.Millisecond,
		BreakerEnabled:          true,
		BreakerMinRequests:      1,
		BreakerFailureRatio:     1,
		BreakerOpenTimeout:      time.Minute,
		BreakerHalfOpenMaxCalls: 1,
	}, WithObserver(observer))

	errTemp := errors.New("temporary")
	err := exec.Execute(context.Background(), "qdrant.search_vector", func(context.Context) error {
		return errTemp
	}, func(error) ErrorClassification {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	})
	if !errors.Is(err, errTemp) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if len(observer.retries) != 1 || observer.retries[0] != 1 {
		t.Fatalf("unexpected retries: %v", observer.retries)
	}
	if len(observer.transitions) != 1 || observer.transitions[0] != "qdrant.search_vector:closed->open" {
		t.Fatalf("unexpected transitions: %v", observer.transitions)
	}
	if got := exec.BreakerState("qdrant.search_vector"); got != "open" {
		t.Fatalf("BreakerState() = %q, want open", got)
	}
	if got := exec.BreakerState("never.called"); got != "closed" {
		t.Fatalf("BreakerState() for unknown op = %q, want closed", got)
	}
}

func TestUnrecordedFailuresKeepBreakerClosed(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    1,
		BreakerEnabled:      true,
		BreakerMinRequests:  1,
		BreakerFailureRatio: 0.5,
	})

	for i := 0; i < 3; i++ {
		_ = exec.Execute(context.Background(), "ollama.stream", func(context.Context) error {
			return context.Canceled
		}, func(error) ErrorClassification {
			return ErrorClassification{Retryable: false, RecordFailure: false}
		})
	}
	if got := exec.BreakerState("ollama.stream"); got != "closed" {
		t.Fatalf("BreakerState() = %q, want closed", got)
	}
}
