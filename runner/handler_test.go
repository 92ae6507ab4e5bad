package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type countingFunc struct {
	mu        sync.Mutex
	calls     int
	failUntil int
}

func (c *countingFunc) fn(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.failUntil {
		return fmt.Errorf("failure %d", c.calls)
	}
	return nil
}

func (c *countingFunc) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func quietOpts(opts ...Option) []Option {
	return append([]Option{WithErrorHandler(func(error) {}), WithDoneHandler(func(*Handler) {})}, opts...)
}

func TestHandlerNoErrorNoRetries(t *testing.T) {
	h := NewHandler(quietOpts()...)

	cf := &countingFunc{failUntil: 0}
	if err := h.Run(context.Background(), cf.fn); err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	if cf.count() != 1 {
		t.Errorf("expected calls=1, got %d", cf.count())
	}
	if h.Runs() != 1 {
		t.Errorf("expected runs=1, got %d", h.Runs())
	}
	if h.SuccessfulRuns() != 1 {
		t.Errorf("expected successfulRuns=1, got %d", h.SuccessfulRuns())
	}
}

func TestHandlerSuccessOnSecondAttempt(t *testing.T) {
	h := NewHandler(quietOpts(WithMaxRetries(3))...)

	cf := &countingFunc{failUntil: 1}
	if err := h.Run(context.Background(), cf.fn); err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}

	if cf.count() != 2 {
		t.Errorf("expected calls=2, got %d", cf.count())
	}
	if h.SuccessfulRuns() != 1 {
		t.Errorf("expected successfulRuns=1, got %d", h.SuccessfulRuns())
	}
}

func TestHandlerAllAttemptsFail(t *testing.T) {
	h := NewHandler(quietOpts(WithMaxRetries(2))...)

	cf := &countingFunc{failUntil: 5}
	err := h.Run(context.Background(), cf.fn)
	if err == nil {
		t.Fatal("expected exhaustion error")
	}

	if cf.count() != 3 {
		t.Errorf("expected calls=3 (1 initial + 2 retries), got %d", cf.count())
	}
	if h.SuccessfulRuns() != 0 {
		t.Errorf("expected successfulRuns=0, got %d", h.SuccessfulRuns())
	}

	var ge *goerrors.Error
	if !errors.As(err, &ge) {
		t.Fatalf("expected go-errors payload, got %v", err)
	}
	if ge.TextCode != "RUNNER_EXHAUSTED" {
		t.Errorf("unexpected text code %q", ge.TextCode)
	}
	if ge.Metadata["attempts"] != 3 {
		t.Errorf("expected attempts=3 metadata, got %v", ge.Metadata["attempts"])
	}
}

func TestHandlerRunOnceSkipsAfterSuccess(t *testing.T) {
	h := NewHandler(quietOpts(WithRunOnce(true))...)

	cf := &countingFunc{}
	if err := h.Run(context.Background(), cf.fn); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := h.Run(context.Background(), cf.fn); err != nil {
		t.Fatalf("skipped run must return nil, got %v", err)
	}
	if cf.count() != 1 {
		t.Errorf("expected calls=1, got %d", cf.count())
	}
}

func TestHandlerCanceledContext(t *testing.T) {
	h := NewHandler(quietOpts()...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cf := &countingFunc{}
	err := h.Run(ctx, cf.fn)
	if err == nil {
		t.Fatal("expected context error")
	}
	if cf.count() != 0 {
		t.Errorf("expected no invocations, got %d", cf.count())
	}

	var ge *goerrors.Error
	if !errors.As(err, &ge) {
		t.Fatalf("expected go-errors payload, got %v", err)
	}
	if ge.TextCode != "RUNNER_EXHAUSTED" {
		t.Errorf("unexpected text code %q", ge.TextCode)
	}
}

type vetoStrategy struct{}

func (vetoStrategy) SleepDuration(_ int, _ error) time.Duration { return 0 }

func (vetoStrategy) Decide(_ int, _ error) RetryDecision {
	return RetryDecision{ShouldRetry: false}
}

func TestHandlerStopsWhenDeciderVetoes(t *testing.T) {
	h := NewHandler(quietOpts(WithMaxRetries(5), WithRetryStrategy(vetoStrategy{}))...)

	cf := &countingFunc{failUntil: 10}
	err := h.Run(context.Background(), cf.fn)
	if err == nil {
		t.Fatal("expected failure")
	}
	if cf.count() != 1 {
		t.Errorf("expected a single attempt, got %d", cf.count())
	}

	var ge *goerrors.Error
	if !errors.As(err, &ge) {
		t.Fatalf("expected go-errors payload, got %v", err)
	}
	if ge.Metadata["attempts"] != 1 {
		t.Errorf("expected attempts=1 metadata, got %v", ge.Metadata["attempts"])
	}
}

func TestManualExecutionControl(t *testing.T) {
	ctl := NewManualExecutionControl()
	ctl.Pause()

	unblocked := make(chan error, 1)
	go func() {
		unblocked <- ctl.WaitIfPaused(context.Background())
	}()

	select {
	case <-unblocked:
		t.Fatal("WaitIfPaused must block while paused")
	case <-time.After(50 * time.Millisecond):
	}

	ctl.Resume()
	select {
	case err := <-unblocked:
		if err != nil {
			t.Fatalf("expected nil after resume, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitIfPaused never unblocked")
	}

	cause := errors.New("shutting down")
	ctl.Cancel(cause)
	if err := ctl.WaitIfPaused(context.Background()); !errors.Is(err, cause) {
		t.Fatalf("expected cancel cause, got %v", err)
	}
	if ctl.CancelCause() != cause {
		t.Fatalf("expected recorded cause, got %v", ctl.CancelCause())
	}

	select {
	case <-ctl.Done():
	default:
		t.Fatal("Done must be closed after cancel")
	}
}
