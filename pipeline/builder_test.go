package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	chain "github.com/goliatone/go-chain"
	"github.com/goliatone/go-chain/runner"
)

// seqUID hands out deterministic run ids.
type seqUID struct {
	mu sync.Mutex
	n  int
}

func (u *seqUID) Next() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.n++
	return fmt.Sprintf("run-%d", u.n)
}

// countingRecorder tallies metric calls by name.
type countingRecorder struct {
	mu        sync.Mutex
	durations map[string]int
	failures  map[string]int
	successes map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		durations: make(map[string]int),
		failures:  make(map[string]int),
		successes: make(map[string]int),
	}
}

func (r *countingRecorder) RecordDuration(name string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations[name]++
}

func (r *countingRecorder) RecordError(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[name]++
}

func (r *countingRecorder) RecordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes[name]++
}

func testRegistry(t *testing.T) *StepRegistry {
	t.Helper()
	reg := NewStepRegistry()
	steps := map[string]chain.StepFunc{
		"greet": func(_ *chain.StepContext, args ...any) (any, error) {
			return fmt.Sprintf("hello, %v", args[0]), nil
		},
		"upper": func(_ *chain.StepContext, args ...any) (any, error) {
			return strings.ToUpper(args[0].(string)), nil
		},
		"explode": func(_ *chain.StepContext, _ ...any) (any, error) {
			return nil, errors.New("kaboom")
		},
	}
	for name, fn := range steps {
		if err := reg.Register(name, fn); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	if err := reg.RegisterCatch("rescue", func(_ *chain.StepContext, _ error) (any, error) {
		return "rescued", nil
	}); err != nil {
		t.Fatalf("register rescue: %v", err)
	}
	return reg
}

func eventTrail(recs []Record) []string {
	var out []string
	for _, rec := range recs {
		out = append(out, rec.Event)
	}
	return out
}

func TestBuildResolvesHandlersEagerly(t *testing.T) {
	b := NewBuilder(testRegistry(t))

	_, err := b.Build(Definition{Name: "p", Steps: []StepConfig{{Handler: "missing"}}})
	if err == nil || !strings.Contains(err.Error(), "step handler missing not found") {
		t.Fatalf("expected handler resolution error, got %v", err)
	}

	_, err = b.Build(Definition{Name: "p", Steps: []StepConfig{{OnError: "nope"}}})
	if err == nil || !strings.Contains(err.Error(), "catch handler nope not found") {
		t.Fatalf("expected catch resolution error, got %v", err)
	}

	_, err = b.Build(Definition{Name: "p", Metrics: "stats", Steps: []StepConfig{{Handler: "greet"}}})
	if err == nil || !strings.Contains(err.Error(), "metrics recorder stats not found") {
		t.Fatalf("expected metrics resolution error, got %v", err)
	}
}

func TestRunnerRunsStepsInOrder(t *testing.T) {
	history := NewInMemoryHistoryStore()
	b := NewBuilder(testRegistry(t),
		WithHistoryStore(history),
		WithRunID(&seqUID{}),
	)

	r, err := b.Build(Definition{
		Name: "greeting",
		Mode: "immediate",
		Steps: []StepConfig{
			{Handler: "greet"},
			{Handler: "upper"},
		},
	})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	vals, err := r.Run(context.Background(), "bob")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(vals) != 1 || vals[0] != "HELLO, BOB" {
		t.Fatalf("unexpected result %v", vals)
	}

	recs := history.Records()
	want := []string{EventRunStarted, EventStepOK, EventStepOK, EventRunCompleted}
	got := eventTrail(recs)
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	for _, rec := range recs {
		if rec.RunID != "run-1" {
			t.Fatalf("expected one run id across records, got %+v", rec)
		}
		if rec.Pipeline != "greeting" {
			t.Fatalf("expected pipeline name on records, got %+v", rec)
		}
	}
	if recs[1].Step != "greet" || recs[2].Step != "upper" {
		t.Fatalf("expected step names in order, got %+v", recs)
	}
}

func TestRunnerDeferredModeStillBlocks(t *testing.T) {
	b := NewBuilder(testRegistry(t))

	r, err := b.Build(Definition{
		Name:  "deferred-greeting",
		Mode:  "deferred",
		Steps: []StepConfig{{Handler: "greet"}},
	})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	vals, err := r.Run(context.Background(), "ada")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if vals[0] != "hello, ada" {
		t.Fatalf("unexpected result %v", vals)
	}
}

func TestRunnerRecordsFailureAndRecovery(t *testing.T) {
	history := NewInMemoryHistoryStore()
	b := NewBuilder(testRegistry(t),
		WithHistoryStore(history),
		WithRunID(&seqUID{}),
	)

	r, err := b.Build(Definition{
		Name: "audit",
		Mode: "immediate",
		Steps: []StepConfig{
			{Handler: "explode"},
			{OnError: "rescue"},
		},
	})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	vals, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if vals[0] != "rescued" {
		t.Fatalf("unexpected result %v", vals)
	}

	recs := history.Records()
	want := []string{EventRunStarted, EventStepFailed, EventStepOK, EventRunCompleted}
	got := eventTrail(recs)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if recs[1].Error != "kaboom" {
		t.Fatalf("expected failure text on the step record, got %+v", recs[1])
	}
	if recs[2].Step != "rescue" {
		t.Fatalf("expected catch step name, got %+v", recs[2])
	}
}

func TestRunnerFailureWithoutRecovery(t *testing.T) {
	history := NewInMemoryHistoryStore()
	b := NewBuilder(testRegistry(t), WithHistoryStore(history))

	r, err := b.Build(Definition{
		Name:  "doomed",
		Mode:  "immediate",
		Steps: []StepConfig{{Handler: "explode"}},
	})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	_, err = r.Run(context.Background())
	if err == nil || err.Error() != "kaboom" {
		t.Fatalf("expected the pending error, got %v", err)
	}

	recs := history.Records()
	want := []string{EventRunStarted, EventStepFailed, EventRunFailed}
	got := eventTrail(recs)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if recs[2].Error != "kaboom" {
		t.Fatalf("expected failure text on the run record, got %+v", recs[2])
	}
}

func TestRunnerRetriesFlakySteps(t *testing.T) {
	reg := testRegistry(t)
	calls := 0
	if err := reg.Register("flaky", func(_ *chain.StepContext, _ ...any) (any, error) {
		calls++
		if calls < 3 {
			return nil, fmt.Errorf("flap %d", calls)
		}
		return "ok", nil
	}); err != nil {
		t.Fatalf("register flaky: %v", err)
	}

	history := NewInMemoryHistoryStore()
	b := NewBuilder(reg, WithHistoryStore(history))

	r, err := b.Build(Definition{
		Name: "persistent",
		Mode: "immediate",
		Steps: []StepConfig{
			{Handler: "flaky", Retry: &RetryConfig{MaxRetries: 5}},
		},
	})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	vals, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("expected retries to succeed, got %v", err)
	}
	if vals[0] != "ok" {
		t.Fatalf("unexpected result %v", vals)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}

	// retries stay inside the step: one step record, no failures
	got := eventTrail(history.Records())
	want := []string{EventRunStarted, EventStepOK, EventRunCompleted}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestRunnerSpreadExpandsBetweenSteps(t *testing.T) {
	reg := testRegistry(t)
	if err := reg.Register("pair", func(_ *chain.StepContext, _ ...any) (any, error) {
		return []int{3, 4}, nil
	}); err != nil {
		t.Fatalf("register pair: %v", err)
	}
	if err := reg.Register("add", func(_ *chain.StepContext, args ...any) (any, error) {
		return args[0].(int) + args[1].(int), nil
	}); err != nil {
		t.Fatalf("register add: %v", err)
	}

	b := NewBuilder(reg)
	r, err := b.Build(Definition{
		Name: "sum",
		Mode: "immediate",
		Steps: []StepConfig{
			{Handler: "pair"},
			{Handler: "add", Spread: true},
		},
	})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	vals, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if vals[0] != 7 {
		t.Fatalf("expected the sequence to spread into both params, got %v", vals)
	}
}

func TestRunnerPausedModeReleasesAfterAttach(t *testing.T) {
	b := NewBuilder(testRegistry(t))

	r, err := b.Build(Definition{
		Name:  "held",
		Mode:  "paused",
		Steps: []StepConfig{{Handler: "greet"}},
	})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	vals, err := r.Run(context.Background(), "grace")
	if err != nil {
		t.Fatalf("paused pipelines must release once attached: %v", err)
	}
	if vals[0] != "hello, grace" {
		t.Fatalf("unexpected result %v", vals)
	}
}

func TestRunnerExecutionControlCancel(t *testing.T) {
	ctrl := runner.NewManualExecutionControl()
	halted := errors.New("halted by operator")
	ctrl.Cancel(halted)

	ran := false
	reg := NewStepRegistry()
	if err := reg.Register("work", func(_ *chain.StepContext, _ ...any) (any, error) {
		ran = true
		return nil, nil
	}); err != nil {
		t.Fatalf("register work: %v", err)
	}

	history := NewInMemoryHistoryStore()
	b := NewBuilder(reg,
		WithHistoryStore(history),
		WithExecutionControl(ctrl),
	)

	r, err := b.Build(Definition{
		Name:  "controlled",
		Mode:  "immediate",
		Steps: []StepConfig{{Handler: "work"}},
	})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	_, err = r.Run(context.Background())
	if !errors.Is(err, halted) {
		t.Fatalf("expected the cancel cause, got %v", err)
	}
	if ran {
		t.Fatal("handler must not run once the control is canceled")
	}

	got := eventTrail(history.Records())
	want := []string{EventRunStarted, EventStepFailed, EventRunFailed}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestRunnerMetricsRecorder(t *testing.T) {
	metrics := NewMetricsRegistry()
	rec := newCountingRecorder()
	if err := metrics.Register("stats", rec); err != nil {
		t.Fatalf("register recorder: %v", err)
	}

	b := NewBuilder(testRegistry(t), WithMetricsRegistry(metrics))
	r, err := b.Build(Definition{
		Name:    "measured",
		Mode:    "immediate",
		Metrics: "stats",
		Steps:   []StepConfig{{Handler: "greet"}},
	})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	if _, err := r.Run(context.Background(), "lin"); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.successes["greet"] != 1 || rec.successes["execution_success"] != 1 {
		t.Fatalf("expected step and run successes, got %+v", rec.successes)
	}
	if rec.durations["greet"] != 1 || rec.durations["execution_time"] != 1 {
		t.Fatalf("expected step and run durations, got %+v", rec.durations)
	}
	if len(rec.failures) != 0 {
		t.Fatalf("expected no failures, got %+v", rec.failures)
	}
}

func TestBuildSetMergesDefaults(t *testing.T) {
	b := NewBuilder(testRegistry(t))

	set := Set{
		Version: 1,
		Options: Options{Mode: "immediate"},
		Pipelines: []Definition{
			{Name: "greeting", Steps: []StepConfig{{Handler: "greet"}}},
			{Name: "audit", Steps: []StepConfig{{Handler: "explode"}, {OnError: "rescue"}}},
		},
	}

	runners, err := b.BuildSet(set)
	if err != nil {
		t.Fatalf("build set failed: %v", err)
	}
	if len(runners) != 2 {
		t.Fatalf("expected 2 runners, got %d", len(runners))
	}

	vals, err := runners["greeting"].Run(context.Background(), "sam")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if vals[0] != "hello, sam" {
		t.Fatalf("unexpected result %v", vals)
	}

	bad := Set{Pipelines: []Definition{{Name: "broken", Steps: []StepConfig{{Handler: "missing"}}}}}
	if _, err := b.BuildSet(bad); err == nil || !strings.Contains(err.Error(), "build pipeline broken") {
		t.Fatalf("expected build error with pipeline name, got %v", err)
	}
}
