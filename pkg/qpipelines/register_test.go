package qpipelines

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/quatton/qci/pkg/kv"
	"github.com/quatton/qci/pkg/qerr"
	"github.com/quatton/qci/pkg/qevents"
	"github.com/quatton/qci/pkg/qjob"
	"github.com/quatton/qci/pkg/qrunner"
)

// recordingRunner fails any spec whose name is in fail.
type recordingRunner struct {
	mu    sync.Mutex
	specs []qjob.JobSpec
	fail  map[string]bool
}

func (r *recordingRunner) Run(ctx context.Context, spec qjob.JobSpec) (*qrunner.Run, error) {
	r.mu.Lock()
	r.specs = append(r.specs, spec)
	n := len(r.specs)
	r.mu.Unlock()

	run := &qrunner.Run{ID: fmt.Sprintf("%s-%d", spec.Name(), n), Name: spec.Name()}
	if r.fail[spec.Name()] {
		return run, qerr.NewTaskFailed(1, spec.Task(1), 2)
	}
	return run, nil
}

func (r *recordingRunner) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, s := range r.specs {
		out = append(out, s.Name())
	}
	slices.Sort(out)
	return out
}

const testPipelines = `
pipelines:
  unit:
    on: [push]
    steps: [{run: make test}, {run: make vet}]
  lint:
    on: [push, pull_request]
    steps: [{run: make lint}, {run: make fmt-check}]
  nightly:
    schedule: "0 3 * * *"
    steps: [{run: make e2e}, {run: make report}]
`

func setup(t *testing.T, runner *recordingRunner, opts ...RegisterOption) (*qevents.Dispatcher, *Registrar) {
	t.Helper()
	set, err := Parse([]byte(testPipelines))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	d := qevents.NewDispatcher()
	r, err := Register(d, runner, set, opts...)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return d, r
}

func TestRegister_EventTypes(t *testing.T) {
	d, _ := setup(t, &recordingRunner{})
	want := []string{"cron", "manual", "pull_request", "push"}
	if got := d.Types(); !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRegister_RunsAllBoundPipelines(t *testing.T) {
	runner := &recordingRunner{}
	d, _ := setup(t, runner)

	if err := d.Dispatch(context.Background(), qevents.Event{Type: qevents.TypePush, Commit: "abc"}); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if got := runner.names(); !slices.Equal(got, []string{"lint", "unit"}) {
		t.Errorf("expected lint and unit to run, got %v", got)
	}
	for _, spec := range runner.specs {
		if spec.Env()["QCI_COMMIT"] != "abc" {
			t.Errorf("%s: commit not passed through", spec.Name())
		}
	}
}

func TestRegister_AggregatesFailures(t *testing.T) {
	runner := &recordingRunner{fail: map[string]bool{"unit": true}}
	d, _ := setup(t, runner)

	err := d.Dispatch(context.Background(), qevents.Event{Type: qevents.TypePush})
	if err == nil {
		t.Fatal("expected failure from unit pipeline")
	}
	tf, ok := qerr.AsTaskFailed(err)
	if !ok || tf.Index != 1 || tf.Command != "make vet" {
		t.Errorf("expected TaskFailed for make vet, got %v", err)
	}
	if len(runner.names()) != 2 {
		t.Errorf("a failing pipeline must not stop the others, ran %v", runner.names())
	}
}

func TestRegister_ScheduledPipelines(t *testing.T) {
	runner := &recordingRunner{}
	d := qevents.NewDispatcher()
	s := qevents.NewScheduler(d, nil)
	set, _ := Parse([]byte(testPipelines))
	if _, err := Register(d, runner, set, WithScheduler(s)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("expected one scheduled entry, got %d", s.Len())
	}

	// What the scheduler emits on a tick.
	err := d.Dispatch(context.Background(), qevents.Event{
		Type:    qevents.TypeCron,
		Payload: map[string]string{PayloadPipeline: "nightly"},
	})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if got := runner.names(); !slices.Equal(got, []string{"nightly"}) {
		t.Errorf("expected only nightly, got %v", got)
	}
}

func TestRegistrar_Trigger(t *testing.T) {
	runner := &recordingRunner{}
	tracker := kv.NewMemoryStore()
	d, r := setup(t, runner, WithTracker(tracker))
	ctx := context.Background()

	if _, err := r.Trigger("missing", qevents.Event{}); !errors.Is(err, ErrUnknownPipeline) {
		t.Fatalf("expected ErrUnknownPipeline, got %v", err)
	}

	id, err := r.Trigger("nightly", qevents.Event{Source: "api"})
	if err != nil || id == "" {
		t.Fatalf("Trigger failed: %v", err)
	}
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if got := runner.names(); !slices.Equal(got, []string{"nightly"}) {
		t.Errorf("expected nightly to run, got %v", got)
	}
	last, err := LastRun(ctx, tracker, "nightly")
	if err != nil || last == "" {
		t.Errorf("expected last run to be recorded, got %q, %v", last, err)
	}
	if _, err := LastRun(ctx, tracker, "unit"); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("expected no last run for unit, got %v", err)
	}
}

func TestRegister_ManualNeedsPipeline(t *testing.T) {
	d, _ := setup(t, &recordingRunner{})
	if err := d.Dispatch(context.Background(), qevents.Event{Type: TypeManual}); err == nil {
		t.Fatal("manual event without a pipeline should fail")
	}
}

func TestRegister_ConflictingHandler(t *testing.T) {
	set, _ := Parse([]byte(testPipelines))
	d := qevents.NewDispatcher()
	d.On(qevents.TypePush, func(ctx context.Context, ev qevents.Event) error { return nil })

	if _, err := Register(d, &recordingRunner{}, set); !errors.Is(err, qevents.ErrAlreadyRegistered) {
		t.Errorf("expected ErrAlreadyRegistered, got %v", err)
	}
}
