package qpipelines

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/quatton/qci/pkg/kv"
	"github.com/quatton/qci/pkg/qevents"
	"github.com/quatton/qci/pkg/qjob"
	"github.com/quatton/qci/pkg/qlog"
	"github.com/quatton/qci/pkg/qrunner"
)

// PayloadPipeline names the single pipeline a cron or manual event is for.
const PayloadPipeline = "pipeline"

// TypeManual is the event type used when a pipeline is started by name.
const TypeManual = "manual"

// Runner is the part of qrunner.Runner the handlers need.
type Runner interface {
	Run(ctx context.Context, spec qjob.JobSpec) (*qrunner.Run, error)
}

// Registrar binds a pipeline set to a dispatcher.
type Registrar struct {
	dispatcher *qevents.Dispatcher
	set        *Set
	runner     Runner
	tracker    kv.Store // optional
	scheduler  *qevents.Scheduler
	logger     *qlog.Logger
}

// RegisterOption configures Register
type RegisterOption func(*Registrar)

// WithTracker records each pipeline's latest run ID in store.
func WithTracker(store kv.Store) RegisterOption {
	return func(r *Registrar) {
		r.tracker = store
	}
}

// WithScheduler adds every scheduled pipeline to s.
func WithScheduler(s *qevents.Scheduler) RegisterOption {
	return func(r *Registrar) {
		r.scheduler = s
	}
}

func WithLogger(logger *qlog.Logger) RegisterOption {
	return func(r *Registrar) {
		r.logger = logger
	}
}

// Register installs one handler per event type the set listens on, plus
// the cron and manual handlers. A handler runs every bound pipeline
// concurrently and returns their failures together.
func Register(d *qevents.Dispatcher, runner Runner, set *Set, opts ...RegisterOption) (*Registrar, error) {
	r := &Registrar{dispatcher: d, set: set, runner: runner}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = qlog.Discard()
	}

	types := set.EventTypes()
	for _, t := range []string{qevents.TypeCron, TypeManual} {
		if !slices.Contains(types, t) {
			types = append(types, t)
		}
	}
	for _, t := range types {
		if err := d.On(t, r.handler(t)); err != nil {
			return nil, err
		}
	}

	if r.scheduler != nil {
		for _, p := range set.Scheduled() {
			err := r.scheduler.Add(p.Schedule, qevents.Event{
				Type:    qevents.TypeCron,
				Payload: map[string]string{PayloadPipeline: p.Name},
			})
			if err != nil {
				return nil, fmt.Errorf("pipeline %s: %w", p.Name, err)
			}
		}
	}
	return r, nil
}

func (r *Registrar) handler(eventType string) qevents.Handler {
	return func(ctx context.Context, ev qevents.Event) error {
		pipelines, err := r.targets(eventType, ev)
		if err != nil {
			return err
		}
		return r.runAll(ctx, ev, pipelines)
	}
}

// targets picks the pipelines for ev. An explicit pipeline in the payload
// wins for cron and manual events.
func (r *Registrar) targets(eventType string, ev qevents.Event) ([]*Pipeline, error) {
	if name := ev.Payload[PayloadPipeline]; name != "" && (eventType == qevents.TypeCron || eventType == TypeManual) {
		p, ok := r.set.Get(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPipeline, name)
		}
		return []*Pipeline{p}, nil
	}
	if eventType == TypeManual {
		return nil, fmt.Errorf("manual events must name a pipeline in payload[%q]", PayloadPipeline)
	}
	return r.set.Bound(eventType), nil
}

func (r *Registrar) runAll(ctx context.Context, ev qevents.Event, pipelines []*Pipeline) error {
	if len(pipelines) == 1 {
		return r.runOne(ctx, ev, pipelines[0])
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs *multierror.Error
	)
	for _, p := range pipelines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.runOne(ctx, ev, p); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errs.ErrorOrNil()
}

func (r *Registrar) runOne(ctx context.Context, ev qevents.Event, p *Pipeline) error {
	spec, err := p.JobSpec(ev)
	if err != nil {
		return fmt.Errorf("pipeline %s: %w", p.Name, err)
	}

	run, err := r.runner.Run(ctx, spec)
	if run != nil && r.tracker != nil {
		if terr := r.tracker.Set(context.WithoutCancel(ctx), lastRunKey(p.Name), []byte(run.ID), 0); terr != nil {
			r.logger.Warn("failed to record last run", "pipeline", p.Name, "error", terr)
		}
	}
	if err != nil {
		return fmt.Errorf("pipeline %s: %w", p.Name, err)
	}
	return nil
}

var ErrUnknownPipeline = errors.New("unknown pipeline")

// Set returns the registered pipelines.
func (r *Registrar) Set() *Set {
	return r.set
}

// Trigger starts pipeline name through the dispatcher as a manual event
// and returns the event ID.
func (r *Registrar) Trigger(name string, ev qevents.Event) (string, error) {
	if _, ok := r.set.Get(name); !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPipeline, name)
	}
	ev.Type = TypeManual
	payload := map[string]string{}
	for k, v := range ev.Payload {
		payload[k] = v
	}
	payload[PayloadPipeline] = name
	ev.Payload = payload
	return r.dispatcher.DispatchAsync(ev)
}

// LastRun returns the ID of the most recent run of pipeline name.
func LastRun(ctx context.Context, store kv.Store, name string) (string, error) {
	v, err := store.Get(ctx, lastRunKey(name))
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func lastRunKey(name string) string {
	return "qci:pipeline:" + name + ":last_run"
}
