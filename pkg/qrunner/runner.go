// Package qrunner executes JobSpecs: it provisions a fresh environment from a
// Platform, runs every task in order with the spec's shell, stops at the first
// non-zero exit, and records the outcome as a Run.
package qrunner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quatton/qci/pkg/qart"
	"github.com/quatton/qci/pkg/qerr"
	"github.com/quatton/qci/pkg/qjob"
	"github.com/quatton/qci/pkg/qlog"
)

var (
	errTimedOut  = errors.New("run exceeded its timeout")
	errCancelled = errors.New("run was cancelled")
)

const defaultCloseTimeout = 2 * time.Minute

type Runner struct {
	platform       Platform
	store          RunStore
	artifacts      qart.Store // optional
	logger         *qlog.Logger
	output         io.Writer // optional tee of task output
	dataDir        string    // run directories live in dataDir/runs
	defaultTimeout time.Duration
	closeTimeout   time.Duration

	mu     sync.RWMutex
	active map[string]*activeRun
}

// activeRun tracks an executing run so Cancel and Wait can reach it.
type activeRun struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// Option configures a Runner
type Option func(*Runner)

// WithDataDir sets where run directories (logs, and records for the
// default file store) are kept.
func WithDataDir(dataDir string) Option {
	return func(r *Runner) {
		r.dataDir = dataDir
	}
}

// WithStore replaces the default FileStore.
func WithStore(store RunStore) Option {
	return func(r *Runner) {
		r.store = store
	}
}

// WithArtifactStore archives output.log and run.json after every run.
func WithArtifactStore(store qart.Store) Option {
	return func(r *Runner) {
		r.artifacts = store
	}
}

// WithOutput copies all task output to w as it is produced.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) {
		r.output = w
	}
}

func WithLogger(logger *qlog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithDefaultTimeout applies to specs that do not set their own.
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.defaultTimeout = d
	}
}

// WithCloseTimeout bounds environment teardown.
func WithCloseTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.closeTimeout = d
	}
}

func NewRunner(platform Platform, opts ...Option) *Runner {
	r := &Runner{
		platform:     platform,
		dataDir:      ".qci",
		closeTimeout: defaultCloseTimeout,
		active:       make(map[string]*activeRun),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = qlog.Discard()
	}
	if r.store == nil {
		r.store = NewFileStore(r.runsDir())
	}
	return r
}

func (r *Runner) runsDir() string {
	return filepath.Join(r.dataDir, "runs")
}

// Platform returns the platform runs are provisioned on.
func (r *Runner) Platform() Platform {
	return r.platform
}

// Run executes spec and blocks until it finishes. The returned Run is the
// final record; it is nil only when the spec is invalid or the record could
// not be created. The error is nil exactly when every task exited zero.
func (r *Runner) Run(ctx context.Context, spec qjob.JobSpec) (*Run, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	run, err := r.newRun(ctx, spec)
	if err != nil {
		return nil, err
	}

	execCtx, ar := r.track(ctx, run.ID)
	defer r.untrack(run.ID, ar)
	return r.execute(execCtx, run, spec)
}

// Submit starts spec in the background and returns the pending run. The
// run outlives ctx; use Cancel to stop it.
func (r *Runner) Submit(ctx context.Context, spec qjob.JobSpec) (*Run, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	run, err := r.newRun(ctx, spec)
	if err != nil {
		return nil, err
	}
	snapshot := *run

	execCtx, ar := r.track(context.WithoutCancel(ctx), run.ID)
	go func() {
		defer r.untrack(run.ID, ar)
		r.execute(execCtx, run, spec)
	}()
	return &snapshot, nil
}

func (r *Runner) newRun(ctx context.Context, spec qjob.JobSpec) (*Run, error) {
	// UUIDv7 keeps run directories in creation order
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate UUID: %w", err)
	}
	runID := id.String()

	runDir := filepath.Join(r.runsDir(), runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	run := &Run{
		ID:             runID,
		Name:           spec.Name(),
		Status:         RunStatusPending,
		Platform:       r.platform.Name(),
		Image:          spec.Image(),
		Shell:          spec.Shell(),
		Tasks:          spec.Tasks(),
		TimeoutSeconds: int64(r.timeoutFor(spec) / time.Second),
		Labels:         spec.Labels(),
		CreatedAt:      time.Now(),
		LogsPath:       filepath.Join(runDir, "output.log"),
	}
	if err := r.store.Save(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to save run state: %w", err)
	}
	return run, nil
}

func (r *Runner) timeoutFor(spec qjob.JobSpec) time.Duration {
	if t := spec.Timeout(); t > 0 {
		return t
	}
	return r.defaultTimeout
}

func (r *Runner) track(ctx context.Context, runID string) (context.Context, *activeRun) {
	ctx, cancel := context.WithCancelCause(ctx)
	ar := &activeRun{cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	r.active[runID] = ar
	r.mu.Unlock()
	activeRuns.Inc()
	return ctx, ar
}

func (r *Runner) untrack(runID string, ar *activeRun) {
	r.mu.Lock()
	delete(r.active, runID)
	r.mu.Unlock()
	activeRuns.Dec()

	ar.cancel(nil)
	close(ar.done)
}

// execute owns run until it returns; nothing else mutates it.
func (r *Runner) execute(ctx context.Context, run *Run, spec qjob.JobSpec) (*Run, error) {
	log := r.logger.With("run_id", run.ID, "job", run.Name)
	saveCtx := context.WithoutCancel(ctx)

	if timeout := r.timeoutFor(spec); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, timeout, errTimedOut)
		defer cancel()
	}

	now := time.Now()
	run.StartedAt = &now
	run.Status = RunStatusRunning
	r.save(saveCtx, run)
	log.Info("run started", "platform", run.Platform, "image", run.Image, "tasks", len(run.Tasks))

	logFile, err := os.Create(run.LogsPath)
	if err != nil {
		return r.finish(saveCtx, run, qerr.New(qerr.CodePlatformError, fmt.Errorf("failed to create log file: %w", err)))
	}
	var out io.Writer = logFile
	if r.output != nil {
		out = io.MultiWriter(logFile, r.output)
	}
	sw := &syncWriter{w: out}
	fmt.Fprintf(sw, "Run:   %s\nJob:   %s\nImage: %s\nShell: %s\n", run.ID, run.Name, run.Image, run.Shell)

	runErr := r.runTasks(ctx, log, run, spec, sw)
	if runErr != nil {
		fmt.Fprintf(sw, "\n--- run ended: %v ---\n", runErr)
	}
	logFile.Close()

	return r.finish(saveCtx, run, runErr)
}

func (r *Runner) runTasks(ctx context.Context, log *qlog.Logger, run *Run, spec qjob.JobSpec, out io.Writer) error {
	env, err := r.platform.Provision(ctx, EnvironmentRequest{
		RunID: run.ID,
		Name:  run.Name,
		Image: run.Image,
		Shell: run.Shell,
		Env:   r.taskEnv(run, spec),
	})
	if err != nil {
		if ctx.Err() != nil {
			return interrupted(ctx)
		}
		return qerr.New(qerr.CodePlatformError, fmt.Errorf("failed to provision %s environment: %w", r.platform.Name(), err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.closeTimeout)
		defer cancel()
		if err := env.Close(closeCtx); err != nil {
			log.Warn("failed to tear down environment", "error", err)
		}
	}()

	for i, task := range run.Tasks {
		if ctx.Err() != nil {
			return interrupted(ctx)
		}

		fmt.Fprintf(out, "\n--- [%d/%d] %s ---\n", i+1, len(run.Tasks), task)
		started := time.Now()
		code, err := env.Exec(ctx, WrapTask(env.StateDir(), task), out, out)
		finished := time.Now()

		if err != nil {
			if ctx.Err() != nil {
				return interrupted(ctx)
			}
			return qerr.New(qerr.CodePlatformError, fmt.Errorf("task %d: %w", i, err))
		}
		// A task that finished as the deadline fired still counts; the loop
		// stops before the next one.
		run.Results = append(run.Results, TaskResult{
			Index:      i,
			Command:    task,
			ExitCode:   code,
			StartedAt:  started,
			FinishedAt: finished,
		})
		taskDuration.Observe(finished.Sub(started).Seconds())
		fmt.Fprintf(out, "--- exit %d after %s ---\n", code, finished.Sub(started).Round(time.Millisecond))

		if code != 0 {
			tasksTotal.WithLabelValues("failed").Inc()
			run.FailedTask = &i
			run.ExitCode = &code
			log.Warn("task failed", "index", i, "exit_code", code)
			return qerr.NewTaskFailed(i, task, code)
		}
		tasksTotal.WithLabelValues("succeeded").Inc()
		log.Debug("task finished", "index", i)
		r.save(context.WithoutCancel(ctx), run)
	}

	zero := 0
	run.ExitCode = &zero
	return nil
}

func (r *Runner) taskEnv(run *Run, spec qjob.JobSpec) map[string]string {
	env := spec.Env()
	if env == nil {
		env = make(map[string]string)
	}
	env["QCI_RUN_ID"] = run.ID
	env["CI"] = "true"
	return env
}

// interrupted classifies why ctx ended.
func interrupted(ctx context.Context) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, errTimedOut) || errors.Is(cause, context.DeadlineExceeded) {
		return qerr.New(qerr.CodeTimeout, cause)
	}
	return qerr.New(qerr.CodeCancelled, cause)
}

func (r *Runner) finish(ctx context.Context, run *Run, runErr error) (*Run, error) {
	now := time.Now()
	run.FinishedAt = &now

	switch qerr.CodeOf(runErr) {
	case "":
		run.Status = RunStatusSucceeded
	case qerr.CodeTimeout:
		run.Status = RunStatusTimeout
	case qerr.CodeCancelled:
		run.Status = RunStatusCancelled
	default:
		run.Status = RunStatusFailed
	}
	if runErr != nil {
		run.ErrorCode = string(qerr.CodeOf(runErr))
		run.Error = runErr.Error()
	}

	runsTotal.WithLabelValues(string(run.Status)).Inc()
	if run.StartedAt != nil {
		runDuration.WithLabelValues(string(run.Status)).Observe(now.Sub(*run.StartedAt).Seconds())
	}

	r.archive(ctx, run)
	r.save(ctx, run)

	r.logger.Info("run finished", "run_id", run.ID, "status", run.Status, "duration", now.Sub(run.CreatedAt).Round(time.Millisecond))
	return run, runErr
}

func (r *Runner) save(ctx context.Context, run *Run) {
	if err := r.store.Save(ctx, run); err != nil {
		r.logger.Warn("failed to save run state", "run_id", run.ID, "error", err)
	}
}

// archive uploads output.log and the final run record. Failures are logged
// and do not change the run outcome.
func (r *Runner) archive(ctx context.Context, run *Run) {
	if r.artifacts == nil {
		return
	}
	meta := map[string]string{"run_id": run.ID}

	if f, err := os.Open(run.LogsPath); err == nil {
		size := int64(-1)
		if stat, err := f.Stat(); err == nil {
			size = stat.Size()
		}
		a, err := r.artifacts.Upload(ctx, qart.RunKey(run.ID, "output.log"), f, size, "text/plain", meta)
		f.Close()
		if err != nil {
			r.logger.Warn("failed to archive logs", "run_id", run.ID, "error", err)
		} else {
			run.Artifacts = append(run.Artifacts, RunArtifact{Key: a.Key, Filename: "output.log", Size: a.Size, ContentType: "text/plain"})
		}
	}

	// The archived record lists itself, so append before marshalling.
	record := *run
	record.Artifacts = append(append([]RunArtifact(nil), run.Artifacts...), RunArtifact{
		Key:         qart.RunKey(run.ID, "run.json"),
		Filename:    "run.json",
		ContentType: "application/json",
	})
	data, err := json.MarshalIndent(&record, "", "  ")
	if err != nil {
		return
	}
	record.Artifacts[len(record.Artifacts)-1].Size = int64(len(data))
	if _, err := r.artifacts.Upload(ctx, qart.RunKey(run.ID, "run.json"), bytes.NewReader(data), int64(len(data)), "application/json", meta); err != nil {
		r.logger.Warn("failed to archive run record", "run_id", run.ID, "error", err)
		return
	}
	run.Artifacts = record.Artifacts
}

// Wait blocks until the run reaches a terminal status.
func (r *Runner) Wait(ctx context.Context, runID string) (*Run, error) {
	r.mu.RLock()
	ar, ok := r.active[runID]
	r.mu.RUnlock()
	if ok {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ar.done:
		}
		return r.GetRun(ctx, runID)
	}

	// Run owned by another process sharing the store: poll.
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		run, err := r.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.Status.IsFinished() {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Runner) GetRun(ctx context.Context, runID string) (*Run, error) {
	return r.store.Get(ctx, runID)
}

func (r *Runner) ListRuns(ctx context.Context, status *RunStatus) ([]*Run, error) {
	return r.store.List(ctx, status)
}

// Cancel stops a run executing in this process. The in-flight task's
// process is terminated and the run finishes as cancelled.
func (r *Runner) Cancel(ctx context.Context, runID string) error {
	r.mu.RLock()
	ar, exists := r.active[runID]
	r.mu.RUnlock()

	if !exists {
		run, err := r.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if run.Status.IsFinished() {
			return fmt.Errorf("run %s: %w (%s)", runID, ErrRunFinished, run.Status)
		}
		return fmt.Errorf("run %s: %w", runID, ErrRunNotActive)
	}

	ar.cancel(errCancelled)
	return nil
}

// GetLogs returns the run's output.log, falling back to the archive when
// the local file is gone.
func (r *Runner) GetLogs(ctx context.Context, runID string) (io.ReadCloser, error) {
	run, err := r.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(run.LogsPath)
	if err == nil {
		return f, nil
	}
	if os.IsNotExist(err) && r.artifacts != nil {
		return r.artifacts.Download(ctx, qart.RunKey(runID, "output.log"))
	}
	return nil, fmt.Errorf("failed to open log file: %w", err)
}

// Active returns the IDs of runs executing in this process.
func (r *Runner) Active() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.active))
	for id := range maps.Keys(r.active) {
		ids = append(ids, id)
	}
	return ids
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
