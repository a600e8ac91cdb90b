package qrunner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"time"
)

const defaultTerminationGrace = 5 * time.Second

// outputDrainDelay bounds how long Exec keeps copying output after the task
// itself exited. Background children inherit the output pipe and may hold it
// open indefinitely.
const outputDrainDelay = time.Second

// LocalPlatform runs tasks as host processes in a throwaway workspace. The
// image is recorded on the run but not used.
type LocalPlatform struct {
	workDir       string // parent of per-run workspaces, os.TempDir() when empty
	grace         time.Duration
	keepWorkspace bool
}

// LocalOption configures a LocalPlatform
type LocalOption func(*LocalPlatform)

// WithWorkDir sets where per-run workspaces are created.
func WithWorkDir(dir string) LocalOption {
	return func(p *LocalPlatform) {
		p.workDir = dir
	}
}

// WithTerminationGrace sets how long a cancelled task gets between SIGTERM
// and SIGKILL.
func WithTerminationGrace(d time.Duration) LocalOption {
	return func(p *LocalPlatform) {
		p.grace = d
	}
}

// WithKeepWorkspace leaves workspaces on disk after Close, for debugging.
func WithKeepWorkspace(keep bool) LocalOption {
	return func(p *LocalPlatform) {
		p.keepWorkspace = keep
	}
}

func NewLocalPlatform(opts ...LocalOption) *LocalPlatform {
	p := &LocalPlatform{grace: defaultTerminationGrace}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *LocalPlatform) Name() string { return "local" }

func (p *LocalPlatform) Provision(ctx context.Context, req EnvironmentRequest) (Environment, error) {
	shell, err := exec.LookPath(req.Shell)
	if err != nil {
		return nil, fmt.Errorf("shell %q not available: %w", req.Shell, err)
	}

	workspace, err := os.MkdirTemp(p.workDir, "qci-"+shortID(req.RunID)+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	state, err := os.MkdirTemp(p.workDir, "qci-state-")
	if err != nil {
		os.RemoveAll(workspace)
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	env := os.Environ()
	keys := make([]string, 0, len(req.Env))
	for k := range req.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+req.Env[k])
	}
	env = append(env, "QCI_WORKSPACE="+workspace)

	return &localEnvironment{
		shell:     shell,
		workspace: workspace,
		state:     state,
		env:       env,
		grace:     p.grace,
		keep:      p.keepWorkspace,
	}, nil
}

type localEnvironment struct {
	shell     string
	workspace string
	state     string
	env       []string
	grace     time.Duration
	keep      bool

	groups []int // process groups of tasks started so far, swept on Close
}

func (e *localEnvironment) StateDir() string { return e.state }

func (e *localEnvironment) Exec(ctx context.Context, script string, stdout, stderr io.Writer) (int, error) {
	cmd := exec.Command(e.shell, "-c", script)
	cmd.Dir = e.workspace
	cmd.Env = e.env
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = outputDrainDelay
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("failed to start %s: %w", e.shell, err)
	}
	e.groups = append(e.groups, cmd.Process.Pid)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		// The task's whole process group is gone once terminate returns.
		terminate(cmd, done, e.grace)
		return -1, ctx.Err()
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitStatus(exitErr.ProcessState), nil
		}
		// The task exited but something it started still holds the output.
		if errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil {
			return exitStatus(cmd.ProcessState), nil
		}
		return -1, err
	}
	return 0, nil
}

// Close kills whatever the tasks left running in the background and removes
// the state directory and, unless kept, the workspace.
func (e *localEnvironment) Close(ctx context.Context) error {
	for _, pgid := range e.groups {
		killGroup(pgid)
	}
	e.groups = nil

	err := os.RemoveAll(e.state)
	if !e.keep {
		err = errors.Join(err, os.RemoveAll(e.workspace))
	}
	return err
}

func shortID(runID string) string {
	if len(runID) > 8 {
		return runID[len(runID)-8:]
	}
	return runID
}
