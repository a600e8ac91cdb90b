package qrunner

import (
	"context"
	"errors"
	"io"
	"time"
)

// RunStatus represents the execution state of a run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusTimeout   RunStatus = "timeout"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsFinished reports whether the status is terminal.
func (s RunStatus) IsFinished() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusTimeout, RunStatusCancelled:
		return true
	}
	return false
}

// Run represents an execution of a job
type Run struct {
	ID             string            `json:"id"`
	Name           string            `json:"name,omitempty"`
	Status         RunStatus         `json:"status"`
	Platform       string            `json:"platform"`
	Image          string            `json:"image"`
	Shell          string            `json:"shell"`
	Tasks          []string          `json:"tasks"`
	TimeoutSeconds int64             `json:"timeout_seconds,omitempty"`
	Labels         map[string]string `json:"labels,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	FinishedAt     *time.Time        `json:"finished_at,omitempty"`
	ExitCode       *int              `json:"exit_code,omitempty"`
	FailedTask     *int              `json:"failed_task,omitempty"` // index into Tasks
	ErrorCode      string            `json:"error_code,omitempty"`
	Error          string            `json:"error,omitempty"`
	Results        []TaskResult      `json:"results,omitempty"`
	LogsPath       string            `json:"logs_path"`
	Artifacts      []RunArtifact     `json:"artifacts,omitempty"`
}

// TaskResult records one task that ran to completion (zero or not).
type TaskResult struct {
	Index      int       `json:"index"`
	Command    string    `json:"command"`
	ExitCode   int       `json:"exit_code"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// RunArtifact represents a stored artifact for a run.
type RunArtifact struct {
	Key         string `json:"key"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// Platform provisions isolated execution environments. Implementations:
// LocalPlatform, DockerPlatform, K8sPlatform.
type Platform interface {
	Name() string

	// Provision creates a fresh environment for one run.
	Provision(ctx context.Context, req EnvironmentRequest) (Environment, error)
}

// EnvironmentRequest is what the runner asks a platform for.
type EnvironmentRequest struct {
	RunID string
	Name  string
	Image string
	Shell string
	Env   map[string]string
}

// Environment runs scripts with the requested shell. Exec blocks until the
// script exits; when ctx is done it must terminate the script's process
// before returning.
type Environment interface {
	// Exec runs script and returns its exit status. A non-nil error means
	// the platform failed, not the script.
	Exec(ctx context.Context, script string, stdout, stderr io.Writer) (int, error)

	// StateDir is a directory inside the environment where the runner keeps
	// shell state between tasks.
	StateDir() string

	// Close tears the environment down.
	Close(ctx context.Context) error
}

// RunStore persists run records.
type RunStore interface {
	Save(ctx context.Context, run *Run) error
	Get(ctx context.Context, runID string) (*Run, error)
	List(ctx context.Context, status *RunStatus) ([]*Run, error)
}

// ErrRunNotFound is returned by RunStore.Get for unknown IDs.
var ErrRunNotFound = errors.New("run not found")

// Cancel errors.
var (
	ErrRunFinished  = errors.New("run already finished")
	ErrRunNotActive = errors.New("run is not executing in this process")
)

// Interface assertions.
var (
	_ Platform = (*LocalPlatform)(nil)
	_ Platform = (*DockerPlatform)(nil)
	_ Platform = (*K8sPlatform)(nil)
	_ RunStore = (*FileStore)(nil)
)
