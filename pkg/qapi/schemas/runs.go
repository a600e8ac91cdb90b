package schemas

import (
	"time"

	"github.com/quatton/qci/pkg/qrunner"
)

// SubmitRunRequest describes an ad-hoc job.
type SubmitRunRequest struct {
	Name           string            `json:"name" doc:"Job name" example:"smoke"`
	Image          string            `json:"image,omitempty" doc:"Container image for docker/k8s platforms. Defaults to ubuntu"`
	Shell          string            `json:"shell,omitempty" doc:"Shell used to run each task. Defaults to bash"`
	TimeoutSeconds int64             `json:"timeout_seconds,omitempty" doc:"Whole-run timeout; 0 uses the server default" minimum:"0"`
	Tasks          []string          `json:"tasks" doc:"Commands run in order; the run stops at the first non-zero exit" minItems:"1"`
	Env            map[string]string `json:"env,omitempty" doc:"Environment variables"`
	Labels         map[string]string `json:"labels,omitempty" doc:"Free-form labels"`
}

// RunArtifact represents a stored artifact for a run
type RunArtifact struct {
	Key         string `json:"key" doc:"Storage key"`
	Filename    string `json:"filename" doc:"Original filename"`
	Size        int64  `json:"size" doc:"Size in bytes"`
	ContentType string `json:"content_type" doc:"MIME type"`
	URL         string `json:"url,omitempty" doc:"Download URL (presigned)"`
}

type TaskResult struct {
	Index      int       `json:"index" doc:"Zero-based task index"`
	Command    string    `json:"command" doc:"Command as written"`
	ExitCode   int       `json:"exit_code" doc:"Exit status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// RunResponse represents a run and, once finished, its outcome.
type RunResponse struct {
	ID             string            `json:"id" doc:"Run ID"`
	Name           string            `json:"name,omitempty" doc:"Job name"`
	Platform       string            `json:"platform" doc:"Platform the run executed on (local, docker, k8s)"`
	Status         string            `json:"status" doc:"Run status" enum:"pending,running,succeeded,failed,timeout,cancelled"`
	Image          string            `json:"image"`
	Shell          string            `json:"shell"`
	Tasks          []string          `json:"tasks" doc:"Commands in order"`
	TimeoutSeconds int64             `json:"timeout_seconds,omitempty"`
	Labels         map[string]string `json:"labels,omitempty"`
	CreatedAt      time.Time         `json:"created_at" doc:"Creation timestamp"`
	StartedAt      *time.Time        `json:"started_at,omitempty" doc:"Start timestamp"`
	FinishedAt     *time.Time        `json:"finished_at,omitempty" doc:"Finish timestamp"`
	ExitCode       *int              `json:"exit_code,omitempty" doc:"Exit code of the failing task"`
	FailedTask     *int              `json:"failed_task,omitempty" doc:"Index of the failing task"`
	ErrorCode      string            `json:"error_code,omitempty" doc:"invalid_spec, task_failed, timeout, platform_error or cancelled"`
	Error          string            `json:"error,omitempty"`
	Results        []TaskResult      `json:"results,omitempty" doc:"Tasks that ran to completion"`
	Artifacts      []RunArtifact     `json:"artifacts,omitempty" doc:"Archived files"`
}

func NewRunResponse(run *qrunner.Run) RunResponse {
	resp := RunResponse{
		ID:             run.ID,
		Name:           run.Name,
		Platform:       run.Platform,
		Status:         string(run.Status),
		Image:          run.Image,
		Shell:          run.Shell,
		Tasks:          run.Tasks,
		TimeoutSeconds: run.TimeoutSeconds,
		Labels:         run.Labels,
		CreatedAt:      run.CreatedAt,
		StartedAt:      run.StartedAt,
		FinishedAt:     run.FinishedAt,
		ExitCode:       run.ExitCode,
		FailedTask:     run.FailedTask,
		ErrorCode:      run.ErrorCode,
		Error:          run.Error,
	}
	for _, r := range run.Results {
		resp.Results = append(resp.Results, TaskResult(r))
	}
	for _, a := range run.Artifacts {
		resp.Artifacts = append(resp.Artifacts, RunArtifact{
			Key:         a.Key,
			Filename:    a.Filename,
			Size:        a.Size,
			ContentType: a.ContentType,
		})
	}
	return resp
}
