package routes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/quatton/qci/pkg/qapi/schemas"
	"github.com/quatton/qci/pkg/qapi/services"
	"github.com/quatton/qci/pkg/qart"
	"github.com/quatton/qci/pkg/qerr"
	"github.com/quatton/qci/pkg/qevents"
	"github.com/quatton/qci/pkg/qjob"
	"github.com/quatton/qci/pkg/qrunner"
)

// SubmitRunInput defines the input for submitting a run
type SubmitRunInput struct {
	Body schemas.SubmitRunRequest
}

// RunOutput carries a single run
type RunOutput struct {
	Body schemas.RunResponse
}

// RunIDInput addresses a single run
type RunIDInput struct {
	RunID string `path:"runId" doc:"Run ID"`
}

// ListRunsInput defines the input for listing runs
type ListRunsInput struct {
	Status string `query:"status" doc:"Filter by status" enum:"pending,running,succeeded,failed,timeout,cancelled" required:"false"`
}

// ListRunsOutput is the response for listing runs
type ListRunsOutput struct {
	Body struct {
		Runs []schemas.RunResponse `json:"runs" doc:"Runs, oldest first"`
	}
}

// GetRunLogsOutput is the response for getting run logs
type GetRunLogsOutput struct {
	Body struct {
		Logs string `json:"logs" doc:"Combined task output"`
	}
}

// ListRunArtifactsOutput is the response for listing run artifacts
type ListRunArtifactsOutput struct {
	Body struct {
		Artifacts []schemas.RunArtifact `json:"artifacts" doc:"List of artifacts"`
	}
}

// GetArtifactURLInput defines the input for getting an artifact presigned URL
type GetArtifactURLInput struct {
	RunID    string `path:"runId" doc:"Run ID"`
	Filename string `path:"filename" doc:"Artifact filename"`
}

// GetArtifactURLOutput is the response for getting an artifact presigned URL
type GetArtifactURLOutput struct {
	Body struct {
		URL string `json:"url" doc:"Presigned download URL"`
	}
}

// RegisterRuns registers run-related routes
func RegisterRuns(api huma.API, svcs *services.Services) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-run",
		Method:        http.MethodPost,
		Path:          "/api/runs",
		Summary:       "Submit a run",
		Description:   "Runs an ad-hoc task sequence without going through a pipeline",
		Tags:          []string{TagRuns.String()},
		Security:      BearerAuth,
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *SubmitRunInput) (*RunOutput, error) {
		if svcs == nil {
			return nil, huma.Error503ServiceUnavailable("server not configured")
		}
		if err := svcs.IAM.RequireEvent(ctx, qevents.TypeExec); err != nil {
			return nil, err
		}

		spec, err := submitSpec(input.Body)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity(err.Error())
		}

		run, err := svcs.Runner.Submit(ctx, spec)
		if err != nil {
			if qerr.IsCode(err, qerr.CodeInvalidSpec) {
				return nil, huma.Error422UnprocessableEntity(err.Error())
			}
			return nil, huma.Error500InternalServerError(fmt.Sprintf("failed to submit run: %v", err))
		}
		return &RunOutput{Body: schemas.NewRunResponse(run)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/api/runs",
		Summary:     "List runs",
		Tags:        []string{TagRuns.String()},
		Security:    BearerAuth,
	}, func(ctx context.Context, input *ListRunsInput) (*ListRunsOutput, error) {
		if svcs == nil {
			return nil, huma.Error503ServiceUnavailable("server not configured")
		}
		if err := svcs.IAM.RequireRead(ctx); err != nil {
			return nil, err
		}

		var status *qrunner.RunStatus
		if input.Status != "" {
			s := qrunner.RunStatus(input.Status)
			status = &s
		}

		runs, err := svcs.Runner.ListRuns(ctx, status)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list runs", err)
		}

		resp := &ListRunsOutput{}
		resp.Body.Runs = make([]schemas.RunResponse, 0, len(runs))
		for _, run := range runs {
			resp.Body.Runs = append(resp.Body.Runs, schemas.NewRunResponse(run))
		}
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/api/runs/{runId}",
		Summary:     "Get run details",
		Tags:        []string{TagRuns.String()},
		Security:    BearerAuth,
	}, func(ctx context.Context, input *RunIDInput) (*RunOutput, error) {
		if svcs == nil {
			return nil, huma.Error503ServiceUnavailable("server not configured")
		}
		if err := svcs.IAM.RequireRead(ctx); err != nil {
			return nil, err
		}

		run, err := svcs.Runner.GetRun(ctx, input.RunID)
		if err != nil {
			return nil, runError(err)
		}
		return &RunOutput{Body: schemas.NewRunResponse(run)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "cancel-run",
		Method:        http.MethodDelete,
		Path:          "/api/runs/{runId}",
		Summary:       "Cancel a run",
		Description:   "Stops the in-flight task and finishes the run as cancelled",
		Tags:          []string{TagRuns.String()},
		Security:      BearerAuth,
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *RunIDInput) (*struct{}, error) {
		if svcs == nil {
			return nil, huma.Error503ServiceUnavailable("server not configured")
		}
		if err := svcs.IAM.RequireWrite(ctx); err != nil {
			return nil, err
		}

		if err := svcs.Runner.Cancel(ctx, input.RunID); err != nil {
			return nil, runError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run-logs",
		Method:      http.MethodGet,
		Path:        "/api/runs/{runId}/logs",
		Summary:     "Get run logs",
		Tags:        []string{TagRuns.String()},
		Security:    BearerAuth,
	}, func(ctx context.Context, input *RunIDInput) (*GetRunLogsOutput, error) {
		if svcs == nil {
			return nil, huma.Error503ServiceUnavailable("server not configured")
		}
		if err := svcs.IAM.RequireRead(ctx); err != nil {
			return nil, err
		}

		reader, err := svcs.Runner.GetLogs(ctx, input.RunID)
		if err != nil {
			return nil, runError(err)
		}
		defer reader.Close()

		logs, err := io.ReadAll(reader)
		if err != nil {
			return nil, huma.Error500InternalServerError(fmt.Sprintf("failed to read logs: %v", err))
		}
		resp := &GetRunLogsOutput{}
		resp.Body.Logs = string(logs)
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-run-artifacts",
		Method:      http.MethodGet,
		Path:        "/api/runs/{runId}/artifacts",
		Summary:     "List run artifacts",
		Tags:        []string{TagRuns.String()},
		Security:    BearerAuth,
	}, func(ctx context.Context, input *RunIDInput) (*ListRunArtifactsOutput, error) {
		if svcs == nil {
			return nil, huma.Error503ServiceUnavailable("server not configured")
		}
		if err := svcs.IAM.RequireRead(ctx); err != nil {
			return nil, err
		}
		if svcs.Artifacts == nil {
			return nil, huma.Error501NotImplemented("artifact storage not configured")
		}

		objects, err := svcs.Artifacts.List(ctx, qart.RunPrefix(input.RunID))
		if err != nil {
			return nil, huma.Error500InternalServerError(fmt.Sprintf("failed to list artifacts: %v", err))
		}

		artifacts := make([]schemas.RunArtifact, 0, len(objects))
		for _, obj := range objects {
			artifacts = append(artifacts, schemas.RunArtifact{
				Key:         obj.Key,
				Filename:    path.Base(obj.Key),
				Size:        obj.Size,
				ContentType: obj.ContentType,
			})
		}

		resp := &ListRunArtifactsOutput{}
		resp.Body.Artifacts = artifacts
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-artifact-url",
		Method:      http.MethodGet,
		Path:        "/api/runs/{runId}/artifacts/{filename}/url",
		Summary:     "Get artifact download URL",
		Description: "Get a presigned URL, valid for one hour, to download an artifact",
		Tags:        []string{TagRuns.String()},
		Security:    BearerAuth,
	}, func(ctx context.Context, input *GetArtifactURLInput) (*GetArtifactURLOutput, error) {
		if svcs == nil {
			return nil, huma.Error503ServiceUnavailable("server not configured")
		}
		if err := svcs.IAM.RequireRead(ctx); err != nil {
			return nil, err
		}
		if svcs.Artifacts == nil {
			return nil, huma.Error501NotImplemented("artifact storage not configured")
		}

		url, err := svcs.Artifacts.PresignedURL(ctx, qart.RunKey(input.RunID, input.Filename), time.Hour)
		if err != nil {
			if errors.Is(err, qart.ErrNoPresign) {
				return nil, huma.Error501NotImplemented(err.Error())
			}
			return nil, huma.Error500InternalServerError(fmt.Sprintf("failed to get presigned URL: %v", err))
		}

		resp := &GetArtifactURLOutput{}
		resp.Body.URL = url
		return resp, nil
	})
}

func submitSpec(req schemas.SubmitRunRequest) (qjob.JobSpec, error) {
	b := qjob.NewBuilder(req.Name).
		Tasks(req.Tasks...).
		EnvMap(req.Env).
		LabelMap(req.Labels).
		Timeout(time.Duration(req.TimeoutSeconds) * time.Second)
	if req.Image != "" {
		b.Image(req.Image)
	}
	if req.Shell != "" {
		b.Shell(req.Shell)
	}
	return b.Build()
}

func runError(err error) error {
	switch {
	case errors.Is(err, qrunner.ErrRunNotFound):
		return huma.Error404NotFound("run not found")
	case errors.Is(err, qrunner.ErrRunFinished), errors.Is(err, qrunner.ErrRunNotActive):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, qart.ErrNotFound):
		return huma.Error404NotFound("logs not found")
	default:
		return huma.Error500InternalServerError("request failed", err)
	}
}
