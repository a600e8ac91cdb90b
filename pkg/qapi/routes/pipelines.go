package routes

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/quatton/qci/pkg/qapi/schemas"
	"github.com/quatton/qci/pkg/qapi/services"
	"github.com/quatton/qci/pkg/qevents"
	"github.com/quatton/qci/pkg/qpipelines"
)

type ListPipelinesOutput struct {
	Body struct {
		Pipelines []schemas.Pipeline `json:"pipelines" doc:"Registered pipelines"`
	}
}

type GetPipelineInput struct {
	Name string `path:"name" doc:"Pipeline name" example:"e2e"`
}

type GetPipelineOutput struct {
	Body schemas.Pipeline
}

type TriggerPipelineInput struct {
	Name string                  `path:"name" doc:"Pipeline name" example:"e2e"`
	Body *schemas.TriggerRequest `required:"false"`
}

type TriggerPipelineOutput struct {
	Body schemas.EventAccepted
}

func RegisterPipelines(api huma.API, svcs *services.Services) {
	huma.Register(api, huma.Operation{
		OperationID: "list-pipelines",
		Method:      http.MethodGet,
		Path:        "/api/pipelines",
		Summary:     "List pipelines",
		Tags:        []string{TagPipelines.String()},
		Security:    BearerAuth,
	}, func(ctx context.Context, input *struct{}) (*ListPipelinesOutput, error) {
		if svcs == nil {
			return nil, huma.Error503ServiceUnavailable("server not configured")
		}
		if err := svcs.IAM.RequireRead(ctx); err != nil {
			return nil, err
		}

		set := svcs.Pipelines.Set()
		resp := &ListPipelinesOutput{}
		resp.Body.Pipelines = make([]schemas.Pipeline, 0, set.Len())
		for _, name := range set.Names() {
			p, _ := set.Get(name)
			resp.Body.Pipelines = append(resp.Body.Pipelines, schemas.NewPipeline(p, lastRunID(ctx, svcs, name)))
		}
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-pipeline",
		Method:      http.MethodGet,
		Path:        "/api/pipelines/{name}",
		Summary:     "Get pipeline",
		Description: "Returns the resolved task list of a pipeline",
		Tags:        []string{TagPipelines.String()},
		Security:    BearerAuth,
	}, func(ctx context.Context, input *GetPipelineInput) (*GetPipelineOutput, error) {
		if svcs == nil {
			return nil, huma.Error503ServiceUnavailable("server not configured")
		}
		if err := svcs.IAM.RequireRead(ctx); err != nil {
			return nil, err
		}

		p, ok := svcs.Pipelines.Set().Get(input.Name)
		if !ok {
			return nil, huma.Error404NotFound("pipeline not found")
		}
		return &GetPipelineOutput{Body: schemas.NewPipeline(p, lastRunID(ctx, svcs, p.Name))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "trigger-pipeline",
		Method:        http.MethodPost,
		Path:          "/api/pipelines/{name}/runs",
		Summary:       "Trigger pipeline",
		Description:   "Starts the pipeline through a manual event",
		Tags:          []string{TagPipelines.String()},
		Security:      BearerAuth,
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *TriggerPipelineInput) (*TriggerPipelineOutput, error) {
		if svcs == nil {
			return nil, huma.Error503ServiceUnavailable("server not configured")
		}
		if err := svcs.IAM.RequireEvent(ctx, qpipelines.TypeManual); err != nil {
			return nil, err
		}

		ev := qevents.Event{Source: "api"}
		if input.Body != nil {
			ev.Project = input.Body.Project
			ev.Commit = input.Body.Commit
			ev.Ref = input.Body.Ref
			ev.Payload = input.Body.Payload
		}
		id, err := svcs.Pipelines.Trigger(input.Name, ev)
		if err != nil {
			if errors.Is(err, qpipelines.ErrUnknownPipeline) {
				return nil, huma.Error404NotFound(err.Error())
			}
			return nil, dispatchError(err)
		}

		resp := &TriggerPipelineOutput{}
		resp.Body = schemas.EventAccepted{ID: id, Type: qpipelines.TypeManual}
		return resp, nil
	})
}

func lastRunID(ctx context.Context, svcs *services.Services, name string) string {
	if svcs.Tracker == nil {
		return ""
	}
	id, err := qpipelines.LastRun(ctx, svcs.Tracker, name)
	if err != nil {
		return ""
	}
	return id
}
