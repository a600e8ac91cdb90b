package routes

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/quatton/qci/pkg/qapi/schemas"
	"github.com/quatton/qci/pkg/qapi/services"
	"github.com/quatton/qci/pkg/qevents"
)

type DispatchEventInput struct {
	Type string `path:"type" doc:"Event type" example:"exec"`
	Body schemas.EventRequest
}

type DispatchEventOutput struct {
	Body schemas.EventAccepted
}

type ListEventTypesOutput struct {
	Body struct {
		Types []string `json:"types" doc:"Event types with a registered handler"`
	}
}

func RegisterEvents(api huma.API, svcs *services.Services) {
	huma.Register(api, huma.Operation{
		OperationID: "list-event-types",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "List event types",
		Description: "Event types the server has a handler for",
		Tags:        []string{TagEvents.String()},
		Security:    BearerAuth,
	}, func(ctx context.Context, input *struct{}) (*ListEventTypesOutput, error) {
		if svcs == nil {
			return nil, huma.Error503ServiceUnavailable("server not configured")
		}
		if err := svcs.IAM.RequireRead(ctx); err != nil {
			return nil, err
		}
		resp := &ListEventTypesOutput{}
		resp.Body.Types = svcs.Dispatcher.Types()
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "dispatch-event",
		Method:        http.MethodPost,
		Path:          "/api/events/{type}",
		Summary:       "Dispatch an event",
		Description:   "Hands the event to the handler registered for its type. Pipelines run asynchronously; the response only acknowledges the event.",
		Tags:          []string{TagEvents.String()},
		Security:      BearerAuth,
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *DispatchEventInput) (*DispatchEventOutput, error) {
		if svcs == nil {
			return nil, huma.Error503ServiceUnavailable("server not configured")
		}
		if err := qevents.ValidateType(input.Type); err != nil {
			return nil, huma.Error422UnprocessableEntity("invalid event type: " + err.Error())
		}
		if err := svcs.IAM.RequireEvent(ctx, input.Type); err != nil {
			return nil, err
		}

		source := input.Body.Source
		if source == "" {
			source = "api"
		}
		id, err := svcs.Dispatcher.DispatchAsync(qevents.Event{
			ID:      input.Body.ID,
			Type:    input.Type,
			Source:  source,
			Project: input.Body.Project,
			Commit:  input.Body.Commit,
			Ref:     input.Body.Ref,
			Payload: input.Body.Payload,
		})
		if err != nil {
			return nil, dispatchError(err)
		}

		resp := &DispatchEventOutput{}
		resp.Body = schemas.EventAccepted{ID: id, Type: input.Type}
		return resp, nil
	})
}

func dispatchError(err error) error {
	switch {
	case errors.Is(err, qevents.ErrNoHandler):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, qevents.ErrDuplicateEvent):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, qevents.ErrClosed):
		return huma.Error503ServiceUnavailable(err.Error())
	default:
		return huma.Error500InternalServerError("failed to dispatch event", err)
	}
}
