package routes

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/quatton/qci/pkg/qapi/services"
)

type HealthOutput struct {
	Body struct {
		Status     string   `json:"status" example:"ok" doc:"Health status"`
		Platform   string   `json:"platform,omitempty" doc:"Execution platform"`
		ActiveRuns int      `json:"active_runs" doc:"Runs executing on this server"`
		EventTypes []string `json:"event_types,omitempty" doc:"Event types with a registered handler"`
	}
}

func RegisterHealth(api huma.API, svcs *services.Services) {
	huma.Register(api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the server",
		Tags:        []string{TagHealth.String()},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		resp := &HealthOutput{}
		resp.Body.Status = "ok"
		if svcs != nil {
			resp.Body.Platform = svcs.Runner.Platform().Name()
			resp.Body.ActiveRuns = len(svcs.Runner.Active())
			resp.Body.EventTypes = svcs.Dispatcher.Types()
		}
		return resp, nil
	})
}
