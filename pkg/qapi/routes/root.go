package routes

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/quatton/qci/pkg/qapi/services"
)

// RegisterAPI installs every route. svcs may be nil when only the OpenAPI
// document is needed.
func RegisterAPI(api huma.API, svcs *services.Services) {
	if svcs != nil {
		api.UseMiddleware(svcs.IAM.Middleware())
	}
	RegisterHealth(api, svcs)
	RegisterEvents(api, svcs)
	RegisterPipelines(api, svcs)
	RegisterRuns(api, svcs)
}
