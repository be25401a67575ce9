package handlers

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// RegisterRoutes registers the status dashboard routes.
func RegisterRoutes(api huma.API, h *StatusHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Credential status",
		Description: "Returns every service pool with per-credential window usage.",
		Tags:        []string{"Status"},
	}, h.Status)

	huma.Register(api, huma.Operation{
		OperationID: "get-service-status",
		Method:      http.MethodGet,
		Path:        "/status/{service}",
		Summary:     "Service status",
		Description: "Returns the pool of a single service.",
		Tags:        []string{"Status"},
	}, h.ServiceStatus)

	huma.Register(api, huma.Operation{
		OperationID: "get-calls",
		Method:      http.MethodGet,
		Path:        "/calls",
		Summary:     "Call metrics",
		Description: "Returns collector call statistics per service.",
		Tags:        []string{"Monitoring"},
	}, h.Calls)

	huma.Register(api, huma.Operation{
		OperationID: "get-alerts",
		Method:      http.MethodGet,
		Path:        "/alerts",
		Summary:     "Active alerts",
		Description: "Returns alerts raised recently.",
		Tags:        []string{"Monitoring"},
	}, h.Alerts)
}
