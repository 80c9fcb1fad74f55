package routes

import (
	"net/http"

	"github.com/dukerupert/brokkr/internal/router"
)

// RegisterSystemRoutes registers health and metrics endpoints.
func RegisterSystemRoutes(r *router.Router, deps SystemDeps) {
	r.Get("/health", deps.HealthHandler.Check)
	if deps.Metrics != nil {
		r.Handle(http.MethodGet, "/metrics", deps.Metrics)
	}
}
