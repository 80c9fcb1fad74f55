package api

import (
	"context"
	"net/http"
	"time"

	"github.com/dukerupert/brokkr/internal/handler"
	"github.com/dukerupert/brokkr/internal/middleware"
)

// Pinger reports whether a dependency answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db      Pinger
	version string
}

func NewHealthHandler(db Pinger, version string) *HealthHandler {
	return &HealthHandler{db: db, version: version}
}

// Check handles GET /health. The store gets two seconds to answer.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	if err := h.db.Ping(ctx); err != nil {
		middleware.GetLogger(r.Context()).Error("health check failed", "error", err)
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	handler.JSON(w, code, map[string]string{
		"status":  status,
		"version": h.version,
	})
}
