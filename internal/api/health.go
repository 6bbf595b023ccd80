package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const healthPingTimeout = 2 * time.Second

// DatabaseProbe is the slice of db.DB the health check needs.
type DatabaseProbe interface {
	PingContext(ctx context.Context) error
	Driver() string
}

type HealthHandler struct {
	database DatabaseProbe
}

func NewHealthHandler(database DatabaseProbe) *HealthHandler {
	return &HealthHandler{database: database}
}

type healthReport struct {
	Status   string         `json:"status"`
	Database databaseHealth `json:"database"`
}

type databaseHealth struct {
	Driver string `json:"driver"`
	Status string `json:"status"`
}

// GET /health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	report := healthReport{
		Status:   "ok",
		Database: databaseHealth{Driver: h.database.Driver(), Status: "ok"},
	}
	status := http.StatusOK

	if err := h.database.PingContext(ctx); err != nil {
		slog.Warn("health check database ping failed", "driver", report.Database.Driver, "error", err)
		report.Status = "degraded"
		report.Database.Status = "unreachable"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, Response{
		StatusCode: status,
		Data:       report,
		Message:    "Service " + report.Status,
		Success:    status == http.StatusOK,
	})
}
