package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/lumen-indexer/internal/adapter/api/handler"
	"github.com/user/lumen-indexer/internal/domain"
)

// NewAdminRouter creates the HTTP router for operational endpoints: health,
// metrics and dead-letter review.
func NewAdminRouter(health handler.HealthReporter, store domain.EventStore, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	adminHandler := handler.NewAdminHandler(health, store, logger)

	mux.HandleFunc("GET /health", adminHandler.HealthCheck)
	mux.HandleFunc("GET /admin/dead-letters", adminHandler.GetDeadLetters)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}
