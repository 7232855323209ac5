package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/user/lumen-indexer/internal/adapter/api/handler"
	"github.com/user/lumen-indexer/internal/adapter/api/middleware"
	"github.com/user/lumen-indexer/internal/domain"
)

// NewRouter creates the public read API router.
func NewRouter(
	logger *slog.Logger,
	readModel domain.ReadModel,
	ledger handler.LedgerQueries,
) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logging(logger))

	queryHandler := handler.NewQueryHandler(readModel, ledger, logger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/content/{contentID}", queryHandler.GetContent)
		r.Get("/content/{contentID}/access", queryHandler.CheckAccess)

		r.Get("/accounts/{address}/purchases", queryHandler.ListPurchases)
		r.Get("/accounts/{address}/subscriptions", queryHandler.ListSubscriptions)
		r.Get("/accounts/{address}/payments", queryHandler.ListPayments)

		r.Get("/transactions/{hash}", queryHandler.GetTransaction)

		r.Get("/creators/{address}/content", queryHandler.ListCreatorContent)
		r.Get("/creators/{address}/earnings", queryHandler.GetEarnings)
		r.Get("/creators/{address}/subscription-stats", queryHandler.GetSubscriptionStats)
	})

	return r
}
