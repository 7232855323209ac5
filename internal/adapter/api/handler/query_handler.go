package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/user/lumen-indexer/internal/domain"
)

// LedgerQueries is the slice of the ledger feed the read API passes through.
type LedgerQueries interface {
	AccountPayments(ctx context.Context, account string, limit int) ([]domain.LedgerPayment, error)
	TransactionDetails(ctx context.Context, hash string) (*domain.LedgerTransaction, error)
}

// QueryHandler serves the indexed read-model plus the ledger pass-through
// queries.
type QueryHandler struct {
	readModel domain.ReadModel
	ledger    LedgerQueries
	logger    *slog.Logger
}

func NewQueryHandler(readModel domain.ReadModel, ledger LedgerQueries, logger *slog.Logger) *QueryHandler {
	return &QueryHandler{readModel: readModel, ledger: ledger, logger: logger}
}

// GetContent handles GET /v1/content/{contentID}.
func (h *QueryHandler) GetContent(w http.ResponseWriter, r *http.Request) {
	contentID, err := strconv.ParseInt(chi.URLParam(r, "contentID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid content id", http.StatusBadRequest)
		return
	}

	content, err := h.readModel.Content(r.Context(), contentID)
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "content not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.serverError(w, "failed to load content", err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, content)
}

// CheckAccess handles GET /v1/content/{contentID}/access?account={address}.
func (h *QueryHandler) CheckAccess(w http.ResponseWriter, r *http.Request) {
	contentID, err := strconv.ParseInt(chi.URLParam(r, "contentID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid content id", http.StatusBadRequest)
		return
	}
	account := r.URL.Query().Get("account")
	if account == "" {
		http.Error(w, "account is required", http.StatusBadRequest)
		return
	}

	ok, err := h.readModel.HasContentAccess(r.Context(), account, contentID)
	if err != nil {
		h.serverError(w, "failed to check access", err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]bool{"has_access": ok})
}

// ListPurchases handles GET /v1/accounts/{address}/purchases.
func (h *QueryHandler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	purchases, err := h.readModel.PurchasesByBuyer(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		h.serverError(w, "failed to list purchases", err)
		return
	}
	if purchases == nil {
		purchases = []domain.Purchase{}
	}
	h.respondWithJSON(w, http.StatusOK, purchases)
}

// ListSubscriptions handles GET /v1/accounts/{address}/subscriptions.
func (h *QueryHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.readModel.SubscriptionsBySubscriber(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		h.serverError(w, "failed to list subscriptions", err)
		return
	}
	if subs == nil {
		subs = []domain.Subscription{}
	}
	h.respondWithJSON(w, http.StatusOK, subs)
}

// ListPayments handles GET /v1/accounts/{address}/payments?limit={n}. Unlike
// the other endpoints it queries the ledger feed directly.
func (h *QueryHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		var err error
		limit, err = strconv.Atoi(s)
		if err != nil || limit <= 0 {
			http.Error(w, "invalid limit parameter", http.StatusBadRequest)
			return
		}
	}

	payments, err := h.ledger.AccountPayments(r.Context(), chi.URLParam(r, "address"), limit)
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.serverError(w, "failed to fetch payments", err)
		return
	}
	if payments == nil {
		payments = []domain.LedgerPayment{}
	}
	h.respondWithJSON(w, http.StatusOK, payments)
}

// GetTransaction handles GET /v1/transactions/{hash}. Like ListPayments it
// queries the ledger feed directly.
func (h *QueryHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.ledger.TransactionDetails(r.Context(), chi.URLParam(r, "hash"))
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "transaction not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.serverError(w, "failed to fetch transaction", err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, tx)
}

// ListCreatorContent handles GET /v1/creators/{address}/content.
func (h *QueryHandler) ListCreatorContent(w http.ResponseWriter, r *http.Request) {
	content, err := h.readModel.ContentByCreator(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		h.serverError(w, "failed to list creator content", err)
		return
	}
	if content == nil {
		content = []domain.ContentRecord{}
	}
	h.respondWithJSON(w, http.StatusOK, content)
}

// GetEarnings handles GET /v1/creators/{address}/earnings.
func (h *QueryHandler) GetEarnings(w http.ResponseWriter, r *http.Request) {
	earnings, err := h.readModel.CreatorEarnings(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		h.serverError(w, "failed to load earnings", err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, earnings)
}

// GetSubscriptionStats handles GET /v1/creators/{address}/subscription-stats.
func (h *QueryHandler) GetSubscriptionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.readModel.SubscriptionStats(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		h.serverError(w, "failed to load subscription stats", err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, stats)
}

func (h *QueryHandler) serverError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, "error", err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func (h *QueryHandler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal Server Error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
