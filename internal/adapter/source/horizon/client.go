// Package horizon streams platform events from the ledger's Horizon-style
// HTTP feed over server-sent events, and serves its point queries: account
// payment history and transaction lookup by hash.
package horizon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/user/lumen-indexer/internal/domain"
)

const defaultRequestTimeout = 10 * time.Second

// Client implements domain.EventSource against a Horizon-style feed.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
}

// NewClient builds a feed client. rps caps outbound request rate; zero or
// negative means unlimited.
func NewClient(baseURL string, logger *slog.Logger, rps float64) *Client {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Streaming requests must not carry a client timeout; the SSE
		// connection is meant to stay open.
		httpClient: &http.Client{},
		logger:     logger.With("component", "horizon_client"),
		limiter:    rate.NewLimiter(limit, 1),
	}
}

// Subscribe opens the SSE stream at /events with cursor=from. The returned
// event channel closes after a single terminal error is buffered on the error
// channel; reconnecting is the caller's policy.
func (c *Client) Subscribe(ctx context.Context, from domain.Position) (<-chan domain.RawEvent, <-chan error) {
	events := make(chan domain.RawEvent)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		errs <- c.stream(ctx, from, events)
	}()

	return events, errs
}

func (c *Client) stream(ctx context.Context, from domain.Position, events chan<- domain.RawEvent) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &domain.StreamError{Err: err}
	}

	u := fmt.Sprintf("%s/events?cursor=%s", c.baseURL, from)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &domain.StreamError{Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.StreamError{Err: fmt.Errorf("open event stream: %w", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusBadRequest:
		// The feed no longer retains history at this cursor.
		return fmt.Errorf("cursor %s rejected with status %d: %w", from, resp.StatusCode, domain.ErrStaleCursor)
	default:
		return &domain.StreamError{Err: fmt.Errorf("event stream returned status %d", resp.StatusCode)}
	}

	c.logger.Info("event stream open", "cursor", from)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok || data == "" || data == `"hello"` {
			continue
		}

		ev, err := decodeEvent([]byte(data))
		if err != nil {
			if errors.Is(err, domain.ErrUnknownEventKind) {
				// Contract upgrades may emit types this build does not know.
				c.logger.Debug("skipping unknown event type", "error", err)
				continue
			}
			return &domain.StreamError{Err: err}
		}

		select {
		case events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return &domain.StreamError{Err: fmt.Errorf("event stream closed: %w", err)}
	}
	return &domain.StreamError{Err: errors.New("event stream ended")}
}

// AccountPayments fetches the feed's payment history for one account. This is
// a pass-through read, never part of the projection path.
func (c *Client) AccountPayments(ctx context.Context, account string, limit int) ([]domain.LedgerPayment, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	u := fmt.Sprintf("%s/accounts/%s/payments?limit=%d", c.baseURL, url.PathEscape(account), limit)
	reqCtx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch account payments: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("account payments returned status %d", resp.StatusCode)
	}

	var page paymentsPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode account payments: %w", err)
	}

	out := make([]domain.LedgerPayment, 0, len(page.Embedded.Records))
	for _, r := range page.Embedded.Records {
		out = append(out, domain.LedgerPayment{
			ID:            r.ID,
			From:          r.From,
			To:            r.To,
			AmountStroops: r.AmountStroops,
			Asset:         r.Asset,
			TxHash:        r.TxHash,
			CreatedAt:     r.CreatedAt,
		})
	}
	return out, nil
}

// TransactionDetails fetches one settled transaction by hash, for the read
// API's receipt lookup. Unknown hashes map to domain.ErrNotFound.
func (c *Client) TransactionDetails(ctx context.Context, hash string) (*domain.LedgerTransaction, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/transactions/%s", c.baseURL, url.PathEscape(hash))
	reqCtx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch transaction: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transaction lookup returned status %d", resp.StatusCode)
	}

	var w wireTransaction
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return &domain.LedgerTransaction{
		Hash:           w.Hash,
		Ledger:         w.Ledger,
		SourceAccount:  w.SourceAccount,
		FeeStroops:     w.FeeStroops,
		OperationCount: w.OperationCount,
		Successful:     w.Successful,
		Memo:           w.Memo,
		CreatedAt:      w.CreatedAt,
	}, nil
}
