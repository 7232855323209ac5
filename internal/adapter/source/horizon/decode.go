package horizon

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/user/lumen-indexer/internal/domain"
)

// wireEvent is the JSON shape of one entry on the feed's /events stream.
type wireEvent struct {
	ID          string          `json:"id"`
	PagingToken string          `json:"paging_token"`
	Type        string          `json:"type"`
	CreatedAt   time.Time       `json:"created_at"`
	Data        json.RawMessage `json:"data"`
}

// decodeEvent converts a wire entry into the normalized envelope, decoding the
// kind-specific payload at the boundary.
func decodeEvent(raw []byte) (domain.RawEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return domain.RawEvent{}, fmt.Errorf("malformed feed entry: %w", err)
	}
	pos, err := domain.ParsePosition(w.PagingToken)
	if err != nil {
		return domain.RawEvent{}, err
	}
	payload, err := domain.DecodePayload(domain.EventKind(w.Type), w.Data)
	if err != nil {
		return domain.RawEvent{}, err
	}
	return domain.RawEvent{
		ID:         w.ID,
		Position:   pos,
		Kind:       domain.EventKind(w.Type),
		Payload:    payload,
		ObservedAt: w.CreatedAt,
	}, nil
}

// wirePayment is one record of the account-payments point query.
type wirePayment struct {
	ID            string    `json:"id"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	AmountStroops int64     `json:"amount_stroops"`
	Asset         string    `json:"asset"`
	TxHash        string    `json:"transaction_hash"`
	CreatedAt     time.Time `json:"created_at"`
}

type paymentsPage struct {
	Embedded struct {
		Records []wirePayment `json:"records"`
	} `json:"_embedded"`
}

// wireTransaction is the transaction-by-hash point query record.
type wireTransaction struct {
	Hash           string    `json:"hash"`
	Ledger         uint64    `json:"ledger"`
	SourceAccount  string    `json:"source_account"`
	FeeStroops     int64     `json:"fee_charged"`
	OperationCount int       `json:"operation_count"`
	Successful     bool      `json:"successful"`
	Memo           string    `json:"memo"`
	CreatedAt      time.Time `json:"created_at"`
}
