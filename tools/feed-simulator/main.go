// Command feed-simulator serves a synthetic Horizon-style event feed for local
// development: an SSE /events stream of generated platform events plus a
// minimal /accounts/{address}/payments endpoint.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var accounts = []string{
	"GBUYER000000000000000000000000000000000000000000000000XA",
	"GBUYER000000000000000000000000000000000000000000000000XB",
	"GBUYER000000000000000000000000000000000000000000000000XC",
	"GCREATOR0000000000000000000000000000000000000000000000YA",
	"GCREATOR0000000000000000000000000000000000000000000000YB",
}

type feedEvent struct {
	ID          string         `json:"id"`
	PagingToken string         `json:"paging_token"`
	Type        string         `json:"type"`
	CreatedAt   time.Time      `json:"created_at"`
	Data        map[string]any `json:"data"`
}

// feed holds the generated history so late subscribers can catch up from any
// cursor, like a real feed's retention window.
type feed struct {
	mu      sync.Mutex
	events  []feedEvent
	nextPos uint64
	rng     *rand.Rand
}

func (f *feed) generate() feedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextPos++
	creator := accounts[3+f.rng.Intn(2)]
	buyer := accounts[f.rng.Intn(3)]

	var kind string
	var data map[string]any
	switch f.rng.Intn(5) {
	case 0:
		kind = "content_minted"
		data = map[string]any{
			"content_id":    f.rng.Int63n(1000),
			"creator":       creator,
			"price_stroops": int64(10_000_000),
			"published":     true,
		}
	case 1:
		kind = "payment"
		amount := int64(10_000_000)
		fee := amount * 5 / 100
		data = map[string]any{
			"payer":                buyer,
			"creator":              creator,
			"content_id":           f.rng.Int63n(1000),
			"amount_stroops":       amount,
			"platform_fee_stroops": fee,
			"creator_stroops":      amount - fee,
			"tx_hash":              uuid.NewString(),
		}
	case 2:
		kind = "tip_sent"
		amount := int64(1_000_000)
		fee := amount * 5 / 100
		data = map[string]any{
			"tipper":          buyer,
			"creator":         creator,
			"amount_stroops":  amount,
			"creator_stroops": amount - fee,
			"message":         "great work",
		}
	case 3:
		kind = "subscription_created"
		data = map[string]any{
			"subscriber":    buyer,
			"creator":       creator,
			"tier_id":       int64(1 + f.rng.Intn(3)),
			"start_date":    time.Now().UTC().Format(time.RFC3339),
			"duration_days": 30,
			"auto_renew":    f.rng.Intn(2) == 0,
		}
	default:
		kind = "withdrawal"
		data = map[string]any{
			"creator":        creator,
			"amount_stroops": int64(1_000_000),
			"destination":    buyer,
		}
	}

	ev := feedEvent{
		ID:          uuid.NewString(),
		PagingToken: strconv.FormatUint(f.nextPos, 10),
		Type:        kind,
		CreatedAt:   time.Now().UTC(),
		Data:        data,
	}
	f.events = append(f.events, ev)
	return ev
}

func (f *feed) after(cursor uint64) []feedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []feedEvent
	for _, ev := range f.events {
		pos, _ := strconv.ParseUint(ev.PagingToken, 10, 64)
		if pos > cursor {
			out = append(out, ev)
		}
	}
	return out
}

func main() {
	addr := flag.String("addr", ":8000", "Listen address")
	eps := flag.Float64("eps", 2, "Events generated per second")
	flag.Parse()

	f := &feed{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	limiter := rate.NewLimiter(rate.Limit(*eps), 1)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /events", func(w http.ResponseWriter, r *http.Request) {
		cursor, err := strconv.ParseUint(r.URL.Query().Get("cursor"), 10, 64)
		if err != nil && r.URL.Query().Get("cursor") != "" {
			http.Error(w, "invalid cursor", http.StatusBadRequest)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		fmt.Fprint(w, "data: \"hello\"\n\n")
		flusher.Flush()

		// Replay retained history past the cursor, then stream live.
		for _, ev := range f.after(cursor) {
			writeEvent(w, ev)
			cursor, _ = strconv.ParseUint(ev.PagingToken, 10, 64)
		}
		flusher.Flush()

		for {
			if err := limiter.Wait(r.Context()); err != nil {
				return
			}
			writeEvent(w, f.generate())
			flusher.Flush()
		}
	})

	mux.HandleFunc("GET /accounts/{address}/payments", func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		var records []map[string]any
		for _, ev := range f.after(0) {
			if ev.Type != "payment" || ev.Data["payer"] != address {
				continue
			}
			records = append(records, map[string]any{
				"id":               ev.ID,
				"from":             ev.Data["payer"],
				"to":               ev.Data["creator"],
				"amount_stroops":   ev.Data["amount_stroops"],
				"asset":            "XLM",
				"transaction_hash": ev.Data["tx_hash"],
				"created_at":       ev.CreatedAt,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"_embedded": map[string]any{"records": records},
		})
	})

	log.Printf("feed simulator listening on %s (%.1f events/sec)", *addr, *eps)
	log.Fatal(http.ListenAndServe(*addr, mux))
}

func writeEvent(w http.ResponseWriter, ev feedEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", b)
}
