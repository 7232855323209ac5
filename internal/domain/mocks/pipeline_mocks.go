package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/user/lumen-indexer/internal/domain"
)

// MemoryOutbox is an in-memory domain.NoticeOutbox.
type MemoryOutbox struct {
	mu         sync.Mutex
	pending    []domain.OutboxMessage
	acked      map[string]bool
	nextID     int
	Published  []domain.RawEvent
	PublishErr error

	// FailPublishFor makes Publish fail for notices about the given
	// subscription id, for per-item sweep isolation tests.
	FailPublishFor int64
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{acked: make(map[string]bool)}
}

func (o *MemoryOutbox) Publish(ctx context.Context, notice domain.RawEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.PublishErr != nil {
		return o.PublishErr
	}
	if o.FailPublishFor != 0 {
		if p, ok := notice.Payload.(domain.LifecycleNoticePayload); ok && p.SubscriptionID == o.FailPublishFor {
			return fmt.Errorf("publish rejected for subscription %d", p.SubscriptionID)
		}
	}
	o.nextID++
	o.Published = append(o.Published, notice)
	o.pending = append(o.pending, domain.OutboxMessage{
		MessageID: fmt.Sprintf("msg-%d", o.nextID),
		Event:     notice,
	})
	return nil
}

func (o *MemoryOutbox) Read(ctx context.Context, count int) ([]domain.OutboxMessage, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []domain.OutboxMessage
	for _, m := range o.pending {
		if o.acked[m.MessageID] {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) >= count {
			break
		}
	}
	return out, nil
}

func (o *MemoryOutbox) Acknowledge(ctx context.Context, messageIDs ...string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range messageIDs {
		o.acked[id] = true
	}
	return nil
}

func (o *MemoryOutbox) PendingCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, m := range o.pending {
		if !o.acked[m.MessageID] {
			n++
		}
	}
	return n
}

// ScriptedSource is a domain.EventSource that replays a fixed script per
// subscription: events with Position > from, then a terminal error.
type ScriptedSource struct {
	mu     sync.Mutex
	Events []domain.RawEvent
	// Errs[i] terminates the i'th subscription; the last entry repeats.
	Errs []error

	SubscribeCalls []domain.Position
}

func (s *ScriptedSource) Subscribe(ctx context.Context, from domain.Position) (<-chan domain.RawEvent, <-chan error) {
	s.mu.Lock()
	call := len(s.SubscribeCalls)
	s.SubscribeCalls = append(s.SubscribeCalls, from)
	events := append([]domain.RawEvent(nil), s.Events...)
	var terminal error
	if len(s.Errs) > 0 {
		if call < len(s.Errs) {
			terminal = s.Errs[call]
		} else {
			terminal = s.Errs[len(s.Errs)-1]
		}
	}
	s.mu.Unlock()

	out := make(chan domain.RawEvent)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		for _, ev := range events {
			if ev.Position <= from {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if terminal != nil {
			errs <- terminal
			return
		}
		<-ctx.Done()
		errs <- ctx.Err()
	}()
	return out, errs
}

func (s *ScriptedSource) SubscribeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SubscribeCalls)
}

// LastSubscribeFrom returns the cursor of the most recent subscription.
func (s *ScriptedSource) LastSubscribeFrom() domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.SubscribeCalls) == 0 {
		return domain.PositionBeginning
	}
	return s.SubscribeCalls[len(s.SubscribeCalls)-1]
}
