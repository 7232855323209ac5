// Package mocks provides in-memory implementations of the domain interfaces
// for testing. MemoryStore is a full transactional fake: mutations made inside
// a failed Apply are discarded, matching the real store's atomicity contract.
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/user/lumen-indexer/internal/domain"
)

type accessGrant struct {
	Account        string
	ContentID      int64 // 0 for creator-wide grants
	Creator        string
	SubscriptionID int64
	EventID        string
}

type rmState struct {
	purchases     map[string]domain.Purchase
	tips          map[string]domain.Tip
	subscriptions map[int64]domain.Subscription
	withdrawals   map[string]domain.WithdrawalRecord
	content       map[int64]domain.ContentRecord
	grants        []accessGrant
	balances      map[string]domain.CreatorEarnings
	applied       map[string]time.Time
	nextSubID     int64
}

func newRMState() *rmState {
	return &rmState{
		purchases:     make(map[string]domain.Purchase),
		tips:          make(map[string]domain.Tip),
		subscriptions: make(map[int64]domain.Subscription),
		withdrawals:   make(map[string]domain.WithdrawalRecord),
		content:       make(map[int64]domain.ContentRecord),
		balances:      make(map[string]domain.CreatorEarnings),
		applied:       make(map[string]time.Time),
		nextSubID:     1,
	}
}

func (s *rmState) clone() *rmState {
	c := newRMState()
	c.nextSubID = s.nextSubID
	for k, v := range s.purchases {
		c.purchases[k] = v
	}
	for k, v := range s.tips {
		c.tips[k] = v
	}
	for k, v := range s.subscriptions {
		c.subscriptions[k] = v
	}
	for k, v := range s.withdrawals {
		c.withdrawals[k] = v
	}
	for k, v := range s.content {
		c.content[k] = v
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.applied {
		c.applied[k] = v
	}
	c.grants = append(c.grants, s.grants...)
	return c
}

// MemoryStore implements domain.EventStore, domain.ProjectionStore and
// domain.ReadModel against process memory.
type MemoryStore struct {
	mu         sync.Mutex
	events     map[string]domain.RawEvent
	order      []string
	checkpoint domain.Position
	dead       []domain.DeadLetter
	state      *rmState

	// Error injection.
	AppendErr      error
	AdvanceErr     error
	DeadLetterErr  error
	ApplyErr       error
	FailNextApplys int // number of Apply calls to fail with ApplyErr before succeeding

	ApplyCalls int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string]domain.RawEvent),
		state:  newRMState(),
	}
}

// --- domain.EventStore ---

func (m *MemoryStore) Append(ctx context.Context, event domain.RawEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendErr != nil {
		return false, m.AppendErr
	}
	if _, ok := m.events[event.ID]; ok {
		return false, nil
	}
	m.events[event.ID] = event
	m.order = append(m.order, event.ID)
	return true, nil
}

func (m *MemoryStore) LoadCheckpoint(ctx context.Context) (domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkpoint, nil
}

func (m *MemoryStore) AdvanceCheckpoint(ctx context.Context, to domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AdvanceErr != nil {
		return m.AdvanceErr
	}
	if to <= m.checkpoint {
		return fmt.Errorf("advance to %d from %d: %w", to, m.checkpoint, domain.ErrOutOfOrderCheckpoint)
	}
	m.checkpoint = to
	return nil
}

func (m *MemoryStore) IsApplied(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.state.applied[eventID]
	return ok, nil
}

func (m *MemoryStore) DeadLetter(ctx context.Context, dl domain.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeadLetterErr != nil {
		return m.DeadLetterErr
	}
	m.dead = append(m.dead, dl)
	return nil
}

func (m *MemoryStore) DeadLetters(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]domain.DeadLetter(nil), m.dead...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- domain.ProjectionStore ---

func (m *MemoryStore) Apply(ctx context.Context, event domain.RawEvent, fn func(tx domain.ProjectionTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ApplyCalls++
	if m.FailNextApplys > 0 {
		m.FailNextApplys--
		return m.ApplyErr
	}
	if m.ApplyErr != nil {
		return m.ApplyErr
	}
	staged := m.state.clone()
	if err := fn(&memTx{state: staged}); err != nil {
		return err
	}
	if _, ok := staged.applied[event.ID]; ok {
		return fmt.Errorf("applied marker already exists for event %s", event.ID)
	}
	staged.applied[event.ID] = time.Now().UTC()
	m.state = staged
	return nil
}

// --- test accessors ---

func (m *MemoryStore) Checkpoint() domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkpoint
}

func (m *MemoryStore) StoredEvents() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *MemoryStore) DeadLetterCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dead)
}

func (m *MemoryStore) Purchases() []domain.Purchase {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Purchase, 0, len(m.state.purchases))
	for _, p := range m.state.purchases {
		out = append(out, p)
	}
	return out
}

func (m *MemoryStore) Subscription(id int64) (domain.Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.state.subscriptions[id]
	return s, ok
}

func (m *MemoryStore) SeedSubscription(s domain.Subscription) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		s.ID = m.state.nextSubID
		m.state.nextSubID++
	} else if s.ID >= m.state.nextSubID {
		m.state.nextSubID = s.ID + 1
	}
	m.state.subscriptions[s.ID] = s
	m.state.grants = append(m.state.grants, accessGrant{
		Account:        s.Subscriber,
		Creator:        s.Creator,
		SubscriptionID: s.ID,
		EventID:        s.EventID,
	})
	return s.ID
}

func (m *MemoryStore) SeedBalance(creator string, available int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.balances[creator] = domain.CreatorEarnings{
		Creator:            creator,
		TotalEarnedStroops: available,
		AvailableStroops:   available,
	}
}

// --- domain.ReadModel ---

func (m *MemoryStore) ExpiringSubscriptions(ctx context.Context, asOf time.Time, window time.Duration) ([]domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Subscription
	for _, s := range m.state.subscriptions {
		if s.Status == domain.StatusExpired {
			continue
		}
		if s.ExpiryDate.Before(asOf.Add(window)) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemoryStore) SubscriptionsBySubscriber(ctx context.Context, subscriber string) ([]domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Subscription
	for _, s := range m.state.subscriptions {
		if s.Subscriber == subscriber {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemoryStore) PurchasesByBuyer(ctx context.Context, buyer string) ([]domain.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Purchase
	for _, p := range m.state.purchases {
		if p.Buyer == buyer {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemoryStore) HasContentAccess(ctx context.Context, account string, contentID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	creator := ""
	if c, ok := m.state.content[contentID]; ok {
		creator = c.Creator
	}
	for _, g := range m.state.grants {
		if g.Account != account {
			continue
		}
		if g.ContentID == contentID && contentID != 0 {
			return true, nil
		}
		if g.ContentID == 0 && creator != "" && g.Creator == creator {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) Content(ctx context.Context, contentID int64) (*domain.ContentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.state.content[contentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (m *MemoryStore) ContentByCreator(ctx context.Context, creator string) ([]domain.ContentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ContentRecord
	for _, c := range m.state.content {
		if c.Creator == creator {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemoryStore) CreatorEarnings(ctx context.Context, creator string) (*domain.CreatorEarnings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.state.balances[creator]
	if !ok {
		// No recorded revenue reads as a zero balance.
		return &domain.CreatorEarnings{Creator: creator}, nil
	}
	return &b, nil
}

func (m *MemoryStore) SubscriptionStats(ctx context.Context, creator string) (*domain.SubscriptionStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &domain.SubscriptionStats{Creator: creator}
	for _, s := range m.state.subscriptions {
		if s.Creator != creator {
			continue
		}
		switch s.Status {
		case domain.StatusActive:
			stats.ActiveSubscribers++
		case domain.StatusExpiring:
			stats.ExpiringSubscribers++
		case domain.StatusCancelled:
			stats.CancelledSubscribers++
		}
	}
	return stats, nil
}

// memTx implements domain.ProjectionTx against a staged rmState.
type memTx struct {
	state *rmState
}

func (t *memTx) InsertPurchase(ctx context.Context, p domain.Purchase) error {
	if _, ok := t.state.purchases[p.EventID]; ok {
		return fmt.Errorf("duplicate purchase for event %s", p.EventID)
	}
	t.state.purchases[p.EventID] = p
	return nil
}

func (t *memTx) IncrementPurchaseCount(ctx context.Context, contentID int64, creator string) error {
	c, ok := t.state.content[contentID]
	if !ok {
		c = domain.ContentRecord{ContentID: contentID, Creator: creator, Published: true}
	}
	c.PurchaseCount++
	t.state.content[contentID] = c
	return nil
}

func (t *memTx) GrantContentAccess(ctx context.Context, account string, contentID int64, eventID string) error {
	for _, g := range t.state.grants {
		if g.Account == account && g.ContentID == contentID {
			return nil
		}
	}
	t.state.grants = append(t.state.grants, accessGrant{Account: account, ContentID: contentID, EventID: eventID})
	return nil
}

func (t *memTx) GrantCreatorAccess(ctx context.Context, account, creator string, subscriptionID int64) error {
	for _, g := range t.state.grants {
		if g.Account == account && g.SubscriptionID == subscriptionID && subscriptionID != 0 {
			return nil
		}
	}
	t.state.grants = append(t.state.grants, accessGrant{Account: account, Creator: creator, SubscriptionID: subscriptionID})
	return nil
}

func (t *memTx) RevokeSubscriptionAccess(ctx context.Context, subscriptionID int64) error {
	kept := t.state.grants[:0]
	for _, g := range t.state.grants {
		if g.SubscriptionID != subscriptionID {
			kept = append(kept, g)
		}
	}
	t.state.grants = kept
	return nil
}

func (t *memTx) InsertTip(ctx context.Context, tip domain.Tip) error {
	if _, ok := t.state.tips[tip.EventID]; ok {
		return fmt.Errorf("duplicate tip for event %s", tip.EventID)
	}
	t.state.tips[tip.EventID] = tip
	return nil
}

func (t *memTx) CreditEarnings(ctx context.Context, creator string, amountStroops int64) error {
	b := t.state.balances[creator]
	b.Creator = creator
	b.TotalEarnedStroops += amountStroops
	b.AvailableStroops += amountStroops
	t.state.balances[creator] = b
	return nil
}

func (t *memTx) ActiveSubscription(ctx context.Context, subscriber, creator string) (*domain.Subscription, error) {
	for _, s := range t.state.subscriptions {
		if s.Subscriber == subscriber && s.Creator == creator && s.Status == domain.StatusActive {
			out := s
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (t *memTx) LatestSubscription(ctx context.Context, subscriber, creator string) (*domain.Subscription, error) {
	var latest *domain.Subscription
	for id := range t.state.subscriptions {
		s := t.state.subscriptions[id]
		if s.Subscriber != subscriber || s.Creator != creator {
			continue
		}
		if latest == nil || s.ID > latest.ID {
			out := s
			latest = &out
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	return latest, nil
}

func (t *memTx) SubscriptionByID(ctx context.Context, id int64) (*domain.Subscription, error) {
	s, ok := t.state.subscriptions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := s
	return &out, nil
}

func (t *memTx) InsertSubscription(ctx context.Context, s domain.Subscription) (int64, error) {
	for _, existing := range t.state.subscriptions {
		if existing.Subscriber == s.Subscriber && existing.Creator == s.Creator && existing.Status == domain.StatusActive {
			return 0, fmt.Errorf("subscriber %s creator %s: %w", s.Subscriber, s.Creator, domain.ErrDuplicateActiveSubscription)
		}
	}
	s.ID = t.state.nextSubID
	t.state.nextSubID++
	t.state.subscriptions[s.ID] = s
	return s.ID, nil
}

func (t *memTx) UpdateSubscription(ctx context.Context, s domain.Subscription) error {
	if _, ok := t.state.subscriptions[s.ID]; !ok {
		return fmt.Errorf("subscription %d: %w", s.ID, domain.ErrNotFound)
	}
	t.state.subscriptions[s.ID] = s
	return nil
}

func (t *memTx) InsertWithdrawal(ctx context.Context, w domain.WithdrawalRecord) error {
	if _, ok := t.state.withdrawals[w.EventID]; ok {
		return fmt.Errorf("duplicate withdrawal for event %s", w.EventID)
	}
	t.state.withdrawals[w.EventID] = w
	return nil
}

func (t *memTx) DebitBalance(ctx context.Context, creator string, amountStroops int64) error {
	b, ok := t.state.balances[creator]
	if !ok || b.AvailableStroops < amountStroops {
		return fmt.Errorf("creator %s debit %d: %w", creator, amountStroops, domain.ErrInsufficientRecordedBalance)
	}
	b.AvailableStroops -= amountStroops
	b.WithdrawnStroops += amountStroops
	t.state.balances[creator] = b
	return nil
}

func (t *memTx) UpsertContent(ctx context.Context, c domain.ContentRecord) error {
	if existing, ok := t.state.content[c.ContentID]; ok {
		c.PurchaseCount = existing.PurchaseCount
	}
	t.state.content[c.ContentID] = c
	return nil
}
