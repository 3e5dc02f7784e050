package trade

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/swapyard/swapyard/internal/resource"
)

// expiryJob tracks one pending expiry per trade.
type expiryJob struct {
	runAt    time.Time
	attempts int
	done     bool
}

// MemoryStore is an in-memory trade store for demo/development mode.
//
// All writes hold the store mutex, and resource flips route through the
// ledger's CompareAndSwapBatch, so accept stays all-or-nothing without a
// real transaction.
type MemoryStore struct {
	ledger *resource.MemoryLedger
	trades map[string]*Trade
	items  map[string][]string // trade ID → resource IDs, insertion order
	jobs   map[string]*expiryJob
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory trade store backed by the ledger.
func NewMemoryStore(ledger *resource.MemoryLedger) *MemoryStore {
	return &MemoryStore{
		ledger: ledger,
		trades: make(map[string]*Trade),
		items:  make(map[string][]string),
		jobs:   make(map[string]*expiryJob),
	}
}

func (m *MemoryStore) CreateProposal(ctx context.Context, t *Trade, resourceIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	found, err := m.ledger.GetBatch(ctx, resourceIDs)
	if err != nil {
		return err
	}

	byID := make(map[string]*resource.Resource, len(found))
	for _, r := range found {
		byID[r.ID] = r
	}

	var missing, unavailable, notOwned []string
	for _, id := range resourceIDs {
		r, ok := byID[id]
		switch {
		case !ok:
			missing = append(missing, id)
		case r.Status != resource.StatusAvailable:
			unavailable = append(unavailable, id)
		case r.OwnerID != t.InitiatorID && r.OwnerID != t.ReceiverID:
			notOwned = append(notOwned, id)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Reason: "not_found", ResourceIDs: missing}
	}
	if len(unavailable) > 0 {
		return &ValidationError{Reason: "not_available", ResourceIDs: unavailable}
	}
	if len(notOwned) > 0 {
		return &ValidationError{Reason: "not_owned", ResourceIDs: notOwned}
	}

	cp := *t
	m.trades[t.ID] = &cp
	m.items[t.ID] = append([]string(nil), resourceIDs...)
	m.jobs[t.ID] = &expiryJob{runAt: t.ExpiresAt}
	return nil
}

func (m *MemoryStore) GetTrade(_ context.Context, id string) (*Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trades[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) GetItems(_ context.Context, tradeID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids, ok := m.items[tradeID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]string(nil), ids...), nil
}

func (m *MemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]*Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Trade
	for _, t := range m.trades {
		if t.InitiatorID == userID || t.ReceiverID == userID {
			cp := *t
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) TransitionStatus(_ context.Context, id string, from, to Status, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.trades[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status != from {
		return ErrNotPending
	}
	t.Status = to
	t.UpdatedAt = now
	return nil
}

func (m *MemoryStore) AcceptTrade(ctx context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.trades[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status != StatusPending {
		return ErrNotPending
	}

	// Flip the resources first: all-or-nothing. The trade is still pending
	// under our lock, so the trade flip below cannot fail.
	blocked := m.ledger.CompareAndSwapBatch(ctx, m.items[id],
		resource.StatusAvailable, resource.StatusTraded, now)
	if len(blocked) > 0 {
		return &ConflictError{ResourceIDs: blocked}
	}

	t.Status = StatusAccepted
	t.UpdatedAt = now
	return nil
}

func (m *MemoryStore) ListDueExpiries(_ context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var due []string
	for id, job := range m.jobs {
		if job.done || job.runAt.After(now) {
			continue
		}
		due = append(due, id)
		if len(due) >= limit {
			break
		}
	}
	return due, nil
}

func (m *MemoryStore) MarkExpiryDone(_ context.Context, tradeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[tradeID]; ok {
		job.done = true
	}
	return nil
}

func (m *MemoryStore) RescheduleExpiry(_ context.Context, tradeID string, runAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[tradeID]; ok {
		job.runAt = runAt
		job.attempts++
	}
	return nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
