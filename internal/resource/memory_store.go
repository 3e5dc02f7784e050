package resource

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryLedger is an in-memory resource ledger for demo/development mode.
type MemoryLedger struct {
	resources map[string]*Resource
	mu        sync.RWMutex
}

// NewMemoryLedger creates a new in-memory resource ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{resources: make(map[string]*Resource)}
}

func (m *MemoryLedger) Create(_ context.Context, r *Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.resources[r.ID] = &cp
	return nil
}

func (m *MemoryLedger) Get(_ context.Context, id string) (*Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.resources[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// GetBatch returns the resources that exist among ids. Missing ids are
// simply absent from the result; callers diff against their request.
func (m *MemoryLedger) GetBatch(_ context.Context, ids []string) ([]*Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Resource
	for _, id := range ids {
		if r, ok := m.resources[id]; ok {
			cp := *r
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryLedger) ListByOwner(_ context.Context, ownerID string, limit int) ([]*Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Resource
	for _, r := range m.resources {
		if r.OwnerID == ownerID {
			cp := *r
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

// CompareAndSwapBatch atomically flips every listed resource from one status
// to another. If any resource is missing or not in the from status, nothing
// is flipped and the offending ids are returned.
func (m *MemoryLedger) CompareAndSwapBatch(_ context.Context, ids []string, from, to Status, now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var blocked []string
	for _, id := range ids {
		r, ok := m.resources[id]
		if !ok || r.Status != from {
			blocked = append(blocked, id)
		}
	}
	if len(blocked) > 0 {
		return blocked
	}

	for _, id := range ids {
		m.resources[id].Status = to
		m.resources[id].UpdatedAt = now
	}
	return nil
}

// Compile-time assertion that MemoryLedger implements Ledger.
var _ Ledger = (*MemoryLedger)(nil)
