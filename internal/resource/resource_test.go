package resource

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newResource(id, ownerID string) *Resource {
	now := time.Now()
	return &Resource{
		ID:        id,
		OwnerID:   ownerID,
		Name:      id,
		Status:    StatusAvailable,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryLedgerCreateAndGet(t *testing.T) {
	m := NewMemoryLedger()
	ctx := context.Background()

	if err := m.Create(ctx, newResource("res_1", "alice")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := m.Get(ctx, "res_1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.OwnerID != "alice" || got.Status != StatusAvailable {
		t.Errorf("unexpected resource: %+v", got)
	}

	// Mutating the returned copy must not touch the stored one.
	got.Status = StatusTraded
	again, err := m.Get(ctx, "res_1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if again.Status != StatusAvailable {
		t.Error("stored resource mutated through a returned copy")
	}

	if _, err := m.Get(ctx, "res_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryLedgerGetBatch(t *testing.T) {
	m := NewMemoryLedger()
	ctx := context.Background()
	m.Create(ctx, newResource("res_1", "alice"))
	m.Create(ctx, newResource("res_2", "bob"))

	found, err := m.GetBatch(ctx, []string{"res_1", "res_missing", "res_2"})
	if err != nil {
		t.Fatalf("get batch failed: %v", err)
	}
	// Missing ids are simply absent; callers decide what that means.
	if len(found) != 2 {
		t.Errorf("expected 2 found, got %d", len(found))
	}
}

func TestMemoryLedgerListByOwner(t *testing.T) {
	m := NewMemoryLedger()
	ctx := context.Background()
	m.Create(ctx, newResource("res_1", "alice"))
	m.Create(ctx, newResource("res_2", "alice"))
	m.Create(ctx, newResource("res_3", "bob"))

	list, err := m.ListByOwner(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 resources for alice, got %d", len(list))
	}

	list, err = m.ListByOwner(ctx, "alice", 1)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected limit applied, got %d", len(list))
	}
}

func TestCompareAndSwapBatch(t *testing.T) {
	m := NewMemoryLedger()
	ctx := context.Background()
	m.Create(ctx, newResource("res_1", "alice"))
	m.Create(ctx, newResource("res_2", "alice"))

	now := time.Now()
	blocked := m.CompareAndSwapBatch(ctx, []string{"res_1", "res_2"}, StatusAvailable, StatusTraded, now)
	if len(blocked) != 0 {
		t.Fatalf("expected clean swap, got blocked %v", blocked)
	}
	for _, id := range []string{"res_1", "res_2"} {
		r, _ := m.Get(ctx, id)
		if r.Status != StatusTraded {
			t.Errorf("expected %s traded, got %s", id, r.Status)
		}
	}
}

func TestCompareAndSwapBatch_AllOrNothing(t *testing.T) {
	m := NewMemoryLedger()
	ctx := context.Background()
	m.Create(ctx, newResource("res_1", "alice"))
	r2 := newResource("res_2", "alice")
	r2.Status = StatusTraded
	m.Create(ctx, r2)

	now := time.Now()
	blocked := m.CompareAndSwapBatch(ctx, []string{"res_1", "res_2", "res_missing"}, StatusAvailable, StatusTraded, now)
	if len(blocked) != 2 {
		t.Fatalf("expected 2 blockers, got %v", blocked)
	}

	// Nothing flipped when any id is blocked.
	r1, _ := m.Get(ctx, "res_1")
	if r1.Status != StatusAvailable {
		t.Errorf("expected res_1 untouched, got %s", r1.Status)
	}
}
