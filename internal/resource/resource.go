// Package resource holds the ledger of tradeable assets.
//
// A resource is a physical item a user has listed for barter. The trade
// engine is the only writer of a resource's availability status: accepting a
// trade flips every bundled resource from "available" to "traded". Ownership
// is authoritative input here and is never reassigned by the engine.
package resource

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("resource not found")

// Status is a resource's availability state.
type Status string

const (
	StatusAvailable Status = "available"
	StatusTraded    Status = "traded"
)

// Resource is a tradeable asset record.
type Resource struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Ledger persists resource records.
//
// Status mutation is deliberately absent from this interface: flips happen
// only inside a trade store's accept transaction, so that a resource-status
// change and the matching trade-status change commit as one unit.
type Ledger interface {
	Create(ctx context.Context, r *Resource) error
	Get(ctx context.Context, id string) (*Resource, error)
	GetBatch(ctx context.Context, ids []string) ([]*Resource, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Resource, error)
}
