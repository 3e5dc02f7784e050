// Package notify delivers trade lifecycle notifications.
//
// Every notification is persisted for later retrieval, then pushed to the
// recipient's live websocket connections if any are open. Delivery is best
// effort end to end: a trade operation never fails because its notification
// could not be stored or pushed.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/swapyard/swapyard/internal/pagination"
)

// ErrNotFound is returned when a notification does not exist.
var ErrNotFound = errors.New("notification not found")

// EventType identifies a trade lifecycle event.
type EventType string

const (
	EventTradeProposed  EventType = "TRADE_PROPOSED"
	EventTradeAccepted  EventType = "TRADE_ACCEPTED"
	EventTradeRejected  EventType = "TRADE_REJECTED"
	EventTradeCancelled EventType = "TRADE_CANCELLED"
	EventTradeExpired   EventType = "TRADE_EXPIRED"
)

// Notification is one event addressed to one user.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Type      EventType `json:"type"`
	TradeID   string    `json:"tradeId"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists notifications.
type Store interface {
	Create(ctx context.Context, n *Notification) error
	Get(ctx context.Context, id string) (*Notification, error)
	ListByUser(ctx context.Context, userID string, unreadOnly bool, limit int, before *pagination.Cursor) ([]*Notification, error)
	MarkRead(ctx context.Context, id string) (*Notification, error)
}
