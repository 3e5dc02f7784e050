// Package trade implements the trade lifecycle engine.
//
// Flow:
//  1. An initiator proposes a trade bundling resources owned by the two
//     parties; the trade starts pending and an expiry job is scheduled
//  2. The receiver accepts or rejects; the initiator may cancel
//  3. Accepting re-checks every bundled resource and flips it to "traded"
//     in the same transaction that flips the trade to "accepted" — this
//     compare-and-set is the only guard against double-committing a
//     resource across racing trades
//  4. At the deadline the expiry worker cancels the trade if still pending;
//     a deadline firing after manual resolution is a harmless no-op
//  5. Every transition notifies the counterpart via the notification sink
//
// Resources stay "available" while a trade is pending: the same resource
// may sit in several pending trades at once, and the first acceptance wins.
package trade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound          = errors.New("trade not found")
	ErrNotPending        = errors.New("trade is not pending")
	ErrNotReceiver       = errors.New("only the receiver may do this")
	ErrNotInitiator      = errors.New("only the initiator may do this")
	ErrSelfTrade         = errors.New("initiator and receiver must differ")
	ErrEmptyManifest     = errors.New("trade must include at least one resource")
	ErrDuplicateResource = errors.New("duplicate resource id in manifest")
)

// ValidationError reports resources that failed proposal validation.
// It is a caller error: the input must change before retrying.
type ValidationError struct {
	Reason      string // "not_found", "not_available" or "not_owned"
	ResourceIDs []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("resource validation failed (%s): %s",
		e.Reason, strings.Join(e.ResourceIDs, ", "))
}

// ConflictError reports resources that were no longer available at accept
// time because another trade committed them first. Unlike a ValidationError
// the caller's input was fine; the trade simply lost the race.
type ConflictError struct {
	ResourceIDs []string
}

func (e *ConflictError) Error() string {
	return "resources no longer available: " + strings.Join(e.ResourceIDs, ", ")
}

// Status is a trade's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	// StatusCompleted is reserved for a future hand-off confirmation flow.
	// No transition reaches it today.
	StatusCompleted Status = "completed"
)

// Terminal returns true if the status is final. Terminal trades accept no
// further transitions; expiry on a terminal trade is a silent no-op.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// Trade is a proposed or resolved two-party exchange. The item manifest is
// fixed at proposal time; status is the only field that changes afterwards.
type Trade struct {
	ID          string    `json:"id"`
	InitiatorID string    `json:"initiatorId"`
	ReceiverID  string    `json:"receiverId"`
	Status      Status    `json:"status"`
	ExpiresAt   time.Time `json:"expiresAt"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Item binds one resource to one trade.
type Item struct {
	TradeID    string `json:"tradeId"`
	ResourceID string `json:"resourceId"`
}

// ProposeRequest contains the parameters for proposing a trade.
type ProposeRequest struct {
	InitiatorID string   `json:"initiatorId" binding:"required"`
	ReceiverID  string   `json:"receiverId" binding:"required"`
	ResourceIDs []string `json:"resourceIds" binding:"required"`
}

// ActionRequest identifies the acting user for accept/reject/cancel.
type ActionRequest struct {
	ActingUserID string `json:"actingUserId" binding:"required"`
}

// Store persists trades, their item manifests, and its expiry jobs.
//
// CreateProposal and AcceptTrade are each a single atomic unit: validation,
// the rows they write, and the resource-status flips they perform either all
// happen or none do.
type Store interface {
	// CreateProposal validates the manifest against the resource ledger
	// (every id resolves, is available, and is owned by one of the two
	// parties) and writes the trade, its items, and its expiry job. On a
	// failed validation it returns a *ValidationError naming the offending
	// ids and writes nothing.
	CreateProposal(ctx context.Context, t *Trade, resourceIDs []string) error

	GetTrade(ctx context.Context, id string) (*Trade, error)
	GetItems(ctx context.Context, tradeID string) ([]string, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*Trade, error)

	// TransitionStatus flips a trade from one status to another, failing
	// with ErrNotFound or ErrNotPending if the trade is missing or has
	// already left the from status.
	TransitionStatus(ctx context.Context, id string, from, to Status, now time.Time) error

	// AcceptTrade atomically flips the trade from pending to accepted and
	// every manifest resource from available to traded. If any resource was
	// consumed by another trade it returns a *ConflictError and changes
	// nothing; if the trade already left pending it returns ErrNotPending.
	AcceptTrade(ctx context.Context, id string, now time.Time) error

	// Expiry job queue. One job per trade, enqueued by CreateProposal.
	ListDueExpiries(ctx context.Context, now time.Time, limit int) ([]string, error)
	MarkExpiryDone(ctx context.Context, tradeID string) error
	RescheduleExpiry(ctx context.Context, tradeID string, runAt time.Time) error
}

// Notifier receives one call per successful transition. Implementations are
// best-effort: delivery failures must never surface to the engine's caller.
type Notifier interface {
	TradeProposed(ctx context.Context, userID, tradeID string)
	TradeAccepted(ctx context.Context, userID, tradeID string)
	TradeRejected(ctx context.Context, userID, tradeID string)
	TradeCancelled(ctx context.Context, userID, tradeID string)
	TradeExpired(ctx context.Context, userID, tradeID string)
}
