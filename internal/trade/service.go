package trade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/swapyard/swapyard/internal/idgen"
	"github.com/swapyard/swapyard/internal/metrics"
	"github.com/swapyard/swapyard/internal/syncutil"
	"github.com/swapyard/swapyard/internal/traces"
)

// DefaultTTL is how long a proposed trade stays open before auto-cancelling.
const DefaultTTL = 24 * time.Hour

// Service implements the trade lifecycle engine.
type Service struct {
	store    Store
	notifier Notifier
	ttl      time.Duration
	locks    syncutil.ContextShardedMutex // per-trade serialization
}

// NewService creates a new trade service.
func NewService(store Store, notifier Notifier) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		ttl:      DefaultTTL,
	}
}

// WithTTL overrides the proposal-to-expiry deadline.
func (s *Service) WithTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

// Propose creates a pending trade bundling the listed resources.
//
// Resources are not reserved at proposal time: a resource can sit in several
// pending trades at once, and the accept-time re-check decides the winner.
func (s *Service) Propose(ctx context.Context, req ProposeRequest) (*Trade, error) {
	ctx, span := traces.StartSpan(ctx, "trade.Propose",
		traces.UserID(req.InitiatorID), traces.ResourceCount(len(req.ResourceIDs)))
	defer span.End()

	if req.InitiatorID == req.ReceiverID {
		return nil, ErrSelfTrade
	}
	if len(req.ResourceIDs) == 0 {
		return nil, ErrEmptyManifest
	}
	seen := make(map[string]struct{}, len(req.ResourceIDs))
	for _, id := range req.ResourceIDs {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateResource, id)
		}
		seen[id] = struct{}{}
	}

	now := time.Now()
	t := &Trade{
		ID:          idgen.WithPrefix("trd_"),
		InitiatorID: req.InitiatorID,
		ReceiverID:  req.ReceiverID,
		Status:      StatusPending,
		ExpiresAt:   now.Add(s.ttl),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Manifest validation happens inside the store so it commits (or fails)
	// together with the trade, item, and expiry-job rows.
	if err := s.store.CreateProposal(ctx, t, req.ResourceIDs); err != nil {
		return nil, err
	}

	metrics.TradesProposedTotal.Inc()
	if s.notifier != nil {
		s.notifier.TradeProposed(ctx, t.ReceiverID, t.ID)
	}
	return t, nil
}

// Accept resolves a pending trade in the receiver's favour, committing every
// bundled resource. Exactly one of any set of racing acceptances that share
// a resource can succeed; the rest get a *ConflictError.
func (s *Service) Accept(ctx context.Context, tradeID, actingUserID string) (*Trade, error) {
	ctx, span := traces.StartSpan(ctx, "trade.Accept",
		traces.TradeID(tradeID), traces.UserID(actingUserID))
	defer span.End()

	unlock, err := s.locks.LockContext(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if actingUserID != t.ReceiverID {
		return nil, ErrNotReceiver
	}
	if t.Status != StatusPending {
		return nil, ErrNotPending
	}

	now := time.Now()
	if err := s.store.AcceptTrade(ctx, tradeID, now); err != nil {
		if _, conflict := AsConflict(err); conflict {
			metrics.AcceptConflictsTotal.Inc()
		}
		return nil, err
	}

	t.Status = StatusAccepted
	t.UpdatedAt = now
	metrics.TradesResolvedTotal.WithLabelValues("accepted").Inc()
	metrics.TradeResolutionSeconds.Observe(now.Sub(t.CreatedAt).Seconds())
	if s.notifier != nil {
		s.notifier.TradeAccepted(ctx, t.InitiatorID, t.ID)
	}
	return t, nil
}

// Reject resolves a pending trade against the initiator. Receiver only.
// No resource changes: nothing was reserved.
func (s *Service) Reject(ctx context.Context, tradeID, actingUserID string) (*Trade, error) {
	ctx, span := traces.StartSpan(ctx, "trade.Reject",
		traces.TradeID(tradeID), traces.UserID(actingUserID))
	defer span.End()

	return s.resolve(ctx, tradeID, actingUserID, StatusRejected)
}

// Cancel withdraws a pending trade. Initiator only.
func (s *Service) Cancel(ctx context.Context, tradeID, actingUserID string) (*Trade, error) {
	ctx, span := traces.StartSpan(ctx, "trade.Cancel",
		traces.TradeID(tradeID), traces.UserID(actingUserID))
	defer span.End()

	return s.resolve(ctx, tradeID, actingUserID, StatusCancelled)
}

// resolve handles the reject/cancel transitions, which differ only in the
// permitted actor and the counterpart to notify.
func (s *Service) resolve(ctx context.Context, tradeID, actingUserID string, to Status) (*Trade, error) {
	unlock, err := s.locks.LockContext(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}

	var counterpart string
	switch to {
	case StatusRejected:
		if actingUserID != t.ReceiverID {
			return nil, ErrNotReceiver
		}
		counterpart = t.InitiatorID
	case StatusCancelled:
		if actingUserID != t.InitiatorID {
			return nil, ErrNotInitiator
		}
		counterpart = t.ReceiverID
	default:
		return nil, fmt.Errorf("invalid resolution status %q", to)
	}

	if t.Status != StatusPending {
		return nil, ErrNotPending
	}

	now := time.Now()
	if err := s.store.TransitionStatus(ctx, tradeID, StatusPending, to, now); err != nil {
		return nil, err
	}

	t.Status = to
	t.UpdatedAt = now
	metrics.TradesResolvedTotal.WithLabelValues(string(to)).Inc()
	metrics.TradeResolutionSeconds.Observe(now.Sub(t.CreatedAt).Seconds())
	if s.notifier != nil {
		switch to {
		case StatusRejected:
			s.notifier.TradeRejected(ctx, counterpart, t.ID)
		case StatusCancelled:
			s.notifier.TradeCancelled(ctx, counterpart, t.ID)
		}
	}
	return t, nil
}

// Expire cancels a trade whose deadline elapsed. Invoked only by the expiry
// worker, which may deliver the same job more than once; a trade that has
// already left pending is returned unchanged with no side effects.
func (s *Service) Expire(ctx context.Context, tradeID string) (*Trade, error) {
	ctx, span := traces.StartSpan(ctx, "trade.Expire", traces.TradeID(tradeID))
	defer span.End()

	unlock, err := s.locks.LockContext(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusPending {
		return t, nil
	}

	now := time.Now()
	if err := s.store.TransitionStatus(ctx, tradeID, StatusPending, StatusCancelled, now); err != nil {
		// Lost a race with a manual resolution between the read and the
		// flip; the deadline firing late must not corrupt the outcome.
		if errors.Is(err, ErrNotPending) {
			return s.store.GetTrade(ctx, tradeID)
		}
		return nil, err
	}

	t.Status = StatusCancelled
	t.UpdatedAt = now
	metrics.TradesResolvedTotal.WithLabelValues("expired").Inc()
	if s.notifier != nil {
		s.notifier.TradeExpired(ctx, t.InitiatorID, t.ID)
		s.notifier.TradeExpired(ctx, t.ReceiverID, t.ID)
	}
	return t, nil
}

// Get returns a trade by ID.
func (s *Service) Get(ctx context.Context, id string) (*Trade, error) {
	return s.store.GetTrade(ctx, id)
}

// Items returns the resource ids in a trade's manifest.
func (s *Service) Items(ctx context.Context, tradeID string) ([]string, error) {
	if _, err := s.store.GetTrade(ctx, tradeID); err != nil {
		return nil, err
	}
	return s.store.GetItems(ctx, tradeID)
}

// ListByUser returns trades where the user is initiator or receiver.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// AsConflict unwraps a *ConflictError if err is one.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// AsValidation unwraps a *ValidationError if err is one.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
