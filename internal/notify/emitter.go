package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/swapyard/swapyard/internal/idgen"
	"github.com/swapyard/swapyard/internal/retry"
)

var (
	notifyEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swapyard",
		Subsystem: "notify",
		Name:      "emit_total",
		Help:      "Total notification emit attempts by event type.",
	}, []string{"event_type"})

	notifyEmitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swapyard",
		Subsystem: "notify",
		Name:      "emit_errors_total",
		Help:      "Total notification emit failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(notifyEmitTotal, notifyEmitErrors)
}

// Pusher delivers a payload to a user's live connections. Implemented by the
// realtime hub.
type Pusher interface {
	Push(userID string, payload interface{})
}

// Emitter persists and pushes trade lifecycle notifications. It satisfies the
// trade engine's Notifier. All methods are fire-and-forget: errors are logged
// but never returned.
type Emitter struct {
	store  Store
	pusher Pusher
	logger *slog.Logger
}

// NewEmitter creates a new notification emitter. pusher may be nil when no
// realtime hub is running.
func NewEmitter(store Store, pusher Pusher, logger *slog.Logger) *Emitter {
	return &Emitter{store: store, pusher: pusher, logger: logger}
}

func (e *Emitter) emit(userID, tradeID string, eventType EventType) {
	if e == nil || e.store == nil {
		return
	}
	notifyEmitTotal.WithLabelValues(string(eventType)).Inc()

	n := &Notification{
		ID:        idgen.WithPrefix("ntf_"),
		UserID:    userID,
		Type:      eventType,
		TradeID:   tradeID,
		CreatedAt: time.Now(),
	}

	// Detached from the request context: the trade outcome is already
	// committed, so a cancelled caller must not lose the notification.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := retry.Do(ctx, 3, 100*time.Millisecond, func() error {
		return e.store.Create(ctx, n)
	})
	if err != nil {
		notifyEmitErrors.WithLabelValues(string(eventType)).Inc()
		e.logger.Warn("notification store failed",
			"event", eventType,
			"user", userID,
			"trade_id", tradeID,
			"error", err)
		return
	}

	if e.pusher != nil {
		e.pusher.Push(userID, n)
	}
}

// TradeProposed notifies the receiver of a new proposal.
func (e *Emitter) TradeProposed(_ context.Context, userID, tradeID string) {
	e.emit(userID, tradeID, EventTradeProposed)
}

// TradeAccepted notifies the initiator that the receiver accepted.
func (e *Emitter) TradeAccepted(_ context.Context, userID, tradeID string) {
	e.emit(userID, tradeID, EventTradeAccepted)
}

// TradeRejected notifies the initiator that the receiver rejected.
func (e *Emitter) TradeRejected(_ context.Context, userID, tradeID string) {
	e.emit(userID, tradeID, EventTradeRejected)
}

// TradeCancelled notifies the receiver that the initiator withdrew.
func (e *Emitter) TradeCancelled(_ context.Context, userID, tradeID string) {
	e.emit(userID, tradeID, EventTradeCancelled)
}

// TradeExpired notifies a party that the proposal timed out.
func (e *Emitter) TradeExpired(_ context.Context, userID, tradeID string) {
	e.emit(userID, tradeID, EventTradeExpired)
}
