package trade

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/swapyard/swapyard/internal/resource"
)

// PostgresStore is the production trade store.
//
// Proposal and accept each run in a single serializable transaction so the
// ownership check, the trade row, and the resource flips can never be
// observed half-done.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const tradeColumns = `id, initiator_id, receiver_id, status, expires_at, created_at, updated_at`

func (s *PostgresStore) CreateProposal(ctx context.Context, t *Trade, resourceIDs []string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Validate the manifest inside the transaction: every resource must
	// exist, be available, and belong to one of the two parties.
	rows, err := tx.QueryContext(ctx,
		`SELECT id, owner_id, status FROM resources WHERE id = ANY($1)`,
		pq.Array(resourceIDs))
	if err != nil {
		return fmt.Errorf("query resources: %w", err)
	}
	type row struct {
		ownerID string
		status  string
	}
	seen := make(map[string]row, len(resourceIDs))
	for rows.Next() {
		var id string
		var r row
		if err := rows.Scan(&id, &r.ownerID, &r.status); err != nil {
			rows.Close()
			return fmt.Errorf("scan resource: %w", err)
		}
		seen[id] = r
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate resources: %w", err)
	}

	var missing, unavailable, notOwned []string
	for _, id := range resourceIDs {
		r, ok := seen[id]
		switch {
		case !ok:
			missing = append(missing, id)
		case r.status != string(resource.StatusAvailable):
			unavailable = append(unavailable, id)
		case r.ownerID != t.InitiatorID && r.ownerID != t.ReceiverID:
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

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO trades (`+tradeColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.InitiatorID, t.ReceiverID, t.Status, t.ExpiresAt, t.CreatedAt, t.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}

	for i, rid := range resourceIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trade_items (trade_id, resource_id, position) VALUES ($1, $2, $3)`,
			t.ID, rid, i,
		); err != nil {
			return fmt.Errorf("insert trade item: %w", err)
		}
	}

	// The expiry job rides the same transaction so a proposed trade can
	// never exist without its scheduled expiration.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO trade_expiry_jobs (trade_id, run_at, attempts) VALUES ($1, $2, 0)`,
		t.ID, t.ExpiresAt,
	); err != nil {
		return fmt.Errorf("insert expiry job: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresStore) GetTrade(ctx context.Context, id string) (*Trade, error) {
	r := s.db.QueryRowContext(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id)
	t, err := scanTrade(r)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trade: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) GetItems(ctx context.Context, tradeID string) ([]string, error) {
	t, err := s.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT resource_id FROM trade_items WHERE trade_id = $1 ORDER BY position`,
		t.ID)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE initiator_id = $1 OR receiver_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (s *PostgresStore) TransitionStatus(ctx context.Context, id string, from, to Status, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE trades SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		to, now, id, from)
	if err != nil {
		return fmt.Errorf("transition trade: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		// Distinguish a missing trade from one that already left `from`.
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM trades WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check trade: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrNotPending
	}
	return nil
}

// AcceptTrade flips the trade and its manifest resources in one serializable
// transaction. When two accepts race over a shared resource, the loser's
// guarded update can abort with a serialization failure instead of a row
// shortfall; one retry re-runs against the winner's committed state and
// surfaces the clean *ConflictError.
func (s *PostgresStore) AcceptTrade(ctx context.Context, id string, now time.Time) error {
	err := s.acceptTradeOnce(ctx, id, now)
	if isSerializationFailure(err) {
		err = s.acceptTradeOnce(ctx, id, now)
	}
	return err
}

// serializationFailure is the PostgreSQL class 40001 SQLSTATE.
const serializationFailure = "40001"

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == serializationFailure
}

func (s *PostgresStore) acceptTradeOnce(ctx context.Context, id string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE trades SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		StatusAccepted, now, id, StatusPending)
	if err != nil {
		return fmt.Errorf("accept trade: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM trades WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check trade: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrNotPending
	}

	// Flip every manifest resource in one guarded update. If any row was
	// already traded the affected count comes up short, we name the
	// blockers, and the rollback leaves the trade pending.
	res, err = tx.ExecContext(ctx,
		`UPDATE resources SET status = $1, updated_at = $2
		 WHERE status = $3 AND id IN (SELECT resource_id FROM trade_items WHERE trade_id = $4)`,
		resource.StatusTraded, now, resource.StatusAvailable, id)
	if err != nil {
		return fmt.Errorf("flip resources: %w", err)
	}
	flipped, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	var total int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trade_items WHERE trade_id = $1`, id,
	).Scan(&total); err != nil {
		return fmt.Errorf("count items: %w", err)
	}
	if flipped != total {
		rows, err := tx.QueryContext(ctx,
			`SELECT resource_id FROM trade_items ti
			 JOIN resources r ON r.id = ti.resource_id
			 WHERE ti.trade_id = $1 AND r.status <> $2
			 ORDER BY ti.position`,
			id, resource.StatusAvailable)
		if err != nil {
			return fmt.Errorf("query blockers: %w", err)
		}
		defer rows.Close()
		var blocked []string
		for rows.Next() {
			var rid string
			if err := rows.Scan(&rid); err != nil {
				return fmt.Errorf("scan blocker: %w", err)
			}
			blocked = append(blocked, rid)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate blockers: %w", err)
		}
		return &ConflictError{ResourceIDs: blocked}
	}

	return tx.Commit()
}

func (s *PostgresStore) ListDueExpiries(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT trade_id FROM trade_expiry_jobs
		 WHERE done = FALSE AND run_at <= $1
		 ORDER BY run_at LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due expiries: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expiry: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) MarkExpiryDone(ctx context.Context, tradeID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE trade_expiry_jobs SET done = TRUE WHERE trade_id = $1`, tradeID)
	if err != nil {
		return fmt.Errorf("mark expiry done: %w", err)
	}
	return nil
}

func (s *PostgresStore) RescheduleExpiry(ctx context.Context, tradeID string, runAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE trade_expiry_jobs SET run_at = $1, attempts = attempts + 1 WHERE trade_id = $2`,
		runAt, tradeID)
	if err != nil {
		return fmt.Errorf("reschedule expiry: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(s scanner) (*Trade, error) {
	var t Trade
	if err := s.Scan(
		&t.ID, &t.InitiatorID, &t.ReceiverID, &t.Status,
		&t.ExpiresAt, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanTrades(rows *sql.Rows) ([]*Trade, error) {
	var trades []*Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
