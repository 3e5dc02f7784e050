package resource

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresLedger persists resources in PostgreSQL.
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger creates a new PostgreSQL-backed resource ledger.
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

const resourceColumns = `id, owner_id, name, status, created_at, updated_at`

func (p *PostgresLedger) Create(ctx context.Context, r *Resource) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO resources (id, owner_id, name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.OwnerID, r.Name, string(r.Status), r.CreatedAt, r.UpdatedAt,
	)
	return err
}

func (p *PostgresLedger) Get(ctx context.Context, id string) (*Resource, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+resourceColumns+` FROM resources WHERE id = $1`, id)

	r, err := scanResource(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return r, err
}

func (p *PostgresLedger) GetBatch(ctx context.Context, ids []string) ([]*Resource, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+resourceColumns+` FROM resources WHERE id = ANY($1)`,
		pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanResources(rows)
}

func (p *PostgresLedger) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Resource, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+resourceColumns+` FROM resources
		WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2`,
		ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanResources(rows)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanResource(sc scanner) (*Resource, error) {
	r := &Resource{}
	var status string
	err := sc.Scan(&r.ID, &r.OwnerID, &r.Name, &status, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	return r, nil
}

func scanResources(rows *sql.Rows) ([]*Resource, error) {
	var result []*Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// Compile-time assertion that PostgresLedger implements Ledger.
var _ Ledger = (*PostgresLedger)(nil)
