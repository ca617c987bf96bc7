package destination

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const destCols = `id, name, kind, host, port, base_url, strict_profile, timeout_ms, active, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, d *Destination) error {
	d.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO destination (id, name, kind, host, port, base_url, strict_profile, timeout_ms, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		d.ID, d.Name, d.Kind, nullString(d.Host), nullInt(d.Port), nullString(d.BaseURL),
		d.StrictProfile, d.TimeoutMS, d.Active,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	return db.MapError(err)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Destination, error) {
	return scanDest(r.conn(ctx).QueryRow(ctx, `SELECT `+destCols+` FROM destination WHERE id = $1`, id))
}

func (r *repoPG) GetByName(ctx context.Context, name string) (*Destination, error) {
	return scanDest(r.conn(ctx).QueryRow(ctx, `SELECT `+destCols+` FROM destination WHERE name = $1`, name))
}

func (r *repoPG) Update(ctx context.Context, d *Destination) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE destination SET
			name=$2, kind=$3, host=$4, port=$5, base_url=$6,
			strict_profile=$7, timeout_ms=$8, active=$9, updated_at=NOW()
		WHERE id = $1`,
		d.ID, d.Name, d.Kind, nullString(d.Host), nullInt(d.Port), nullString(d.BaseURL),
		d.StrictProfile, d.TimeoutMS, d.Active,
	)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return db.MapError(pgx.ErrNoRows)
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM destination WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.MapError(pgx.ErrNoRows)
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Destination, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM destination`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+destCols+` FROM destination ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Destination
	for rows.Next() {
		d, err := scanDest(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

func scanDest(row pgx.Row) (*Destination, error) {
	var d Destination
	var host, baseURL *string
	var port *int
	err := row.Scan(&d.ID, &d.Name, &d.Kind, &host, &port, &baseURL,
		&d.StrictProfile, &d.TimeoutMS, &d.Active, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, db.MapError(err)
	}
	if host != nil {
		d.Host = *host
	}
	if port != nil {
		d.Port = *port
	}
	if baseURL != nil {
		d.BaseURL = *baseURL
	}
	return &d, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullInt(i int) *int {
	if i == 0 {
		return nil
	}
	return &i
}
