// Package store provides the Postgres- and Redis-backed implementations of
// the generic store contract for the Admin entity. The in-memory default
// lives in internal/store; these twins are selected by configuration.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ever/internal/admin/models"
	genstore "ever/internal/store"
	"ever/pkg/platform/sentinel"
)

// Schema is the DDL the Postgres store expects. The partial unique index
// enforces email uniqueness among non-deleted records only, so a
// soft-deleted admin's address can be reused.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS admins (
    id          TEXT PRIMARY KEY,
    email       TEXT NOT NULL,
    email_norm  TEXT NOT NULL,
    first_name  TEXT NOT NULL DEFAULT '',
    last_name   TEXT NOT NULL DEFAULT '',
    picture_url TEXT NOT NULL DEFAULT '',
    hash        TEXT NOT NULL DEFAULT '',
    role        TEXT NOT NULL DEFAULT 'admin',
    is_deleted  BOOLEAN NOT NULL DEFAULT FALSE,
    created_at  TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS admins_email_norm_live
    ON admins (email_norm) WHERE NOT is_deleted`,
}

// Postgres implements the admin store over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must not close it. Watch
// fan-out is in-process: all mutations through this store notify local
// subscribers. Deployments with multiple writers need all mutations routed
// through one instance per watched view.
type Postgres struct {
	pool           *pgxpool.Pool
	watch          *genstore.Hub[models.Admin]
	normalizeEmail func(string) string
}

// PostgresOption configures the store.
type PostgresOption func(*Postgres)

// WithPostgresEmailNormalizer sets the normalization applied to the unique
// email key; defaults to identity.
func WithPostgresEmailNormalizer(fn func(string) string) PostgresOption {
	return func(p *Postgres) {
		if fn != nil {
			p.normalizeEmail = fn
		}
	}
}

// NewPostgres constructs a Postgres-backed admin store.
func NewPostgres(pool *pgxpool.Pool, opts ...PostgresOption) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("admin store: nil pool")
	}
	p := &Postgres{
		pool:           pool,
		watch:          genstore.NewHub[models.Admin](),
		normalizeEmail: func(e string) string { return e },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Migrate applies the schema. Statements run one at a time; pgx's extended
// protocol rejects multi-statement strings.
func (p *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range Schema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate admins: %w", err)
		}
	}
	return nil
}

const adminColumns = `id, email, first_name, last_name, picture_url, hash, role, is_deleted, created_at, updated_at`

func scanAdmin(row pgx.Row) (models.Admin, error) {
	var a models.Admin
	err := row.Scan(&a.ID, &a.Email, &a.FirstName, &a.LastName, &a.PictureURL,
		&a.Hash, &a.Role, &a.IsDeleted, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (p *Postgres) Get(ctx context.Context, id string) (models.Admin, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+adminColumns+` FROM admins WHERE id = $1`, id)
	a, err := scanAdmin(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Admin{}, sentinel.ErrNotFound
		}
		return models.Admin{}, fmt.Errorf("get admin: %w", err)
	}
	return a, nil
}

func (p *Postgres) Watch(ctx context.Context, id string) (<-chan genstore.Event[models.Admin], genstore.CancelFunc, error) {
	a, err := p.Get(ctx, id)
	exists := true
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil, err
		}
		exists = false
	}

	ch, cancel := p.watch.Subscribe(id, genstore.Event[models.Admin]{Record: a, Exists: exists})
	stop := context.AfterFunc(ctx, cancel)
	return ch, func() {
		stop()
		cancel()
	}, nil
}

func (p *Postgres) Find(ctx context.Context, pred genstore.Predicate[models.Admin]) ([]models.Admin, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+adminColumns+` FROM admins`)
	if err != nil {
		return nil, fmt.Errorf("find admins: %w", err)
	}
	defer rows.Close()

	var out []models.Admin
	for rows.Next() {
		a, err := scanAdmin(rows)
		if err != nil {
			return nil, fmt.Errorf("scan admin: %w", err)
		}
		if pred == nil || pred(a) {
			out = append(out, a)
		}
	}
	return out, rows.Err()
}

func (p *Postgres) Count(ctx context.Context, pred genstore.Predicate[models.Admin]) (int, error) {
	matches, err := p.Find(ctx, pred)
	if err != nil {
		return 0, err
	}
	return len(matches), nil
}

func (p *Postgres) Create(ctx context.Context, record models.Admin) (models.Admin, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	_, err := p.pool.Exec(ctx,
		`INSERT INTO admins (`+adminColumns+`, email_norm)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		record.ID, record.Email, record.FirstName, record.LastName, record.PictureURL,
		record.Hash, record.Role, record.IsDeleted, record.CreatedAt, record.UpdatedAt,
		p.normalizeEmail(record.Email),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Admin{}, sentinel.ErrConflict
		}
		return models.Admin{}, fmt.Errorf("create admin: %w", err)
	}

	p.watch.Publish(record.ID, genstore.Event[models.Admin]{Record: record, Exists: true})
	return record, nil
}

func (p *Postgres) Update(ctx context.Context, id string, patch genstore.Patch[models.Admin]) (models.Admin, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Admin{}, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+adminColumns+` FROM admins WHERE id = $1 FOR UPDATE`, id)
	current, err := scanAdmin(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Admin{}, sentinel.ErrNotFound
		}
		return models.Admin{}, fmt.Errorf("lock admin: %w", err)
	}

	next := patch(current).WithEntityID(id)
	_, err = tx.Exec(ctx,
		`UPDATE admins SET email = $2, email_norm = $3, first_name = $4, last_name = $5,
		        picture_url = $6, hash = $7, role = $8, is_deleted = $9, updated_at = $10
		 WHERE id = $1`,
		id, next.Email, p.normalizeEmail(next.Email), next.FirstName, next.LastName,
		next.PictureURL, next.Hash, next.Role, next.IsDeleted, next.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Admin{}, sentinel.ErrConflict
		}
		return models.Admin{}, fmt.Errorf("update admin: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Admin{}, fmt.Errorf("commit update: %w", err)
	}

	p.watch.Publish(id, genstore.Event[models.Admin]{Record: next, Exists: true})
	return next, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
