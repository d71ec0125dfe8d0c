package files

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/StricklySoft/stricklysoft-fstorage/pkg/models"
)

// Catalog records which caller owns which object key.
type Catalog interface {
	// Record stores all files or none of them.
	Record(ctx context.Context, files []*models.StoredFile) error

	// Owned returns the subset of keys owned by owner, in input order.
	Owned(ctx context.Context, owner string, keys []string) ([]string, error)

	// Delete removes owner's rows for keys and reports how many went away.
	Delete(ctx context.Context, owner string, keys []string) (int64, error)
}

// NopCatalog keeps no records. Every key counts as owned by the caller,
// which matches a deployment with no database.
type NopCatalog struct{}

var _ Catalog = NopCatalog{}

func (NopCatalog) Record(context.Context, []*models.StoredFile) error { return nil }

func (NopCatalog) Owned(_ context.Context, _ string, keys []string) ([]string, error) {
	return keys, nil
}

func (NopCatalog) Delete(context.Context, string, []string) (int64, error) { return 0, nil }

// DB is the part of *postgres.Client the catalog uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS stored_files (
	id           UUID PRIMARY KEY,
	key          TEXT NOT NULL UNIQUE,
	name         TEXT NOT NULL,
	url          TEXT NOT NULL,
	domain       TEXT NOT NULL,
	owner_id     TEXT NOT NULL,
	size         BIGINT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL
)`
	createOwnerIndexSQL = `CREATE INDEX IF NOT EXISTS stored_files_owner_idx ON stored_files (owner_id)`

	insertFileSQL = `INSERT INTO stored_files
	(id, key, name, url, domain, owner_id, size, content_type, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	selectOwnedSQL = `SELECT key FROM stored_files WHERE owner_id = $1 AND key = ANY($2)`
	deleteOwnedSQL = `DELETE FROM stored_files WHERE owner_id = $1 AND key = ANY($2)`
)

// PostgresCatalog keeps records in the stored_files table.
type PostgresCatalog struct {
	db DB
}

var _ Catalog = (*PostgresCatalog)(nil)

// NewPostgresCatalog wraps db. Call EnsureSchema once at startup.
func NewPostgresCatalog(db DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

// EnsureSchema creates the table and its owner index if missing.
func (c *PostgresCatalog) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{createTableSQL, createOwnerIndexSQL} {
		if _, err := c.db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Record inserts files in a single transaction.
func (c *PostgresCatalog) Record(ctx context.Context, files []*models.StoredFile) (err error) {
	if len(files) == 0 {
		return nil
	}
	tx, err := c.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, f := range files {
		if _, err = tx.Exec(ctx, insertFileSQL,
			f.ID, f.Key, f.Name, f.URL, f.Domain, f.OwnerID, f.Size, f.ContentType, f.CreatedAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// Owned preserves the order of keys and drops those the owner lacks.
func (c *PostgresCatalog) Owned(ctx context.Context, owner string, keys []string) ([]string, error) {
	rows, err := c.db.Query(ctx, selectOwnedSQL, owner, keys)
	if err != nil {
		return nil, err
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{}, len(found))
	for _, k := range found {
		set[k] = struct{}{}
	}
	owned := make([]string, 0, len(found))
	for _, k := range keys {
		if _, ok := set[k]; ok {
			owned = append(owned, k)
		}
	}
	return owned, nil
}

// Delete removes owner's rows for keys.
func (c *PostgresCatalog) Delete(ctx context.Context, owner string, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	tag, err := c.db.Exec(ctx, deleteOwnedSQL, owner, keys)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
