package session

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Laudkyle/aptbooks/pkg/database"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the schema the Postgres persister needs.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Migrate creates the client_snapshots table if needed.
func Migrate(ctx context.Context, db database.MigrationDB, logger *slog.Logger) error {
	return database.RunMigrations(ctx, db, Migrations(), logger)
}

// DBTX is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock pools.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	loadSnapshotSQL = `SELECT payload FROM client_snapshots WHERE key = $1`
	saveSnapshotSQL = `INSERT INTO client_snapshots (key, payload, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`
	deleteSnapshotSQL = `DELETE FROM client_snapshots WHERE key = $1`
)

// PostgresPersister keeps snapshots in the client_snapshots table, one row
// per key.
type PostgresPersister struct {
	db DBTX
}

// NewPostgresPersister wraps db. Run Migrate first.
func NewPostgresPersister(db DBTX) *PostgresPersister {
	return &PostgresPersister{db: db}
}

func (p *PostgresPersister) Load(ctx context.Context, key string) (data []byte, err error) {
	ctx, end := database.TraceQuery(ctx, "LoadSnapshot", loadSnapshotSQL)
	defer func() { end(err) }()

	err = p.db.QueryRow(ctx, loadSnapshotSQL, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", key, err)
	}
	return data, nil
}

func (p *PostgresPersister) Save(ctx context.Context, key string, data []byte) (err error) {
	ctx, end := database.TraceQuery(ctx, "SaveSnapshot", saveSnapshotSQL)
	defer func() { end(err) }()

	if _, err = p.db.Exec(ctx, saveSnapshotSQL, key, data); err != nil {
		return fmt.Errorf("save snapshot %s: %w", key, err)
	}
	return nil
}

func (p *PostgresPersister) Delete(ctx context.Context, key string) (err error) {
	ctx, end := database.TraceQuery(ctx, "DeleteSnapshot", deleteSnapshotSQL)
	defer func() { end(err) }()

	if _, err = p.db.Exec(ctx, deleteSnapshotSQL, key); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", key, err)
	}
	return nil
}
