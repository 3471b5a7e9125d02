package binding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS identity_bindings (
	identity      TEXT PRIMARY KEY,
	connection_id TEXT NOT NULL,
	bound_at      TIMESTAMPTZ NOT NULL DEFAULT now()
)`

	upsertSQL = `INSERT INTO identity_bindings (identity, connection_id, bound_at)
VALUES ($1, $2, now())
ON CONFLICT (identity) DO UPDATE
SET connection_id = EXCLUDED.connection_id, bound_at = EXCLUDED.bound_at`

	resolveSQL = `SELECT connection_id FROM identity_bindings WHERE identity = $1`

	deleteSQL = `DELETE FROM identity_bindings WHERE identity = $1`
)

// pgExecutor is the subset of pgxpool.Pool used by PostgresStore.
type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps bindings in the identity_bindings table.
type PostgresStore struct {
	db     pgExecutor
	logger *slog.Logger
}

// OpenPostgres creates a connection pool for dsn and verifies it with a ping.
func OpenPostgres(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// NewPostgresStore creates a PostgresStore on db.
func NewPostgresStore(db pgExecutor, logger *slog.Logger) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("postgres pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger.With("component", "postgres_binding_store")}, nil
}

// EnsureSchema creates the bindings table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create identity_bindings: %w", err)
	}
	return nil
}

// Bind upserts the binding for identity.
func (s *PostgresStore) Bind(ctx context.Context, identity, connID string) error {
	if err := ValidateIdentity(identity); err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, upsertSQL, identity, connID); err != nil {
		s.logger.Error("binding: postgres upsert failed", "identity", identity, "err", err)
		return unavailable("upsert", err)
	}
	return nil
}

// Resolve returns the connection id bound to identity.
func (s *PostgresStore) Resolve(ctx context.Context, identity string) (string, error) {
	var connID string
	err := s.db.QueryRow(ctx, resolveSQL, identity).Scan(&connID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		s.logger.Error("binding: postgres select failed", "identity", identity, "err", err)
		return "", unavailable("select", err)
	}
	return connID, nil
}

// Unbind deletes the binding for identity.
func (s *PostgresStore) Unbind(ctx context.Context, identity string) error {
	if _, err := s.db.Exec(ctx, deleteSQL, identity); err != nil {
		s.logger.Error("binding: postgres delete failed", "identity", identity, "err", err)
		return unavailable("delete", err)
	}
	return nil
}
