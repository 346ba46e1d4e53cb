package postgresql

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	deleteIdentifiersQuery = `DELETE FROM tx_hashes`
	insertIdentifierQuery  = `INSERT INTO tx_hashes (position, tx_hash) VALUES ($1, $2)`
)

// PostgresOutputHandler mirrors the identifier list into the tx_hashes table.
type PostgresOutputHandler struct {
	db *sql.DB
}

// NewPostgresOutputHandler connects to dsn and brings the schema up to date.
func NewPostgresOutputHandler(ctx context.Context, dsn string) (*PostgresOutputHandler, error) {
	if err := runMigrations(dsn); err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewPostgresOutputHandlerWithDB(db), nil
}

// NewPostgresOutputHandlerWithDB wraps an existing connection pool. The schema is assumed to exist.
func NewPostgresOutputHandlerWithDB(db *sql.DB) *PostgresOutputHandler {
	return &PostgresOutputHandler{db: db}
}

func (h *PostgresOutputHandler) Name() string { return "postgres" }

// WriteIdentifiers replaces the stored list in a single transaction.
func (h *PostgresOutputHandler) WriteIdentifiers(ctx context.Context, identifiers []string) (err error) {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Error("Failed to roll back identifier write", "error", rbErr)
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, deleteIdentifiersQuery); err != nil {
		return fmt.Errorf("failed to clear previous identifiers: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, insertIdentifierQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, id := range identifiers {
		if _, err = stmt.ExecContext(ctx, i, id); err != nil {
			return fmt.Errorf("failed to insert identifier %d: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit identifiers: %w", err)
	}
	return nil
}

func (h *PostgresOutputHandler) Close() error {
	return h.db.Close()
}

func runMigrations(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, migrationURL(dsn))
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			slog.Warn("Failed to close migration handles", "sourceError", srcErr, "databaseError", dbErr)
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// migrationURL rewrites a postgres:// DSN to the scheme registered by migrate's pgx/v5 driver.
func migrationURL(dsn string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, scheme) {
			return "pgx5://" + strings.TrimPrefix(dsn, scheme)
		}
	}
	return dsn
}
