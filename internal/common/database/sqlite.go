package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/missioncontrol/core/internal/common/config"
)

// SqliteDB wraps an sqlx.DB over mattn/go-sqlite3 and provides the same
// transaction shape as PostgresDB so store/sqlite can share call sites with
// store/postgres.
type SqliteDB struct {
	db *sqlx.DB
}

// NewSqliteDB opens the sqlite file named by cfg.Path (or cfg.URL's
// sqlite:// path when set), enabling foreign keys and WAL journalling.
func NewSqliteDB(ctx context.Context, cfg config.DatabaseConfig) (*SqliteDB, error) {
	path := cfg.Path
	if strings.HasPrefix(cfg.URL, "sqlite://") {
		path = strings.TrimPrefix(cfg.URL, "sqlite://")
	}
	if path == "" {
		path = ":memory:"
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL", path)
	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1) // go-sqlite3 serializes writers; avoid SQLITE_BUSY churn

	return &SqliteDB{db: db}, nil
}

// DB returns the underlying sqlx.DB.
func (d *SqliteDB) DB() *sqlx.DB {
	return d.db
}

// Close closes the database handle.
func (d *SqliteDB) Close() error {
	return d.db.Close()
}

// Ping verifies the database connection is still alive.
func (d *SqliteDB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// WithTx runs fn within a transaction: rollback on panic or returned error,
// commit on success.
func (d *SqliteDB) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("tx failed: %w, rollback failed: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
