// Package store implements the State Store: the
// authoritative Postgres-backed record of pages, snapshots, monitor events
// and extracted info, with the row-level locking primitives the Scheduler
// and Worker rely on for lease correctness.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/talemon/core/config"
)

// Store is the concrete State Store, backed by *sql.DB, covering the full
// Page/PageSnapshot/PageMonitor/PageInfo schema.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres with a bounded retry loop and configures pool
// limits from DatabaseConfig.
func Open(cfg *config.DatabaseConfig) (*Store, error) {
	connStr := fmt.Sprintf("user=%s password=%s host=%s port=%s dbname=%s sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	const maxRetry = 6
	for i := 1; i <= maxRetry; i++ {
		slog.Info("pinging the state store.", slog.String("attempt", fmt.Sprintf("%d/%d", i, maxRetry)))
		if pingErr := db.Ping(); pingErr == nil {
			break
		} else if i == maxRetry {
			return nil, fmt.Errorf("store: failed to connect after %d attempts: %w", maxRetry, pingErr)
		} else {
			time.Sleep(time.Duration(5*i) * time.Second)
		}
	}
	slog.Info("connected to the state store.")

	return &Store{db: db}, nil
}

// New wraps an already-open *sql.DB (used by tests with go-sqlmock).
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() {
	if err := s.db.Close(); err != nil {
		slog.Error("failed to close state store connection.", slog.String("err", err.Error()))
	}
}

// MustOpen is the CLI-friendly variant used by cmd/* main packages: it
// exits the process on a connection failure instead of returning an error.
func MustOpen(cfg *config.DatabaseConfig) *Store {
	st, err := Open(cfg)
	if err != nil {
		slog.Error("failed to establish state store connection.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	return st
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(tx)
	return err
}
