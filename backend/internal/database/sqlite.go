package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/user/papertrade/backend/internal/apperrors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStore is the ledger store backed by a single SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
	log  zerolog.Logger
}

// OpenSQLite opens (creating if needed) the database file at path.
func OpenSQLite(ctx context.Context, path string, log zerolog.Logger) (*SQLiteStore, error) {
	if !strings.HasPrefix(path, "file:") {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path to absolute: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		path = absPath
	}

	db, err := sql.Open("sqlite", buildConnectionString(path))
	if err != nil {
		return nil, apperrors.Storage(err, "open sqlite database")
	}
	configureConnectionPool(db)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, apperrors.Storage(err, "ping sqlite database")
	}

	log.Info().Str("driver", "sqlite").Str("path", path).Msg("Opened the database")
	return &SQLiteStore{db: db, path: path, log: log.With().Str("store", "sqlite").Logger()}, nil
}

// buildConnectionString enables WAL with full fsync, as befits an audit
// trail, and starts every transaction with BEGIN IMMEDIATE so writers take
// the database write lock before their first read.
func buildConnectionString(path string) string {
	connStr := path + "?_pragma=journal_mode(WAL)"
	connStr += "&_pragma=synchronous(FULL)"
	connStr += "&_pragma=foreign_keys(1)"
	connStr += "&_pragma=busy_timeout(10000)"
	connStr += "&_txlock=immediate"
	return connStr
}

func configureConnectionPool(db *sql.DB) {
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(30 * time.Minute)
}

// Migrate applies the embedded SQLite schema in one transaction.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema, err := loadSchema(dialectSQLite)
	if err != nil {
		return err
	}
	return s.withTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, schema); err != nil {
			return apperrors.Storage(err, "apply sqlite schema")
		}
		return nil
	})
}

// Ping checks the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return apperrors.Storage(s.db.PingContext(ctx), "ping sqlite database")
}

// Close closes the database.
func (s *SQLiteStore) Close() {
	if err := s.db.Close(); err != nil {
		s.log.Warn().Err(err).Msg("Closing database")
	}
}

// withTransaction runs fn inside a transaction: rollback on error or panic,
// commit otherwise.
func (s *SQLiteStore) withTransaction(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return sqliteErr(err, "begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = apperrors.Storage(fmt.Errorf("panic in transaction: %v", p), "transaction aborted")
		} else if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				s.log.Error().Err(rollbackErr).Msg("Rollback failed")
			}
		} else if commitErr := tx.Commit(); commitErr != nil {
			err = sqliteErr(commitErr, "commit transaction")
		}
	}()

	return fn(tx)
}

// sqliteErr classifies a driver error.
func sqliteErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.ErrNotFound
	}
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return apperrors.ErrDuplicateUsername
	}
	return apperrors.Storage(err, msg)
}

var _ Store = (*SQLiteStore)(nil)
