// Package store is the device's source of truth: an embedded SQLite database
// holding local copies of categories, items, inventory, bills and settings,
// plus the durable outbox of pending mutations. Every entity mutation and its
// outbox entry commit in one transaction, so a committed local change can
// never be silently orphaned from sync.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// StorageError is the typed failure surfaced by all store operations.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("row not found")

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// Store wraps the SQLite database. All writes are serialized through writeMu
// (single-writer discipline); WAL mode lets readers proceed concurrently.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// InvoicePrefix is used when an invoice sequence row is first created.
	InvoicePrefix string

	writeMu sync.Mutex
}

// Open opens (or creates) the database file. Call Initialize before use.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, storageErr("open", err)
	}
	return &Store{db: db, logger: logger, InvoicePrefix: "INV"}, nil
}

// Initialize enables WAL and foreign keys, creates all tables if absent and
// then runs additive migrations. Safe to call repeatedly.
func (s *Store) Initialize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		return storageErr("init", fmt.Errorf("failed to enable WAL mode: %w", err))
	}
	if _, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys=ON`); err != nil {
		return storageErr("init", fmt.Errorf("failed to enable foreign keys: %w", err))
	}

	for _, ddl := range createTables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return storageErr("init", fmt.Errorf("failed to create table: %w", err))
		}
	}

	if err := s.migrate(ctx); err != nil {
		return err
	}
	return nil
}

// Reset drops and recreates every table. Diagnostic path only; never called
// from the sync flow.
func (s *Store) Reset(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for _, name := range tableNames {
		if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+name); err != nil {
			return storageErr("reset", fmt.Errorf("failed to drop %s: %w", name, err))
		}
	}
	s.logger.Warn("store reset: all tables dropped")
	return s.Initialize(ctx)
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Exec runs a single write statement outside the repository layer. Failures
// surface as *StorageError.
func (s *Store) Exec(ctx context.Context, query string, args ...any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, query, args...)
	return storageErr("exec", err)
}

// withTx serializes a write transaction behind the single-writer mutex.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(op, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		var se *StorageError
		if errors.As(err, &se) || errors.Is(err, ErrNotFound) {
			return err
		}
		return storageErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr(op, fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// Timestamps are persisted as RFC3339Nano UTC text.

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(op, col, s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, storageErr(op, fmt.Errorf("malformed %s value %q: %w", col, s, err))
	}
	return t, nil
}

func parseTimePtr(op, col string, ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(op, col, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Decimal columns are persisted as text; a malformed stored value is a loud
// typed error, never a silent zero.
func parseDec(op, col, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, storageErr(op, fmt.Errorf("malformed %s value %q: %w", col, s, err))
	}
	return d, nil
}
