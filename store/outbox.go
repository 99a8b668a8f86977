package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/trenztechno/possync/domain"
)

// MaxOutboxRetries bounds transient retries before an entry is dead-lettered.
const MaxOutboxRetries = 10

// enqueueTx appends an outbox entry inside the caller's transaction. Every
// repository mutation calls this so the entity write and the queue append
// commit or roll back together.
func enqueueTx(tx *sql.Tx, op domain.Op, entityType domain.EntityType, entityID string, payload any) error {
	var raw []byte
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal outbox payload: %w", err)
		}
	}
	_, err := tx.Exec(`
		INSERT INTO sync_outbox (op, entity_type, entity_id, payload, queued_at)
		VALUES (?, ?, ?, ?, ?)
	`, string(op), string(entityType), entityID, raw, fmtTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox entry: %w", err)
	}
	return nil
}

// Enqueue appends a standalone outbox entry. Repository mutations enqueue
// within their own transactions; this path exists for callers that manage
// the entity row themselves.
func (s *Store) Enqueue(ctx context.Context, op domain.Op, entityType domain.EntityType, entityID string, payload any) error {
	return s.withTx(ctx, "outbox.enqueue", func(tx *sql.Tx) error {
		return enqueueTx(tx, op, entityType, entityID, payload)
	})
}

// Drain returns the oldest unsynced, non-dead entries up to batchSize,
// oldest first, preserving per-entity causal order (a create always precedes
// its updates in the queue).
func (s *Store) Drain(ctx context.Context, batchSize int) ([]domain.OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, op, entity_type, entity_id, payload, queued_at, retry_count, last_error, dead, is_synced, synced_at
		FROM sync_outbox
		WHERE is_synced = 0 AND dead = 0
		ORDER BY id
		LIMIT ?
	`, batchSize)
	if err != nil {
		return nil, storageErr("outbox.drain", err)
	}
	defer rows.Close()
	return scanOutboxEntries(rows)
}

// DeadLetters returns entries that exhausted retries or were rejected
// permanently by the server.
func (s *Store) DeadLetters(ctx context.Context) ([]domain.OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, op, entity_type, entity_id, payload, queued_at, retry_count, last_error, dead, is_synced, synced_at
		FROM sync_outbox
		WHERE dead = 1
		ORDER BY id
	`)
	if err != nil {
		return nil, storageErr("outbox.dead", err)
	}
	defer rows.Close()
	return scanOutboxEntries(rows)
}

func scanOutboxEntries(rows *sql.Rows) ([]domain.OutboxEntry, error) {
	var entries []domain.OutboxEntry
	for rows.Next() {
		var e domain.OutboxEntry
		var op, entityType, queuedAt string
		var payload []byte
		var dead, synced int
		var syncedAt sql.NullString
		if err := rows.Scan(&e.ID, &op, &entityType, &e.EntityID, &payload, &queuedAt,
			&e.RetryCount, &e.LastError, &dead, &synced, &syncedAt); err != nil {
			return nil, storageErr("outbox.scan", err)
		}
		e.Op = domain.Op(op)
		e.EntityType = domain.EntityType(entityType)
		e.Payload = payload
		e.Dead = dead != 0
		e.Synced = synced != 0
		var err error
		if e.QueuedAt, err = parseTime("outbox.scan", "queued_at", queuedAt); err != nil {
			return nil, err
		}
		if e.SyncedAt, err = parseTimePtr("outbox.scan", "synced_at", syncedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, storageErr("outbox.scan", rows.Err())
}

// MarkSynced records a server acknowledgment for the entry.
func (s *Store) MarkSynced(ctx context.Context, entryID int64) error {
	return s.withTx(ctx, "outbox.markSynced", func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE sync_outbox SET is_synced = 1, synced_at = ?, last_error = '' WHERE id = ?
		`, fmtTime(time.Now()), entryID)
		if err != nil {
			return err
		}
		return requireRow(res, entryID)
	})
}

// MarkFailed records a transient failure. Entries past MaxOutboxRetries are
// dead-lettered instead of retrying forever.
func (s *Store) MarkFailed(ctx context.Context, entryID int64, cause error) error {
	return s.withTx(ctx, "outbox.markFailed", func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE sync_outbox
			SET retry_count = retry_count + 1,
			    last_error = ?,
			    dead = CASE WHEN retry_count + 1 >= ? THEN 1 ELSE dead END
			WHERE id = ?
		`, cause.Error(), MaxOutboxRetries, entryID)
		if err != nil {
			return err
		}
		return requireRow(res, entryID)
	})
}

// MarkDead dead-letters the entry immediately, for definitive server
// rejections that retrying cannot fix.
func (s *Store) MarkDead(ctx context.Context, entryID int64, cause error) error {
	return s.withTx(ctx, "outbox.markDead", func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE sync_outbox SET dead = 1, last_error = ? WHERE id = ?
		`, cause.Error(), entryID)
		if err != nil {
			return err
		}
		return requireRow(res, entryID)
	})
}

func requireRow(res sql.Result, entryID int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("outbox entry %d: %w", entryID, ErrNotFound)
	}
	return nil
}

// PendingCount is the number of entries still awaiting delivery, surfaced to
// the UI as the pending-sync badge.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sync_outbox WHERE is_synced = 0 AND dead = 0
	`).Scan(&n)
	return n, storageErr("outbox.pendingCount", err)
}

// HasPendingDelete reports whether a delete for the entity is still queued.
// The conflict resolver uses this to let a local pending delete win over an
// incoming remote update until the delete is acknowledged.
func (s *Store) HasPendingDelete(ctx context.Context, entityType domain.EntityType, entityID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM sync_outbox
			WHERE entity_type = ? AND entity_id = ? AND op = 'delete' AND is_synced = 0 AND dead = 0
		)
	`, string(entityType), entityID).Scan(&exists)
	return exists, storageErr("outbox.hasPendingDelete", err)
}

// AddReconciliationItem flags an anomaly for manual resolution.
func (s *Store) AddReconciliationItem(ctx context.Context, entityType domain.EntityType, entityID, code, detail string) error {
	return s.withTx(ctx, "reconcile.add", func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO reconciliation_items (entity_type, entity_id, code, detail, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, string(entityType), entityID, code, detail, fmtTime(time.Now()))
		return err
	})
}

// ReconciliationItems lists flagged anomalies, oldest first.
func (s *Store) ReconciliationItems(ctx context.Context) ([]domain.ReconciliationItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, code, detail, created_at
		FROM reconciliation_items ORDER BY id
	`)
	if err != nil {
		return nil, storageErr("reconcile.list", err)
	}
	defer rows.Close()

	var items []domain.ReconciliationItem
	for rows.Next() {
		var it domain.ReconciliationItem
		var entityType, createdAt string
		if err := rows.Scan(&it.ID, &entityType, &it.EntityID, &it.Code, &it.Detail, &createdAt); err != nil {
			return nil, storageErr("reconcile.scan", err)
		}
		it.EntityType = domain.EntityType(entityType)
		if it.CreatedAt, err = parseTime("reconcile.scan", "created_at", createdAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, storageErr("reconcile.scan", rows.Err())
}
