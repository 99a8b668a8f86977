package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/trenztechno/possync/domain"
	"github.com/trenztechno/possync/remote"
)

// UploadOnce drains one batch of outbox entries. A call while another drain
// is in flight returns immediately (coalesced trigger). The cycle stops at
// the first retryable failure so later entries keep their queue order for
// the next attempt.
func (e *Engine) UploadOnce(ctx context.Context) error {
	if !e.uploadMu.TryLock() {
		return nil
	}
	defer e.uploadMu.Unlock()

	entries, err := e.store.Drain(ctx, e.config.UploadBatchSize)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	// Categories go first so that items referencing them never arrive
	// before their parents. Within each group queue order is preserved.
	var categories, items, inventory, billCreates, billOther []domain.OutboxEntry
	for _, entry := range entries {
		switch entry.EntityType {
		case domain.EntityCategory:
			categories = append(categories, entry)
		case domain.EntityItem:
			items = append(items, entry)
		case domain.EntityInventory:
			inventory = append(inventory, entry)
		case domain.EntityBill:
			if entry.Op == domain.OpCreate {
				billCreates = append(billCreates, entry)
			} else {
				billOther = append(billOther, entry)
			}
		default:
			e.logger.Error("unknown entity type in outbox, dead-lettering",
				"entry", entry.ID, "entity_type", entry.EntityType)
			if err := e.store.MarkDead(ctx, entry.ID, fmt.Errorf("unknown entity type %q", entry.EntityType)); err != nil {
				return err
			}
		}
	}

	if err := e.uploadBatchGroup(ctx, categories, e.remote.SyncCategories); err != nil {
		return err
	}
	if err := e.uploadBatchGroup(ctx, items, e.remote.SyncItems); err != nil {
		return err
	}
	if err := e.uploadInventory(ctx, inventory); err != nil {
		return err
	}
	if err := e.uploadBillCreates(ctx, billCreates); err != nil {
		return err
	}
	return e.uploadBillMutations(ctx, billOther)
}

type batchSyncFn func(ctx context.Context, deviceID string, ops []remote.BatchOp) (*remote.BatchSyncResponse, error)

// uploadBatchGroup drains category/item entries through their batch
// operation-array endpoint.
func (e *Engine) uploadBatchGroup(ctx context.Context, entries []domain.OutboxEntry, send batchSyncFn) error {
	if len(entries) == 0 {
		return nil
	}

	ops := make([]remote.BatchOp, len(entries))
	for i, entry := range entries {
		ops[i] = remote.BatchOp{Op: entry.Op, EntityID: entry.EntityID, Payload: entry.Payload}
	}

	resp, err := send(ctx, e.deviceID, ops)
	if err != nil {
		return e.classifyUploadErr(ctx, err, entries)
	}
	if len(resp.Results) != len(entries) {
		return fmt.Errorf("batch result count mismatch: sent %d, got %d", len(entries), len(resp.Results))
	}
	for i, res := range resp.Results {
		if err := e.settleResult(ctx, entries[i], res); err != nil {
			return err
		}
	}
	return nil
}

// uploadInventory replays inventory entries through per-entity CRUD.
func (e *Engine) uploadInventory(ctx context.Context, entries []domain.OutboxEntry) error {
	for _, entry := range entries {
		var err error
		switch entry.Op {
		case domain.OpCreate, domain.OpUpdate:
			var v domain.InventoryItem
			if uerr := json.Unmarshal(entry.Payload, &v); uerr != nil {
				e.logger.Error("malformed inventory payload, dead-lettering", "entry", entry.ID, "error", uerr)
				if derr := e.store.MarkDead(ctx, entry.ID, uerr); derr != nil {
					return derr
				}
				continue
			}
			if entry.Op == domain.OpCreate {
				_, err = e.remote.CreateInventoryItem(ctx, &v)
			} else {
				_, err = e.remote.UpdateInventoryItem(ctx, &v)
			}
		case domain.OpDelete:
			err = e.remote.DeleteInventoryItem(ctx, entry.EntityID)
			if errors.Is(err, remote.ErrNotFound) {
				err = nil // already gone on the server
			}
		}

		if err != nil {
			if cerr := e.classifyUploadErr(ctx, err, []domain.OutboxEntry{entry}); cerr != nil {
				return cerr
			}
			continue
		}
		if err := e.ackEntry(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// uploadBillCreates pushes new bills through the bulk backup endpoint. The
// server dedups on bill id, so a retry after a lost ack comes back skipped
// instead of creating a duplicate record.
func (e *Engine) uploadBillCreates(ctx context.Context, entries []domain.OutboxEntry) error {
	if len(entries) == 0 {
		return nil
	}

	bills := make([]domain.Bill, 0, len(entries))
	valid := make([]domain.OutboxEntry, 0, len(entries))
	for _, entry := range entries {
		var b domain.Bill
		if err := json.Unmarshal(entry.Payload, &b); err != nil {
			e.logger.Error("malformed bill payload, dead-lettering", "entry", entry.ID, "error", err)
			if derr := e.store.MarkDead(ctx, entry.ID, err); derr != nil {
				return derr
			}
			continue
		}
		bills = append(bills, b)
		valid = append(valid, entry)
	}
	if len(bills) == 0 {
		return nil
	}

	resp, err := e.remote.UploadBackup(ctx, e.deviceID, bills)
	if err != nil {
		return e.classifyUploadErr(ctx, err, valid)
	}

	byID := make(map[string]remote.OpResult, len(resp.Results))
	for _, res := range resp.Results {
		byID[res.EntityID] = res
	}
	for _, entry := range valid {
		res, ok := byID[entry.EntityID]
		if !ok {
			return fmt.Errorf("backup response missing result for bill %s", entry.EntityID)
		}
		if err := e.settleResult(ctx, entry, res); err != nil {
			return err
		}
	}
	return nil
}

// uploadBillMutations replays bill updates (finalize, void) via per-entity
// CRUD.
func (e *Engine) uploadBillMutations(ctx context.Context, entries []domain.OutboxEntry) error {
	for _, entry := range entries {
		var err error
		switch entry.Op {
		case domain.OpUpdate:
			var b domain.Bill
			if uerr := json.Unmarshal(entry.Payload, &b); uerr != nil {
				e.logger.Error("malformed bill payload, dead-lettering", "entry", entry.ID, "error", uerr)
				if derr := e.store.MarkDead(ctx, entry.ID, uerr); derr != nil {
					return derr
				}
				continue
			}
			_, err = e.remote.UpdateBill(ctx, &b)
		case domain.OpDelete:
			err = e.remote.DeleteBill(ctx, entry.EntityID)
			if errors.Is(err, remote.ErrNotFound) {
				err = nil
			}
		}

		if err != nil {
			if cerr := e.classifyUploadErr(ctx, err, []domain.OutboxEntry{entry}); cerr != nil {
				return cerr
			}
			continue
		}
		if err := e.ackEntry(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// settleResult applies one per-record batch outcome.
func (e *Engine) settleResult(ctx context.Context, entry domain.OutboxEntry, res remote.OpResult) error {
	switch res.Status {
	case remote.StatusApplied, remote.StatusSkipped:
		return e.ackEntry(ctx, entry)
	case remote.StatusNumberingConflict:
		e.logger.Error("invoice numbering conflict, flagged for manual reconciliation",
			"entity", entry.EntityID, "message", res.Message)
		if err := e.store.AddReconciliationItem(ctx, entry.EntityType, entry.EntityID,
			"numbering_conflict", res.Message); err != nil {
			return err
		}
		return e.store.MarkDead(ctx, entry.ID, fmt.Errorf("numbering conflict: %s", res.Message))
	case remote.StatusRejected:
		e.logger.Warn("server rejected outbox entry, dead-lettering",
			"entry", entry.ID, "entity", entry.EntityID, "message", res.Message)
		return e.store.MarkDead(ctx, entry.ID, fmt.Errorf("rejected: %s", res.Message))
	default:
		e.logger.Warn("unknown batch result status", "entry", entry.ID, "status", res.Status)
		return e.store.MarkFailed(ctx, entry.ID, fmt.Errorf("unknown status %q", res.Status))
	}
}

// ackEntry records a server acknowledgment: the outbox entry is settled and
// the business row's synced flag flips.
func (e *Engine) ackEntry(ctx context.Context, entry domain.OutboxEntry) error {
	if err := e.store.MarkSynced(ctx, entry.ID); err != nil {
		return err
	}
	if entry.Op == domain.OpDelete {
		return nil // tombstone row keeps is_synced for purge eligibility
	}
	return e.store.MarkEntitySynced(ctx, entry.EntityType, entry.EntityID)
}

// classifyUploadErr maps a remote failure onto outbox state. Retryable
// failures leave entries queued untouched and abort the cycle; definitive
// rejections dead-letter; auth expiry halts the engine.
func (e *Engine) classifyUploadErr(ctx context.Context, err error, entries []domain.OutboxEntry) error {
	switch {
	case errors.Is(err, remote.ErrAuthExpired):
		e.haltForAuth()
		return err
	case remote.Retryable(err):
		return err
	default:
		var nc *remote.NumberingConflictError
		if errors.As(err, &nc) {
			for _, entry := range entries {
				if rerr := e.store.AddReconciliationItem(ctx, entry.EntityType, entry.EntityID,
					"numbering_conflict", nc.Error()); rerr != nil {
					return rerr
				}
				if derr := e.store.MarkDead(ctx, entry.ID, err); derr != nil {
					return derr
				}
			}
			return nil
		}
		var ve *remote.ValidationError
		if errors.As(err, &ve) {
			for _, entry := range entries {
				e.logger.Warn("server rejected upload, dead-lettering",
					"entry", entry.ID, "entity", entry.EntityID, "error", err)
				if derr := e.store.MarkDead(ctx, entry.ID, err); derr != nil {
					return derr
				}
			}
			return nil
		}
		// Unknown failure class: count it against the retry budget.
		for _, entry := range entries {
			if ferr := e.store.MarkFailed(ctx, entry.ID, err); ferr != nil {
				return ferr
			}
		}
		return err
	}
}
