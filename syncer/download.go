package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/trenztechno/possync/domain"
	"github.com/trenztechno/possync/remote"
	"github.com/trenztechno/possync/store"
)

// DownloadOnce pulls server changes since the last checkpoint and merges
// them through the conflict resolver. The checkpoint advances only after a
// whole page has been applied, so a crash mid-merge re-requests the same
// page; applying a page twice is safe because every apply is an idempotent
// timestamp-guarded upsert.
func (e *Engine) DownloadOnce(ctx context.Context) (applied int, err error) {
	if !e.downloadMu.TryLock() {
		return 0, nil
	}
	defer e.downloadMu.Unlock()

	checkpoint, err := e.store.Checkpoint(ctx)
	if err != nil {
		return 0, err
	}

	cursor := ""
	for {
		page, err := e.remote.DownloadBackup(ctx, checkpoint, cursor, e.config.DownloadLimit)
		if err != nil {
			if errors.Is(err, remote.ErrAuthExpired) {
				e.haltForAuth()
			}
			return applied, err
		}

		for i := range page.Changes {
			ok, err := e.applyChange(ctx, &page.Changes[i])
			if err != nil {
				return applied, err
			}
			if ok {
				applied++
			}
		}

		// Page fully applied; safe to move the watermark.
		if !page.ServerTime.IsZero() {
			if err := e.store.SetCheckpoint(ctx, page.ServerTime); err != nil {
				return applied, err
			}
		}

		if !page.HasMore {
			break
		}
		cursor = page.Cursor
	}

	e.refreshProfile(ctx)
	e.maybePurgeTombstones(ctx)
	return applied, nil
}

// refreshProfile opportunistically updates the cached vendor profile used
// for offline bill headers. Never the source of truth and never fatal to
// the merge; a failed refresh just keeps the previous cache.
func (e *Engine) refreshProfile(ctx context.Context) {
	p, err := e.remote.GetProfile(ctx)
	if err != nil {
		e.logger.Warn("vendor profile refresh failed", "error", err)
		return
	}
	if err := e.store.SaveProfile(ctx, p); err != nil {
		e.logger.Warn("failed to cache vendor profile", "error", err)
	}
}

// applyChange merges one server record; returns true when the remote
// version was applied.
func (e *Engine) applyChange(ctx context.Context, ch *remote.ChangeRecord) (bool, error) {
	switch ch.EntityType {
	case domain.EntityCategory:
		return e.mergeCategory(ctx, ch)
	case domain.EntityItem:
		return e.mergeItem(ctx, ch)
	case domain.EntityInventory:
		return e.mergeInventory(ctx, ch)
	case domain.EntityBill:
		return e.mergeBill(ctx, ch)
	default:
		e.logger.Warn("skipping change for unknown entity type", "entity_type", ch.EntityType, "id", ch.EntityID)
		return false, nil
	}
}

// localStateFor assembles resolver inputs from a local lookup.
func (e *Engine) localStateFor(ctx context.Context, ch *remote.ChangeRecord,
	updatedAt time.Time, deleted, exists bool) (LocalState, error) {

	ls := LocalState{Exists: exists, UpdatedAt: updatedAt, Deleted: deleted}
	if !exists {
		return ls, nil
	}
	pending, err := e.store.HasPendingDelete(ctx, ch.EntityType, ch.EntityID)
	if err != nil {
		return ls, err
	}
	ls.PendingDelete = pending
	return ls, nil
}

func (e *Engine) mergeCategory(ctx context.Context, ch *remote.ChangeRecord) (bool, error) {
	var incoming domain.Category
	if err := json.Unmarshal(ch.Payload, &incoming); err != nil {
		return false, fmt.Errorf("malformed category payload for %s: %w", ch.EntityID, err)
	}
	incoming.ID = ch.EntityID
	stampTombstone(&incoming.DeletedAt, ch)
	incoming.UpdatedAt = ch.UpdatedAt

	local, err := e.store.GetCategory(ctx, ch.EntityID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	ls := LocalState{}
	if local != nil {
		if ls, err = e.localStateFor(ctx, ch, local.UpdatedAt, local.DeletedAt != nil, true); err != nil {
			return false, err
		}
		if incoming.CreatedAt.IsZero() {
			incoming.CreatedAt = local.CreatedAt
		}
	}
	if incoming.CreatedAt.IsZero() {
		incoming.CreatedAt = ch.UpdatedAt
	}

	switch e.resolver.Resolve(ls, Incoming{UpdatedAt: ch.UpdatedAt, Deleted: ch.Deleted}) {
	case ApplyRemote:
		return true, e.store.ApplyRemoteCategory(ctx, &incoming)
	default:
		return false, nil
	}
}

func (e *Engine) mergeItem(ctx context.Context, ch *remote.ChangeRecord) (bool, error) {
	var incoming domain.Item
	if err := json.Unmarshal(ch.Payload, &incoming); err != nil {
		return false, fmt.Errorf("malformed item payload for %s: %w", ch.EntityID, err)
	}
	incoming.ID = ch.EntityID
	stampTombstone(&incoming.DeletedAt, ch)
	incoming.UpdatedAt = ch.UpdatedAt

	local, err := e.store.GetItem(ctx, ch.EntityID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	ls := LocalState{}
	if local != nil {
		if ls, err = e.localStateFor(ctx, ch, local.UpdatedAt, local.DeletedAt != nil, true); err != nil {
			return false, err
		}
		if incoming.CreatedAt.IsZero() {
			incoming.CreatedAt = local.CreatedAt
		}
		// The local image cache path never comes from the server.
		incoming.ImagePath = local.ImagePath
	}
	if incoming.CreatedAt.IsZero() {
		incoming.CreatedAt = ch.UpdatedAt
	}

	switch e.resolver.Resolve(ls, Incoming{UpdatedAt: ch.UpdatedAt, Deleted: ch.Deleted}) {
	case ApplyRemote:
		return true, e.store.ApplyRemoteItem(ctx, &incoming)
	default:
		return false, nil
	}
}

func (e *Engine) mergeInventory(ctx context.Context, ch *remote.ChangeRecord) (bool, error) {
	var incoming domain.InventoryItem
	if err := json.Unmarshal(ch.Payload, &incoming); err != nil {
		return false, fmt.Errorf("malformed inventory payload for %s: %w", ch.EntityID, err)
	}
	incoming.ID = ch.EntityID
	stampTombstone(&incoming.DeletedAt, ch)
	incoming.UpdatedAt = ch.UpdatedAt

	local, err := e.store.GetInventoryItem(ctx, ch.EntityID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	ls := LocalState{}
	if local != nil {
		if ls, err = e.localStateFor(ctx, ch, local.UpdatedAt, local.DeletedAt != nil, true); err != nil {
			return false, err
		}
		if incoming.CreatedAt.IsZero() {
			incoming.CreatedAt = local.CreatedAt
		}
	}
	if incoming.CreatedAt.IsZero() {
		incoming.CreatedAt = ch.UpdatedAt
	}

	switch e.resolver.Resolve(ls, Incoming{UpdatedAt: ch.UpdatedAt, Deleted: ch.Deleted}) {
	case ApplyRemote:
		return true, e.store.ApplyRemoteInventoryItem(ctx, &incoming)
	default:
		return false, nil
	}
}

func (e *Engine) mergeBill(ctx context.Context, ch *remote.ChangeRecord) (bool, error) {
	var incoming domain.Bill
	if err := json.Unmarshal(ch.Payload, &incoming); err != nil {
		return false, fmt.Errorf("malformed bill payload for %s: %w", ch.EntityID, err)
	}
	incoming.ID = ch.EntityID
	stampTombstone(&incoming.DeletedAt, ch)
	incoming.UpdatedAt = ch.UpdatedAt

	local, err := e.store.GetBill(ctx, ch.EntityID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	ls := LocalState{}
	in := Incoming{UpdatedAt: ch.UpdatedAt, Deleted: ch.Deleted}
	if local != nil {
		if ls, err = e.localStateFor(ctx, ch, local.UpdatedAt, local.DeletedAt != nil, true); err != nil {
			return false, err
		}
		ls.FinalizedBill = local.Finalized()
		in.FinancialChange = billMoneyDiffers(local, &incoming)
		if incoming.CreatedAt.IsZero() {
			incoming.CreatedAt = local.CreatedAt
		}
	}
	if incoming.CreatedAt.IsZero() {
		incoming.CreatedAt = ch.UpdatedAt
	}

	switch e.resolver.Resolve(ls, in) {
	case ApplyRemote:
		return true, e.store.ApplyRemoteBill(ctx, &incoming)
	case Anomaly:
		e.logger.Error("remote edit to finalized bill rejected",
			"bill", ch.EntityID, "invoice_no", incoming.InvoiceNo, "remote_updated_at", ch.UpdatedAt)
		return false, e.store.AddReconciliationItem(ctx, domain.EntityBill, ch.EntityID,
			"finalized_bill_edit", "remote change to financial fields of a finalized bill")
	default:
		return false, nil
	}
}

func billMoneyDiffers(local, incoming *domain.Bill) bool {
	return !local.Subtotal.Equal(incoming.Subtotal) ||
		!local.TaxTotal.Equal(incoming.TaxTotal) ||
		!local.DiscountAmount.Equal(incoming.DiscountAmount) ||
		!local.Total.Equal(incoming.Total)
}

// stampTombstone fills the entity's deleted_at from the change envelope when
// the payload did not carry one.
func stampTombstone(deletedAt **time.Time, ch *remote.ChangeRecord) {
	if ch.Deleted && *deletedAt == nil {
		t := ch.UpdatedAt
		*deletedAt = &t
	}
	if !ch.Deleted {
		*deletedAt = nil
	}
}

// maybePurgeTombstones runs the retention sweep at most once per day.
func (e *Engine) maybePurgeTombstones(ctx context.Context) {
	now := time.Now()
	last := e.lastPurge.Load()
	if last != 0 && now.Unix()-last < int64((24*time.Hour).Seconds()) {
		return
	}
	if !e.lastPurge.CompareAndSwap(last, now.Unix()) {
		return
	}
	cutoff := now.Add(-e.config.TombstoneRetention)
	if err := e.store.PurgeTombstones(ctx, cutoff); err != nil {
		e.logger.Warn("tombstone purge failed", "error", err)
	}
}
