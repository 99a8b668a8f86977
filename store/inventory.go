package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trenztechno/possync/domain"
)

const inventoryCols = `id, name, quantity, unit, supplier, supplier_phone, reorder_level,
	vendor_id, is_synced, deleted_at, created_at, updated_at`

// CreateInventoryItem writes the stock row and its outbox entry atomically.
func (s *Store) CreateInventoryItem(ctx context.Context, v *domain.InventoryItem) error {
	now := time.Now().UTC()
	v.CreatedAt, v.UpdatedAt = now, now
	v.Synced = false
	return s.withTx(ctx, "inventory.create", func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO inventory_items (`+inventoryCols+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?, ?)
		`, v.ID, v.Name, v.Quantity.String(), v.Unit, v.Supplier, v.SupplierPhone,
			v.ReorderLevel.String(), v.VendorID, fmtTime(v.CreatedAt), fmtTime(v.UpdatedAt)); err != nil {
			return err
		}
		return enqueueTx(tx, domain.OpCreate, domain.EntityInventory, v.ID, v)
	})
}

// UpdateInventoryItem persists an edit and queues it for upload.
func (s *Store) UpdateInventoryItem(ctx context.Context, v *domain.InventoryItem) error {
	v.UpdatedAt = time.Now().UTC()
	v.Synced = false
	return s.withTx(ctx, "inventory.update", func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE inventory_items
			SET name = ?, quantity = ?, unit = ?, supplier = ?, supplier_phone = ?,
			    reorder_level = ?, is_synced = 0, updated_at = ?
			WHERE id = ? AND deleted_at IS NULL
		`, v.Name, v.Quantity.String(), v.Unit, v.Supplier, v.SupplierPhone,
			v.ReorderLevel.String(), fmtTime(v.UpdatedAt), v.ID)
		if err != nil {
			return err
		}
		if err := requireUpdated(res, v.ID); err != nil {
			return err
		}
		return enqueueTx(tx, domain.OpUpdate, domain.EntityInventory, v.ID, v)
	})
}

// AdjustInventoryQuantity applies a delta to the decimal quantity and queues
// the change. Quantities are decimal text end to end, so repeated adjustments
// never accumulate float drift.
func (s *Store) AdjustInventoryQuantity(ctx context.Context, id string, delta decimal.Decimal) error {
	v, err := s.GetInventoryItem(ctx, id)
	if err != nil {
		return err
	}
	v.Quantity = v.Quantity.Add(delta)
	return s.UpdateInventoryItem(ctx, v)
}

// DeleteInventoryItem tombstones the row.
func (s *Store) DeleteInventoryItem(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return s.withTx(ctx, "inventory.delete", func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE inventory_items SET deleted_at = ?, updated_at = ?, is_synced = 0
			WHERE id = ? AND deleted_at IS NULL
		`, fmtTime(now), fmtTime(now), id)
		if err != nil {
			return err
		}
		if err := requireUpdated(res, id); err != nil {
			return err
		}
		return enqueueTx(tx, domain.OpDelete, domain.EntityInventory, id, nil)
	})
}

// GetInventoryItem returns the row regardless of tombstone state.
func (s *Store) GetInventoryItem(ctx context.Context, id string) (*domain.InventoryItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+inventoryCols+` FROM inventory_items WHERE id = ?`, id)
	return scanInventoryItem(row)
}

// ListInventory returns non-deleted stock rows.
func (s *Store) ListInventory(ctx context.Context) ([]domain.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+inventoryCols+` FROM inventory_items
		WHERE deleted_at IS NULL
		ORDER BY name
	`)
	if err != nil {
		return nil, storageErr("inventory.list", err)
	}
	defer rows.Close()

	var items []domain.InventoryItem
	for rows.Next() {
		v, err := scanInventoryItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *v)
	}
	return items, storageErr("inventory.list", rows.Err())
}

// ListLowStock returns non-deleted rows at or under their reorder threshold.
func (s *Store) ListLowStock(ctx context.Context) ([]domain.InventoryItem, error) {
	all, err := s.ListInventory(ctx)
	if err != nil {
		return nil, err
	}
	var low []domain.InventoryItem
	for _, v := range all {
		if v.LowStock() {
			low = append(low, v)
		}
	}
	return low, nil
}

// ApplyRemoteInventoryItem upserts a server-won version without touching the
// outbox.
func (s *Store) ApplyRemoteInventoryItem(ctx context.Context, v *domain.InventoryItem) error {
	return s.withTx(ctx, "inventory.applyRemote", func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO inventory_items (`+inventoryCols+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				quantity = excluded.quantity,
				unit = excluded.unit,
				supplier = excluded.supplier,
				supplier_phone = excluded.supplier_phone,
				reorder_level = excluded.reorder_level,
				is_synced = 1,
				deleted_at = excluded.deleted_at,
				updated_at = excluded.updated_at
		`, v.ID, v.Name, v.Quantity.String(), v.Unit, v.Supplier, v.SupplierPhone,
			v.ReorderLevel.String(), v.VendorID, fmtTimePtr(v.DeletedAt),
			fmtTime(v.CreatedAt), fmtTime(v.UpdatedAt))
		return err
	})
}

func scanInventoryItem(row rowScanner) (*domain.InventoryItem, error) {
	var v domain.InventoryItem
	var quantity, reorder string
	var synced int
	var deletedAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&v.ID, &v.Name, &quantity, &v.Unit, &v.Supplier, &v.SupplierPhone,
		&reorder, &v.VendorID, &synced, &deletedAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("inventory.scan", err)
	}

	v.Synced = synced != 0
	if v.Quantity, err = parseDec("inventory.scan", "quantity", quantity); err != nil {
		return nil, err
	}
	if v.ReorderLevel, err = parseDec("inventory.scan", "reorder_level", reorder); err != nil {
		return nil, err
	}
	if v.DeletedAt, err = parseTimePtr("inventory.scan", "deleted_at", deletedAt); err != nil {
		return nil, err
	}
	if v.CreatedAt, err = parseTime("inventory.scan", "created_at", createdAt); err != nil {
		return nil, err
	}
	if v.UpdatedAt, err = parseTime("inventory.scan", "updated_at", updatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}
