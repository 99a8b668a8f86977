package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trenztechno/possync/domain"
)

const itemCols = `id, name, base_price, list_price, tax_mode, tax_rate, veg, discount, stock,
	sku, active, sort_order, image_url, image_path, vendor_id, is_synced, deleted_at, created_at, updated_at`

// CreateItem writes the item row, its category links and the outbox entry in
// one transaction.
func (s *Store) CreateItem(ctx context.Context, it *domain.Item) error {
	now := time.Now().UTC()
	it.CreatedAt, it.UpdatedAt = now, now
	it.Synced = false
	return s.withTx(ctx, "items.create", func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO items (`+itemCols+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?, ?)
		`, it.ID, it.Name, it.BasePrice.String(), it.ListPrice.String(), string(it.TaxMode),
			it.TaxRate.String(), boolInt(it.Veg), it.Discount.String(), it.Stock.String(),
			it.SKU, boolInt(it.Active), it.SortOrder, it.ImageURL, it.ImagePath, it.VendorID,
			fmtTime(it.CreatedAt), fmtTime(it.UpdatedAt)); err != nil {
			return err
		}
		if err := replaceItemCategoriesTx(tx, it.ID, it.CategoryIDs); err != nil {
			return err
		}
		return enqueueTx(tx, domain.OpCreate, domain.EntityItem, it.ID, it)
	})
}

// UpdateItem persists an edit, replaces category links and queues the upload.
func (s *Store) UpdateItem(ctx context.Context, it *domain.Item) error {
	it.UpdatedAt = time.Now().UTC()
	it.Synced = false
	return s.withTx(ctx, "items.update", func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE items
			SET name = ?, base_price = ?, list_price = ?, tax_mode = ?, tax_rate = ?, veg = ?,
			    discount = ?, stock = ?, sku = ?, active = ?, sort_order = ?, image_url = ?,
			    image_path = ?, is_synced = 0, updated_at = ?
			WHERE id = ? AND deleted_at IS NULL
		`, it.Name, it.BasePrice.String(), it.ListPrice.String(), string(it.TaxMode),
			it.TaxRate.String(), boolInt(it.Veg), it.Discount.String(), it.Stock.String(),
			it.SKU, boolInt(it.Active), it.SortOrder, it.ImageURL, it.ImagePath,
			fmtTime(it.UpdatedAt), it.ID)
		if err != nil {
			return err
		}
		if err := requireUpdated(res, it.ID); err != nil {
			return err
		}
		if err := replaceItemCategoriesTx(tx, it.ID, it.CategoryIDs); err != nil {
			return err
		}
		return enqueueTx(tx, domain.OpUpdate, domain.EntityItem, it.ID, it)
	})
}

// DeleteItem tombstones the item and clears its category links.
func (s *Store) DeleteItem(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return s.withTx(ctx, "items.delete", func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE items SET deleted_at = ?, updated_at = ?, is_synced = 0
			WHERE id = ? AND deleted_at IS NULL
		`, fmtTime(now), fmtTime(now), id)
		if err != nil {
			return err
		}
		if err := requireUpdated(res, id); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM item_categories WHERE item_id = ?`, id); err != nil {
			return err
		}
		return enqueueTx(tx, domain.OpDelete, domain.EntityItem, id, nil)
	})
}

// GetItem returns the row regardless of tombstone state, with category links
// attached.
func (s *Store) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemCols+` FROM items WHERE id = ?`, id)
	it, err := scanItem(row)
	if err != nil {
		return nil, err
	}
	if it.CategoryIDs, err = s.itemCategoryIDs(ctx, id); err != nil {
		return nil, err
	}
	return it, nil
}

// ListItems returns non-deleted items ordered for display.
func (s *Store) ListItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemCols+` FROM items
		WHERE deleted_at IS NULL
		ORDER BY sort_order, name
	`)
	if err != nil {
		return nil, storageErr("items.list", err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("items.list", err)
	}
	for i := range items {
		if items[i].CategoryIDs, err = s.itemCategoryIDs(ctx, items[i].ID); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// ListItemsByCategory returns non-deleted items linked to the category.
func (s *Store) ListItemsByCategory(ctx context.Context, categoryID string) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemCols+` FROM items
		WHERE deleted_at IS NULL
		  AND id IN (SELECT item_id FROM item_categories WHERE category_id = ?)
		ORDER BY sort_order, name
	`, categoryID)
	if err != nil {
		return nil, storageErr("items.listByCategory", err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, storageErr("items.listByCategory", rows.Err())
}

// AdjustItemStock applies a stock delta (negative when sold) and queues the
// change.
func (s *Store) AdjustItemStock(ctx context.Context, id string, delta decimal.Decimal) error {
	it, err := s.GetItem(ctx, id)
	if err != nil {
		return err
	}
	it.Stock = it.Stock.Add(delta)
	return s.UpdateItem(ctx, it)
}

// ApplyRemoteItem upserts a server-won version without touching the outbox.
func (s *Store) ApplyRemoteItem(ctx context.Context, it *domain.Item) error {
	return s.withTx(ctx, "items.applyRemote", func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO items (`+itemCols+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				base_price = excluded.base_price,
				list_price = excluded.list_price,
				tax_mode = excluded.tax_mode,
				tax_rate = excluded.tax_rate,
				veg = excluded.veg,
				discount = excluded.discount,
				stock = excluded.stock,
				sku = excluded.sku,
				active = excluded.active,
				sort_order = excluded.sort_order,
				image_url = excluded.image_url,
				is_synced = 1,
				deleted_at = excluded.deleted_at,
				updated_at = excluded.updated_at
		`, it.ID, it.Name, it.BasePrice.String(), it.ListPrice.String(), string(it.TaxMode),
			it.TaxRate.String(), boolInt(it.Veg), it.Discount.String(), it.Stock.String(),
			it.SKU, boolInt(it.Active), it.SortOrder, it.ImageURL, it.ImagePath, it.VendorID,
			fmtTimePtr(it.DeletedAt), fmtTime(it.CreatedAt), fmtTime(it.UpdatedAt)); err != nil {
			return err
		}
		return replaceItemCategoriesTx(tx, it.ID, it.CategoryIDs)
	})
}

func replaceItemCategoriesTx(tx *sql.Tx, itemID string, categoryIDs []string) error {
	if _, err := tx.Exec(`DELETE FROM item_categories WHERE item_id = ?`, itemID); err != nil {
		return err
	}
	for _, cid := range categoryIDs {
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO item_categories (item_id, category_id) VALUES (?, ?)
		`, itemID, cid); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) itemCategoryIDs(ctx context.Context, itemID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category_id FROM item_categories WHERE item_id = ? ORDER BY category_id
	`, itemID)
	if err != nil {
		return nil, storageErr("items.categories", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("items.categories", err)
		}
		ids = append(ids, id)
	}
	return ids, storageErr("items.categories", rows.Err())
}

func scanItem(row rowScanner) (*domain.Item, error) {
	var it domain.Item
	var basePrice, listPrice, taxMode, taxRate, discount, stock string
	var veg, active, synced int
	var deletedAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&it.ID, &it.Name, &basePrice, &listPrice, &taxMode, &taxRate, &veg,
		&discount, &stock, &it.SKU, &active, &it.SortOrder, &it.ImageURL, &it.ImagePath,
		&it.VendorID, &synced, &deletedAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("items.scan", err)
	}

	it.TaxMode = domain.TaxMode(taxMode)
	it.Veg = veg != 0
	it.Active = active != 0
	it.Synced = synced != 0
	if it.BasePrice, err = parseDec("items.scan", "base_price", basePrice); err != nil {
		return nil, err
	}
	if it.ListPrice, err = parseDec("items.scan", "list_price", listPrice); err != nil {
		return nil, err
	}
	if it.TaxRate, err = parseDec("items.scan", "tax_rate", taxRate); err != nil {
		return nil, err
	}
	if it.Discount, err = parseDec("items.scan", "discount", discount); err != nil {
		return nil, err
	}
	if it.Stock, err = parseDec("items.scan", "stock", stock); err != nil {
		return nil, err
	}
	if it.DeletedAt, err = parseTimePtr("items.scan", "deleted_at", deletedAt); err != nil {
		return nil, err
	}
	if it.CreatedAt, err = parseTime("items.scan", "created_at", createdAt); err != nil {
		return nil, err
	}
	if it.UpdatedAt, err = parseTime("items.scan", "updated_at", updatedAt); err != nil {
		return nil, err
	}
	return &it, nil
}
