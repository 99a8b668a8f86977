package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/trenztechno/possync/domain"
)

const categoryCols = `id, name, description, active, sort_order, vendor_id, is_synced, deleted_at, created_at, updated_at`

// CreateCategory writes the category row and its outbox entry atomically.
func (s *Store) CreateCategory(ctx context.Context, c *domain.Category) error {
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	c.Synced = false
	return s.withTx(ctx, "categories.create", func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO categories (`+categoryCols+`)
			VALUES (?, ?, ?, ?, ?, ?, 0, NULL, ?, ?)
		`, c.ID, c.Name, c.Description, boolInt(c.Active), c.SortOrder, c.VendorID,
			fmtTime(c.CreatedAt), fmtTime(c.UpdatedAt)); err != nil {
			return err
		}
		return enqueueTx(tx, domain.OpCreate, domain.EntityCategory, c.ID, c)
	})
}

// UpdateCategory persists an edit and queues it for upload.
func (s *Store) UpdateCategory(ctx context.Context, c *domain.Category) error {
	c.UpdatedAt = time.Now().UTC()
	c.Synced = false
	return s.withTx(ctx, "categories.update", func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE categories
			SET name = ?, description = ?, active = ?, sort_order = ?, is_synced = 0, updated_at = ?
			WHERE id = ? AND deleted_at IS NULL
		`, c.Name, c.Description, boolInt(c.Active), c.SortOrder, fmtTime(c.UpdatedAt), c.ID)
		if err != nil {
			return err
		}
		if err := requireUpdated(res, c.ID); err != nil {
			return err
		}
		return enqueueTx(tx, domain.OpUpdate, domain.EntityCategory, c.ID, c)
	})
}

// DeleteCategory sets the tombstone; the row is retained so the deletion can
// propagate to other devices.
func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return s.withTx(ctx, "categories.delete", func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE categories SET deleted_at = ?, updated_at = ?, is_synced = 0
			WHERE id = ? AND deleted_at IS NULL
		`, fmtTime(now), fmtTime(now), id)
		if err != nil {
			return err
		}
		if err := requireUpdated(res, id); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM item_categories WHERE category_id = ?`, id); err != nil {
			return err
		}
		return enqueueTx(tx, domain.OpDelete, domain.EntityCategory, id, nil)
	})
}

// GetCategory returns the row regardless of tombstone state; sync and
// conflict resolution need to see deleted rows.
func (s *Store) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+categoryCols+` FROM categories WHERE id = ?`, id)
	return scanCategory(row)
}

// ListCategories returns active-listing rows; tombstoned rows are excluded.
func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+categoryCols+` FROM categories
		WHERE deleted_at IS NULL
		ORDER BY sort_order, name
	`)
	if err != nil {
		return nil, storageErr("categories.list", err)
	}
	defer rows.Close()

	var cats []domain.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		cats = append(cats, *c)
	}
	return cats, storageErr("categories.list", rows.Err())
}

// ApplyRemoteCategory upserts a server-won version without touching the
// outbox; the row arrives already synced.
func (s *Store) ApplyRemoteCategory(ctx context.Context, c *domain.Category) error {
	return s.withTx(ctx, "categories.applyRemote", func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO categories (`+categoryCols+`)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				description = excluded.description,
				active = excluded.active,
				sort_order = excluded.sort_order,
				is_synced = 1,
				deleted_at = excluded.deleted_at,
				updated_at = excluded.updated_at
		`, c.ID, c.Name, c.Description, boolInt(c.Active), c.SortOrder, c.VendorID,
			fmtTimePtr(c.DeletedAt), fmtTime(c.CreatedAt), fmtTime(c.UpdatedAt))
		return err
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCategory(row rowScanner) (*domain.Category, error) {
	var c domain.Category
	var active, synced int
	var deletedAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.Name, &c.Description, &active, &c.SortOrder, &c.VendorID,
		&synced, &deletedAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("categories.scan", err)
	}
	c.Active = active != 0
	c.Synced = synced != 0
	if c.DeletedAt, err = parseTimePtr("categories.scan", "deleted_at", deletedAt); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime("categories.scan", "created_at", createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime("categories.scan", "updated_at", updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireUpdated(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}
