package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/trenztechno/possync/domain"
)

const billCols = `id, invoice_no, mode, vendor_name, vendor_address, vendor_tax_id, lines,
	subtotal, discount_amount, tax_total, total, payment_mode, payment_ref, amount_paid,
	change_due, device_id, finalized_at, is_synced, deleted_at, created_at, updated_at`

// CreateBill writes the bill and its outbox entry atomically. The totals
// invariant is enforced here, at creation time.
func (s *Store) CreateBill(ctx context.Context, b *domain.Bill) error {
	if err := b.CheckTotals(); err != nil {
		return storageErr("bills.create", err)
	}
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	b.Synced = false

	lines, err := json.Marshal(b.Lines)
	if err != nil {
		return storageErr("bills.create", fmt.Errorf("failed to serialize lines: %w", err))
	}
	return s.withTx(ctx, "bills.create", func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO bills (`+billCols+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?, ?)
		`, b.ID, b.InvoiceNo, string(b.Mode), b.VendorName, b.VendorAddress, b.VendorTaxID,
			string(lines), b.Subtotal.String(), b.DiscountAmount.String(), b.TaxTotal.String(),
			b.Total.String(), string(b.PaymentMode), b.PaymentRef, b.AmountPaid.String(),
			b.ChangeDue.String(), b.DeviceID, fmtTimePtr(b.FinalizedAt),
			fmtTime(b.CreatedAt), fmtTime(b.UpdatedAt)); err != nil {
			return err
		}
		return enqueueTx(tx, domain.OpCreate, domain.EntityBill, b.ID, b)
	})
}

// FinalizeBill freezes the bill's financial fields. Once set, incoming
// remote edits to money fields are rejected by the conflict resolver.
func (s *Store) FinalizeBill(ctx context.Context, id string, at time.Time) error {
	return s.withTx(ctx, "bills.finalize", func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE bills SET finalized_at = ?, updated_at = ?, is_synced = 0
			WHERE id = ? AND finalized_at IS NULL AND deleted_at IS NULL
		`, fmtTime(at), fmtTime(time.Now()), id)
		if err != nil {
			return err
		}
		if err := requireUpdated(res, id); err != nil {
			return err
		}
		b, err := getBillTx(tx, id)
		if err != nil {
			return err
		}
		return enqueueTx(tx, domain.OpUpdate, domain.EntityBill, id, b)
	})
}

// DeleteBill tombstones a bill (void). The record is retained for tombstone
// propagation and fiscal audit.
func (s *Store) DeleteBill(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return s.withTx(ctx, "bills.delete", func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE bills SET deleted_at = ?, updated_at = ?, is_synced = 0
			WHERE id = ? AND deleted_at IS NULL
		`, fmtTime(now), fmtTime(now), id)
		if err != nil {
			return err
		}
		if err := requireUpdated(res, id); err != nil {
			return err
		}
		return enqueueTx(tx, domain.OpDelete, domain.EntityBill, id, nil)
	})
}

// GetBill returns the row regardless of tombstone state.
func (s *Store) GetBill(ctx context.Context, id string) (*domain.Bill, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+billCols+` FROM bills WHERE id = ?`, id)
	return scanBill(row)
}

func getBillTx(tx *sql.Tx, id string) (*domain.Bill, error) {
	row := tx.QueryRow(`SELECT `+billCols+` FROM bills WHERE id = ?`, id)
	return scanBill(row)
}

// ListBills returns the most recent non-deleted bills.
func (s *Store) ListBills(ctx context.Context, limit int) ([]domain.Bill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+billCols+` FROM bills
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, storageErr("bills.list", err)
	}
	defer rows.Close()

	var bills []domain.Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, *b)
	}
	return bills, storageErr("bills.list", rows.Err())
}

// ApplyRemoteBill upserts a server-won version without touching the outbox.
func (s *Store) ApplyRemoteBill(ctx context.Context, b *domain.Bill) error {
	lines, err := json.Marshal(b.Lines)
	if err != nil {
		return storageErr("bills.applyRemote", fmt.Errorf("failed to serialize lines: %w", err))
	}
	return s.withTx(ctx, "bills.applyRemote", func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO bills (`+billCols+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				invoice_no = excluded.invoice_no,
				lines = excluded.lines,
				subtotal = excluded.subtotal,
				discount_amount = excluded.discount_amount,
				tax_total = excluded.tax_total,
				total = excluded.total,
				payment_mode = excluded.payment_mode,
				payment_ref = excluded.payment_ref,
				amount_paid = excluded.amount_paid,
				change_due = excluded.change_due,
				finalized_at = excluded.finalized_at,
				is_synced = 1,
				deleted_at = excluded.deleted_at,
				updated_at = excluded.updated_at
		`, b.ID, b.InvoiceNo, string(b.Mode), b.VendorName, b.VendorAddress, b.VendorTaxID,
			string(lines), b.Subtotal.String(), b.DiscountAmount.String(), b.TaxTotal.String(),
			b.Total.String(), string(b.PaymentMode), b.PaymentRef, b.AmountPaid.String(),
			b.ChangeDue.String(), b.DeviceID, fmtTimePtr(b.FinalizedAt), fmtTimePtr(b.DeletedAt),
			fmtTime(b.CreatedAt), fmtTime(b.UpdatedAt))
		return err
	})
}

// MarkEntitySynced flips the is_synced flag on a business row after the
// server acknowledged its outbox entry.
func (s *Store) MarkEntitySynced(ctx context.Context, entityType domain.EntityType, id string) error {
	table, ok := entityTables[entityType]
	if !ok {
		return storageErr("markEntitySynced", fmt.Errorf("unknown entity type %q", entityType))
	}
	return s.withTx(ctx, "markEntitySynced", func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE `+table+` SET is_synced = 1 WHERE id = ?`, id)
		return err
	})
}

// PurgeTombstones physically removes soft-deleted, already-synced rows whose
// tombstones are older than the retention window.
func (s *Store) PurgeTombstones(ctx context.Context, olderThan time.Time) error {
	cutoff := fmtTime(olderThan)
	return s.withTx(ctx, "purgeTombstones", func(tx *sql.Tx) error {
		for _, table := range entityTables {
			if _, err := tx.Exec(`
				DELETE FROM `+table+` WHERE deleted_at IS NOT NULL AND is_synced = 1 AND deleted_at < ?
			`, cutoff); err != nil {
				return err
			}
		}
		return nil
	})
}

var entityTables = map[domain.EntityType]string{
	domain.EntityCategory:  "categories",
	domain.EntityItem:      "items",
	domain.EntityInventory: "inventory_items",
	domain.EntityBill:      "bills",
}

func scanBill(row rowScanner) (*domain.Bill, error) {
	var b domain.Bill
	var mode, payMode, lines string
	var subtotal, discount, taxTotal, total, amountPaid, changeDue string
	var synced int
	var finalizedAt, deletedAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&b.ID, &b.InvoiceNo, &mode, &b.VendorName, &b.VendorAddress, &b.VendorTaxID,
		&lines, &subtotal, &discount, &taxTotal, &total, &payMode, &b.PaymentRef,
		&amountPaid, &changeDue, &b.DeviceID, &finalizedAt, &synced, &deletedAt,
		&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("bills.scan", err)
	}

	b.Mode = domain.BillingMode(mode)
	b.PaymentMode = domain.PaymentMode(payMode)
	b.Synced = synced != 0
	if err := json.Unmarshal([]byte(lines), &b.Lines); err != nil {
		return nil, storageErr("bills.scan", fmt.Errorf("malformed lines column: %w", err))
	}
	if b.Subtotal, err = parseDec("bills.scan", "subtotal", subtotal); err != nil {
		return nil, err
	}
	if b.DiscountAmount, err = parseDec("bills.scan", "discount_amount", discount); err != nil {
		return nil, err
	}
	if b.TaxTotal, err = parseDec("bills.scan", "tax_total", taxTotal); err != nil {
		return nil, err
	}
	if b.Total, err = parseDec("bills.scan", "total", total); err != nil {
		return nil, err
	}
	if b.AmountPaid, err = parseDec("bills.scan", "amount_paid", amountPaid); err != nil {
		return nil, err
	}
	if b.ChangeDue, err = parseDec("bills.scan", "change_due", changeDue); err != nil {
		return nil, err
	}
	if b.FinalizedAt, err = parseTimePtr("bills.scan", "finalized_at", finalizedAt); err != nil {
		return nil, err
	}
	if b.DeletedAt, err = parseTimePtr("bills.scan", "deleted_at", deletedAt); err != nil {
		return nil, err
	}
	if b.CreatedAt, err = parseTime("bills.scan", "created_at", createdAt); err != nil {
		return nil, err
	}
	if b.UpdatedAt, err = parseTime("bills.scan", "updated_at", updatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}
