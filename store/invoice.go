package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/trenztechno/possync/domain"
)

// NextNumber allocates the next invoice number for (mode, year). The read
// and increment happen in one transaction behind the write mutex, so two
// concurrent local callers can never observe the same counter value.
//
// Numbers are provisional: the server arbitrates cross-device uniqueness on
// upload, and a collision is flagged for manual reconciliation rather than
// renumbered (see syncer).
func (s *Store) NextNumber(ctx context.Context, mode domain.BillingMode, year int) (string, error) {
	var number string
	err := s.withTx(ctx, "invoice.next", func(tx *sql.Tx) error {
		var prefix string
		var seq int64
		err := tx.QueryRow(`
			SELECT prefix, next_seq FROM invoice_sequences WHERE mode = ? AND year = ?
		`, string(mode), year).Scan(&prefix, &seq)
		if errors.Is(err, sql.ErrNoRows) {
			prefix, seq = s.InvoicePrefix, 1
			if _, err := tx.Exec(`
				INSERT INTO invoice_sequences (mode, year, prefix, next_seq) VALUES (?, ?, ?, 2)
			`, string(mode), year, prefix); err != nil {
				return err
			}
		} else if err != nil {
			return err
		} else {
			if _, err := tx.Exec(`
				UPDATE invoice_sequences SET next_seq = next_seq + 1 WHERE mode = ? AND year = ?
			`, string(mode), year); err != nil {
				return err
			}
		}
		number = fmt.Sprintf("%s-%d-%05d", prefix, year, seq)
		return nil
	})
	if err != nil {
		return "", err
	}
	return number, nil
}

// CurrentSequence reads the allocator state for a key without advancing it.
func (s *Store) CurrentSequence(ctx context.Context, mode domain.BillingMode, year int) (*domain.InvoiceSequence, error) {
	var seq domain.InvoiceSequence
	seq.Mode, seq.Year = mode, year
	err := s.db.QueryRowContext(ctx, `
		SELECT prefix, next_seq FROM invoice_sequences WHERE mode = ? AND year = ?
	`, string(mode), year).Scan(&seq.Prefix, &seq.NextSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("invoice.current", err)
	}
	return &seq, nil
}
