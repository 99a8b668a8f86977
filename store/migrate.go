package store

import (
	"context"
	"fmt"
	"strings"
)

// columnMigration adds a column that did not exist in the base schema of an
// earlier release. Migrations are additive only and must stay re-runnable.
type columnMigration struct {
	table  string
	column string
	ddl    string
}

var columnMigrations = []columnMigration{
	{"items", "sku", `ALTER TABLE items ADD COLUMN sku TEXT NOT NULL DEFAULT ''`},
	{"bills", "payment_ref", `ALTER TABLE bills ADD COLUMN payment_ref TEXT NOT NULL DEFAULT ''`},
	{"inventory_items", "supplier_phone", `ALTER TABLE inventory_items ADD COLUMN supplier_phone TEXT NOT NULL DEFAULT ''`},
}

// migrate applies pending column additions. A structural pre-check against
// PRAGMA table_info decides whether each ALTER is needed; string matching on
// the driver error is kept only as a fallback for lost races, so unrelated
// DDL failures still propagate and halt initialization.
func (s *Store) migrate(ctx context.Context) error {
	for _, m := range columnMigrations {
		exists, err := s.columnExists(ctx, m.table, m.column)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := s.db.ExecContext(ctx, m.ddl); err != nil {
			if isBenignSchemaErr(err) {
				s.logger.Warn("migration raced an existing column, skipping",
					"table", m.table, "column", m.column, "error", err)
				continue
			}
			return storageErr("migrate", fmt.Errorf("failed to add %s.%s: %w", m.table, m.column, err))
		}
		s.logger.Info("migration applied", "table", m.table, "column", m.column)
	}
	return nil
}

func (s *Store) columnExists(ctx context.Context, table, column string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info("%s")`, table))
	if err != nil {
		return false, storageErr("migrate", fmt.Errorf("failed to inspect %s: %w", table, err))
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, storageErr("migrate", fmt.Errorf("failed to scan table_info: %w", err))
		}
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, storageErr("migrate", rows.Err())
}

// isBenignSchemaErr classifies "already exists" DDL errors that a re-run or
// a racing initializer can produce.
func isBenignSchemaErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate column name") ||
		strings.Contains(msg, "already exists")
}
