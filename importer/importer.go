// Package importer loads items and inventory stock from XLSX workbooks.
// Rows go through the store's normal mutation path, so every imported
// record enqueues an outbox entry and syncs like any hand-entered edit.
package importer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/trenztechno/possync/domain"
	"github.com/trenztechno/possync/store"
)

// Result summarizes one import run.
type Result struct {
	TotalRows    int      `json:"total_rows"`
	SuccessCount int      `json:"success_count"`
	FailedCount  int      `json:"failed_count"`
	Errors       []string `json:"errors"`
}

// Importer writes parsed rows into the local store.
type Importer struct {
	store    *store.Store
	vendorID string
	logger   *slog.Logger
}

func New(st *store.Store, vendorID string, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{store: st, vendorID: vendorID, logger: logger}
}

// ImportItems reads an item sheet with columns:
// name, price, tax_rate, stock, sku. The header row is skipped.
func (im *Importer) ImportItems(ctx context.Context, r io.Reader) (*Result, error) {
	rows, err := readFirstSheet(r)
	if err != nil {
		return nil, err
	}

	result := &Result{Errors: []string{}}
	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		result.TotalRows++
		rowNum := i + 1

		name := cell(row, 0)
		if name == "" {
			result.fail(rowNum, "name is required")
			continue
		}
		price, err := decimal.NewFromString(cell(row, 1))
		if err != nil {
			result.fail(rowNum, "invalid price")
			continue
		}
		taxRate := decimal.Zero
		if v := cell(row, 2); v != "" {
			if taxRate, err = decimal.NewFromString(v); err != nil {
				result.fail(rowNum, "invalid tax rate")
				continue
			}
		}
		stock := decimal.Zero
		if v := cell(row, 3); v != "" {
			if stock, err = decimal.NewFromString(v); err != nil {
				result.fail(rowNum, "invalid stock")
				continue
			}
		}

		item := &domain.Item{
			ID:        uuid.New().String(),
			Name:      name,
			BasePrice: price,
			ListPrice: price,
			TaxMode:   domain.TaxExclusive,
			TaxRate:   taxRate,
			Stock:     stock,
			SKU:       cell(row, 4),
			Active:    true,
			SortOrder: result.TotalRows,
			VendorID:  im.vendorID,
		}
		if err := im.store.CreateItem(ctx, item); err != nil {
			result.fail(rowNum, err.Error())
			continue
		}
		result.SuccessCount++
	}

	im.logger.Info("item import finished",
		"total", result.TotalRows, "ok", result.SuccessCount, "failed", result.FailedCount)
	return result, nil
}

// ImportInventory reads a stock sheet with columns:
// name, quantity, unit, supplier, reorder_level. The header row is skipped.
func (im *Importer) ImportInventory(ctx context.Context, r io.Reader) (*Result, error) {
	rows, err := readFirstSheet(r)
	if err != nil {
		return nil, err
	}

	result := &Result{Errors: []string{}}
	for i, row := range rows {
		if i == 0 {
			continue
		}
		result.TotalRows++
		rowNum := i + 1

		name := cell(row, 0)
		if name == "" {
			result.fail(rowNum, "name is required")
			continue
		}
		qty, err := decimal.NewFromString(cell(row, 1))
		if err != nil {
			result.fail(rowNum, "invalid quantity")
			continue
		}
		reorder := decimal.Zero
		if v := cell(row, 4); v != "" {
			if reorder, err = decimal.NewFromString(v); err != nil {
				result.fail(rowNum, "invalid reorder level")
				continue
			}
		}

		inv := &domain.InventoryItem{
			ID:           uuid.New().String(),
			Name:         name,
			Quantity:     qty,
			Unit:         cell(row, 2),
			Supplier:     cell(row, 3),
			ReorderLevel: reorder,
			VendorID:     im.vendorID,
		}
		if err := im.store.CreateInventoryItem(ctx, inv); err != nil {
			result.fail(rowNum, err.Error())
			continue
		}
		result.SuccessCount++
	}

	im.logger.Info("inventory import finished",
		"total", result.TotalRows, "ok", result.SuccessCount, "failed", result.FailedCount)
	return result, nil
}

func (r *Result) fail(rowNum int, msg string) {
	r.FailedCount++
	r.Errors = append(r.Errors, fmt.Sprintf("row %d: %s", rowNum, msg))
}

func readFirstSheet(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
