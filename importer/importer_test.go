package importer

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/trenztechno/possync/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Initialize(context.Background()))
	return st
}

func workbook(t *testing.T, rows [][]any) *bytes.Reader {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return bytes.NewReader(buf.Bytes())
}

func TestImportItems(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	im := New(st, "v1", slog.New(slog.NewTextHandler(io.Discard, nil)))

	res, err := im.ImportItems(ctx, workbook(t, [][]any{
		{"name", "price", "tax_rate", "stock", "sku"},
		{"Masala Chai", "40", "5", "100", "CHAI-1"},
		{"Samosa", "25", "", "", ""},       // optional columns default to zero
		{"", "10", "5", "1", "X"},          // missing name
		{"Bad Price", "abc", "5", "1", ""}, // unparseable price
	}))
	require.NoError(t, err)
	require.Equal(t, 4, res.TotalRows)
	require.Equal(t, 2, res.SuccessCount)
	require.Equal(t, 2, res.FailedCount)
	require.Len(t, res.Errors, 2)
	require.Contains(t, res.Errors[0], "row 4")
	require.Contains(t, res.Errors[1], "row 5")

	items, err := st.ListItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)

	var chai bool
	for _, it := range items {
		if it.Name == "Masala Chai" {
			chai = true
			require.True(t, it.BasePrice.Equal(decimal.NewFromInt(40)))
			require.True(t, it.TaxRate.Equal(decimal.NewFromInt(5)))
			require.True(t, it.Stock.Equal(decimal.NewFromInt(100)))
			require.Equal(t, "CHAI-1", it.SKU)
			require.Equal(t, "v1", it.VendorID)
		}
	}
	require.True(t, chai)

	// Imports travel the normal mutation path, so each row is queued for sync.
	n, err := st.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestImportInventory(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	im := New(st, "v1", slog.New(slog.NewTextHandler(io.Discard, nil)))

	res, err := im.ImportInventory(ctx, workbook(t, [][]any{
		{"name", "quantity", "unit", "supplier", "reorder_level"},
		{"Milk", "12.5", "l", "Dairy Co", "3"},
		{"Tea Leaves", "not-a-number", "kg", "", ""},
	}))
	require.NoError(t, err)
	require.Equal(t, 2, res.TotalRows)
	require.Equal(t, 1, res.SuccessCount)
	require.Equal(t, 1, res.FailedCount)

	inv, err := st.ListInventory(ctx)
	require.NoError(t, err)
	require.Len(t, inv, 1)
	require.Equal(t, "Milk", inv[0].Name)
	require.True(t, inv[0].Quantity.Equal(decimal.RequireFromString("12.5")))
	require.True(t, inv[0].ReorderLevel.Equal(decimal.NewFromInt(3)))
}

func TestImportRejectsNonWorkbook(t *testing.T) {
	st := newTestStore(t)
	im := New(st, "v1", slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := im.ImportItems(context.Background(), bytes.NewReader([]byte("definitely,not,xlsx")))
	require.Error(t, err)
	require.ErrorContains(t, err, "failed to open workbook")
}
