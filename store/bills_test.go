package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/trenztechno/possync/domain"
)

func testBill(t *testing.T, id, invoiceNo string) *domain.Bill {
	t.Helper()
	b, err := domain.NewBill(id, invoiceNo, "dev-1", domain.ModeGST, domain.TaxExclusive,
		domain.VendorProfile{Name: "Chai Corner", Address: "12 MG Road", TaxID: "GSTIN123"},
		[]domain.BillLine{
			{Name: "Masala Chai", Price: decimal.RequireFromString("40"), Quantity: decimal.NewFromInt(2), TaxRate: decimal.NewFromInt(5)},
			{Name: "Samosa", Price: decimal.RequireFromString("25"), Quantity: decimal.NewFromInt(1), TaxRate: decimal.NewFromInt(5)},
		},
		decimal.Zero, domain.PayCash, "", decimal.RequireFromString("120"))
	require.NoError(t, err)
	return b
}

func TestCreateBillRejectsUnbalancedTotals(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	b := testBill(t, "b1", "INV-2026-00001")
	b.Total = b.Total.Add(decimal.NewFromInt(5)) // corrupt the invariant

	err := st.CreateBill(ctx, b)
	require.Error(t, err)
	require.ErrorContains(t, err, "totals do not balance")

	// Nothing persisted, nothing queued.
	_, err = st.GetBill(ctx, "b1")
	require.ErrorIs(t, err, ErrNotFound)
	n, err := st.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestBillRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	b := testBill(t, "b1", "INV-2026-00001")
	require.NoError(t, st.CreateBill(ctx, b))

	got, err := st.GetBill(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, "INV-2026-00001", got.InvoiceNo)
	require.Equal(t, "Chai Corner", got.VendorName)
	require.Len(t, got.Lines, 2)
	require.True(t, got.Subtotal.Equal(decimal.RequireFromString("105")))
	require.True(t, got.TaxTotal.Equal(decimal.RequireFromString("5.25")))
	require.True(t, got.Total.Equal(decimal.RequireFromString("110.25")))
	require.True(t, got.ChangeDue.Equal(decimal.RequireFromString("9.75")))
	require.False(t, got.Finalized())
}

func TestFinalizeBillQueuesFullSnapshot(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	b := testBill(t, "b1", "INV-2026-00001")
	require.NoError(t, st.CreateBill(ctx, b))
	require.NoError(t, st.FinalizeBill(ctx, "b1", time.Now()))

	got, err := st.GetBill(ctx, "b1")
	require.NoError(t, err)
	require.True(t, got.Finalized())

	entries, err := st.Drain(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, domain.OpUpdate, entries[1].Op)
	require.Contains(t, string(entries[1].Payload), "finalized_at")

	// Finalizing twice is rejected.
	require.ErrorIs(t, st.FinalizeBill(ctx, "b1", time.Now()), ErrNotFound)
}

func TestListBillsExcludesVoided(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	require.NoError(t, st.CreateBill(ctx, testBill(t, "b1", "INV-2026-00001")))
	require.NoError(t, st.CreateBill(ctx, testBill(t, "b2", "INV-2026-00002")))
	require.NoError(t, st.DeleteBill(ctx, "b1"))

	bills, err := st.ListBills(ctx, 10)
	require.NoError(t, err)
	require.Len(t, bills, 1)
	require.Equal(t, "b2", bills[0].ID)

	// The voided record remains for audit and sync.
	got, err := st.GetBill(ctx, "b1")
	require.NoError(t, err)
	require.NotNil(t, got.DeletedAt)
}

func TestItemCategoryLinks(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	require.NoError(t, st.CreateCategory(ctx, &domain.Category{ID: "c1", Name: "Drinks", Active: true, VendorID: "v1"}))
	require.NoError(t, st.CreateCategory(ctx, &domain.Category{ID: "c2", Name: "Hot", Active: true, VendorID: "v1"}))

	it := &domain.Item{
		ID: "i1", Name: "Masala Chai",
		BasePrice: decimal.NewFromInt(40), ListPrice: decimal.NewFromInt(40),
		TaxMode: domain.TaxExclusive, TaxRate: decimal.NewFromInt(5),
		Active: true, VendorID: "v1",
		CategoryIDs: []string{"c1", "c2"},
	}
	require.NoError(t, st.CreateItem(ctx, it))

	got, err := st.GetItem(ctx, "i1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"c1", "c2"}, got.CategoryIDs)

	inC1, err := st.ListItemsByCategory(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, inC1, 1)

	// Re-linking replaces the whole set.
	it.CategoryIDs = []string{"c2"}
	require.NoError(t, st.UpdateItem(ctx, it))
	got, err = st.GetItem(ctx, "i1")
	require.NoError(t, err)
	require.Equal(t, []string{"c2"}, got.CategoryIDs)

	// Deleting a category clears its join rows.
	require.NoError(t, st.DeleteCategory(ctx, "c2"))
	got, err = st.GetItem(ctx, "i1")
	require.NoError(t, err)
	require.Empty(t, got.CategoryIDs)
}

func TestAdjustStockAndLowStock(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	inv := &domain.InventoryItem{
		ID: "inv1", Name: "Milk",
		Quantity:     decimal.NewFromInt(10),
		ReorderLevel: decimal.NewFromInt(3),
		Unit:         "l", VendorID: "v1",
	}
	require.NoError(t, st.CreateInventoryItem(ctx, inv))

	require.NoError(t, st.AdjustInventoryQuantity(ctx, "inv1", decimal.RequireFromString("-7.5")))
	got, err := st.GetInventoryItem(ctx, "inv1")
	require.NoError(t, err)
	require.True(t, got.Quantity.Equal(decimal.RequireFromString("2.5")))
	require.True(t, got.LowStock())

	low, err := st.ListLowStock(ctx)
	require.NoError(t, err)
	require.Len(t, low, 1)
	require.Equal(t, "inv1", low[0].ID)
}
