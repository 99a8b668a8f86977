package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TotalTolerance is the maximum acceptable drift between a bill's stored
// total and the recomputed sum of its lines, in currency units.
var TotalTolerance = decimal.RequireFromString("0.01")

var hundred = decimal.NewFromInt(100)

// Totals is the financial breakdown of a bill.
type Totals struct {
	Subtotal decimal.Decimal
	TaxTotal decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// ComputeTotals fills TaxAmount/LineTotal on each line and returns the bill
// breakdown. For exclusive pricing, tax is added on top of price*qty; for
// inclusive pricing the tax portion is extracted out of the gross amount.
// Non-GST bills carry no tax regardless of line rates.
func ComputeTotals(mode BillingMode, taxMode TaxMode, lines []BillLine, discount decimal.Decimal) ([]BillLine, Totals, error) {
	if len(lines) == 0 {
		return nil, Totals{}, fmt.Errorf("bill must have at least one line")
	}

	out := make([]BillLine, len(lines))
	subtotal := decimal.Zero
	taxTotal := decimal.Zero

	for i, ln := range lines {
		if ln.Price.IsNegative() || !ln.Quantity.IsPositive() {
			return nil, Totals{}, fmt.Errorf("invalid line %q: price=%s qty=%s", ln.Name, ln.Price, ln.Quantity)
		}
		gross := ln.Price.Mul(ln.Quantity)

		var base, tax decimal.Decimal
		switch {
		case mode == ModeNonGST || ln.TaxRate.IsZero():
			base, tax = gross, decimal.Zero
		case taxMode == TaxInclusive:
			// price already contains tax; extract the tax portion
			base = gross.Div(decimal.NewFromInt(1).Add(ln.TaxRate.Div(hundred))).Round(2)
			tax = gross.Sub(base)
		default:
			base = gross
			tax = gross.Mul(ln.TaxRate).Div(hundred).Round(2)
		}

		ln.TaxAmount = tax
		ln.LineTotal = base.Add(tax)
		out[i] = ln

		subtotal = subtotal.Add(base)
		taxTotal = taxTotal.Add(tax)
	}

	if discount.IsNegative() {
		return nil, Totals{}, fmt.Errorf("discount cannot be negative")
	}

	t := Totals{
		Subtotal: subtotal.Round(2),
		TaxTotal: taxTotal.Round(2),
		Discount: discount.Round(2),
	}
	t.Total = t.Subtotal.Add(t.TaxTotal).Sub(t.Discount).Round(2)
	return out, t, nil
}

// CheckTotals verifies the bill invariant subtotal + tax - discount == total
// within TotalTolerance.
func (b *Bill) CheckTotals() error {
	want := b.Subtotal.Add(b.TaxTotal).Sub(b.DiscountAmount)
	if want.Sub(b.Total).Abs().GreaterThan(TotalTolerance) {
		return fmt.Errorf("bill %s totals do not balance: subtotal=%s tax=%s discount=%s total=%s",
			b.ID, b.Subtotal, b.TaxTotal, b.DiscountAmount, b.Total)
	}
	return nil
}

// NewBill assembles a bill from its lines, snapshotting the vendor header
// from the given profile. Totals are computed here, at creation time, so the
// invariant can never be retrofitted onto a bad record.
func NewBill(id, invoiceNo, deviceID string, mode BillingMode, taxMode TaxMode,
	profile VendorProfile, lines []BillLine, discount decimal.Decimal,
	payment PaymentMode, paymentRef string, amountPaid decimal.Decimal) (*Bill, error) {

	computed, totals, err := ComputeTotals(mode, taxMode, lines, discount)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	b := &Bill{
		ID:             id,
		InvoiceNo:      invoiceNo,
		Mode:           mode,
		VendorName:     profile.Name,
		VendorAddress:  profile.Address,
		VendorTaxID:    profile.TaxID,
		Lines:          computed,
		Subtotal:       totals.Subtotal,
		DiscountAmount: totals.Discount,
		TaxTotal:       totals.TaxTotal,
		Total:          totals.Total,
		PaymentMode:    payment,
		PaymentRef:     paymentRef,
		AmountPaid:     amountPaid,
		ChangeDue:      decimal.Max(amountPaid.Sub(totals.Total), decimal.Zero),
		DeviceID:       deviceID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := b.CheckTotals(); err != nil {
		return nil, err
	}
	return b, nil
}
