// Package domain defines the typed records shared by the local store, the
// sync engine and the remote client. Every mutable entity carries
// created_at/updated_at timestamps, a synced flag and a soft-delete tombstone
// so that edits and deletions can be reconciled across devices.
package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// BillingMode selects whether a bill carries a tax breakdown.
type BillingMode string

const (
	ModeGST    BillingMode = "gst"
	ModeNonGST BillingMode = "non_gst"
)

// TaxMode describes how item prices relate to tax.
type TaxMode string

const (
	TaxExclusive TaxMode = "exclusive"
	TaxInclusive TaxMode = "inclusive"
)

// PaymentMode is how a bill was settled.
type PaymentMode string

const (
	PayCash PaymentMode = "cash"
	PayCard PaymentMode = "card"
	PayUPI  PaymentMode = "upi"
)

// Op is a pending mutation type carried by an outbox entry.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// EntityType names a syncable entity kind.
type EntityType string

const (
	EntityCategory  EntityType = "category"
	EntityItem      EntityType = "item"
	EntityInventory EntityType = "inventory"
	EntityBill      EntityType = "bill"
)

// Category groups sellable items. IDs are client-generated UUIDs so that
// offline creation never waits on the server.
type Category struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Active      bool       `json:"active"`
	SortOrder   int        `json:"sort_order"`
	VendorID    string     `json:"vendor_id"`
	Synced      bool       `json:"-"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Item is a sellable product.
type Item struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	BasePrice decimal.Decimal `json:"base_price"`
	ListPrice decimal.Decimal `json:"list_price"`
	TaxMode   TaxMode         `json:"tax_mode"`
	TaxRate   decimal.Decimal `json:"tax_rate"`
	Veg       bool            `json:"veg"`
	Discount  decimal.Decimal `json:"discount"`
	Stock     decimal.Decimal `json:"stock"`
	SKU       string          `json:"sku,omitempty"`
	Active    bool            `json:"active"`
	SortOrder int             `json:"sort_order"`
	ImageURL  string          `json:"image_url,omitempty"`
	ImagePath string          `json:"-"` // local cache path, never uploaded
	VendorID  string          `json:"vendor_id"`
	// CategoryIDs is the many-to-many link set, persisted in the
	// item_categories join table and carried in the sync payload.
	CategoryIDs []string   `json:"category_ids,omitempty"`
	Synced      bool       `json:"-"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ItemCategory links an item to a category. The (item, category) pair is
// unique.
type ItemCategory struct {
	ItemID     string `json:"item_id"`
	CategoryID string `json:"category_id"`
}

// InventoryItem is raw-material stock, distinct from sellable items.
// Quantity is decimal-valued and persisted as text to avoid float drift.
type InventoryItem struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Quantity      decimal.Decimal `json:"quantity"`
	Unit          string          `json:"unit,omitempty"`
	Supplier      string          `json:"supplier,omitempty"`
	SupplierPhone string          `json:"supplier_phone,omitempty"`
	ReorderLevel  decimal.Decimal `json:"reorder_level"`
	VendorID      string          `json:"vendor_id"`
	Synced        bool            `json:"-"`
	DeletedAt     *time.Time      `json:"deleted_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// LowStock reports whether the quantity has fallen to the reorder threshold.
func (v *InventoryItem) LowStock() bool {
	return v.Quantity.LessThanOrEqual(v.ReorderLevel)
}

// BillLine is one sold line on a bill, serialized as part of the bill record.
type BillLine struct {
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	TaxRate   decimal.Decimal `json:"tax_rate"`
	TaxAmount decimal.Decimal `json:"tax_amount"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// Bill is a sales record. Vendor header fields are snapshotted at creation
// time; later profile edits must not alter historical bills. Once FinalizedAt
// is set the financial fields are immutable.
type Bill struct {
	ID             string          `json:"id"`
	InvoiceNo      string          `json:"invoice_no"`
	Mode           BillingMode     `json:"mode"`
	VendorName     string          `json:"vendor_name"`
	VendorAddress  string          `json:"vendor_address,omitempty"`
	VendorTaxID    string          `json:"vendor_tax_id,omitempty"`
	Lines          []BillLine      `json:"lines"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxTotal       decimal.Decimal `json:"tax_total"`
	Total          decimal.Decimal `json:"total"`
	PaymentMode    PaymentMode     `json:"payment_mode"`
	PaymentRef     string          `json:"payment_ref,omitempty"`
	AmountPaid     decimal.Decimal `json:"amount_paid"`
	ChangeDue      decimal.Decimal `json:"change_due"`
	DeviceID       string          `json:"device_id"`
	FinalizedAt    *time.Time      `json:"finalized_at,omitempty"`
	Synced         bool            `json:"-"`
	DeletedAt      *time.Time      `json:"deleted_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Finalized reports whether the bill has been printed/closed and its
// financial fields are frozen.
func (b *Bill) Finalized() bool { return b.FinalizedAt != nil }

// VendorProfile is the cached copy of server-held business metadata used for
// offline bill headers. It is refreshed opportunistically and is never the
// source of truth for financial data.
type VendorProfile struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Address    string    `json:"address,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	Email      string    `json:"email,omitempty"`
	TaxID      string    `json:"tax_id,omitempty"`
	LogoURL    string    `json:"logo_url,omitempty"`
	FooterNote string    `json:"footer_note,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// OutboxEntry is one pending mutation awaiting delivery to the server.
// Payload is a snapshot taken when the mutation was committed, so an
// in-flight upload never races with a later local edit.
type OutboxEntry struct {
	ID         int64           `json:"id"`
	Op         Op              `json:"op"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	QueuedAt   time.Time       `json:"queued_at"`
	RetryCount int             `json:"retry_count"`
	LastError  string          `json:"last_error,omitempty"`
	Dead       bool            `json:"dead"`
	Synced     bool            `json:"synced"`
	SyncedAt   *time.Time      `json:"synced_at,omitempty"`
}

// InvoiceSequence holds the next invoice counter for one (mode, year) key.
type InvoiceSequence struct {
	Mode    BillingMode `json:"mode"`
	Year    int         `json:"year"`
	Prefix  string      `json:"prefix"`
	NextSeq int64       `json:"next_seq"`
}

// ReconciliationItem is an anomaly that must be resolved by an operator
// rather than by the sync engine, e.g. two devices claiming the same invoice
// number while offline.
type ReconciliationItem struct {
	ID         int64      `json:"id"`
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Code       string     `json:"code"`
	Detail     string     `json:"detail,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
