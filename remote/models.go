package remote

import (
	"encoding/json"
	"time"

	"github.com/trenztechno/possync/domain"
)

// Wire models for the POS backend REST API.

// LoginRequest authenticates a vendor account.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the bearer token and the vendor profile.
type LoginResponse struct {
	Token   string               `json:"token"`
	Profile domain.VendorProfile `json:"vendor"`
}

// ChangeRecord is one server-side change in a bulk download page. Payload
// is always present — tombstoned records carry their last known payload so
// devices that never saw the record can still materialize the tombstone.
type ChangeRecord struct {
	EntityType domain.EntityType `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
	Deleted    bool              `json:"deleted"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// DownloadPage is a page of server changes. Callers loop while HasMore.
type DownloadPage struct {
	Changes    []ChangeRecord `json:"changes"`
	HasMore    bool           `json:"has_more"`
	Cursor     string         `json:"cursor,omitempty"`
	ServerTime time.Time      `json:"server_time"`
}

// Per-operation result statuses returned by batch endpoints.
const (
	StatusApplied           = "applied"
	StatusSkipped           = "skipped" // already present; idempotent replay
	StatusRejected          = "rejected"
	StatusNumberingConflict = "numbering_conflict"
)

// OpResult is the per-record outcome of a batch upload.
type OpResult struct {
	EntityID string `json:"entity_id"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
}

// BackupUploadRequest uploads one or many bill records tagged with the
// originating device.
type BackupUploadRequest struct {
	DeviceID string        `json:"device_id"`
	Bills    []domain.Bill `json:"bills"`
}

// BackupUploadResponse reports counts plus per-record outcomes. Skipped
// means the record was already present, which makes retried uploads safe.
type BackupUploadResponse struct {
	Created int        `json:"created"`
	Updated int        `json:"updated"`
	Skipped int        `json:"skipped"`
	Results []OpResult `json:"results"`
}

// BatchOp is one operation in an /items/sync or /items/categories/sync
// array.
type BatchOp struct {
	Op       domain.Op       `json:"op"`
	EntityID string          `json:"entity_id"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// BatchSyncRequest carries an operation array for one entity type.
type BatchSyncRequest struct {
	DeviceID string    `json:"device_id"`
	Ops      []BatchOp `json:"ops"`
}

// BatchSyncResponse reports per-operation outcomes in request order.
type BatchSyncResponse struct {
	Results []OpResult `json:"results"`
}

// StockPatch adjusts a single inventory item's quantity.
type StockPatch struct {
	Quantity string `json:"quantity"`
}

// apiError is the backend's error envelope.
type apiError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
