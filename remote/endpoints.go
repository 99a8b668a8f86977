package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/trenztechno/possync/domain"
)

// Per-entity CRUD. Each call returns the server-canonical record so callers
// can reconcile server-assigned fields.

func (c *Client) GetProfile(ctx context.Context) (*domain.VendorProfile, error) {
	var p domain.VendorProfile
	if err := c.do(ctx, http.MethodGet, "/auth/profile", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) UpdateProfile(ctx context.Context, p *domain.VendorProfile) (*domain.VendorProfile, error) {
	var out domain.VendorProfile
	if err := c.do(ctx, http.MethodPatch, "/auth/profile", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateCategory(ctx context.Context, cat *domain.Category) (*domain.Category, error) {
	var out domain.Category
	if err := c.do(ctx, http.MethodPost, "/items/categories", cat, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateCategory(ctx context.Context, cat *domain.Category) (*domain.Category, error) {
	var out domain.Category
	if err := c.do(ctx, http.MethodPatch, "/items/categories/"+url.PathEscape(cat.ID), cat, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteCategory(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/items/categories/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ListCategories(ctx context.Context) ([]domain.Category, error) {
	var out []domain.Category
	if err := c.do(ctx, http.MethodGet, "/items/categories", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateItem(ctx context.Context, it *domain.Item) (*domain.Item, error) {
	var out domain.Item
	if err := c.do(ctx, http.MethodPost, "/items", it, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateItem(ctx context.Context, it *domain.Item) (*domain.Item, error) {
	var out domain.Item
	if err := c.do(ctx, http.MethodPatch, "/items/"+url.PathEscape(it.ID), it, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteItem(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/items/"+url.PathEscape(id), nil, nil)
}

func (c *Client) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	var out domain.Item
	if err := c.do(ctx, http.MethodGet, "/items/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListItems(ctx context.Context) ([]domain.Item, error) {
	var out []domain.Item
	if err := c.do(ctx, http.MethodGet, "/items", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateInventoryItem(ctx context.Context, v *domain.InventoryItem) (*domain.InventoryItem, error) {
	var out domain.InventoryItem
	if err := c.do(ctx, http.MethodPost, "/inventory", v, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateInventoryItem(ctx context.Context, v *domain.InventoryItem) (*domain.InventoryItem, error) {
	var out domain.InventoryItem
	if err := c.do(ctx, http.MethodPatch, "/inventory/"+url.PathEscape(v.ID), v, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateInventoryStock(ctx context.Context, id, quantity string) (*domain.InventoryItem, error) {
	var out domain.InventoryItem
	if err := c.do(ctx, http.MethodPatch, "/inventory/"+url.PathEscape(id)+"/stock",
		&StockPatch{Quantity: quantity}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteInventoryItem(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/inventory/"+url.PathEscape(id), nil, nil)
}

func (c *Client) GetInventoryItem(ctx context.Context, id string) (*domain.InventoryItem, error) {
	var out domain.InventoryItem
	if err := c.do(ctx, http.MethodGet, "/inventory/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListInventory(ctx context.Context) ([]domain.InventoryItem, error) {
	var out []domain.InventoryItem
	if err := c.do(ctx, http.MethodGet, "/inventory", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateBill(ctx context.Context, b *domain.Bill) (*domain.Bill, error) {
	var out domain.Bill
	if err := c.do(ctx, http.MethodPost, "/bills", b, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateBill(ctx context.Context, b *domain.Bill) (*domain.Bill, error) {
	var out domain.Bill
	if err := c.do(ctx, http.MethodPatch, "/bills/"+url.PathEscape(b.ID), b, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteBill(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/bills/"+url.PathEscape(id), nil, nil)
}

func (c *Client) GetBill(ctx context.Context, id string) (*domain.Bill, error) {
	var out domain.Bill
	if err := c.do(ctx, http.MethodGet, "/bills/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListBills(ctx context.Context) ([]domain.Bill, error) {
	var out []domain.Bill
	if err := c.do(ctx, http.MethodGet, "/bills", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DownloadBackup fetches one page of server-side changes since the given
// time. Callers loop while HasMore, passing back the returned cursor.
func (c *Client) DownloadBackup(ctx context.Context, since time.Time, cursor string, limit int) (*DownloadPage, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("from", since.UTC().Format(time.RFC3339Nano))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	q.Set("limit", fmt.Sprintf("%d", limit))

	var page DownloadPage
	if err := c.do(ctx, http.MethodGet, "/backup/sync?"+q.Encode(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// UploadBackup pushes one or many bill records tagged with the device id.
// Replays are safe: records already present come back as skipped.
func (c *Client) UploadBackup(ctx context.Context, deviceID string, bills []domain.Bill) (*BackupUploadResponse, error) {
	var resp BackupUploadResponse
	if err := c.do(ctx, http.MethodPost, "/backup/sync",
		&BackupUploadRequest{DeviceID: deviceID, Bills: bills}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SyncItems sends an operation array for items.
func (c *Client) SyncItems(ctx context.Context, deviceID string, ops []BatchOp) (*BatchSyncResponse, error) {
	var resp BatchSyncResponse
	if err := c.do(ctx, http.MethodPost, "/items/sync",
		&BatchSyncRequest{DeviceID: deviceID, Ops: ops}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SyncCategories sends an operation array for categories.
func (c *Client) SyncCategories(ctx context.Context, deviceID string, ops []BatchOp) (*BatchSyncResponse, error) {
	var resp BatchSyncResponse
	if err := c.do(ctx, http.MethodPost, "/items/categories/sync",
		&BatchSyncRequest{DeviceID: deviceID, Ops: ops}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
