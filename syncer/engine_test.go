package syncer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/trenztechno/possync/domain"
	"github.com/trenztechno/possync/remote"
	"github.com/trenztechno/possync/store"
)

// fakeBackend is a minimal in-memory stand-in for the POS API. Batch
// endpoints answer per-record statuses from statusFor (default applied);
// failWith forces every endpoint to return one HTTP status.
type fakeBackend struct {
	mu            sync.Mutex
	statusFor     map[string]string
	failWith      int
	requests      []string
	pages         []remote.DownloadPage
	pageIdx       int
	cursors       []string
	froms         []string
	profile       *domain.VendorProfile
	profileStatus int
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	if f.failWith != 0 {
		w.WriteHeader(f.failWith)
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/auth/profile":
		if f.profileStatus != 0 {
			w.WriteHeader(f.profileStatus)
			return
		}
		if f.profile != nil {
			_ = json.NewEncoder(w).Encode(f.profile)
			return
		}
		_, _ = w.Write([]byte(`{}`))

	case r.Method == http.MethodPost && (r.URL.Path == "/items/categories/sync" || r.URL.Path == "/items/sync"):
		var req remote.BatchSyncRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := remote.BatchSyncResponse{}
		for _, op := range req.Ops {
			resp.Results = append(resp.Results, remote.OpResult{EntityID: op.EntityID, Status: f.status(op.EntityID)})
		}
		_ = json.NewEncoder(w).Encode(resp)

	case r.Method == http.MethodPost && r.URL.Path == "/backup/sync":
		var req remote.BackupUploadRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := remote.BackupUploadResponse{}
		for _, b := range req.Bills {
			resp.Results = append(resp.Results, remote.OpResult{EntityID: b.ID, Status: f.status(b.ID)})
		}
		_ = json.NewEncoder(w).Encode(resp)

	case r.Method == http.MethodGet && r.URL.Path == "/backup/sync":
		f.froms = append(f.froms, r.URL.Query().Get("from"))
		f.cursors = append(f.cursors, r.URL.Query().Get("cursor"))
		if f.pageIdx < len(f.pages) {
			_ = json.NewEncoder(w).Encode(f.pages[f.pageIdx])
			f.pageIdx++
			return
		}
		_ = json.NewEncoder(w).Encode(remote.DownloadPage{ServerTime: time.Now().UTC()})

	default:
		// Per-entity CRUD: echo an empty record.
		_, _ = w.Write([]byte(`{}`))
	}
}

func (f *fakeBackend) status(entityID string) string {
	if s, ok := f.statusFor[entityID]; ok {
		return s
	}
	return remote.StatusApplied
}

func (f *fakeBackend) requestLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func newTestEngine(t *testing.T, backend *fakeBackend) (*Engine, *store.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Initialize(context.Background()))

	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)
	client := remote.NewClient(srv.URL,
		func(ctx context.Context) (string, error) { return "test-token", nil }, logger)

	return New(st, client, "dev-1", DefaultConfig(), logger), st
}

func makeBill(t *testing.T, id, invoiceNo string) *domain.Bill {
	t.Helper()
	b, err := domain.NewBill(id, invoiceNo, "dev-1", domain.ModeGST, domain.TaxExclusive,
		domain.VendorProfile{Name: "Chai Corner"},
		[]domain.BillLine{{Name: "Chai", Price: decimal.NewFromInt(40), Quantity: decimal.NewFromInt(2), TaxRate: decimal.NewFromInt(5)}},
		decimal.Zero, domain.PayCash, "", decimal.NewFromInt(100))
	require.NoError(t, err)
	return b
}

func TestUploadDrainsInDependencyOrder(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{}
	eng, st := newTestEngine(t, backend)

	// Queue in deliberately interleaved order; the drain regroups so parents
	// reach the server before children.
	require.NoError(t, st.CreateBill(ctx, makeBill(t, "b1", "INV-2026-00001")))
	require.NoError(t, st.CreateItem(ctx, &domain.Item{
		ID: "i1", Name: "Chai", BasePrice: decimal.NewFromInt(40), ListPrice: decimal.NewFromInt(40),
		TaxMode: domain.TaxExclusive, Active: true, VendorID: "v1",
	}))
	require.NoError(t, st.CreateInventoryItem(ctx, &domain.InventoryItem{
		ID: "inv1", Name: "Milk", Quantity: decimal.NewFromInt(5), VendorID: "v1",
	}))
	require.NoError(t, st.CreateCategory(ctx, &domain.Category{ID: "c1", Name: "Drinks", Active: true, VendorID: "v1"}))

	require.NoError(t, eng.UploadOnce(ctx))

	log := backend.requestLog()
	require.Equal(t, []string{
		"POST /items/categories/sync",
		"POST /items/sync",
		"POST /inventory",
		"POST /backup/sync",
	}, log)

	n, err := eng.PendingSyncCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	// Acks flip the business rows' synced flag.
	c, err := st.GetCategory(ctx, "c1")
	require.NoError(t, err)
	require.True(t, c.Synced)
	b, err := st.GetBill(ctx, "b1")
	require.NoError(t, err)
	require.True(t, b.Synced)
}

func TestUploadCoalescesConcurrentTriggers(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{}
	eng, st := newTestEngine(t, backend)

	require.NoError(t, st.CreateCategory(ctx, &domain.Category{ID: "c1", Name: "Drinks", Active: true, VendorID: "v1"}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = eng.UploadOnce(ctx)
		}()
	}
	wg.Wait()

	// At most one drain reached the server; replays would also be harmless
	// but the coalescing keeps them from happening at all here.
	count := 0
	for _, req := range backend.requestLog() {
		if strings.HasSuffix(req, "/items/categories/sync") {
			count++
		}
	}
	require.LessOrEqual(t, count, 1)
}

func TestUploadSkippedCountsAsAck(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{statusFor: map[string]string{"b1": remote.StatusSkipped}}
	eng, st := newTestEngine(t, backend)

	require.NoError(t, st.CreateBill(ctx, makeBill(t, "b1", "INV-2026-00001")))
	require.NoError(t, eng.UploadOnce(ctx))

	n, err := eng.PendingSyncCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	dead, err := st.DeadLetters(ctx)
	require.NoError(t, err)
	require.Empty(t, dead)
}

func TestNumberingConflictFlagsReconciliation(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{statusFor: map[string]string{"b1": remote.StatusNumberingConflict}}
	eng, st := newTestEngine(t, backend)

	require.NoError(t, st.CreateBill(ctx, makeBill(t, "b1", "INV-2026-00007")))
	require.NoError(t, eng.UploadOnce(ctx))

	dead, err := st.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	require.Equal(t, "b1", dead[0].EntityID)

	items, err := st.ReconciliationItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "numbering_conflict", items[0].Code)
	require.Equal(t, "b1", items[0].EntityID)

	// The local bill is never renumbered automatically.
	b, err := st.GetBill(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, "INV-2026-00007", b.InvoiceNo)
}

func TestRejectedEntryIsDeadLettered(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{statusFor: map[string]string{"c1": remote.StatusRejected}}
	eng, st := newTestEngine(t, backend)

	require.NoError(t, st.CreateCategory(ctx, &domain.Category{ID: "c1", Name: "Drinks", Active: true, VendorID: "v1"}))
	require.NoError(t, eng.UploadOnce(ctx))

	n, err := eng.PendingSyncCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	dead, err := st.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	require.Contains(t, dead[0].LastError, "rejected")
}

func TestServerFaultLeavesQueueIntact(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{failWith: http.StatusBadGateway}
	eng, st := newTestEngine(t, backend)

	require.NoError(t, st.CreateCategory(ctx, &domain.Category{ID: "c1", Name: "Drinks", Active: true, VendorID: "v1"}))
	require.Error(t, eng.UploadOnce(ctx))

	// An outage must not burn the retry budget; entries wait untouched.
	entries, err := st.Drain(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, 0, entries[0].RetryCount)
	require.False(t, eng.AuthHalted())
}

func TestAuthExpiryHaltsEngine(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{failWith: http.StatusUnauthorized}
	eng, st := newTestEngine(t, backend)

	require.NoError(t, st.CreateCategory(ctx, &domain.Category{ID: "c1", Name: "Drinks", Active: true, VendorID: "v1"}))
	require.Error(t, eng.UploadOnce(ctx))
	require.True(t, eng.AuthHalted())

	// Entries stay queued for after re-login.
	n, err := eng.PendingSyncCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	eng.ResumeAfterAuth()
	require.False(t, eng.AuthHalted())
}

func TestDownloadAppliesPagesAndAdvancesCheckpoint(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

	cat := domain.Category{ID: "c1", Name: "Drinks", Active: true, VendorID: "v1", CreatedAt: now, UpdatedAt: now}
	catJSON, _ := json.Marshal(cat)
	item := domain.Item{ID: "i1", Name: "Chai", BasePrice: decimal.NewFromInt(40), ListPrice: decimal.NewFromInt(40),
		TaxMode: domain.TaxExclusive, Active: true, VendorID: "v1", CreatedAt: now, UpdatedAt: now}
	itemJSON, _ := json.Marshal(item)

	backend := &fakeBackend{pages: []remote.DownloadPage{
		{
			Changes:    []remote.ChangeRecord{{EntityType: domain.EntityCategory, EntityID: "c1", Payload: catJSON, UpdatedAt: now}},
			HasMore:    true,
			Cursor:     "page-2",
			ServerTime: now.Add(time.Second),
		},
		{
			Changes:    []remote.ChangeRecord{{EntityType: domain.EntityItem, EntityID: "i1", Payload: itemJSON, UpdatedAt: now}},
			ServerTime: now.Add(2 * time.Second),
		},
	}}
	eng, st := newTestEngine(t, backend)

	applied, err := eng.DownloadOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, applied)

	// Second request carried the cursor from the first page.
	require.Equal(t, []string{"", "page-2"}, backend.cursors)
	// The very first download has no watermark.
	require.Equal(t, "", backend.froms[0])

	c, err := st.GetCategory(ctx, "c1")
	require.NoError(t, err)
	require.True(t, c.Synced)
	_, err = st.GetItem(ctx, "i1")
	require.NoError(t, err)

	cp, err := st.Checkpoint(ctx)
	require.NoError(t, err)
	require.True(t, cp.Equal(now.Add(2*time.Second)))

	// The next cycle resumes from the stored watermark.
	_, err = eng.DownloadOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, now.Add(2*time.Second).Format(time.RFC3339Nano), backend.froms[2])
}

func TestDownloadKeepsNewerLocalVersion(t *testing.T) {
	ctx := context.Background()
	remoteTime := time.Now().UTC().Add(-time.Hour)

	stale := domain.Category{ID: "c1", Name: "Old Name", Active: true, VendorID: "v1",
		CreatedAt: remoteTime, UpdatedAt: remoteTime}
	staleJSON, _ := json.Marshal(stale)

	backend := &fakeBackend{pages: []remote.DownloadPage{{
		Changes:    []remote.ChangeRecord{{EntityType: domain.EntityCategory, EntityID: "c1", Payload: staleJSON, UpdatedAt: remoteTime}},
		ServerTime: time.Now().UTC(),
	}}}
	eng, st := newTestEngine(t, backend)

	// Local edit is newer than the incoming change.
	require.NoError(t, st.CreateCategory(ctx, &domain.Category{ID: "c1", Name: "Fresh Name", Active: true, VendorID: "v1"}))

	applied, err := eng.DownloadOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, applied)

	c, err := st.GetCategory(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "Fresh Name", c.Name)
}

func TestDownloadAppliesRemoteTombstone(t *testing.T) {
	ctx := context.Background()
	eng, st := newTestEngine(t, &fakeBackend{})

	require.NoError(t, st.CreateCategory(ctx, &domain.Category{ID: "c1", Name: "Drinks", Active: true, VendorID: "v1"}))
	local, err := st.GetCategory(ctx, "c1")
	require.NoError(t, err)

	tombTime := local.UpdatedAt.Add(time.Minute)
	payload, _ := json.Marshal(domain.Category{ID: "c1", Name: "Drinks", VendorID: "v1",
		CreatedAt: local.CreatedAt, UpdatedAt: tombTime})

	ok, err := eng.applyChange(ctx, &remote.ChangeRecord{
		EntityType: domain.EntityCategory, EntityID: "c1",
		Payload: payload, Deleted: true, UpdatedAt: tombTime,
	})
	require.NoError(t, err)
	require.True(t, ok)

	// Tombstone applied: hidden from listings, retained for retention window.
	cats, err := st.ListCategories(ctx)
	require.NoError(t, err)
	require.Empty(t, cats)
	c, err := st.GetCategory(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, c.DeletedAt)
}

func TestDownloadPendingLocalDeleteWins(t *testing.T) {
	ctx := context.Background()
	eng, st := newTestEngine(t, &fakeBackend{})

	require.NoError(t, st.CreateCategory(ctx, &domain.Category{ID: "c1", Name: "Drinks", Active: true, VendorID: "v1"}))
	require.NoError(t, st.DeleteCategory(ctx, "c1"))

	// A remote update newer than the local delete still loses while the
	// delete is unacknowledged.
	future := time.Now().UTC().Add(time.Hour)
	payload, _ := json.Marshal(domain.Category{ID: "c1", Name: "Revived", VendorID: "v1", UpdatedAt: future})

	ok, err := eng.applyChange(ctx, &remote.ChangeRecord{
		EntityType: domain.EntityCategory, EntityID: "c1",
		Payload: payload, UpdatedAt: future,
	})
	require.NoError(t, err)
	require.False(t, ok)

	c, err := st.GetCategory(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, c.DeletedAt)
}

func TestDownloadRefreshesProfileCache(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{profile: &domain.VendorProfile{
		ID: "v1", Name: "Chai Corner", Address: "12 MG Road", TaxID: "GSTIN123",
		UpdatedAt: time.Now().UTC(),
	}}
	eng, st := newTestEngine(t, backend)

	_, err := eng.DownloadOnce(ctx)
	require.NoError(t, err)

	p, err := st.Profile(ctx)
	require.NoError(t, err)
	require.Equal(t, "Chai Corner", p.Name)
	require.Equal(t, "GSTIN123", p.TaxID)
}

func TestProfileRefreshFailureDoesNotFailMerge(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	cat := domain.Category{ID: "c1", Name: "Drinks", Active: true, VendorID: "v1", CreatedAt: now, UpdatedAt: now}
	catJSON, _ := json.Marshal(cat)

	backend := &fakeBackend{
		profileStatus: http.StatusBadGateway,
		pages: []remote.DownloadPage{{
			Changes:    []remote.ChangeRecord{{EntityType: domain.EntityCategory, EntityID: "c1", Payload: catJSON, UpdatedAt: now}},
			ServerTime: now,
		}},
	}
	eng, st := newTestEngine(t, backend)

	applied, err := eng.DownloadOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, applied)

	// Merge landed and the checkpoint advanced despite the profile fault.
	_, err = st.GetCategory(ctx, "c1")
	require.NoError(t, err)
	cp, err := st.Checkpoint(ctx)
	require.NoError(t, err)
	require.True(t, cp.Equal(now))

	// No stale profile was invented.
	_, err = st.Profile(ctx)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRemoteEditToFinalizedBillIsAnomaly(t *testing.T) {
	ctx := context.Background()
	eng, st := newTestEngine(t, &fakeBackend{})

	b := makeBill(t, "b1", "INV-2026-00001")
	require.NoError(t, st.CreateBill(ctx, b))
	require.NoError(t, st.FinalizeBill(ctx, "b1", time.Now()))

	local, err := st.GetBill(ctx, "b1")
	require.NoError(t, err)

	// Remote version with a different total, newer than the local record.
	tampered := *local
	tampered.Total = local.Total.Add(decimal.NewFromInt(50))
	tampered.UpdatedAt = local.UpdatedAt.Add(time.Hour)
	payload, _ := json.Marshal(tampered)

	ok, err := eng.applyChange(ctx, &remote.ChangeRecord{
		EntityType: domain.EntityBill, EntityID: "b1",
		Payload: payload, UpdatedAt: tampered.UpdatedAt,
	})
	require.NoError(t, err)
	require.False(t, ok)

	// Local financials untouched, anomaly flagged.
	got, err := st.GetBill(ctx, "b1")
	require.NoError(t, err)
	require.True(t, got.Total.Equal(local.Total))

	items, err := st.ReconciliationItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "finalized_bill_edit", items[0].Code)
}
