// Package syncer drives convergence between the local store and the POS
// backend: an upload loop that drains the outbox and a download/merge loop
// that applies server changes through the conflict resolver.
package syncer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trenztechno/possync/remote"
	"github.com/trenztechno/possync/store"
)

// Config tunes the engine loops.
type Config struct {
	UploadInterval   time.Duration // periodic upload trigger
	DownloadInterval time.Duration // periodic download trigger
	UploadBatchSize  int           // outbox entries drained per cycle
	DownloadLimit    int           // records requested per page
	BackoffMin       time.Duration
	BackoffMax       time.Duration
	// TombstoneRetention is how long soft-deleted, synced rows are kept
	// before physical purge.
	TombstoneRetention time.Duration
}

// DefaultConfig mirrors the backend's batch limits.
func DefaultConfig() Config {
	return Config{
		UploadInterval:     30 * time.Second,
		DownloadInterval:   2 * time.Minute,
		UploadBatchSize:    200,
		DownloadLimit:      500,
		BackoffMin:         1 * time.Second,
		BackoffMax:         60 * time.Second,
		TombstoneRetention: 90 * 24 * time.Hour,
	}
}

// Engine owns the two sync loops. Only one upload drain and one download
// merge run at a time; triggers arriving while a cycle is in flight coalesce
// into a no-op.
type Engine struct {
	store    *store.Store
	remote   *remote.Client
	deviceID string
	config   Config
	logger   *slog.Logger
	resolver *Resolver

	uploadMu   sync.Mutex
	downloadMu sync.Mutex

	uploadKick   chan struct{}
	downloadKick chan struct{}

	// authHalted stops both loops after a 401 until ResumeAfterAuth.
	authHalted int32

	lastPurge atomic.Int64 // unix seconds of last tombstone purge
}

// New creates an engine. deviceID is the persisted device attribution id.
func New(st *store.Store, rc *remote.Client, deviceID string, config Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:        st,
		remote:       rc,
		deviceID:     deviceID,
		config:       config,
		logger:       logger,
		resolver:     &Resolver{logger: logger},
		uploadKick:   make(chan struct{}, 1),
		downloadKick: make(chan struct{}, 1),
	}
}

// Start launches the uploader and downloader loops. They stop when ctx is
// cancelled.
func (e *Engine) Start(ctx context.Context) {
	go e.uploaderLoop(ctx)
	go e.downloaderLoop(ctx)
}

// TriggerUpload requests an upload cycle (app foreground, network-available
// transition). A trigger during an in-flight cycle coalesces.
func (e *Engine) TriggerUpload() {
	select {
	case e.uploadKick <- struct{}{}:
	default:
	}
}

// TriggerDownload requests a download/merge cycle.
func (e *Engine) TriggerDownload() {
	select {
	case e.downloadKick <- struct{}{}:
	default:
	}
}

// AuthHalted reports whether sync is stopped awaiting re-authentication.
func (e *Engine) AuthHalted() bool { return atomic.LoadInt32(&e.authHalted) == 1 }

// ResumeAfterAuth clears the auth halt after a successful re-login and kicks
// both loops.
func (e *Engine) ResumeAfterAuth() {
	atomic.StoreInt32(&e.authHalted, 0)
	e.TriggerUpload()
	e.TriggerDownload()
}

func (e *Engine) haltForAuth() {
	if atomic.CompareAndSwapInt32(&e.authHalted, 0, 1) {
		e.logger.Warn("authentication expired, sync halted until re-login")
	}
}

// PendingSyncCount is the number of outbox entries awaiting delivery,
// surfaced to the UI.
func (e *Engine) PendingSyncCount(ctx context.Context) (int, error) {
	return e.store.PendingCount(ctx)
}

func (e *Engine) uploaderLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.UploadInterval)
	defer ticker.Stop()

	backoff := e.config.BackoffMin
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.uploadKick:
		}

		if e.AuthHalted() {
			continue
		}
		if err := e.UploadOnce(ctx); err != nil {
			e.logger.Warn("upload cycle failed, backing off", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, e.config.BackoffMax)
		} else {
			backoff = e.config.BackoffMin
		}
	}
}

func (e *Engine) downloaderLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.DownloadInterval)
	defer ticker.Stop()

	backoff := e.config.BackoffMin
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.downloadKick:
		}

		if e.AuthHalted() {
			continue
		}
		if _, err := e.DownloadOnce(ctx); err != nil {
			e.logger.Warn("download cycle failed, backing off", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, e.config.BackoffMax)
		} else {
			backoff = e.config.BackoffMin
		}
	}
}
