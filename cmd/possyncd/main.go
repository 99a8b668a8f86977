// possyncd runs the offline-first sync engine for one POS device: it opens
// the local store, drains the outbox to the backend and merges server
// changes back down until interrupted.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/trenztechno/possync/config"
	"github.com/trenztechno/possync/remote"
	"github.com/trenztechno/possync/store"
	"github.com/trenztechno/possync/syncer"
)

func main() {
	_ = godotenv.Load()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("possyncd exited with error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	st.InvoicePrefix = cfg.InvoicePrefix

	if err := st.Initialize(ctx); err != nil {
		return err
	}

	deviceID, err := st.EnsureDeviceID(ctx)
	if err != nil {
		return err
	}
	logger.Info("local store ready", "db", cfg.DBPath, "device_id", deviceID)

	tokenSource := func(ctx context.Context) (string, error) {
		token, _, err := st.Session(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		if remote.TokenExpired(token, time.Now()) {
			return "", remote.ErrAuthExpired
		}
		return token, nil
	}
	client := remote.NewClient(cfg.APIBaseURL, tokenSource, logger)

	engineCfg := syncer.DefaultConfig()
	engineCfg.UploadInterval = cfg.UploadEvery
	engineCfg.DownloadInterval = cfg.DownloadEvery
	engineCfg.UploadBatchSize = cfg.UploadBatch
	engineCfg.DownloadLimit = cfg.DownloadLimit
	engineCfg.TombstoneRetention = time.Duration(cfg.TombstoneDays) * 24 * time.Hour

	engine := syncer.New(st, client, deviceID, engineCfg, logger)
	engine.Start(ctx)
	engine.TriggerUpload()
	engine.TriggerDownload()

	logger.Info("sync engine running", "api", cfg.APIBaseURL)
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
