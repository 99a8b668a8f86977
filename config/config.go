// Package config loads daemon settings from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DBPath         string
	APIBaseURL     string
	InvoicePrefix  string
	UploadEvery    time.Duration
	DownloadEvery  time.Duration
	UploadBatch    int
	DownloadLimit  int
	TombstoneDays  int
}

func Load() Config {
	return Config{
		DBPath:        getEnv("POS_DB_PATH", "possync.db"),
		APIBaseURL:    getEnv("POS_API_BASE_URL", "http://localhost:8080"),
		InvoicePrefix: getEnv("POS_INVOICE_PREFIX", "INV"),
		UploadEvery:   getDuration("POS_UPLOAD_INTERVAL_SECONDS", 30),
		DownloadEvery: getDuration("POS_DOWNLOAD_INTERVAL_SECONDS", 120),
		UploadBatch:   getInt("POS_UPLOAD_BATCH", 200),
		DownloadLimit: getInt("POS_DOWNLOAD_LIMIT", 500),
		TombstoneDays: getInt("POS_TOMBSTONE_RETENTION_DAYS", 90),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v < 1 {
		return fallback
	}
	return v
}

func getDuration(key string, fallbackSeconds int) time.Duration {
	return time.Duration(getInt(key, fallbackSeconds)) * time.Second
}
