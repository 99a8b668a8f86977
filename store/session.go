package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/trenztechno/possync/domain"
)

// Settings are small key/value rows: sync checkpoint, device id, schema
// housekeeping.

const (
	settingDeviceID   = "device_id"
	settingCheckpoint = "sync_checkpoint"
)

// SetSetting upserts a settings row.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	return s.withTx(ctx, "settings.set", func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, key, value, fmtTime(time.Now()))
		return err
	})
}

// GetSetting reads a settings row; ErrNotFound when absent.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, storageErr("settings.get", err)
}

// EnsureDeviceID returns the persisted device attribution id, generating one
// on first run.
func (s *Store) EnsureDeviceID(ctx context.Context) (string, error) {
	id, err := s.GetSetting(ctx, settingDeviceID)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}
	id = uuid.New().String()
	if err := s.SetSetting(ctx, settingDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}

// Checkpoint returns the last fully-applied download watermark, or the zero
// time when no download has completed yet.
func (s *Store) Checkpoint(ctx context.Context) (time.Time, error) {
	v, err := s.GetSetting(ctx, settingCheckpoint)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return parseTime("settings.checkpoint", settingCheckpoint, v)
}

// SetCheckpoint advances the download watermark. Callers must only do this
// after the whole batch has been applied.
func (s *Store) SetCheckpoint(ctx context.Context, t time.Time) error {
	return s.SetSetting(ctx, settingCheckpoint, fmtTime(t))
}

// SaveSession caches the bearer token and vendor id for offline startups.
func (s *Store) SaveSession(ctx context.Context, token, vendorID string) error {
	return s.withTx(ctx, "session.save", func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO auth_session (id, token, vendor_id, updated_at) VALUES (1, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET token = excluded.token, vendor_id = excluded.vendor_id,
				updated_at = excluded.updated_at
		`, token, vendorID, fmtTime(time.Now()))
		return err
	})
}

// Session returns the cached bearer token and vendor id.
func (s *Store) Session(ctx context.Context) (token, vendorID string, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT token, vendor_id FROM auth_session WHERE id = 1`).
		Scan(&token, &vendorID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	return token, vendorID, storageErr("session.get", err)
}

// ClearSession drops the cached credentials (logout / auth expiry).
func (s *Store) ClearSession(ctx context.Context) error {
	return s.withTx(ctx, "session.clear", func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM auth_session WHERE id = 1`)
		return err
	})
}

// SaveProfile refreshes the cached vendor profile used for offline bill
// headers.
func (s *Store) SaveProfile(ctx context.Context, p *domain.VendorProfile) error {
	return s.withTx(ctx, "profile.save", func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO vendor_profile (id, name, address, phone, email, tax_id, logo_url, footer_note, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				address = excluded.address,
				phone = excluded.phone,
				email = excluded.email,
				tax_id = excluded.tax_id,
				logo_url = excluded.logo_url,
				footer_note = excluded.footer_note,
				updated_at = excluded.updated_at
		`, p.ID, p.Name, p.Address, p.Phone, p.Email, p.TaxID, p.LogoURL, p.FooterNote,
			fmtTime(p.UpdatedAt))
		return err
	})
}

// Profile returns the cached vendor profile.
func (s *Store) Profile(ctx context.Context) (*domain.VendorProfile, error) {
	var p domain.VendorProfile
	var updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, address, phone, email, tax_id, logo_url, footer_note, updated_at
		FROM vendor_profile LIMIT 1
	`).Scan(&p.ID, &p.Name, &p.Address, &p.Phone, &p.Email, &p.TaxID, &p.LogoURL,
		&p.FooterNote, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("profile.get", err)
	}
	if p.UpdatedAt, err = parseTime("profile.get", "updated_at", updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// CacheImagePath records where a remote item image was cached locally.
func (s *Store) CacheImagePath(ctx context.Context, url, localPath string) error {
	return s.withTx(ctx, "imageCache.set", func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO image_cache (url, local_path, created_at) VALUES (?, ?, ?)
			ON CONFLICT(url) DO UPDATE SET local_path = excluded.local_path
		`, url, localPath, fmtTime(time.Now()))
		return err
	})
}

// CachedImagePath returns the local path for a remote image URL, or
// ErrNotFound.
func (s *Store) CachedImagePath(ctx context.Context, url string) (string, error) {
	var path string
	err := s.db.QueryRowContext(ctx, `SELECT local_path FROM image_cache WHERE url = ?`, url).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return path, storageErr("imageCache.get", err)
}
