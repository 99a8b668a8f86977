package store

// tableNames lists every owned table, in drop-safe order (children first).
var tableNames = []string{
	"item_categories",
	"items",
	"categories",
	"inventory_items",
	"bills",
	"sync_outbox",
	"reconciliation_items",
	"invoice_sequences",
	"vendor_profile",
	"auth_session",
	"image_cache",
	"settings",
}

// createTables holds the base schema. Columns added after first release are
// applied by migrations in migrate.go, never edited here in place.
var createTables = []string{
	`CREATE TABLE IF NOT EXISTS settings (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS auth_session (
		id         INTEGER PRIMARY KEY CHECK (id = 1),
		token      TEXT NOT NULL,
		vendor_id  TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS vendor_profile (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		address     TEXT NOT NULL DEFAULT '',
		phone       TEXT NOT NULL DEFAULT '',
		email       TEXT NOT NULL DEFAULT '',
		tax_id      TEXT NOT NULL DEFAULT '',
		logo_url    TEXT NOT NULL DEFAULT '',
		footer_note TEXT NOT NULL DEFAULT '',
		updated_at  TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS categories (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		active      INTEGER NOT NULL DEFAULT 1,
		sort_order  INTEGER NOT NULL DEFAULT 0,
		vendor_id   TEXT NOT NULL,
		is_synced   INTEGER NOT NULL DEFAULT 0,
		deleted_at  TEXT,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS items (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		base_price TEXT NOT NULL,
		list_price TEXT NOT NULL,
		tax_mode   TEXT NOT NULL DEFAULT 'exclusive',
		tax_rate   TEXT NOT NULL DEFAULT '0',
		veg        INTEGER NOT NULL DEFAULT 0,
		discount   TEXT NOT NULL DEFAULT '0',
		stock      TEXT NOT NULL DEFAULT '0',
		active     INTEGER NOT NULL DEFAULT 1,
		sort_order INTEGER NOT NULL DEFAULT 0,
		image_url  TEXT NOT NULL DEFAULT '',
		image_path TEXT NOT NULL DEFAULT '',
		vendor_id  TEXT NOT NULL,
		is_synced  INTEGER NOT NULL DEFAULT 0,
		deleted_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS item_categories (
		item_id     TEXT NOT NULL,
		category_id TEXT NOT NULL,
		PRIMARY KEY (item_id, category_id)
	)`,

	`CREATE TABLE IF NOT EXISTS inventory_items (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		quantity      TEXT NOT NULL DEFAULT '0',
		unit          TEXT NOT NULL DEFAULT '',
		supplier      TEXT NOT NULL DEFAULT '',
		reorder_level TEXT NOT NULL DEFAULT '0',
		vendor_id     TEXT NOT NULL,
		is_synced     INTEGER NOT NULL DEFAULT 0,
		deleted_at    TEXT,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS bills (
		id              TEXT PRIMARY KEY,
		invoice_no      TEXT NOT NULL,
		mode            TEXT NOT NULL,
		vendor_name     TEXT NOT NULL,
		vendor_address  TEXT NOT NULL DEFAULT '',
		vendor_tax_id   TEXT NOT NULL DEFAULT '',
		lines           TEXT NOT NULL,
		subtotal        TEXT NOT NULL,
		discount_amount TEXT NOT NULL DEFAULT '0',
		tax_total       TEXT NOT NULL DEFAULT '0',
		total           TEXT NOT NULL,
		payment_mode    TEXT NOT NULL DEFAULT 'cash',
		amount_paid     TEXT NOT NULL DEFAULT '0',
		change_due      TEXT NOT NULL DEFAULT '0',
		device_id       TEXT NOT NULL,
		finalized_at    TEXT,
		is_synced       INTEGER NOT NULL DEFAULT 0,
		deleted_at      TEXT,
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS sync_outbox (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		op          TEXT NOT NULL CHECK (op IN ('create','update','delete')),
		entity_type TEXT NOT NULL,
		entity_id   TEXT NOT NULL,
		payload     TEXT,
		queued_at   TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error  TEXT NOT NULL DEFAULT '',
		dead        INTEGER NOT NULL DEFAULT 0,
		is_synced   INTEGER NOT NULL DEFAULT 0,
		synced_at   TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS reconciliation_items (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_type TEXT NOT NULL,
		entity_id   TEXT NOT NULL,
		code        TEXT NOT NULL,
		detail      TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS invoice_sequences (
		mode     TEXT NOT NULL,
		year     INTEGER NOT NULL,
		prefix   TEXT NOT NULL,
		next_seq INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (mode, year)
	)`,

	`CREATE TABLE IF NOT EXISTS image_cache (
		url        TEXT PRIMARY KEY,
		local_path TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
}
