package store

// schema is applied on every open; statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS bundles (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	hash            TEXT NOT NULL,
	pdf_path        TEXT NOT NULL,
	page_count      INTEGER NOT NULL,
	uploaded_by     TEXT NOT NULL DEFAULT '',
	has_page_images INTEGER NOT NULL DEFAULT 0,
	has_qr_codes    INTEGER NOT NULL DEFAULT 0,
	is_push_locked  INTEGER NOT NULL DEFAULT 0,
	pushed          INTEGER NOT NULL DEFAULT 0,
	created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS bundles_hash ON bundles(hash);

CREATE TABLE IF NOT EXISTS staging_images (
	id           TEXT PRIMARY KEY,
	bundle_id    TEXT NOT NULL REFERENCES bundles(id) ON DELETE CASCADE,
	bundle_order INTEGER NOT NULL,
	image_path   TEXT NOT NULL,
	thumb_path   TEXT NOT NULL DEFAULT '',
	image_hash   TEXT NOT NULL DEFAULT '',
	image_type   TEXT NOT NULL DEFAULT 'unread',
	rotation     INTEGER NOT NULL DEFAULT 0,
	qr_payloads  TEXT NOT NULL DEFAULT '[]',
	pushed       INTEGER NOT NULL DEFAULT 0,
	paper_number INTEGER,
	page_number  INTEGER,
	version      INTEGER,
	extra_paper  INTEGER,
	questions    TEXT,
	reason       TEXT,
	history      TEXT NOT NULL DEFAULT '[]',
	UNIQUE (bundle_id, bundle_order)
);

CREATE TABLE IF NOT EXISTS chores (
	id          TEXT PRIMARY KEY,
	bundle_id   TEXT NOT NULL,
	kind        TEXT NOT NULL,
	status      TEXT NOT NULL,
	worker_id   TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL DEFAULT '',
	progress    INTEGER NOT NULL DEFAULT 0,
	total       INTEGER NOT NULL DEFAULT 0,
	obsolete    INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL,
	last_update TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS chores_live
	ON chores(bundle_id, kind) WHERE obsolete = 0;

CREATE TABLE IF NOT EXISTS papers (
	paper_number INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS fixed_pages (
	paper_number INTEGER NOT NULL REFERENCES papers(paper_number),
	page_number  INTEGER NOT NULL,
	version      INTEGER NOT NULL DEFAULT 1,
	image_id     TEXT,
	PRIMARY KEY (paper_number, page_number)
);

CREATE TABLE IF NOT EXISTS mobile_pages (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	paper_number   INTEGER NOT NULL REFERENCES papers(paper_number),
	question_index INTEGER NOT NULL,
	image_id       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS push_lock (
	id        INTEGER PRIMARY KEY CHECK (id = 1),
	bundle_id TEXT
);

INSERT OR IGNORE INTO push_lock (id, bundle_id) VALUES (1, NULL);
`
