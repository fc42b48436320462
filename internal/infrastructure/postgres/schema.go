package postgres

// schema - таблицы выгрузки. Каталог товаров (products) принадлежит внешней
// системе и здесь создается только для локальных запусков.
const schema = `
CREATE SCHEMA IF NOT EXISTS feed;

CREATE TABLE IF NOT EXISTS feed.products (
	key        TEXT PRIMARY KEY,
	base_data  JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS feed.identifiers (
	code              TEXT PRIMARY KEY,
	owner_product_key TEXT,
	claimed_at        TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS identifiers_owner_uniq
	ON feed.identifiers (owner_product_key) WHERE owner_product_key IS NOT NULL;

CREATE TABLE IF NOT EXISTS feed.batches (
	id              TEXT PRIMARY KEY,
	parent_batch_id TEXT REFERENCES feed.batches (id),
	product_keys    TEXT[] NOT NULL,
	chunk_count     INT NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	success_count   INT NOT NULL DEFAULT 0,
	failed_count    INT NOT NULL DEFAULT 0,
	declared_count  INT NOT NULL DEFAULT 0,
	submission_id   TEXT,
	payload_bytes   INT NOT NULL DEFAULT 0,
	poll_attempts   INT NOT NULL DEFAULT 0,
	abandoned       BOOLEAN NOT NULL DEFAULT false,
	last_error      TEXT NOT NULL DEFAULT '',
	last_polled_at  TIMESTAMPTZ,
	submit_claimed_at TIMESTAMPTZ,
	envelope        JSONB,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL,
	CHECK (success_count + failed_count <= cardinality(product_keys))
);

ALTER TABLE feed.batches ADD COLUMN IF NOT EXISTS submit_claimed_at TIMESTAMPTZ;

CREATE INDEX IF NOT EXISTS batches_parent_idx ON feed.batches (parent_batch_id);
CREATE INDEX IF NOT EXISTS batches_pollable_idx ON feed.batches (last_polled_at NULLS FIRST)
	WHERE submission_id IS NOT NULL AND NOT abandoned AND status IN ('SUBMITTED', 'PROCESSING');

CREATE TABLE IF NOT EXISTS feed.batch_items (
	batch_id     TEXT NOT NULL REFERENCES feed.batches (id),
	product_key  TEXT NOT NULL,
	sku          TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'PENDING',
	error_detail TEXT,
	external_id  TEXT NOT NULL DEFAULT '',
	processed_at TIMESTAMPTZ,
	PRIMARY KEY (batch_id, sku)
);
`
