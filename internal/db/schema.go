package db

// schema is idempotent and applied on every Open.
//
// Top-level nodes have a NULL parent_id. The unique index folds NULL to 0
// (ids start at 1) because a plain UNIQUE constraint treats NULLs as
// distinct and would allow duplicate top-level names.
const schema = `
CREATE TABLE IF NOT EXISTS backend_configs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT    NOT NULL,
	kind       TEXT    NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS backend_options (
	config_id INTEGER NOT NULL,
	key       TEXT    NOT NULL,
	value     TEXT    NOT NULL,
	PRIMARY KEY (config_id, key)
);

CREATE TABLE IF NOT EXISTS libraries (
	id         TEXT    PRIMARY KEY,
	name       TEXT    NOT NULL,
	owner      TEXT    NOT NULL,
	config_id  INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS libraries_owner ON libraries (owner);

CREATE TABLE IF NOT EXISTS content_types (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT    NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS nodes (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	library_id      TEXT    NOT NULL,
	parent_id       INTEGER,
	name            TEXT    NOT NULL,
	kind            TEXT    NOT NULL CHECK (kind IN ('file', 'directory')),
	size            INTEGER NOT NULL DEFAULT 0,
	content_type_id INTEGER,
	storage_key     TEXT    NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL,
	CHECK (kind = 'file' OR size = 0)
);
CREATE UNIQUE INDEX IF NOT EXISTS nodes_name_unique
	ON nodes (library_id, IFNULL(parent_id, 0), name);
CREATE INDEX IF NOT EXISTS nodes_parent ON nodes (parent_id, name);

CREATE TABLE IF NOT EXISTS artifacts (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	node_id         INTEGER NOT NULL,
	library_id      TEXT    NOT NULL,
	variant         TEXT    NOT NULL,
	storage_key     TEXT    NOT NULL DEFAULT '',
	size            INTEGER NOT NULL DEFAULT 0,
	content_type_id INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL,
	UNIQUE (node_id, variant)
);
`
