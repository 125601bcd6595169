package store

import (
	"database/sql"
	"fmt"
)

// Crawl store DDL. Frontier rows are never deleted; the status column is the
// single source of truth for the lifecycle of every URL the system has seen.
const crawlSchema = `
CREATE TABLE IF NOT EXISTS frontier (
	url TEXT PRIMARY KEY,
	domain TEXT,
	priority INTEGER DEFAULT 10,
	status INTEGER DEFAULT 0,
	retry_count INTEGER DEFAULT 0,
	reserved_at DATETIME,
	added_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	next_crawl_time DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_frontier_schedule ON frontier(status, priority, next_crawl_time);
CREATE INDEX IF NOT EXISTS idx_frontier_reserved ON frontier(status, reserved_at);

CREATE TABLE IF NOT EXISTS visited (
	url TEXT PRIMARY KEY,
	title TEXT,
	description TEXT,
	http_status INTEGER,
	language TEXT,
	out_links INTEGER,
	crawled_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	crawl_epoch INTEGER DEFAULT 1,
	last_seen_epoch INTEGER DEFAULT 1,
	domain_rank INTEGER DEFAULT 10000000
);

CREATE TABLE IF NOT EXISTS domain_authority (
	domain TEXT PRIMARY KEY,
	rank INTEGER
);
CREATE INDEX IF NOT EXISTS idx_authority_rank ON domain_authority(rank);
`

const storageSchema = `
CREATE TABLE IF NOT EXISTS html_storage (
	url TEXT PRIMARY KEY,
	raw_html BLOB,
	parsed_text TEXT,
	title TEXT,
	http_headers TEXT,
	crawled_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// The search index is dropped and rebuilt on init: FTS5 tables cannot be
// altered in place and the indexer repopulates from watermark 0.
const searchSchema = `
CREATE TABLE IF NOT EXISTS index_meta (
	key TEXT PRIMARY KEY,
	value TEXT
);

DROP TABLE IF EXISTS search_index;
CREATE VIRTUAL TABLE search_index USING fts5(
	url UNINDEXED,
	title,
	description,
	content,
	h1,
	h2,
	important_text,
	tokenize='unicode61 remove_diacritics 2'
);
`

// InitCrawlSchema creates the crawl store tables and indexes.
func InitCrawlSchema(db *sql.DB) error { return execSchema(db, "crawl", crawlSchema) }

// InitStorageSchema creates the storage store tables.
func InitStorageSchema(db *sql.DB) error { return execSchema(db, "storage", storageSchema) }

// InitSearchSchema creates the search store tables, rebuilding the FTS index.
func InitSearchSchema(db *sql.DB) error { return execSchema(db, "search", searchSchema) }

func execSchema(db *sql.DB, name, schema string) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("creating %v schema: %v", name, err)
	}
	return nil
}

// GetSchema returns the full DDL for all three stores, for `vigilo schema`.
func GetSchema() string {
	return "-- crawl store\n" + crawlSchema +
		"\n-- storage store\n" + storageSchema +
		"\n-- search store\n" + searchSchema
}
