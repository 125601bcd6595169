/*
Package store implements vigilo's three sqlite stores:

	crawl:   frontier, visited, domain_authority
	storage: html_storage (compressed raw HTML + parsed text)
	search:  search_index (FTS5) + index_meta

Each store is a single-writer WAL database. Writers run with relaxed
synchronous settings; readers open in read-only mode and never block the
writer. The search store attaches the crawl store so ranked queries can join
index hits against visited metadata.
*/
package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"

	_ "modernc.org/sqlite"

	"github.com/plootohh/vigilo"
)

// Mode selects the pragma profile a store is opened with.
type Mode int

const (
	// ModeWriter is the single writing owner of the database file.
	ModeWriter Mode = iota
	// ModeReader is a read-only connection that must not block the writer.
	ModeReader
)

// Open opens the sqlite database at path with vigilo's pragma profile:
// WAL journaling, in-memory temp tables, a large page cache and
// memory-mapped reads for the hot tables. Writers additionally drop
// synchronous to OFF; durability across power loss is the WAL checkpoint
// cycle's job, and a torn frontier heals through the IN_FLIGHT reclaim.
func Open(path string, mode Mode) (*sql.DB, error) {
	cfg := vigilo.Config.Store

	pragmas := []string{
		"journal_mode(WAL)",
		fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeoutSec*1000),
		fmt.Sprintf("cache_size(-%d)", cfg.CacheSizeKB),
		"temp_store(MEMORY)",
		fmt.Sprintf("mmap_size(%d)", cfg.MmapSizeBytes),
	}

	dsn := "file:" + path
	sep := "?"
	if mode == ModeReader {
		dsn += "?mode=ro"
		sep = "&"
	} else {
		// BEGIN IMMEDIATE on every transaction: the writer takes the write
		// lock up front instead of failing mid-batch on upgrade.
		dsn += "?_txlock=immediate"
		sep = "&"
		pragmas = append(pragmas, "synchronous(OFF)")
	}
	for _, p := range pragmas {
		dsn += sep + "_pragma=" + url.QueryEscape(p)
		sep = "&"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %v: %v", path, err)
	}

	// All stores have exactly one writer; readers keep a single connection
	// too so ATTACH and pragma state apply to every query.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %v: %v", path, err)
	}
	return db, nil
}

// Checkpoint runs a passive WAL checkpoint, or a TRUNCATE checkpoint when
// the WAL file has grown past the configured bound.
func Checkpoint(db *sql.DB, path string) error {
	mode := "PASSIVE"
	if WALSizeMB(path) > vigilo.Config.Store.WALTruncateMB {
		mode = "TRUNCATE"
	}
	_, err := db.Exec("PRAGMA wal_checkpoint(" + mode + ")")
	return err
}

// FlushWAL forces a TRUNCATE checkpoint, draining the WAL file completely.
func FlushWAL(db *sql.DB) error {
	_, err := db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// WALSizeMB returns the size of the database's -wal sidecar in megabytes,
// or 0 if it does not exist.
func WALSizeMB(dbPath string) int64 {
	fi, err := os.Stat(dbPath + "-wal")
	if err != nil {
		return 0
	}
	return fi.Size() / (1024 * 1024)
}

// FileSizeMB returns the size of the main database file in megabytes.
func FileSizeMB(dbPath string) int64 {
	fi, err := os.Stat(dbPath)
	if err != nil {
		return 0
	}
	return fi.Size() / (1024 * 1024)
}
