package store

import (
	"database/sql"

	"github.com/plootohh/vigilo"
)

// StorageStore wraps the storage database holding compressed raw HTML and
// parsed text. Writes are bandwidth-heavy, which is why this lives in its
// own database file and never contends with the frontier.
type StorageStore struct {
	DB   *sql.DB
	Path string
}

// OpenStorage opens the configured storage database.
func OpenStorage(mode Mode) (*StorageStore, error) {
	path := vigilo.Config.Store.StorageDB
	db, err := Open(path, mode)
	if err != nil {
		return nil, err
	}
	return &StorageStore{DB: db, Path: path}, nil
}

// Close closes the underlying database.
func (s *StorageStore) Close() error { return s.DB.Close() }

// WALCheckpoint runs the periodic WAL maintenance for the storage store.
func (s *StorageStore) WALCheckpoint() error { return Checkpoint(s.DB, s.Path) }

// StorageRow mirrors one html_storage row.
type StorageRow struct {
	RowID      int64
	URL        string
	RawHTML    []byte
	ParsedText string
	Title      string
	Headers    string
	CrawledAt  string
}

// SavePages REPLACEs a batch of pages in one immediate transaction.
func (s *StorageStore) SavePages(pages []*vigilo.ParsedPage) error {
	if len(pages) == 0 {
		return nil
	}
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO html_storage
		(url, raw_html, parsed_text, title, http_headers, crawled_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := Now()
	for _, p := range pages {
		if _, err = stmt.Exec(p.URL, p.CompressedRaw, p.Content, p.Title, p.HeadersJSON, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// PagesAfter returns up to limit rows with rowid > watermark and non-null
// parsed text, in rowid order. This is the indexer's read path.
func (s *StorageStore) PagesAfter(watermark int64, limit int) ([]StorageRow, error) {
	rows, err := s.DB.Query(`
		SELECT rowid, url, parsed_text, COALESCE(title, '')
		FROM html_storage
		WHERE rowid > ? AND parsed_text IS NOT NULL
		ORDER BY rowid ASC
		LIMIT ?`, watermark, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StorageRow
	for rows.Next() {
		var r StorageRow
		if err := rows.Scan(&r.RowID, &r.URL, &r.ParsedText, &r.Title); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MaxRowID returns the largest rowid in html_storage, 0 when empty.
func (s *StorageStore) MaxRowID() (int64, error) {
	var max sql.NullInt64
	err := s.DB.QueryRow(`SELECT MAX(rowid) FROM html_storage`).Scan(&max)
	if err != nil {
		return 0, err
	}
	return max.Int64, nil
}

// PageCount returns the number of stored pages.
func (s *StorageStore) PageCount() (int64, error) {
	var n int64
	err := s.DB.QueryRow(`SELECT COUNT(*) FROM html_storage`).Scan(&n)
	return n, err
}

// GetPage fetches a single stored page by canonical URL, or nil when the
// page has not been stored.
func (s *StorageStore) GetPage(url string) (*StorageRow, error) {
	var r StorageRow
	err := s.DB.QueryRow(`
		SELECT rowid, url, COALESCE(raw_html, x''), COALESCE(parsed_text, ''),
		       COALESCE(title, ''), COALESCE(http_headers, ''), COALESCE(crawled_at, '')
		FROM html_storage WHERE url = ?`, url).
		Scan(&r.RowID, &r.URL, &r.RawHTML, &r.ParsedText, &r.Title, &r.Headers, &r.CrawledAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
