package store

import (
	"database/sql"
	"fmt"

	"github.com/plootohh/vigilo"
)

// SearchStore wraps the FTS5 search database. It attaches the crawl store so
// candidate queries can join index hits against visited metadata in one
// statement.
type SearchStore struct {
	DB   *sql.DB
	Path string
}

// OpenSearch opens the configured search database and attaches the crawl
// store as crawl_db.
func OpenSearch(mode Mode) (*SearchStore, error) {
	path := vigilo.Config.Store.SearchDB
	db, err := Open(path, mode)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`ATTACH DATABASE ? AS crawl_db`, vigilo.Config.Store.CrawlDB); err != nil {
		db.Close()
		return nil, fmt.Errorf("attach crawl db: %v", err)
	}
	return &SearchStore{DB: db, Path: path}, nil
}

// OpenSearchDetached opens the search database without attaching the crawl
// store, for the indexer's insert-only connection.
func OpenSearchDetached(mode Mode) (*SearchStore, error) {
	path := vigilo.Config.Store.SearchDB
	db, err := Open(path, mode)
	if err != nil {
		return nil, err
	}
	return &SearchStore{DB: db, Path: path}, nil
}

// Close closes the underlying database.
func (s *SearchStore) Close() error { return s.DB.Close() }

// IndexDoc is one row headed for the FTS index.
type IndexDoc struct {
	URL           string
	Title         string
	Description   string
	Content       string
	H1            string
	H2            string
	ImportantText string
}

// InsertDocs appends a batch of documents to the FTS index in one immediate
// transaction.
func (s *SearchStore) InsertDocs(docs []IndexDoc) error {
	if len(docs) == 0 {
		return nil
	}
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO search_index (url, title, description, content, h1, h2, important_text)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range docs {
		if _, err = stmt.Exec(d.URL, d.Title, d.Description, d.Content, d.H1, d.H2, d.ImportantText); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Candidate is one FTS hit joined with its visited metadata, ready for the
// ranking engine.
type Candidate struct {
	URL         string
	Title       string
	Description string
	Snippet     string
	BM25        float64
	CrawledAt   string
	Language    string
	DomainRank  int64
}

// Candidates runs an FTS MATCH and joins the hits against crawl_db.visited,
// returning up to limit candidates with a windowed highlight snippet and the
// raw bm25 score (more negative is better in sqlite's convention).
func (s *SearchStore) Candidates(match string, limit int) ([]Candidate, error) {
	rows, err := s.DB.Query(`
		SELECT
			search_index.url,
			COALESCE(search_index.title, ''),
			COALESCE(search_index.description, ''),
			snippet(search_index, 3, '<b>', '</b>', '...', 64),
			bm25(search_index),
			COALESCE(v.crawled_at, ''),
			COALESCE(v.language, ''),
			COALESCE(v.domain_rank, ?)
		FROM search_index
		JOIN crawl_db.visited v ON search_index.url = v.url
		WHERE search_index MATCH ?
		LIMIT ?`, vigilo.UnrankedDomain, match, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.URL, &c.Title, &c.Description, &c.Snippet,
			&c.BM25, &c.CrawledAt, &c.Language, &c.DomainRank); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// IndexedCount returns the number of rows in the FTS index.
func (s *SearchStore) IndexedCount() (int64, error) {
	var n int64
	err := s.DB.QueryRow(`SELECT COUNT(*) FROM search_index`).Scan(&n)
	return n, err
}

// SuggestTitles returns up to limit visited titles starting with q, read via
// the attached crawl store.
func (s *SearchStore) SuggestTitles(q string, limit int) ([]string, error) {
	rows, err := s.DB.Query(`
		SELECT title FROM crawl_db.visited
		WHERE title LIKE ? AND title != ''
		LIMIT ?`, q+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var t sql.NullString
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		if t.Valid && t.String != "" {
			titles = append(titles, t.String)
		}
	}
	return titles, rows.Err()
}
