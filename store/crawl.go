package store

import (
	"database/sql"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/plootohh/vigilo"
)

// TimeLayout is the timestamp format used in every store, matching sqlite's
// CURRENT_TIMESTAMP output.
const TimeLayout = "2006-01-02 15:04:05"

// Now returns the current UTC time serialised in TimeLayout.
func Now() string { return time.Now().UTC().Format(TimeLayout) }

// CrawlStore wraps the crawl database: frontier, visited, domain_authority.
type CrawlStore struct {
	DB   *sql.DB
	Path string
}

// OpenCrawl opens the configured crawl database.
func OpenCrawl(mode Mode) (*CrawlStore, error) {
	path := vigilo.Config.Store.CrawlDB
	db, err := Open(path, mode)
	if err != nil {
		return nil, err
	}
	return &CrawlStore{DB: db, Path: path}, nil
}

// Close closes the underlying database.
func (s *CrawlStore) Close() error { return s.DB.Close() }

// SelectBatch returns up to limit dispatchable frontier rows: PENDING rows,
// plus IN_FLIGHT rows whose reservation is older than reserveAge (orphans
// from a dead fetcher or an unclean shutdown). Rows come back in priority
// order, soonest next_crawl_time first.
func (s *CrawlStore) SelectBatch(limit int, reserveAge time.Duration) ([]vigilo.FetchJob, error) {
	cutoff := time.Now().UTC().Add(-reserveAge).Format(TimeLayout)
	rows, err := s.DB.Query(`
		SELECT url, retry_count FROM frontier
		WHERE status = ?
		   OR (status = ? AND reserved_at < ?)
		ORDER BY priority ASC, next_crawl_time ASC
		LIMIT ?`,
		vigilo.StatusPending, vigilo.StatusInFlight, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []vigilo.FetchJob
	for rows.Next() {
		var j vigilo.FetchJob
		if err := rows.Scan(&j.URL, &j.RetryCount); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ApplyBatch applies every vector of the batch inside one BEGIN IMMEDIATE
// transaction. On any error the whole transaction rolls back; the caller
// keeps the batch and retries on its next tick.
func (s *CrawlStore) ApplyBatch(b *vigilo.CrawlBatch) error {
	if b.Empty() {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if len(b.Visited) > 0 {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO visited
			(url, title, description, http_status, language, out_links,
			 crawled_at, crawl_epoch, last_seen_epoch, domain_rank)
			VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		for _, v := range b.Visited {
			_, err = stmt.Exec(v.URL, v.Title, v.Description, v.HTTPStatus,
				v.Language, v.OutLinks, v.CrawledAt.UTC().Format(TimeLayout),
				v.CrawlEpoch, v.LastSeenEpoch, v.DomainRank)
			if err != nil {
				stmt.Close()
				return err
			}
		}
		stmt.Close()
	}

	if len(b.Status) > 0 {
		stmt, err := tx.Prepare(`
			UPDATE frontier
			SET status = ?, next_crawl_time = COALESCE(NULLIF(?, ''), next_crawl_time)
			WHERE url = ?`)
		if err != nil {
			return err
		}
		for _, u := range b.Status {
			next := ""
			if !u.NextCrawl.IsZero() {
				next = u.NextCrawl.UTC().Format(TimeLayout)
			}
			if _, err = stmt.Exec(u.Status, next, u.URL); err != nil {
				stmt.Close()
				return err
			}
		}
		stmt.Close()
	}

	if len(b.NewLinks) > 0 {
		stmt, err := tx.Prepare(`
			INSERT OR IGNORE INTO frontier (url, domain, priority) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		for _, l := range b.NewLinks {
			if _, err = stmt.Exec(l.URL, l.Domain, l.Priority); err != nil {
				stmt.Close()
				return err
			}
		}
		stmt.Close()
	}

	if len(b.Reserve) > 0 {
		// A row already finished by a status update in this batch keeps it.
		stmt, err := tx.Prepare(`
			UPDATE frontier SET status = ?, reserved_at = CURRENT_TIMESTAMP
			WHERE url = ? AND status IN (?, ?)`)
		if err != nil {
			return err
		}
		for _, u := range b.Reserve {
			if _, err = stmt.Exec(vigilo.StatusInFlight, u, vigilo.StatusPending, vigilo.StatusInFlight); err != nil {
				stmt.Close()
				return err
			}
		}
		stmt.Close()
	}

	if len(b.Retries) > 0 {
		stmt, err := tx.Prepare(`
			UPDATE frontier SET status = ?, priority = 50, retry_count = ? WHERE url = ?`)
		if err != nil {
			return err
		}
		for _, r := range b.Retries {
			if _, err = stmt.Exec(vigilo.StatusPending, r.RetryCount, r.URL); err != nil {
				stmt.Close()
				return err
			}
		}
		stmt.Close()
	}

	if len(b.Languages) > 0 {
		stmt, err := tx.Prepare(`UPDATE visited SET language = ? WHERE url = ?`)
		if err != nil {
			return err
		}
		for _, l := range b.Languages {
			if _, err = stmt.Exec(l.Language, l.URL); err != nil {
				stmt.Close()
				return err
			}
		}
		stmt.Close()
	}

	return tx.Commit()
}

// ResetInFlight rolls every IN_FLIGHT frontier row back to PENDING. Run at
// startup (crash recovery) and during graceful shutdown so no reservation
// outlives the process.
func (s *CrawlStore) ResetInFlight() (int64, error) {
	res, err := s.DB.Exec(`UPDATE frontier SET status = ? WHERE status = ?`,
		vigilo.StatusPending, vigilo.StatusInFlight)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DomainRank returns the authority rank for a bare domain, or
// vigilo.UnrankedDomain when the domain is not in the authority table.
func (s *CrawlStore) DomainRank(domain string) int64 {
	var rank int64
	err := s.DB.QueryRow(`SELECT rank FROM domain_authority WHERE domain = ?`, domain).Scan(&rank)
	if err != nil {
		return vigilo.UnrankedDomain
	}
	return rank
}

// InsertSeeds adds seed URLs straight to the frontier, each with the
// priority Priority computes for it. Existing rows are left untouched.
func (s *CrawlStore) InsertSeeds(urls []string) (int, error) {
	tx, err := s.DB.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO frontier (url, domain, priority) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	added := 0
	for _, raw := range urls {
		canon, err := vigilo.Canonicalize(raw)
		if err != nil {
			log.Debugf("Skipping seed %v: %v", raw, err)
			continue
		}
		res, err := stmt.Exec(canon, vigilo.Domain(canon), vigilo.Priority(canon))
		if err != nil {
			return added, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	return added, tx.Commit()
}

// WALCheckpoint runs the periodic WAL maintenance for the crawl store.
func (s *CrawlStore) WALCheckpoint() error { return Checkpoint(s.DB, s.Path) }

// FrontierCount returns the number of frontier rows in the given status.
func (s *CrawlStore) FrontierCount(status int) (int64, error) {
	var n int64
	err := s.DB.QueryRow(`SELECT COUNT(*) FROM frontier WHERE status = ?`, status).Scan(&n)
	return n, err
}

// RetriedCount returns the number of frontier rows that have been retried.
func (s *CrawlStore) RetriedCount() (int64, error) {
	var n int64
	err := s.DB.QueryRow(`SELECT COUNT(*) FROM frontier WHERE retry_count > 0`).Scan(&n)
	return n, err
}

// VisitedCount returns the number of successfully crawled pages.
func (s *CrawlStore) VisitedCount() (int64, error) {
	var n int64
	err := s.DB.QueryRow(`SELECT COUNT(*) FROM visited`).Scan(&n)
	return n, err
}

// SuggestTitles returns up to limit visited titles containing q.
func (s *CrawlStore) SuggestTitles(q string, limit int) ([]string, error) {
	rows, err := s.DB.Query(
		`SELECT title FROM visited WHERE title LIKE ? AND title != '' LIMIT ?`,
		"%"+q+"%", limit)
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
