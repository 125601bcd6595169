package store

import (
	"archive/zip"
	"bufio"
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// ImportAuthority loads a Tranco-style rank list (a zip containing a single
// "rank,domain" CSV) into domain_authority, replacing any previous ranks.
// When seedTop > 0 the homepage of every domain ranked at or above it is
// also injected into the frontier as an algorithmic seed.
//
// Fetching the list from the network is the authority loader's business;
// this importer only reads a local file.
func (s *CrawlStore) ImportAuthority(zipPath string, maxRank int64, seedTop int64) (ranks int, seeds int, err error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return 0, 0, fmt.Errorf("open authority zip: %v", err)
	}
	defer zr.Close()

	if len(zr.File) == 0 {
		return 0, 0, fmt.Errorf("authority zip %v is empty", zipPath)
	}
	f, err := zr.File[0].Open()
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	tx, err := s.DB.Begin()
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	rankStmt, err := tx.Prepare(`INSERT OR REPLACE INTO domain_authority (domain, rank) VALUES (?, ?)`)
	if err != nil {
		return 0, 0, err
	}
	defer rankStmt.Close()

	seedStmt, err := tx.Prepare(`INSERT OR IGNORE INTO frontier (url, domain, priority) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, 0, err
	}
	defer seedStmt.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	for scanner.Scan() {
		parts := strings.SplitN(strings.TrimSpace(scanner.Text()), ",", 2)
		if len(parts) != 2 {
			continue
		}
		rank, perr := strconv.ParseInt(parts[0], 10, 64)
		if perr != nil || rank < 1 {
			continue
		}
		domain := strings.ToLower(strings.TrimSpace(parts[1]))
		if domain == "" || rank > maxRank {
			continue
		}

		if _, err = rankStmt.Exec(domain, rank); err != nil {
			return ranks, seeds, err
		}
		ranks++

		if seedTop > 0 && rank <= seedTop {
			seedURL := "https://" + domain + "/"
			res, serr := seedStmt.Exec(seedURL, domain, 100)
			if serr != nil {
				return ranks, seeds, serr
			}
			if n, _ := res.RowsAffected(); n > 0 {
				seeds++
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return ranks, seeds, err
	}

	if err := tx.Commit(); err != nil {
		return ranks, seeds, err
	}
	log.Infof("Imported %v domain ranks, seeded %v homepages", ranks, seeds)
	return ranks, seeds, nil
}
