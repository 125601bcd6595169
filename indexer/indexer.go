/*
Package indexer implements the offline indexing process: a watermark-driven
copy of parsed pages from the storage store into the FTS search index.

The indexer trails the crawler by design. It persists the last indexed
storage rowid in a small state file, reads forward from there in batches,
inserts index rows in one transaction per batch, and advances the watermark
atomically only after the insert commits. Restart at any point resumes from
the watermark; if the storage database was rebuilt (watermark beyond the
largest rowid) the watermark resets to zero and indexing starts over.
*/
package indexer

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/plootohh/vigilo"
	"github.com/plootohh/vigilo/store"
)

// Indexer owns the three connections the indexing loop needs. It is a
// separate process from the crawler; both may run, or not, independently.
type Indexer struct {
	storage *store.StorageStore
	search  *store.SearchStore
	crawl   *store.CrawlStore

	stateFile string
	watermark int64

	batches int
	quit    chan struct{}
}

// New opens the stores and loads the watermark.
func New() (*Indexer, error) {
	ix := &Indexer{
		stateFile: vigilo.Config.Indexer.StateFile,
		quit:      make(chan struct{}),
	}
	if err := ix.openConns(); err != nil {
		return nil, err
	}

	ix.watermark = ix.loadWatermark()

	// A watermark beyond the largest rowid means the storage database was
	// rebuilt underneath us; start over.
	maxID, err := ix.storage.MaxRowID()
	if err == nil && ix.watermark > maxID {
		log.Infof("Watermark %v is beyond MAX(rowid) %v, resetting to 0", ix.watermark, maxID)
		ix.watermark = 0
		ix.saveWatermark(0)
	}

	return ix, nil
}

func (ix *Indexer) openConns() error {
	var err error
	if ix.storage, err = store.OpenStorage(store.ModeReader); err != nil {
		return err
	}
	if ix.search, err = store.OpenSearchDetached(store.ModeWriter); err != nil {
		ix.storage.Close()
		return err
	}
	if ix.crawl, err = store.OpenCrawl(store.ModeWriter); err != nil {
		ix.storage.Close()
		ix.search.Close()
		return err
	}
	return nil
}

func (ix *Indexer) closeConns() {
	ix.storage.Close()
	ix.search.Close()
	ix.crawl.Close()
}

// Stop signals the run loop to exit after the current batch.
func (ix *Indexer) Stop() { close(ix.quit) }

// Watermark returns the last indexed storage rowid.
func (ix *Indexer) Watermark() int64 { return ix.watermark }

// Run loops until stopped, indexing batches as they appear and idling when
// the crawler has nothing new.
func (ix *Indexer) Run() error {
	log.Infof("Indexer resuming from storage rowid %v", ix.watermark)
	defer ix.closeConns()

	for {
		select {
		case <-ix.quit:
			log.Info("Indexer stopping")
			return nil
		default:
		}

		// Long-lived sqlite connections accrete page cache and statement
		// state; recycling bounds the process footprint.
		if ix.batches >= vigilo.Config.Indexer.RecycleConnEvery {
			ix.closeConns()
			if err := ix.openConns(); err != nil {
				return fmt.Errorf("recycling connections: %v", err)
			}
			ix.batches = 0
		}

		n, err := ix.Step()
		if err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "locked") {
				ix.sleep(time.Second)
				continue
			}
			log.Errorf("Indexer batch failed: %v", err)
			ix.sleep(5 * time.Second)
			continue
		}
		if n == 0 {
			ix.sleep(2 * time.Second)
		}
	}
}

// Step indexes one batch and advances the watermark. It returns the number
// of pages indexed; zero means the indexer has caught up with the crawler.
func (ix *Indexer) Step() (int, error) {
	rows, err := ix.storage.PagesAfter(ix.watermark, vigilo.Config.Indexer.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	start := time.Now()
	docs := make([]store.IndexDoc, 0, len(rows))
	var langs []vigilo.LanguageMsg
	maxID := ix.watermark

	for _, r := range rows {
		if r.RowID > maxID {
			maxID = r.RowID
		}

		title := r.Title
		if title == "" {
			title = fallbackTitle(r.ParsedText, r.URL)
		}

		if lang := DetectLanguage(r.ParsedText); lang != "" {
			langs = append(langs, vigilo.LanguageMsg{URL: r.URL, Language: lang})
		}

		docs = append(docs, store.IndexDoc{
			URL:     r.URL,
			Title:   title,
			Content: r.ParsedText,
		})
	}

	if err := ix.search.InsertDocs(docs); err != nil {
		return 0, err
	}

	// Language updates are best-effort: the crawler's writer owns the crawl
	// store, so a locked database here is dropped, not retried.
	if len(langs) > 0 {
		batch := &vigilo.CrawlBatch{Languages: langs}
		if err := ix.crawl.ApplyBatch(batch); err != nil {
			log.Debugf("Language update failed (non-critical): %v", err)
		}
	}

	ix.saveWatermark(maxID)
	ix.watermark = maxID
	ix.batches++

	elapsed := time.Since(start)
	rate := 0
	if elapsed > 0 {
		rate = int(float64(len(docs)) / elapsed.Seconds())
	}
	log.Infof("Indexed %v pages up to rowid %v in %.2fs (%v pages/sec)",
		len(docs), maxID, elapsed.Seconds(), rate)
	return len(docs), nil
}

// fallbackTitle derives a title from the first line of page text, or the
// URL as a last resort.
func fallbackTitle(text, url string) string {
	if text == "" {
		return url
	}
	head := text
	if len(head) > 80 {
		head = head[:80]
	}
	if i := strings.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	head = strings.TrimSpace(head)
	if head == "" {
		return url
	}
	return head
}

func (ix *Indexer) loadWatermark() int64 {
	data, err := os.ReadFile(ix.stateFile)
	if err != nil {
		return 0
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// saveWatermark writes the watermark through a temp file rename so the
// state file is never torn.
func (ix *Indexer) saveWatermark(v int64) {
	tmp := ix.stateFile + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(v, 10)), 0644); err != nil {
		log.Errorf("Failed writing watermark: %v", err)
		return
	}
	if err := os.Rename(tmp, ix.stateFile); err != nil {
		log.Errorf("Failed committing watermark: %v", err)
	}
}

func (ix *Indexer) sleep(d time.Duration) {
	select {
	case <-ix.quit:
	case <-time.After(d):
	}
}
