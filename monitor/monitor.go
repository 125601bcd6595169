/*
Package monitor renders a read-only terminal view of the crawl pipeline:
frontier backlog, in-flight reservations, crawled and indexed counts, store
sizes and a rolling pages-per-minute average. It opens every store read-only
and can run beside (or without) the crawler and the indexer.
*/
package monitor

import (
	"fmt"
	"os"
	"time"

	"github.com/plootohh/vigilo"
	"github.com/plootohh/vigilo/store"
)

const (
	refreshRate   = 2 * time.Second
	avgWindowSize = 30
)

// Monitor polls the stores and repaints the terminal.
type Monitor struct {
	crawl  *store.CrawlStore
	search *store.SearchStore

	speedHistory []float64
	lastCrawled  int64
	lastTime     time.Time

	quit chan struct{}
}

// New opens read-only store handles for the monitor.
func New() (*Monitor, error) {
	crawl, err := store.OpenCrawl(store.ModeReader)
	if err != nil {
		return nil, err
	}
	search, err := store.OpenSearchDetached(store.ModeReader)
	if err != nil {
		crawl.Close()
		return nil, err
	}
	return &Monitor{crawl: crawl, search: search, quit: make(chan struct{})}, nil
}

// Stop signals Run to exit.
func (m *Monitor) Stop() { close(m.quit) }

// Run repaints until stopped.
func (m *Monitor) Run() {
	defer m.crawl.Close()
	defer m.search.Close()

	m.lastCrawled, _ = m.crawl.VisitedCount()
	m.lastTime = time.Now()

	for {
		select {
		case <-m.quit:
			return
		case <-time.After(refreshRate):
		}
		m.paint()
	}
}

func (m *Monitor) paint() {
	crawled, _ := m.crawl.VisitedCount()
	pending, _ := m.crawl.FrontierCount(vigilo.StatusPending)
	inflight, _ := m.crawl.FrontierCount(vigilo.StatusInFlight)
	retried, _ := m.crawl.RetriedCount()
	indexed, _ := m.search.IndexedCount()

	dbMB, walMB := storeSizes()

	now := time.Now()
	delta := now.Sub(m.lastTime).Seconds()
	if delta > 0 {
		ppm := float64(crawled-m.lastCrawled) / delta * 60
		m.speedHistory = append(m.speedHistory, ppm)
		if len(m.speedHistory) > avgWindowSize {
			m.speedHistory = m.speedHistory[1:]
		}
	}
	m.lastCrawled = crawled
	m.lastTime = now

	avgPPM := 0.0
	for _, v := range m.speedHistory {
		avgPPM += v
	}
	if len(m.speedHistory) > 0 {
		avgPPM /= float64(len(m.speedHistory))
	}

	clearScreen()
	fmt.Println("================== VIGILO MONITOR =====================")
	fmt.Println()
	fmt.Println("  PERFORMANCE")
	fmt.Println("  -----------")
	fmt.Printf("  Speed:          %d PPM\n", int(avgPPM))
	fmt.Printf("  Daily Vol:      %d pages/24H\n", int(avgPPM*60*24))
	fmt.Println()
	fmt.Println("  STORAGE")
	fmt.Println("  -------")
	fmt.Printf("  DB Size:        %d MB\n", dbMB)
	fmt.Printf("  WAL Buffer:     %d MB  (writes pending checkpoint)\n", walMB)
	fmt.Println()
	fmt.Println("  PIPELINE STATUS")
	fmt.Println("  ---------------")
	fmt.Printf("  1. Pending:     %d  (waiting in frontier)\n", pending)
	fmt.Printf("  2. In-Flight:   %d  (reserved by fetchers)\n", inflight)
	fmt.Printf("  3. Crawled:     %d  (downloaded)\n", crawled)
	fmt.Printf("  4. Indexed:     %d  (searchable)\n", indexed)
	fmt.Println()
	fmt.Printf("  Errors/Retries: %d\n", retried)
	fmt.Println()
	fmt.Println("=======================================================")
	fmt.Println(" Press Ctrl+C to exit monitor")
}

func storeSizes() (dbMB, walMB int64) {
	for _, p := range []string{
		vigilo.Config.Store.CrawlDB,
		vigilo.Config.Store.StorageDB,
		vigilo.Config.Store.SearchDB,
	} {
		dbMB += store.FileSizeMB(p)
		walMB += store.WALSizeMB(p)
	}
	return dbMB, walMB
}

func clearScreen() {
	fmt.Fprint(os.Stdout, "\033[2J\033[H")
}
