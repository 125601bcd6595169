package vigilo

import (
	"sort"
	"sync"
	"time"
)

// fakeCrawlDB is an in-memory CrawlDB used by the engine and writer tests.
type fakeCrawlDB struct {
	mu      sync.Mutex
	rows    map[string]*FrontierRow
	visited map[string]VisitedRow
	ranks   map[string]int64
	langs   map[string]string
}

func newFakeCrawlDB() *fakeCrawlDB {
	return &fakeCrawlDB{
		rows:    make(map[string]*FrontierRow),
		visited: make(map[string]VisitedRow),
		ranks:   make(map[string]int64),
		langs:   make(map[string]string),
	}
}

func (f *fakeCrawlDB) SelectBatch(limit int, reserveAge time.Duration) ([]FetchJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cutoff := time.Now().Add(-reserveAge)
	var eligible []*FrontierRow
	for _, r := range f.rows {
		if r.Status == StatusPending ||
			(r.Status == StatusInFlight && r.ReservedAt.Before(cutoff)) {
			eligible = append(eligible, r)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority < eligible[j].Priority
		}
		return eligible[i].NextCrawlTime.Before(eligible[j].NextCrawlTime)
	})

	var jobs []FetchJob
	for _, r := range eligible {
		if len(jobs) == limit {
			break
		}
		jobs = append(jobs, FetchJob{URL: r.URL, RetryCount: r.RetryCount})
	}
	return jobs, nil
}

func (f *fakeCrawlDB) ApplyBatch(b *CrawlBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, v := range b.Visited {
		f.visited[v.URL] = v
	}
	for _, u := range b.Status {
		if r, ok := f.rows[u.URL]; ok {
			r.Status = u.Status
			if !u.NextCrawl.IsZero() {
				r.NextCrawlTime = u.NextCrawl
			}
		}
	}
	for _, l := range b.NewLinks {
		if _, ok := f.rows[l.URL]; !ok {
			f.rows[l.URL] = &FrontierRow{
				URL: l.URL, Domain: l.Domain, Priority: l.Priority,
				Status: StatusPending, AddedAt: time.Now(),
			}
		}
	}
	for _, u := range b.Reserve {
		if r, ok := f.rows[u]; ok && (r.Status == StatusPending || r.Status == StatusInFlight) {
			r.Status = StatusInFlight
			r.ReservedAt = time.Now()
		}
	}
	for _, rt := range b.Retries {
		if r, ok := f.rows[rt.URL]; ok {
			r.Status = StatusPending
			r.RetryCount = rt.RetryCount
			r.Priority = 50
		}
	}
	for _, l := range b.Languages {
		f.langs[l.URL] = l.Language
	}
	return nil
}

func (f *fakeCrawlDB) DomainRank(domain string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.ranks[domain]; ok {
		return r
	}
	return UnrankedDomain
}

func (f *fakeCrawlDB) ResetInFlight() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.rows {
		if r.Status == StatusInFlight {
			r.Status = StatusPending
			n++
		}
	}
	return n, nil
}

func (f *fakeCrawlDB) FrontierCount(status int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.rows {
		if r.Status == status {
			n++
		}
	}
	return n, nil
}

func (f *fakeCrawlDB) WALCheckpoint() error { return nil }

func (f *fakeCrawlDB) row(url string) (FrontierRow, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[url]
	if !ok {
		return FrontierRow{}, false
	}
	return *r, true
}

func (f *fakeCrawlDB) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeCrawlDB) visitedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.visited)
}

// fakeStorageDB is an in-memory StorageDB.
type fakeStorageDB struct {
	mu    sync.Mutex
	pages map[string]*ParsedPage
}

func newFakeStorageDB() *fakeStorageDB {
	return &fakeStorageDB{pages: make(map[string]*ParsedPage)}
}

func (f *fakeStorageDB) SavePages(pages []*ParsedPage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range pages {
		f.pages[p.URL] = p
	}
	return nil
}

func (f *fakeStorageDB) WALCheckpoint() error { return nil }

func (f *fakeStorageDB) pageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pages)
}
