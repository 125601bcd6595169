package indexer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/plootohh/vigilo"
	"github.com/plootohh/vigilo/store"
)

func setupIndexerStores(t *testing.T) {
	t.Helper()
	dir := t.TempDir()

	origCfg := vigilo.Config
	t.Cleanup(func() { vigilo.Config = origCfg })

	vigilo.Config.Store.CrawlDB = filepath.Join(dir, "crawl.db")
	vigilo.Config.Store.StorageDB = filepath.Join(dir, "storage.db")
	vigilo.Config.Store.SearchDB = filepath.Join(dir, "search.db")
	vigilo.Config.Store.MmapSizeBytes = 0
	vigilo.Config.Indexer.StateFile = filepath.Join(dir, "indexer_state.txt")
	vigilo.Config.Indexer.BatchSize = 100

	for _, open := range []func() error{
		func() error {
			s, err := store.OpenCrawl(store.ModeWriter)
			if err != nil {
				return err
			}
			defer s.Close()
			return store.InitCrawlSchema(s.DB)
		},
		func() error {
			s, err := store.OpenStorage(store.ModeWriter)
			if err != nil {
				return err
			}
			defer s.Close()
			return store.InitStorageSchema(s.DB)
		},
		func() error {
			s, err := store.OpenSearchDetached(store.ModeWriter)
			if err != nil {
				return err
			}
			defer s.Close()
			return store.InitSearchSchema(s.DB)
		},
	} {
		require.NoError(t, open())
	}
}

func storePages(t *testing.T, pages []*vigilo.ParsedPage) {
	t.Helper()
	s, err := store.OpenStorage(store.ModeWriter)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.SavePages(pages))
}

func englishText() string {
	return strings.Repeat("the quick brown fox jumps over the lazy dog and it is that simple for this test ", 5)
}

func TestIndexerStep(t *testing.T) {
	setupIndexerStores(t)

	// A visited row for the language update to land on.
	crawl, err := store.OpenCrawl(store.ModeWriter)
	require.NoError(t, err)
	require.NoError(t, crawl.ApplyBatch(&vigilo.CrawlBatch{
		Visited: []vigilo.VisitedRow{{
			URL: "http://a.test/", Title: "A", CrawledAt: time.Now(),
			CrawlEpoch: 1, LastSeenEpoch: 1, DomainRank: 1,
		}},
	}))
	crawl.Close()

	storePages(t, []*vigilo.ParsedPage{
		{URL: "http://a.test/", Title: "A", Content: englishText(), HeadersJSON: "{}"},
		{URL: "http://b.test/", Title: "", Content: "short", HeadersJSON: "{}"},
	})

	ix, err := New()
	require.NoError(t, err)
	defer ix.closeConns()

	n, err := ix.Step()
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.EqualValues(t, 2, ix.Watermark())

	// The watermark file round-trips.
	data, err := os.ReadFile(vigilo.Config.Indexer.StateFile)
	require.NoError(t, err)
	require.Equal(t, "2", strings.TrimSpace(string(data)))

	// Catching up yields zero without advancing anything.
	n, err = ix.Step()
	require.NoError(t, err)
	require.Zero(t, n)
	require.EqualValues(t, 2, ix.Watermark())

	// The search index got both rows, with the title fallback applied.
	searchDB, err := store.OpenSearchDetached(store.ModeWriter)
	require.NoError(t, err)
	defer searchDB.Close()
	count, err := searchDB.IndexedCount()
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	var title string
	require.NoError(t, searchDB.DB.QueryRow(
		`SELECT title FROM search_index WHERE url = 'http://b.test/'`).Scan(&title))
	require.Equal(t, "short", title)

	// The language update reached the crawl store.
	crawl, err = store.OpenCrawl(store.ModeWriter)
	require.NoError(t, err)
	defer crawl.Close()
	var lang string
	require.NoError(t, crawl.DB.QueryRow(
		`SELECT language FROM visited WHERE url = 'http://a.test/'`).Scan(&lang))
	require.Equal(t, "en", lang)
}

func TestIndexerResumesFromWatermark(t *testing.T) {
	setupIndexerStores(t)

	storePages(t, []*vigilo.ParsedPage{
		{URL: "http://a.test/1", Title: "one", Content: "first page", HeadersJSON: "{}"},
	})

	ix, err := New()
	require.NoError(t, err)
	_, err = ix.Step()
	require.NoError(t, err)
	first := ix.Watermark()
	ix.closeConns()

	storePages(t, []*vigilo.ParsedPage{
		{URL: "http://a.test/2", Title: "two", Content: "second page", HeadersJSON: "{}"},
	})

	// A new indexer resumes where the old one stopped.
	ix2, err := New()
	require.NoError(t, err)
	defer ix2.closeConns()
	require.Equal(t, first, ix2.Watermark())

	n, err := ix2.Step()
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Greater(t, ix2.Watermark(), first)
}

func TestIndexerWatermarkBeyondMaxResets(t *testing.T) {
	setupIndexerStores(t)

	require.NoError(t, os.WriteFile(vigilo.Config.Indexer.StateFile, []byte("99999"), 0644))

	ix, err := New()
	require.NoError(t, err)
	defer ix.closeConns()
	require.Zero(t, ix.Watermark(), "a watermark beyond MAX(rowid) means the store was rebuilt")
}

func TestFallbackTitle(t *testing.T) {
	tests := []struct {
		tag    string
		text   string
		url    string
		expect string
	}{
		{"FirstLine", "Heading Line\nrest of the text", "http://x/", "Heading Line"},
		{"LongText", strings.Repeat("a", 200), "http://x/", strings.Repeat("a", 80)},
		{"Empty", "", "http://x/", "http://x/"},
		{"Whitespace", "   \n  ", "http://x/", "http://x/"},
	}
	for _, tst := range tests {
		if got := fallbackTitle(tst.text, tst.url); got != tst.expect {
			t.Errorf("For tag %q got %q, expected %q", tst.tag, got, tst.expect)
		}
	}
}
