package console

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/unrolled/render"

	"github.com/plootohh/vigilo"
	"github.com/plootohh/vigilo/store"
)

// setupSearchAPI builds real stores with a couple of indexed pages and wires
// the package-level handles the controllers use.
func setupSearchAPI(t *testing.T) {
	t.Helper()
	dir := t.TempDir()

	origCfg := vigilo.Config
	origDS, origRender, origLimiter := DS, Render, limiter
	t.Cleanup(func() {
		if DS != nil {
			DS.Close()
		}
		vigilo.Config = origCfg
		DS, Render, limiter = origDS, origRender, origLimiter
	})

	vigilo.Config.Store.CrawlDB = filepath.Join(dir, "crawl.db")
	vigilo.Config.Store.StorageDB = filepath.Join(dir, "storage.db")
	vigilo.Config.Store.SearchDB = filepath.Join(dir, "search.db")
	vigilo.Config.Store.MmapSizeBytes = 0

	crawl, err := store.OpenCrawl(store.ModeWriter)
	require.NoError(t, err)
	require.NoError(t, store.InitCrawlSchema(crawl.DB))

	search, err := store.OpenSearchDetached(store.ModeWriter)
	require.NoError(t, err)
	require.NoError(t, store.InitSearchSchema(search.DB))

	require.NoError(t, crawl.ApplyBatch(&vigilo.CrawlBatch{
		Visited: []vigilo.VisitedRow{
			{URL: "https://en.wikipedia.org/", Title: "Wikipedia", HTTPStatus: 200,
				Language: "en", CrawledAt: time.Now(), CrawlEpoch: 1, LastSeenEpoch: 1, DomainRank: 10},
			{URL: "https://example.net/wiki/wikipedia", Title: "About Wikipedia", HTTPStatus: 200,
				Language: "en", CrawledAt: time.Now(), CrawlEpoch: 1, LastSeenEpoch: 1, DomainRank: 50000},
		},
	}))
	require.NoError(t, search.InsertDocs([]store.IndexDoc{
		{URL: "https://en.wikipedia.org/", Title: "Wikipedia",
			Description: "The free encyclopedia", Content: "wikipedia the free encyclopedia anyone can edit"},
		{URL: "https://example.net/wiki/wikipedia", Title: "About Wikipedia",
			Content: "an article about wikipedia hosted elsewhere"},
	}))
	require.NoError(t, search.Close())
	require.NoError(t, crawl.Close())

	DS, err = store.OpenSearch(store.ModeReader)
	require.NoError(t, err)
	Render = render.New()
	limiter = newIPRateLimiter(vigilo.Config.Console.RateLimitMax, vigilo.Config.Console.RateLimitSec)
}

func doSearch(t *testing.T, target, ip string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", target, nil)
	req.RemoteAddr = ip + ":12345"
	req.Header.Set("Accept-Language", "en-US")
	w := httptest.NewRecorder()
	SearchController(w, req)
	return w
}

func TestSearchEndpoint(t *testing.T) {
	setupSearchAPI(t)

	w := doSearch(t, "/search?q=wikipedia", "192.0.2.1")
	require.Equal(t, http.StatusOK, w.Code)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "wikipedia", resp.Query)
	require.Equal(t, 2, resp.Count)
	require.Len(t, resp.Results, 2)

	// Navigational intent puts the homepage first, verified by authority.
	require.Equal(t, "https://en.wikipedia.org/", resp.Results[0].URL)
	require.True(t, resp.Results[0].Verified)
	require.Contains(t, resp.Results[0].Title, "<b>")
}

func TestSearchMalformedQueryReturnsEmpty(t *testing.T) {
	setupSearchAPI(t)

	// Quoting keeps FTS syntax inert; hostile input must never 500.
	w := doSearch(t, `/search?q=%22AND%28%28`, "192.0.2.2")
	require.Equal(t, http.StatusOK, w.Code)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 0, resp.Count)
}

func TestSearchRateLimited(t *testing.T) {
	setupSearchAPI(t)

	got429 := false
	for i := 0; i < vigilo.Config.Console.RateLimitMax+5; i++ {
		w := doSearch(t, "/search?q=wikipedia", "192.0.2.3")
		if w.Code == http.StatusTooManyRequests {
			got429 = true
		}
	}
	require.True(t, got429, "exceeding the per-IP budget must yield a 429")

	// A different source IP is not affected.
	w := doSearch(t, "/search?q=wikipedia", "192.0.2.4")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestSuggestEndpoint(t *testing.T) {
	setupSearchAPI(t)

	req := httptest.NewRequest("GET", "/suggest?q=Wiki", nil)
	w := httptest.NewRecorder()
	SuggestController(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var titles []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &titles))
	require.Len(t, titles, 1)

	// Under two characters: always empty.
	req = httptest.NewRequest("GET", "/suggest?q=W", nil)
	w = httptest.NewRecorder()
	SuggestController(w, req)
	var short []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &short))
	require.Empty(t, short)
}
