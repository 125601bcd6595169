package vigilo

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestEngineCrawlCycle drives a full dispatch -> fetch -> parse -> write
// cycle against a fake web server, then shuts down and verifies recovery
// invariants: the seed is DONE, the discovered link entered the frontier,
// and nothing is left IN_FLIGHT.
func TestEngineCrawlCycle(t *testing.T) {
	setTestConfig(t)

	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			http.NotFound(w, r)
		case "/":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprintf(w, `<html><title>root</title><body><a href="%s/x">next</a></body></html>`, server.URL)
		case "/x":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, `<html><title>leaf</title><body>leaf page</body></html>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	crawl := newFakeCrawlDB()
	storage := newFakeStorageDB()
	e, err := NewEngine(crawl, storage)
	require.NoError(t, err)

	seed := server.URL + "/"
	e.InjectSeeds([]string{seed})

	go e.Start()

	// Wait for both pages to be crawled.
	deadline := time.Now().Add(15 * time.Second)
	for crawl.visitedCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	require.GreaterOrEqual(t, crawl.visitedCount(), 2, "both pages should be visited")

	e.Stop()
	e.Wait()

	// The seed and the discovered link both exist and finished.
	root, ok := crawl.row(seed)
	require.True(t, ok, "seed missing from frontier")
	require.Equal(t, StatusDone, root.Status)

	leaf, ok := crawl.row(server.URL + "/x")
	require.True(t, ok, "discovered link missing from frontier")
	require.Equal(t, StatusDone, leaf.Status)

	// Graceful shutdown leaves no reservation behind.
	inflight, err := crawl.FrontierCount(StatusInFlight)
	require.NoError(t, err)
	require.EqualValues(t, 0, inflight)

	// Every visited row has a matching storage page.
	require.Equal(t, crawl.visitedCount(), storage.pageCount())
}

// TestEngineShutdownMidCrawl kills the engine while work is still pending
// and verifies no row remains IN_FLIGHT afterward (the crash-recovery
// contract).
func TestEngineShutdownMidCrawl(t *testing.T) {
	setTestConfig(t)

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		// Hold the request so jobs are mid-flight during shutdown.
		select {
		case <-release:
		case <-time.After(3 * time.Second):
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>slow</body></html>")
	}))
	defer server.Close()
	defer close(release)

	crawl := newFakeCrawlDB()
	for i := 0; i < 10; i++ {
		crawl.ApplyBatch(&CrawlBatch{
			NewLinks: []FrontierInsert{{
				URL:      fmt.Sprintf("%s/page%d", server.URL, i),
				Domain:   Domain(server.URL),
				Priority: 10,
			}},
		})
	}

	e, err := NewEngine(crawl, newFakeStorageDB())
	require.NoError(t, err)

	go e.Start()

	// Let the dispatcher reserve some work.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := crawl.FrontierCount(StatusInFlight); n > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	e.Stop()
	e.Wait()

	inflight, err := crawl.FrontierCount(StatusInFlight)
	require.NoError(t, err)
	require.EqualValues(t, 0, inflight, "no row may remain IN_FLIGHT after shutdown")
}

// TestEnginePoliteness crawls several pages on one domain and checks the
// observed inter-request spacing respects the crawl delay.
func TestEnginePoliteness(t *testing.T) {
	setTestConfig(t)
	Config.Crawler.CrawlDelay = 0.15

	var mu = make(chan time.Time, 100)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		mu <- time.Now()
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>page</body></html>")
	}))
	defer server.Close()

	crawl := newFakeCrawlDB()
	for i := 0; i < 3; i++ {
		crawl.ApplyBatch(&CrawlBatch{
			NewLinks: []FrontierInsert{{
				URL:      fmt.Sprintf("%s/p%d", server.URL, i),
				Domain:   Domain(server.URL),
				Priority: 10,
			}},
		})
	}

	e, err := NewEngine(crawl, newFakeStorageDB())
	require.NoError(t, err)
	go e.Start()

	deadline := time.Now().Add(15 * time.Second)
	for crawl.visitedCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	e.Stop()
	e.Wait()

	close(mu)
	var stamps []time.Time
	for ts := range mu {
		stamps = append(stamps, ts)
	}
	require.GreaterOrEqual(t, len(stamps), 3)
	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		require.GreaterOrEqual(t, gap, 140*time.Millisecond,
			"requests %d and %d only %v apart", i-1, i, gap)
	}
}
