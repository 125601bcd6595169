package vigilo

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestDispatcherReservesAndFills verifies the dispatcher pulls pending rows,
// emits a reservation, and never hands out the same URL twice while it sits
// in the recent-dispatch cache.
func TestDispatcherReservesAndFills(t *testing.T) {
	e, crawl, _ := testEngineNoWorkers(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, crawl.ApplyBatch(&CrawlBatch{
			NewLinks: []FrontierInsert{{
				URL:      fmt.Sprintf("http://d.test/p%d", i),
				Domain:   "d.test",
				Priority: 10,
			}},
		}))
	}

	go e.dispatcher.start()
	defer close(e.quit)

	// All five jobs land on the fetch queue.
	got := map[string]bool{}
	deadline := time.After(5 * time.Second)
	for len(got) < 5 {
		select {
		case job := <-e.fetchQueue:
			require.False(t, got[job.URL], "URL %v dispatched twice", job.URL)
			got[job.URL] = true
		case <-deadline:
			t.Fatalf("Only %v of 5 jobs dispatched", len(got))
		}
	}

	// A reservation message was emitted for the batch.
	select {
	case msg := <-e.writeQueue:
		res, ok := msg.(ReserveMsg)
		require.True(t, ok, "expected ReserveMsg, got %T", msg)
		require.Len(t, res.URLs, 5)
	case <-time.After(time.Second):
		t.Fatal("No reservation message")
	}

	// The rows are still PENDING in the fake store (the writer applies the
	// reservation), but the LRU keeps the dispatcher from re-sending them.
	select {
	case job := <-e.fetchQueue:
		t.Fatalf("Re-dispatched %v while cached", job.URL)
	case <-time.After(300 * time.Millisecond):
	}
}
