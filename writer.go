package vigilo

import (
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	log "github.com/sirupsen/logrus"
)

// maxMessagesPerTick bounds how many write queue messages are folded into
// one commit cycle.
const maxMessagesPerTick = 2000

// Writer is the single consumer of the write queue and the only task that
// writes to the crawl and storage stores. Each tick it drains up to
// maxMessagesPerTick messages into typed batch vectors and applies them in
// one immediate transaction per store. A failed transaction is never
// partially applied; the batch is kept and retried on the next tick.
type Writer struct {
	e *Engine

	rankCache *lru.Cache

	// pending batches survive a failed commit (ex. a locked database) and
	// are merged with the next tick's work.
	pendingCrawl *CrawlBatch
	pendingPages []*ParsedPage

	lastBloomSave time.Time
	lastWALCheck  time.Time

	done chan struct{}
}

// NewWriter creates the writer for an engine.
func NewWriter(e *Engine) (*Writer, error) {
	cache, err := lru.New(50000)
	if err != nil {
		return nil, err
	}
	return &Writer{
		e:             e,
		rankCache:     cache,
		pendingCrawl:  NewCrawlBatch(),
		lastBloomSave: time.Now(),
		lastWALCheck:  time.Now(),
		done:          make(chan struct{}),
	}, nil
}

// start runs the writer until the engine's writerQuit channel closes, then
// drains whatever is left on the queue and applies it before returning.
func (w *Writer) start() {
	log.Info("DB writer started")
	defer close(w.done)

	for {
		n := w.collect()
		if w.hasWork() {
			w.commit()
		}

		w.maybeCheckpoint()

		if n == 0 {
			select {
			case <-w.e.writerQuit:
				w.finalDrain()
				log.Info("DB writer stopped")
				return
			case <-time.After(50 * time.Millisecond):
			}
		}
	}
}

// finalDrain empties the write queue completely and commits, so no accepted
// message is lost on a graceful shutdown.
func (w *Writer) finalDrain() {
	for {
		if n := w.collect(); n == 0 {
			break
		}
	}
	for attempt := 0; w.hasWork() && attempt < 5; attempt++ {
		w.commit()
		if w.hasWork() {
			time.Sleep(200 * time.Millisecond)
		}
	}
}

func (w *Writer) hasWork() bool {
	return !w.pendingCrawl.Empty() || len(w.pendingPages) > 0
}

// collect folds up to maxMessagesPerTick queued messages into the pending
// batches, returning how many were consumed.
func (w *Writer) collect() int {
	n := 0
	for n < maxMessagesPerTick {
		select {
		case msg := <-w.e.writeQueue:
			w.fold(msg)
			n++
		default:
			return n
		}
	}
	return n
}

// fold routes one message into the pending batch vectors.
func (w *Writer) fold(msg WriteMsg) {
	b := w.pendingCrawl
	switch m := msg.(type) {
	case SavePageMsg:
		p := m.Page
		rank := w.rankFor(Domain(p.URL))
		now := time.Now()
		b.Visited = append(b.Visited, VisitedRow{
			URL:           p.URL,
			Title:         p.Title,
			Description:   p.Description,
			HTTPStatus:    p.HTTPStatus,
			OutLinks:      len(p.Links),
			CrawledAt:     now,
			CrawlEpoch:    Config.Crawler.CrawlEpoch,
			LastSeenEpoch: Config.Crawler.CrawlEpoch,
			DomainRank:    rank,
		})
		b.Status = append(b.Status, StatusUpdate{
			URL:       p.URL,
			Status:    StatusDone,
			NextCrawl: nextCrawlTime(rank, now),
		})
		w.pendingPages = append(w.pendingPages, p)

		// lookup-then-add is a single critical section inside the filter,
		// so a link can never be enqueued twice.
		for _, link := range p.Links {
			if w.e.bloom.AddIfAbsent(link) {
				b.NewLinks = append(b.NewLinks, FrontierInsert{
					URL:      link,
					Domain:   Domain(link),
					Priority: Priority(link),
				})
			}
		}

	case SeedMsg:
		for _, raw := range m.URLs {
			canon, err := Canonicalize(raw)
			if err != nil {
				continue
			}
			if w.e.bloom.AddIfAbsent(canon) {
				b.NewLinks = append(b.NewLinks, FrontierInsert{
					URL:      canon,
					Domain:   Domain(canon),
					Priority: Priority(canon),
				})
			}
		}

	case StatusUpdateMsg:
		b.Status = append(b.Status, StatusUpdate{URL: m.URL, Status: m.Status})

	case RetryMsg:
		b.Retries = append(b.Retries, m)

	case ReserveMsg:
		b.Reserve = append(b.Reserve, m.URLs...)

	case LanguageMsg:
		b.Languages = append(b.Languages, m)
	}
}

// commit applies the pending batches, one immediate transaction per store.
// Either transaction failing keeps its batch pending; a locked database is
// routine and never fatal.
func (w *Writer) commit() {
	start := time.Now()

	if !w.pendingCrawl.Empty() {
		if err := w.e.crawl.ApplyBatch(w.pendingCrawl); err != nil {
			if isLocked(err) {
				log.Debugf("Crawl DB locked, retrying batch next tick")
			} else {
				log.Errorf("Crawl DB write error (batch kept): %v", err)
			}
		} else {
			committed := w.pendingCrawl.Size()
			w.pendingCrawl = NewCrawlBatch()
			log.Debugf("[db] committed %v crawl mutations (%.3fs)", committed, time.Since(start).Seconds())
		}
	}

	if len(w.pendingPages) > 0 {
		if err := w.e.storage.SavePages(w.pendingPages); err != nil {
			if isLocked(err) {
				log.Debugf("Storage DB locked, retrying batch next tick")
			} else {
				log.Errorf("Storage DB write error (batch kept): %v", err)
			}
		} else {
			w.pendingPages = nil
		}
	}
}

// maybeCheckpoint runs the periodic WAL checkpoints and the bloom filter
// checkpoint on their configured cadences.
func (w *Writer) maybeCheckpoint() {
	now := time.Now()

	if now.Sub(w.lastWALCheck) > time.Duration(Config.Store.CheckpointSec)*time.Second {
		w.lastWALCheck = now
		if err := w.e.crawl.WALCheckpoint(); err != nil {
			log.Debugf("Crawl WAL checkpoint: %v", err)
		}
		if err := w.e.storage.WALCheckpoint(); err != nil {
			log.Debugf("Storage WAL checkpoint: %v", err)
		}
	}

	if now.Sub(w.lastBloomSave) > time.Duration(Config.Crawler.BloomCheckpointSec)*time.Second {
		w.lastBloomSave = now
		if err := w.e.bloom.Checkpoint(); err != nil {
			log.Errorf("Bloom checkpoint failed: %v", err)
		}
	}
}

// rankFor resolves the authority rank for a host, caching lookups.
func (w *Writer) rankFor(host string) int64 {
	key := BaseDomain(host)
	if v, ok := w.rankCache.Get(key); ok {
		return v.(int64)
	}
	rank := w.e.crawl.DomainRank(key)
	w.rankCache.Add(key, rank)
	return rank
}

// nextCrawlTime schedules the revisit of a page from its domain's authority
// rank: popular domains churn, the long tail doesn't.
func nextCrawlTime(rank int64, now time.Time) time.Time {
	switch {
	case rank < 1000:
		return now.AddDate(0, 0, 1)
	case rank < 10000:
		return now.AddDate(0, 0, 3)
	case rank < 100000:
		return now.AddDate(0, 0, 7)
	default:
		return now.AddDate(0, 0, 30)
	}
}

func isLocked(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "locked")
}
