package vigilo

import (
	"math/rand"
	"time"

	lru "github.com/hashicorp/golang-lru"
	log "github.com/sirupsen/logrus"
)

// Dispatcher is the single task that keeps the fetch queue fed. When the
// queue drops below half capacity it reserves the best frontier rows
// (lowest priority first, orphaned reservations included), filters out URLs
// it has dispatched recently, emits the reservation to the write queue, and
// pushes the shuffled batch to the fetchers.
//
// The recent-dispatch LRU exists because the reservation is asynchronous:
// until the writer commits the IN_FLIGHT update, a re-query of the frontier
// would hand out the same rows again.
type Dispatcher struct {
	e      *Engine
	recent *lru.Cache
}

// NewDispatcher creates a dispatcher for the engine.
func NewDispatcher(e *Engine) (*Dispatcher, error) {
	cache, err := lru.New(Config.Crawler.DispatchCacheSize)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{e: e, recent: cache}, nil
}

// start blocks until the engine is told to quit.
func (d *Dispatcher) start() {
	log.Info("Dispatcher started")
	reserveAge, err := time.ParseDuration(Config.Crawler.ReserveTimeout)
	if err != nil {
		// Checked by assertConfigInvariants; can't happen at runtime.
		panic(err.Error())
	}

	for {
		select {
		case <-d.e.quit:
			log.Info("Dispatcher stopped")
			return
		default:
		}

		if len(d.e.fetchQueue) >= cap(d.e.fetchQueue)/2 {
			d.sleep(500 * time.Millisecond)
			continue
		}

		start := time.Now()
		jobs, err := d.e.crawl.SelectBatch(Config.Crawler.BatchSize, reserveAge)
		if err != nil {
			log.Errorf("Dispatch query error: %v", err)
			d.sleep(5 * time.Second)
			continue
		}

		valid := jobs[:0]
		for _, j := range jobs {
			if !d.recent.Contains(j.URL) {
				valid = append(valid, j)
			}
		}

		if len(valid) == 0 {
			log.Debug("[dispatch] frontier empty, sleeping")
			d.sleep(2 * time.Second)
			continue
		}

		// Shuffle so consecutive jobs rarely share a domain; otherwise a
		// freshly seeded frontier would serialise on the politeness lock.
		rand.Shuffle(len(valid), func(i, j int) { valid[i], valid[j] = valid[j], valid[i] })

		urls := make([]string, len(valid))
		for i, j := range valid {
			urls[i] = j.URL
			d.recent.Add(j.URL, struct{}{})
		}
		d.e.enqueueWrite(ReserveMsg{URLs: urls})

		for _, j := range valid {
			select {
			case d.e.fetchQueue <- j:
			case <-d.e.quit:
				return
			}
		}
		log.Infof("Dispatched %v URLs (%.3fs)", len(valid), time.Since(start).Seconds())
	}
}

func (d *Dispatcher) sleep(dur time.Duration) {
	select {
	case <-d.e.quit:
	case <-time.After(dur):
	}
}
