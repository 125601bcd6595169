package vigilo

import (
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/plootohh/vigilo/bloom"
)

// Engine owns the whole crawl pipeline: the three bounded queues, the bloom
// filter, the domain governor, the robots cache, the dispatcher, the fetch
// and parse pools and the single DB writer.
//
// The calling code must create an Engine with NewEngine and then call
// Start() (blocking; run it in a goroutine if you want to do other things).
// Stop() signals shutdown; Start then runs the deterministic shutdown before
// it returns: stop the dispatcher and the pools, drain the write queue, roll
// IN_FLIGHT rows back to PENDING, and checkpoint the bloom filter.
type Engine struct {
	crawl   CrawlDB
	storage StorageDB

	bloom      *bloom.Filter
	governor   *DomainGovernor
	robots     *RobotsCache
	httpClient *http.Client

	fetchQueue chan FetchJob
	parseQueue chan *FetchResult
	writeQueue chan WriteMsg

	dispatcher *Dispatcher
	writer     *Writer

	// quit stops the dispatcher and the worker pools; writerQuit stops the
	// writer afterwards, so in-flight results still reach the stores.
	quit       chan struct{}
	writerQuit chan struct{}
	stopped    chan struct{}
	workerWG   sync.WaitGroup

	// inflight tracks fetch start times so the supervisor can reclaim jobs
	// from a wedged fetcher.
	inflightMu sync.Mutex
	inflight   map[string]time.Time

	started bool
}

// supervisorTimeout is how long a single fetch may run before the supervisor
// releases its reservation back to the frontier.
const supervisorTimeout = 20 * time.Second

// NewEngine wires an engine over the given stores.
func NewEngine(crawl CrawlDB, storage StorageDB) (*Engine, error) {
	e := &Engine{
		crawl:      crawl,
		storage:    storage,
		fetchQueue: make(chan FetchJob, Config.Crawler.FetchQueueSize),
		parseQueue: make(chan *FetchResult, 4*Config.Fetcher.NumParsers),
		writeQueue: make(chan WriteMsg, 100000),
		quit:       make(chan struct{}),
		writerQuit: make(chan struct{}),
		stopped:    make(chan struct{}),
		inflight:   make(map[string]time.Time),
	}

	e.bloom = bloom.New(Config.Crawler.BloomBits, Config.Crawler.BloomHashes,
		BloomHotPath(), BloomColdPath())
	e.governor = NewDomainGovernor()

	var err error
	e.httpClient, err = NewHTTPClient()
	if err != nil {
		return nil, err
	}
	e.robots = NewRobotsCache(e.httpClient)

	e.dispatcher, err = NewDispatcher(e)
	if err != nil {
		return nil, err
	}
	e.writer, err = NewWriter(e)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// InjectSeeds queues raw URLs for bloom-gated insertion into the frontier.
func (e *Engine) InjectSeeds(urls []string) {
	e.writeQueue <- SeedMsg{URLs: urls}
}

// Start begins crawling. It recovers frontier state, restores the bloom
// filter, and runs the writer, the dispatcher and the worker pools. Start
// blocks until Stop is called.
func (e *Engine) Start() {
	log.Info("Starting crawl engine")
	if e.crawl == nil || e.storage == nil {
		panic("Cannot start an Engine without stores")
	}
	if e.started {
		panic("Cannot start an Engine multiple times")
	}
	e.started = true

	// Crash recovery: reservations from a previous process are meaningless.
	if n, err := e.crawl.ResetInFlight(); err != nil {
		log.Errorf("Failed to reset in-flight frontier rows: %v", err)
	} else if n > 0 {
		log.Infof("Recovered %v in-flight frontier rows to pending", n)
	}

	e.bloom.Restore()

	writerDone := make(chan struct{})
	go func() {
		e.writer.start()
		close(writerDone)
	}()

	e.workerWG.Add(1)
	go func() {
		e.dispatcher.start()
		e.workerWG.Done()
	}()

	for i := 0; i < Config.Fetcher.NumFetchers; i++ {
		f, err := newFetcher(e)
		if err != nil {
			panic(err.Error())
		}
		e.workerWG.Add(1)
		go func() {
			f.start()
			e.workerWG.Done()
		}()
	}

	for i := 0; i < Config.Fetcher.NumParsers; i++ {
		p := newParser(e)
		e.workerWG.Add(1)
		go func() {
			p.start()
			e.workerWG.Done()
		}()
	}

	e.workerWG.Add(1)
	go func() {
		e.superviseLoop()
		e.workerWG.Done()
	}()

	e.workerWG.Wait()

	// Producers are gone; let the writer flush everything it has.
	close(e.writerQuit)
	<-writerDone

	if _, err := e.crawl.ResetInFlight(); err != nil {
		log.Errorf("Failed final in-flight reset: %v", err)
	}
	if err := e.bloom.Checkpoint(); err != nil {
		log.Errorf("Final bloom checkpoint failed: %v", err)
	}
	log.Info("Crawl engine stopped")
	close(e.stopped)
}

// Wait blocks until Start has fully returned.
func (e *Engine) Wait() {
	<-e.stopped
}

// Stop signals the engine to shut down; use Wait to block until Start has
// fully returned.
func (e *Engine) Stop() {
	if !e.started {
		panic("Cannot stop an Engine that has not been started")
	}
	log.Info("Stopping crawl engine")
	close(e.quit)
}

// enqueueWrite delivers a message to the DB writer.
func (e *Engine) enqueueWrite(msg WriteMsg) {
	e.writeQueue <- msg
}

// trackJob and untrackJob bracket one fetch for the supervisor.
func (e *Engine) trackJob(url string) {
	e.inflightMu.Lock()
	e.inflight[url] = time.Now()
	e.inflightMu.Unlock()
}

func (e *Engine) untrackJob(url string) {
	e.inflightMu.Lock()
	delete(e.inflight, url)
	e.inflightMu.Unlock()
}

// superviseLoop reclaims jobs whose fetcher has held them past the
// supervisor timeout, releasing the reservation so the dispatcher can hand
// the URL out again. The wedged fetch keeps running; a late success simply
// REPLACEs its rows.
func (e *Engine) superviseLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.quit:
			return
		case <-ticker.C:
		}

		now := time.Now()
		var stale []string
		e.inflightMu.Lock()
		for url, start := range e.inflight {
			if now.Sub(start) > supervisorTimeout {
				stale = append(stale, url)
				delete(e.inflight, url)
			}
		}
		e.inflightMu.Unlock()

		for _, url := range stale {
			log.Debugf("Supervisor reclaiming slow fetch %v", url)
			e.enqueueWrite(StatusUpdateMsg{URL: url, Status: StatusPending})
		}
	}
}

// QueueDepths reports the current queue fill levels for the monitor.
func (e *Engine) QueueDepths() (fetch, parse, write int) {
	return len(e.fetchQueue), len(e.parseQueue), len(e.writeQueue)
}
