package vigilo

import "time"

// Frontier statuses. Transitions are PENDING -> IN_FLIGHT -> {DONE, PENDING
// (retry), DEAD}; rows are never deleted, their status is updated instead so
// the frontier remains the dedup source of truth.
const (
	StatusPending  = 0
	StatusInFlight = 1
	StatusDone     = 2
	StatusDead     = 3
)

// UnrankedDomain is the authority rank assumed for any domain missing from
// the domain_authority table.
const UnrankedDomain int64 = 10000000

// FetchJob is one unit of work on the fetch queue.
type FetchJob struct {
	URL        string
	RetryCount int
}

// FetchErrorKind classifies a failed fetch, driving retry-vs-dead decisions.
type FetchErrorKind int

const (
	FetchOK FetchErrorKind = iota
	FetchErrHTTP
	FetchErrNotHTML
	FetchErrTooLarge
	FetchErrTimeout
	FetchErrSSL
	FetchErrNet
)

func (k FetchErrorKind) String() string {
	switch k {
	case FetchOK:
		return "OK"
	case FetchErrHTTP:
		return "HTTP"
	case FetchErrNotHTML:
		return "NOT_HTML"
	case FetchErrTooLarge:
		return "TOO_LARGE"
	case FetchErrTimeout:
		return "TIMEOUT"
	case FetchErrSSL:
		return "SSL_ERROR"
	default:
		return "NET_ERROR"
	}
}

// Terminal reports whether the failure should not be retried: protocol and
// policy failures are final for a URL, transient network failures are not.
func (k FetchErrorKind) Terminal() bool {
	switch k {
	case FetchErrHTTP, FetchErrNotHTML, FetchErrTooLarge:
		return true
	}
	return false
}

// FetchResult carries a completed download from a fetcher to the parser pool.
type FetchResult struct {
	URL        string
	RetryCount int
	Body       []byte
	Headers    map[string][]string
	HTTPStatus int
}

// ParsedPage is the parser pool's output: every field extracted from one
// page, plus its canonicalised outlinks. It maps one-to-one onto a save_page
// message for the DB writer.
type ParsedPage struct {
	URL           string
	Title         string
	Description   string
	H1            string
	H2            string
	ImportantText string
	Content       string
	CompressedRaw []byte
	HeadersJSON   string
	HTTPStatus    int
	Links         []string
}

// FrontierRow mirrors one row of the frontier table.
type FrontierRow struct {
	URL           string
	Domain        string
	Priority      int
	Status        int
	RetryCount    int
	ReservedAt    time.Time
	AddedAt       time.Time
	NextCrawlTime time.Time
}

// VisitedRow mirrors one row of the visited table.
type VisitedRow struct {
	URL           string
	Title         string
	Description   string
	HTTPStatus    int
	Language      string
	OutLinks      int
	CrawledAt     time.Time
	CrawlEpoch    int
	LastSeenEpoch int
	DomainRank    int64
}

// Write queue messages. The write queue is a multi-producer single-consumer
// channel; the writer batches messages by kind into per-store transactions.

// WriteMsg is the interface implemented by every message on the write queue.
type WriteMsg interface{ writeMsg() }

// SavePageMsg persists a successfully fetched and parsed page.
type SavePageMsg struct{ Page *ParsedPage }

// StatusUpdateMsg moves a frontier row to a new status: DONE or DEAD when a
// URL is finished (or its domain is capped), PENDING when a reservation is
// released without a fetch.
type StatusUpdateMsg struct {
	URL    string
	Status int
}

// RetryMsg returns a failed URL to PENDING with a bumped retry count and a
// penalised priority.
type RetryMsg struct {
	URL        string
	RetryCount int
}

// ReserveMsg marks a dispatched batch IN_FLIGHT with the current timestamp.
type ReserveMsg struct{ URLs []string }

// SeedMsg injects URLs straight into the frontier (bloom-gated like any
// parsed link).
type SeedMsg struct{ URLs []string }

// LanguageMsg is the indexer's best-effort language update for a visited row.
type LanguageMsg struct {
	URL      string
	Language string
}

func (SavePageMsg) writeMsg()     {}
func (StatusUpdateMsg) writeMsg() {}
func (RetryMsg) writeMsg()        {}
func (ReserveMsg) writeMsg()      {}
func (SeedMsg) writeMsg()         {}
func (LanguageMsg) writeMsg()     {}

// StatusUpdate moves one frontier row to a new status, optionally scheduling
// its next crawl (zero NextCrawl leaves next_crawl_time untouched).
type StatusUpdate struct {
	URL       string
	Status    int
	NextCrawl time.Time
}

// FrontierInsert is a newly discovered link headed for the frontier.
type FrontierInsert struct {
	URL      string
	Domain   string
	Priority int
}

// CrawlBatch collects one writer tick's worth of crawl-store mutations,
// applied in a single immediate transaction.
type CrawlBatch struct {
	Visited   []VisitedRow
	Status    []StatusUpdate
	NewLinks  []FrontierInsert
	Reserve   []string
	Retries   []RetryMsg
	Languages []LanguageMsg
}

// NewCrawlBatch returns an empty batch.
func NewCrawlBatch() *CrawlBatch { return &CrawlBatch{} }

// Empty reports whether the batch holds no work.
func (b *CrawlBatch) Empty() bool {
	return len(b.Visited) == 0 && len(b.Status) == 0 && len(b.NewLinks) == 0 &&
		len(b.Reserve) == 0 && len(b.Retries) == 0 && len(b.Languages) == 0
}

// Size returns the number of mutations in the batch.
func (b *CrawlBatch) Size() int {
	return len(b.Visited) + len(b.Status) + len(b.NewLinks) +
		len(b.Reserve) + len(b.Retries) + len(b.Languages)
}
