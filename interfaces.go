package vigilo

import "time"

// CrawlDB is the slice of the crawl store the engine depends on. The real
// implementation is store.CrawlStore; tests substitute in-memory fakes.
type CrawlDB interface {
	// SelectBatch returns up to limit dispatchable frontier rows: PENDING
	// rows plus IN_FLIGHT rows whose reservation is older than reserveAge.
	SelectBatch(limit int, reserveAge time.Duration) ([]FetchJob, error)

	// ApplyBatch applies a full writer batch in one transaction, or none of
	// it.
	ApplyBatch(b *CrawlBatch) error

	// DomainRank returns the authority rank for a bare domain, or
	// UnrankedDomain when absent.
	DomainRank(domain string) int64

	// ResetInFlight rolls every IN_FLIGHT row back to PENDING, returning how
	// many rows were reclaimed.
	ResetInFlight() (int64, error)

	// FrontierCount counts frontier rows in a status.
	FrontierCount(status int) (int64, error)

	// WALCheckpoint runs the periodic WAL maintenance.
	WALCheckpoint() error
}

// StorageDB is the slice of the storage store the engine depends on.
type StorageDB interface {
	// SavePages REPLACEs a batch of parsed pages in one transaction.
	SavePages(pages []*ParsedPage) error

	// WALCheckpoint runs the periodic WAL maintenance.
	WALCheckpoint() error
}
