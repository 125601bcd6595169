package vigilo

import (
	"fmt"
	"net/http"
	neturl "net/url"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
)

// DomainGovernor enforces per-domain politeness, failure penalties and the
// per-domain page cap. It owns a lock table with one entry per domain: the
// per-domain mutex serialises fetches so at most one request is in flight
// against a domain at a time, while the policy checks read counters without
// taking it (mild races are tolerated by design of the policy).
type DomainGovernor struct {
	mu      sync.Mutex
	domains map[string]*domainState
}

type domainState struct {
	fetchLock  sync.Mutex
	lastAccess time.Time
	failures   int
	pageCount  int
}

// NewDomainGovernor creates an empty governor.
func NewDomainGovernor() *DomainGovernor {
	return &DomainGovernor{domains: make(map[string]*domainState)}
}

func (g *DomainGovernor) state(domain string) *domainState {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.domains[domain]
	if !ok {
		st = &domainState{}
		g.domains[domain] = st
	}
	return st
}

// Capped reports whether the domain has hit its page cap.
func (g *DomainGovernor) Capped(domain string) bool {
	return g.state(domain).pageCount >= Config.Crawler.MaxPagesPerDomain
}

// CanCrawl applies the politeness policy: false when the domain is capped,
// sitting in the penalty box (more than 10 failures and under 5 minutes
// since last access), or when the crawl delay has not yet elapsed.
func (g *DomainGovernor) CanCrawl(domain string) bool {
	st := g.state(domain)

	if st.pageCount >= Config.Crawler.MaxPagesPerDomain {
		log.Debugf("[gov] skip %v: hit max cap (%v)", domain, Config.Crawler.MaxPagesPerDomain)
		return false
	}

	sinceAccess := time.Since(st.lastAccess)
	if st.failures > 10 && sinceAccess < 5*time.Minute {
		log.Debugf("[gov] skip %v: penalty box (failures: %v)", domain, st.failures)
		return false
	}

	delay := time.Duration(Config.Crawler.CrawlDelay * float64(time.Second))
	if sinceAccess < delay {
		log.Debugf("[gov] skip %v: politeness wait", domain)
		return false
	}

	return true
}

// FetchLock returns the mutex serialising fetches against domain.
func (g *DomainGovernor) FetchLock(domain string) *sync.Mutex {
	return &g.state(domain).fetchLock
}

// MarkAccess stamps the domain's last access time.
func (g *DomainGovernor) MarkAccess(domain string) {
	st := g.state(domain)
	g.mu.Lock()
	st.lastAccess = time.Now()
	g.mu.Unlock()
}

// MarkSuccess counts a successfully downloaded page against the domain cap.
func (g *DomainGovernor) MarkSuccess(domain string) {
	st := g.state(domain)
	g.mu.Lock()
	st.pageCount++
	g.mu.Unlock()
}

// MarkFailure counts a failure and refreshes the last access time, feeding
// the penalty box.
func (g *DomainGovernor) MarkFailure(domain string) {
	st := g.state(domain)
	g.mu.Lock()
	st.failures++
	st.lastAccess = time.Now()
	g.mu.Unlock()
}

// robotsTTL bounds how long a parsed robots.txt is trusted.
const robotsTTL = 24 * time.Hour

// RobotsCache caches parsed robots.txt policies per domain. Any failure to
// fetch or parse a robots file results in allow: coverage is deliberately
// favoured over strictness (fail-open).
type RobotsCache struct {
	mu      sync.Mutex
	entries map[string]robotsEntry
	client  *http.Client
}

type robotsEntry struct {
	group     *robotstxt.Group
	fetchedAt time.Time
}

// NewRobotsCache creates a cache that fetches robots.txt with the given
// client (nil for http.DefaultClient).
func NewRobotsCache(client *http.Client) *RobotsCache {
	if client == nil {
		client = http.DefaultClient
	}
	return &RobotsCache{
		entries: make(map[string]robotsEntry),
		client:  client,
	}
}

// Allow reports whether the crawler's user agent may fetch url on domain.
func (rc *RobotsCache) Allow(domain, url string) bool {
	now := time.Now()

	rc.mu.Lock()
	entry, ok := rc.entries[domain]
	rc.mu.Unlock()

	if !ok || now.Sub(entry.fetchedAt) > robotsTTL {
		group := rc.fetch(domain)
		entry = robotsEntry{group: group, fetchedAt: now}
		rc.mu.Lock()
		rc.entries[domain] = entry
		rc.mu.Unlock()
	}

	if entry.group == nil {
		return true
	}
	// Robots rules match against the request path, not the absolute URL.
	path := url
	if u, err := neturl.Parse(url); err == nil {
		path = u.RequestURI()
	}
	allowed := entry.group.Test(path)
	if !allowed {
		log.Debugf("[robots] denied %v", url)
	}
	return allowed
}

// fetch downloads and parses http://domain/robots.txt. A nil return means
// "no policy" (allow everything).
func (rc *RobotsCache) fetch(domain string) *robotstxt.Group {
	log.Debugf("[robots] fetching for %v", domain)

	req, err := http.NewRequest("GET", fmt.Sprintf("http://%s/robots.txt", domain), nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", Config.UserAgent)

	resp, err := rc.client.Do(req)
	if err != nil {
		log.Debugf("[robots] failed %v: %v", domain, err)
		return nil
	}
	defer resp.Body.Close()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		log.Debugf("[robots] parse failed %v: %v", domain, err)
		return nil
	}
	return data.FindGroup(Config.UserAgent)
}
