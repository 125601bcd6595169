package vigilo

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/plootohh/vigilo/dnscache"
	"github.com/plootohh/vigilo/mimetools"
)

// NewHTTPClient builds the crawler's shared HTTP client: pooled per-host
// connections, a DNS-caching dialer with the connect timeout, and a
// permissive TLS profile (no verification, TLS 1.0 floor) so legacy HTTPS
// hosts stay reachable. Loose TLS is a deliberate trade of strictness for
// coverage on a reconnaissance-adjacent workload.
func NewHTTPClient() (*http.Client, error) {
	connectTimeout, err := time.ParseDuration(Config.Fetcher.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	readTimeout, err := time.ParseDuration(Config.Fetcher.ReadTimeout)
	if err != nil {
		return nil, err
	}

	dial := (&net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}).Dial

	cachingDial, err := dnscache.Dial(dial, Config.Fetcher.MaxDNSCacheEntries,
		Config.Fetcher.BlacklistPrivateIPs)
	if err != nil {
		return nil, fmt.Errorf("failed to construct dns-caching dialer: %v", err)
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		Dial:  cachingDial,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true,
			MinVersion:         tls.VersionTLS10,
		},
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   2,
		MaxIdleConns:          Config.Fetcher.NumFetchers,
		ResponseHeaderTimeout: readTimeout,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   connectTimeout + readTimeout,
	}, nil
}

// fetcher is one worker of the fetch pool. Fetchers consume the fetch
// queue, consult the governor and the robots cache, perform the GET under
// the per-domain lock, and hand successful downloads to the parse queue.
type fetcher struct {
	e       *Engine
	client  *http.Client
	matcher *mimetools.Matcher
}

func newFetcher(e *Engine) (*fetcher, error) {
	matcher, err := mimetools.NewMatcher(Config.Fetcher.AcceptFormats)
	if err != nil {
		return nil, fmt.Errorf("mimetools.NewMatcher failed to initialize: %v", err)
	}
	return &fetcher{e: e, client: e.httpClient, matcher: matcher}, nil
}

// start blocks until the engine is told to quit.
func (f *fetcher) start() {
	log.Debug("Starting new fetcher")
	for {
		select {
		case <-f.e.quit:
			log.Debug("Stopping fetcher")
			return
		case job := <-f.e.fetchQueue:
			f.handle(job)
		}
	}
}

func (f *fetcher) handle(job FetchJob) {
	domain := Domain(job.URL)
	if domain == "" {
		f.e.enqueueWrite(StatusUpdateMsg{URL: job.URL, Status: StatusDead})
		return
	}

	gov := f.e.governor
	if !gov.CanCrawl(domain) {
		if gov.Capped(domain) {
			// Capped domains are done, not retried forever.
			f.e.enqueueWrite(StatusUpdateMsg{URL: job.URL, Status: StatusDone})
			return
		}
		// Politeness deferral: put the job back if there's room, otherwise
		// release the reservation and let the dispatcher re-pick it.
		select {
		case f.e.fetchQueue <- job:
			time.Sleep(100 * time.Millisecond)
		default:
			f.e.enqueueWrite(StatusUpdateMsg{URL: job.URL, Status: StatusPending})
		}
		return
	}

	if !f.e.robots.Allow(domain, job.URL) {
		f.e.enqueueWrite(StatusUpdateMsg{URL: job.URL, Status: StatusDead})
		return
	}

	lock := gov.FetchLock(domain)
	lock.Lock()
	// Re-check under the domain lock: another fetcher may have touched the
	// domain between the lock-free policy check and here.
	if !gov.CanCrawl(domain) {
		lock.Unlock()
		select {
		case f.e.fetchQueue <- job:
			time.Sleep(100 * time.Millisecond)
		default:
			f.e.enqueueWrite(StatusUpdateMsg{URL: job.URL, Status: StatusPending})
		}
		return
	}
	gov.MarkAccess(domain)
	f.e.trackJob(job.URL)
	start := time.Now()
	result, kind := f.download(job)
	f.e.untrackJob(job.URL)
	lock.Unlock()
	dur := time.Since(start)

	if kind != FetchOK {
		log.Debugf("[fetch] FAIL %v (%v) %.2fs", job.URL, kind, dur.Seconds())
		gov.MarkFailure(domain)
		if !kind.Terminal() && job.RetryCount < Config.Crawler.MaxRetries {
			f.e.enqueueWrite(RetryMsg{URL: job.URL, RetryCount: job.RetryCount + 1})
		} else {
			f.e.enqueueWrite(StatusUpdateMsg{URL: job.URL, Status: StatusDead})
		}
		return
	}

	log.Debugf("[fetch] OK %v %.2fs", job.URL, dur.Seconds())
	gov.MarkSuccess(domain)

	select {
	case f.e.parseQueue <- result:
	case <-f.e.quit:
	}
}

// download performs the HTTP GET and applies the protocol gates: status must
// be 200, Content-Type must match the accept list, and the body must fit in
// MaxHTTPContentSizeBytes.
func (f *fetcher) download(job FetchJob) (*FetchResult, FetchErrorKind) {
	req, err := http.NewRequest("GET", job.URL, nil)
	if err != nil {
		return nil, FetchErrNet
	}
	req.Header.Set("User-Agent", Config.UserAgent)
	req.Header.Set("Accept", strings.Join(Config.Fetcher.AcceptFormats, ","))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyNetError(err)
	}
	defer resp.Body.Close()

	result := &FetchResult{
		URL:        job.URL,
		RetryCount: job.RetryCount,
		Headers:    resp.Header,
		HTTPStatus: resp.StatusCode,
	}

	if resp.StatusCode != http.StatusOK {
		return result, FetchErrHTTP
	}

	isHTML := false
	for _, ct := range resp.Header["Content-Type"] {
		if matched, err := f.matcher.Match(ct); err == nil && matched {
			isHTML = true
			break
		}
	}
	if !isHTML {
		return result, FetchErrNotHTML
	}

	maxBytes := Config.Fetcher.MaxHTTPContentSizeBytes
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return result, classifyNetError(err)
	}
	if int64(len(body)) > maxBytes {
		return result, FetchErrTooLarge
	}

	result.Body = body
	return result, FetchOK
}

// classifyNetError maps a transport failure onto the retry taxonomy.
func classifyNetError(err error) FetchErrorKind {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FetchErrTimeout
	}

	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return FetchErrSSL
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "tls") || strings.Contains(msg, "ssl") ||
		strings.Contains(msg, "handshake") || strings.Contains(msg, "certificate") {
		return FetchErrSSL
	}

	return FetchErrNet
}
