package vigilo

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/charmap"
)

// strippedSelectors are subtrees that never contribute searchable text.
const strippedSelectors = "script, style, nav, footer, header, noscript, iframe, svg"

// parser is one worker of the parse pool: it turns raw fetch results into
// ParsedPage records (structured fields + canonicalised outlinks +
// compressed raw HTML) and hands them to the write queue.
type parser struct {
	e *Engine
}

func newParser(e *Engine) *parser { return &parser{e: e} }

// start blocks until the engine is told to quit.
func (p *parser) start() {
	log.Debug("Starting new parser")
	for {
		select {
		case <-p.e.quit:
			log.Debug("Stopping parser")
			return
		case res := <-p.e.parseQueue:
			page, err := p.parsePage(res)
			if err != nil {
				// The download itself succeeded; account the parse failure
				// like a transient fetch error.
				log.Debugf("[parse] FAIL %v: %v", res.URL, err)
				if res.RetryCount < Config.Crawler.MaxRetries {
					p.e.enqueueWrite(RetryMsg{URL: res.URL, RetryCount: res.RetryCount + 1})
				} else {
					p.e.enqueueWrite(StatusUpdateMsg{URL: res.URL, Status: StatusDead})
				}
				continue
			}
			p.e.enqueueWrite(SavePageMsg{Page: page})
		}
	}
}

// parsePage extracts the indexable fields and outlinks from one response.
func (p *parser) parsePage(res *FetchResult) (*ParsedPage, error) {
	start := time.Now()

	htmlStr := decodeBody(res.Body)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		return nil, err
	}

	doc.Find(strippedSelectors).Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	desc, _ := doc.Find(`meta[name="description"]`).First().Attr("content")
	desc = strings.TrimSpace(desc)

	h1 := collectText(doc, "h1")
	h2 := collectText(doc, "h2, h3")
	important := collectText(doc, "b, strong, em")

	content := collapseWhitespace(doc.Find("body").Text())
	content = truncateRunes(content, Config.Fetcher.MaxTextChars)

	links := p.extractLinks(doc, res.URL)

	headersJSON, err := json.Marshal(flattenHeaders(res.Headers))
	if err != nil {
		headersJSON = []byte("{}")
	}

	page := &ParsedPage{
		URL:           res.URL,
		Title:         title,
		Description:   desc,
		H1:            h1,
		H2:            h2,
		ImportantText: important,
		Content:       content,
		CompressedRaw: CompressHTML(res.Body),
		HeadersJSON:   string(headersJSON),
		HTTPStatus:    res.HTTPStatus,
		Links:         links,
	}

	log.Debugf("[parse] %v -> %v links (%.3fs)", res.URL, len(links), time.Since(start).Seconds())
	return page, nil
}

// extractLinks resolves and canonicalises every anchor href. When the fetch
// queue is above two thirds of its capacity link extraction is skipped
// entirely: this is the backpressure valve that keeps the frontier from
// growing faster than the fetchers drain it.
func (p *parser) extractLinks(doc *goquery.Document, pageURL string) []string {
	if len(p.e.fetchQueue) > 2*cap(p.e.fetchQueue)/3 {
		return nil
	}

	base, err := ParseURL(pageURL)
	if err != nil {
		return nil
	}

	var links []string
	doc.Find("a[href]").Each(func(i int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		canon, err := ResolveAndCanonicalize(base, href)
		if err != nil {
			return
		}
		links = append(links, canon)
	})
	return links
}

// decodeBody interprets the page bytes as UTF-8 when valid, falling back to
// Latin-1 (which can never fail) otherwise.
func decodeBody(body []byte) string {
	if utf8.Valid(body) {
		return string(body)
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(body)
	if err != nil {
		return string(body)
	}
	return string(decoded)
}

func collectText(doc *goquery.Document, selector string) string {
	var parts []string
	doc.Find(selector).Each(func(i int, sel *goquery.Selection) {
		if t := strings.TrimSpace(sel.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, " ")
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func flattenHeaders(h map[string][]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, vals := range h {
		if len(vals) > 0 {
			out[k] = vals[0]
		}
	}
	return out
}
