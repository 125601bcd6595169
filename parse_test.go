package vigilo

import (
	"strings"
	"testing"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
<title>  Sample Page  </title>
<meta name="description" content="A page about parsing">
<script>var junk = "should vanish";</script>
<style>.hidden { display: none }</style>
</head>
<body>
<nav>Navigation noise</nav>
<header>Header noise</header>
<h1>Main Heading</h1>
<h2>Sub One</h2>
<h3>Sub Two</h3>
<p>Body text with <b>bold words</b> and <strong>strong words</strong> and <em>emphasis</em>.</p>
<a href="/relative">rel</a>
<a href="https://other.test/page">abs</a>
<a href="https://other.test/image.png">binary</a>
<a href="mailto:x@y.z">mail</a>
<footer>Footer noise</footer>
</body>
</html>`

func testParser(t *testing.T) *parser {
	t.Helper()
	setTestConfig(t)
	e := &Engine{
		fetchQueue: make(chan FetchJob, Config.Crawler.FetchQueueSize),
		writeQueue: make(chan WriteMsg, 100),
		quit:       make(chan struct{}),
	}
	return newParser(e)
}

func TestParsePageFields(t *testing.T) {
	p := testParser(t)

	page, err := p.parsePage(&FetchResult{
		URL:        "http://a.test/dir/page",
		Body:       []byte(samplePage),
		Headers:    map[string][]string{"Content-Type": {"text/html"}},
		HTTPStatus: 200,
	})
	if err != nil {
		t.Fatalf("parsePage failed: %v", err)
	}

	if page.Title != "Sample Page" {
		t.Errorf("Title got %q", page.Title)
	}
	if page.Description != "A page about parsing" {
		t.Errorf("Description got %q", page.Description)
	}
	if page.H1 != "Main Heading" {
		t.Errorf("H1 got %q", page.H1)
	}
	if !strings.Contains(page.H2, "Sub One") || !strings.Contains(page.H2, "Sub Two") {
		t.Errorf("H2 should include h2 and h3 text, got %q", page.H2)
	}
	for _, want := range []string{"bold words", "strong words", "emphasis"} {
		if !strings.Contains(page.ImportantText, want) {
			t.Errorf("ImportantText missing %q: %q", want, page.ImportantText)
		}
	}

	for _, noise := range []string{"should vanish", "display: none", "Navigation noise", "Header noise", "Footer noise"} {
		if strings.Contains(page.Content, noise) {
			t.Errorf("Content contains stripped noise %q", noise)
		}
	}
	if !strings.Contains(page.Content, "Body text with bold words") {
		t.Errorf("Content lost body text: %q", page.Content)
	}

	// Links: relative resolved, absolute kept, binary and mailto rejected.
	wantLinks := map[string]bool{
		"http://a.test/relative":  true,
		"https://other.test/page": true,
	}
	if len(page.Links) != len(wantLinks) {
		t.Fatalf("Links got %v, expected %v", page.Links, wantLinks)
	}
	for _, l := range page.Links {
		if !wantLinks[l] {
			t.Errorf("Unexpected link %q", l)
		}
	}

	if got := DecompressHTML(page.CompressedRaw); string(got) != samplePage {
		t.Error("CompressedRaw does not round trip to the original body")
	}
	if !strings.Contains(page.HeadersJSON, "text/html") {
		t.Errorf("HeadersJSON missing content type: %q", page.HeadersJSON)
	}
}

func TestParseBackpressureDropsLinks(t *testing.T) {
	p := testParser(t)

	// Fill the fetch queue past two thirds.
	for i := 0; i < cap(p.e.fetchQueue)*3/4; i++ {
		p.e.fetchQueue <- FetchJob{URL: "http://fill.test/"}
	}

	page, err := p.parsePage(&FetchResult{
		URL:  "http://a.test/",
		Body: []byte(samplePage),
	})
	if err != nil {
		t.Fatalf("parsePage failed: %v", err)
	}
	if len(page.Links) != 0 {
		t.Errorf("Expected zero links under backpressure, got %v", len(page.Links))
	}
}

func TestParseLatin1Fallback(t *testing.T) {
	p := testParser(t)

	// 0xE9 is é in Latin-1 and invalid on its own in UTF-8.
	body := []byte("<html><head><title>caf\xe9</title></head><body>ok</body></html>")
	page, err := p.parsePage(&FetchResult{URL: "http://a.test/", Body: body})
	if err != nil {
		t.Fatalf("parsePage failed: %v", err)
	}
	if page.Title != "café" {
		t.Errorf("Latin-1 title got %q", page.Title)
	}
}

func TestParseContentTruncation(t *testing.T) {
	setTestConfig(t)
	Config.Fetcher.MaxTextChars = 50
	p := newParser(&Engine{
		fetchQueue: make(chan FetchJob, 10),
		writeQueue: make(chan WriteMsg, 10),
	})

	long := "<html><body><p>" + strings.Repeat("word ", 100) + "</p></body></html>"
	page, err := p.parsePage(&FetchResult{URL: "http://a.test/", Body: []byte(long)})
	if err != nil {
		t.Fatal(err)
	}
	if len([]rune(page.Content)) > 50 {
		t.Errorf("Content not truncated: %v chars", len(page.Content))
	}
}
