/*
	This file contains the web-facing handlers.
*/

package console

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/plootohh/vigilo"
	"github.com/plootohh/vigilo/search"
)

// SearchResult is one rendered hit.
type SearchResult struct {
	Title    string  `json:"title"`
	URL      string  `json:"url"`
	Domain   string  `json:"domain"`
	Snippet  string  `json:"snippet"`
	Language string  `json:"lang,omitempty"`
	Rank     int64   `json:"rank"`
	Verified bool    `json:"verified"`
	Score    float64 `json:"score"`
}

// SearchResponse is the full /search payload.
type SearchResponse struct {
	Query      string         `json:"query"`
	Results    []SearchResult `json:"results"`
	Count      int            `json:"count"`
	ElapsedMS  float64        `json:"elapsed_ms"`
	Page       int            `json:"page"`
	TotalPages int            `json:"total_pages"`
}

// HomeController answers / with an empty search page.
func HomeController(w http.ResponseWriter, req *http.Request) {
	Render.JSON(w, http.StatusOK, SearchResponse{Results: []SearchResult{}})
}

// SearchController runs the full query pipeline: rate limit, query
// processing, candidate fetch (with the OR recall fallback), ranking and
// pagination.
func SearchController(w http.ResponseWriter, req *http.Request) {
	if !limiter.Allow(clientIP(req)) {
		http.Error(w, "Rate limit exceeded. Try again later.", http.StatusTooManyRequests)
		return
	}

	rawQuery := strings.TrimSpace(req.URL.Query().Get("q"))
	page, err := strconv.Atoi(req.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}

	if rawQuery == "" {
		Render.JSON(w, http.StatusOK, SearchResponse{Results: []SearchResult{}, Page: 1})
		return
	}

	start := time.Now()
	q := search.Process(rawQuery, req.Header.Get("Accept-Language"))

	pool := vigilo.Config.Console.CandidatePool
	fallback := false

	cands, err := DS.Candidates(q.FTSQuery, pool)
	if err != nil {
		// A MATCH compile error on hostile input yields an empty result
		// page, never an error page.
		log.Debugf("Search MATCH failed for %q: %v", q.FTSQuery, err)
		cands = nil
	}
	if len(cands) < 5 && len(q.BaseTerms) > 1 {
		fallback = true
		if loose, err := DS.Candidates(q.FallbackFTS, pool); err == nil {
			cands = loose
		}
	}

	ranked := search.Rank(cands, q, fallback)

	perPage := vigilo.Config.Console.PerPage
	total := len(ranked)
	totalPages := total / perPage
	if total%perPage != 0 {
		totalPages++
	}

	results := []SearchResult{}
	for _, doc := range search.Page(ranked, page, perPage) {
		snippet := doc.Snippet
		if snippet == "" && doc.Description != "" {
			snippet = truncate(doc.Description, 200) + "..."
		}
		title := doc.Title
		if title == "" {
			title = doc.URL
		}
		results = append(results, SearchResult{
			Title:    highlightTerms(title, q.BaseTerms),
			URL:      doc.URL,
			Domain:   doc.Domain,
			Snippet:  snippet,
			Language: doc.Language,
			Rank:     doc.DomainRank,
			Verified: doc.Verified,
			Score:    doc.Score,
		})
	}

	Render.JSON(w, http.StatusOK, SearchResponse{
		Query:      rawQuery,
		Results:    results,
		Count:      total,
		ElapsedMS:  float64(time.Since(start).Microseconds()) / 1000.0,
		Page:       page,
		TotalPages: totalPages,
	})
}

// SuggestController answers /suggest with up to 5 title prefix matches; queries
// under 2 characters return an empty list.
func SuggestController(w http.ResponseWriter, req *http.Request) {
	q := strings.TrimSpace(req.URL.Query().Get("q"))
	if len(q) < 2 {
		Render.JSON(w, http.StatusOK, []string{})
		return
	}

	titles, err := DS.SuggestTitles(q, 5)
	if err != nil {
		log.Debugf("Suggest query failed: %v", err)
		titles = nil
	}
	if titles == nil {
		titles = []string{}
	}
	Render.JSON(w, http.StatusOK, titles)
}

// highlightTerms wraps each query term occurring in text with <b> tags.
func highlightTerms(text string, terms []string) string {
	if len(terms) == 0 {
		return text
	}
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		if t != "" {
			quoted = append(quoted, regexp.QuoteMeta(t))
		}
	}
	if len(quoted) == 0 {
		return text
	}
	re, err := regexp.Compile(`(?i)(` + strings.Join(quoted, "|") + `)`)
	if err != nil {
		return text
	}
	return re.ReplaceAllString(text, "<b>$1</b>")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
