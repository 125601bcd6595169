package search

import (
	"math"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/plootohh/vigilo"
	"github.com/plootohh/vigilo/store"
)

// RankedDoc is a scored candidate ready for presentation.
type RankedDoc struct {
	store.Candidate
	Score    float64
	Domain   string
	Verified bool
}

// textWeight converts sqlite's bm25 (more negative is better) into a
// positive text contribution.
const textWeight = -3.2

// fallbackPenalty is applied to every score when the candidate pool came
// from the OR recall fallback.
const fallbackPenalty = 0.8

var dedupPrefix = regexp.MustCompile(`^https?://(www\.)?`)

// Rank deduplicates, scores and orders a candidate pool for one query. A
// primary sort by composite score is followed by a diversity pass that
// penalises each further appearance of a domain, so one site cannot own the
// whole page.
func Rank(cands []store.Candidate, q *Query, fallback bool) []RankedDoc {
	seen := map[string]bool{}
	scored := make([]RankedDoc, 0, len(cands))

	for _, c := range cands {
		key := dedupKey(c.URL)
		if seen[key] {
			continue
		}
		seen[key] = true

		score := scoreCandidate(&c, q)
		if fallback {
			score *= fallbackPenalty
		}

		host := vigilo.Domain(c.URL)
		scored = append(scored, RankedDoc{
			Candidate: c,
			Score:     score,
			Domain:    host,
			Verified:  c.DomainRank <= 10000,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	// Diversity pass: the Nth result from the same domain loses 15*N.
	domainCounts := map[string]int{}
	for i := range scored {
		n := domainCounts[scored[i].Domain]
		scored[i].Score -= float64(n) * 15.0
		domainCounts[scored[i].Domain] = n + 1
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	return scored
}

// Page slices one result page out of the ranked list.
func Page(docs []RankedDoc, page, perPage int) []RankedDoc {
	if page < 1 {
		page = 1
	}
	start := (page - 1) * perPage
	if start >= len(docs) {
		return nil
	}
	end := start + perPage
	if end > len(docs) {
		end = len(docs)
	}
	return docs[start:end]
}

// dedupKey normalises away scheme, www and trailing slashes so near-identical
// URLs collapse to one result.
func dedupKey(u string) string {
	return strings.TrimRight(dedupPrefix.ReplaceAllString(strings.TrimSpace(u), ""), "/")
}

// scoreCandidate computes the composite relevance score. BM25 alone
// over-rewards keyword-stuffed pages; authority anchors results to the rank
// list and the intent boosts handle navigational queries.
func scoreCandidate(c *store.Candidate, q *Query) float64 {
	score := 100.0
	score += textWeight * c.BM25
	score += authorityScore(c.DomainRank)
	score += freshnessScore(c.CrawledAt)
	score += tldBias(c.URL)
	score += urlQuality(c.URL)
	score += languageScore(c.Language, q.UserLanguage)
	score += fieldScore(c, q.ExpandedTerms, q.Weights)
	score += intentBoost(q, c.URL)
	return score
}

// authorityScore rewards popular domains, clamped at 60 so authority can
// never drown out relevance.
func authorityScore(rank int64) float64 {
	if rank <= 0 {
		return 0
	}
	raw := 160.0 / (1.0 + math.Log10(float64(rank)+10))
	return minF(raw, 60.0)
}

// freshnessScore decays with document age on a 200-day scale.
func freshnessScore(crawledAt string) float64 {
	if crawledAt == "" {
		return 0
	}
	t, err := time.Parse(store.TimeLayout, crawledAt)
	if err != nil {
		return 0
	}
	ageDays := time.Since(t).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return 25.0 * math.Exp(-ageDays/200.0)
}

func tldBias(rawURL string) float64 {
	host := vigilo.Domain(rawURL)
	if host == "" {
		return 0
	}
	switch vigilo.PublicSuffix(host) {
	case "gov", "edu", "org":
		return 15.0
	case "io", "dev", "net":
		return 8.0
	}
	return 0
}

// urlQuality prefers shallow, clean, keyword-bearing paths and boosts site
// roots.
func urlQuality(rawURL string) float64 {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	score := 0.0

	depth := strings.Count(u.Path, "/")
	if depth > 3 {
		score -= float64(depth-3) * 4.0
	}
	if u.RawQuery != "" {
		score -= 12.0
	}
	score += minF(10.0, float64(len(tokenize(u.Path)))*2.0)
	if u.Path == "" || u.Path == "/" {
		score += 12.0
	}
	return score
}

// languageScore compares the row's detected language against the user's.
func languageScore(rowLang, userLang string) float64 {
	if rowLang == "" {
		return 0
	}
	rl := langPrefix(rowLang)
	ul := langPrefix(userLang)
	if rl == ul {
		return 40.0
	}
	if rl != "" && ul != "" && rl[0] == ul[0] {
		return 8.0
	}
	return -10.0
}

func langPrefix(lang string) string {
	return strings.SplitN(strings.ToLower(lang), "-", 2)[0]
}

// saturation maps a raw hit count into [0,1], flattening past the cap.
func saturation(val, cap float64) float64 {
	return minF(val/cap, 1.0)
}

// fieldScore rewards term and phrase hits in the title, description and
// URL, with a proximity bonus when multiple terms cluster.
func fieldScore(c *store.Candidate, terms []string, weights map[string]float64) float64 {
	title := fold(c.Title)
	desc := fold(c.Description)
	u := strings.ToLower(c.URL)

	score := 0.0
	phrase := strings.Join(terms, " ")
	if phrase != "" {
		if strings.Contains(title, phrase) {
			score += 90.0
		} else if strings.Contains(desc, phrase) {
			score += 50.0
		}
	}

	var titleHits, descHits, urlHits float64
	for _, t := range terms {
		w := weights[t]
		if strings.Contains(title, t) {
			titleHits += w
		}
		if strings.Contains(desc, t) {
			descHits += w
		}
		if strings.Contains(u, t) {
			urlHits += w
		}
	}
	score += saturation(titleHits, 4.0) * 70.0
	score += saturation(descHits, 6.0) * 35.0
	score += saturation(urlHits, 4.0) * 30.0

	score += multiTermProximity(title, terms) * 1.6
	score += multiTermProximity(desc, terms)

	return score
}

// multiTermProximity measures how tightly the query terms cluster in text:
// 30 at adjacent positions, falling off with the span.
func multiTermProximity(text string, terms []string) float64 {
	tokens := tokenize(text)
	if len(tokens) < 2 || len(terms) < 2 {
		return 0
	}

	var positions []int
	for i, tok := range tokens {
		for _, t := range terms {
			if strings.Contains(tok, t) {
				positions = append(positions, i)
				break
			}
		}
	}
	if len(positions) < 2 {
		return 0
	}

	span := positions[len(positions)-1] - positions[0]
	return maxF(0, 30.0/float64(span))
}

// intentBoost handles navigational queries ("wikipedia"), explicit site:
// directives and brand-slug matches against the bare domain, with the
// biggest rewards reserved for the site root.
func intentBoost(q *Query, rawURL string) float64 {
	host := strings.ToLower(vigilo.Domain(rawURL))
	if host == "" {
		return 0
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	isRoot := u.Path == "" || u.Path == "/"
	brandLabel := domainLabel(host)

	score := 0.0
	if q.Intent == Navigational && q.BrandSlug != "" && strings.Contains(host, q.BrandSlug) {
		score += 180.0
	}

	if q.SiteDirective != "" {
		sd := strings.TrimRight(q.SiteDirective, "/")
		if sd != "" && (strings.Contains(host, sd) || sd == brandLabel) {
			if isRoot {
				score += 240.0
			} else {
				score += 80.0
			}
		}
	}

	if q.BrandSlug != "" && q.BrandSlug == brandLabel {
		if isRoot {
			score += 220.0
		} else {
			score += 40.0
		}
	}

	return score
}

// domainLabel extracts the registrable label of a host: "en.wikipedia.org"
// -> "wikipedia".
func domainLabel(host string) string {
	if i := strings.LastIndex(host, ":"); i != -1 {
		host = host[:i]
	}
	reg := vigilo.RegisteredDomain(host)
	suffix := vigilo.PublicSuffix(host)
	label := strings.TrimSuffix(reg, "."+suffix)
	if label == reg && suffix != "" {
		// host was exactly the suffix; nothing registrable
		return ""
	}
	return label
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
