/*
Package search implements the query processing and ranking half of vigilo:
turning a raw user query into a boolean FTS expression, and rescoring the
FTS candidate pool with authority, field, proximity, freshness and intent
signals.
*/
package search

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/kljensen/snowball"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/plootohh/vigilo"
)

// Intent classifies a query: short queries usually want one specific site,
// long ones want information.
type Intent int

const (
	Informational Intent = iota
	Navigational
)

// Query is the processed form of a raw search string, ready for candidate
// fetch and ranking.
type Query struct {
	Raw           string
	BaseTerms     []string
	ExpandedTerms []string
	Weights       map[string]float64
	FTSQuery      string // AND-of-OR groups
	FallbackFTS   string // OR-of-OR groups, used when the pool is too small
	Intent        Intent
	SiteDirective string
	BrandSlug     string
	UserLanguage  string
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "to": true, "and": true,
	"in": true, "on": true, "for": true, "with": true, "at": true, "by": true,
	"from": true, "how": true, "what": true, "why": true, "when": true,
	"where": true, "is": true, "are": true, "be": true, "this": true,
	"that": true, "it": true, "its": true,
}

var synonyms = map[string][]string{
	"install":  {"setup", "configure"},
	"setup":    {"install", "configure"},
	"error":    {"issue", "problem"},
	"bug":      {"issue", "defect"},
	"security": {"infosec", "cybersecurity"},
	"auth":     {"authentication", "login"},
	"login":    {"authentication", "auth"},
	"network":  {"net", "networking"},
	"linux":    {"gnu", "unix"},
	"windows":  {"win"},
}

var (
	nonAlnumSpace = regexp.MustCompile(`[^a-z0-9\s]`)
	nonAlnum      = regexp.MustCompile(`[^a-z0-9]`)
	siteDirective = regexp.MustCompile(`site:\s*([a-z0-9.\-]+)`)
	dottedToken   = regexp.MustCompile(`[a-z0-9.]+`)
	alnumRun      = regexp.MustCompile(`[a-z0-9]+`)
)

// foldTransformer strips diacritics: decompose, drop combining marks,
// recompose.
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// fold lowercases s and strips diacritic marks, mirroring the index
// tokeniser (unicode61 remove_diacritics).
func fold(s string) string {
	out, _, err := transform.String(foldTransformer, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

// Process turns a raw query string and the request's Accept-Language header
// into a Query. The raw string is truncated to the configured maximum
// before any processing.
func Process(raw, acceptLanguage string) *Query {
	if max := vigilo.Config.Console.MaxQueryLength; len(raw) > max {
		raw = raw[:max]
	}
	raw = strings.TrimSpace(raw)
	folded := fold(raw)

	q := &Query{
		Raw:          raw,
		UserLanguage: parseUserLanguage(acceptLanguage),
		BrandSlug:    nonAlnum.ReplaceAllString(folded, ""),
	}

	q.SiteDirective = extractSiteDirective(folded)
	q.BaseTerms = normalizeTokens(folded)
	if len(q.BaseTerms) == 0 {
		// All stopwords: search for them anyway rather than nothing.
		q.BaseTerms = strings.Fields(folded)
		if n := vigilo.Config.Console.MaxQueryTerms; len(q.BaseTerms) > n {
			q.BaseTerms = q.BaseTerms[:n]
		}
	}

	q.ExpandedTerms = expandTerms(q.BaseTerms)
	q.Weights = termWeights(q.BaseTerms, q.ExpandedTerms)
	q.FTSQuery = buildFTSQuery(q.BaseTerms, "AND")
	q.FallbackFTS = buildFTSQuery(q.BaseTerms, "OR")

	if len(q.BaseTerms) <= 2 {
		q.Intent = Navigational
	}
	return q
}

func parseUserLanguage(accept string) string {
	lang := strings.TrimSpace(strings.SplitN(strings.SplitN(accept, ",", 2)[0], ";", 2)[0])
	if lang == "" {
		return "en"
	}
	return lang
}

// extractSiteDirective pulls an explicit site: filter, or failing that the
// first lone token that looks like a domain.
func extractSiteDirective(folded string) string {
	if m := siteDirective.FindStringSubmatch(folded); m != nil {
		return m[1]
	}
	for _, t := range dottedToken.FindAllString(folded, -1) {
		if strings.Contains(t, ".") && len(t) > 4 {
			return t
		}
	}
	return ""
}

// normalizeTokens splits the folded query into deduplicated non-stopword
// terms, capped at the configured count.
func normalizeTokens(folded string) []string {
	cleaned := nonAlnumSpace.ReplaceAllString(folded, " ")
	seen := map[string]bool{}
	var tokens []string
	for _, t := range strings.Fields(cleaned) {
		if len(t) < 2 || stopwords[t] || seen[t] {
			continue
		}
		seen[t] = true
		tokens = append(tokens, t)
		if len(tokens) == vigilo.Config.Console.MaxQueryTerms {
			break
		}
	}
	return tokens
}

// expandTerms appends each base term's synonyms, preserving order and
// uniqueness.
func expandTerms(base []string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range base {
		add(t)
	}
	for _, t := range base {
		for _, s := range synonyms[t] {
			add(s)
		}
	}
	return out
}

// termWeights assigns each expanded term a weight favouring longer terms,
// halved for synonym-only terms.
func termWeights(base, expanded []string) map[string]float64 {
	original := map[string]bool{}
	for _, t := range base {
		original[t] = true
	}
	weights := make(map[string]float64, len(expanded))
	for _, t := range expanded {
		w := 1.0 + minF(1.5, float64(len(t))/6.0)
		if !original[t] {
			w *= 0.5
		}
		weights[t] = w
	}
	return weights
}

// buildFTSQuery builds the boolean MATCH expression: an OR group per term
// covering the exact term, a prefix variant, a truncation variant, its stem
// and its synonyms, joined by AND (normal) or OR (recall fallback).
func buildFTSQuery(terms []string, mode string) string {
	if len(terms) == 0 {
		return ""
	}

	groups := make([]string, 0, len(terms))
	for _, t := range terms {
		variants := []string{quote(t), quote(t) + "*"}
		if len(t) > 3 {
			variants = append(variants, quote(t[:len(t)-1])+"*")
		}
		if stem, err := snowball.Stem(t, "english", true); err == nil && stem != t && stem != "" {
			variants = append(variants, quote(stem)+"*")
		}
		for _, s := range synonyms[t] {
			variants = append(variants, quote(s))
		}
		groups = append(groups, "("+strings.Join(variants, " OR ")+")")
	}

	joiner := " AND "
	if mode == "OR" {
		joiner = " OR "
	}
	return strings.Join(groups, joiner)
}

func quote(t string) string {
	return `"` + strings.ReplaceAll(t, `"`, ``) + `"`
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// tokenize splits text into lowercase alphanumeric runs. Shared with the
// ranking engine.
func tokenize(text string) []string {
	if text == "" {
		return nil
	}
	return alnumRun.FindAllString(fold(text), -1)
}
