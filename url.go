package vigilo

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/purell"
	"golang.org/x/net/publicsuffix"
)

// URL is the vigilo URL object, which embeds *url.URL but carries the extra
// canonicalisation capabilities the crawler needs. All URLs entering the
// system should pass through Canonicalize so that the frontier, the bloom
// filter and the stores all agree on a single comparable form.
type URL struct {
	*url.URL
}

// binaryExtensions are path suffixes that can never yield an HTML document.
// URLs ending in one of these are rejected outright and never enter the
// frontier.
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".css": true,
	".js": true, ".ico": true, ".svg": true, ".pdf": true, ".zip": true,
	".exe": true, ".mp4": true, ".mp3": true, ".wav": true, ".avi": true,
	".mov": true, ".xml": true, ".json": true, ".txt": true, ".bmp": true,
	".tif": true, ".tiff": true, ".woff": true, ".woff2": true, ".ttf": true,
	".eot": true, ".dmg": true, ".iso": true, ".bin": true, ".dat": true,
	".apk": true, ".rar": true,
}

// trackingParams are query keys that carry no content identity and are
// stripped during canonicalisation. Keys starting with "utm_" are stripped
// as a prefix match.
var trackingParams = map[string]bool{
	"fbclid": true, "gclid": true, "ref": true, "source": true,
	"yclid": true, "_ga": true,
}

var canonPurgeMap map[string]bool
var doubleSlash = regexp.MustCompile(`//+`)

func setupCanonicalize() error {
	canonPurgeMap = map[string]bool{}
	for _, p := range Config.Fetcher.PurgeSidList {
		canonPurgeMap[strings.ToLower(p)] = true
	}
	return nil
}

func init() {
	postConfigHooks = append(postConfigHooks, setupCanonicalize)
	// The config may already have been loaded by the time this file's init
	// runs, so derive the purge map immediately as well.
	if err := setupCanonicalize(); err != nil {
		panic(err.Error())
	}
}

// ParseURL is the vigilo.URL equivalent of url.Parse.
func ParseURL(ref string) (*URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	return &URL{URL: u}, nil
}

// MustParse is a convenience for tests and seed lists; it panics if ref does
// not parse.
func MustParse(ref string) *URL {
	u, err := ParseURL(ref)
	if err != nil {
		panic(err.Error())
	}
	return u
}

// Canonicalize normalises ref into the single canonical form used across the
// frontier, the stores and the dedup filter. It returns an error when the URL
// should never enter the system: non-http(s) schemes, a missing host, or a
// path ending in a binary extension.
//
// Canonicalize is idempotent: Canonicalize(Canonicalize(u)) == Canonicalize(u).
func Canonicalize(ref string) (string, error) {
	u, err := ParseURL(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	if err := u.Normalize(); err != nil {
		return "", err
	}
	return u.String(), nil
}

// ResolveAndCanonicalize resolves href relative to base before
// canonicalising. base must itself be an absolute URL.
func ResolveAndCanonicalize(base *URL, href string) (string, error) {
	rel, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	abs := &URL{URL: base.ResolveReference(rel)}
	if err := abs.Normalize(); err != nil {
		return "", err
	}
	return abs.String(), nil
}

// Normalize rewrites the URL in place into canonical form, or returns an
// error if the URL is rejected.
func (u *URL) Normalize() error {
	// Standard normalisation first: lowercased scheme/host, decoded
	// unnecessary escapes, stripped default port, dropped fragment.
	purell.NormalizeURL(u.URL, purell.FlagsSafe|purell.FlagRemoveFragment)

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("missing host")
	}

	u.Path = doubleSlash.ReplaceAllString(u.Path, "/")
	if u.Path == "" {
		u.Path = "/"
	}
	u.RawPath = ""

	if ext := pathExtension(u.Path); binaryExtensions[ext] {
		return fmt.Errorf("binary extension %q", ext)
	}

	if u.RawQuery != "" {
		params := u.Query()
		for k := range params {
			kl := strings.ToLower(k)
			if strings.HasPrefix(kl, "utm_") || trackingParams[kl] || canonPurgeMap[kl] {
				delete(params, k)
			}
		}
		u.RawQuery = params.Encode()
	}
	u.Fragment = ""
	return nil
}

func pathExtension(path string) string {
	lower := strings.ToLower(path)
	if i := strings.LastIndex(lower, "."); i >= 0 && i > strings.LastIndex(lower, "/") {
		return lower[i:]
	}
	return ""
}

// Domain returns the host (including any port) of a canonical URL string,
// which is the unit of politeness and frontier grouping.
func Domain(canonical string) string {
	u, err := url.Parse(canonical)
	if err != nil {
		return ""
	}
	return u.Host
}

// BaseDomain strips a leading "www." from host, matching the bare-domain
// keys used in the authority table.
func BaseDomain(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}

// RegisteredDomain returns the effective TLD+1 for host ("www.bbc.co.uk" ->
// "bbc.co.uk"), falling back to the input when the suffix list has no answer.
func RegisteredDomain(host string) string {
	d, err := publicsuffix.EffectiveTLDPlusOne(strings.ToLower(host))
	if err != nil {
		return strings.ToLower(host)
	}
	return d
}

// PublicSuffix returns the effective TLD of host ("gov", "co.uk", ...).
func PublicSuffix(host string) string {
	s, _ := publicsuffix.PublicSuffix(strings.ToLower(host))
	return s
}

// trapKeywords mark crawler traps: paths that expand combinatorially and
// rarely carry indexable content.
var trapKeywords = []string{"search", "filter", "login", "signup", "calendar", "archive", "tag"}

// Priority computes the frontier priority of a canonical URL. Lower
// dispatches sooner. Homepages pin to 1; every path segment, query string
// and trap keyword pushes the URL later.
func Priority(canonical string) int {
	u, err := url.Parse(canonical)
	if err != nil {
		return 100
	}

	path := u.Path
	if len(path) <= 1 && u.RawQuery == "" {
		return 1
	}

	prio := 10
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			prio += 2
		}
	}
	if u.RawQuery != "" {
		prio += 20
	}
	lower := strings.ToLower(path)
	for _, kw := range trapKeywords {
		if strings.Contains(lower, kw) {
			prio += 50
			break
		}
	}
	return prio
}
