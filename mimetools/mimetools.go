// Package mimetools matches Content-Type headers against a configured list
// of acceptable media types, with * wildcards ("text/*").
package mimetools

import (
	"fmt"
	"mime"
	"strings"
)

// Matcher holds a parsed list of acceptable media types.
type Matcher struct {
	accept []mediaType
}

type mediaType struct {
	major string
	minor string
}

// NewMatcher parses the given media type patterns. Parameters (";q=0.4") are
// discarded. An error is returned for patterns mime can't parse.
func NewMatcher(formats []string) (*Matcher, error) {
	m := &Matcher{}
	for _, f := range formats {
		mt, _, err := mime.ParseMediaType(f)
		if err != nil {
			return nil, fmt.Errorf("bad media type %q: %v", f, err)
		}
		parts := strings.SplitN(mt, "/", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("bad media type %q", f)
		}
		m.accept = append(m.accept, mediaType{major: parts[0], minor: parts[1]})
	}
	return m, nil
}

// Match reports whether the Content-Type header value ct is acceptable.
func (m *Matcher) Match(ct string) (bool, error) {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false, err
	}
	parts := strings.SplitN(mt, "/", 2)
	if len(parts) != 2 {
		return false, nil
	}
	for _, a := range m.accept {
		if (a.major == "*" || a.major == parts[0]) &&
			(a.minor == "*" || a.minor == parts[1]) {
			return true, nil
		}
	}
	return false, nil
}
