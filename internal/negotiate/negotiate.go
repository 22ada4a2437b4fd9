// Package negotiate selects a Simple API response representation from an
// HTTP Accept header.
package negotiate

import "strings"

// Representation identifies a selected response media type.
type Representation int

const (
	// JSON selects application/vnd.pypi.simple.v1+json.
	JSON Representation = iota
	// HTML selects application/vnd.pypi.simple.v1+html.
	HTML
)

// ContentType returns the media type header value for r.
func (r Representation) ContentType() string {
	switch r {
	case JSON:
		return "application/vnd.pypi.simple.v1+json"
	default:
		return "application/vnd.pypi.simple.v1+html"
	}
}

var jsonTokens = map[string]bool{
	"application/vnd.pypi.simple.v1+json":     true,
	"application/vnd.pypi.simple.latest+json": true,
}

var htmlTokens = map[string]bool{
	"application/vnd.pypi.simple.v1+html":     true,
	"application/vnd.pypi.simple.latest+html": true,
	"text/html":                               true,
	"*/*":                                     true,
}

// ErrNotAcceptable is returned when no token of the Accept header matches
// either representation.
type ErrNotAcceptable struct{ Accept string }

func (e *ErrNotAcceptable) Error() string {
	return "no acceptable representation for Accept: " + e.Accept
}

// Select parses accept into comma-separated media-range tokens (quality
// weights are ignored) and returns the first matching representation,
// checking JSON's tokens before HTML's. A missing or empty header is
// treated as "*/*", which selects HTML.
func Select(accept string) (Representation, error) {
	if strings.TrimSpace(accept) == "" {
		return HTML, nil
	}

	tokens := make([]string, 0, 4)
	for _, tok := range strings.Split(accept, ",") {
		tok = strings.TrimSpace(tok)
		if semi := strings.IndexByte(tok, ';'); semi >= 0 {
			tok = strings.TrimSpace(tok[:semi])
		}
		if tok != "" {
			tokens = append(tokens, strings.ToLower(tok))
		}
	}

	for _, tok := range tokens {
		if jsonTokens[tok] {
			return JSON, nil
		}
	}
	for _, tok := range tokens {
		if htmlTokens[tok] {
			return HTML, nil
		}
	}

	return 0, &ErrNotAcceptable{Accept: accept}
}
