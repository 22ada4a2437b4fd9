// Package pep503 canonicalizes Python project names per PEP 503.
package pep503

import (
	"regexp"
	"strings"
)

var separators = regexp.MustCompile(`[-_.]+`)

// Canonicalize lowercases s and collapses runs of '-', '_' and '.' into a
// single '-', as required by PEP 503's project name normalization rule.
func Canonicalize(s string) string {
	return separators.ReplaceAllString(strings.ToLower(s), "-")
}
