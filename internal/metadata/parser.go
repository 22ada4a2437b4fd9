// Package metadata parses the RFC 822-style key/value bytes embedded in a
// wheel's METADATA file or an sdist's PKG-INFO file, and canonicalizes the
// project name and version found there.
package metadata

import (
	"fmt"
	"strings"

	"github.com/skoslowski/pypiserve/internal/pep440"
	"github.com/skoslowski/pypiserve/internal/pep503"
)

// ErrInvalidFile is returned when required fields are missing or the
// version cannot be parsed as PEP 440.
type ErrInvalidFile struct {
	Reason string
}

func (e *ErrInvalidFile) Error() string { return "invalid metadata: " + e.Reason }

// Distribution is the subset of archive metadata the scanner needs.
type Distribution struct {
	Name             string
	Version          string
	CanonicalName    string
	CanonicalVersion string
	RequiresPython   string // empty when absent
}

// Parse reads RFC 822-style key/value bytes (tolerating folded continuation
// lines) and extracts Name, Version and Requires-Python. Unknown headers are
// ignored. Name and Version are mandatory; their absence, or a Version that
// does not parse as PEP 440, is reported as ErrInvalidFile.
func Parse(raw []byte) (*Distribution, error) {
	fields := parseFields(string(raw))

	name := fields["name"]
	if name == "" {
		return nil, &ErrInvalidFile{Reason: "missing Name field"}
	}
	version := fields["version"]
	if version == "" {
		return nil, &ErrInvalidFile{Reason: "missing Version field"}
	}

	canonicalVersion, err := pep440.Canonicalize(version)
	if err != nil {
		return nil, &ErrInvalidFile{Reason: fmt.Sprintf("bad version %q: %v", version, err)}
	}

	return &Distribution{
		Name:             name,
		Version:          version,
		CanonicalName:    pep503.Canonicalize(name),
		CanonicalVersion: canonicalVersion,
		RequiresPython:   fields["requires-python"],
	}, nil
}

// parseFields folds continuation lines (leading space/tab) into the value
// of the preceding header, keyed by lowercased field name. A blank line ends
// the header block (the remainder is the long description body and is
// ignored), matching the METADATA/PKG-INFO file shape.
func parseFields(content string) map[string]string {
	fields := make(map[string]string)
	var key string
	var value strings.Builder

	flush := func() {
		if key != "" {
			fields[key] = strings.TrimSpace(value.String())
		}
	}

	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	for _, line := range lines {
		if line == "" {
			break
		}
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			value.WriteString("\n")
			value.WriteString(line)
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		flush()
		key = strings.ToLower(strings.TrimSpace(line[:idx]))
		value.Reset()
		value.WriteString(strings.TrimSpace(line[idx+1:]))
	}
	flush()
	return fields
}
