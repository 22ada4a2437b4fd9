// Package archivescan classifies distribution archives by filename and
// extracts their embedded package metadata without unpacking the whole
// archive.
package archivescan

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// Kind identifies the archive shape a filename was classified as.
type Kind int

const (
	// Unhandled marks a file the scanner must skip silently.
	Unhandled Kind = iota
	// Wheel is a PEP 427 zip-based wheel archive.
	Wheel
	// Sdist is a gzip-compressed tar source distribution.
	Sdist
)

// ErrInvalidFile reports a file that matched an archive suffix but failed to
// parse as that kind (bad filename shape or missing metadata entry).
type ErrInvalidFile struct {
	Path   string
	Reason string
}

func (e *ErrInvalidFile) Error() string {
	return fmt.Sprintf("invalid file %s: %s", e.Path, e.Reason)
}

var wheelNamePattern = regexp.MustCompile(`^([^-]+)-([^-]+)(?:-([^-]+))?-([^-]+)-([^-]+)-([^-]+)\.whl$`)
var sdistNamePattern = regexp.MustCompile(`^(.+)-([^-]+)\.tar\.gz$`)

// Classify determines the archive kind from filename alone.
func Classify(filename string) Kind {
	switch {
	case strings.HasSuffix(filename, ".whl"):
		return Wheel
	case strings.HasSuffix(filename, ".tar.gz"):
		return Sdist
	default:
		return Unhandled
	}
}

// WheelParts are the literal dash-separated filename fields of a wheel,
// before any canonicalization.
type WheelParts struct {
	Distribution string
	Version      string
}

// ParseWheelName validates and splits a wheel filename into its
// distribution/version fields (the literal first two dash-separated
// fields), per the `{distribution}-{version}(-{build})?-{python}-{abi}-{platform}.whl`
// shape.
func ParseWheelName(filename string) (WheelParts, error) {
	m := wheelNamePattern.FindStringSubmatch(filename)
	if m == nil {
		return WheelParts{}, &ErrInvalidFile{Path: filename, Reason: "does not match wheel filename shape"}
	}
	return WheelParts{Distribution: m[1], Version: m[2]}, nil
}

// SdistParts are the literal dash-separated filename fields of an sdist.
type SdistParts struct {
	Name    string
	Version string
}

// ParseSdistName validates and splits an sdist filename into its
// name/version fields, per the `{name}-{version}.tar.gz` shape.
func ParseSdistName(filename string) (SdistParts, error) {
	m := sdistNamePattern.FindStringSubmatch(filename)
	if m == nil {
		return SdistParts{}, &ErrInvalidFile{Path: filename, Reason: "does not match sdist filename shape"}
	}
	return SdistParts{Name: m[1], Version: m[2]}, nil
}

// ReadMetadata opens the archive at path, classifies it by filename and
// returns the raw bytes of its embedded METADATA (wheel) or PKG-INFO
// (sdist) entry. Callers must first check Classify(path) != Unhandled.
func ReadMetadata(path string, filename string) ([]byte, error) {
	switch Classify(filename) {
	case Wheel:
		return readWheelMetadata(path, filename)
	case Sdist:
		return readSdistMetadata(path, filename)
	default:
		return nil, fmt.Errorf("unhandled file type: %s", filename)
	}
}

func readWheelMetadata(path, filename string) ([]byte, error) {
	parts, err := ParseWheelName(filename)
	if err != nil {
		return nil, err
	}

	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, &ErrInvalidFile{Path: path, Reason: fmt.Sprintf("not a zip file: %v", err)}
	}
	defer r.Close()

	entryName := fmt.Sprintf("%s-%s.dist-info/METADATA", parts.Distribution, parts.Version)
	for _, f := range r.File {
		if f.Name == entryName {
			rc, err := f.Open()
			if err != nil {
				return nil, &ErrInvalidFile{Path: path, Reason: fmt.Sprintf("opening %s: %v", entryName, err)}
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, &ErrInvalidFile{Path: path, Reason: fmt.Sprintf("missing %s", entryName)}
}

func readSdistMetadata(path, filename string) ([]byte, error) {
	parts, err := ParseSdistName(filename)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &ErrInvalidFile{Path: path, Reason: fmt.Sprintf("opening file: %v", err)}
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, &ErrInvalidFile{Path: path, Reason: fmt.Sprintf("not a gzip file: %v", err)}
	}
	defer gz.Close()

	entryName := fmt.Sprintf("%s-%s/PKG-INFO", parts.Name, parts.Version)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ErrInvalidFile{Path: path, Reason: fmt.Sprintf("reading tar: %v", err)}
		}
		if hdr.Name == entryName {
			return io.ReadAll(tr)
		}
	}
	return nil, &ErrInvalidFile{Path: path, Reason: fmt.Sprintf("missing %s", entryName)}
}
