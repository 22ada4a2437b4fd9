// Package scanner walks a directory of distribution archives and feeds the
// archive reader, metadata parser and hasher into the index store, writing
// a metadata sidecar for each accepted file.
package scanner

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/skoslowski/pypiserve/internal/archivescan"
	"github.com/skoslowski/pypiserve/internal/hashutil"
	"github.com/skoslowski/pypiserve/internal/metadata"
	"github.com/skoslowski/pypiserve/internal/model"
	"github.com/skoslowski/pypiserve/internal/store"
)

// Store is the subset of *store.Store the scanner writes through.
type Store interface {
	Exists(ctx context.Context, index, filename string) (bool, error)
	Insert(ctx context.Context, index, project, filename, version string, file *model.ProjectFile) error
	Stats(ctx context.Context) (store.Stats, error)
}

// Scanner indexes a FilesDir tree into a Store, writing metadata sidecars
// under CacheDir.
type Scanner struct {
	FilesDir string
	CacheDir string
	Store    Store
	Logger   *log.Logger
}

func (s *Scanner) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

// Scan walks FilesDir and ingests every regular file found there. Files
// under CacheDir are skipped when CacheDir is nested inside FilesDir.
// Per-file failures in classification or metadata extraction are logged and
// skipped; the scan itself never aborts because of them.
func (s *Scanner) Scan(ctx context.Context) (store.Stats, error) {
	absCache, err := filepath.Abs(s.CacheDir)
	if err != nil {
		return store.Stats{}, fmt.Errorf("resolving cache dir: %w", err)
	}

	err = filepath.WalkDir(s.FilesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}

		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil
		}
		if absPath == absCache || strings.HasPrefix(absPath, absCache+string(filepath.Separator)) {
			return nil
		}

		s.ingest(ctx, path)
		return nil
	})
	if err != nil {
		return store.Stats{}, fmt.Errorf("walking %s: %w", s.FilesDir, err)
	}

	return s.Store.Stats(ctx)
}

// subIndex returns the sub-index name for a file at path relative to
// FilesDir: the immediate containing directory, forward-slashed, with the
// root index named "".
func (s *Scanner) subIndex(path string) (string, error) {
	rel, err := filepath.Rel(s.FilesDir, filepath.Dir(path))
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		return "", nil
	}
	return strings.TrimPrefix(rel, "./"), nil
}

// ingest classifies, parses and hashes a single candidate file, writing the
// sidecar and inserting it into the store. Any failure is logged and the
// file skipped; the function never returns an error to its caller.
func (s *Scanner) ingest(ctx context.Context, path string) {
	filename := filepath.Base(path)
	index, err := s.subIndex(path)
	if err != nil {
		s.logger().Printf("scanner: skipping %s: %v", path, err)
		return
	}

	exists, err := s.Store.Exists(ctx, index, filename)
	if err != nil {
		s.logger().Printf("scanner: skipping %s: checking existence: %v", path, err)
		return
	}
	if exists {
		return
	}

	if archivescan.Classify(filename) == archivescan.Unhandled {
		return
	}

	rawMeta, err := archivescan.ReadMetadata(path, filename)
	if err != nil {
		s.logger().Printf("scanner: invalid file %s: %v", path, err)
		return
	}

	dist, err := metadata.Parse(rawMeta)
	if err != nil {
		s.logger().Printf("scanner: invalid file %s: %v", path, err)
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		s.logger().Printf("scanner: skipping %s: %v", path, err)
		return
	}

	digest, err := hashutil.SHA256File(path)
	if err != nil {
		s.logger().Printf("scanner: skipping %s: hashing: %v", path, err)
		return
	}

	relURL, err := filepath.Rel(s.FilesDir, path)
	if err != nil {
		s.logger().Printf("scanner: skipping %s: %v", path, err)
		return
	}

	sidecarDigest, err := s.writeSidecar(path, filename, index, rawMeta, info)
	if err != nil {
		s.logger().Printf("scanner: skipping %s: writing sidecar: %v", path, err)
		return
	}

	file := &model.ProjectFile{
		Filename:     filename,
		Size:         info.Size(),
		URL:          filepath.ToSlash(relURL),
		Hashes:       model.Hashes{"sha256": digest},
		CoreMetadata: model.Hashes{"sha256": sidecarDigest},
	}
	if dist.RequiresPython != "" {
		rp := dist.RequiresPython
		file.RequiresPython = &rp
	}

	if err := s.Store.Insert(ctx, index, dist.CanonicalName, filename, dist.CanonicalVersion, file); err != nil {
		s.logger().Printf("scanner: skipping %s: inserting: %v", path, err)
	}
}

// writeSidecar writes the `<filename>.metadata` sidecar under
// `<CacheDir>/<relative-dir>/`, via a temp-file-then-rename so a cancelled
// scan never leaves a partial sidecar in place, and sets both its atime and
// mtime to the source archive's mtime; the source's atime is not copied. It
// returns the sidecar's own SHA-256.
func (s *Scanner) writeSidecar(srcPath, filename, index string, rawMeta []byte, srcInfo os.FileInfo) (string, error) {
	destDir := filepath.Join(s.CacheDir, filepath.FromSlash(index))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}
	destPath := filepath.Join(destDir, filename+".metadata")

	tmp, err := os.CreateTemp(destDir, filename+".metadata.*.tmp")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(rawMeta); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return "", err
	}

	mtime := srcInfo.ModTime()
	if err := os.Chtimes(destPath, mtime, mtime); err != nil {
		return "", err
	}

	return hashutil.SHA256Reader(bytes.NewReader(rawMeta))
}
