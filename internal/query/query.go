// Package query answers the two read operations of the Simple API -
// project list and project detail - against the index store, applying the
// store's documented dedup and ordering contract.
package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/skoslowski/pypiserve/internal/model"
	"github.com/skoslowski/pypiserve/internal/pep440"
	"github.com/skoslowski/pypiserve/internal/pep503"
	"github.com/skoslowski/pypiserve/internal/store"
)

// ErrNotFound is returned by ProjectDetail when the project has no files
// under the requested index.
type ErrNotFound struct{ Project string }

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("project not found: %s", e.Project)
}

// Store is the subset of *store.Store the query engine reads from.
type Store interface {
	ListProjects(ctx context.Context, indexPrefix string) ([]string, error)
	ListFiles(ctx context.Context, project, indexPrefix string) ([]store.FileRow, error)
}

// Engine answers project-list and project-detail queries against a Store.
type Engine struct {
	Store Store
}

// ProjectList returns every distinct project known under indexPrefix,
// sorted by canonical name.
func (e *Engine) ProjectList(ctx context.Context, indexPrefix string) (*model.ProjectList, error) {
	names, err := e.Store.ListProjects(ctx, indexPrefix)
	if err != nil {
		return nil, err
	}

	refs := make([]model.ProjectRef, 0, len(names))
	for _, n := range names {
		refs = append(refs, model.ProjectRef{Name: n})
	}

	return &model.ProjectList{
		Meta:     model.Meta{APIVersion: model.APIVersion},
		Projects: refs,
	}, nil
}

// ProjectDetail returns the file listing for project under indexPrefix.
// project is matched by its canonical (PEP 503) name. Files are
// deduplicated by filename, keeping the first-inserted row, sorted by
// filename; versions are deduplicated and ordered with pep440.Less.
func (e *Engine) ProjectDetail(ctx context.Context, project, indexPrefix string) (*model.ProjectDetail, error) {
	canonical := pep503.Canonicalize(project)

	rows, err := e.Store.ListFiles(ctx, canonical, indexPrefix)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &ErrNotFound{Project: project}
	}

	seenFiles := make(map[string]bool, len(rows))
	seenVersions := make(map[string]bool, len(rows))
	files := make([]model.ProjectFile, 0, len(rows))
	versions := make([]string, 0, len(rows))

	for _, r := range rows {
		if seenFiles[r.Filename] {
			continue
		}
		seenFiles[r.Filename] = true
		files = append(files, *r.File)

		if !seenVersions[r.Version] {
			seenVersions[r.Version] = true
			versions = append(versions, r.Version)
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Filename < files[j].Filename })
	sort.Slice(versions, func(i, j int) bool { return pep440.Less(versions[i], versions[j]) })

	return &model.ProjectDetail{
		Meta:     model.Meta{APIVersion: model.APIVersion},
		Name:     canonical,
		Versions: versions,
		Files:    files,
	}, nil
}
