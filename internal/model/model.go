// Package model holds the wire-level response types shared by the query
// engine and the renderers.
package model

// APIVersion is the Simple API version this server implements.
const APIVersion = "1.1"

// Meta carries the repository-version tag present on every response.
type Meta struct {
	APIVersion string `json:"api_version"`
}

// Hashes maps a hash algorithm name to its lowercase hex digest.
type Hashes map[string]string

// ProjectFile is a single distribution archive belonging to a project.
type ProjectFile struct {
	Filename       string  `json:"filename"`
	Size           int64   `json:"size"`
	URL            string  `json:"url"`
	Hashes         Hashes  `json:"hashes"`
	RequiresPython *string `json:"requires_python,omitempty"`
	CoreMetadata   Hashes  `json:"core_metadata,omitempty"`
	Yanked         *string `json:"yanked,omitempty"`
}

// ProjectRef is a single entry in a ProjectList.
type ProjectRef struct {
	Name string `json:"name"`
}

// ProjectList is the response body of a "list projects" query.
type ProjectList struct {
	Meta     Meta         `json:"meta"`
	Projects []ProjectRef `json:"projects"`
}

// ProjectDetail is the response body of a "project detail" query.
type ProjectDetail struct {
	Meta     Meta          `json:"meta"`
	Name     string        `json:"name"`
	Versions []string      `json:"versions"`
	Files    []ProjectFile `json:"files"`
}
