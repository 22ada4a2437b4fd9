// Package render serializes ProjectList and ProjectDetail into the two
// Simple API representations: JSON and a deterministic HTML page.
package render

import (
	"encoding/json"
	"html/template"
	"io"

	"github.com/skoslowski/pypiserve/internal/model"
)

// JSONProjectList writes v as the v1 JSON project-list body.
func JSONProjectList(w io.Writer, v *model.ProjectList) error {
	return json.NewEncoder(w).Encode(v)
}

// JSONProjectDetail writes v as the v1 JSON project-detail body.
func JSONProjectDetail(w io.Writer, v *model.ProjectDetail) error {
	return json.NewEncoder(w).Encode(v)
}

const listSource = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8"/>
<meta name="pypi:repository-version" content="{{.Meta.APIVersion}}"/>
<title>Simple Package Repository</title>
</head>
<body>
{{range .Projects}}<a href="{{.Name}}/">{{.Name}}</a><br/>
{{end}}</body>
</html>
`

const detailSource = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8"/>
<meta name="pypi:repository-version" content="{{.Meta.APIVersion}}"/>
<title>Links for {{.Name}}</title>
</head>
<body>
<h1>Links for {{.Name}}</h1>
{{range .Files}}<a href="{{.URL}}{{fragment .}}"{{if .RequiresPython}} data-requires-python="{{deref .RequiresPython}}"{{end}}{{if .CoreMetadata}} data-core_metadata="{{coreMetadataAttr .}}"{{end}}{{if .Yanked}} data-yanked="{{deref .Yanked}}"{{end}}>{{.Filename}}</a><br/>
{{end}}</body>
</html>
`

var listTemplate = template.Must(template.New("list").Parse(listSource))

var detailTemplate = template.Must(template.New("detail").Funcs(template.FuncMap{
	"fragment":         fileFragment,
	"coreMetadataAttr": coreMetadataAttr,
	"deref":            derefString,
}).Parse(detailSource))

// derefString renders a *string field's value, or "" when nil. The optional
// string fields are passed through it before being placed in an attribute.
func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// fileFragment renders the "#<algo>=<digest>" URL fragment from a file's
// first hash entry. Every ProjectFile in practice carries exactly one
// "sha256" entry, so map iteration order is not observable.
func fileFragment(f model.ProjectFile) string {
	for algo, digest := range f.Hashes {
		return "#" + algo + "=" + digest
	}
	return ""
}

func coreMetadataAttr(f model.ProjectFile) string {
	for algo, digest := range f.CoreMetadata {
		return algo + "=" + digest
	}
	return "true"
}

// HTMLProjectList writes v as the deterministic v1 HTML project-list page,
// with entries in the order already sorted by the query engine.
func HTMLProjectList(w io.Writer, v *model.ProjectList) error {
	return listTemplate.Execute(w, v)
}

// HTMLProjectDetail writes v as the deterministic v1 HTML project-detail
// page, with files in the order already sorted by the query engine.
func HTMLProjectDetail(w io.Writer, v *model.ProjectDetail) error {
	return detailTemplate.Execute(w, v)
}
