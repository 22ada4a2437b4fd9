// Package server wires the HTTP routes of the Simple API: content
// negotiation, conditional requests, canonical-name redirects, raw file and
// sidecar serving, and the reload trigger.
package server

import (
	"context"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/skoslowski/pypiserve/internal/etag"
	"github.com/skoslowski/pypiserve/internal/events"
	"github.com/skoslowski/pypiserve/internal/metrics"
	"github.com/skoslowski/pypiserve/internal/negotiate"
	"github.com/skoslowski/pypiserve/internal/pep503"
	"github.com/skoslowski/pypiserve/internal/query"
	"github.com/skoslowski/pypiserve/internal/render"
	"github.com/skoslowski/pypiserve/internal/store"
)

// Scanner is the subset of *scanner.Scanner the reload route drives.
type Scanner interface {
	Scan(ctx context.Context) (store.Stats, error)
}

// RevisionStore is the subset of *store.Store the ETag layer reads.
type RevisionStore interface {
	Revision(ctx context.Context) (int64, error)
}

// Server holds every collaborator an HTTP handler needs.
type Server struct {
	Query     *query.Engine
	Revisions RevisionStore
	Scanner   Scanner
	Events    events.Publisher
	Metrics   *metrics.Service

	FilesDir string
	CacheDir string
	FilesURL string

	Logger *log.Logger

	reloadMu      sync.Mutex
	reloadRunning bool
}

func (s *Server) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

// filesURL returns the configured file-serving mount point, defaulting to
// "/files" when unset.
func (s *Server) filesURL() string {
	if s.FilesURL == "" {
		return "/files"
	}
	return s.FilesURL
}

// Router builds the gin engine with every route of the spec's external
// interface table registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if s.Metrics != nil {
		r.Use(s.Metrics.GinMiddleware())
	}

	r.GET("/ping", s.handlePing)
	r.HEAD("/ping", s.handlePing)
	r.GET("/reload", s.handleReload)

	r.GET("/simple/", s.handleProjectList(""))
	r.HEAD("/simple/", s.handleProjectList(""))
	r.GET("/simple/:project/", s.handleProjectDetail(""))
	r.HEAD("/simple/:project/", s.handleProjectDetail(""))

	r.GET("/:index/simple/", s.handleSubIndexList)
	r.HEAD("/:index/simple/", s.handleSubIndexList)
	r.GET("/:index/simple/:project/", s.handleSubIndexDetail)
	r.HEAD("/:index/simple/:project/", s.handleSubIndexDetail)

	r.GET(s.filesURL()+"/*filepath", s.handleFile)
	r.HEAD(s.filesURL()+"/*filepath", s.handleFile)

	if s.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	}

	return r
}

func (s *Server) handlePing(c *gin.Context) {
	c.Status(http.StatusOK)
}

// handleProjectList binds the root index ("") as a fixed prefix, used for
// the /simple/ routes which gin cannot otherwise distinguish from
// /:index/simple/.
func (s *Server) handleProjectList(indexPrefix string) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.serveProjectList(c, indexPrefix)
	}
}

func (s *Server) handleProjectDetail(indexPrefix string) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.serveProjectDetail(c, indexPrefix, c.Param("project"))
	}
}

func (s *Server) handleSubIndexList(c *gin.Context) {
	s.serveProjectList(c, c.Param("index"))
}

func (s *Server) handleSubIndexDetail(c *gin.Context) {
	s.serveProjectDetail(c, c.Param("index"), c.Param("project"))
}

// negotiateAndCheckETag resolves the representation and the conditional
// request outcome shared by every Simple API route. When no representation
// matches it writes 406 without an ETag; otherwise it writes the ETag header
// and, when the outcome is terminal (304/412), the final status. Terminal
// outcomes return ok=false.
func (s *Server) negotiateAndCheckETag(c *gin.Context) (rep negotiate.Representation, ok bool) {
	rep, err := negotiate.Select(c.GetHeader("Accept"))
	if err != nil {
		c.Status(http.StatusNotAcceptable)
		return 0, false
	}

	revision, err := s.Revisions.Revision(c.Request.Context())
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return 0, false
	}
	current := etag.FromRevision(revision)
	c.Header("ETag", current)

	switch etag.Evaluate(current, c.GetHeader("If-None-Match"), c.GetHeader("If-Match")) {
	case etag.NotModified:
		c.Status(http.StatusNotModified)
		return 0, false
	case etag.PreconditionFailed:
		c.Status(http.StatusPreconditionFailed)
		return 0, false
	}

	return rep, true
}

func (s *Server) serveProjectList(c *gin.Context, indexPrefix string) {
	rep, ok := s.negotiateAndCheckETag(c)
	if !ok {
		return
	}

	list, err := s.Query.ProjectList(c.Request.Context(), indexPrefix)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	if len(list.Projects) == 0 {
		c.Status(http.StatusNotFound)
		return
	}

	c.Header("Content-Type", rep.ContentType())
	if c.Request.Method == http.MethodHead {
		c.Status(http.StatusOK)
		return
	}
	if rep == negotiate.JSON {
		_ = render.JSONProjectList(c.Writer, list)
	} else {
		_ = render.HTMLProjectList(c.Writer, list)
	}
}

func (s *Server) serveProjectDetail(c *gin.Context, indexPrefix, rawProject string) {
	canonical := pep503.Canonicalize(rawProject)
	if canonical != rawProject {
		location := strings.Replace(c.Request.URL.Path, rawProject, canonical, 1)
		c.Redirect(http.StatusMovedPermanently, location)
		return
	}

	rep, ok := s.negotiateAndCheckETag(c)
	if !ok {
		return
	}

	detail, err := s.Query.ProjectDetail(c.Request.Context(), canonical, indexPrefix)
	if err != nil {
		if _, isNotFound := err.(*query.ErrNotFound); isNotFound {
			c.Status(http.StatusNotFound)
			return
		}
		c.Status(http.StatusInternalServerError)
		return
	}

	for i := range detail.Files {
		detail.Files[i].URL = s.filesURL() + "/" + detail.Files[i].URL
	}

	c.Header("Content-Type", rep.ContentType())
	if c.Request.Method == http.MethodHead {
		c.Status(http.StatusOK)
		return
	}
	if rep == negotiate.JSON {
		_ = render.JSONProjectDetail(c.Writer, detail)
	} else {
		_ = render.HTMLProjectDetail(c.Writer, detail)
	}
}

// handleFile serves raw archive bytes and `.metadata` sidecars under
// FilesURL, mapping the path-literal "/files/..." prefix to FilesDir /
// CacheDir on disk.
func (s *Server) handleFile(c *gin.Context) {
	rel := strings.TrimPrefix(c.Param("filepath"), "/")
	if rel == "" || strings.Contains(rel, "..") {
		c.Status(http.StatusNotFound)
		return
	}

	if strings.HasSuffix(rel, ".metadata") {
		sidecar := filepath.Join(s.CacheDir, filepath.FromSlash(rel))
		c.Header("Content-Disposition", `attachment; filename=`+filepath.Base(rel))
		c.File(sidecar)
		return
	}

	path := filepath.Join(s.FilesDir, filepath.FromSlash(rel))
	c.File(path)
}

// handleReload triggers a scan. A second request while one is already
// running returns 202 Accepted immediately instead of waiting.
func (s *Server) handleReload(c *gin.Context) {
	s.reloadMu.Lock()
	if s.reloadRunning {
		s.reloadMu.Unlock()
		c.JSON(http.StatusAccepted, gin.H{"status": "already running"})
		return
	}
	s.reloadRunning = true
	s.reloadMu.Unlock()

	defer func() {
		s.reloadMu.Lock()
		s.reloadRunning = false
		s.reloadMu.Unlock()
	}()

	start := time.Now()
	stats, err := s.Scanner.Scan(c.Request.Context())
	if err != nil {
		s.logger().Printf("server: scan failed: %v", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	revision, err := s.Revisions.Revision(c.Request.Context())
	if err != nil {
		revision = 0
	}

	if s.Metrics != nil {
		s.Metrics.ObserveScan(time.Since(start), stats.Distributions, stats.DistinctProjects, stats.DistinctIndexes, revision)
	}

	if s.Events != nil {
		evt := events.ReloadCompleted{
			Type:             events.EventReloadCompleted,
			Distributions:    stats.Distributions,
			DistinctProjects: stats.DistinctProjects,
			DistinctIndexes:  stats.DistinctIndexes,
			Revision:         revision,
			Timestamp:        time.Now(),
		}
		if err := s.Events.Publish(evt); err != nil {
			s.logger().Printf("server: publishing reload event: %v", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"distributions":     stats.Distributions,
		"distinct_projects": stats.DistinctProjects,
		"distinct_indexes":  stats.DistinctIndexes,
	})
}

// EnsureCacheDir creates CacheDir if it does not already exist; a failure
// here is Fatal per the spec's error taxonomy.
func EnsureCacheDir(path string) error {
	return os.MkdirAll(path, 0o755)
}
