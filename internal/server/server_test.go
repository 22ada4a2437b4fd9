package server

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/skoslowski/pypiserve/internal/events"
	"github.com/skoslowski/pypiserve/internal/query"
	"github.com/skoslowski/pypiserve/internal/scanner"
	"github.com/skoslowski/pypiserve/internal/store"
)

func writeWheel(t *testing.T, dir, filename, name, version string) {
	t.Helper()
	path := filepath.Join(dir, filename)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	w, err := zw.Create(name + "-" + version + ".dist-info/METADATA")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("Name: " + name + "\nVersion: " + version + "\n")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

func writeSdist(t *testing.T, dir, filename, name, version string) {
	t.Helper()
	path := filepath.Join(dir, filename)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)
	body := []byte("Name: " + name + "\nVersion: " + version + "\n")
	entry := name + "-" + version + "/PKG-INFO"
	if err := tw.WriteHeader(&tar.Header{Name: entry, Size: int64(len(body)), Mode: 0o644}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(body); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
}

// buildFixture lays out the four-project tree named in the spec's testable
// scenarios, plus an ext/ sub-index.
func buildFixture(t *testing.T) (filesDir string, idx *store.Store) {
	t.Helper()
	filesDir = t.TempDir()

	writeSdist(t, filesDir, "iniconfig-2.0.0.tar.gz", "iniconfig", "2.0.0")
	writeSdist(t, filesDir, "packaging-24.1.tar.gz", "packaging", "24.1")
	writeSdist(t, filesDir, "pluggy-1.5.0.tar.gz", "pluggy", "1.5.0")
	writeWheel(t, filesDir, "pytest-8.3.0-py3-none-any.whl", "pytest", "8.3.0")
	writeWheel(t, filesDir, "pytest-8.3.4-py3-none-any.whl", "pytest", "8.3.4")
	writeSdist(t, filesDir, "pytest-8.3.4.tar.gz", "pytest", "8.3.4")

	writeWheel(t, filepath.Join(filesDir, "ext"), "pytest-8.3.0-py3-none-any.whl", "pytest", "8.3.0")
	writeSdist(t, filepath.Join(filesDir, "ext"), "iniconfig-2.0.0.tar.gz", "iniconfig", "2.0.0")
	writeSdist(t, filepath.Join(filesDir, "ext"), "pluggy-1.5.0.tar.gz", "pluggy", "1.5.0")

	dsn := filepath.Join(t.TempDir(), "db.sqlite")
	idx, err := store.Open("sqlite", dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = idx.Close() })

	cacheDir := t.TempDir()
	sc := &scanner.Scanner{FilesDir: filesDir, CacheDir: cacheDir, Store: idx}
	if _, err := sc.Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}

	return filesDir, idx
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	filesDir, idx := buildFixture(t)

	srv := &Server{
		Query:     &query.Engine{Store: idx},
		Revisions: idx,
		Scanner: scanStub{store: idx, filesDir: filesDir, cacheDir: t.TempDir()},
		Events:    events.NoopPublisher{},
		FilesDir:  filesDir,
	}
	return httptest.NewServer(srv.Router())
}

type scanStub struct {
	store    *store.Store
	filesDir string
	cacheDir string
}

func (s scanStub) Scan(ctx context.Context) (store.Stats, error) {
	sc := &scanner.Scanner{FilesDir: s.filesDir, CacheDir: s.cacheDir, Store: s.store}
	return sc.Scan(ctx)
}

func TestS1ProjectListJSON(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/simple/", nil)
	req.Header.Set("Accept", "application/vnd.pypi.simple.latest+json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/vnd.pypi.simple.v1+json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body struct {
		Projects []struct{ Name string } `json:"projects"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	want := []string{"iniconfig", "packaging", "pluggy", "pytest"}
	if len(body.Projects) != len(want) {
		t.Fatalf("got %d projects, want %d", len(body.Projects), len(want))
	}
	for i, w := range want {
		if body.Projects[i].Name != w {
			t.Errorf("projects[%d] = %q, want %q", i, body.Projects[i].Name, w)
		}
	}
}

func TestS2ProjectDetail(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/simple/pytest/", nil)
	req.Header.Set("Accept", "application/vnd.pypi.simple.v1+json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Versions []string `json:"versions"`
		Files    []struct {
			Filename string
			URL      string
		} `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	wantFiles := []string{"pytest-8.3.0-py3-none-any.whl", "pytest-8.3.4-py3-none-any.whl", "pytest-8.3.4.tar.gz"}
	if len(body.Files) != len(wantFiles) {
		t.Fatalf("got %d files, want %d", len(body.Files), len(wantFiles))
	}
	for i, w := range wantFiles {
		if body.Files[i].Filename != w {
			t.Errorf("files[%d] = %q, want %q", i, body.Files[i].Filename, w)
		}
		if want := "/files/" + w; body.Files[i].URL != want {
			t.Errorf("files[%d].URL = %q, want %q", i, body.Files[i].URL, want)
		}
	}
	wantVersions := []string{"8.3", "8.3.4"}
	for i, w := range wantVersions {
		if body.Versions[i] != w {
			t.Errorf("versions = %v, want %v", body.Versions, wantVersions)
		}
	}
}

func TestS3SubIndexList(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/ext/simple/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestS4SubIndexDetail(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/ext/simple/pytest/", nil)
	req.Header.Set("Accept", "application/vnd.pypi.simple.v1+json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Files []struct{ Filename string } `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Files) != 1 || body.Files[0].Filename != "pytest-8.3.0-py3-none-any.whl" {
		t.Errorf("got %v, want exactly [pytest-8.3.0-py3-none-any.whl]", body.Files)
	}
}

func TestS5CanonicalRedirect(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Get(ts.URL + "/simple/PyTest/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMovedPermanently {
		t.Fatalf("status = %d, want 301", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/simple/pytest/" {
		t.Errorf("Location = %q, want /simple/pytest/", loc)
	}
}

func TestS6ConditionalRequests(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	resp, err := http.Head(ts.URL + "/simple/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	e := resp.Header.Get("ETag")
	if e == "" {
		t.Fatal("expected ETag header")
	}

	req, _ := http.NewRequest(http.MethodHead, ts.URL+"/simple/", nil)
	req.Header.Set("If-None-Match", e)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotModified {
		t.Errorf("If-None-Match match = %d, want 304", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodHead, ts.URL+"/simple/", nil)
	req.Header.Set("If-Match", `"XXX"`)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusPreconditionFailed {
		t.Errorf("If-Match mismatch = %d, want 412", resp.StatusCode)
	}
}

func TestS7UnmatchedPrefix404(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/ex/simple/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestNotAcceptable(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/simple/", nil)
	req.Header.Set("Accept", "application/xml")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotAcceptable {
		t.Errorf("status = %d, want 406", resp.StatusCode)
	}
}

func TestReload(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/reload")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Distributions    int64 `json:"distributions"`
		DistinctProjects int64 `json:"distinct_projects"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Distributions == 0 {
		t.Error("expected a nonzero distribution count after reload")
	}

	// /reload is a GET route, not POST, per the spec's all-GET routes table.
	resp, err = http.Post(ts.URL+"/reload", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("POST /reload status = %d, want 404 (route is GET-only)", resp.StatusCode)
	}
}

func TestPing(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/ping")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
