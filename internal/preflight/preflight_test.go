package preflight

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"podindex/internal/resourcecache"
	"podindex/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if !strings.Contains(result.Detail, "does not exist") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckBinaries(t *testing.T) {
	old := lookPath
	t.Cleanup(func() { lookPath = old })
	lookPath = func(name string) (string, error) {
		if name == "present" {
			return "/usr/bin/present", nil
		}
		return "", errors.New("not found")
	}

	results := CheckBinaries(context.Background(), []Requirement{
		{Name: "Present", Command: "present"},
		{Name: "Missing", Command: "missing", Optional: true},
		{Name: "Blank"},
	})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Available || results[0].Path != "/usr/bin/present" {
		t.Fatalf("unexpected present status %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary detail, got %#v", results[1])
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected blank detail %q", results[2].Detail)
	}
	if failed := Failed([]Result{results[0].Result(), results[1].Result(), results[2].Result()}); len(failed) != 1 || failed[0].Name != "Blank" {
		t.Fatalf("expected only the required blank command to fail, got %#v", failed)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_ReportsMissingDirectoriesAndKeys(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	cfg.DocumentStore.APIKey = ""

	failed := Failed(RunAll(context.Background(), cfg))
	names := make(map[string]bool, len(failed))
	for _, r := range failed {
		names[r.Name] = true
	}
	for _, want := range []string{"Audio directory", "Transcript directory", "Document store API key"} {
		if !names[want] {
			t.Errorf("expected %q to fail, got %#v", want, failed)
		}
	}
	if names["Data directory"] || names["uvx"] || names["LLM API key"] {
		t.Fatalf("unexpected failures %#v", failed)
	}
}

func TestRunAll_SkipsDocumentStoreKeyWhenIndexingDisabled(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithIndexingDisabled())
	cfg.DocumentStore.APIKey = ""
	for _, r := range RunAll(context.Background(), cfg) {
		if r.Name == "Document store API key" {
			t.Fatal("document store key should not be checked")
		}
	}
}

func TestCheckDocumentStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") != "good" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":{"code":403,"message":"denied","status":"PERMISSION_DENIED"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"fileSearchStores":[{"name":"fileSearchStores/abc","displayName":"podcasts"}]}`))
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t).DocumentStore
	cfg.BaseURL = srv.URL
	cfg.StoreName = "podcasts"

	cfg.APIKey = "good"
	if r := CheckDocumentStore(context.Background(), cfg); !r.Passed || r.Detail != "fileSearchStores/abc" {
		t.Fatalf("expected pass, got %#v", r)
	}
	cfg.APIKey = "bad"
	if r := CheckDocumentStore(context.Background(), cfg); r.Passed || !strings.Contains(r.Detail, "auth failed") {
		t.Fatalf("expected auth failure, got %#v", r)
	}
	cfg.APIKey = ""
	if r := CheckDocumentStore(context.Background(), cfg); r.Passed {
		t.Fatal("expected failure for missing key")
	}
}

func TestCheckResourceCache(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if r := CheckResourceCache(cfg); !r.Passed || !strings.Contains(r.Detail, "never synced") {
		t.Fatalf("unexpected result for missing cache %#v", r)
	}

	cache := resourcecache.New(resourcecache.Options{Path: cfg.Cache.Path})
	if err := cache.Put("a.txt", resourcecache.Entry{ResourceHandle: "docs/a"}); err != nil {
		t.Fatal(err)
	}
	if err := cache.Persist(); err != nil {
		t.Fatal(err)
	}
	r := CheckResourceCache(cfg)
	if !r.Passed || !strings.HasPrefix(r.Detail, "1 entries") {
		t.Fatalf("unexpected result for fresh cache %#v", r)
	}
}
