package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litstack/litreview/internal/resilience"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestFetch_LocalPathPassthrough(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "export.nbib")
	require.NoError(t, os.WriteFile(local, []byte("PMID- 1\n"), 0o644))

	got, err := New().Fetch(context.Background(), local, dir)
	require.NoError(t, err)
	assert.Equal(t, local, got)
}

func TestFetch_LocalPathMissing(t *testing.T) {
	_, err := New().Fetch(context.Background(), "/nonexistent/export.txt", t.TempDir())
	require.Error(t, err)
}

func TestFetch_HTTPDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("PMID- 42\nTI  - Downloaded\n"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	got, err := New().Fetch(context.Background(), srv.URL+"/pubmed/export.nbib", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "export.nbib"), got)

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Downloaded")
}

func TestFetch_HTTPRetriesTransient(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	_, err := New(WithRetry(fastRetry())).Fetch(context.Background(), srv.URL+"/data.txt", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, int64(3), hits.Load())
}

func TestFetch_HTTPPermanentFailureNotRetried(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := New(WithRetry(fastRetry())).Fetch(context.Background(), srv.URL+"/gone.txt", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, int64(1), hits.Load())
}

func TestRemoteFilename(t *testing.T) {
	assert.Equal(t, "export.nbib", remoteFilename("https://example.org/a/b/export.nbib"))
	assert.Equal(t, "pubmed24n0001.xml", remoteFilename("ftp://ftp.ncbi.nlm.nih.gov/pubmed/pubmed24n0001.xml"))
	assert.Equal(t, "export.txt", remoteFilename("https://example.org/"))
}

func TestParseFTPURL(t *testing.T) {
	host, path, err := parseFTPURL("ftp://ftp.ncbi.nlm.nih.gov/pubmed/baseline/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "ftp.ncbi.nlm.nih.gov:21", host)
	assert.Equal(t, "/pubmed/baseline/file.txt", path)

	host, _, err = parseFTPURL("ftp://mirror:2121/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "mirror:2121", host)

	_, _, err = parseFTPURL("ftp://host")
	require.Error(t, err)
}
