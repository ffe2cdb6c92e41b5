package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Parsh06/Stock-Backend/internal/services/uploader"
)

func TestDocStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Should delete and insert through the REST API", func(t *testing.T) {
		var got batchRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			switch {
			case r.Method == http.MethodDelete && r.URL.Path == "/v1/collections/Ipo/documents":
				fmt.Fprint(w, `{"deleted": 50}`)
			case r.Method == http.MethodPost && r.URL.Path == "/v1/collections/Ipo/documents:batch":
				require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				fmt.Fprintf(w, `{"inserted": %d}`, len(got.Documents))
			default:
				http.NotFound(w, r)
			}
		}))
		defer server.Close()

		store := NewDocStore(server.URL+"/v1/", "secret")

		deleted, err := store.DeleteAll(ctx, "Ipo")
		require.NoError(t, err)
		assert.Equal(t, 50, deleted)

		docs := []uploader.Document{
			{ID: "Ipo_1", Seq: 1, Fields: map[string]any{"Company": "Acme", "record_id": 1}},
			{ID: "Ipo_2", Seq: 2, Fields: map[string]any{"Company": "Bolt", "record_id": 2}},
		}
		inserted, err := store.InsertBatch(ctx, "Ipo", docs)
		require.NoError(t, err)
		assert.Equal(t, 2, inserted)
		require.Len(t, got.Documents, 2)
		assert.Equal(t, "Ipo_2", got.Documents[1].ID)
		assert.Equal(t, "Bolt", got.Documents[1].Fields["Company"])
	})

	t.Run("Should retry on server errors", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			fmt.Fprint(w, `{"deleted": 1}`)
		}))
		defer server.Close()

		store := NewDocStore(server.URL, "")
		store.client.SetRetryWait(time.Millisecond, 5*time.Millisecond)

		deleted, err := store.DeleteAll(ctx, "Ipo")
		require.NoError(t, err)
		assert.Equal(t, 1, deleted)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("Should send a failed batch insert only once", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		store := NewDocStore(server.URL, "")
		store.client.SetRetryWait(time.Millisecond, 5*time.Millisecond)
		store.inserts.SetRetryWait(time.Millisecond, 5*time.Millisecond)

		docs := []uploader.Document{{ID: "Ipo_1", Seq: 1, Fields: map[string]any{"record_id": 1}}}
		_, err := store.InsertBatch(ctx, "Ipo", docs)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HTTP 503")
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("Should surface client errors", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"error":"forbidden"}`)
		}))
		defer server.Close()

		store := NewDocStore(server.URL, "bad")
		_, err := store.InsertBatch(ctx, "Ipo", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HTTP 403")
	})
}

const versionsJSON = `{
  "timestamp": "2025-01-01T00:00:00.000Z",
  "channels": {
    "Stable": {
      "channel": "Stable",
      "version": "131.0.6778.85",
      "downloads": {
        "chrome-headless-shell": [
          {"platform": "linux64", "url": "https://example.test/linux64/chrome-headless-shell-linux64.zip"},
          {"platform": "win64", "url": "https://example.test/win64/chrome-headless-shell-win64.zip"}
        ]
      }
    }
  },
  "versions": [
    {"version": "120.0.6099.109", "downloads": {"chrome-headless-shell": [{"platform": "linux64", "url": "https://example.test/120/linux64.zip"}]}}
  ]
}`

func TestChromeResolver(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, versionsJSON)
	}))
	defer server.Close()

	r := NewChromeResolver(server.URL + "/versions.json")

	t.Run("Should resolve the channel build", func(t *testing.T) {
		build, err := r.Resolve(ctx, HeadlessShell, "Stable", "", "linux64")
		require.NoError(t, err)
		assert.Equal(t, "131.0.6778.85", build.Version)
		assert.Equal(t, "131.0.6778.85/linux64", build.Key())
		assert.Contains(t, build.URL, "chrome-headless-shell-linux64.zip")
	})

	t.Run("Should resolve a pinned version", func(t *testing.T) {
		build, err := r.Resolve(ctx, HeadlessShell, "", "120.0.6099.109", "linux64")
		require.NoError(t, err)
		assert.Equal(t, "https://example.test/120/linux64.zip", build.URL)
	})

	t.Run("Should fail for unknown platforms and channels", func(t *testing.T) {
		_, err := r.Resolve(ctx, HeadlessShell, "Stable", "", "mac-arm64")
		assert.ErrorIs(t, err, ErrBuildNotFound)

		_, err = r.Resolve(ctx, HeadlessShell, "Canary", "", "linux64")
		assert.ErrorIs(t, err, ErrBuildNotFound)
	})
}

func TestPlatform(t *testing.T) {
	assert.Equal(t, "linux64", Platform("linux", "amd64"))
	assert.Equal(t, "", Platform("linux", "arm64"))
	assert.Equal(t, "mac-arm64", Platform("darwin", "arm64"))
	assert.Equal(t, "mac-x64", Platform("darwin", "amd64"))
	assert.Equal(t, "win32", Platform("windows", "386"))
	assert.Equal(t, "win64", Platform("windows", "amd64"))
}

func TestDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.zip" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, "zip-bytes")
	}))
	defer server.Close()

	c := NewClient("", "")
	dest := filepath.Join(t.TempDir(), "build.zip")

	require.NoError(t, c.Download(context.Background(), server.URL+"/build.zip", dest))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "zip-bytes", string(data))

	err = c.Download(context.Background(), server.URL+"/missing.zip", filepath.Join(t.TempDir(), "x.zip"))
	assert.Contains(t, err.Error(), "HTTP 404")
}

func TestExecCache(t *testing.T) {
	exe := filepath.Join(t.TempDir(), "chrome-headless-shell")
	require.NoError(t, os.WriteFile(exe, []byte("bin"), 0o755))

	t.Run("Should expire channel entries after the ttl", func(t *testing.T) {
		now := time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)
		c := NewExecCache(time.Hour)
		c.now = func() time.Time { return now }
		c.Store("Stable", "linux64", exe, false)

		got, ok := c.Lookup("Stable", "linux64")
		require.True(t, ok)
		assert.Equal(t, exe, got)

		now = now.Add(time.Hour)
		_, ok = c.Lookup("Stable", "linux64")
		assert.False(t, ok)
		assert.Equal(t, 0, c.Len())
	})

	t.Run("Should keep pinned versions", func(t *testing.T) {
		now := time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)
		c := NewExecCache(time.Hour)
		c.now = func() time.Time { return now }
		c.Store("131.0.6778.85", "linux64", exe, true)

		now = now.Add(48 * time.Hour)
		_, ok := c.Lookup("131.0.6778.85", "linux64")
		assert.True(t, ok)
		_, ok = c.Lookup("131.0.6778.85", "mac-arm64")
		assert.False(t, ok)
	})

	t.Run("Should drop an entry whose executable is gone", func(t *testing.T) {
		c := NewExecCache(0)
		c.Store("Stable", "linux64", filepath.Join(t.TempDir(), "missing"), false)
		c.Store("Beta", "linux64", filepath.Dir(exe), false)

		_, ok := c.Lookup("Stable", "linux64")
		assert.False(t, ok)
		_, ok = c.Lookup("Beta", "linux64")
		assert.False(t, ok, "a directory is not an executable")
		assert.Equal(t, 0, c.Len())
	})
}
