package browser

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Parsh06/Stock-Backend/internal/api"
)

// fakeService builds a Service whose strategies never start a real browser
func fakeService(order []string, strategies map[string]launchFunc, prepare func(context.Context, *Session) error) *Service {
	if prepare == nil {
		prepare = func(context.Context, *Session) error { return nil }
	}
	return &Service{
		opts:       Options{Strategies: order},
		strategies: strategies,
		prepare:    prepare,
	}
}

func fakeSession(name string, closed *int32) launchFunc {
	return func(ctx context.Context) (*Session, error) {
		return NewSession(ctx, func() { atomic.AddInt32(closed, 1) }, name, ""), nil
	}
}

func failing(reason string) launchFunc {
	return func(context.Context) (*Session, error) {
		return nil, errors.New(reason)
	}
}

func TestAcquire(t *testing.T) {
	ctx := context.Background()

	t.Run("Should use the first strategy that works", func(t *testing.T) {
		var closed int32
		var systemCalled bool
		s := fakeService(
			[]string{StrategyManaged, StrategyDownload, StrategySystem},
			map[string]launchFunc{
				StrategyManaged:  failing("no browser on PATH"),
				StrategyDownload: fakeSession(StrategyDownload, &closed),
				StrategySystem: func(context.Context) (*Session, error) {
					systemCalled = true
					return nil, errors.New("unreachable")
				},
			}, nil)

		session, err := s.Acquire(ctx)
		require.NoError(t, err)
		assert.Equal(t, StrategyDownload, session.Strategy)
		assert.False(t, systemCalled)

		session.Close()
		session.Close()
		assert.Equal(t, int32(1), atomic.LoadInt32(&closed))
	})

	t.Run("Should aggregate every failure reason", func(t *testing.T) {
		s := fakeService(
			[]string{StrategyManaged, StrategyDownload, StrategySystem},
			map[string]launchFunc{
				StrategyManaged:  failing("no browser on PATH"),
				StrategyDownload: failing("HTTP 503"),
				StrategySystem:   failing("not installed"),
			}, nil)

		_, err := s.Acquire(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDriverUnavailable)

		var unavailable *UnavailableError
		require.ErrorAs(t, err, &unavailable)
		assert.Len(t, unavailable.Attempts, 3)
		assert.Equal(t,
			"browser driver unavailable: managed: no browser on PATH; download: HTTP 503; system: not installed",
			err.Error())
	})

	t.Run("Should close the session when setup fails", func(t *testing.T) {
		var closed int32
		s := fakeService(
			[]string{StrategyManaged, StrategySystem},
			map[string]launchFunc{
				StrategyManaged: fakeSession(StrategyManaged, &closed),
				StrategySystem:  fakeSession(StrategySystem, &closed),
			},
			func(context.Context, *Session) error { return errors.New("download behavior rejected") })

		session, err := s.Acquire(ctx)
		assert.Nil(t, session)
		assert.ErrorIs(t, err, ErrDriverUnavailable)
		assert.Contains(t, err.Error(), "download behavior rejected")
		assert.Equal(t, int32(1), atomic.LoadInt32(&closed))
	})

	t.Run("Should record unknown strategies", func(t *testing.T) {
		s := fakeService([]string{"firefox"}, map[string]launchFunc{}, nil)
		_, err := s.Acquire(ctx)
		assert.EqualError(t, err, "browser driver unavailable: firefox: unknown strategy")
	})

	t.Run("Should stop when the context is cancelled", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		var called bool
		s := fakeService([]string{StrategyManaged}, map[string]launchFunc{
			StrategyManaged: func(context.Context) (*Session, error) {
				called = true
				return nil, nil
			},
		}, nil)

		_, err := s.Acquire(cancelled)
		assert.ErrorIs(t, err, ErrDriverUnavailable)
		assert.False(t, called)
	})
}

func TestSystemPath(t *testing.T) {
	t.Run("Should honor an existing override", func(t *testing.T) {
		exe := filepath.Join(t.TempDir(), "chrome")
		require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh"), 0755))

		path, err := SystemPath("linux", exe)
		require.NoError(t, err)
		assert.Equal(t, exe, path)
	})

	t.Run("Should fail for a missing override", func(t *testing.T) {
		_, err := SystemPath("windows", filepath.Join(t.TempDir(), "chrome.exe"))
		assert.Contains(t, err.Error(), "browser not found")
	})

	t.Run("Should fail for unknown platforms", func(t *testing.T) {
		_, err := SystemPath("plan9", "")
		assert.Contains(t, err.Error(), "no known browser location")
	})

	t.Run("Should know paths for the supported platforms", func(t *testing.T) {
		for _, goos := range []string{"windows", "darwin", "linux"} {
			assert.NotEmpty(t, systemPaths[goos], goos)
		}
	})
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	out, err := os.Create(path)
	require.NoError(t, err)
	w := zip.NewWriter(out)
	for name, body := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, out.Close())
}

func TestUnzip(t *testing.T) {
	t.Run("Should extract nested files", func(t *testing.T) {
		dir := t.TempDir()
		archive := filepath.Join(dir, "build.zip")
		writeZip(t, archive, map[string]string{
			"chrome-headless-shell-linux64/chrome-headless-shell": "binary",
			"chrome-headless-shell-linux64/locales/en-US.pak":     "pak",
		})

		dest := filepath.Join(dir, "out")
		require.NoError(t, Unzip(archive, dest))

		data, err := os.ReadFile(filepath.Join(dest, "chrome-headless-shell-linux64", "chrome-headless-shell"))
		require.NoError(t, err)
		assert.Equal(t, "binary", string(data))
		assert.FileExists(t, filepath.Join(dest, "chrome-headless-shell-linux64", "locales", "en-US.pak"))
	})

	t.Run("Should reject entries escaping the destination", func(t *testing.T) {
		dir := t.TempDir()
		archive := filepath.Join(dir, "evil.zip")
		writeZip(t, archive, map[string]string{"../escape.txt": "x"})

		err := Unzip(archive, filepath.Join(dir, "out"))
		require.Error(t, err)
		assert.NoFileExists(t, filepath.Join(dir, "escape.txt"))
	})
}

func TestDownloadedExecPath(t *testing.T) {
	platform := api.Platform(runtime.GOOS, runtime.GOARCH)
	if platform == "" {
		t.Skipf("no chrome build for %s/%s", runtime.GOOS, runtime.GOARCH)
	}

	archive := filepath.Join(t.TempDir(), "artifact.zip")
	writeZip(t, archive, map[string]string{
		filepath.ToSlash(executableName(runtime.GOOS, platform)): "binary",
	})

	var downloads int32
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/versions.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"channels":{"Stable":{"channel":"Stable","version":"131.0.1","downloads":{"chrome-headless-shell":[{"platform":%q,"url":%q}]}}}}`,
			platform, server.URL+"/artifact.zip")
	})
	mux.HandleFunc("/artifact.zip", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&downloads, 1)
		http.ServeFile(w, r, archive)
	})

	s := NewService(Options{
		Channel:     "Stable",
		VersionsURL: server.URL + "/versions.json",
		CacheDir:    t.TempDir(),
	})
	s.cache = api.NewExecCache(time.Hour)

	path, err := s.downloadedExecPath(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Contains(t, path, filepath.Join("131.0.1", platform))

	again, err := s.downloadedExecPath(context.Background())
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.Equal(t, int32(1), atomic.LoadInt32(&downloads))

	t.Run("Should reuse an unpacked build after the cache is dropped", func(t *testing.T) {
		s.cache = api.NewExecCache(time.Hour)
		path, err := s.downloadedExecPath(context.Background())
		require.NoError(t, err)
		assert.FileExists(t, path)
		assert.Equal(t, int32(1), atomic.LoadInt32(&downloads))
	})

	t.Run("Should fetch again when the cached executable was removed", func(t *testing.T) {
		require.NoError(t, os.Remove(path))
		again, err := s.downloadedExecPath(context.Background())
		require.NoError(t, err)
		assert.Equal(t, path, again)
		assert.FileExists(t, again)
		assert.Equal(t, int32(2), atomic.LoadInt32(&downloads))
	})
}
