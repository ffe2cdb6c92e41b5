package browser

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"

	"github.com/Parsh06/Stock-Backend/internal/api"
	"github.com/Parsh06/Stock-Backend/internal/logger"
)

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "stocksync", "chrome")
	}
	return filepath.Join(os.TempDir(), "stocksync-chrome")
}

// executableName is the headless shell binary inside the unpacked archive
func executableName(goos, platform string) string {
	name := api.HeadlessShell
	if goos == "windows" {
		name += ".exe"
	}
	return filepath.Join(api.HeadlessShell+"-"+platform, name)
}

// downloadedExecPath resolves, downloads and unpacks a Chrome for Testing build,
// reusing one already present in CacheDir
func (s *Service) downloadedExecPath(ctx context.Context) (string, error) {
	platform := api.Platform(runtime.GOOS, runtime.GOARCH)
	if platform == "" {
		return "", fmt.Errorf("no chrome build for %s/%s", runtime.GOOS, runtime.GOARCH)
	}

	release := s.opts.Version
	if release == "" {
		release = s.opts.Channel
	}
	if path, ok := s.cache.Lookup(release, platform); ok {
		return path, nil
	}

	build, err := s.resolver.Resolve(ctx, api.HeadlessShell, s.opts.Channel, s.opts.Version, platform)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(s.opts.CacheDir, build.Version, build.Platform)
	exe := filepath.Join(dir, executableName(runtime.GOOS, platform))
	if !fileExists(exe) {
		if err := s.install(ctx, build, dir); err != nil {
			return "", err
		}
		if !fileExists(exe) {
			return "", fmt.Errorf("archive for %s has no %s", build.Key(), executableName(runtime.GOOS, platform))
		}
	}

	s.cache.Store(release, platform, exe, s.opts.Version != "")
	return exe, nil
}

func (s *Service) install(ctx context.Context, build api.Build, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}

	archive := dir + ".zip"
	defer os.Remove(archive)

	logger.Info("Downloading chrome build", zap.String("build", build.Key()), zap.String("url", build.URL))
	if err := s.resolver.Client().Download(ctx, build.URL, archive); err != nil {
		return err
	}
	if err := Unzip(archive, dir); err != nil {
		return err
	}
	return nil
}

// Unzip extracts src into dest, keeping file modes and rejecting entries that escape dest
func Unzip(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	root, err := filepath.Abs(dest)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", dest, err)
	}

	for _, f := range r.File {
		target := filepath.Join(root, f.Name)
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes destination", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create %s: %w", target, err)
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(target), err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	return out.Close()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
