package watcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Parsh06/Stock-Backend/internal/logger"
)

// DefaultInterval is the poll interval used when none is configured
const DefaultInterval = 2 * time.Second

// statusEvery controls how often (in attempts) waiting progress is logged
const statusEvery = 5

// Watcher polls a single download directory for finished files
type Watcher struct {
	Dir      string
	Interval time.Duration
	now      func() time.Time
}

// New creates a watcher over dir
func New(dir string, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Watcher{
		Dir:      dir,
		Interval: interval,
		now:      time.Now,
	}
}

// WaitForFile blocks until a file satisfying criteria exists or timeout elapses.
// Candidates still carrying an in-progress suffix, smaller than MinSize or not
// readable are skipped. With a Pattern, the exact path Dir/Pattern is checked
// before the directory scan.
func (w *Watcher) WaitForFile(ctx context.Context, criteria Criteria, timeout time.Duration) (string, error) {
	deadline := w.now().Add(timeout)
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	attempts := 0
	for {
		attempts++
		verbose := attempts%statusEvery == 0
		if verbose {
			remaining := deadline.Sub(w.now()).Round(time.Second)
			logger.Info("Still waiting for download",
				zap.String("criteria", criteria.String()),
				zap.Duration("remaining", remaining))
		}

		if path, ok := w.find(criteria, verbose); ok {
			return path, nil
		}

		if !w.now().Before(deadline) {
			present, _ := w.Listing()
			logger.Error("Timeout waiting for download",
				zap.String("criteria", criteria.String()),
				zap.Strings("present", present))
			return "", &ArrivalTimeoutError{
				Criteria: criteria,
				Timeout:  timeout,
				Dir:      w.Dir,
				Present:  present,
			}
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("wait for %s cancelled: %w", criteria, ctx.Err())
		case <-ticker.C:
		}
	}
}

// find performs one scan of the directory
func (w *Watcher) find(criteria Criteria, verbose bool) (string, bool) {
	if _, err := os.Stat(w.Dir); err != nil {
		logger.Error("Download directory does not exist", zap.String("dir", w.Dir), zap.Error(err))
		return "", false
	}

	if criteria.Pattern != "" {
		exact := filepath.Join(w.Dir, criteria.Pattern)
		if w.qualifies(exact, filepath.Base(exact), criteria, verbose) {
			logger.Info("Found expected file", zap.String("file", exact))
			return exact, true
		}
	}

	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		logger.Error("Failed to list download directory", zap.String("dir", w.Dir), zap.Error(err))
		return "", false
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		full := filepath.Join(w.Dir, entry.Name())
		if w.qualifies(full, entry.Name(), criteria, verbose) {
			logger.Info("Found valid file", zap.String("file", full))
			return full, true
		}
	}
	return "", false
}

// Matches reports whether name passes the extension, in-progress, pattern and ignore checks
func Matches(name string, criteria Criteria) bool {
	lower := strings.ToLower(name)
	if IsInProgress(lower) {
		return false
	}
	if !strings.HasSuffix(lower, strings.ToLower(criteria.Extension)) {
		return false
	}
	if criteria.Pattern != "" && !strings.Contains(lower, strings.ToLower(criteria.Pattern)) {
		return false
	}
	for _, ignored := range criteria.Ignore {
		if strings.EqualFold(name, ignored) {
			return false
		}
	}
	return true
}

// IsInProgress reports whether name carries a partial-download marker
func IsInProgress(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range InProgressSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

func (w *Watcher) qualifies(path, name string, criteria Criteria, verbose bool) bool {
	if !Matches(name, criteria) {
		if verbose && IsInProgress(name) {
			logger.Info("Found incomplete download", zap.String("file", name))
		}
		return false
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if info.Size() < criteria.MinSize {
		if verbose {
			logger.Info("File too small",
				zap.String("file", name),
				zap.Int64("size", info.Size()),
				zap.Int64("min_size", criteria.MinSize))
		}
		return false
	}

	if err := readable(path); err != nil {
		if verbose {
			logger.Info("File not readable yet", zap.String("file", name), zap.Error(err))
		}
		return false
	}
	return true
}

// readable opens path and reads one byte
func readable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, 1)
	if _, err := f.Read(buf); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// Listing returns the sorted file names present in the directory
func (w *Watcher) Listing() ([]string, error) {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Clean removes files matching any of the criteria, including their
// in-progress variants, and returns the removed names
func (w *Watcher) Clean(criteria ...Criteria) []string {
	names, err := w.Listing()
	if err != nil {
		return nil
	}

	var removed []string
	for _, name := range names {
		base := name
		for _, suffix := range InProgressSuffixes {
			base = strings.TrimSuffix(base, suffix)
		}
		for _, c := range criteria {
			if !Matches(base, c) {
				continue
			}
			if err := os.Remove(filepath.Join(w.Dir, name)); err != nil {
				logger.Warn("Could not remove stale download", zap.String("file", name), zap.Error(err))
			} else {
				logger.Info("Removed stale download", zap.String("file", name))
				removed = append(removed, name)
			}
			break
		}
	}
	return removed
}
