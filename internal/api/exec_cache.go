package api

import (
	"os"
	"sync"
	"time"
)

// ExecCache remembers the executable unpacked for a release and platform.
// Entries resolved from a channel expire after ttl so a newer build is picked
// up; pinned versions never expire. An entry whose file is gone is dropped on
// lookup.
type ExecCache struct {
	ttl     time.Duration
	mu      sync.Mutex
	entries map[string]execEntry
	now     func() time.Time
}

type execEntry struct {
	path   string
	stored time.Time
	pinned bool
}

// NewExecCache creates a cache whose channel entries live for ttl. A zero
// ttl disables expiry.
func NewExecCache(ttl time.Duration) *ExecCache {
	return &ExecCache{
		ttl:     ttl,
		entries: make(map[string]execEntry),
		now:     time.Now,
	}
}

func execKey(release, platform string) string {
	return release + "/" + platform
}

// Lookup returns the cached executable for release on platform
func (c *ExecCache) Lookup(release, platform string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := execKey(release, platform)
	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if !e.pinned && c.ttl > 0 && c.now().Sub(e.stored) >= c.ttl {
		delete(c.entries, key)
		return "", false
	}
	if info, err := os.Stat(e.path); err != nil || info.IsDir() {
		delete(c.entries, key)
		return "", false
	}
	return e.path, true
}

// Store records path for release on platform. pinned marks an exact version.
func (c *ExecCache) Store(release, platform, path string, pinned bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[execKey(release, platform)] = execEntry{path: path, stored: c.now(), pinned: pinned}
}

// Len returns the number of entries, expired ones included
func (c *ExecCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
