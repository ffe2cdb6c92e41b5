package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"

	"go.uber.org/zap"

	"github.com/Parsh06/Stock-Backend/internal/logger"
)

// ErrBuildNotFound is returned when the versions document has no matching build
var ErrBuildNotFound = errors.New("no matching chrome build")

// HeadlessShell is the Chrome for Testing artifact used for scraping
const HeadlessShell = "chrome-headless-shell"

// Build is one downloadable Chrome for Testing artifact
type Build struct {
	Version  string
	Platform string
	URL      string
}

// Key identifies a build in caches
func (b Build) Key() string {
	return b.Version + "/" + b.Platform
}

type cftDownload struct {
	Platform string `json:"platform"`
	URL      string `json:"url"`
}

type cftRelease struct {
	Channel   string                   `json:"channel"`
	Version   string                   `json:"version"`
	Downloads map[string][]cftDownload `json:"downloads"`
}

// cftDocument covers both last-known-good (channels) and known-good (versions) listings
type cftDocument struct {
	Channels map[string]cftRelease `json:"channels"`
	Versions []cftRelease          `json:"versions"`
}

// ChromeResolver looks up Chrome for Testing builds
type ChromeResolver struct {
	client      *Client
	versionsURL string
}

// NewChromeResolver creates a resolver reading versionsURL
func NewChromeResolver(versionsURL string) *ChromeResolver {
	return &ChromeResolver{
		client:      NewClient("", ""),
		versionsURL: versionsURL,
	}
}

// Client exposes the HTTP client for artifact downloads
func (r *ChromeResolver) Client() *Client {
	return r.client
}

// Resolve finds the artifact for a pinned version, or for channel when version is empty
func (r *ChromeResolver) Resolve(ctx context.Context, artifact, channel, version, platform string) (Build, error) {
	if platform == "" {
		platform = Platform(runtime.GOOS, runtime.GOARCH)
	}
	if platform == "" {
		return Build{}, fmt.Errorf("unsupported platform %s/%s: %w", runtime.GOOS, runtime.GOARCH, ErrBuildNotFound)
	}

	resp, err := r.client.Get(ctx, r.versionsURL, nil)
	if err != nil {
		return Build{}, fmt.Errorf("failed to fetch chrome versions: %w", err)
	}
	if !resp.IsSuccess() {
		return Build{}, statusError("fetch chrome versions", resp)
	}

	var doc cftDocument
	if err := json.Unmarshal(resp.Body(), &doc); err != nil {
		return Build{}, fmt.Errorf("failed to parse chrome versions: %w", err)
	}

	release, ok := doc.find(channel, version)
	if !ok {
		return Build{}, fmt.Errorf("channel %q version %q: %w", channel, version, ErrBuildNotFound)
	}
	for _, d := range release.Downloads[artifact] {
		if d.Platform == platform {
			logger.Debug("Resolved chrome build",
				zap.String("version", release.Version),
				zap.String("platform", platform),
				zap.String("url", d.URL))
			return Build{Version: release.Version, Platform: platform, URL: d.URL}, nil
		}
	}
	return Build{}, fmt.Errorf("%s %s for %s: %w", artifact, release.Version, platform, ErrBuildNotFound)
}

func (d cftDocument) find(channel, version string) (cftRelease, bool) {
	if version != "" {
		for _, rel := range d.Versions {
			if rel.Version == version {
				return rel, true
			}
		}
		for _, rel := range d.Channels {
			if rel.Version == version {
				return rel, true
			}
		}
		return cftRelease{}, false
	}
	if channel == "" {
		channel = "Stable"
	}
	rel, ok := d.Channels[channel]
	return rel, ok
}

// Platform maps GOOS/GOARCH to a Chrome for Testing platform name
func Platform(goos, goarch string) string {
	switch goos {
	case "linux":
		if goarch == "amd64" {
			return "linux64"
		}
	case "darwin":
		if goarch == "arm64" {
			return "mac-arm64"
		}
		return "mac-x64"
	case "windows":
		if goarch == "386" {
			return "win32"
		}
		return "win64"
	}
	return ""
}
