package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/Parsh06/Stock-Backend/internal/config"
)

// ErrDriverUnavailable is returned when no strategy produced a usable session
var ErrDriverUnavailable = errors.New("browser driver unavailable")

// Strategy names, tried in the configured order
const (
	StrategyManaged  = "managed"
	StrategyDownload = "download"
	StrategySystem   = "system"
)

// Attempt records why one strategy failed
type Attempt struct {
	Strategy string
	Err      error
}

// UnavailableError aggregates every failed attempt
type UnavailableError struct {
	Attempts []Attempt
}

func (e *UnavailableError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrDriverUnavailable.Error() + ": no strategies configured"
	}
	reasons := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		reasons = append(reasons, fmt.Sprintf("%s: %v", a.Strategy, a.Err))
	}
	return ErrDriverUnavailable.Error() + ": " + strings.Join(reasons, "; ")
}

func (e *UnavailableError) Unwrap() error {
	return ErrDriverUnavailable
}

// Options configures the bootstrap
type Options struct {
	Headless      bool
	Strategies    []string
	ExecPath      string // system strategy override
	Channel       string
	Version       string
	VersionsURL   string
	CacheDir      string
	UserAgent     string
	LaunchTimeout time.Duration
	DownloadDir   string
}

// OptionsFromConfig builds Options from the browser section of the config
func OptionsFromConfig(cfg config.BrowserConfig, downloadDir string) Options {
	return Options{
		Headless:      cfg.Headless,
		Strategies:    cfg.Strategies,
		ExecPath:      cfg.ExecPath,
		Channel:       cfg.Channel,
		Version:       cfg.Version,
		VersionsURL:   cfg.VersionsURL,
		CacheDir:      cfg.CacheDir,
		UserAgent:     cfg.UserAgent,
		LaunchTimeout: cfg.LaunchTimeout,
		DownloadDir:   downloadDir,
	}
}

// Session is a live browser tab. It must be closed exactly once by its owner;
// extra Close calls are no-ops.
type Session struct {
	Strategy string
	ExecPath string

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewSession wraps a chromedp tab context. cancel must release the tab and its allocator.
func NewSession(ctx context.Context, cancel context.CancelFunc, strategy, execPath string) *Session {
	return &Session{
		Strategy: strategy,
		ExecPath: execPath,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Run executes actions on the tab, aborting when ctx is done
func (s *Session) Run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ctxErr, err)
		}
		return err
	}
	return nil
}

// Close shuts the browser down
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}
