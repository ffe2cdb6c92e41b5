package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/Parsh06/Stock-Backend/internal/api"
	"github.com/Parsh06/Stock-Backend/internal/logger"
)

const (
	defaultLaunchTimeout = 60 * time.Second
	// channelCacheTTL bounds how long a channel keeps resolving to the same build
	channelCacheTTL = 6 * time.Hour
)

// stealthScripts hide the usual automation fingerprints
var stealthScripts = []string{
	`Object.defineProperty(navigator, 'webdriver', {get: () => undefined})`,
	`Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3, 4, 5]})`,
	`Object.defineProperty(navigator, 'languages', {get: () => ['en-US', 'en']})`,
	`Object.defineProperty(navigator, 'permissions', {get: () => undefined})`,
}

// systemPaths are the well-known browser locations per GOOS
var systemPaths = map[string][]string{
	"windows": {
		`C:\Program Files\Google\Chrome\Application\chrome.exe`,
		`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
	},
	"darwin": {
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
	},
	"linux": {
		"/usr/bin/google-chrome",
		"/usr/bin/google-chrome-stable",
		"/usr/bin/chromium",
		"/usr/bin/chromium-browser",
		"/snap/bin/chromium",
	},
}

// resolvedPaths memoizes downloaded executables across runs in one process
var resolvedPaths = api.NewExecCache(channelCacheTTL)

type launchFunc func(ctx context.Context) (*Session, error)

// Service acquires browser sessions
type Service struct {
	opts       Options
	resolver   *api.ChromeResolver
	cache      *api.ExecCache
	strategies map[string]launchFunc
	prepare    func(ctx context.Context, s *Session) error
}

// NewService creates a bootstrap service
func NewService(opts Options) *Service {
	if len(opts.Strategies) == 0 {
		opts.Strategies = []string{StrategyManaged, StrategyDownload, StrategySystem}
	}
	if opts.LaunchTimeout <= 0 {
		opts.LaunchTimeout = defaultLaunchTimeout
	}
	if opts.CacheDir == "" {
		opts.CacheDir = defaultCacheDir()
	}

	s := &Service{
		opts:     opts,
		resolver: api.NewChromeResolver(opts.VersionsURL),
		cache:    resolvedPaths,
	}
	s.strategies = map[string]launchFunc{
		StrategyManaged:  s.launchManaged,
		StrategyDownload: s.launchDownloaded,
		StrategySystem:   s.launchSystem,
	}
	s.prepare = s.setup
	return s
}

// Acquire tries each strategy in order and returns the first session that
// launches and accepts the download setup
func (s *Service) Acquire(ctx context.Context) (*Session, error) {
	unavailable := &UnavailableError{}

	for _, name := range s.opts.Strategies {
		if err := ctx.Err(); err != nil {
			unavailable.Attempts = append(unavailable.Attempts, Attempt{Strategy: name, Err: err})
			break
		}

		launch, ok := s.strategies[name]
		if !ok {
			unavailable.Attempts = append(unavailable.Attempts, Attempt{Strategy: name, Err: errors.New("unknown strategy")})
			continue
		}

		logger.Info("Starting browser", zap.String("strategy", name))
		session, err := launch(ctx)
		if err != nil {
			logger.Warn("Browser strategy failed", zap.String("strategy", name), zap.Error(err))
			unavailable.Attempts = append(unavailable.Attempts, Attempt{Strategy: name, Err: err})
			continue
		}

		if err := s.prepare(ctx, session); err != nil {
			session.Close()
			logger.Error("Browser setup failed", zap.String("strategy", name), zap.Error(err))
			unavailable.Attempts = append(unavailable.Attempts, Attempt{
				Strategy: name,
				Err:      fmt.Errorf("failed to prepare session: %w", err),
			})
			return nil, unavailable
		}

		logger.Info("Browser ready", zap.String("strategy", name), zap.String("exec_path", session.ExecPath))
		return session, nil
	}

	return nil, unavailable
}

func (s *Service) launchManaged(ctx context.Context) (*Session, error) {
	return s.launch(ctx, StrategyManaged, "")
}

func (s *Service) launchDownloaded(ctx context.Context) (*Session, error) {
	path, err := s.downloadedExecPath(ctx)
	if err != nil {
		return nil, err
	}
	return s.launch(ctx, StrategyDownload, path)
}

func (s *Service) launchSystem(ctx context.Context) (*Session, error) {
	path, err := SystemPath(runtime.GOOS, s.opts.ExecPath)
	if err != nil {
		return nil, err
	}
	return s.launch(ctx, StrategySystem, path)
}

// SystemPath returns override if set, otherwise the first existing well-known path for goos
func SystemPath(goos, override string) (string, error) {
	candidates := systemPaths[goos]
	if override != "" {
		candidates = []string{override}
	}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no known browser location for %s", goos)
	}
	return "", fmt.Errorf("browser not found at %v", candidates)
}

func (s *Service) allocatorOptions(execPath string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.opts.Headless),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.WindowSize(1920, 1080),
	)
	if s.opts.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(s.opts.UserAgent))
	}
	if execPath != "" {
		opts = append(opts, chromedp.ExecPath(execPath))
	}
	return opts
}

// launch starts a browser and opens a tab. The browser's lifetime is bound to
// the returned session, not to ctx.
func (s *Service) launch(ctx context.Context, strategy, execPath string) (*Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), s.allocatorOptions(execPath)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	cancel := func() {
		tabCancel()
		allocCancel()
	}

	started := make(chan error, 1)
	go func() {
		started <- chromedp.Run(tabCtx)
	}()

	timer := time.NewTimer(s.opts.LaunchTimeout)
	defer timer.Stop()

	select {
	case err := <-started:
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to start browser: %w", err)
		}
	case <-timer.C:
		cancel()
		return nil, fmt.Errorf("browser did not start within %s", s.opts.LaunchTimeout)
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}

	return NewSession(tabCtx, cancel, strategy, execPath), nil
}

// setup applies the stealth overrides and routes downloads into DownloadDir
func (s *Service) setup(ctx context.Context, session *Session) error {
	if s.opts.DownloadDir != "" {
		if err := os.MkdirAll(s.opts.DownloadDir, 0755); err != nil {
			return fmt.Errorf("failed to create download dir: %w", err)
		}
	}

	setupCtx, cancel := context.WithTimeout(ctx, s.opts.LaunchTimeout)
	defer cancel()

	return session.Run(setupCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		for i, script := range stealthScripts {
			if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
				logger.Warn("Skipping stealth override", zap.Int("index", i), zap.Error(err))
			}
		}

		behavior := cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllow).
			WithEventsEnabled(true)
		if s.opts.DownloadDir != "" {
			behavior = behavior.WithDownloadPath(s.opts.DownloadDir)
		}
		if err := behavior.Do(ctx); err != nil {
			return fmt.Errorf("failed to set download behavior: %w", err)
		}
		return nil
	}))
}
