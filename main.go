package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Parsh06/Stock-Backend/internal/config"
	"github.com/Parsh06/Stock-Backend/internal/logger"
)

// Version is the current release
const Version = "1.0.0"

var (
	cfgFile     string
	debug       bool
	profileName string

	// set by commands that report failure through the exit code only
	exitCode int
)

var rootCmd = &cobra.Command{
	Use:   "stocksync",
	Short: "Market data acquisition and sync",
	Long: `stocksync downloads the BSE securities master and the Chittorgarh IPO
calendars with a headless browser, normalizes them to JSON and replaces the
matching collections in the configured document store.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./"+config.DefaultFile+" when present)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "", "sink profile to upload with")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig reads configuration and initializes logging from it
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		logger.Init(nil)
		return nil, err
	}
	if debug {
		cfg.Log.Level = "debug"
	}
	if profileName != "" {
		cfg.Sink.Profile = profileName
	}
	logger.Init(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
	})
	if err := cfg.AbsDirs(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openApp loads configuration and starts an App for one command
func openApp(ctx context.Context) (*App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	app := NewApp(cfg)
	if err := app.startup(ctx); err != nil {
		return nil, err
	}
	return app, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	stop()
	logger.Sync()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}
