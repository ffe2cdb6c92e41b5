package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is loaded from the working directory when no --config flag is given
const DefaultFile = "stocksync.yaml"

// Config is the full runtime configuration
type Config struct {
	DownloadDir  string         `yaml:"download_dir"`
	OutputDir    string         `yaml:"output_dir"`
	Timeout      time.Duration  `yaml:"timeout"`       // default deadline for file arrival
	TaskTimeout  time.Duration  `yaml:"task_timeout"`  // hard deadline for one acquisition task
	PollInterval time.Duration  `yaml:"poll_interval"` // watcher poll interval
	Log          LogConfig      `yaml:"log"`
	Database     DatabaseConfig `yaml:"database"`
	Browser      BrowserConfig  `yaml:"browser"`
	Sink         SinkConfig     `yaml:"sink"`
	Schedule     ScheduleConfig `yaml:"schedule"`
	Server       ServerConfig   `yaml:"server"`
	Tasks        []TaskConfig   `yaml:"tasks"`
}

// LogConfig mirrors logger.Config
type LogConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // json, console
	Output     string `yaml:"output"` // stdout, stderr, file, both
	FilePath   string `yaml:"file_path"`
	MaxSize    int    `yaml:"max_size"` // MB
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
}

// DatabaseConfig configures the local GORM database (history, jobs, profiles)
type DatabaseConfig struct {
	URL             string        `yaml:"url"` // sqlite://path or postgres://...
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// BrowserConfig configures driver bootstrap
type BrowserConfig struct {
	Headless      bool          `yaml:"headless"`
	Strategies    []string      `yaml:"strategies"` // managed, download, system
	ExecPath      string        `yaml:"exec_path"`  // overrides the platform default of the system strategy
	Channel       string        `yaml:"channel"`    // Chrome for Testing channel (Stable, Beta, ...)
	Version       string        `yaml:"version"`    // pinned Chrome for Testing version, empty = channel
	VersionsURL   string        `yaml:"versions_url"`
	CacheDir      string        `yaml:"cache_dir"`
	UserAgent     string        `yaml:"user_agent"`
	LaunchTimeout time.Duration `yaml:"launch_timeout"`
}

// SinkConfig selects and configures the upload sink
type SinkConfig struct {
	Type          string         `yaml:"type"` // none, sqlite, postgres, pgx, rest, mongo, firestore
	Profile       string         `yaml:"profile"`
	DSN           string         `yaml:"dsn"`
	BaseURL       string         `yaml:"base_url"`
	Token         string         `yaml:"token"`
	Database      string         `yaml:"database"`
	Schema        string         `yaml:"schema"`
	ProjectID     string         `yaml:"project_id"`
	Credentials   string         `yaml:"credentials_file"`
	BatchSize     int            `yaml:"batch_size"`
	BatchSizes    map[string]int `yaml:"batch_sizes"` // per-collection override
	RetryAttempts int            `yaml:"retry_attempts"`
	RetryBackoff  time.Duration  `yaml:"retry_backoff"`
	CallTimeout   time.Duration  `yaml:"call_timeout"`
}

// ScheduleConfig configures the cron daemon
type ScheduleConfig struct {
	Cron     string `yaml:"cron"`
	Timezone string `yaml:"timezone"`
	Mode     string `yaml:"mode"`
}

// ServerConfig configures the read API
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	RunTimeout   time.Duration `yaml:"run_timeout"` // deadline of a run triggered over HTTP
}

// TaskConfig describes one acquisition task
type TaskConfig struct {
	Name            string        `yaml:"name"`
	Site            string        `yaml:"site"`
	Kind            string        `yaml:"kind"` // security-master, ipo-calendar
	Extension       string        `yaml:"extension"`
	Pattern         string        `yaml:"pattern"`
	MinSize         int64         `yaml:"min_size"`
	Timeout         time.Duration `yaml:"timeout"`
	FallbackTimeout time.Duration `yaml:"fallback_timeout"`
	CanonicalName   string        `yaml:"canonical_name"`
	Collection      string        `yaml:"collection"`
	DataType        string        `yaml:"data_type"`
	OutputFile      string        `yaml:"output_file"`
	ReprocessMode   string        `yaml:"reprocess_mode"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		DownloadDir:  "./downloads",
		OutputDir:    "./data",
		Timeout:      30 * time.Second,
		TaskTimeout:  5 * time.Minute,
		PollInterval: 2 * time.Second,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Database: DatabaseConfig{
			URL:             "sqlite://./stocksync.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Browser: BrowserConfig{
			Headless:      true,
			Strategies:    []string{"managed", "download", "system"},
			Channel:       "Stable",
			VersionsURL:   "https://googlechromelabs.github.io/chrome-for-testing/last-known-good-versions-with-downloads.json",
			UserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			LaunchTimeout: 60 * time.Second,
		},
		Sink: SinkConfig{
			Type:          "none",
			Schema:        "public",
			Database:      "stocks",
			BatchSize:     500,
			BatchSizes:    map[string]int{"SecurityList": 200},
			RetryAttempts: 3,
			RetryBackoff:  500 * time.Millisecond,
			CallTimeout:   60 * time.Second,
		},
		Schedule: ScheduleConfig{
			Cron:     "0 18 * * 1-5",
			Timezone: "Asia/Kolkata",
			Mode:     "full",
		},
		Server: ServerConfig{
			Addr:         ":5000",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 15 * time.Minute,
			RunTimeout:   10 * time.Minute,
		},
		Tasks: DefaultTasks(),
	}
}

// DefaultTasks returns the three tracked acquisition tasks
func DefaultTasks() []TaskConfig {
	return []TaskConfig{
		{
			Name:          "securities",
			Site:          "bse-securities",
			Kind:          "security-master",
			Extension:     ".csv",
			MinSize:       1000,
			Timeout:       60 * time.Second,
			CanonicalName: "SecurityList.csv",
			Collection:    "SecurityList",
			DataType:      "BSE_Security",
			OutputFile:    "securities.json",
			ReprocessMode: "process_securities",
		},
		{
			Name:            "ipo-mainboard",
			Site:            "chittorgarh-mainboard",
			Kind:            "ipo-calendar",
			Extension:       ".csv",
			Pattern:         "ipo-in-india-list-main-board-sme.csv",
			MinSize:         500,
			Timeout:         60 * time.Second,
			FallbackTimeout: 30 * time.Second,
			CanonicalName:   "IPO.csv",
			Collection:      "Ipo",
			DataType:        "IPO_Mainboard_Data",
			OutputFile:      "ipo-main.json",
			ReprocessMode:   "process_ipo",
		},
		{
			Name:            "ipo-sme",
			Site:            "chittorgarh-sme",
			Kind:            "ipo-calendar",
			Extension:       ".csv",
			Pattern:         "ipo-in-india-list-main-board-sme.csv",
			MinSize:         500,
			Timeout:         60 * time.Second,
			FallbackTimeout: 30 * time.Second,
			CanonicalName:   "IPO-SME.csv",
			Collection:      "IpoSme",
			DataType:        "IPO_SME_Data",
			OutputFile:      "ipo-sme.json",
			ReprocessMode:   "process_sme",
		},
	}
}

// Load reads the YAML file at path (or DefaultFile if present), then applies
// environment overrides. A missing explicit path is an error; a missing
// DefaultFile is not.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	applyEnv(cfg)

	if len(cfg.Tasks) == 0 {
		cfg.Tasks = DefaultTasks()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Task returns the task config with the given name
func (c *Config) Task(name string) (TaskConfig, bool) {
	for _, t := range c.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return TaskConfig{}, false
}

// TaskForMode returns the task reprocessed by the given mode token
func (c *Config) TaskForMode(mode string) (TaskConfig, bool) {
	for _, t := range c.Tasks {
		if t.ReprocessMode != "" && t.ReprocessMode == mode {
			return t, true
		}
	}
	return TaskConfig{}, false
}

// AbsDirs resolves the download and output directories to absolute paths
func (c *Config) AbsDirs() error {
	for _, dir := range []*string{&c.DownloadDir, &c.OutputDir} {
		abs, err := filepath.Abs(*dir)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", *dir, err)
		}
		*dir = abs
	}
	return nil
}
