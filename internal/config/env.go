package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnv overrides file values with environment variables
func applyEnv(cfg *Config) {
	cfg.DownloadDir = getEnvString("STOCKSYNC_DOWNLOAD_DIR", cfg.DownloadDir)
	cfg.OutputDir = getEnvString("STOCKSYNC_OUTPUT_DIR", cfg.OutputDir)
	cfg.Timeout = getEnvDuration("STOCKSYNC_TIMEOUT", cfg.Timeout)
	cfg.TaskTimeout = getEnvDuration("STOCKSYNC_TASK_TIMEOUT", cfg.TaskTimeout)
	cfg.PollInterval = getEnvDuration("STOCKSYNC_POLL_INTERVAL", cfg.PollInterval)

	cfg.Log.Level = strings.ToLower(getEnvString("LOG_LEVEL", cfg.Log.Level))
	cfg.Log.Format = getEnvString("LOG_FORMAT", cfg.Log.Format)

	cfg.Database.URL = getEnvString("DATABASE_URL", cfg.Database.URL)
	cfg.Database.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns)
	cfg.Database.ConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", cfg.Database.ConnMaxLifetime)

	cfg.Browser.ExecPath = getEnvString("CHROME_PATH", cfg.Browser.ExecPath)
	cfg.Browser.Version = getEnvString("CHROME_VERSION", cfg.Browser.Version)
	cfg.Browser.CacheDir = getEnvString("STOCKSYNC_BROWSER_CACHE", cfg.Browser.CacheDir)
	cfg.Browser.Headless = getEnvBool("STOCKSYNC_HEADLESS", cfg.Browser.Headless)
	if v := getEnvString("STOCKSYNC_BROWSER_STRATEGIES", ""); v != "" {
		cfg.Browser.Strategies = splitList(v)
	}

	cfg.Sink.Type = getEnvString("STOCKSYNC_SINK", cfg.Sink.Type)
	cfg.Sink.Profile = getEnvString("STOCKSYNC_SINK_PROFILE", cfg.Sink.Profile)
	cfg.Sink.DSN = getEnvString("STOCKSYNC_SINK_DSN", cfg.Sink.DSN)
	cfg.Sink.BaseURL = getEnvString("STOCKSYNC_SINK_URL", cfg.Sink.BaseURL)
	cfg.Sink.Token = getEnvString("STOCKSYNC_SINK_TOKEN", cfg.Sink.Token)
	cfg.Sink.Database = getEnvString("STOCKSYNC_SINK_DATABASE", cfg.Sink.Database)
	cfg.Sink.ProjectID = getEnvString("FIREBASE_PROJECT_ID", cfg.Sink.ProjectID)
	cfg.Sink.Credentials = getEnvString("GOOGLE_APPLICATION_CREDENTIALS", cfg.Sink.Credentials)
	cfg.Sink.BatchSize = getEnvInt("STOCKSYNC_SINK_BATCH_SIZE", cfg.Sink.BatchSize)
	if cfg.Sink.DSN == "" && cfg.Sink.Type == "mongo" {
		cfg.Sink.DSN = os.Getenv("MONGODB_URI")
	}

	cfg.Schedule.Cron = getEnvString("STOCKSYNC_CRON", cfg.Schedule.Cron)

	if port := getEnvString("PORT", ""); port != "" {
		cfg.Server.Addr = ":" + port
	}
	cfg.Server.Addr = getEnvString("STOCKSYNC_SERVER_ADDR", cfg.Server.Addr)
	cfg.Server.RunTimeout = getEnvDuration("STOCKSYNC_RUN_TIMEOUT", cfg.Server.RunTimeout)
}

// getEnvString retrieves a string from environment variable with default fallback
func getEnvString(key, defaultValue string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultValue
}

// getEnvInt retrieves an integer from environment variable with default fallback
func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration from environment variable with default fallback
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean from environment variable with default fallback
func getEnvBool(key string, defaultValue bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
