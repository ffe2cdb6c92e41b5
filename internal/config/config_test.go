package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("Should use defaults when no file exists", func(t *testing.T) {
		chdir(t, t.TempDir())

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "./downloads", cfg.DownloadDir)
		assert.Equal(t, 2*time.Second, cfg.PollInterval)
		assert.Len(t, cfg.Tasks, 3)
		assert.Equal(t, []string{"managed", "download", "system"}, cfg.Browser.Strategies)
	})

	t.Run("Should fail when explicit file is missing", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config")
	})

	t.Run("Should merge YAML over defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "stocksync.yaml")
		yamlData := `
download_dir: /tmp/dl
poll_interval: 500ms
sink:
  type: rest
  base_url: http://docs.local
  batch_size: 100
tasks:
  - name: ipo
    kind: ipo-calendar
    extension: .csv
    collection: Ipo
    data_type: IPO
`
		require.NoError(t, os.WriteFile(path, []byte(yamlData), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "/tmp/dl", cfg.DownloadDir)
		assert.Equal(t, "./data", cfg.OutputDir)
		assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
		assert.Equal(t, "rest", cfg.Sink.Type)
		assert.Equal(t, 100, cfg.Sink.BatchSize)
		require.Len(t, cfg.Tasks, 1)
		assert.Equal(t, "Ipo", cfg.Tasks[0].Collection)
	})

	t.Run("Should apply environment overrides", func(t *testing.T) {
		chdir(t, t.TempDir())
		t.Setenv("STOCKSYNC_DOWNLOAD_DIR", "/var/dl")
		t.Setenv("STOCKSYNC_TIMEOUT", "45s")
		t.Setenv("STOCKSYNC_BROWSER_STRATEGIES", "system, managed")
		t.Setenv("DB_MAX_OPEN_CONNS", "not-a-number")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "/var/dl", cfg.DownloadDir)
		assert.Equal(t, 45*time.Second, cfg.Timeout)
		assert.Equal(t, []string{"system", "managed"}, cfg.Browser.Strategies)
		assert.Equal(t, 25, cfg.Database.MaxOpenConns, "Invalid ints should fall back to the default")
	})

	t.Run("Should listen on PORT unless an address is given", func(t *testing.T) {
		chdir(t, t.TempDir())
		t.Setenv("PORT", "8081")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, ":8081", cfg.Server.Addr)

		t.Setenv("STOCKSYNC_SERVER_ADDR", "127.0.0.1:9000")
		cfg, err = Load("")
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"Unknown sink", func(c *Config) { c.Sink.Type = "redis" }, "sink.type"},
		{"Zero batch size", func(c *Config) { c.Sink.BatchSize = 0 }, "sink.batch_size"},
		{"Unknown strategy", func(c *Config) { c.Browser.Strategies = []string{"magic"} }, "browser.strategies"},
		{"Empty strategies", func(c *Config) { c.Browser.Strategies = nil }, "browser.strategies"},
		{"Duplicate task", func(c *Config) { c.Tasks = append(c.Tasks, c.Tasks[0]) }, "tasks[3].name"},
		{"Bad extension", func(c *Config) { c.Tasks[0].Extension = "csv" }, "tasks[0].extension"},
		{"Unknown kind", func(c *Config) { c.Tasks[1].Kind = "bonds" }, "tasks[1].kind"},
		{"Zero poll interval", func(c *Config) { c.PollInterval = 0 }, "poll_interval"},
	}

	for _, tt := range tests {
		t.Run("Should reject "+tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}

	t.Run("Should accept defaults", func(t *testing.T) {
		assert.NoError(t, Default().Validate())
	})
}

func TestTaskForMode(t *testing.T) {
	cfg := Default()

	task, ok := cfg.TaskForMode("process_ipo")
	require.True(t, ok)
	assert.Equal(t, "ipo-mainboard", task.Name)
	assert.Equal(t, "IPO.csv", task.CanonicalName)

	_, ok = cfg.TaskForMode("process_bonds")
	assert.False(t, ok)
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir on older toolchains)
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
