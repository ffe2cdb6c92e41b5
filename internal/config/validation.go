package config

import (
	"fmt"
	"strings"
)

var (
	knownSinks      = []string{"none", "sqlite", "postgres", "pgx", "rest", "mongo", "firestore"}
	knownStrategies = []string{"managed", "download", "system"}
	knownKinds      = []string{"security-master", "ipo-calendar"}
)

// ValidationError represents a validation error with field context
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DownloadDir) == "" {
		return &ValidationError{"download_dir", "required"}
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return &ValidationError{"output_dir", "required"}
	}
	if c.Timeout <= 0 {
		return &ValidationError{"timeout", "must be positive"}
	}
	if c.PollInterval <= 0 {
		return &ValidationError{"poll_interval", "must be positive"}
	}
	if c.TaskTimeout <= 0 {
		return &ValidationError{"task_timeout", "must be positive"}
	}

	if !contains(knownSinks, c.Sink.Type) {
		return &ValidationError{"sink.type", fmt.Sprintf("unknown sink %q (expected one of %s)", c.Sink.Type, strings.Join(knownSinks, ", "))}
	}
	if c.Sink.BatchSize <= 0 {
		return &ValidationError{"sink.batch_size", "must be positive"}
	}
	for name, size := range c.Sink.BatchSizes {
		if size <= 0 {
			return &ValidationError{"sink.batch_sizes." + name, "must be positive"}
		}
	}

	if len(c.Browser.Strategies) == 0 {
		return &ValidationError{"browser.strategies", "at least one strategy required"}
	}
	for _, s := range c.Browser.Strategies {
		if !contains(knownStrategies, s) {
			return &ValidationError{"browser.strategies", fmt.Sprintf("unknown strategy %q", s)}
		}
	}

	seen := make(map[string]bool)
	for i, t := range c.Tasks {
		field := fmt.Sprintf("tasks[%d]", i)
		if t.Name == "" {
			return &ValidationError{field + ".name", "required"}
		}
		if seen[t.Name] {
			return &ValidationError{field + ".name", fmt.Sprintf("duplicate task %q", t.Name)}
		}
		seen[t.Name] = true
		if !contains(knownKinds, t.Kind) {
			return &ValidationError{field + ".kind", fmt.Sprintf("unknown dataset kind %q", t.Kind)}
		}
		if !strings.HasPrefix(t.Extension, ".") {
			return &ValidationError{field + ".extension", "must start with a dot"}
		}
		if t.Collection == "" {
			return &ValidationError{field + ".collection", "required"}
		}
		if t.DataType == "" {
			return &ValidationError{field + ".data_type", "required"}
		}
		if t.MinSize < 0 {
			return &ValidationError{field + ".min_size", "must not be negative"}
		}
	}

	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
