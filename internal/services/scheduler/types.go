package scheduler

import (
	"context"
)

// JobTypeSync runs the acquisition pipeline in the job's mode
const JobTypeSync = "sync"

// Runner executes one pipeline run. It must return only when the run is finished.
type Runner interface {
	Run(ctx context.Context, mode string) error
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context, mode string) error

// Run calls f
func (f RunnerFunc) Run(ctx context.Context, mode string) error {
	return f(ctx, mode)
}

// JobPayload is the JSON payload stored with a sync job
type JobPayload struct {
	Mode string `json:"mode"`
}

// JobListResponse represents a scheduled job in list responses
type JobListResponse struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	JobType   string  `json:"job_type"`
	Mode      string  `json:"mode"`
	Cron      string  `json:"cron"`
	Timezone  string  `json:"timezone"`
	Enabled   bool    `json:"enabled"`
	LastRunAt *string `json:"last_run_at"` // ISO 8601 format
	NextRun   *string `json:"next_run"`    // ISO 8601 format
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

// UpsertJobRequest represents a request to create or update a scheduled job
type UpsertJobRequest struct {
	Name     string `json:"name"`
	Cron     string `json:"cron"` // 5 or 6 fields
	Timezone string `json:"timezone"`
	Enabled  bool   `json:"enabled"`
	Mode     string `json:"mode"` // defaults to full
}
