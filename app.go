package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Parsh06/Stock-Backend/internal/config"
	"github.com/Parsh06/Stock-Backend/internal/crypto"
	"github.com/Parsh06/Stock-Backend/internal/database"
	"github.com/Parsh06/Stock-Backend/internal/logger"
	"github.com/Parsh06/Stock-Backend/internal/models"
	"github.com/Parsh06/Stock-Backend/internal/server"
	"github.com/Parsh06/Stock-Backend/internal/services/browser"
	"github.com/Parsh06/Stock-Backend/internal/services/orchestrator"
	"github.com/Parsh06/Stock-Backend/internal/services/profiles"
	"github.com/Parsh06/Stock-Backend/internal/services/scheduler"
	"github.com/Parsh06/Stock-Backend/internal/services/sites"
	"github.com/Parsh06/Stock-Backend/internal/services/uploader"
	"github.com/Parsh06/Stock-Backend/internal/sinks"
)

// Trigger values recorded with each run
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
	TriggerAPI      = "api"
)

// App holds the process-wide state shared by all commands
type App struct {
	cfg       *config.Config
	runs      *database.RunStore
	profiles  *profiles.Service
	scheduler *scheduler.Service
}

// NewApp creates a new App for cfg
func NewApp(cfg *config.Config) *App {
	return &App{cfg: cfg}
}

// startup opens the local database and the secret store
func (a *App) startup(ctx context.Context) error {
	logger.Debug("Application starting up")

	// profiles without secrets still work when no key is available
	if err := crypto.InitEncryption(); err != nil {
		logger.Warn("Encryption unavailable, profile secrets disabled", zap.Error(err))
	}

	db, err := database.Init(a.cfg.Database, a.cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.runs = database.NewRunStore(db)
	a.profiles = profiles.NewService(db)

	a.scheduler = scheduler.NewService(db, ctx, scheduler.RunnerFunc(a.scheduledRun))
	logger.Debug("Startup complete")
	return nil
}

// shutdown is called before the process exits
func (a *App) shutdown() {
	logger.Debug("Application shutting down")
	if err := database.Close(); err != nil {
		logger.Warn("Error closing database", zap.Error(err))
	}
	logger.Sync()
}

// ====================================================================================
// PIPELINE
// ====================================================================================

// RunMode runs one pipeline mode and returns its result. Failures are
// reported in the result, never as a panic.
func (a *App) RunMode(ctx context.Context, mode, trigger string) *orchestrator.RunResult {
	sinkCfg, err := a.sinkConfig()
	if err != nil {
		return a.newOrchestrator(nil, trigger).Abort(ctx, mode, err)
	}

	sink, err := sinks.Open(ctx, sinkCfg)
	if err != nil {
		return a.newOrchestrator(nil, trigger).Abort(ctx, mode, fmt.Errorf("failed to open %s sink: %w", sinkCfg.Type, err))
	}

	var up orchestrator.Uploader
	if sink != nil {
		defer func() {
			if err := sink.Close(); err != nil {
				logger.Warn("Failed to close sink", zap.Error(err))
			}
		}()
		up = uploader.NewService(sink, uploader.Options{
			BatchSize:    sinkCfg.BatchSize,
			BatchSizes:   sinkCfg.BatchSizes,
			MaxAttempts:  sinkCfg.RetryAttempts,
			RetryBackoff: sinkCfg.RetryBackoff,
			CallTimeout:  sinkCfg.CallTimeout,
		})
	} else {
		logger.Warn("No sink configured, datasets are only written to disk")
	}

	return a.newOrchestrator(up, trigger).RunMode(ctx, mode)
}

func (a *App) scheduledRun(ctx context.Context, mode string) error {
	result := a.RunMode(ctx, mode, TriggerSchedule)
	if !result.Success {
		return fmt.Errorf("run %s failed: %s", result.RunID, strings.Join(result.Errors, "; "))
	}
	return nil
}

func (a *App) newOrchestrator(up orchestrator.Uploader, trigger string) *orchestrator.Service {
	tasks := orchestrator.TasksFromConfig(a.cfg.Tasks)
	for i := range tasks {
		if tasks[i].Timeout <= 0 {
			tasks[i].Timeout = a.cfg.Timeout
		}
	}

	deps := orchestrator.Deps{
		Browser:  browser.NewService(browser.OptionsFromConfig(a.cfg.Browser, a.cfg.DownloadDir)),
		Sites:    sites.DefaultRegistry(),
		Uploader: up,
	}
	if a.runs != nil {
		deps.Runs = a.runs
	}

	return orchestrator.NewService(deps, tasks, orchestrator.Options{
		DownloadDir:  a.cfg.DownloadDir,
		OutputDir:    a.cfg.OutputDir,
		TaskTimeout:  a.cfg.TaskTimeout,
		PollInterval: a.cfg.PollInterval,
		Trigger:      trigger,
	})
}

// sinkConfig returns the sink configuration with the selected profile applied
func (a *App) sinkConfig() (config.SinkConfig, error) {
	cfg := a.cfg.Sink
	if cfg.Profile == "" {
		return cfg, nil
	}
	if a.profiles == nil {
		return cfg, fmt.Errorf("profile %s requires the local database", cfg.Profile)
	}
	profile, secret, err := a.profiles.Resolve(cfg.Profile)
	if err != nil {
		return cfg, err
	}
	logger.Info("Using sink profile", zap.String("profile", profile.Name), zap.String("sink", profile.SinkType))
	return sinks.ApplyProfile(cfg, profile, secret)
}

// ====================================================================================
// PROFILES
// ====================================================================================

// SaveProfile creates or updates a sink profile
func (a *App) SaveProfile(req profiles.SaveRequest) (*models.SinkProfile, error) {
	return a.profiles.Save(req)
}

// ListProfiles returns all sink profiles
func (a *App) ListProfiles() ([]models.SinkProfile, error) {
	return a.profiles.List()
}

// DeleteProfile removes a sink profile
func (a *App) DeleteProfile(name string) error {
	return a.profiles.Delete(name)
}

// TestSinkResponse represents the result of a sink connection test
type TestSinkResponse struct {
	Success bool   `json:"success"`
	Sink    string `json:"sink"`
	Error   string `json:"error,omitempty"`
}

// TestSink opens the sink of a profile (or the configured sink) and closes it again
func (a *App) TestSink(ctx context.Context, profileName string) TestSinkResponse {
	if profileName != "" {
		a.cfg.Sink.Profile = profileName
	}
	cfg, err := a.sinkConfig()
	if err != nil {
		return TestSinkResponse{Success: false, Sink: cfg.Type, Error: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	sink, err := sinks.Open(ctx, cfg)
	if err != nil {
		return TestSinkResponse{Success: false, Sink: cfg.Type, Error: fmt.Sprintf("Connection failed: %v", err)}
	}
	if sink == nil {
		return TestSinkResponse{Success: false, Sink: cfg.Type, Error: "no sink configured"}
	}
	if err := sink.Close(); err != nil {
		logger.Warn("Failed to close sink", zap.Error(err))
	}
	return TestSinkResponse{Success: true, Sink: cfg.Type}
}

// ====================================================================================
// SCHEDULED JOBS
// ====================================================================================

// ListScheduledJobs retrieves all scheduled jobs
func (a *App) ListScheduledJobs() ([]scheduler.JobListResponse, error) {
	return a.scheduler.ListJobs()
}

// UpsertScheduledJob creates or updates a scheduled job
func (a *App) UpsertScheduledJob(req scheduler.UpsertJobRequest) (string, error) {
	return a.scheduler.UpsertJob(req)
}

// DeleteScheduledJob removes a scheduled job
func (a *App) DeleteScheduledJob(idOrName string) error {
	return a.scheduler.DeleteJob(idOrName)
}

// Serve runs the scheduler until ctx is done. The configured schedule is
// installed as the default job when no job exists yet.
func (a *App) Serve(ctx context.Context) error {
	if err := a.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer a.scheduler.Stop()

	err := a.scheduler.EnsureDefault("default", scheduler.UpsertJobRequest{
		Cron:     a.cfg.Schedule.Cron,
		Timezone: a.cfg.Schedule.Timezone,
		Mode:     a.cfg.Schedule.Mode,
	})
	if err != nil {
		logger.Warn("Failed to install default schedule", zap.Error(err))
	}

	logger.Info("Scheduler running, press Ctrl+C to stop")
	<-ctx.Done()
	logger.Info("Stopping scheduler, waiting for the current run")
	return nil
}

// ====================================================================================
// API
// ====================================================================================

// ServeAPI serves the exported datasets on addr (the configured address when
// empty) until ctx is done
func (a *App) ServeAPI(ctx context.Context, addr string) error {
	if addr == "" {
		addr = a.cfg.Server.Addr
	}
	return a.newServer(ctx).Listen(ctx, addr)
}

func (a *App) newServer(ctx context.Context) *server.Server {
	opts := server.Options{
		OutputDir:    a.cfg.OutputDir,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		RunTimeout:   a.cfg.Server.RunTimeout,
	}
	if t, ok := a.cfg.TaskForMode(orchestrator.ModeProcessIPO); ok {
		opts.MainboardFile = t.OutputFile
	}
	if t, ok := a.cfg.TaskForMode(orchestrator.ModeProcessSME); ok {
		opts.SMEFile = t.OutputFile
	}

	runner := server.RunnerFunc(func(ctx context.Context, mode string) *orchestrator.RunResult {
		return a.RunMode(ctx, mode, TriggerAPI)
	})
	return server.New(ctx, runner, opts)
}

// ====================================================================================
// HISTORY
// ====================================================================================

// RunHistoryResponse represents a finished run in the history
type RunHistoryResponse struct {
	RunID      string `json:"run_id"`
	Mode       string `json:"mode"`
	Trigger    string `json:"trigger"`
	Status     string `json:"status"`      // "completed", "failed"
	StartedAt  string `json:"started_at"`  // ISO 8601 timestamp
	FinishedAt string `json:"finished_at"` // ISO 8601 timestamp
	Summary    string `json:"summary"`     // Brief result description
}

// ListRuns retrieves recent run history
func (a *App) ListRuns(ctx context.Context, limit int) ([]RunHistoryResponse, error) {
	runs, err := a.runs.ListRuns(ctx, limit)
	if err != nil {
		return nil, err
	}

	history := make([]RunHistoryResponse, 0, len(runs))
	for i := range runs {
		run := &runs[i]
		history = append(history, RunHistoryResponse{
			RunID:      run.ID,
			Mode:       run.Mode,
			Trigger:    run.Trigger,
			Status:     run.Status,
			StartedAt:  run.StartedAt.Format(time.RFC3339),
			FinishedAt: run.FinishedAt.Format(time.RFC3339),
			Summary:    runSummary(run),
		})
	}
	return history, nil
}

// GetRun returns the stored result of one run
func (a *App) GetRun(ctx context.Context, id string) (*orchestrator.RunResult, error) {
	run, err := a.runs.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	var result orchestrator.RunResult
	if err := json.Unmarshal([]byte(run.Results), &result); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", id, err)
	}
	return &result, nil
}

// runSummary creates a brief summary of a run
func runSummary(run *models.RunRecord) string {
	summary := fmt.Sprintf("%d/%d tasks", run.TasksCompleted, run.TotalTasks)

	var errs []string
	if run.Errors != "" && json.Unmarshal([]byte(run.Errors), &errs) == nil && len(errs) > 0 {
		first := errs[0]
		if len(first) > 80 {
			first = first[:77] + "..."
		}
		summary += ": " + first
		if len(errs) > 1 {
			summary += fmt.Sprintf(" (+%d more)", len(errs)-1)
		}
	}
	return summary
}
