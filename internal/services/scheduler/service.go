package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Parsh06/Stock-Backend/internal/logger"
	"github.com/Parsh06/Stock-Backend/internal/models"
	"github.com/Parsh06/Stock-Backend/internal/services/orchestrator"
)

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Service handles scheduled job management and execution
type Service struct {
	db      *gorm.DB
	ctx     context.Context
	cron    *cron.Cron
	jobs    map[string]cron.EntryID // jobID -> cron entry ID
	jobsMu  sync.RWMutex
	runner  Runner
	running sync.Mutex // held for the duration of one pipeline run
}

// NewService creates a new scheduler service
func NewService(db *gorm.DB, ctx context.Context, runner Runner) *Service {
	cronLog := cron.PrintfLogger(zap.NewStdLog(logger.L()))
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	return &Service{
		db:     db,
		ctx:    ctx,
		cron:   c,
		jobs:   make(map[string]cron.EntryID),
		runner: runner,
	}
}

// Start loads enabled jobs from the database and starts the cron loop
func (s *Service) Start() error {
	logger.Info("Starting scheduler")

	if err := s.db.AutoMigrate(&models.ScheduledJob{}); err != nil {
		return fmt.Errorf("failed to migrate scheduled_jobs table: %w", err)
	}

	s.cron.Start()

	var jobs []models.ScheduledJob
	if err := s.db.Where("enabled = ?", true).Find(&jobs).Error; err != nil {
		return fmt.Errorf("failed to load scheduled jobs: %w", err)
	}

	for i := range jobs {
		job := &jobs[i]
		if err := s.scheduleJob(job); err != nil {
			logger.Warn("Failed to schedule job", zap.String("job", job.Name), zap.String("id", job.ID), zap.Error(err))
		} else {
			logger.Info("Scheduled job", zap.String("job", job.Name), zap.String("cron", job.Cron), zap.String("timezone", job.Timezone))
		}
	}

	logger.Info("Scheduler started", zap.Int("enabled_jobs", len(jobs)))
	return nil
}

// Stop stops the cron loop and waits for a running job to finish
func (s *Service) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
		logger.Info("Scheduler stopped")
	}
}

// EnsureDefault creates the named job from configuration when no job exists yet
func (s *Service) EnsureDefault(name string, req UpsertJobRequest) error {
	if req.Cron == "" {
		return nil
	}
	var count int64
	if err := s.db.Model(&models.ScheduledJob{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count jobs: %w", err)
	}
	if count > 0 {
		return nil
	}
	req.Name = name
	req.Enabled = true
	_, err := s.UpsertJob(req)
	return err
}

// ListJobs retrieves all scheduled jobs
func (s *Service) ListJobs() ([]JobListResponse, error) {
	var jobs []models.ScheduledJob
	if err := s.db.Order("created_at DESC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	responses := make([]JobListResponse, len(jobs))
	for i := range jobs {
		responses[i] = toJobListResponse(&jobs[i])
	}
	return responses, nil
}

// UpsertJob creates or updates a scheduled job by name
func (s *Service) UpsertJob(req UpsertJobRequest) (string, error) {
	if req.Name == "" || req.Cron == "" {
		return "", fmt.Errorf("name and cron are required")
	}
	if req.Mode == "" {
		req.Mode = orchestrator.ModeFull
	}
	if !slices.Contains(orchestrator.Modes, req.Mode) {
		return "", fmt.Errorf("invalid mode %q (valid: %v)", req.Mode, orchestrator.Modes)
	}
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		return "", fmt.Errorf("invalid timezone %q: %w", req.Timezone, err)
	}

	normalizedCron, err := normalizeCron(req.Cron)
	if err != nil {
		return "", err
	}

	var job models.ScheduledJob
	result := s.db.Where("name = ?", req.Name).First(&job)
	isNew := errors.Is(result.Error, gorm.ErrRecordNotFound)
	if result.Error != nil && !isNew {
		return "", fmt.Errorf("failed to query job: %w", result.Error)
	}
	if isNew {
		job = models.ScheduledJob{
			ID:   uuid.New().String(),
			Name: req.Name,
		}
	}

	payload, err := json.Marshal(JobPayload{Mode: req.Mode})
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	job.JobType = JobTypeSync
	job.Cron = normalizedCron
	job.Timezone = req.Timezone
	job.Enabled = req.Enabled
	job.Payload = string(payload)

	next, err := nextRun(&job, time.Now())
	if err != nil {
		return "", err
	}
	job.NextRunAt = &next

	if isNew {
		if err := s.db.Create(&job).Error; err != nil {
			return "", fmt.Errorf("failed to create job: %w", err)
		}
	} else {
		if err := s.db.Save(&job).Error; err != nil {
			return "", fmt.Errorf("failed to update job: %w", err)
		}
	}

	if err := s.rescheduleJob(job.ID); err != nil {
		return "", fmt.Errorf("failed to reschedule job: %w", err)
	}
	return job.ID, nil
}

// DeleteJob removes a scheduled job by id or name
func (s *Service) DeleteJob(idOrName string) error {
	var job models.ScheduledJob
	if err := s.db.Where("id = ? OR name = ?", idOrName, idOrName).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("job %q not found", idOrName)
		}
		return fmt.Errorf("failed to load job: %w", err)
	}

	s.unschedule(job.ID)

	if err := s.db.Delete(&models.ScheduledJob{}, "id = ?", job.ID).Error; err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func (s *Service) unschedule(jobID string) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	if entryID, exists := s.jobs[jobID]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, jobID)
	}
}

// cronSpec returns the job expression with its timezone applied
func cronSpec(job *models.ScheduledJob) string {
	if job.Timezone == "" || job.Timezone == "UTC" {
		return job.Cron
	}
	return "CRON_TZ=" + job.Timezone + " " + job.Cron
}

func nextRun(job *models.ScheduledJob, from time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(cronSpec(job))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse cron for next run: %w", err)
	}
	return schedule.Next(from), nil
}

// scheduleJob adds a job to the cron scheduler
func (s *Service) scheduleJob(job *models.ScheduledJob) error {
	s.unschedule(job.ID)
	if !job.Enabled {
		return nil
	}

	jobID := job.ID
	entryID, err := s.cron.AddFunc(cronSpec(job), func() {
		s.executeJob(jobID)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.jobsMu.Lock()
	s.jobs[job.ID] = entryID
	s.jobsMu.Unlock()
	return nil
}

// rescheduleJob reloads a job from database and reschedules it
func (s *Service) rescheduleJob(jobID string) error {
	var job models.ScheduledJob
	if err := s.db.First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.unschedule(jobID)
			return nil
		}
		return fmt.Errorf("failed to load job: %w", err)
	}
	return s.scheduleJob(&job)
}

// executeJob runs a scheduled job unless another run is still in progress
func (s *Service) executeJob(jobID string) {
	if !s.running.TryLock() {
		logger.Warn("Skipping scheduled job, previous run still in progress", zap.String("id", jobID))
		return
	}
	defer s.running.Unlock()

	var job models.ScheduledJob
	if err := s.db.First(&job, "id = ?", jobID).Error; err != nil {
		logger.Error("Failed to load job", zap.String("id", jobID), zap.Error(err))
		return
	}
	logger.Info("Executing scheduled job", zap.String("job", job.Name), zap.String("id", jobID))

	now := time.Now()
	job.LastRunAt = &now
	if next, err := nextRun(&job, now); err != nil {
		logger.Warn("Failed to compute next run", zap.Error(err))
	} else {
		job.NextRunAt = &next
	}
	if err := s.db.Save(&job).Error; err != nil {
		logger.Warn("Failed to update job run times", zap.Error(err))
	}

	if job.JobType != JobTypeSync {
		logger.Warn("Unknown job type", zap.String("job_type", job.JobType))
		return
	}

	payload := JobPayload{Mode: orchestrator.ModeFull}
	if job.Payload != "" {
		if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
			logger.Error("Failed to parse job payload", zap.String("job", job.Name), zap.Error(err))
			return
		}
	}

	if err := s.runner.Run(s.ctx, payload.Mode); err != nil {
		logger.Error("Scheduled run failed", zap.String("job", job.Name), zap.String("mode", payload.Mode), zap.Error(err))
		return
	}
	logger.Info("Completed scheduled job", zap.String("job", job.Name), zap.String("mode", payload.Mode))
}

// normalizeCron converts 5-field cron to 6-field format by prepending seconds
// 5-field: "minute hour day month dow" (standard cron)
// 6-field: "second minute hour day month dow" (robfig/cron with WithSeconds)
func normalizeCron(cronExpr string) (string, error) {
	cronExpr = strings.TrimSpace(cronExpr)

	fields := strings.Fields(cronExpr)
	if len(fields) == 6 {
		if _, err := cronParser.Parse(cronExpr); err == nil {
			return cronExpr, nil
		}
	}

	if len(fields) == 5 {
		if _, err := cron.ParseStandard(cronExpr); err != nil {
			return "", fmt.Errorf("invalid 5-field cron expression: %w", err)
		}
		// run at second 0 of the minute
		return "0 " + cronExpr, nil
	}

	return "", fmt.Errorf("invalid cron expression: expected 5 or 6 fields, got %d", len(fields))
}

func toJobListResponse(job *models.ScheduledJob) JobListResponse {
	resp := JobListResponse{
		ID:        job.ID,
		Name:      job.Name,
		JobType:   job.JobType,
		Cron:      job.Cron,
		Timezone:  job.Timezone,
		Enabled:   job.Enabled,
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.Format(time.RFC3339),
	}

	var payload JobPayload
	if json.Unmarshal([]byte(job.Payload), &payload) == nil {
		resp.Mode = payload.Mode
	}

	if job.LastRunAt != nil {
		lastRun := job.LastRunAt.Format(time.RFC3339)
		resp.LastRunAt = &lastRun
	}
	if job.NextRunAt != nil {
		nextRun := job.NextRunAt.Format(time.RFC3339)
		resp.NextRun = &nextRun
	}
	return resp
}
