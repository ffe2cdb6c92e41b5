package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Parsh06/Stock-Backend/internal/logger"
	"github.com/Parsh06/Stock-Backend/internal/models"
	"github.com/Parsh06/Stock-Backend/internal/services/browser"
	"github.com/Parsh06/Stock-Backend/internal/services/export"
	"github.com/Parsh06/Stock-Backend/internal/services/normalizer"
	"github.com/Parsh06/Stock-Backend/internal/services/sites"
	"github.com/Parsh06/Stock-Backend/internal/services/uploader"
	"github.com/Parsh06/Stock-Backend/internal/services/watcher"
)

const (
	defaultTaskTimeout = 5 * time.Minute
	persistTimeout     = 10 * time.Second
)

// Service runs acquisition tasks and reports one RunResult per run
type Service struct {
	deps    Deps
	tasks   []Task
	opts    Options
	watcher *watcher.Watcher
	writer  *export.Writer
	now     func() time.Time
	state   State
}

// NewService creates an orchestrator for tasks
func NewService(deps Deps, tasks []Task, opts Options) *Service {
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = defaultTaskTimeout
	}
	if opts.Trigger == "" {
		opts.Trigger = "manual"
	}
	return &Service{
		deps:    deps,
		tasks:   tasks,
		opts:    opts,
		watcher: watcher.New(opts.DownloadDir, opts.PollInterval),
		writer:  export.NewWriter(opts.OutputDir),
		now:     time.Now,
		state:   StateIdle,
	}
}

// State returns the current lifecycle state
func (s *Service) State() State {
	return s.state
}

// RunMode dispatches a CLI or scheduler mode token
func (s *Service) RunMode(ctx context.Context, mode string) *RunResult {
	switch mode {
	case "", ModeFull:
		return s.Run(ctx)
	case ModeProcessEquity:
		return s.ProcessEquity(ctx)
	}
	for _, t := range s.tasks {
		if t.ReprocessMode == mode {
			return s.Reprocess(ctx, t.Name)
		}
	}

	result := s.newResult(mode, 0)
	result.Errors = append(result.Errors, fmt.Sprintf("unknown mode %q (valid: %v)", mode, Modes))
	s.finish(ctx, result)
	return result
}

// Run executes every task on one shared browser session
func (s *Service) Run(ctx context.Context) *RunResult {
	result := s.newResult(ModeFull, len(s.tasks))
	defer s.finish(ctx, result)

	s.transition(StateIdle, zap.String("run_id", result.RunID), zap.Int("tasks", len(s.tasks)))

	if err := s.ensureDirs(); err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	s.cleanStale()

	session, err := s.deps.Browser.Acquire(ctx)
	if err != nil {
		logger.Error("Browser bootstrap failed", zap.Error(err))
		result.Errors = append(result.Errors, fmt.Sprintf("driver bootstrap: %v", err))
		return result
	}
	defer session.Close()
	s.transition(StateDriverReady, zap.String("strategy", session.Strategy))

	for _, task := range s.tasks {
		tr := s.runTask(ctx, task, func(ctx context.Context, tr *TaskResult) error {
			return s.acquire(ctx, session, task, tr)
		})
		result.add(tr)

		if !tr.Success {
			continue
		}
		if task.Kind == normalizer.KindSecurityMaster {
			if out, err := s.exportSecurityNames(tr.Artifact, filepath.Base(tr.Artifact)); err != nil {
				logger.Warn("Security names export failed", zap.Error(err))
			} else {
				result.FilesCreated = append(result.FilesCreated, out)
			}
		}
		// a later fallback wait must not pick this file up
		removeArtifact(tr.Artifact)
	}

	s.transition(StateFinalizing)
	session.Close()
	return result
}

// Abort records a run that could not start, such as one whose sink is unreachable
func (s *Service) Abort(ctx context.Context, mode string, cause error) *RunResult {
	total := 1
	if mode == "" || mode == ModeFull {
		mode = ModeFull
		total = len(s.tasks)
	}
	result := s.newResult(mode, total)
	result.Errors = append(result.Errors, cause.Error())
	logger.Error("Run aborted", zap.String("run_id", result.RunID), zap.String("mode", mode), zap.Error(cause))
	s.finish(ctx, result)
	return result
}

// Reprocess re-ingests the already downloaded file of one task without a browser
func (s *Service) Reprocess(ctx context.Context, taskName string) *RunResult {
	var task Task
	var found bool
	for _, t := range s.tasks {
		if t.Name == taskName {
			task, found = t, true
			break
		}
	}

	mode := taskName
	if found && task.ReprocessMode != "" {
		mode = task.ReprocessMode
	}
	result := s.newResult(mode, 1)
	defer s.finish(ctx, result)

	if !found {
		result.Errors = append(result.Errors, fmt.Sprintf("unknown task %q", taskName))
		return result
	}
	if err := s.ensureDirs(); err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	name := task.CanonicalName
	if name == "" {
		name = task.Expect.Pattern
	}
	path := filepath.Join(s.opts.DownloadDir, name)

	tr := s.runTask(ctx, task, func(ctx context.Context, tr *TaskResult) error {
		tr.Artifact = path
		return s.ingest(ctx, task, path, tr)
	})
	result.add(tr)

	s.transition(StateFinalizing)
	if tr.Success {
		removeArtifact(path)
	}
	return result
}

// ProcessEquity turns Equity.csv from the download dir into Security.json
func (s *Service) ProcessEquity(ctx context.Context) *RunResult {
	result := s.newResult(ModeProcessEquity, 1)
	defer s.finish(ctx, result)

	if err := s.ensureDirs(); err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	path := filepath.Join(s.opts.DownloadDir, EquityFile)
	task := Task{Name: equityTask, DataType: EquityDataType, OutputFile: EquityOutput}
	tr := s.runTask(ctx, task, func(ctx context.Context, tr *TaskResult) error {
		tr.Artifact = path
		rs, err := normalizer.SecurityNames(path)
		if err != nil {
			return err
		}
		out, err := s.writer.WriteFrom(EquityOutput, EquityDataType, EquityFile, rs)
		if err != nil {
			return err
		}
		tr.Records = rs.Len()
		tr.Output = out
		return nil
	})
	result.add(tr)

	s.transition(StateFinalizing)
	if tr.Success {
		removeArtifact(path)
	}
	return result
}

// runTask runs fn under the task deadline and turns errors and panics into a failed TaskResult
func (s *Service) runTask(ctx context.Context, task Task, fn func(context.Context, *TaskResult) error) (tr TaskResult) {
	start := s.now()
	tr.Name = task.Name

	taskCtx, cancel := context.WithTimeout(ctx, s.opts.TaskTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Task panicked", zap.String("task", task.Name), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			tr.Success = false
			tr.Error = fmt.Sprintf("%s failed: panic: %v", task.Name, r)
		}
		tr.DurationMS = s.now().Sub(start).Milliseconds()
		if tr.Success {
			s.transition(StateTaskDone, zap.String("task", task.Name), zap.Int("records", tr.Records))
		} else {
			s.transition(StateTaskFailed, zap.String("task", task.Name), zap.String("error", tr.Error))
		}
	}()

	s.transition(StateTaskRunning, zap.String("task", task.Name))
	if err := fn(taskCtx, &tr); err != nil {
		tr.Error = fmt.Sprintf("%s failed: %v", task.Name, err)
		return tr
	}
	tr.Success = true
	return tr
}

// acquire triggers the site download, waits for the file and ingests it
func (s *Service) acquire(ctx context.Context, session *browser.Session, task Task, tr *TaskResult) error {
	driver, err := s.deps.Sites.Get(task.Site)
	if err != nil {
		return err
	}
	expect := s.arrivalCriteria(task)
	if err := driver.Trigger(ctx, session); err != nil {
		if !errors.Is(err, sites.ErrSiteInteraction) {
			err = fmt.Errorf("%w: %s: %w", sites.ErrSiteInteraction, task.Site, err)
		}
		return err
	}

	path, err := s.waitForDownload(ctx, task, expect)
	if err != nil {
		return err
	}
	if path, err = s.canonicalize(path, task); err != nil {
		return err
	}
	tr.Artifact = path
	return s.ingest(ctx, task, path, tr)
}

func (s *Service) waitForDownload(ctx context.Context, task Task, expect watcher.Criteria) (string, error) {
	path, err := s.watcher.WaitForFile(ctx, expect, task.Timeout)
	if err == nil || !errors.Is(err, watcher.ErrArrivalTimeout) || task.FallbackTimeout <= 0 || expect.Pattern == "" {
		return path, err
	}

	logger.Warn("Expected file name not found, accepting any new matching download",
		zap.String("task", task.Name), zap.String("pattern", expect.Pattern))
	loose := expect
	loose.Pattern = ""
	return s.watcher.WaitForFile(ctx, loose, task.FallbackTimeout)
}

// arrivalCriteria returns the task criteria restricted to files that appear
// after this point. Files already in the download dir and the canonical
// names of other tasks never qualify.
func (s *Service) arrivalCriteria(task Task) watcher.Criteria {
	expect := task.Expect
	expect.Ignore = slices.Clone(task.Expect.Ignore)

	present, err := s.watcher.Listing()
	if err != nil {
		logger.Warn("Could not list download directory", zap.String("dir", s.opts.DownloadDir), zap.Error(err))
	}
	expect.Ignore = append(expect.Ignore, present...)

	for _, other := range s.tasks {
		if other.Name != task.Name && other.CanonicalName != "" {
			expect.Ignore = append(expect.Ignore, other.CanonicalName)
		}
	}
	if len(present) > 0 {
		logger.Debug("Ignoring existing downloads", zap.String("task", task.Name), zap.Strings("files", present))
	}
	return expect
}

func (s *Service) canonicalize(path string, task Task) (string, error) {
	if task.CanonicalName == "" || filepath.Base(path) == task.CanonicalName {
		return path, nil
	}
	target := filepath.Join(filepath.Dir(path), task.CanonicalName)
	if err := os.Rename(path, target); err != nil {
		return "", fmt.Errorf("failed to rename %s to %s: %w", filepath.Base(path), task.CanonicalName, err)
	}
	logger.Info("Download renamed", zap.String("from", filepath.Base(path)), zap.String("to", task.CanonicalName))
	return target, nil
}

// ingest normalizes path, writes the JSON document and replaces the collection
func (s *Service) ingest(ctx context.Context, task Task, path string, tr *TaskResult) error {
	rs, err := normalizer.Normalize(path, task.Kind)
	if err != nil {
		return err
	}
	tr.Records = rs.Len()

	out, err := s.writer.WriteFrom(task.OutputFile, task.DataType, filepath.Base(path), rs)
	if err != nil {
		return err
	}
	tr.Output = out

	if s.deps.Uploader == nil {
		logger.Debug("No sink configured, skipping upload", zap.String("task", task.Name))
		return nil
	}

	outcome, err := s.deps.Uploader.ReplaceCollection(ctx, task.Collection, rs.Records, task.DataType)
	if err != nil {
		var partial *uploader.PartialUploadError
		if errors.As(err, &partial) {
			tr.Upload = &uploader.Outcome{Collection: partial.Collection, Deleted: partial.Deleted, Inserted: partial.Inserted}
			logger.Error("Partial upload",
				zap.String("collection", partial.Collection),
				zap.Int("deleted", partial.Deleted),
				zap.Int("inserted", partial.Inserted),
				zap.Int("total", partial.Total))
		}
		return fmt.Errorf("failed to upload %s: %w", task.Collection, err)
	}
	tr.Upload = outcome
	return nil
}

func (s *Service) exportSecurityNames(path, source string) (string, error) {
	rs, err := normalizer.SecurityNames(path)
	if err != nil {
		return "", err
	}
	return s.writer.WriteFrom(EquityOutput, EquityDataType, source, rs)
}

func (s *Service) ensureDirs() error {
	for _, dir := range []string{s.opts.DownloadDir, s.opts.OutputDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// cleanStale removes leftovers that a wait could mistake for a fresh download
func (s *Service) cleanStale() {
	var criteria []watcher.Criteria
	for _, t := range s.tasks {
		if t.Expect.Pattern != "" {
			criteria = append(criteria, t.Expect)
		}
		if t.CanonicalName != "" {
			criteria = append(criteria, watcher.Criteria{Extension: t.Expect.Extension, Pattern: t.CanonicalName})
		}
	}
	criteria = append(criteria, watcher.Criteria{Extension: filepath.Ext(EquityFile), Pattern: EquityFile})

	if removed := s.watcher.Clean(criteria...); len(removed) > 0 {
		logger.Info("Cleaned download directory", zap.Strings("files", removed))
	}
}

func removeArtifact(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Could not remove download", zap.String("file", path), zap.Error(err))
	}
}

func (s *Service) transition(to State, fields ...zap.Field) {
	from := s.state
	s.state = to
	logger.Info("Run state", append([]zap.Field{zap.String("from", string(from)), zap.String("to", string(to))}, fields...)...)
}

func (s *Service) newResult(mode string, total int) *RunResult {
	s.state = StateIdle
	return &RunResult{
		RunID:        uuid.New().String(),
		Mode:         mode,
		TotalTasks:   total,
		Errors:       []string{},
		FilesCreated: []string{},
		Tasks:        []TaskResult{},
		StartedAt:    s.now().UTC(),
	}
}

func (r *RunResult) add(tr TaskResult) {
	r.Tasks = append(r.Tasks, tr)
	if tr.Success {
		r.TasksCompleted++
		if tr.Output != "" {
			r.FilesCreated = append(r.FilesCreated, tr.Output)
		}
		return
	}
	r.Errors = append(r.Errors, tr.Error)
}

// finish stamps the result, moves to Terminal and records the run
func (s *Service) finish(ctx context.Context, result *RunResult) {
	result.FinishedAt = s.now().UTC()
	result.Success = result.TasksCompleted == result.TotalTasks && len(result.Errors) == 0
	s.transition(StateTerminal,
		zap.String("run_id", result.RunID),
		zap.Bool("success", result.Success),
		zap.Int("tasks_completed", result.TasksCompleted),
		zap.Int("total_tasks", result.TotalTasks))

	if s.deps.Runs == nil {
		return
	}
	rec, err := RunRecordFrom(result, s.opts.Trigger)
	if err != nil {
		logger.Error("Failed to encode run record", zap.Error(err))
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.deps.Runs.SaveRun(saveCtx, rec); err != nil {
		logger.Error("Failed to save run history", zap.String("run_id", result.RunID), zap.Error(err))
	}
}

// RunRecordFrom converts a RunResult into its history row
func RunRecordFrom(result *RunResult, trigger string) (*models.RunRecord, error) {
	errs, err := json.Marshal(result.Errors)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal errors: %w", err)
	}
	body, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	status := models.RunStatusFailed
	if result.Success {
		status = models.RunStatusCompleted
	}
	return &models.RunRecord{
		ID:             result.RunID,
		Mode:           result.Mode,
		Status:         status,
		Trigger:        trigger,
		TasksCompleted: result.TasksCompleted,
		TotalTasks:     result.TotalTasks,
		Errors:         string(errs),
		Results:        string(body),
		StartedAt:      result.StartedAt,
		FinishedAt:     result.FinishedAt,
	}, nil
}
