package orchestrator

import (
	"context"
	"time"

	"github.com/Parsh06/Stock-Backend/internal/config"
	"github.com/Parsh06/Stock-Backend/internal/models"
	"github.com/Parsh06/Stock-Backend/internal/services/browser"
	"github.com/Parsh06/Stock-Backend/internal/services/normalizer"
	"github.com/Parsh06/Stock-Backend/internal/services/sites"
	"github.com/Parsh06/Stock-Backend/internal/services/uploader"
	"github.com/Parsh06/Stock-Backend/internal/services/watcher"
)

// Run modes accepted by the CLI and scheduled jobs
const (
	ModeFull              = "full"
	ModeProcessIPO        = "process_ipo"
	ModeProcessSME        = "process_sme"
	ModeProcessSecurities = "process_securities"
	ModeProcessEquity     = "process_equity"
)

// Modes lists every valid mode
var Modes = []string{ModeFull, ModeProcessIPO, ModeProcessSME, ModeProcessSecurities, ModeProcessEquity}

// Equity export produced alongside the securities master
const (
	EquityFile     = "Equity.csv"
	EquityOutput   = "Security.json"
	EquityDataType = "BSE_Security_Names"
	equityTask     = "equity"
)

// State is a run lifecycle state
type State string

const (
	StateIdle        State = "idle"
	StateDriverReady State = "driver_ready"
	StateTaskRunning State = "task_running"
	StateTaskDone    State = "task_done"
	StateTaskFailed  State = "task_failed"
	StateFinalizing  State = "finalizing"
	StateTerminal    State = "terminal"
)

// Task is one acquisition task, immutable during a run
type Task struct {
	Name            string
	Site            string
	Kind            string
	Expect          watcher.Criteria
	Timeout         time.Duration
	FallbackTimeout time.Duration // >0 enables a second, pattern-less wait
	CanonicalName   string
	Collection      string
	DataType        string
	OutputFile      string
	ReprocessMode   string
}

// TasksFromConfig converts task configuration
func TasksFromConfig(cfgs []config.TaskConfig) []Task {
	tasks := make([]Task, 0, len(cfgs))
	for _, c := range cfgs {
		tasks = append(tasks, Task{
			Name: c.Name,
			Site: c.Site,
			Kind: c.Kind,
			Expect: watcher.Criteria{
				Extension: c.Extension,
				Pattern:   c.Pattern,
				MinSize:   c.MinSize,
			},
			Timeout:         c.Timeout,
			FallbackTimeout: c.FallbackTimeout,
			CanonicalName:   c.CanonicalName,
			Collection:      c.Collection,
			DataType:        c.DataType,
			OutputFile:      c.OutputFile,
			ReprocessMode:   c.ReprocessMode,
		})
	}
	return tasks
}

// TaskResult reports one task
type TaskResult struct {
	Name       string            `json:"name"`
	Success    bool              `json:"success"`
	Records    int               `json:"records"`
	Error      string            `json:"error,omitempty"`
	Artifact   string            `json:"artifact,omitempty"` // downloaded file
	Output     string            `json:"output,omitempty"`   // JSON document written
	Upload     *uploader.Outcome `json:"upload,omitempty"`
	DurationMS int64             `json:"duration_ms"`
}

// RunResult is the single JSON payload emitted per run
type RunResult struct {
	RunID          string       `json:"run_id"`
	Mode           string       `json:"mode"`
	Success        bool         `json:"success"`
	TasksCompleted int          `json:"tasks_completed"`
	TotalTasks     int          `json:"total_tasks"`
	Errors         []string     `json:"errors"`
	FilesCreated   []string     `json:"files_created"`
	Tasks          []TaskResult `json:"tasks"`
	StartedAt      time.Time    `json:"started_at"`
	FinishedAt     time.Time    `json:"finished_at"`
}

// SessionProvider acquires the shared browser session
type SessionProvider interface {
	Acquire(ctx context.Context) (*browser.Session, error)
}

// DriverLookup resolves site drivers; sites.Registry implements it
type DriverLookup interface {
	Get(site string) (sites.Driver, error)
}

// Uploader replaces a collection in the configured sink
type Uploader interface {
	ReplaceCollection(ctx context.Context, collection string, records []normalizer.Record, dataType string) (*uploader.Outcome, error)
}

// RunStore persists run history
type RunStore interface {
	SaveRun(ctx context.Context, rec *models.RunRecord) error
}

// Deps are the collaborators of a Service. Uploader and Runs may be nil.
type Deps struct {
	Browser  SessionProvider
	Sites    DriverLookup
	Uploader Uploader
	Runs     RunStore
}

// Options configures a Service
type Options struct {
	DownloadDir  string
	OutputDir    string
	TaskTimeout  time.Duration
	PollInterval time.Duration
	Trigger      string // manual, schedule
}
