package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Parsh06/Stock-Backend/internal/logger"
	"github.com/Parsh06/Stock-Backend/internal/services/orchestrator"
	"github.com/Parsh06/Stock-Backend/internal/services/profiles"
	"github.com/Parsh06/Stock-Backend/internal/services/scheduler"
)

var runCmd = &cobra.Command{
	Use:   "run [mode]",
	Short: "Run the pipeline once",
	Long: `Run the pipeline once and print the run result as JSON on the last line of stdout.

Modes:
  full                download every dataset with the browser (default)
  process_ipo         re-ingest an existing IPO.csv
  process_sme         re-ingest an existing IPO-SME.csv
  process_securities  re-ingest an existing SecurityList.csv
  process_equity      export security names from an existing Equity.csv`,
	Example: `  stocksync run
  stocksync run process_ipo
  stocksync --profile prod run`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: orchestrator.Modes,
	RunE:      runPipeline,
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run scheduled jobs until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.shutdown()
		return app.Serve(cmd.Context())
	},
}

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the exported datasets over HTTP",
	Long: `Serve the exported datasets over HTTP until interrupted.

Routes:
  GET  /backend/stock-name   distinct security names, sorted
  GET  /backend/ipo-main     mainboard IPO calendar
  GET  /backend/ipo-sme      SME IPO calendar
  POST /backend/scraper      run the pipeline (?mode=full by default)
  GET  /backend/health`,
	Example: `  stocksync serve
  PORT=8080 stocksync serve
  stocksync serve --addr 127.0.0.1:5000`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.shutdown()
		return app.ServeAPI(cmd.Context(), serveAddr)
	},
}

var (
	jobCron     string
	jobTimezone string
	jobMode     string
	jobDisabled bool
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage scheduled jobs",
}

var jobsAddCmd = &cobra.Command{
	Use:     "add <name>",
	Short:   "Create or update a scheduled job",
	Example: `  stocksync jobs add evening --cron "0 18 * * 1-5" --timezone Asia/Kolkata`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.shutdown()

		id, err := app.UpsertScheduledJob(scheduler.UpsertJobRequest{
			Name:     args[0],
			Cron:     jobCron,
			Timezone: jobTimezone,
			Mode:     jobMode,
			Enabled:  !jobDisabled,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.shutdown()

		jobs, err := app.ListScheduledJobs()
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), jobs)
	},
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete <id|name>",
	Short: "Delete a scheduled job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.shutdown()
		return app.DeleteScheduledJob(args[0])
	},
}

var (
	profileType      string
	profileTarget    string
	profileDatabase  string
	profileOwner     string
	profileSecretEnv string
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage sink profiles",
}

var profileAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create or update a sink profile",
	Long: `Create or update a sink profile. The secret is read from the environment
variable named by --secret-env and stored encrypted.

Targets by sink type:
  sqlite     database file path
  postgres   postgres:// URL with user, secret becomes the password
  pgx        postgres:// URL with user, secret becomes the password
  mongo      mongodb:// URL with user, secret becomes the password
  rest       base URL, secret is the bearer token
  firestore  project id, secret is the service account JSON`,
	Example: `  MONGO_PW=... stocksync profile add prod --type mongo --target mongodb://stocks@db:27017 --secret-env MONGO_PW`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.shutdown()

		req := profiles.SaveRequest{
			Name:     args[0],
			Owner:    profileOwner,
			SinkType: profileType,
			Target:   profileTarget,
			Database: profileDatabase,
		}
		if profileSecretEnv != "" {
			req.Secret = os.Getenv(profileSecretEnv)
			if req.Secret == "" {
				return fmt.Errorf("environment variable %s is empty", profileSecretEnv)
			}
		}
		profile, err := app.SaveProfile(req)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), profile.ID)
		return nil
	},
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sink profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.shutdown()

		list, err := app.ListProfiles()
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), list)
	},
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a sink profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.shutdown()
		return app.DeleteProfile(args[0])
	},
}

var profileTestCmd = &cobra.Command{
	Use:   "test [name]",
	Short: "Check that a sink profile (or the configured sink) can connect",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.shutdown()

		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		resp := app.TestSink(cmd.Context(), name)
		if !resp.Success {
			exitCode = 1
		}
		return printJSON(cmd.OutOrStdout(), resp)
	},
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show recent runs, or the full result of one run",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.shutdown()

		if len(args) == 1 {
			result, err := app.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		}

		runs, err := app.ListRuns(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), runs)
	},
}

func init() {
	rootCmd.AddCommand(runCmd, scheduleCmd, serveCmd, jobsCmd, profileCmd, historyCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config, or :$PORT)")

	jobsCmd.AddCommand(jobsAddCmd, jobsListCmd, jobsDeleteCmd)
	jobsAddCmd.Flags().StringVar(&jobCron, "cron", "", "cron expression, 5 or 6 fields")
	jobsAddCmd.Flags().StringVar(&jobTimezone, "timezone", "UTC", "IANA timezone the cron expression is evaluated in")
	jobsAddCmd.Flags().StringVar(&jobMode, "mode", orchestrator.ModeFull, "run mode ("+strings.Join(orchestrator.Modes, ", ")+")")
	jobsAddCmd.Flags().BoolVar(&jobDisabled, "disabled", false, "store the job without scheduling it")
	_ = jobsAddCmd.MarkFlagRequired("cron")

	profileCmd.AddCommand(profileAddCmd, profileListCmd, profileDeleteCmd, profileTestCmd)
	profileAddCmd.Flags().StringVar(&profileType, "type", "", "sink type (sqlite, postgres, pgx, rest, mongo, firestore)")
	profileAddCmd.Flags().StringVar(&profileTarget, "target", "", "DSN, base URL or project id without the secret")
	profileAddCmd.Flags().StringVar(&profileDatabase, "database", "", "database name (mongo)")
	profileAddCmd.Flags().StringVar(&profileOwner, "owner", "", "profile owner")
	profileAddCmd.Flags().StringVar(&profileSecretEnv, "secret-env", "", "environment variable holding the secret")
	_ = profileAddCmd.MarkFlagRequired("type")
	_ = profileAddCmd.MarkFlagRequired("target")

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to show")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	mode := orchestrator.ModeFull
	if len(args) == 1 {
		mode = args[0]
	}
	ctx := cmd.Context()

	var result *orchestrator.RunResult
	cfg, err := loadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", zap.Error(err))
		result = failedResult(mode, err)
	} else {
		app := NewApp(cfg)
		if err := app.startup(ctx); err != nil {
			// the run still proceeds, only history and profiles are lost
			logger.Error("Startup failed", zap.Error(err))
		}
		defer app.shutdown()
		result = app.RunMode(ctx, mode, TriggerManual)
	}

	if err := printResult(cmd.OutOrStdout(), result); err != nil {
		return err
	}
	if !result.Success {
		exitCode = 1
	}
	return nil
}

// failedResult builds the result of a run that never reached the pipeline
func failedResult(mode string, err error) *orchestrator.RunResult {
	now := time.Now().UTC()
	return &orchestrator.RunResult{
		RunID:        uuid.New().String(),
		Mode:         mode,
		Errors:       []string{err.Error()},
		FilesCreated: []string{},
		Tasks:        []orchestrator.TaskResult{},
		StartedAt:    now,
		FinishedAt:   now,
	}
}

// printResult writes the result as a single JSON line
func printResult(w io.Writer, result *orchestrator.RunResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode run result: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
