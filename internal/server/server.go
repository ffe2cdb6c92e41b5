// Package server serves the exported datasets over HTTP and lets clients
// trigger a pipeline run.
package server

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/utils"
	"go.uber.org/zap"

	"github.com/Parsh06/Stock-Backend/internal/logger"
	"github.com/Parsh06/Stock-Backend/internal/services/export"
	"github.com/Parsh06/Stock-Backend/internal/services/normalizer"
	"github.com/Parsh06/Stock-Backend/internal/services/orchestrator"
)

const (
	defaultMainboardFile = "ipo-main.json"
	defaultSMEFile       = "ipo-sme.json"
	defaultRunTimeout    = 10 * time.Minute
	shutdownTimeout      = 10 * time.Second
)

// securityNameKeys are tried in order on each Security.json row
var securityNameKeys = []string{normalizer.SecurityNameColumn, "SecurityName", "securityName"}

// Runner starts one pipeline run in the given mode
type Runner interface {
	Run(ctx context.Context, mode string) *orchestrator.RunResult
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context, mode string) *orchestrator.RunResult

func (f RunnerFunc) Run(ctx context.Context, mode string) *orchestrator.RunResult {
	return f(ctx, mode)
}

// Options configures a Server
type Options struct {
	OutputDir     string
	SecurityFile  string // default Security.json
	MainboardFile string // default ipo-main.json
	SMEFile       string // default ipo-sme.json
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	RunTimeout    time.Duration
}

// ListResponse wraps every dataset response
type ListResponse struct {
	Success   bool   `json:"success"`
	Count     int    `json:"count"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

// RunResponse reports a run triggered over HTTP
type RunResponse struct {
	Success   bool                    `json:"success"`
	Duration  string                  `json:"duration"`
	Result    *orchestrator.RunResult `json:"result"`
	Timestamp string                  `json:"timestamp"`
}

// ErrorResponse is returned for every failed request
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Server is the HTTP read API
type Server struct {
	app     *fiber.App
	opts    Options
	runner  Runner
	ctx     context.Context
	running sync.Mutex // held while a triggered run is in progress
	now     func() time.Time
}

// New creates a server. Runs triggered over HTTP derive from ctx, so they
// are cancelled with the process rather than with the request.
func New(ctx context.Context, runner Runner, opts Options) *Server {
	if opts.SecurityFile == "" {
		opts.SecurityFile = orchestrator.EquityOutput
	}
	if opts.MainboardFile == "" {
		opts.MainboardFile = defaultMainboardFile
	}
	if opts.SMEFile == "" {
		opts.SMEFile = defaultSMEFile
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = defaultRunTimeout
	}

	s := &Server{
		opts:   opts,
		runner: runner,
		ctx:    ctx,
		now:    time.Now,
	}
	s.app = fiber.New(fiber.Config{
		AppName:               "stocksync",
		ReadTimeout:           opts.ReadTimeout,
		WriteTimeout:          opts.WriteTimeout,
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})
	s.app.Use(fiberrecover.New())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.app.Group("/backend")
	api.Get("/health", s.health)
	api.Get("/stock-name", s.stockNames)
	api.Get("/ipo-main", s.dataset(func() string { return s.opts.MainboardFile }))
	api.Get("/ipo-sme", s.dataset(func() string { return s.opts.SMEFile }))
	api.Post("/scraper", s.triggerRun)
}

// App exposes the fiber app, mainly for tests
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until ctx is done, then shuts down gracefully
func (s *Server) Listen(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(addr)
	}()
	logger.Info("API listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("Shutting down API")
		return s.app.ShutdownWithTimeout(shutdownTimeout)
	}
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "timestamp": s.timestamp()})
}

func (s *Server) stockNames(c *fiber.Ctx) error {
	doc, err := s.read(s.opts.SecurityFile)
	if err != nil {
		return err
	}
	names := DistinctNames(doc)
	logger.Debug("Security names requested", zap.Int("count", len(names)))
	return c.JSON(ListResponse{Success: true, Count: len(names), Data: names, Timestamp: s.timestamp()})
}

func (s *Server) dataset(file func() string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		doc, err := s.read(file())
		if err != nil {
			return err
		}
		data := []map[string]any{}
		if doc != nil && doc.Data != nil {
			data = doc.Data
		}
		return c.JSON(ListResponse{Success: true, Count: len(data), Data: data, Timestamp: s.timestamp()})
	}
}

func (s *Server) triggerRun(c *fiber.Ctx) error {
	mode := c.Query("mode", orchestrator.ModeFull)
	if !slices.Contains(orchestrator.Modes, mode) {
		return fiber.NewError(fiber.StatusBadRequest, "invalid mode "+mode+" (valid: "+strings.Join(orchestrator.Modes, ", ")+")")
	}
	if !s.running.TryLock() {
		return fiber.NewError(fiber.StatusConflict, "a run is already in progress")
	}
	defer s.running.Unlock()

	logger.Info("Run requested over HTTP", zap.String("mode", mode), zap.String("remote", c.IP()))
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.RunTimeout)
	defer cancel()

	start := s.now()
	result := s.runner.Run(ctx, mode)
	status := fiber.StatusOK
	if !result.Success {
		status = fiber.StatusInternalServerError
	}
	return c.Status(status).JSON(RunResponse{
		Success:   result.Success,
		Duration:  s.now().Sub(start).Round(time.Millisecond).String(),
		Result:    result,
		Timestamp: s.timestamp(),
	})
}

// read loads an exported document. A missing file yields nil and no error.
func (s *Server) read(file string) (*export.Document, error) {
	doc, err := export.Read(filepath.Join(s.opts.OutputDir, file))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		logger.Error("Failed to read dataset", zap.String("file", file), zap.Error(err))
		return nil, fiber.NewError(fiber.StatusInternalServerError, "failed to read "+file)
	}
	return doc, nil
}

// DistinctNames returns the distinct non-blank security names of doc, sorted
func DistinctNames(doc *export.Document) []string {
	names := []string{}
	if doc == nil {
		return names
	}
	seen := make(map[string]struct{}, len(doc.Data))
	for _, row := range doc.Data {
		name := securityName(row)
		if strings.TrimSpace(name) == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func securityName(row map[string]any) string {
	for _, key := range securityNameKeys {
		if v, ok := row[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(ErrorResponse{
		Success:   false,
		Error:     strings.ToLower(strings.ReplaceAll(utils.StatusMessage(code), " ", "_")),
		Message:   err.Error(),
		Timestamp: s.timestamp(),
	})
}

func (s *Server) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}
