package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Parsh06/Stock-Backend/internal/services/export"
	"github.com/Parsh06/Stock-Backend/internal/services/normalizer"
	"github.com/Parsh06/Stock-Backend/internal/services/orchestrator"
)

type recordingRunner struct {
	modes  []string
	result *orchestrator.RunResult
}

func (r *recordingRunner) Run(ctx context.Context, mode string) *orchestrator.RunResult {
	r.modes = append(r.modes, mode)
	if r.result != nil {
		return r.result
	}
	return &orchestrator.RunResult{RunID: "run-1", Mode: mode, Success: true, TasksCompleted: 3, TotalTasks: 3}
}

func setupTestServer(t *testing.T) (*Server, *recordingRunner, string) {
	t.Helper()
	dir := t.TempDir()
	runner := &recordingRunner{}
	return New(context.Background(), runner, Options{OutputDir: dir}), runner, dir
}

func writeDataset(t *testing.T, dir, file string, rows []normalizer.Record) {
	t.Helper()
	_, err := export.NewWriter(dir).Write(file, "test", &normalizer.RecordSet{Records: rows})
	require.NoError(t, err)
}

func doRequest(t *testing.T, s *Server, method, target string) (int, []byte) {
	t.Helper()
	resp, err := s.App().Test(httptest.NewRequest(method, target, nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestStockNames(t *testing.T) {
	t.Run("Should return distinct names sorted", func(t *testing.T) {
		s, _, dir := setupTestServer(t)
		writeDataset(t, dir, orchestrator.EquityOutput, []normalizer.Record{
			{"Security Name": "Zen Tech"},
			{"Security Name": "ABB India"},
			{"Security Name": "Zen Tech"},
			{"Security Name": "  "},
			{"SecurityName": "Infosys"},
		})

		status, body := doRequest(t, s, fiber.MethodGet, "/backend/stock-name")
		require.Equal(t, fiber.StatusOK, status)

		var resp struct {
			Success bool     `json:"success"`
			Count   int      `json:"count"`
			Data    []string `json:"data"`
		}
		require.NoError(t, json.Unmarshal(body, &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, 3, resp.Count)
		assert.Equal(t, []string{"ABB India", "Infosys", "Zen Tech"}, resp.Data)
	})

	t.Run("Should return an empty list before the first export", func(t *testing.T) {
		s, _, _ := setupTestServer(t)
		status, body := doRequest(t, s, fiber.MethodGet, "/backend/stock-name")
		require.Equal(t, fiber.StatusOK, status)
		assert.Contains(t, string(body), `"data":[]`)
		assert.Contains(t, string(body), `"count":0`)
	})

	t.Run("Should report a corrupt document as a server error", func(t *testing.T) {
		s, _, dir := setupTestServer(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, orchestrator.EquityOutput), []byte("{not json"), 0o644))

		status, body := doRequest(t, s, fiber.MethodGet, "/backend/stock-name")
		assert.Equal(t, fiber.StatusInternalServerError, status)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(body, &resp))
		assert.False(t, resp.Success)
		assert.Equal(t, "internal_server_error", resp.Error)
		assert.Contains(t, resp.Message, "Security.json")
	})
}

func TestIPODatasets(t *testing.T) {
	t.Run("Should serve the mainboard and SME documents", func(t *testing.T) {
		s, _, dir := setupTestServer(t)
		writeDataset(t, dir, "ipo-main.json", []normalizer.Record{{"Company": "Alpha Ltd"}, {"Company": "Beta Ltd"}})
		writeDataset(t, dir, "ipo-sme.json", []normalizer.Record{{"Company": "Gamma SME"}})

		tests := []struct {
			path  string
			count int
			first string
		}{
			{"/backend/ipo-main", 2, "Alpha Ltd"},
			{"/backend/ipo-sme", 1, "Gamma SME"},
		}
		for _, tt := range tests {
			status, body := doRequest(t, s, fiber.MethodGet, tt.path)
			require.Equal(t, fiber.StatusOK, status, tt.path)

			var resp struct {
				Count int              `json:"count"`
				Data  []map[string]any `json:"data"`
			}
			require.NoError(t, json.Unmarshal(body, &resp))
			assert.Equal(t, tt.count, resp.Count, tt.path)
			assert.Equal(t, tt.first, resp.Data[0]["Company"], tt.path)
		}
	})

	t.Run("Should use configured file names", func(t *testing.T) {
		dir := t.TempDir()
		writeDataset(t, dir, "mainboard.json", []normalizer.Record{{"Company": "Alpha Ltd"}})
		s := New(context.Background(), &recordingRunner{}, Options{OutputDir: dir, MainboardFile: "mainboard.json"})

		status, body := doRequest(t, s, fiber.MethodGet, "/backend/ipo-main")
		require.Equal(t, fiber.StatusOK, status)
		assert.Contains(t, string(body), "Alpha Ltd")
	})
}

func TestTriggerRun(t *testing.T) {
	t.Run("Should run the requested mode and return the result", func(t *testing.T) {
		s, runner, _ := setupTestServer(t)

		status, body := doRequest(t, s, fiber.MethodPost, "/backend/scraper?mode=process_ipo")
		require.Equal(t, fiber.StatusOK, status)
		assert.Equal(t, []string{orchestrator.ModeProcessIPO}, runner.modes)

		var resp RunResponse
		require.NoError(t, json.Unmarshal(body, &resp))
		assert.True(t, resp.Success)
		require.NotNil(t, resp.Result)
		assert.Equal(t, "run-1", resp.Result.RunID)
	})

	t.Run("Should default to a full run", func(t *testing.T) {
		s, runner, _ := setupTestServer(t)
		status, _ := doRequest(t, s, fiber.MethodPost, "/backend/scraper")
		require.Equal(t, fiber.StatusOK, status)
		assert.Equal(t, []string{orchestrator.ModeFull}, runner.modes)
	})

	t.Run("Should report a failed run with status 500", func(t *testing.T) {
		s, runner, _ := setupTestServer(t)
		runner.result = &orchestrator.RunResult{RunID: "run-2", Errors: []string{"driver bootstrap: no browser"}}

		status, body := doRequest(t, s, fiber.MethodPost, "/backend/scraper")
		assert.Equal(t, fiber.StatusInternalServerError, status)
		assert.Contains(t, string(body), "driver bootstrap: no browser")
	})

	t.Run("Should reject an unknown mode", func(t *testing.T) {
		s, runner, _ := setupTestServer(t)
		status, body := doRequest(t, s, fiber.MethodPost, "/backend/scraper?mode=everything")
		assert.Equal(t, fiber.StatusBadRequest, status)
		assert.Contains(t, string(body), "invalid mode everything")
		assert.Empty(t, runner.modes)
	})

	t.Run("Should refuse a second run while one is in progress", func(t *testing.T) {
		s, runner, _ := setupTestServer(t)
		s.running.Lock()
		defer s.running.Unlock()

		status, body := doRequest(t, s, fiber.MethodPost, "/backend/scraper")
		assert.Equal(t, fiber.StatusConflict, status)
		assert.Contains(t, string(body), "already in progress")
		assert.Empty(t, runner.modes)
	})

	t.Run("Should not allow GET", func(t *testing.T) {
		s, _, _ := setupTestServer(t)
		status, _ := doRequest(t, s, fiber.MethodGet, "/backend/scraper")
		assert.Equal(t, fiber.StatusMethodNotAllowed, status)
	})
}

func TestHealth(t *testing.T) {
	s, _, _ := setupTestServer(t)
	status, body := doRequest(t, s, fiber.MethodGet, "/backend/health")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, string(body), `"status":"ok"`)
}
