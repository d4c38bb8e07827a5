//go:build integration

package integration

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineHTTP_LifecycleAndExecution(t *testing.T) {
	env := setupHTTPServer(t, false)
	env.writeUpload(t, "sales.csv", salesCSV)

	// Create
	resp := env.doRequest(t, http.MethodPost, "/v1/pipelines", salesPipelineBody("regional-sales"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeJSON(t, resp)
	pipelineID, _ := created["id"].(string)
	require.NotEmpty(t, pipelineID)
	assert.Equal(t, "draft", created["status"])

	// Duplicate names conflict
	resp = env.doRequest(t, http.MethodPost, "/v1/pipelines", salesPipelineBody("regional-sales"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()

	// Lookup by name and by id
	for _, ref := range []string{"regional-sales", pipelineID} {
		resp = env.doRequest(t, http.MethodGet, "/v1/pipelines/"+ref, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		got := decodeJSON(t, resp)
		assert.Equal(t, pipelineID, got["id"])
	}

	// Execute and wait
	resp = env.doRequest(t, http.MethodPost, "/v1/pipelines/regional-sales/execute?wait=true",
		map[string]any{"parameters": map[string]string{"run_date": "2026-03-11"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	exec := decodeJSON(t, resp)
	assert.Equal(t, "completed", exec["status"])
	assert.Equal(t, "api", exec["triggered_by"])
	executionID, _ := exec["id"].(string)
	require.NotEmpty(t, executionID)

	out := filepath.Join(env.OutputDir, "2026-03-11", "by_region.csv")
	data, err := os.ReadFile(out) //nolint:gosec
	require.NoError(t, err)
	assert.Contains(t, string(data), "US")
	assert.NotContains(t, string(data), "APAC", "rows at or below the threshold are filtered")

	// Per-step results, logs and progress
	resp = env.doRequest(t, http.MethodGet, "/v1/executions/"+executionID+"/steps", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	steps, _ := decodeJSON(t, resp)["data"].([]any)
	assert.Len(t, steps, 4)

	resp = env.doRequest(t, http.MethodGet, "/v1/executions/"+executionID+"/logs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	logs, _ := decodeJSON(t, resp)["data"].([]any)
	assert.NotEmpty(t, logs)

	resp = env.doRequest(t, http.MethodGet, "/v1/executions/"+executionID+"/progress", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	progress := decodeJSON(t, resp)
	assert.InDelta(t, 100.0, progress["progress_percentage"], 0.001)

	// History and statistics
	resp = env.doRequest(t, http.MethodGet, "/v1/pipelines/regional-sales/executions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decodeJSON(t, resp)
	assert.InDelta(t, 1, history["total"], 0)

	resp = env.doRequest(t, http.MethodGet, "/v1/statistics?pipeline_id="+pipelineID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decodeJSON(t, resp)
	assert.InDelta(t, 1, stats["total_executions"], 0)
	assert.InDelta(t, 100.0, stats["success_rate"], 0.001)

	// Delete
	resp = env.doRequest(t, http.MethodDelete, "/v1/pipelines/regional-sales", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()

	resp = env.doRequest(t, http.MethodGet, "/v1/pipelines/regional-sales", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestPipelineHTTP_FailedExecution(t *testing.T) {
	env := setupHTTPServer(t, false)

	body := salesPipelineBody("missing-source")
	steps := body["steps"].([]map[string]any)
	steps[0]["retry_on_failure"] = false

	resp := env.doRequest(t, http.MethodPost, "/v1/pipelines", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	resp = env.doRequest(t, http.MethodPost, "/v1/pipelines/missing-source/execute?wait=true", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	exec := decodeJSON(t, resp)
	assert.Equal(t, "failed", exec["status"])
	assert.Contains(t, exec["error_message"], "source file not found")

	resp = env.doRequest(t, http.MethodGet, "/v1/executions?status=failed", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 1, decodeJSON(t, resp)["total"], 0)
}

func TestPipelineHTTP_ScheduledRun(t *testing.T) {
	env := setupHTTPServer(t, true)
	env.writeUpload(t, "sales.csv", salesCSV)

	body := salesPipelineBody("scheduled-sales")
	steps := body["steps"].([]map[string]any)
	steps[3]["save"] = map[string]any{"output_path": "scheduled/by_region.parquet", "format": "parquet"}
	body["schedule"] = map[string]any{
		"type":       "once",
		"start_time": time.Now().UTC().Add(time.Second).Format(time.RFC3339),
	}

	resp := env.doRequest(t, http.MethodPost, "/v1/pipelines", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	resp = env.doRequest(t, http.MethodPost, "/v1/pipelines/scheduled-sales/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "active", decodeJSON(t, resp)["status"])

	resp = env.doRequest(t, http.MethodGet, "/v1/pipelines/scheduled-sales/schedule", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	job := decodeJSON(t, resp)
	assert.NotEmpty(t, job["next_run"])

	require.Eventually(t, func() bool {
		resp := env.doRequest(t, http.MethodGet, "/v1/pipelines/scheduled-sales/executions?status=completed", nil)
		defer resp.Body.Close() //nolint:errcheck
		if resp.StatusCode != http.StatusOK {
			return false
		}
		page := decodeJSON(t, resp)
		items, _ := page["data"].([]any)
		if len(items) == 0 {
			return false
		}
		first, _ := items[0].(map[string]any)
		return first["triggered_by"] == "scheduler"
	}, 15*time.Second, 100*time.Millisecond)

	assert.FileExists(t, filepath.Join(env.OutputDir, "scheduled", "by_region.parquet"))
}

func TestPipelineHTTP_RequiresToken(t *testing.T) {
	env := setupHTTPServer(t, false)

	resp, err := http.Get(env.Server.URL + "/v1/pipelines")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(env.Server.URL + "/readyz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
