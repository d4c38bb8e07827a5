//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"duckflow/internal/app"
	"duckflow/internal/config"
	"duckflow/internal/db"
	"duckflow/internal/stepexec"
)

// httpEnv is a fully wired duckflow server backed by SQLite and an
// in-memory DuckDB, plus the directories it reads from and writes to.
type httpEnv struct {
	Server    *httptest.Server
	App       *app.App
	UploadDir string
	OutputDir string
	Token     string
}

// setupHTTPServer wires the application the same way cmd/server does and
// serves its router. The scheduler is started when withScheduler is set.
func setupHTTPServer(t *testing.T, withScheduler bool) *httpEnv {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	dir := t.TempDir()
	cfg := &config.Config{
		UploadDirectory: filepath.Join(dir, "uploads"),
		OutputDirectory: filepath.Join(dir, "outputs"),
		JWTSecret:       "integration-secret",
		RateLimitRPS:    1000,
		RateLimitBurst:  1000,
		Engine: config.EngineConfig{
			MaxConcurrentExecutions: 4,
			CronMode:                config.DefaultCronMode,
			SchedulerCheckInterval:  100 * time.Millisecond,
		},
	}

	duckDB, err := stepexec.OpenDuckDB(ctx, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = duckDB.Close() })

	a, err := app.New(ctx, app.Deps{
		Cfg:    cfg,
		DuckDB: duckDB,
		DB:     db.OpenTestSQLite(t),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	if withScheduler {
		require.NoError(t, a.Start(ctx))
	}
	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = a.Shutdown(shutdownCtx)
	})

	srv := httptest.NewServer(a.Router(ctx))
	t.Cleanup(srv.Close)

	token, err := a.Auth.Issue("integration", time.Hour)
	require.NoError(t, err)

	return &httpEnv{
		Server:    srv,
		App:       a,
		UploadDir: cfg.UploadDirectory,
		OutputDir: cfg.OutputDirectory,
		Token:     token,
	}
}

// writeUpload places a file under the server's upload directory.
func (e *httpEnv) writeUpload(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(e.UploadDir, name), []byte(content), 0o600))
}

// doRequest sends an authenticated JSON request and returns the response.
func (e *httpEnv) doRequest(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, e.Server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+e.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// decodeJSON decodes the response body into a map and closes it.
func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close() //nolint:errcheck

	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

// salesCSV is the upload used by most pipelines in this package.
const salesCSV = "id,region,amount\n1,EU,10\n2,US,20\n3,EU,5\n4,APAC,7\n"

// salesPipelineBody is a load -> filter -> aggregate -> save pipeline.
func salesPipelineBody(name string) map[string]any {
	return map[string]any{
		"name":        name,
		"description": "regional sales totals",
		"steps": []map[string]any{
			{"name": "load", "type": "load", "load": map[string]any{"source_path": "sales.csv", "format": "csv"}},
			{"name": "big-orders", "type": "filter", "filter": map[string]any{
				"conditions": []map[string]any{{"type": "greater_than", "column": "amount", "value": 8}},
			}},
			{"name": "by-region", "type": "aggregate", "aggregate": map[string]any{
				"group_by": []string{"region"}, "aggregations": map[string]string{"amount": "sum"},
			}},
			{"name": "save", "type": "save", "save": map[string]any{"output_path": "${run_date}/by_region.csv", "format": "csv"}},
		},
	}
}
