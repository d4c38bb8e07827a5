package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"duckflow/internal/domain"
	"duckflow/internal/storage"
)

// === Executions ===

// ListExecutions implements GET /v1/executions.
func (h *APIHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	h.listExecutions(w, r, optString(r.URL.Query().Get("pipeline_id")))
}

func (h *APIHandler) listExecutions(w http.ResponseWriter, r *http.Request, pipelineID *string) {
	page, err := pageFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status, err := executionStatusParam(r.URL.Query().Get("status"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	execs, total, err := h.pipelines.ListExecutions(r.Context(), domain.ExecutionFilter{
		PipelineID: pipelineID,
		Status:     status,
		Page:       page,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paginated(execs, page, total))
}

// RunningExecutions implements GET /v1/executions/running.
func (h *APIHandler) RunningExecutions(w http.ResponseWriter, _ *http.Request) {
	ids := h.pipelines.RunningExecutions()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": ids})
}

// GetExecution implements GET /v1/executions/{id}.
func (h *APIHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := h.pipelines.GetExecution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// CancelExecution implements POST /v1/executions/{id}/cancel. Cancellation
// is asynchronous; poll the execution for its final status.
func (h *APIHandler) CancelExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.pipelines.CancelExecution(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"execution_id": id, "cancelled": true})
}

// GetExecutionSteps implements GET /v1/executions/{id}/steps.
func (h *APIHandler) GetExecutionSteps(w http.ResponseWriter, r *http.Request) {
	exec, err := h.pipelines.GetExecution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": exec.Steps})
}

// GetExecutionLogs implements GET /v1/executions/{id}/logs.
func (h *APIHandler) GetExecutionLogs(w http.ResponseWriter, r *http.Request) {
	exec, err := h.pipelines.GetExecution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": exec.Logs})
}

// OutputFile is one file written by a save step.
type OutputFile struct {
	Path        string `json:"path"`
	DownloadURL string `json:"download_url,omitempty"`
}

const downloadURLExpiry = 15 * time.Minute

// GetExecutionOutputs implements GET /v1/executions/{id}/outputs. s3://
// outputs carry a short-lived download URL when object storage is set up.
func (h *APIHandler) GetExecutionOutputs(w http.ResponseWriter, r *http.Request) {
	exec, err := h.pipelines.GetExecution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	files := make([]OutputFile, len(exec.OutputFiles))
	for i, path := range exec.OutputFiles {
		files[i] = OutputFile{Path: path}
		if h.presigner == nil || !storage.IsS3Path(path) {
			continue
		}
		url, err := h.presigner.PresignGetObject(r.Context(), path, downloadURLExpiry)
		if err != nil {
			h.logger.WarnContext(r.Context(), "presign output", "path", path, "error", err)
			continue
		}
		files[i].DownloadURL = url
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": files})
}

// GetExecutionProgress implements GET /v1/executions/{id}/progress.
func (h *APIHandler) GetExecutionProgress(w http.ResponseWriter, r *http.Request) {
	prog, err := h.pipelines.ExecutionProgress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prog)
}

// === Scheduler and statistics ===

// ListJobs implements GET /v1/scheduler/jobs.
func (h *APIHandler) ListJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": h.jobs.ListJobs()})
}

// Statistics implements GET /v1/statistics.
func (h *APIHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.pipelines.Statistics(r.Context(), optString(r.URL.Query().Get("pipeline_id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
