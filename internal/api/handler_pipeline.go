package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"duckflow/internal/domain"
)

// === Pipelines ===

// ListPipelines implements GET /v1/pipelines.
func (h *APIHandler) ListPipelines(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	filter := domain.PipelineFilter{Page: page}
	if v := r.URL.Query().Get("status"); v != "" {
		s := domain.PipelineStatus(v)
		filter.Status = &s
	}

	pipelines, total, err := h.pipelines.ListPipelines(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paginated(pipelines, page, total))
}

// CreatePipeline implements POST /v1/pipelines.
func (h *APIHandler) CreatePipeline(w http.ResponseWriter, r *http.Request) {
	var req domain.CreatePipelineRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.pipelines.CreatePipeline(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// ValidationResult is the body of POST /v1/pipelines/validate.
type ValidationResult struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}

// ValidatePipeline implements POST /v1/pipelines/validate. An invalid
// definition is reported in the body with status 200.
func (h *APIHandler) ValidatePipeline(w http.ResponseWriter, r *http.Request) {
	var req domain.CreatePipelineRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	err := h.pipelines.ValidatePipeline(req)
	var valErr *domain.ValidationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, ValidationResult{Valid: true})
	case errors.As(err, &valErr):
		writeJSON(w, http.StatusOK, ValidationResult{Valid: false, Message: valErr.Message})
	default:
		h.writeError(w, r, err)
	}
}

// GetPipeline implements GET /v1/pipelines/{ref}. ref is an id or a name.
func (h *APIHandler) GetPipeline(w http.ResponseWriter, r *http.Request) {
	p, err := h.pipelines.GetPipeline(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UpdatePipeline implements PATCH /v1/pipelines/{ref}.
func (h *APIHandler) UpdatePipeline(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdatePipelineRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.pipelines.UpdatePipeline(r.Context(), chi.URLParam(r, "ref"), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeletePipeline implements DELETE /v1/pipelines/{ref}.
func (h *APIHandler) DeletePipeline(w http.ResponseWriter, r *http.Request) {
	if err := h.pipelines.DeletePipeline(r.Context(), chi.URLParam(r, "ref")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ActivatePipeline implements POST /v1/pipelines/{ref}/activate.
func (h *APIHandler) ActivatePipeline(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.pipelines.ActivatePipeline)
}

// DeactivatePipeline implements POST /v1/pipelines/{ref}/deactivate.
func (h *APIHandler) DeactivatePipeline(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.pipelines.DeactivatePipeline)
}

func (h *APIHandler) transition(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, ref string) (*domain.Pipeline, error)) {
	p, err := fn(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ExecuteRequest is the optional body of POST /v1/pipelines/{ref}/execute.
type ExecuteRequest struct {
	Parameters map[string]string `json:"parameters,omitempty"`
}

// ExecuteResponse acknowledges a started execution.
type ExecuteResponse struct {
	ExecutionID string                 `json:"execution_id"`
	Status      domain.ExecutionStatus `json:"status"`
}

// ExecutePipeline implements POST /v1/pipelines/{ref}/execute. With
// ?wait=true the response is held until the execution finishes and carries
// the final execution record.
func (h *APIHandler) ExecutePipeline(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := decodeJSON(r, &req, true); err != nil {
		h.writeError(w, r, err)
		return
	}
	wait, err := boolParam(r, "wait")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	handle, err := h.pipelines.ExecutePipeline(r.Context(), chi.URLParam(r, "ref"), req.Parameters)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !wait {
		writeJSON(w, http.StatusAccepted, ExecuteResponse{ExecutionID: handle.ExecutionID, Status: domain.ExecutionPending})
		return
	}

	exec, err := handle.Wait(r.Context())
	if exec == nil {
		// The client went away; the execution keeps running.
		h.logger.InfoContext(r.Context(), "wait abandoned", "execution_id", handle.ExecutionID, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// ListPipelineExecutions implements GET /v1/pipelines/{ref}/executions.
func (h *APIHandler) ListPipelineExecutions(w http.ResponseWriter, r *http.Request) {
	p, err := h.pipelines.GetPipeline(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.listExecutions(w, r, &p.ID)
}

// === Schedule ===

// GetSchedule implements GET /v1/pipelines/{ref}/schedule.
func (h *APIHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	p, err := h.pipelines.GetPipeline(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	job, ok := h.jobs.GetJob(p.ID)
	if !ok {
		h.writeError(w, r, domain.ErrNotFound("pipeline %q has no scheduled job", p.Name))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// EnableSchedule implements POST /v1/pipelines/{ref}/schedule/enable.
func (h *APIHandler) EnableSchedule(w http.ResponseWriter, r *http.Request) {
	h.toggleSchedule(w, r, h.jobs.EnableJob)
}

// DisableSchedule implements POST /v1/pipelines/{ref}/schedule/disable.
func (h *APIHandler) DisableSchedule(w http.ResponseWriter, r *http.Request) {
	h.toggleSchedule(w, r, h.jobs.DisableJob)
}

func (h *APIHandler) toggleSchedule(w http.ResponseWriter, r *http.Request, fn func(pipelineID string) error) {
	p, err := h.pipelines.GetPipeline(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := fn(p.ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	job, _ := h.jobs.GetJob(p.ID)
	writeJSON(w, http.StatusOK, job)
}
