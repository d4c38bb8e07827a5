package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"duckflow/internal/domain"
)

const maxBodyBytes = 1 << 20

// Error is the JSON body of every non-2xx response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Paginated wraps one page of a list response.
type Paginated[T any] struct {
	Data          []T    `json:"data"`
	Total         int64  `json:"total"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes err with the status its domain type maps to. Internal
// errors are logged and hidden from the client.
func (h *APIHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := httpStatusFromDomainError(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeJSON(w, code, Error{Code: code, Message: msg})
}

// decodeJSON reads a JSON body into dst, rejecting unknown fields. An empty
// body leaves dst untouched when allowEmpty is set.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return domain.ErrValidation("invalid request body: %v", err)
	}
	return nil
}

// pageFromQuery extracts a PageRequest from max_results/page_token.
func pageFromQuery(r *http.Request) (domain.PageRequest, error) {
	q := r.URL.Query()
	p := domain.PageRequest{PageToken: q.Get("page_token")}
	if v := q.Get("max_results"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, domain.ErrValidation("max_results must be a non-negative integer")
		}
		p.MaxResults = n
	}
	return p, nil
}

func paginated[T any](data []T, page domain.PageRequest, total int64) Paginated[T] {
	if data == nil {
		data = []T{}
	}
	return Paginated[T]{
		Data:          data,
		Total:         total,
		NextPageToken: domain.NextPageToken(page.Offset(), page.Limit(), total),
	}
}

// executionStatusParam parses an optional status filter.
func executionStatusParam(v string) (*domain.ExecutionStatus, error) {
	if v == "" {
		return nil, nil
	}
	s := domain.ExecutionStatus(v)
	switch s {
	case domain.ExecutionPending, domain.ExecutionRunning, domain.ExecutionCompleted,
		domain.ExecutionFailed, domain.ExecutionCancelled:
		return &s, nil
	}
	return nil, domain.ErrValidation("unknown execution status %q", v)
}

func optString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func boolParam(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, domain.ErrValidation("%s must be a boolean", name)
	}
	return b, nil
}
