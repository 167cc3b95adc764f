package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/harrier/internal/detect"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/enforcement"
	"github.com/opensource-finance/harrier/internal/validation"
	"github.com/opensource-finance/harrier/internal/velocity"
)

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 1 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	deps Dependencies
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies) *Handler {
	return &Handler{deps: deps}
}

type errorBody struct {
	Error  string                  `json:"error"`
	Code   string                  `json:"code,omitempty"`
	Fields []validation.FieldError `json:"fields,omitempty"`
}

// CheckRequest is the request body for POST /v1/enforcement/check.
type CheckRequest struct {
	UserID  string          `json:"userId" validate:"required"`
	Feature *domain.Feature `json:"feature" validate:"required"`
	Action  domain.Action   `json:"action,omitempty"`
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": h.deps.Version,
	})
}

// Ready reports whether the store and bus can take traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	ready := true

	if h.deps.Repo != nil {
		checks["repository"] = "ok"
		if err := h.deps.Repo.Ping(r.Context()); err != nil {
			slog.Warn("readiness check failed", "component", "repository", "error", err)
			checks["repository"] = "unavailable"
			ready = false
		}
	}
	if h.deps.Bus != nil {
		checks["eventbus"] = "ok"
		if err := h.deps.Bus.Ping(r.Context()); err != nil {
			slog.Warn("readiness check failed", "component", "eventbus", "error", err)
			checks["eventbus"] = "unavailable"
			ready = false
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ready":  ready,
		"checks": checks,
	})
}

// CheckFeature handles POST /v1/enforcement/check.
func (h *Handler) CheckFeature(w http.ResponseWriter, r *http.Request) {
	if h.deps.Gate == nil {
		writeError(w, r, fmt.Errorf("%w: enforcement gate not configured", domain.ErrUnavailable))
		return
	}

	var req CheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	d, err := h.deps.Gate.Check(r.Context(), req.UserID, *req.Feature, req.Action)
	if err != nil {
		writeError(w, r, err)
		return
	}
	d.Localize(r.Header.Get("Accept-Language"))

	writeJSON(w, decisionStatus(w, d), d)
}

func decisionStatus(w http.ResponseWriter, d *enforcement.Decision) int {
	switch err := d.Err(); {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, domain.ErrVelocityExceeded):
		if d.RetryAfterSeconds > 0 {
			w.Header().Set("Retry-After", strconv.FormatInt(d.RetryAfterSeconds, 10))
		}
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusForbidden
	}
}

// GetTier handles GET /v1/users/{id}/tier.
func (h *Handler) GetTier(w http.ResponseWriter, r *http.Request) {
	if h.deps.Gate == nil {
		writeError(w, r, fmt.Errorf("%w: enforcement gate not configured", domain.ErrUnavailable))
		return
	}

	userID := chi.URLParam(r, "id")
	t, err := h.deps.Gate.Tier(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId": userID,
		"tier":   t,
	})
}

// PeekRequest is the request body for POST /v1/velocity/peek.
type PeekRequest struct {
	UserID string        `json:"userId" validate:"required"`
	Action domain.Action `json:"action" validate:"required"`
}

// PeekVelocity handles POST /v1/velocity/peek. Nothing is recorded.
func (h *Handler) PeekVelocity(w http.ResponseWriter, r *http.Request) {
	if h.deps.Velocity == nil {
		writeError(w, r, fmt.Errorf("%w: velocity service not configured", domain.ErrUnavailable))
		return
	}

	var req PeekRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.deps.Velocity.Peek(r.Context(), req.UserID, req.Action)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrUnavailable, err))
		return
	}
	if res.Response == velocity.ResponseBlock && res.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(res.RetryAfterSeconds, 10))
	}
	writeJSON(w, http.StatusOK, res)
}

// CheckRegistration handles POST /v1/registrations/check.
func (h *Handler) CheckRegistration(w http.ResponseWriter, r *http.Request) {
	if h.deps.Registrations == nil {
		writeError(w, r, fmt.Errorf("%w: registration checker not configured", domain.ErrUnavailable))
		return
	}

	var req detect.RegistrationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.deps.Registrations.Check(r.Context(), &req)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrUnavailable, err))
		return
	}

	slog.Info("registration checked",
		"email", detect.MaskEmail(req.Email),
		"decision", res.Decision,
		"score", res.Score,
		"trace_id", GetTraceID(r.Context()),
	)
	writeJSON(w, http.StatusOK, res)
}

// decodeJSON reads a bounded JSON body into v and validates its tags.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is required", domain.ErrValidation)
		}
		return fmt.Errorf("%w: invalid request body: %v", domain.ErrValidation, err)
	}
	return validation.Struct(v)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// writeError maps the domain error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Error: err.Error()}
	var status int

	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
		body.Code = "VALIDATION_FAILED"
		var verr *validation.Error
		if errors.As(err, &verr) {
			body.Fields = verr.Fields
		}
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		body.Code = "NOT_FOUND"
	case errors.Is(err, domain.ErrStateConflict):
		status = http.StatusConflict
		body.Code = "STATE_CONFLICT"
	case errors.Is(err, domain.ErrUnavailable):
		status = http.StatusServiceUnavailable
		body.Code = "SERVICE_UNAVAILABLE"
	default:
		status = http.StatusInternalServerError
		body = errorBody{Error: "internal server error", Code: "INTERNAL"}
	}

	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"trace_id", GetTraceID(r.Context()),
			"error", err,
		)
	}
	writeJSON(w, status, body)
}
