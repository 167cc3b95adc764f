package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/harrier/internal/detect"
	"github.com/opensource-finance/harrier/internal/domain"
)

// reportableEvents are the risk event types the marketplace may push, with
// the severity each is stored at.
var reportableEvents = map[string]domain.Severity{
	domain.EventUserReported:       domain.SeverityMedium,
	domain.EventInsufficientTokens: domain.SeverityLow,
	domain.EventBehavioralAnomaly:  domain.SeverityMedium,
}

// FingerprintRequest records a device sighting. An empty IP uses the caller's.
type FingerprintRequest struct {
	UserID      string `json:"userId" validate:"required"`
	Fingerprint string `json:"fingerprint" validate:"required,max=256"`
	IPAddress   string `json:"ipAddress,omitempty" validate:"omitempty,ip"`
	UserAgent   string `json:"userAgent,omitempty" validate:"max=1024"`
}

// RecordFingerprint handles POST /v1/fingerprints.
func (h *Handler) RecordFingerprint(w http.ResponseWriter, r *http.Request) {
	var req FingerprintRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.IPAddress == "" {
		req.IPAddress = clientIP(r)
	}
	if req.UserAgent == "" {
		req.UserAgent = r.UserAgent()
	}

	recorded, err := h.deps.Repo.RecordFingerprint(r.Context(), &domain.Fingerprint{
		UserID:      req.UserID,
		Fingerprint: req.Fingerprint,
		IPAddress:   req.IPAddress,
		UserAgent:   req.UserAgent,
	}, detect.FingerprintDedupe)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if recorded {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]bool{"recorded": recorded})
}

// AccountRequest carries the marketplace-owned account fields.
type AccountRequest struct {
	Email            string     `json:"email" validate:"omitempty,email"`
	Phone            string     `json:"phone,omitempty" validate:"omitempty,e164"`
	PhoneVerified    bool       `json:"phoneVerified"`
	Role             string     `json:"role" validate:"required"`
	IdentityVerified bool       `json:"identityVerified"`
	CompletedTrips   int        `json:"completedTrips" validate:"gte=0"`
	AvgRating        float64    `json:"avgRating" validate:"gte=0,lte=5"`
	ReviewsGiven     int        `json:"reviewsGiven" validate:"gte=0"`
	ReviewsRemoved   int        `json:"reviewsRemoved" validate:"gte=0"`
	CreatedAt        *time.Time `json:"createdAt,omitempty"`
}

// UpsertAccount handles PUT /v1/accounts/{id}.
func (h *Handler) UpsertAccount(w http.ResponseWriter, r *http.Request) {
	var req AccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Role == domain.RoleSuspended {
		writeError(w, r, fmt.Errorf("%w: role %s is managed by the risk engine", domain.ErrValidation, domain.RoleSuspended))
		return
	}

	acct := &domain.Account{
		UserID:           chi.URLParam(r, "id"),
		Email:            req.Email,
		Phone:            req.Phone,
		PhoneVerified:    req.PhoneVerified,
		Role:             req.Role,
		IdentityVerified: req.IdentityVerified,
		CompletedTrips:   req.CompletedTrips,
		AvgRating:        req.AvgRating,
		ReviewsGiven:     req.ReviewsGiven,
		ReviewsRemoved:   req.ReviewsRemoved,
	}
	if req.CreatedAt != nil {
		acct.CreatedAt = req.CreatedAt.UTC()
	}

	if err := h.deps.Repo.UpsertAccount(r.Context(), acct); err != nil {
		writeError(w, r, err)
		return
	}
	stored, err := h.deps.Repo.GetAccount(r.Context(), acct.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

// LedgerRequest is one token ledger movement.
type LedgerRequest struct {
	ID          string     `json:"id,omitempty"`
	UserID      string     `json:"userId" validate:"required"`
	EntryType   string     `json:"entryType" validate:"required,oneof=CONSUME REFUND PURCHASE"`
	ReasonCode  string     `json:"reasonCode,omitempty"`
	ReferenceID string     `json:"referenceId,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
}

// AppendLedger handles POST /v1/ledger.
func (h *Handler) AppendLedger(w http.ResponseWriter, r *http.Request) {
	var req LedgerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	entry := &domain.LedgerEntry{
		ID:          req.ID,
		UserID:      req.UserID,
		EntryType:   req.EntryType,
		ReasonCode:  req.ReasonCode,
		ReferenceID: req.ReferenceID,
	}
	if req.CreatedAt != nil {
		entry.CreatedAt = req.CreatedAt.UTC()
	}

	if err := h.deps.Repo.AppendLedger(r.Context(), entry); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// ObservationInput is one client-measured signal value.
type ObservationInput struct {
	SignalID string  `json:"signalId" validate:"required"`
	Value    float64 `json:"value" validate:"gte=0"`
}

// ObservationsRequest batches observations for one user.
type ObservationsRequest struct {
	Observations []ObservationInput `json:"observations" validate:"required,min=1,max=50,dive"`
}

// RecordObservations handles POST /v1/users/{id}/observations.
func (h *Handler) RecordObservations(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	var req ObservationsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if h.deps.Catalog != nil {
		for _, o := range req.Observations {
			def, ok := h.deps.Catalog.Lookup(o.SignalID)
			if !ok {
				writeError(w, r, fmt.Errorf("%w: unknown signal %q", domain.ErrValidation, o.SignalID))
				return
			}
			if def.Expr != "" {
				writeError(w, r, fmt.Errorf("%w: signal %q is computed server-side", domain.ErrValidation, o.SignalID))
				return
			}
		}
	}

	now := time.Now().UTC()
	for _, o := range req.Observations {
		if err := h.deps.Repo.SaveObservation(r.Context(), &domain.Observation{
			UserID:     userID,
			SignalID:   o.SignalID,
			Value:      o.Value,
			ObservedAt: now,
		}); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(req.Observations)})
}

// EventRequest is a marketplace-reported risk event.
type EventRequest struct {
	EventType string         `json:"eventType" validate:"required"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ReportEvent handles POST /v1/users/{id}/events.
func (h *Handler) ReportEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	severity, ok := reportableEvents[req.EventType]
	if !ok {
		writeError(w, r, fmt.Errorf("%w: event type %q cannot be reported", domain.ErrValidation, req.EventType))
		return
	}
	if req.EventType == domain.EventUserReported {
		if id, _ := req.Metadata["reporterId"].(string); id == "" {
			writeError(w, r, fmt.Errorf("%w: metadata.reporterId is required", domain.ErrValidation))
			return
		}
	}

	e := &domain.RiskEvent{
		UserID:   chi.URLParam(r, "id"),
		Type:     req.EventType,
		Severity: severity,
		Metadata: req.Metadata,
	}
	if err := h.deps.Repo.AppendEvent(r.Context(), e); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// ScoreRequestBody optionally explains why a rescore is wanted.
type ScoreRequestBody struct {
	Reason string `json:"reason,omitempty" validate:"max=256"`
}

// RequestScore handles POST /v1/users/{id}/score. Scoring runs on the worker.
func (h *Handler) RequestScore(w http.ResponseWriter, r *http.Request) {
	if h.deps.Bus == nil {
		writeError(w, r, fmt.Errorf("%w: event bus not configured", domain.ErrUnavailable))
		return
	}

	var body ScoreRequestBody
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &body); err != nil {
			writeError(w, r, err)
			return
		}
	}

	req := domain.ScoreRequest{UserID: chi.URLParam(r, "id"), Reason: body.Reason}
	if req.Reason == "" {
		req.Reason = "api"
	}
	payload, err := json.Marshal(req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.deps.Bus.Publish(r.Context(), domain.TopicScoreRequested, payload); err != nil {
		writeError(w, r, fmt.Errorf("%w: publish score request: %v", domain.ErrUnavailable, err))
		return
	}

	slog.Debug("score requested",
		"user_id", req.UserID,
		"reason", req.Reason,
		"trace_id", GetTraceID(r.Context()),
	)
	writeJSON(w, http.StatusAccepted, req)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
