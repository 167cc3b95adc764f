package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/escalation"
)

const (
	defaultTicketLimit = 50
	maxTicketLimit     = 500
	defaultEventWindow = 30 * 24 * time.Hour
)

// ListTickets handles GET /v1/admin/tickets?status=OPEN&limit=50.
func (h *Handler) ListTickets(w http.ResponseWriter, r *http.Request) {
	status := domain.TicketStatus(r.URL.Query().Get("status"))
	switch status {
	case "", domain.TicketOpen, domain.TicketInReview, domain.TicketResolved:
	default:
		writeError(w, r, fmt.Errorf("%w: unknown ticket status %q", domain.ErrValidation, status))
		return
	}

	limit := defaultTicketLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, fmt.Errorf("%w: limit must be a positive integer", domain.ErrValidation))
			return
		}
		limit = min(n, maxTicketLimit)
	}

	tickets, err := h.deps.Repo.ListTickets(r.Context(), status, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tickets": tickets,
		"count":   len(tickets),
	})
}

// GetTicket handles GET /v1/admin/tickets/{id}.
func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.deps.Repo.GetTicket(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// ClaimTicket handles POST /v1/admin/tickets/{id}/claim.
func (h *Handler) ClaimTicket(w http.ResponseWriter, r *http.Request) {
	if !h.escalationReady(w, r) {
		return
	}
	ticket, err := h.deps.Escalation.Claim(r.Context(), chi.URLParam(r, "id"), GetAdminID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// OverrideTicket handles POST /v1/admin/tickets/{id}/override. The calling
// admin becomes the second approver for a recycled false positive.
func (h *Handler) OverrideTicket(w http.ResponseWriter, r *http.Request) {
	if !h.escalationReady(w, r) {
		return
	}
	ticket, err := h.deps.Escalation.RecordOverride(r.Context(), chi.URLParam(r, "id"), GetAdminID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// ResolveTicket handles POST /v1/admin/tickets/{id}/resolve.
func (h *Handler) ResolveTicket(w http.ResponseWriter, r *http.Request) {
	if !h.escalationReady(w, r) {
		return
	}

	var req escalation.ResolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.TicketID = chi.URLParam(r, "id")
	req.AdminID = GetAdminID(r.Context())

	ticket, err := h.deps.Escalation.Resolve(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// WhitelistRequest grants a temporary GREEN override.
type WhitelistRequest struct {
	// DurationHours of zero uses the configured default.
	DurationHours int    `json:"durationHours" validate:"gte=0,lte=2160"`
	Reason        string `json:"reason" validate:"required,max=512"`
}

// WhitelistUser handles POST /v1/admin/users/{id}/whitelist.
func (h *Handler) WhitelistUser(w http.ResponseWriter, r *http.Request) {
	if !h.escalationReady(w, r) {
		return
	}

	var req WhitelistRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	profile, err := h.deps.Escalation.Whitelist(r.Context(),
		chi.URLParam(r, "id"),
		GetAdminID(r.Context()),
		time.Duration(req.DurationHours)*time.Hour,
		req.Reason,
	)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// GetProfile handles GET /v1/admin/users/{id}/profile.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.deps.Repo.GetProfile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// ListEvents handles GET /v1/admin/users/{id}/events?type=&since=RFC3339.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	since := time.Now().UTC().Add(-defaultEventWindow)
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: since must be RFC3339", domain.ErrValidation))
			return
		}
		since = t
	}

	events, err := h.deps.Repo.ListEvents(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("type"), since)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

func (h *Handler) escalationReady(w http.ResponseWriter, r *http.Request) bool {
	if h.deps.Escalation == nil {
		writeError(w, r, fmt.Errorf("%w: escalation service not configured", domain.ErrUnavailable))
		return false
	}
	return true
}
