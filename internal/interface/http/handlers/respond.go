// Package handlers contains the HTTP handlers of the league API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/studyhub/league-core/internal/domain/competition"
	"github.com/studyhub/league-core/internal/domain/restriction"
	"github.com/studyhub/league-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSES
// ══════════════════════════════════════════════════════════════════════════════

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string     `json:"error"`
	Message   string     `json:"message,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// maxBodyBytes bounds request bodies; an activity batch is the largest.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// decodeJSON reads a bounded JSON body into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return shared.NewDomainError("http", "Decode", shared.ErrInvalidInput, "request body is empty")
		}
		return shared.WrapError("http", "Decode", shared.ErrInvalidInput, "malformed JSON body", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// RejectionObserver counts refused joins by reason.
type RejectionObserver interface {
	JoinRejected(reason string)
}

// errorStatus maps the domain error taxonomy to a status and a stable code.
func errorStatus(err error) (int, string) {
	var rejection *competition.JoinRejection
	if errors.As(err, &rejection) {
		return rejectionStatus(rejection)
	}

	switch {
	case errors.Is(err, shared.ErrRestrictionActive):
		return http.StatusForbidden, "restricted"
	case shared.IsValidation(err):
		return http.StatusBadRequest, "invalid_input"
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, shared.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, shared.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case shared.IsAlreadyExists(err),
		errors.Is(err, shared.ErrConflict),
		errors.Is(err, shared.ErrAlreadyProcessed),
		errors.Is(err, shared.ErrConcurrentModification),
		errors.Is(err, shared.ErrInvalidState),
		errors.Is(err, shared.ErrStateTransition):
		return http.StatusConflict, "conflict"
	case errors.Is(err, shared.ErrServiceUnavailable),
		errors.Is(err, shared.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func rejectionStatus(r *competition.JoinRejection) (int, string) {
	switch r.Kind {
	case shared.ErrCompetitionFull:
		return http.StatusConflict, "competition_full"
	case shared.ErrAlreadyJoined:
		return http.StatusConflict, "already_joined"
	case shared.ErrCompetitionClosed:
		return http.StatusConflict, "competition_closed"
	default:
		return http.StatusForbidden, "entry_requirement_not_met"
	}
}

// respondError writes err in the taxonomy's shape. Internal errors keep
// their detail out of the response.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	body := ErrorResponse{Error: code, Message: err.Error()}

	var active *restriction.ActiveError
	if errors.As(err, &active) {
		expires := active.ExpiresAt
		body.ExpiresAt = &expires
		body.Message = active.Reason
	}

	if status >= http.StatusInternalServerError {
		requestLogger(r).Error("request failed", "status", status, "error", err)
		if status == http.StatusInternalServerError {
			body.Message = "internal error"
		}
	}
	writeJSON(w, status, body)
}
