// Package api is the vaultd HTTP surface: JSON routes over the governance
// engine with RFC 7807 problem details for every error.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	// TraceID is the request's X-Request-ID.
	TraceID string `json:"trace_id,omitempty"`
	// Code is the stable engine error class, e.g. "limit_exceeded".
	Code string `json:"code,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

func writeProblem(w http.ResponseWriter, p *ProblemDetail) {
	if p.Type == "" {
		p.Type = fmt.Sprintf("https://vault.errors.local/%d", p.Status)
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{Title: title, Status: status, Detail: detail, TraceID: w.Header().Get("X-Request-ID")})
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

// WriteUnauthorized writes a 401 error response.
func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, http.StatusUnauthorized, "Unauthorized", detail)
}

// WriteTooManyRequests writes a 429 error response with Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 error response. err is logged, never returned.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}

type errorClass struct {
	target error
	status int
	title  string
	code   string
}

// Order matters: ErrProposalExpired wraps ErrInvalidState.
var errorClasses = []errorClass{
	{contracts.ErrProposalExpired, http.StatusGone, "Proposal Expired", "proposal_expired"},
	{contracts.ErrNotInitialized, http.StatusConflict, "Not Initialized", "not_initialized"},
	{contracts.ErrAlreadyInitialized, http.StatusConflict, "Already Initialized", "already_initialized"},
	{contracts.ErrUnauthorized, http.StatusForbidden, "Forbidden", "unauthorized"},
	{contracts.ErrProposalNotFound, http.StatusNotFound, "Not Found", "not_found"},
	{contracts.ErrInvalidState, http.StatusConflict, "Invalid State", "invalid_state"},
	{contracts.ErrAlreadyVoted, http.StatusConflict, "Already Voted", "already_voted"},
	{contracts.ErrLimitExceeded, http.StatusUnprocessableEntity, "Limit Exceeded", "limit_exceeded"},
	{contracts.ErrRecipientBlocked, http.StatusUnprocessableEntity, "Recipient Blocked", "recipient_blocked"},
	{contracts.ErrInsufficientInsurance, http.StatusUnprocessableEntity, "Insufficient Insurance", "insufficient_insurance"},
	{contracts.ErrTimelockNotElapsed, http.StatusTooEarly, "Timelock Not Elapsed", "timelock_not_elapsed"},
	{contracts.ErrConditionsNotMet, http.StatusPreconditionFailed, "Conditions Not Met", "conditions_not_met"},
	{contracts.ErrBridgeNotConfigured, http.StatusConflict, "Bridge Not Configured", "bridge_not_configured"},
	{contracts.ErrInvalidAmount, http.StatusBadRequest, "Invalid Amount", "invalid_amount"},
	{contracts.ErrInvalidConfig, http.StatusBadRequest, "Invalid Request", "invalid_config"},
}

// WriteEngineError maps an engine error onto its problem response.
// Errors outside the taxonomy become a 500 with no detail.
func WriteEngineError(w http.ResponseWriter, r *http.Request, err error) {
	for _, c := range errorClasses {
		if errors.Is(err, c.target) {
			writeProblem(w, &ProblemDetail{
				Title:    c.title,
				Status:   c.status,
				Detail:   err.Error(),
				Instance: r.URL.Path,
				TraceID:  w.Header().Get("X-Request-ID"),
				Code:     c.code,
			})
			return
		}
	}
	WriteInternal(w, err)
}

// ErrorForCode returns the engine error a problem Code stands for, or nil.
func ErrorForCode(code string) error {
	for _, c := range errorClasses {
		if c.code == code {
			return c.target
		}
	}
	return nil
}
