package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// ErrorResponse is the standard JSON error envelope. Code is a short,
// stable, machine-readable string (e.g. "invalid_client"); Message is safe
// for display and never carries internal error detail (spec §7's
// sanitize-at-the-boundary rule).
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RespondError writes a JSON error response.
func RespondError(w http.ResponseWriter, status int, code string, message string) {
	Respond(w, status, ErrorResponse{Error: code, Message: message})
}

// RespondRetryAfter writes a 429 response with a Retry-After header, per
// spec §4.3's rate-limit failure semantics.
func RespondRetryAfter(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	RespondError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
}
