package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/lucidarc/observatory/internal/apierr"
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

// ErrorBody is the standard JSON error envelope (spec.md §7).
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorResponse wraps ErrorBody under the "error" key.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// RespondError writes the uniform error envelope at the given status.
func RespondError(w http.ResponseWriter, status int, kind, message string) {
	Respond(w, status, ErrorResponse{Error: ErrorBody{Kind: kind, Message: message}})
}

// RespondErrorDetails is RespondError with field-level detail attached.
func RespondErrorDetails(w http.ResponseWriter, status int, kind, message string, details any) {
	Respond(w, status, ErrorResponse{Error: ErrorBody{Kind: kind, Message: message, Details: details}})
}

// RespondAPIError writes err's kind/message/details at err's mapped HTTP status.
// Any error that isn't an *apierr.Error is treated as internal and its detail
// is logged, never sent to the client.
func RespondAPIError(w http.ResponseWriter, logger *slog.Logger, err error) {
	e, ok := apierr.As(err)
	if !ok {
		logger.Error("unclassified error reached HTTP boundary", "error", err)
		e = apierr.Internal(err)
	}
	if e.Kind == apierr.KindInternal {
		logger.Error("internal error", "error", e.Unwrap(), "message", e.Message)
	}
	Respond(w, e.Kind.Status(), ErrorResponse{Error: ErrorBody{Kind: string(e.Kind), Message: e.Message, Details: e.Details}})
}
