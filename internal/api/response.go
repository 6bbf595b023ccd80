package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"accounts/internal/account"
)

// Response is the envelope for every JSON reply. Data is omitted on errors.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data,omitempty"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeSuccess(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, Response{
		StatusCode: status,
		Data:       data,
		Message:    message,
		Success:    true,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Response{
		StatusCode: status,
		Message:    message,
		Success:    false,
	})
}

func badRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, message)
}

func unauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, message)
}

func notFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, message)
}

func forbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, message)
}

func payloadTooLarge(w http.ResponseWriter, message string) {
	writeError(w, http.StatusRequestEntityTooLarge, message)
}

func internalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, "An internal error occurred")
}

// writeServiceError maps an account.Error to its HTTP status. Anything else
// is logged and reported as a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var accountErr *account.Error
	if !errors.As(err, &accountErr) {
		slog.Error("unexpected error", "path", r.URL.Path, "error", err)
		internalError(w)
		return
	}

	switch accountErr.Kind {
	case account.KindValidation:
		badRequest(w, accountErr.Message)
	case account.KindConflict:
		writeError(w, http.StatusConflict, accountErr.Message)
	case account.KindUnauthorized:
		unauthorized(w, accountErr.Message)
	case account.KindNotFound:
		notFound(w, accountErr.Message)
	default:
		slog.Error("internal error", "path", r.URL.Path, "error", err)
		internalError(w)
	}
}
