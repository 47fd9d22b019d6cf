package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/whisper/chatroom/internal/chat"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to encode response", "err", err)
	}
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// writeError maps a failure kind onto its status code.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, chat.ErrInvalidInput):
		writeErrorCode(w, http.StatusUnprocessableEntity, "invalid_input", err.Error())
	case errors.Is(err, chat.ErrConflict):
		writeErrorCode(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, chat.ErrNotFound):
		writeErrorCode(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, chat.ErrForbidden):
		writeErrorCode(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, chat.ErrUnavailable):
		a.logger.Error("store unavailable", "path", r.URL.Path, "err", err)
		writeErrorCode(w, http.StatusServiceUnavailable, "unavailable", "store unavailable")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		a.logger.Warn("request aborted", "path", r.URL.Path, "err", err)
		writeErrorCode(w, http.StatusServiceUnavailable, "timeout", "request timed out")
	default:
		a.logger.Error("unhandled error", "path", r.URL.Path, "err", err)
		writeErrorCode(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
