package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/asheshgoplani/linkdeck/internal/account"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiErrorResponse{Error: apiError{Code: code, Message: message}})
}

// writeServiceError maps a manager error onto a status and error code.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var hsErr *account.HandshakeError
	switch {
	case errors.Is(err, account.ErrNotFound):
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, account.ErrDuplicateAccount):
		writeAPIError(w, http.StatusConflict, "DUPLICATE_ACCOUNT", err.Error())
	case errors.Is(err, account.ErrCapacity):
		writeAPIError(w, http.StatusConflict, "ACCOUNT_LIMIT", err.Error())
	case errors.Is(err, account.ErrAdmission):
		writeAPIError(w, http.StatusConflict, "ADMISSION_REFUSED", err.Error())
	case errors.Is(err, account.ErrAlreadyAuthenticated):
		writeAPIError(w, http.StatusConflict, "ALREADY_AUTHENTICATED", err.Error())
	case errors.Is(err, account.ErrDisabled):
		writeAPIError(w, http.StatusConflict, "ACCOUNT_DISABLED", err.Error())
	case errors.Is(err, account.ErrNotReady):
		writeAPIError(w, http.StatusConflict, "NOT_READY", err.Error())
	case errors.Is(err, account.ErrInvalidInput):
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, account.ErrClosed):
		writeAPIError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", err.Error())
	case errors.As(err, &hsErr):
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":    apiError{Code: "HANDSHAKE_FAILED", Message: err.Error()},
			"attempts": hsErr.Attempts,
		})
	default:
		webLog.Error("request_failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}
