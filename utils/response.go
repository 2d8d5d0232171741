package utils

import (
	"encoding/json"
	"errors"
	"net/http"

	"wordcraft/docstore"
	"wordcraft/models"
)

type M map[string]any

// Sends a JSON response
func RespondWithJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// RespondWithError writes the failure notice {"ok": false, "error": msg}.
func RespondWithError(w http.ResponseWriter, code int, msg string) {
	RespondWithJSON(w, code, M{"ok": false, "error": msg})
}

// RespondWithErr maps an error kind to its status code. Server-side failures
// get a generic message; the caller logs the detail.
func RespondWithErr(w http.ResponseWriter, err error) {
	code := StatusFor(err)
	msg := err.Error()
	switch code {
	case http.StatusServiceUnavailable:
		msg = "Service temporarily unavailable, try again"
	case http.StatusInternalServerError:
		msg = "Something went wrong"
	}
	RespondWithError(w, code, msg)
}

func StatusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, docstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, docstore.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
