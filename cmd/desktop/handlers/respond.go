// Package handlers provides the REST API handlers of the desktop server.
package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/kimhsiao/curio/internal/errors"
	"github.com/kimhsiao/curio/internal/logging"
)

// maxBodyBytes bounds request bodies; items may carry inline images.
const maxBodyBytes = 16 << 20

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("encode response", "error", err)
	}
}

// writeError maps an AppError code to an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrNotFound:
		status = http.StatusNotFound
	case apperrors.ErrValidation, apperrors.ErrMalformedBackup:
		status = http.StatusBadRequest
	case apperrors.ErrNotAuthenticated:
		status = http.StatusUnauthorized
	case apperrors.ErrPreviewFailed, apperrors.ErrRemoteRead, apperrors.ErrRemoteWrite:
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		logging.Error("request failed", err)
	}
	writeJSON(w, status, map[string]ErrorBody{"error": {Code: string(code), Message: err.Error()}})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeError(w, apperrors.New(apperrors.ErrValidation, msg))
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}
