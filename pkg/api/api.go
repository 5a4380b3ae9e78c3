// Package api provides standardized helper functions for HTTP API responses.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/dodge1218/prompt-intelligence/internal/errors"
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Success sends a JSON response. A nil data writes only the status.
func Success(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Error sends an error response with a plain message.
func Error(w http.ResponseWriter, statusCode int, message string) {
	writeError(w, statusCode, ErrorResponse{Error: message})
}

// FromError sends the response for err. AppErrors keep their message and
// code; details are only exposed for client errors.
func FromError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)

	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		writeError(w, status, ErrorResponse{Error: "internal server error"})
		return
	}

	resp := ErrorResponse{Error: appErr.Message, Code: string(appErr.Code)}
	if status < http.StatusInternalServerError {
		resp.Details = appErr.Details
	}
	writeError(w, status, resp)
}

// Attachment sends body as a file download.
func Attachment(w http.ResponseWriter, contentType, filename string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, statusCode int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}
