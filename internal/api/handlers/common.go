// Package handlers provides HTTP request handlers for the portscout API.
// This file contains the response and request helpers shared by all handlers.
package handlers

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/anstrom/portscout/internal/api/middleware"
	"github.com/anstrom/portscout/internal/errors"
	"github.com/anstrom/portscout/internal/logging"
)

const defaultMaxRequestSize = 1024 * 1024

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// MessageResponse acknowledges a mutation.
type MessageResponse struct {
	Message string `json:"message"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are gone, so the failure can only be logged.
		logging.Error("Failed to encode JSON response",
			"request_id", middleware.GetRequestID(r),
			"error", err)
	}
}

// writeError maps err to its HTTP status and writes the error envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeErrorMessage(w, r, err, errorMessage(err))
}

// writeErrorMessage is writeError with a caller supplied message.
func writeErrorMessage(w http.ResponseWriter, r *http.Request, err error, message string) {
	code := errors.GetCode(err)
	if code == errors.CodeUnknown {
		code = errors.CodeScanExecution
	}
	writeJSON(w, r, errors.HTTPStatus(err), ErrorResponse{
		Error:     message,
		Code:      string(code),
		Timestamp: time.Now().UTC(),
		RequestID: middleware.GetRequestID(r),
	})
}

// errorMessage returns the human readable part of err without the code
// prefix ScanError.Error adds.
func errorMessage(err error) string {
	var scanErr *errors.ScanError
	if stderrors.As(err, &scanErr) {
		return scanErr.Message
	}
	return err.Error()
}

// parseJSON decodes the request body into dest. An empty body leaves dest
// untouched so callers can pre-fill defaults.
func parseJSON(r *http.Request, dest any, maxSize int64) error {
	if r.Body == nil {
		return nil
	}
	if maxSize <= 0 {
		maxSize = defaultMaxRequestSize
	}

	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxSize))
	if err := decoder.Decode(dest); err != nil {
		if stderrors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return errors.ErrInvalidRequest(fmt.Sprintf("Request body too large (max %d bytes)", maxSize))
		}
		return errors.ErrInvalidRequest(fmt.Sprintf("Invalid JSON: %v", err))
	}
	return nil
}
