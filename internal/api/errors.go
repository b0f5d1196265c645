package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-hap/internal/device"
	"github.com/nerrad567/gray-logic-hap/internal/hap"
	"github.com/nerrad567/gray-logic-hap/internal/mapping"
	"github.com/nerrad567/gray-logic-hap/internal/state"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeUnavailable  = "value_unavailable"
	ErrCodeNotPermitted = "not_permitted"
	ErrCodeUnmappable   = "unmappable"
	ErrCodeDeviceFailed = "device_failed"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps mapping-core errors onto HTTP responses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, mapping.ErrDeviceNotMapped), errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, mapping.ErrUnmappableDevice):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeUnmappable, err.Error())
	case errors.Is(err, hap.ErrInvalidValue), errors.Is(err, state.ErrValidation):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, hap.ErrNotReadable), errors.Is(err, hap.ErrNotWritable):
		writeError(w, http.StatusMethodNotAllowed, ErrCodeNotPermitted, err.Error())
	case errors.Is(err, hap.ErrValueUnavailable):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	case errors.Is(err, state.ErrWriteFailed):
		writeError(w, http.StatusBadGateway, ErrCodeDeviceFailed, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
