package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/oikomaticz/oikomaticz-core/internal/auth"
	"github.com/oikomaticz/oikomaticz-core/internal/device"
	"github.com/oikomaticz/oikomaticz-core/internal/eventsystem"
	"github.com/oikomaticz/oikomaticz-core/internal/hardware"
	"github.com/oikomaticz/oikomaticz-core/internal/mainworker"
	"github.com/oikomaticz/oikomaticz-core/internal/notify"
	"github.com/oikomaticz/oikomaticz-core/internal/rx"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeForbidden      = "forbidden"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeUpstreamFailed = "upstream_failed"
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

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeUnavailable writes a 503 for a subsystem that is not configured.
func writeUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// errorMapping ties a sentinel to the response it produces.
type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{device.ErrDeviceNotFound, http.StatusNotFound, ErrCodeNotFound},
	{eventsystem.ErrRuleNotFound, http.StatusNotFound, ErrCodeNotFound},
	{hardware.ErrHardwareNotFound, http.StatusNotFound, ErrCodeNotFound},
	{auth.ErrUserNotFound, http.StatusNotFound, ErrCodeNotFound},
	{notify.ErrThresholdNotFound, http.StatusNotFound, ErrCodeNotFound},

	{device.ErrInvalidDevice, http.StatusBadRequest, ErrCodeValidation},
	{device.ErrInvalidName, http.StatusBadRequest, ErrCodeValidation},
	{eventsystem.ErrInvalidRule, http.StatusBadRequest, ErrCodeValidation},
	{eventsystem.ErrInvalidName, http.StatusBadRequest, ErrCodeValidation},
	{eventsystem.ErrInvalidTrigger, http.StatusBadRequest, ErrCodeValidation},
	{eventsystem.ErrInvalidAction, http.StatusBadRequest, ErrCodeValidation},
	{eventsystem.ErrNoActions, http.StatusBadRequest, ErrCodeValidation},
	{notify.ErrInvalidThreshold, http.StatusBadRequest, ErrCodeValidation},
	{auth.ErrInvalidUsername, http.StatusBadRequest, ErrCodeValidation},
	{auth.ErrInvalidRole, http.StatusBadRequest, ErrCodeValidation},
	{auth.ErrWeakPassword, http.StatusBadRequest, ErrCodeValidation},
	{rx.ErrUnsupportedCommand, http.StatusBadRequest, ErrCodeValidation},
	{mainworker.ErrCommandNotApplicable, http.StatusBadRequest, ErrCodeValidation},

	{eventsystem.ErrRuleExists, http.StatusConflict, ErrCodeConflict},
	{eventsystem.ErrRuleDisabled, http.StatusConflict, ErrCodeConflict},
	{auth.ErrUsernameExists, http.StatusConflict, ErrCodeConflict},
	{auth.ErrLastAdmin, http.StatusConflict, ErrCodeConflict},
	{mainworker.ErrDeviceProtected, http.StatusConflict, ErrCodeConflict},
	{hardware.ErrHardwareDisabled, http.StatusConflict, ErrCodeConflict},

	{hardware.ErrNotRunning, http.StatusServiceUnavailable, ErrCodeUnavailable},
	{mainworker.ErrNoResolver, http.StatusServiceUnavailable, ErrCodeUnavailable},
	{mainworker.ErrQueueFull, http.StatusServiceUnavailable, ErrCodeUnavailable},
	{mainworker.ErrStopped, http.StatusServiceUnavailable, ErrCodeUnavailable},
	{eventsystem.ErrEngineStopped, http.StatusServiceUnavailable, ErrCodeUnavailable},
	{notify.ErrNoTransports, http.StatusServiceUnavailable, ErrCodeUnavailable},
	{notify.ErrThrottled, http.StatusTooManyRequests, ErrCodeRateLimited},
	{notify.ErrSendFailed, http.StatusBadGateway, ErrCodeUpstreamFailed},
}

// writeServiceError maps a domain error to a response. Unknown errors are
// logged and reported as 500 without their text.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			writeError(w, m.status, m.code, err.Error())
			return
		}
	}
	s.logger.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", r.Context().Value(ctxKeyRequestID),
		"error", err,
	)
	writeInternalError(w, "internal server error")
}
