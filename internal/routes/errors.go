package routes

import (
	"errors"
	"net/http"

	"attendance-ingest/internal/adapter"
	"attendance-ingest/internal/storage"
)

// HTTPError represents an error with an associated HTTP status code and user message
type HTTPError struct {
	Err        error    // The underlying error
	StatusCode int      // HTTP status code
	Message    string   // User-friendly message
	StopCodes  []string // Optional stop codes for client-side handling
	Internal   bool     // Whether this is an internal error (hide details from user)
}

// ErrorInfo contains error metadata for user-facing errors
type ErrorInfo struct {
	Message   string   // User-friendly message
	StopCodes []string // Optional stop codes for the caller
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

func NewHTTPError(statusCode int, err error, message string, stopCodes ...string) *HTTPError {
	return &HTTPError{
		Err:        err,
		StatusCode: statusCode,
		Message:    message,
		StopCodes:  stopCodes,
		Internal:   statusCode >= 500,
	}
}

var (
	// Device errors
	ErrDeviceIDRequired = errors.New("device id is required")
	ErrDeviceNotFound   = errors.New("device not found")
	ErrDeviceInactive   = errors.New("device is not active")
	ErrVendorMismatch   = errors.New("device belongs to another vendor")

	// Validation errors
	ErrInvalidRequest   = errors.New("invalid request")
	ErrMissingParameter = errors.New("missing required parameter")
	ErrInvalidPayload   = errors.New("invalid payload")

	// Internal errors
	ErrInternalServer     = errors.New("internal server error")
	ErrRecordFailed       = errors.New("failed to record attendance")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// errorStatusMap maps errors to HTTP status codes
var errorStatusMap = map[error]int{
	// 400 Bad Request
	ErrInvalidRequest:      http.StatusBadRequest,
	ErrMissingParameter:    http.StatusBadRequest,
	ErrInvalidPayload:      http.StatusBadRequest,
	ErrDeviceIDRequired:    http.StatusBadRequest,
	ErrVendorMismatch:      http.StatusBadRequest,
	adapter.ErrUnsupported: http.StatusBadRequest,

	// 403 Forbidden
	adapter.ErrVirtualEventsDisabled: http.StatusForbidden,

	// 404 Not Found
	ErrDeviceNotFound:        http.StatusNotFound,
	ErrDeviceInactive:        http.StatusNotFound,
	storage.ErrNotFound:      http.StatusNotFound,
	adapter.ErrUnknownVendor: http.StatusNotFound,

	// 409 Conflict
	adapter.ErrNotListening: http.StatusConflict,

	// 500 Internal Server Error
	ErrInternalServer: http.StatusInternalServerError,
	ErrRecordFailed:   http.StatusInternalServerError,

	// 503 Service Unavailable
	ErrServiceUnavailable: http.StatusServiceUnavailable,
}

// errorInfoMap maps errors to user-friendly messages and optional stop codes
var errorInfoMap = map[error]ErrorInfo{
	ErrDeviceIDRequired: {
		Message:   "Device ID is required",
		StopCodes: []string{"DEVICE_ID_REQUIRED"},
	},
	ErrDeviceNotFound: {
		Message:   "Device not found",
		StopCodes: []string{"DEVICE_NOT_FOUND"},
	},
	ErrDeviceInactive: {
		Message:   "Device not found or inactive",
		StopCodes: []string{"DEVICE_INACTIVE"},
	},
	ErrVendorMismatch: {
		Message:   "Device is registered for a different vendor",
		StopCodes: []string{"VENDOR_MISMATCH"},
	},
	storage.ErrNotFound: {
		Message:   "Resource not found",
		StopCodes: []string{"NOT_FOUND"},
	},
	adapter.ErrUnknownVendor: {
		Message:   "Unknown vendor",
		StopCodes: []string{"UNKNOWN_VENDOR"},
	},
	adapter.ErrUnsupported: {
		Message:   "Operation is not supported by this vendor",
		StopCodes: []string{"UNSUPPORTED"},
	},
	adapter.ErrNotListening: {
		Message:   "Device has no open connection",
		StopCodes: []string{"NOT_LISTENING"},
	},
	adapter.ErrVirtualEventsDisabled: {
		Message:   "Virtual events are disabled",
		StopCodes: []string{"VIRTUAL_EVENTS_DISABLED"},
	},

	// Validation
	ErrInvalidRequest: {
		Message:   "Invalid request format",
		StopCodes: []string{"INVALID_REQUEST"},
	},
	ErrMissingParameter: {
		Message:   "Required parameter is missing",
		StopCodes: []string{"MISSING_PARAMETER"},
	},
	ErrInvalidPayload: {
		Message:   "Payload could not be parsed",
		StopCodes: []string{"INVALID_PAYLOAD"},
	},

	// Internal (no stop codes for internal errors)
	ErrInternalServer: {
		Message: "An internal error occurred",
	},
	ErrRecordFailed: {
		Message: "Attendance could not be recorded",
	},
	ErrServiceUnavailable: {
		Message: "Service is temporarily unavailable",
	},
}

// GetErrorStatus returns the HTTP status code for an error
func GetErrorStatus(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}

	if status, ok := errorStatusMap[err]; ok {
		return status
	}

	// Check if error wraps a known error
	for knownErr, status := range errorStatusMap {
		if errors.Is(err, knownErr) {
			return status
		}
	}

	var parseErr *adapter.ParseError
	if errors.As(err, &parseErr) {
		return http.StatusBadRequest
	}

	return http.StatusInternalServerError
}

// GetErrorInfo returns error information including message and stop codes
func GetErrorInfo(err error) ErrorInfo {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return ErrorInfo{
			Message:   httpErr.Message,
			StopCodes: httpErr.StopCodes,
		}
	}

	if info, ok := errorInfoMap[err]; ok {
		return info
	}

	for knownErr, info := range errorInfoMap {
		if errors.Is(err, knownErr) {
			return info
		}
	}

	// For unknown errors, return a generic message for 5xx, specific for others
	status := GetErrorStatus(err)
	if status >= 500 {
		return ErrorInfo{Message: "An internal error occurred"}
	}
	return ErrorInfo{Message: err.Error()}
}
