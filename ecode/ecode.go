// Package ecode defines standardized business error codes for API responses.
//
// Codes follow the house numbering scheme: 0 is success, -4xx mirror request
// and resource errors, -5xx mirror server errors.
package ecode

import "net/http"

const (
	// OK indicates success.
	OK = 0

	// RequestErr indicates an invalid request.
	RequestErr = -400
	// ParamErr indicates invalid request parameters.
	ParamErr = -401
	// AccessDenied indicates the caller may not perform the operation.
	AccessDenied = -403
	// NotFound indicates the resource does not exist.
	NotFound = -404
	// MethodNotAllowed indicates an unsupported method.
	MethodNotAllowed = -405
	// Conflict indicates the request conflicts with the resource state.
	Conflict = -409

	// ServerErr indicates an internal server error.
	ServerErr = -500
	// ServiceUnavailable indicates a temporarily unavailable dependency.
	ServiceUnavailable = -503
	// Deadline indicates an exceeded deadline.
	Deadline = -504
)

var messages = map[int]string{
	OK:                 "success",
	RequestErr:         "Invalid request",
	ParamErr:           "Invalid parameters",
	AccessDenied:       "Access denied",
	NotFound:           "Resource not found",
	MethodNotAllowed:   "Method not allowed",
	Conflict:           "Resource conflict",
	ServerErr:          "Internal server error",
	ServiceUnavailable: "Service unavailable",
	Deadline:           "Deadline exceeded",
}

var httpStatus = map[int]int{
	OK:                 http.StatusOK,
	RequestErr:         http.StatusBadRequest,
	ParamErr:           http.StatusBadRequest,
	AccessDenied:       http.StatusForbidden,
	NotFound:           http.StatusNotFound,
	MethodNotAllowed:   http.StatusMethodNotAllowed,
	Conflict:           http.StatusConflict,
	ServerErr:          http.StatusInternalServerError,
	ServiceUnavailable: http.StatusServiceUnavailable,
	Deadline:           http.StatusGatewayTimeout,
}

// Register adds or overrides the message for a custom code.
func Register(code int, message string) {
	messages[code] = message
}

// Text returns the human readable message for a code.
func Text(code int) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return messages[ServerErr]
}

// ToHTTPStatus maps a business code to an HTTP status code.
func ToHTTPStatus(code int) int {
	if status, ok := httpStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
