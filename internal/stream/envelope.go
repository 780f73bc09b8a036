package stream

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Public REST error codes.
const (
	CodeBadRequest   = "BAD_REQUEST"
	CodeNotFound     = "NOT_FOUND"
	CodeRateLimited  = "RATE_LIMITED"
	CodeInternal     = "INTERNAL_ERROR"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
)

// Meta is the pagination block of the success envelope.
type Meta struct {
	Count      int     `json:"count"`
	NextCursor *string `json:"next_cursor"`
	HasMore    bool    `json:"has_more"`
}

type successEnvelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Meta    Meta        `json:"meta"`
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeSuccess(w http.ResponseWriter, data interface{}, meta Meta) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(successEnvelope{Success: true, Data: data, Meta: meta})
}

func writeError(w http.ResponseWriter, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(code))
	json.NewEncoder(w).Encode(errorEnvelope{Success: false, Error: errorBody{Code: code, Message: message}})
}

func statusFor(code string) int {
	switch code {
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// validationError marks an error message safe to surface as BAD_REQUEST.
// Everything else is masked as INTERNAL_ERROR; internal detail and stack
// traces never cross the boundary.
type validationError struct {
	field string
	msg   string
}

func (e validationError) Error() string {
	return e.field + ": " + e.msg
}

func badRequest(field, msg string) error {
	return validationError{field: field, msg: msg}
}

// sanitise maps an error onto its public code and message.
func sanitise(err error) (code, message string) {
	if ve, ok := err.(validationError); ok {
		return CodeBadRequest, ve.Error()
	}
	if strings.Contains(err.Error(), "not found") {
		return CodeNotFound, "resource not found"
	}
	return CodeInternal, "internal error"
}
