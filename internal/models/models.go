// Package models defines the core data structures shared across the support agent.
//
// It holds the canonical message format, the persisted conversation entities, the
// agent configuration snapshot, and the JSON envelope used by the HTTP surface.
package models

import "errors"

// APIStatus is the top-level outcome reported in every HTTP response body.
type APIStatus string

const (
	APIStatusOK       APIStatus = "ok"
	APIStatusError    APIStatus = "error"
	APIStatusAccepted APIStatus = "accepted"
)

// Machine-readable error codes carried next to the human message.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeUnauthorized       = "unauthorized"
	CodeNotFound           = "not_found"
	CodeConflict           = "conflict"
	CodeStorageUnavailable = "storage_unavailable"
	CodeInternal           = "internal"
)

// APIResponse is the envelope written by every API handler.
type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	// Code is set on error responses only.
	Code   string `json:"code,omitempty"`
	Result any    `json:"result,omitempty"`
	// Count is set on list responses, including empty ones.
	Count *int `json:"count,omitempty"`
}

// Success wraps result in an ok envelope.
func Success(result any) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage is Success with an informational message.
func SuccessWithMessage(message string, result any) APIResponse {
	r := Success(result)
	r.Message = message
	return r
}

// List wraps a slice result and reports its length. A nil slice is written
// as an empty JSON array.
func List[T any](items []T) APIResponse {
	if items == nil {
		items = []T{}
	}
	n := len(items)
	return APIResponse{Status: string(APIStatusOK), Result: items, Count: &n}
}

// Accepted reports work handed to the queue.
func Accepted(result any) APIResponse {
	return APIResponse{Status: string(APIStatusAccepted), Result: result}
}

// Error builds an error envelope with the invalid_request code.
func Error(message string) APIResponse {
	return ErrorWithCode(CodeInvalidRequest, message)
}

// ErrorWithCode builds an error envelope with an explicit code.
func ErrorWithCode(code, message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Code: code, Message: message}
}

// ErrorCode classifies err for the response envelope.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case IsConflict(err):
		return CodeConflict
	case errors.Is(err, ErrStorageUnavailable):
		return CodeStorageUnavailable
	case errors.Is(err, ErrMalformedInbound),
		errors.Is(err, ErrInvalidPlatform),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrInvalidPriority),
		errors.Is(err, ErrInvalidConfig):
		return CodeInvalidRequest
	default:
		return CodeInternal
	}
}
