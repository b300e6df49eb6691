package models

import (
	"errors"
	"fmt"
)

// Error variables shared by the store, the workflow engine and the queue.
var (
	ErrNotFound            = errors.New("not found")
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrMalformedInbound    = errors.New("malformed inbound event")
	ErrEmptyExternalID     = errors.New("external id cannot be empty")
	ErrEmptyPlatformUserID = errors.New("platform user id cannot be empty")
	ErrEmptyText           = errors.New("message text cannot be empty")
	ErrTextTooLong         = errors.New("message text exceeds maximum length")
	ErrInvalidPlatform     = errors.New("invalid platform")
	ErrInvalidDirection    = errors.New("invalid message direction")
	ErrInvalidStatus       = errors.New("invalid conversation status")
	ErrInvalidPriority     = errors.New("invalid priority")
	ErrInvalidConfig       = errors.New("invalid agent config")
)

// ConflictError is returned by a commit whose expected version no longer
// matches the stored conversation version.
type ConflictError struct {
	ConversationID  string
	ExpectedVersion int64
	ActualVersion   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on conversation %s: expected %d, found %d",
		e.ConversationID, e.ExpectedVersion, e.ActualVersion)
}

// IsConflict reports whether err is or wraps a *ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsRetryable reports whether a failed run should be handed back to the
// queue for redelivery.
func IsRetryable(err error) bool {
	return IsConflict(err) || errors.Is(err, ErrStorageUnavailable)
}

// MalformedInboundError wraps a validation failure of an inbound event.
type MalformedInboundError struct {
	Reason error
}

func (e *MalformedInboundError) Error() string {
	return fmt.Sprintf("%s: %v", ErrMalformedInbound, e.Reason)
}

func (e *MalformedInboundError) Unwrap() []error {
	return []error{ErrMalformedInbound, e.Reason}
}
