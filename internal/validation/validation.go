// Package validation checks generated replies before they are sent.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
)

// ErrRejected is matched by every RejectionError.
var ErrRejected = errors.New("response rejected")

// Rejection reasons.
const (
	ReasonEmpty    = "empty"
	ReasonTooShort = "too_short"
	ReasonTooLong  = "too_long"
	ReasonMarker   = "disallowed_content"
)

// RejectionError explains why a reply was refused.
type RejectionError struct {
	Reason string
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("response rejected: %s (%s)", e.Reason, e.Detail)
	}
	return "response rejected: " + e.Reason
}

// Is reports ErrRejected.
func (e *RejectionError) Is(target error) bool { return target == ErrRejected }

// Validator accepts replies whose length lies strictly between MinLength and
// MaxLength characters and that contain none of the disallowed markers.
type Validator struct {
	MinLength int
	MaxLength int
	// Markers are matched case-insensitively.
	Markers []string
}

// New builds a Validator from a config snapshot.
func New(cfg models.AgentConfig) *Validator {
	markers := make([]string, 0, len(cfg.DisallowedMarkers))
	for _, m := range cfg.DisallowedMarkers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			markers = append(markers, m)
		}
	}
	return &Validator{MinLength: cfg.MinResponseLength, MaxLength: cfg.MaxResponseLength, Markers: markers}
}

// Validate returns nil or a *RejectionError.
func (v *Validator) Validate(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return &RejectionError{Reason: ReasonEmpty}
	}
	n := utf8.RuneCountInString(trimmed)
	if n <= v.MinLength {
		return &RejectionError{Reason: ReasonTooShort, Detail: fmt.Sprintf("%d characters", n)}
	}
	if v.MaxLength > 0 && n >= v.MaxLength {
		return &RejectionError{Reason: ReasonTooLong, Detail: fmt.Sprintf("%d characters", n)}
	}
	lower := strings.ToLower(trimmed)
	for _, m := range v.Markers {
		if strings.Contains(lower, strings.ToLower(m)) {
			return &RejectionError{Reason: ReasonMarker, Detail: m}
		}
	}
	return nil
}

// Describe turns a validation error into the hint given to the regeneration prompt.
func Describe(err error) string {
	var re *RejectionError
	if errors.As(err, &re) {
		switch re.Reason {
		case ReasonTooShort:
			return "too short"
		case ReasonTooLong:
			return "too long"
		case ReasonMarker:
			return "it contained disallowed content"
		case ReasonEmpty:
			return "it was empty"
		}
	}
	return ""
}
