package models

import (
	"encoding/json"
	"fmt"
)

// OutcomeKind distinguishes the two terminal user-visible results of a run.
type OutcomeKind string

const (
	OutcomeKindAutoReply  OutcomeKind = "autoreply"
	OutcomeKindEscalation OutcomeKind = "escalation"
)

// Outcome is what the outbound dispatcher delivers for a committed run. It
// is stored as the outbox payload.
type Outcome struct {
	Kind           OutcomeKind `json:"kind"`
	ConversationID string      `json:"conversation_id"`
	Platform       Platform    `json:"platform"`
	PlatformUserID string      `json:"platform_user_id"`
	WorkflowRunID  string      `json:"workflow_run_id,omitempty"`
	// MessageID is the committed outbound message carrying Text.
	MessageID    string   `json:"message_id,omitempty"`
	Text         string   `json:"text"`
	Degraded     bool     `json:"degraded,omitempty"`
	Reason       string   `json:"reason,omitempty"`
	Priority     Priority `json:"priority,omitempty"`
	EscalationID string   `json:"escalation_id,omitempty"`
	// InboundText is the user message that triggered an escalation.
	InboundText string `json:"inbound_text,omitempty"`
}

// EncodeOutcome marshals an outcome for the outbox.
func EncodeOutcome(o Outcome) (string, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return "", fmt.Errorf("encode outcome: %w", err)
	}
	return string(data), nil
}

// DecodeOutcome parses an outbox payload.
func DecodeOutcome(payload string) (Outcome, error) {
	var o Outcome
	if err := json.Unmarshal([]byte(payload), &o); err != nil {
		return Outcome{}, fmt.Errorf("decode outcome: %w", err)
	}
	if o.Kind != OutcomeKindAutoReply && o.Kind != OutcomeKindEscalation {
		return Outcome{}, fmt.Errorf("decode outcome: unknown kind %q", o.Kind)
	}
	return o, nil
}
