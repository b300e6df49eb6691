package models

import (
	"strings"
	"time"
)

// MaxInboundTextLength bounds the text accepted from an ingestion adapter.
const MaxInboundTextLength = 8192

// Platform identifies the messaging platform a conversation lives on.
type Platform string

const (
	PlatformTikTok   Platform = "tiktok"
	PlatformLinkedIn Platform = "linkedin"
)

// IsValidPlatform checks if the given platform is supported.
func IsValidPlatform(p Platform) bool {
	switch p {
	case PlatformTikTok, PlatformLinkedIn:
		return true
	default:
		return false
	}
}

// Direction tells whether a message came from the user or was sent to them.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Intent is the classification label assigned to an inbound message.
type Intent string

const (
	IntentSupport Intent = "SUPPORT"
	IntentSales   Intent = "SALES"
	IntentGeneral Intent = "GENERAL"
	IntentUrgent  Intent = "URGENT"
)

// ParseIntent maps a free-form label onto a known intent. Unknown labels
// map to IntentGeneral with ok=false.
func ParseIntent(s string) (Intent, bool) {
	switch Intent(strings.ToUpper(strings.TrimSpace(s))) {
	case IntentSupport:
		return IntentSupport, true
	case IntentSales:
		return IntentSales, true
	case IntentGeneral:
		return IntentGeneral, true
	case IntentUrgent:
		return IntentUrgent, true
	default:
		return IntentGeneral, false
	}
}

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "active"
	ConversationEscalated ConversationStatus = "escalated"
	ConversationClosed    ConversationStatus = "closed"
)

// IsValidConversationStatus checks if the given status is known.
func IsValidConversationStatus(s ConversationStatus) bool {
	switch s {
	case ConversationActive, ConversationEscalated, ConversationClosed:
		return true
	default:
		return false
	}
}

// Priority ranks escalations for the human-agent queue.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// IsValidPriority checks if the given priority is known.
func IsValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

// CanonicalMessage is the platform-agnostic form of one inbound or outbound
// message. ExternalID is platform scoped and is the deduplication key.
type CanonicalMessage struct {
	ExternalID     string            `json:"external_id"`
	Platform       Platform          `json:"platform"`
	PlatformUserID string            `json:"platform_user_id"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Direction      Direction         `json:"direction"`
	Text           string            `json:"text"`
	Timestamp      time.Time         `json:"timestamp"`
	RawMetadata    map[string]string `json:"raw_metadata,omitempty"`
}

// ConversationKey returns the stable routing key for the conversation the
// message belongs to. It is known before the conversation row exists.
func (m CanonicalMessage) ConversationKey() string {
	return ConversationKey(m.Platform, m.PlatformUserID)
}

// ConversationKey builds the routing key for a (platform, user) pair.
func ConversationKey(platform Platform, platformUserID string) string {
	return string(platform) + ":" + platformUserID
}

// Validate checks an inbound canonical message before it is enqueued.
func (m *CanonicalMessage) Validate() error {
	var reason error
	switch {
	case strings.TrimSpace(m.ExternalID) == "":
		reason = ErrEmptyExternalID
	case !IsValidPlatform(m.Platform):
		reason = ErrInvalidPlatform
	case strings.TrimSpace(m.PlatformUserID) == "":
		reason = ErrEmptyPlatformUserID
	case m.Direction != DirectionIn:
		reason = ErrInvalidDirection
	case strings.TrimSpace(m.Text) == "":
		reason = ErrEmptyText
	case len(m.Text) > MaxInboundTextLength:
		reason = ErrTextTooLong
	}
	if reason != nil {
		return &MalformedInboundError{Reason: reason}
	}
	return nil
}

// Conversation is the thread between one platform user and the agent.
// Version increments by exactly one on every committed mutation.
type Conversation struct {
	ID             string             `json:"id"`
	Platform       Platform           `json:"platform"`
	PlatformUserID string             `json:"platform_user_id"`
	Status         ConversationStatus `json:"status"`
	Priority       Priority           `json:"priority,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	LastActivityAt time.Time          `json:"last_activity_at"`
	Version        int64              `json:"version"`
}

// Message is a persisted canonical message. Messages are append-only except
// for audited overrides.
type Message struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	SequenceNumber int64             `json:"sequence_number"`
	ExternalID     string            `json:"external_id"`
	Platform       Platform          `json:"platform"`
	Direction      Direction         `json:"direction"`
	Text           string            `json:"text"`
	Timestamp      time.Time         `json:"timestamp"`
	RawMetadata    map[string]string `json:"raw_metadata,omitempty"`
	Intent         Intent            `json:"intent,omitempty"`
	SentimentScore *float64          `json:"sentiment_score,omitempty"`
	Escalated      bool              `json:"escalated"`
	WorkflowRunID  string            `json:"workflow_run_id,omitempty"`
}

// Stage names a node of the workflow stage graph.
type Stage string

const (
	StageReceived            Stage = "Received"
	StageClassified          Stage = "Classified"
	StageContextLoaded       Stage = "ContextLoaded"
	StageEscalationEvaluated Stage = "EscalationEvaluated"
	StageEscalatedTerminal   Stage = "EscalatedTerminal"
	StageGenerating          Stage = "Generating"
	StageValidated           Stage = "Validated"
	StageRepliedTerminal     Stage = "RepliedTerminal"
	StageFailed              Stage = "Failed"
)

// IsTerminal reports whether no further stage follows s.
func (s Stage) IsTerminal() bool {
	return s == StageEscalatedTerminal || s == StageRepliedTerminal || s == StageFailed
}

// RunOutcome is the terminal result of a workflow run.
type RunOutcome string

const (
	OutcomeReplied   RunOutcome = "replied"
	OutcomeEscalated RunOutcome = "escalated"
	OutcomeFailed    RunOutcome = "failed"
)

// WorkflowRun is one execution of the stage pipeline for a single inbound
// message. It is the idempotency record for (ConversationID, InboundExternalID).
type WorkflowRun struct {
	ID                string     `json:"id"`
	ConversationID    string     `json:"conversation_id"`
	InboundExternalID string     `json:"inbound_external_id"`
	StagesExecuted    []Stage    `json:"stages_executed"`
	Outcome           RunOutcome `json:"outcome"`
	Degraded          bool       `json:"degraded"`
	Attempts          int        `json:"attempts"`
	LastError         string     `json:"last_error,omitempty"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
}

// Finished reports whether the run reached a terminal outcome.
func (r *WorkflowRun) Finished() bool {
	return r != nil && r.FinishedAt != nil
}

// EscalationRecord hands a conversation to a human agent. Only the resolution
// fields ever change after creation.
type EscalationRecord struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	WorkflowRunID  string     `json:"workflow_run_id,omitempty"`
	Reason         string     `json:"reason"`
	Priority       Priority   `json:"priority"`
	CreatedAt      time.Time  `json:"created_at"`
	Resolved       bool       `json:"resolved"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
}

// MessageOverride is the audit entry written when an operator rewrites a
// committed message.
type MessageOverride struct {
	ID           string    `json:"id"`
	MessageID    string    `json:"message_id"`
	PreviousText string    `json:"previous_text"`
	NewText      string    `json:"new_text"`
	Actor        string    `json:"actor"`
	CreatedAt    time.Time `json:"created_at"`
}

// ConversationFilter narrows conversation listings.
type ConversationFilter struct {
	Platform  Platform
	Status    ConversationStatus
	Priority  Priority
	Escalated *bool
	Limit     int
	Offset    int
}

// Conversation listing bounds.
const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

// Normalize clamps the paging parameters of a filter.
func (f ConversationFilter) Normalize() ConversationFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
