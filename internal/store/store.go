// Package store provides storage backends for the support agent.
//
// Three backends implement Store: an in-memory store for tests and offline
// runs, SQLite, and PostgreSQL. All conversation mutation goes through
// CommitRun, which checks the caller's expected conversation version.
package store

import (
	"context"
	"time"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
)

// OutboxEntry is the outbound delivery written atomically with a commit.
type OutboxEntry struct {
	Kind        string
	PayloadJSON string
	DedupeKey   string
}

// CommitRequest carries everything a single commit writes.
type CommitRequest struct {
	ConversationID  string
	ExpectedVersion int64
	// Messages are appended in order; sequence numbers are assigned here.
	Messages    []models.Message
	NewStatus   models.ConversationStatus
	NewPriority models.Priority
	// Run is nil for administrative commits that bypass the workflow.
	Run        *models.WorkflowRun
	Escalation *models.EscalationRecord
	Outbox     *OutboxEntry
	// InboundPlatform and InboundExternalID mark the inbound event processed.
	InboundPlatform   models.Platform
	InboundExternalID string
	At                time.Time
}

// CommitResult is the state observed right after a successful commit.
type CommitResult struct {
	Conversation models.Conversation
	Messages     []models.Message
}

// RunStats summarizes persisted workflow outcomes.
type RunStats struct {
	Replied   int `json:"replied"`
	Escalated int `json:"escalated"`
	Failed    int `json:"failed"`
	Degraded  int `json:"degraded"`
}

// ContextStore is what the workflow engine reads and commits through.
type ContextStore interface {
	// LoadConversation returns the conversation for (platform, platformUserID),
	// creating it when absent.
	LoadConversation(ctx context.Context, platform models.Platform, platformUserID string) (*models.Conversation, error)

	// GetConversation returns models.ErrNotFound when the id is unknown.
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)

	// LoadRecentMessages returns up to n messages, oldest first, and the
	// conversation version the read was taken at.
	LoadRecentMessages(ctx context.Context, conversationID string, n int) ([]models.Message, int64, error)

	// GetRunByInbound returns nil, nil when no run exists.
	GetRunByInbound(ctx context.Context, conversationID, inboundExternalID string) (*models.WorkflowRun, error)

	// CommitRun applies req atomically or returns *models.ConflictError.
	CommitRun(ctx context.Context, req CommitRequest) (*CommitResult, error)

	// RecordFailedRun persists a run that ended in the Failed state. It never
	// touches conversation state.
	RecordFailedRun(ctx context.Context, run models.WorkflowRun) error
}

// AdminRepo backs the operator-facing queries and audited mutations.
type AdminRepo interface {
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	OverrideMessage(ctx context.Context, messageID, newText, actor string) (*models.MessageOverride, error)
	ListOverrides(ctx context.Context, messageID string) ([]models.MessageOverride, error)
	GetEscalation(ctx context.Context, id string) (*models.EscalationRecord, error)
	ResolveEscalation(ctx context.Context, id, actor string) (*models.EscalationRecord, error)
	CountOpenEscalations(ctx context.Context, conversationID string) (int, error)
	ListConversations(ctx context.Context, filter models.ConversationFilter) ([]models.Conversation, error)
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, error)
	ListEscalations(ctx context.Context, resolved *bool, limit int) ([]models.EscalationRecord, error)
	RunStats(ctx context.Context) (RunStats, error)
	Ping(ctx context.Context) error
}

// Store is implemented by every backend.
type Store interface {
	ContextStore
	AdminRepo
	InboundRepo
	QueueRepo
	OutboxRepo
	Close() error
}
