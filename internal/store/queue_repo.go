// Package store provides the QueueRepo interface and model for lane-routed work items.
package store

import (
	"context"
	"time"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
)

// QueueStatus represents the lifecycle state of a work item.
type QueueStatus string

const (
	QueueStatusQueued   QueueStatus = "queued"
	QueueStatusInflight QueueStatus = "inflight"
	QueueStatusDone     QueueStatus = "done"
	QueueStatusDead     QueueStatus = "dead"
)

// QueueItem is one inbound event waiting for a workflow run. Items of a lane
// are served strictly in Seq order.
type QueueItem struct {
	ID              string          `json:"id"`
	Seq             int64           `json:"seq"`
	Lane            int             `json:"lane"`
	ConversationKey string          `json:"conversation_key"`
	Platform        models.Platform `json:"platform"`
	ExternalID      string          `json:"external_id"`
	Status          QueueStatus     `json:"status"`
	Attempts        int             `json:"attempts"`
	VisibleAt       time.Time       `json:"visible_at"`
	LastError       string          `json:"last_error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// QueueRepo defines durable at-least-once work item persistence.
type QueueRepo interface {
	// PushQueueItem appends an item to its lane. Returns false without
	// inserting when (platform, external id) is already queued, inflight or
	// dead. Events already processed are filtered by InboundRepo.IsProcessed.
	PushQueueItem(ctx context.Context, item QueueItem) (bool, error)

	// ClaimableLanes lists, in ascending order, the lanes whose head item is
	// queued and visible at now.
	ClaimableLanes(ctx context.Context, now time.Time) ([]int, error)

	// ClaimLaneHead returns the oldest unfinished item of lane if it is queued
	// and visible, marking it inflight until now+visibility and counting the
	// delivery. Returns nil, nil when the lane is empty or its head is not
	// claimable.
	ClaimLaneHead(ctx context.Context, lane int, now time.Time, visibility time.Duration) (*QueueItem, error)

	// AckQueueItem marks an item done.
	AckQueueItem(ctx context.Context, id string) error

	// NackQueueItem records a failed delivery. The item becomes visible again
	// at retryAt, or is dead-lettered once attempts reach maxAttempts.
	NackQueueItem(ctx context.Context, id, errMsg string, retryAt time.Time, maxAttempts int) (dead bool, err error)

	// RequeueExpiredQueueItems returns inflight items whose visibility
	// timeout passed to the queued state.
	RequeueExpiredQueueItems(ctx context.Context, now time.Time) (int, error)

	// QueueDepth counts queued and inflight items.
	QueueDepth(ctx context.Context) (int, error)

	CountDeadQueueItems(ctx context.Context) (int, error)
	ListDeadQueueItems(ctx context.Context, limit int) ([]QueueItem, error)

	// RequeueDeadQueueItem puts a dead item back at its original lane
	// position and clears the failed run recorded for it.
	RequeueDeadQueueItem(ctx context.Context, id string) error
}
