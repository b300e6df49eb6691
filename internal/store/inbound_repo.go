// Package store provides the InboundRepo interface for durable, deduplicated inbound events.
package store

import (
	"context"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
)

// InboundRepo stores canonical inbound messages keyed by (platform, external id).
type InboundRepo interface {
	// RecordInbound upserts the canonical message. Returns false if the event
	// was already recorded (duplicate delivery).
	RecordInbound(ctx context.Context, msg models.CanonicalMessage) (bool, error)

	// GetInbound returns models.ErrNotFound when the event is unknown.
	GetInbound(ctx context.Context, platform models.Platform, externalID string) (*models.CanonicalMessage, error)

	// IsProcessed reports whether a committed run consumed the event.
	IsProcessed(ctx context.Context, platform models.Platform, externalID string) (bool, error)
}
