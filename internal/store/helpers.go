package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nilIfZeroTime(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nilIfNoScore(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

// rebind rewrites ? placeholders into $n for PostgreSQL.
func rebind(dialect, query string) string {
	if dialect != BackendPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func encodeMetadata(md map[string]string) (string, error) {
	if len(md) == 0 {
		return "", nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("marshal raw metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(s string) map[string]string {
	if s == "" {
		return nil
	}
	md := make(map[string]string)
	if err := json.Unmarshal([]byte(s), &md); err != nil {
		return nil
	}
	return md
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const conversationColumns = `id, platform, platform_user_id, status, priority, created_at, last_activity_at, version`

func scanConversation(row rowScanner) (models.Conversation, error) {
	var c models.Conversation
	var priority sql.NullString
	err := row.Scan(&c.ID, &c.Platform, &c.PlatformUserID, &c.Status, &priority, &c.CreatedAt, &c.LastActivityAt, &c.Version)
	if err != nil {
		return c, err
	}
	c.Priority = models.Priority(priority.String)
	c.CreatedAt = c.CreatedAt.UTC()
	c.LastActivityAt = c.LastActivityAt.UTC()
	return c, nil
}

const messageColumns = `id, conversation_id, sequence_number, external_id, platform, direction, body, sent_at, raw_metadata, intent, sentiment_score, escalated, workflow_run_id`

func scanMessage(row rowScanner) (models.Message, error) {
	var m models.Message
	var externalID, metadata, intent, runID sql.NullString
	var score sql.NullFloat64
	err := row.Scan(&m.ID, &m.ConversationID, &m.SequenceNumber, &externalID, &m.Platform, &m.Direction,
		&m.Text, &m.Timestamp, &metadata, &intent, &score, &m.Escalated, &runID)
	if err != nil {
		return m, err
	}
	m.ExternalID = externalID.String
	m.RawMetadata = decodeMetadata(metadata.String)
	m.Intent = models.Intent(intent.String)
	if score.Valid {
		v := score.Float64
		m.SentimentScore = &v
	}
	m.WorkflowRunID = runID.String
	m.Timestamp = m.Timestamp.UTC()
	return m, nil
}

const runColumns = `id, conversation_id, inbound_external_id, stages, outcome, degraded, attempts, last_error, started_at, finished_at`

func scanRun(row rowScanner) (models.WorkflowRun, error) {
	var r models.WorkflowRun
	var stages, lastError sql.NullString
	var finished sql.NullTime
	err := row.Scan(&r.ID, &r.ConversationID, &r.InboundExternalID, &stages, &r.Outcome, &r.Degraded,
		&r.Attempts, &lastError, &r.StartedAt, &finished)
	if err != nil {
		return r, err
	}
	if stages.String != "" {
		if err := json.Unmarshal([]byte(stages.String), &r.StagesExecuted); err != nil {
			return r, fmt.Errorf("decode stages of run %s: %w", r.ID, err)
		}
	}
	r.LastError = lastError.String
	r.StartedAt = r.StartedAt.UTC()
	if finished.Valid {
		t := finished.Time.UTC()
		r.FinishedAt = &t
	}
	return r, nil
}

const escalationColumns = `id, conversation_id, workflow_run_id, reason, priority, created_at, resolved, resolved_at, resolved_by`

func scanEscalation(row rowScanner) (models.EscalationRecord, error) {
	var e models.EscalationRecord
	var runID, resolvedBy sql.NullString
	var resolvedAt sql.NullTime
	err := row.Scan(&e.ID, &e.ConversationID, &runID, &e.Reason, &e.Priority, &e.CreatedAt,
		&e.Resolved, &resolvedAt, &resolvedBy)
	if err != nil {
		return e, err
	}
	e.WorkflowRunID = runID.String
	e.ResolvedBy = resolvedBy.String
	e.CreatedAt = e.CreatedAt.UTC()
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		e.ResolvedAt = &t
	}
	return e, nil
}

const queueColumns = `id, seq, lane, conversation_key, platform, external_id, status, attempts, visible_at, last_error, created_at, updated_at`

func scanQueueItem(row rowScanner) (QueueItem, error) {
	var q QueueItem
	var lastError sql.NullString
	err := row.Scan(&q.ID, &q.Seq, &q.Lane, &q.ConversationKey, &q.Platform, &q.ExternalID, &q.Status,
		&q.Attempts, &q.VisibleAt, &lastError, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return q, err
	}
	q.LastError = lastError.String
	q.VisibleAt = q.VisibleAt.UTC()
	return q, nil
}

const outboxColumns = `id, conversation_id, kind, payload_json, status, attempts, next_attempt_at, dedupe_key, locked_at, last_error, created_at, updated_at`

// scanOutboxMessage scans an OutboxMessage from a row.
func scanOutboxMessage(row rowScanner) (OutboxMessage, error) {
	var m OutboxMessage
	var payloadJSON, dedupeKey, lastError sql.NullString
	var nextAttemptAt, lockedAt sql.NullTime
	err := row.Scan(
		&m.ID, &m.ConversationID, &m.Kind, &payloadJSON, &m.Status, &m.Attempts,
		&nextAttemptAt, &dedupeKey, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, fmt.Errorf("scan outbox message failed: %w", err)
	}
	m.PayloadJSON = payloadJSON.String
	m.DedupeKey = dedupeKey.String
	m.LastError = lastError.String
	if nextAttemptAt.Valid {
		m.NextAttemptAt = &nextAttemptAt.Time
	}
	if lockedAt.Valid {
		m.LockedAt = &lockedAt.Time
	}
	return m, nil
}
