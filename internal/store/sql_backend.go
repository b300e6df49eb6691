package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/util"
)

// sqlBackend holds the queries shared by the SQLite and PostgreSQL stores.
// Queries are written with ? placeholders and rebound per dialect.
type sqlBackend struct {
	db      *sql.DB
	dialect string
	name    string
}

func (b *sqlBackend) q(query string) string {
	return rebind(b.dialect, query)
}

func (b *sqlBackend) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", models.ErrStorageUnavailable, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit transaction: %v", models.ErrStorageUnavailable, err)
	}
	return nil
}

// storageErr wraps a failed query with models.ErrStorageUnavailable. Row
// decoding errors keep their plain wrapping.
func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", models.ErrStorageUnavailable, op, err)
}

// Close closes the database connection.
func (b *sqlBackend) Close() error {
	slog.Debug(b.name + ".Close: closing database connection")
	err := b.db.Close()
	if err != nil {
		slog.Error(b.name+".Close failed", "error", err)
	}
	return err
}

func (b *sqlBackend) Ping(ctx context.Context) error {
	if err := b.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	return nil
}

// ---- Conversations and workflow commits ----

func (b *sqlBackend) LoadConversation(ctx context.Context, platform models.Platform, platformUserID string) (*models.Conversation, error) {
	now := time.Now().UTC()
	res, err := b.db.ExecContext(ctx, b.q(`INSERT INTO conversations (id, platform, platform_user_id, status, created_at, last_activity_at, version)
		VALUES (?, ?, ?, ?, ?, ?, 0) ON CONFLICT DO NOTHING`),
		util.NewID("conv_"), string(platform), platformUserID, string(models.ConversationActive), now, now)
	if err != nil {
		slog.Error(b.name+".LoadConversation insert failed", "error", err, "platform", platform, "platformUserID", platformUserID)
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Debug(b.name+".LoadConversation: created", "platform", platform, "platformUserID", platformUserID)
	}

	row := b.db.QueryRowContext(ctx, b.q(`SELECT `+conversationColumns+` FROM conversations WHERE platform = ? AND platform_user_id = ?`),
		string(platform), platformUserID)
	c, err := scanConversation(row)
	if err != nil {
		slog.Error(b.name+".LoadConversation select failed", "error", err, "platform", platform)
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return &c, nil
}

func (b *sqlBackend) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	row := b.db.QueryRowContext(ctx, b.q(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`), id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return &c, nil
}

func (b *sqlBackend) LoadRecentMessages(ctx context.Context, conversationID string, n int) ([]models.Message, int64, error) {
	var version int64
	err := b.db.QueryRowContext(ctx, b.q(`SELECT version FROM conversations WHERE id = ?`), conversationID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, models.ErrNotFound
	}
	if err != nil {
		return nil, 0, storageErr("load conversation version", err)
	}
	if n == 0 {
		return []models.Message{}, version, nil
	}
	limit := n
	if limit < 0 {
		limit = 1<<31 - 1
	}

	rows, err := b.db.QueryContext(ctx, b.q(`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ?
		ORDER BY sequence_number DESC LIMIT ?`), conversationID, limit)
	if err != nil {
		slog.Error(b.name+".LoadRecentMessages query failed", "error", err, "conversationID", conversationID)
		return nil, 0, storageErr("load recent messages", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storageErr("iterate messages", err)
	}
	// Oldest first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, version, nil
}

func (b *sqlBackend) GetRunByInbound(ctx context.Context, conversationID, inboundExternalID string) (*models.WorkflowRun, error) {
	row := b.db.QueryRowContext(ctx, b.q(`SELECT `+runColumns+` FROM workflow_runs WHERE conversation_id = ? AND inbound_external_id = ?`),
		conversationID, inboundExternalID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &r, nil
}

func (b *sqlBackend) conflict(ctx context.Context, tx *sql.Tx, conversationID string, expected int64) error {
	var actual int64
	err := tx.QueryRowContext(ctx, b.q(`SELECT version FROM conversations WHERE id = ?`), conversationID).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read conversation version: %w", err)
	}
	return &models.ConflictError{ConversationID: conversationID, ExpectedVersion: expected, ActualVersion: actual}
}

func (b *sqlBackend) insertRun(ctx context.Context, tx *sql.Tx, run models.WorkflowRun) (int64, error) {
	stages, err := json.Marshal(run.StagesExecuted)
	if err != nil {
		return 0, fmt.Errorf("marshal stages: %w", err)
	}
	res, err := tx.ExecContext(ctx, b.q(`INSERT INTO workflow_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`),
		run.ID, run.ConversationID, run.InboundExternalID, string(stages), string(run.Outcome), run.Degraded,
		run.Attempts, nilIfEmpty(run.LastError), run.StartedAt.UTC(), nilIfZeroTime(run.FinishedAt))
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return res.RowsAffected()
}

func (b *sqlBackend) CommitRun(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	at := req.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	at = at.UTC()

	var result CommitResult
	err := b.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, b.q(`UPDATE conversations
			SET version = version + 1, last_activity_at = ?,
			    status = COALESCE(?, status), priority = COALESCE(?, priority)
			WHERE id = ? AND version = ?`),
			at, nilIfEmpty(string(req.NewStatus)), nilIfEmpty(string(req.NewPriority)), req.ConversationID, req.ExpectedVersion)
		if err != nil {
			return fmt.Errorf("bump conversation version: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return b.conflict(ctx, tx, req.ConversationID, req.ExpectedVersion)
		}

		var seq int64
		if err := tx.QueryRowContext(ctx, b.q(`SELECT COALESCE(MAX(sequence_number), 0) FROM messages WHERE conversation_id = ?`),
			req.ConversationID).Scan(&seq); err != nil {
			return fmt.Errorf("read max sequence: %w", err)
		}

		result.Messages = make([]models.Message, 0, len(req.Messages))
		for _, m := range req.Messages {
			seq++
			m.ConversationID = req.ConversationID
			m.SequenceNumber = seq
			if m.ID == "" {
				m.ID = util.NewID("msg_")
			}
			md, err := encodeMetadata(m.RawMetadata)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, b.q(`INSERT INTO messages (`+messageColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
				m.ID, m.ConversationID, m.SequenceNumber, nilIfEmpty(m.ExternalID), string(m.Platform), string(m.Direction),
				m.Text, m.Timestamp.UTC(), nilIfEmpty(md), nilIfEmpty(string(m.Intent)), nilIfNoScore(m.SentimentScore),
				m.Escalated, nilIfEmpty(m.WorkflowRunID)); err != nil {
				return fmt.Errorf("insert message: %w", err)
			}
			result.Messages = append(result.Messages, m)
		}

		if req.Run != nil {
			run := *req.Run
			run.ConversationID = req.ConversationID
			if _, err := tx.ExecContext(ctx, b.q(`DELETE FROM workflow_runs WHERE conversation_id = ? AND inbound_external_id = ? AND outcome = ?`),
				run.ConversationID, run.InboundExternalID, string(models.OutcomeFailed)); err != nil {
				return fmt.Errorf("clear failed run: %w", err)
			}
			n, err := b.insertRun(ctx, tx, run)
			if err != nil {
				return err
			}
			if n == 0 {
				// Another worker already finished this inbound.
				return &models.ConflictError{ConversationID: req.ConversationID, ExpectedVersion: req.ExpectedVersion, ActualVersion: req.ExpectedVersion + 1}
			}
		}

		if e := req.Escalation; e != nil {
			if _, err := tx.ExecContext(ctx, b.q(`INSERT INTO escalations (`+escalationColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
				e.ID, req.ConversationID, nilIfEmpty(e.WorkflowRunID), e.Reason, string(e.Priority), e.CreatedAt.UTC(),
				e.Resolved, nilIfZeroTime(e.ResolvedAt), nilIfEmpty(e.ResolvedBy)); err != nil {
				return fmt.Errorf("insert escalation: %w", err)
			}
		}

		if o := req.Outbox; o != nil {
			if _, err := b.enqueueOutbox(ctx, tx, req.ConversationID, o.Kind, o.PayloadJSON, o.DedupeKey, at); err != nil {
				return err
			}
		}

		if req.InboundExternalID != "" {
			if _, err := tx.ExecContext(ctx, b.q(`UPDATE inbound_events SET processed_at = ? WHERE platform = ? AND external_id = ?`),
				at, string(req.InboundPlatform), req.InboundExternalID); err != nil {
				return fmt.Errorf("mark inbound processed: %w", err)
			}
		}

		c, err := scanConversation(tx.QueryRowContext(ctx, b.q(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`), req.ConversationID))
		if err != nil {
			return fmt.Errorf("reload conversation: %w", err)
		}
		result.Conversation = c
		return nil
	})
	if err != nil {
		if models.IsConflict(err) {
			slog.Debug(b.name+".CommitRun conflict", "conversationID", req.ConversationID, "expectedVersion", req.ExpectedVersion)
		} else {
			slog.Error(b.name+".CommitRun failed", "error", err, "conversationID", req.ConversationID)
		}
		return nil, err
	}
	slog.Debug(b.name+".CommitRun succeeded", "conversationID", req.ConversationID, "version", result.Conversation.Version, "messages", len(result.Messages))
	return &result, nil
}

func (b *sqlBackend) RecordFailedRun(ctx context.Context, run models.WorkflowRun) error {
	run.Outcome = models.OutcomeFailed
	stages, err := json.Marshal(run.StagesExecuted)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}
	_, err = b.db.ExecContext(ctx, b.q(`INSERT INTO workflow_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (conversation_id, inbound_external_id) DO UPDATE SET
			stages = excluded.stages, attempts = excluded.attempts, last_error = excluded.last_error,
			finished_at = excluded.finished_at
		WHERE workflow_runs.outcome = 'failed'`),
		run.ID, run.ConversationID, run.InboundExternalID, string(stages), string(run.Outcome), run.Degraded,
		run.Attempts, nilIfEmpty(run.LastError), run.StartedAt.UTC(), nilIfZeroTime(run.FinishedAt))
	if err != nil {
		slog.Error(b.name+".RecordFailedRun failed", "error", err, "conversationID", run.ConversationID, "inbound", run.InboundExternalID)
		return fmt.Errorf("record failed run: %w", err)
	}
	return nil
}

// ---- Admin ----

func (b *sqlBackend) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	m, err := scanMessage(b.db.QueryRowContext(ctx, b.q(`SELECT `+messageColumns+` FROM messages WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	return &m, nil
}

func (b *sqlBackend) OverrideMessage(ctx context.Context, messageID, newText, actor string) (*models.MessageOverride, error) {
	o := models.MessageOverride{
		ID:        util.NewID("ovr_"),
		MessageID: messageID,
		NewText:   newText,
		Actor:     actor,
		CreatedAt: time.Now().UTC(),
	}
	err := b.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, b.q(`SELECT body FROM messages WHERE id = ?`), messageID).Scan(&o.PreviousText)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, b.q(`UPDATE messages SET body = ? WHERE id = ?`), newText, messageID); err != nil {
			return fmt.Errorf("update message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, b.q(`INSERT INTO message_overrides (id, message_id, previous_text, new_text, actor, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`), o.ID, o.MessageID, o.PreviousText, o.NewText, o.Actor, o.CreatedAt); err != nil {
			return fmt.Errorf("insert override: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info(b.name+".OverrideMessage: message overridden", "messageID", messageID, "actor", actor)
	return &o, nil
}

func (b *sqlBackend) ListOverrides(ctx context.Context, messageID string) ([]models.MessageOverride, error) {
	rows, err := b.db.QueryContext(ctx, b.q(`SELECT id, message_id, previous_text, new_text, actor, created_at
		FROM message_overrides WHERE message_id = ? ORDER BY created_at`), messageID)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	defer rows.Close()
	var out []models.MessageOverride
	for rows.Next() {
		var o models.MessageOverride
		if err := rows.Scan(&o.ID, &o.MessageID, &o.PreviousText, &o.NewText, &o.Actor, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (b *sqlBackend) GetEscalation(ctx context.Context, id string) (*models.EscalationRecord, error) {
	e, err := scanEscalation(b.db.QueryRowContext(ctx, b.q(`SELECT `+escalationColumns+` FROM escalations WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get escalation %s: %w", id, err)
	}
	return &e, nil
}

func (b *sqlBackend) ResolveEscalation(ctx context.Context, id, actor string) (*models.EscalationRecord, error) {
	_, err := b.db.ExecContext(ctx, b.q(`UPDATE escalations SET resolved = ?, resolved_at = ?, resolved_by = ?
		WHERE id = ? AND resolved = ?`), true, time.Now().UTC(), actor, id, false)
	if err != nil {
		return nil, fmt.Errorf("resolve escalation: %w", err)
	}
	return b.GetEscalation(ctx, id)
}

func (b *sqlBackend) CountOpenEscalations(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := b.db.QueryRowContext(ctx, b.q(`SELECT COUNT(*) FROM escalations WHERE conversation_id = ? AND resolved = ?`),
		conversationID, false).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open escalations: %w", err)
	}
	return n, nil
}

func (b *sqlBackend) ListConversations(ctx context.Context, filter models.ConversationFilter) ([]models.Conversation, error) {
	filter = filter.Normalize()
	var where []string
	var args []any
	if filter.Platform != "" {
		where = append(where, "c.platform = ?")
		args = append(args, string(filter.Platform))
	}
	if filter.Status != "" {
		where = append(where, "c.status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Priority != "" {
		where = append(where, "c.priority = ?")
		args = append(args, string(filter.Priority))
	}
	if filter.Escalated != nil {
		clause := "EXISTS (SELECT 1 FROM escalations e WHERE e.conversation_id = c.id)"
		if !*filter.Escalated {
			clause = "NOT " + clause
		}
		where = append(where, clause)
	}

	query := `SELECT c.id, c.platform, c.platform_user_id, c.status, c.priority, c.created_at, c.last_activity_at, c.version FROM conversations c`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY c.last_activity_at DESC, c.id LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := b.db.QueryContext(ctx, b.q(query), args...)
	if err != nil {
		slog.Error(b.name+".ListConversations failed", "error", err)
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()
	out := []models.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (b *sqlBackend) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 1<<31 - 1
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := b.db.QueryContext(ctx, b.q(`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ?
		ORDER BY sequence_number LIMIT ? OFFSET ?`), conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	out := []models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (b *sqlBackend) ListEscalations(ctx context.Context, resolved *bool, limit int) ([]models.EscalationRecord, error) {
	if limit <= 0 {
		limit = models.MaxListLimit
	}
	query := `SELECT ` + escalationColumns + ` FROM escalations`
	var args []any
	if resolved != nil {
		query += ` WHERE resolved = ?`
		args = append(args, *resolved)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := b.db.QueryContext(ctx, b.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list escalations: %w", err)
	}
	defer rows.Close()
	out := []models.EscalationRecord{}
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (b *sqlBackend) RunStats(ctx context.Context) (RunStats, error) {
	var st RunStats
	rows, err := b.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM workflow_runs GROUP BY outcome`)
	if err != nil {
		return st, fmt.Errorf("run stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return st, fmt.Errorf("scan run stats: %w", err)
		}
		switch models.RunOutcome(outcome) {
		case models.OutcomeReplied:
			st.Replied = n
		case models.OutcomeEscalated:
			st.Escalated = n
		case models.OutcomeFailed:
			st.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return st, err
	}
	if err := b.db.QueryRowContext(ctx, b.q(`SELECT COUNT(*) FROM workflow_runs WHERE degraded = ?`), true).Scan(&st.Degraded); err != nil {
		return st, fmt.Errorf("count degraded runs: %w", err)
	}
	return st, nil
}

// ---- Inbound events ----

func (b *sqlBackend) RecordInbound(ctx context.Context, msg models.CanonicalMessage) (bool, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("marshal inbound: %w", err)
	}
	res, err := b.db.ExecContext(ctx, b.q(`INSERT INTO inbound_events (platform, external_id, payload_json, received_at)
		VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`),
		string(msg.Platform), msg.ExternalID, string(payload), time.Now().UTC())
	if err != nil {
		slog.Error(b.name+".RecordInbound failed", "error", err, "platform", msg.Platform, "externalID", msg.ExternalID)
		return false, fmt.Errorf("record inbound: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record inbound rows affected: %w", err)
	}
	return n > 0, nil
}

func (b *sqlBackend) GetInbound(ctx context.Context, platform models.Platform, externalID string) (*models.CanonicalMessage, error) {
	var payload string
	err := b.db.QueryRowContext(ctx, b.q(`SELECT payload_json FROM inbound_events WHERE platform = ? AND external_id = ?`),
		string(platform), externalID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get inbound: %w", err)
	}
	var msg models.CanonicalMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return nil, fmt.Errorf("decode inbound %s: %w", externalID, err)
	}
	return &msg, nil
}

func (b *sqlBackend) IsProcessed(ctx context.Context, platform models.Platform, externalID string) (bool, error) {
	var processedAt sql.NullTime
	err := b.db.QueryRowContext(ctx, b.q(`SELECT processed_at FROM inbound_events WHERE platform = ? AND external_id = ?`),
		string(platform), externalID).Scan(&processedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check inbound processed: %w", err)
	}
	return processedAt.Valid, nil
}

// ---- Queue ----

func (b *sqlBackend) PushQueueItem(ctx context.Context, item QueueItem) (bool, error) {
	now := time.Now().UTC()
	if item.ID == "" {
		item.ID = util.GenerateRandomID("q_", 32)
	}
	visible := item.VisibleAt
	if visible.IsZero() {
		visible = now
	}
	res, err := b.db.ExecContext(ctx, b.q(`INSERT INTO queue_items
		(id, lane, conversation_key, platform, external_id, status, attempts, visible_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?) ON CONFLICT DO NOTHING`),
		item.ID, item.Lane, item.ConversationKey, string(item.Platform), item.ExternalID, string(QueueStatusQueued),
		visible.UTC(), now, now)
	if err != nil {
		slog.Error(b.name+".PushQueueItem failed", "error", err, "externalID", item.ExternalID)
		return false, fmt.Errorf("push queue item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *sqlBackend) ClaimableLanes(ctx context.Context, now time.Time) ([]int, error) {
	rows, err := b.db.QueryContext(ctx, b.q(`SELECT q.lane FROM queue_items q
		WHERE q.status = ? AND q.visible_at <= ?
		AND q.seq = (SELECT MIN(h.seq) FROM queue_items h WHERE h.lane = q.lane AND h.status IN (?, ?))
		ORDER BY q.lane`),
		string(QueueStatusQueued), now.UTC(), string(QueueStatusQueued), string(QueueStatusInflight))
	if err != nil {
		return nil, storageErr("list claimable lanes", err)
	}
	defer rows.Close()
	var lanes []int
	for rows.Next() {
		var lane int
		if err := rows.Scan(&lane); err != nil {
			return nil, storageErr("scan claimable lane", err)
		}
		lanes = append(lanes, lane)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list claimable lanes", err)
	}
	return lanes, nil
}

func (b *sqlBackend) ClaimLaneHead(ctx context.Context, lane int, now time.Time, visibility time.Duration) (*QueueItem, error) {
	now = now.UTC()
	var claimed *QueueItem
	err := b.withTx(ctx, func(tx *sql.Tx) error {
		head, err := scanQueueItem(tx.QueryRowContext(ctx, b.q(`SELECT `+queueColumns+` FROM queue_items
			WHERE lane = ? AND status IN (?, ?) ORDER BY seq LIMIT 1`),
			lane, string(QueueStatusQueued), string(QueueStatusInflight)))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read lane head: %w", err)
		}
		if head.Status != QueueStatusQueued || head.VisibleAt.After(now) {
			return nil
		}
		until := now.Add(visibility)
		res, err := tx.ExecContext(ctx, b.q(`UPDATE queue_items SET status = ?, attempts = attempts + 1, visible_at = ?, updated_at = ?
			WHERE id = ? AND status = ?`),
			string(QueueStatusInflight), until, now, head.ID, string(QueueStatusQueued))
		if err != nil {
			return fmt.Errorf("claim lane head: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		head.Status = QueueStatusInflight
		head.Attempts++
		head.VisibleAt = until
		head.UpdatedAt = now
		claimed = &head
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (b *sqlBackend) AckQueueItem(ctx context.Context, id string) error {
	res, err := b.db.ExecContext(ctx, b.q(`UPDATE queue_items SET status = ?, updated_at = ? WHERE id = ?`),
		string(QueueStatusDone), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("ack queue item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (b *sqlBackend) NackQueueItem(ctx context.Context, id, errMsg string, retryAt time.Time, maxAttempts int) (bool, error) {
	dead := false
	err := b.withTx(ctx, func(tx *sql.Tx) error {
		var attempts int
		err := tx.QueryRowContext(ctx, b.q(`SELECT attempts FROM queue_items WHERE id = ?`), id).Scan(&attempts)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read queue item: %w", err)
		}
		status := QueueStatusQueued
		if attempts >= maxAttempts {
			status = QueueStatusDead
			dead = true
		}
		_, err = tx.ExecContext(ctx, b.q(`UPDATE queue_items SET status = ?, visible_at = ?, last_error = ?, updated_at = ? WHERE id = ?`),
			string(status), retryAt.UTC(), nilIfEmpty(errMsg), time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("nack queue item: %w", err)
		}
		return nil
	})
	return dead, err
}

func (b *sqlBackend) RequeueExpiredQueueItems(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	res, err := b.db.ExecContext(ctx, b.q(`UPDATE queue_items SET status = ?, visible_at = ?, updated_at = ?
		WHERE status = ? AND visible_at <= ?`),
		string(QueueStatusQueued), now, now, string(QueueStatusInflight), now)
	if err != nil {
		return 0, fmt.Errorf("requeue expired items: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (b *sqlBackend) countQueue(ctx context.Context, statuses ...QueueStatus) (int, error) {
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, s := range statuses {
		placeholders[i] = "?"
		args[i] = string(s)
	}
	var n int
	err := b.db.QueryRowContext(ctx, b.q(`SELECT COUNT(*) FROM queue_items WHERE status IN (`+strings.Join(placeholders, ", ")+`)`), args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count queue items: %w", err)
	}
	return n, nil
}

func (b *sqlBackend) QueueDepth(ctx context.Context) (int, error) {
	return b.countQueue(ctx, QueueStatusQueued, QueueStatusInflight)
}

func (b *sqlBackend) CountDeadQueueItems(ctx context.Context) (int, error) {
	return b.countQueue(ctx, QueueStatusDead)
}

func (b *sqlBackend) ListDeadQueueItems(ctx context.Context, limit int) ([]QueueItem, error) {
	if limit <= 0 {
		limit = models.MaxListLimit
	}
	rows, err := b.db.QueryContext(ctx, b.q(`SELECT `+queueColumns+` FROM queue_items WHERE status = ? ORDER BY seq LIMIT ?`),
		string(QueueStatusDead), limit)
	if err != nil {
		return nil, fmt.Errorf("list dead queue items: %w", err)
	}
	defer rows.Close()
	out := []QueueItem{}
	for rows.Next() {
		q, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (b *sqlBackend) RequeueDeadQueueItem(ctx context.Context, id string) error {
	return b.withTx(ctx, func(tx *sql.Tx) error {
		item, err := scanQueueItem(tx.QueryRowContext(ctx, b.q(`SELECT `+queueColumns+` FROM queue_items WHERE id = ?`), id))
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read queue item: %w", err)
		}
		if item.Status != QueueStatusDead {
			return models.ErrNotFound
		}
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, b.q(`UPDATE queue_items SET status = ?, attempts = 0, visible_at = ?, updated_at = ? WHERE id = ?`),
			string(QueueStatusQueued), now, now, id); err != nil {
			return fmt.Errorf("requeue dead item: %w", err)
		}
		if _, err := tx.ExecContext(ctx, b.q(`DELETE FROM workflow_runs WHERE outcome = ? AND inbound_external_id = ?
			AND conversation_id IN (SELECT id FROM conversations WHERE platform = ? AND platform_user_id = ?)`),
			string(models.OutcomeFailed), item.ExternalID, string(item.Platform),
			strings.TrimPrefix(item.ConversationKey, string(item.Platform)+":")); err != nil {
			return fmt.Errorf("clear failed run: %w", err)
		}
		slog.Info(b.name+".RequeueDeadQueueItem: requeued", "id", id, "externalID", item.ExternalID)
		return nil
	})
}

// ---- Outbox ----

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (b *sqlBackend) enqueueOutbox(ctx context.Context, ex execer, conversationID, kind, payloadJSON, dedupeKey string, now time.Time) (string, error) {
	if dedupeKey != "" {
		var existing string
		err := ex.QueryRowContext(ctx, b.q(`SELECT id FROM outbox_messages WHERE dedupe_key = ? AND status NOT IN (?, ?) LIMIT 1`),
			dedupeKey, string(OutboxStatusSent), string(OutboxStatusCanceled)).Scan(&existing)
		if err == nil {
			slog.Debug(b.name+".EnqueueOutboxMessage: dedupe hit", "dedupeKey", dedupeKey, "existingID", existing)
			return existing, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("check outbox dedupe: %w", err)
		}
	}
	id := util.GenerateRandomID("outbox_", 32)
	_, err := ex.ExecContext(ctx, b.q(`INSERT INTO outbox_messages
		(id, conversation_id, kind, payload_json, status, attempts, dedupe_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)`),
		id, conversationID, kind, payloadJSON, string(OutboxStatusQueued), nilIfEmpty(dedupeKey), now.UTC(), now.UTC())
	if err != nil {
		return "", fmt.Errorf("insert outbox message: %w", err)
	}
	return id, nil
}

func (b *sqlBackend) EnqueueOutboxMessage(ctx context.Context, conversationID, kind, payloadJSON, dedupeKey string) (string, error) {
	id, err := b.enqueueOutbox(ctx, b.db, conversationID, kind, payloadJSON, dedupeKey, time.Now().UTC())
	if err != nil {
		slog.Error(b.name+".EnqueueOutboxMessage failed", "error", err, "conversationID", conversationID)
		return "", err
	}
	return id, nil
}

func (b *sqlBackend) ClaimDueOutboxMessages(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error) {
	now = now.UTC()
	var claimed []OutboxMessage
	err := b.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, b.q(`SELECT `+outboxColumns+` FROM outbox_messages
			WHERE status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
			ORDER BY created_at LIMIT ?`), string(OutboxStatusQueued), now, limit)
		if err != nil {
			return fmt.Errorf("select due outbox messages: %w", err)
		}
		var due []OutboxMessage
		for rows.Next() {
			m, err := scanOutboxMessage(rows)
			if err != nil {
				rows.Close()
				return err
			}
			due = append(due, m)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, m := range due {
			res, err := tx.ExecContext(ctx, b.q(`UPDATE outbox_messages SET status = ?, locked_at = ?, updated_at = ? WHERE id = ? AND status = ?`),
				string(OutboxStatusSending), now, now, m.ID, string(OutboxStatusQueued))
			if err != nil {
				return fmt.Errorf("claim outbox message: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				continue
			}
			locked := now
			m.Status = OutboxStatusSending
			m.LockedAt = &locked
			claimed = append(claimed, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (b *sqlBackend) MarkOutboxMessageSent(ctx context.Context, id string) error {
	_, err := b.db.ExecContext(ctx, b.q(`UPDATE outbox_messages SET status = ?, locked_at = NULL, updated_at = ? WHERE id = ?`),
		string(OutboxStatusSent), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark outbox sent: %w", err)
	}
	return nil
}

func (b *sqlBackend) FailOutboxMessage(ctx context.Context, id string, errMsg string, nextAttemptAt time.Time, maxAttempts int) error {
	return b.withTx(ctx, func(tx *sql.Tx) error {
		var attempts int
		err := tx.QueryRowContext(ctx, b.q(`SELECT attempts FROM outbox_messages WHERE id = ?`), id).Scan(&attempts)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read outbox message: %w", err)
		}
		attempts++
		status := OutboxStatusQueued
		if maxAttempts > 0 && attempts >= maxAttempts {
			status = OutboxStatusFailed
		}
		_, err = tx.ExecContext(ctx, b.q(`UPDATE outbox_messages SET status = ?, attempts = ?, next_attempt_at = ?, last_error = ?,
			locked_at = NULL, updated_at = ? WHERE id = ?`),
			string(status), attempts, nextAttemptAt.UTC(), nilIfEmpty(errMsg), time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("fail outbox message: %w", err)
		}
		return nil
	})
}

func (b *sqlBackend) RequeueStaleSendingMessages(ctx context.Context, staleBefore time.Time) (int, error) {
	res, err := b.db.ExecContext(ctx, b.q(`UPDATE outbox_messages SET status = ?, locked_at = NULL, updated_at = ?
		WHERE status = ? AND locked_at < ?`),
		string(OutboxStatusQueued), time.Now().UTC(), string(OutboxStatusSending), staleBefore.UTC())
	if err != nil {
		return 0, fmt.Errorf("requeue stale outbox messages: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
