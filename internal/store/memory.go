package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/util"
)

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

type inboundRecord struct {
	msg       models.CanonicalMessage
	processed bool
}

// InMemoryStore keeps everything in process memory behind one mutex. It is
// used by tests and when no database DSN is configured.
type InMemoryStore struct {
	mu sync.Mutex

	conversations map[string]*models.Conversation
	convByKey     map[string]string
	messages      map[string][]*models.Message
	messageByID   map[string]*models.Message
	runs          map[string]*models.WorkflowRun
	escalations   []*models.EscalationRecord
	overrides     []models.MessageOverride
	inbound       map[string]*inboundRecord
	// lanes holds queued and inflight items per lane, ordered by Seq. Done
	// items are dropped on ack; dead items move to deadItems.
	lanes     map[int][]*QueueItem
	queueByID map[string]*QueueItem
	queueKeys map[string]string
	deadItems map[string]*QueueItem
	queueSeq  int64
	outbox    []*OutboxMessage
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]*models.Conversation),
		convByKey:     make(map[string]string),
		messages:      make(map[string][]*models.Message),
		messageByID:   make(map[string]*models.Message),
		runs:          make(map[string]*models.WorkflowRun),
		inbound:       make(map[string]*inboundRecord),
		lanes:         make(map[int][]*QueueItem),
		queueByID:     make(map[string]*QueueItem),
		queueKeys:     make(map[string]string),
		deadItems:     make(map[string]*QueueItem),
	}
}

func runKey(conversationID, externalID string) string {
	return conversationID + "|" + externalID
}

func inboundKey(platform models.Platform, externalID string) string {
	return string(platform) + "|" + externalID
}

func copyMessage(m *models.Message) models.Message {
	out := *m
	if m.SentimentScore != nil {
		v := *m.SentimentScore
		out.SentimentScore = &v
	}
	if m.RawMetadata != nil {
		out.RawMetadata = make(map[string]string, len(m.RawMetadata))
		for k, v := range m.RawMetadata {
			out.RawMetadata[k] = v
		}
	}
	return out
}

func copyRun(r *models.WorkflowRun) *models.WorkflowRun {
	out := *r
	out.StagesExecuted = append([]models.Stage(nil), r.StagesExecuted...)
	return &out
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }

// Ping always succeeds.
func (s *InMemoryStore) Ping(ctx context.Context) error { return nil }

func (s *InMemoryStore) LoadConversation(ctx context.Context, platform models.Platform, platformUserID string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.ConversationKey(platform, platformUserID)
	if id, ok := s.convByKey[key]; ok {
		c := *s.conversations[id]
		return &c, nil
	}
	now := time.Now().UTC()
	c := &models.Conversation{
		ID:             util.NewID("conv_"),
		Platform:       platform,
		PlatformUserID: platformUserID,
		Status:         models.ConversationActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	s.conversations[c.ID] = c
	s.convByKey[key] = c.ID
	slog.Debug("InMemoryStore.LoadConversation: created", "conversationID", c.ID, "key", key)
	out := *c
	return &out, nil
}

func (s *InMemoryStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := *c
	return &out, nil
}

func (s *InMemoryStore) LoadRecentMessages(ctx context.Context, conversationID string, n int) ([]models.Message, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, 0, models.ErrNotFound
	}
	all := s.messages[conversationID]
	start := 0
	if n >= 0 && len(all) > n {
		start = len(all) - n
	}
	out := make([]models.Message, 0, len(all)-start)
	for _, m := range all[start:] {
		out = append(out, copyMessage(m))
	}
	return out, c.Version, nil
}

func (s *InMemoryStore) GetRunByInbound(ctx context.Context, conversationID, inboundExternalID string) (*models.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runKey(conversationID, inboundExternalID)]
	if !ok {
		return nil, nil
	}
	return copyRun(r), nil
}

func (s *InMemoryStore) CommitRun(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[req.ConversationID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if c.Version != req.ExpectedVersion {
		return nil, &models.ConflictError{ConversationID: c.ID, ExpectedVersion: req.ExpectedVersion, ActualVersion: c.Version}
	}
	if req.Run != nil {
		if existing, ok := s.runs[runKey(req.ConversationID, req.Run.InboundExternalID)]; ok && existing.Outcome != models.OutcomeFailed {
			return nil, &models.ConflictError{ConversationID: c.ID, ExpectedVersion: req.ExpectedVersion, ActualVersion: c.Version}
		}
	}

	at := req.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	next := int64(len(s.messages[c.ID])) + 1
	committed := make([]models.Message, 0, len(req.Messages))
	for i := range req.Messages {
		m := copyMessage(&req.Messages[i])
		m.ConversationID = c.ID
		m.SequenceNumber = next
		next++
		if m.ID == "" {
			m.ID = util.NewID("msg_")
		}
		stored := m
		s.messages[c.ID] = append(s.messages[c.ID], &stored)
		s.messageByID[stored.ID] = &stored
		committed = append(committed, copyMessage(&stored))
	}

	c.Version++
	c.LastActivityAt = at
	if req.NewStatus != "" {
		c.Status = req.NewStatus
	}
	if req.NewPriority != "" {
		c.Priority = req.NewPriority
	}

	if req.Run != nil {
		run := copyRun(req.Run)
		run.ConversationID = c.ID
		s.runs[runKey(c.ID, run.InboundExternalID)] = run
	}
	if req.Escalation != nil {
		rec := *req.Escalation
		rec.ConversationID = c.ID
		s.escalations = append(s.escalations, &rec)
	}
	if req.Outbox != nil {
		s.enqueueOutboxLocked(c.ID, req.Outbox.Kind, req.Outbox.PayloadJSON, req.Outbox.DedupeKey, at)
	}
	if req.InboundExternalID != "" {
		if rec, ok := s.inbound[inboundKey(req.InboundPlatform, req.InboundExternalID)]; ok {
			rec.processed = true
		}
	}

	slog.Debug("InMemoryStore.CommitRun succeeded", "conversationID", c.ID, "version", c.Version, "messages", len(committed))
	return &CommitResult{Conversation: *c, Messages: committed}, nil
}

func (s *InMemoryStore) RecordFailedRun(ctx context.Context, run models.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := runKey(run.ConversationID, run.InboundExternalID)
	if existing, ok := s.runs[key]; ok && existing.Outcome != models.OutcomeFailed {
		return nil
	}
	run.Outcome = models.OutcomeFailed
	s.runs[key] = copyRun(&run)
	return nil
}

// ---- Admin ----

func (s *InMemoryStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messageByID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := copyMessage(m)
	return &out, nil
}

func (s *InMemoryStore) OverrideMessage(ctx context.Context, messageID, newText, actor string) (*models.MessageOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messageByID[messageID]
	if !ok {
		return nil, models.ErrNotFound
	}
	o := models.MessageOverride{
		ID:           util.NewID("ovr_"),
		MessageID:    messageID,
		PreviousText: m.Text,
		NewText:      newText,
		Actor:        actor,
		CreatedAt:    time.Now().UTC(),
	}
	m.Text = newText
	s.overrides = append(s.overrides, o)
	return &o, nil
}

func (s *InMemoryStore) ListOverrides(ctx context.Context, messageID string) ([]models.MessageOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.MessageOverride
	for _, o := range s.overrides {
		if o.MessageID == messageID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *InMemoryStore) GetEscalation(ctx context.Context, id string) (*models.EscalationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.escalations {
		if e.ID == id {
			out := *e
			return &out, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *InMemoryStore) ResolveEscalation(ctx context.Context, id, actor string) (*models.EscalationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.escalations {
		if e.ID != id {
			continue
		}
		if !e.Resolved {
			now := time.Now().UTC()
			e.Resolved = true
			e.ResolvedAt = &now
			e.ResolvedBy = actor
		}
		out := *e
		return &out, nil
	}
	return nil, models.ErrNotFound
}

func (s *InMemoryStore) CountOpenEscalations(ctx context.Context, conversationID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.escalations {
		if e.ConversationID == conversationID && !e.Resolved {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) ListConversations(ctx context.Context, filter models.ConversationFilter) ([]models.Conversation, error) {
	filter = filter.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()

	escalated := make(map[string]bool)
	for _, e := range s.escalations {
		escalated[e.ConversationID] = true
	}

	var matched []models.Conversation
	for _, c := range s.conversations {
		if filter.Platform != "" && c.Platform != filter.Platform {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if filter.Priority != "" && c.Priority != filter.Priority {
			continue
		}
		if filter.Escalated != nil && escalated[c.ID] != *filter.Escalated {
			continue
		}
		matched = append(matched, *c)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].LastActivityAt.Equal(matched[j].LastActivityAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].LastActivityAt.After(matched[j].LastActivityAt)
	})
	if filter.Offset >= len(matched) {
		return []models.Conversation{}, nil
	}
	end := filter.Offset + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[filter.Offset:end], nil
}

func (s *InMemoryStore) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.messages[conversationID]
	if offset >= len(all) {
		return []models.Message{}, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]models.Message, 0, end-offset)
	for _, m := range all[offset:end] {
		out = append(out, copyMessage(m))
	}
	return out, nil
}

func (s *InMemoryStore) ListEscalations(ctx context.Context, resolved *bool, limit int) ([]models.EscalationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.EscalationRecord{}
	for i := len(s.escalations) - 1; i >= 0; i-- {
		e := s.escalations[i]
		if resolved != nil && e.Resolved != *resolved {
			continue
		}
		out = append(out, *e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) RunStats(ctx context.Context) (RunStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st RunStats
	for _, r := range s.runs {
		switch r.Outcome {
		case models.OutcomeReplied:
			st.Replied++
		case models.OutcomeEscalated:
			st.Escalated++
		case models.OutcomeFailed:
			st.Failed++
		}
		if r.Degraded {
			st.Degraded++
		}
	}
	return st, nil
}

// ---- Inbound ----

func (s *InMemoryStore) RecordInbound(ctx context.Context, msg models.CanonicalMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := inboundKey(msg.Platform, msg.ExternalID)
	if _, ok := s.inbound[key]; ok {
		return false, nil
	}
	s.inbound[key] = &inboundRecord{msg: msg}
	return true, nil
}

func (s *InMemoryStore) GetInbound(ctx context.Context, platform models.Platform, externalID string) (*models.CanonicalMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.inbound[inboundKey(platform, externalID)]
	if !ok {
		return nil, models.ErrNotFound
	}
	msg := rec.msg
	return &msg, nil
}

func (s *InMemoryStore) IsProcessed(ctx context.Context, platform models.Platform, externalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.inbound[inboundKey(platform, externalID)]
	return ok && rec.processed, nil
}

// ---- Queue ----

func (s *InMemoryStore) PushQueueItem(ctx context.Context, item QueueItem) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := inboundKey(item.Platform, item.ExternalID)
	if _, ok := s.queueKeys[key]; ok {
		return false, nil
	}
	now := time.Now().UTC()
	s.queueSeq++
	item.Seq = s.queueSeq
	if item.ID == "" {
		item.ID = util.GenerateRandomID("q_", 32)
	}
	item.Status = QueueStatusQueued
	item.Attempts = 0
	if item.VisibleAt.IsZero() {
		item.VisibleAt = now
	}
	item.CreatedAt = now
	item.UpdatedAt = now
	q := &item
	s.lanes[q.Lane] = append(s.lanes[q.Lane], q)
	s.queueByID[q.ID] = q
	s.queueKeys[key] = q.ID
	return true, nil
}

// removeFromLaneLocked unlinks q from its lane FIFO.
func (s *InMemoryStore) removeFromLaneLocked(q *QueueItem) {
	items := s.lanes[q.Lane]
	for i, it := range items {
		if it == q {
			items = append(items[:i:i], items[i+1:]...)
			break
		}
	}
	if len(items) == 0 {
		delete(s.lanes, q.Lane)
		return
	}
	s.lanes[q.Lane] = items
}

// insertInLaneLocked puts q back at its Seq position.
func (s *InMemoryStore) insertInLaneLocked(q *QueueItem) {
	items := s.lanes[q.Lane]
	i := sort.Search(len(items), func(i int) bool { return items[i].Seq > q.Seq })
	items = append(items, nil)
	copy(items[i+1:], items[i:])
	items[i] = q
	s.lanes[q.Lane] = items
}

func claimable(head *QueueItem, now time.Time) bool {
	return head.Status == QueueStatusQueued && !head.VisibleAt.After(now)
}

func (s *InMemoryStore) ClaimableLanes(ctx context.Context, now time.Time) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int
	for lane, items := range s.lanes {
		if claimable(items[0], now) {
			out = append(out, lane)
		}
	}
	sort.Ints(out)
	return out, nil
}

func (s *InMemoryStore) ClaimLaneHead(ctx context.Context, lane int, now time.Time, visibility time.Duration) (*QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.lanes[lane]
	if len(items) == 0 || !claimable(items[0], now) {
		return nil, nil
	}
	q := items[0]
	q.Status = QueueStatusInflight
	q.Attempts++
	q.VisibleAt = now.Add(visibility)
	q.UpdatedAt = now
	out := *q
	return &out, nil
}

func (s *InMemoryStore) AckQueueItem(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queueByID[id]
	if !ok {
		return models.ErrNotFound
	}
	// Processed inbound events are deduplicated by IsProcessed, so the
	// finished item can go.
	s.removeFromLaneLocked(q)
	delete(s.queueByID, id)
	delete(s.queueKeys, inboundKey(q.Platform, q.ExternalID))
	return nil
}

func (s *InMemoryStore) NackQueueItem(ctx context.Context, id, errMsg string, retryAt time.Time, maxAttempts int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queueByID[id]
	if !ok {
		return false, models.ErrNotFound
	}
	q.LastError = errMsg
	q.UpdatedAt = time.Now().UTC()
	if q.Attempts >= maxAttempts {
		q.Status = QueueStatusDead
		s.removeFromLaneLocked(q)
		s.deadItems[id] = q
		return true, nil
	}
	q.Status = QueueStatusQueued
	q.VisibleAt = retryAt
	return false, nil
}

func (s *InMemoryStore) RequeueExpiredQueueItems(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, items := range s.lanes {
		for _, q := range items {
			if q.Status == QueueStatusInflight && !q.VisibleAt.After(now) {
				q.Status = QueueStatusQueued
				q.VisibleAt = now
				q.UpdatedAt = now
				n++
			}
		}
	}
	return n, nil
}

func (s *InMemoryStore) QueueDepth(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, items := range s.lanes {
		n += len(items)
	}
	return n, nil
}

func (s *InMemoryStore) CountDeadQueueItems(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deadItems), nil
}

func (s *InMemoryStore) ListDeadQueueItems(ctx context.Context, limit int) ([]QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]QueueItem, 0, len(s.deadItems))
	for _, q := range s.deadItems {
		out = append(out, *q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) RequeueDeadQueueItem(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.deadItems[id]
	if !ok {
		return models.ErrNotFound
	}
	delete(s.deadItems, id)
	now := time.Now().UTC()
	q.Status = QueueStatusQueued
	q.Attempts = 0
	q.VisibleAt = now
	q.UpdatedAt = now
	s.insertInLaneLocked(q)
	if convID, ok := s.convByKey[q.ConversationKey]; ok {
		key := runKey(convID, q.ExternalID)
		if r, ok := s.runs[key]; ok && r.Outcome == models.OutcomeFailed {
			delete(s.runs, key)
		}
	}
	return nil
}

// ---- Outbox ----

func (s *InMemoryStore) enqueueOutboxLocked(conversationID, kind, payloadJSON, dedupeKey string, now time.Time) string {
	if dedupeKey != "" {
		for _, m := range s.outbox {
			if m.DedupeKey == dedupeKey && m.Status != OutboxStatusSent && m.Status != OutboxStatusCanceled {
				return m.ID
			}
		}
	}
	m := &OutboxMessage{
		ID:             util.GenerateRandomID("outbox_", 32),
		ConversationID: conversationID,
		Kind:           kind,
		PayloadJSON:    payloadJSON,
		Status:         OutboxStatusQueued,
		DedupeKey:      dedupeKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.outbox = append(s.outbox, m)
	return m.ID
}

func (s *InMemoryStore) EnqueueOutboxMessage(ctx context.Context, conversationID, kind, payloadJSON, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enqueueOutboxLocked(conversationID, kind, payloadJSON, dedupeKey, time.Now().UTC()), nil
}

func (s *InMemoryStore) ClaimDueOutboxMessages(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []OutboxMessage
	for _, m := range s.outbox {
		if len(out) >= limit {
			break
		}
		if m.Status != OutboxStatusQueued {
			continue
		}
		if m.NextAttemptAt != nil && m.NextAttemptAt.After(now) {
			continue
		}
		locked := now
		m.Status = OutboxStatusSending
		m.LockedAt = &locked
		m.UpdatedAt = now
		out = append(out, *m)
	}
	return out, nil
}

func (s *InMemoryStore) findOutboxLocked(id string) (*OutboxMessage, error) {
	for _, m := range s.outbox {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, fmt.Errorf("outbox message %s: %w", id, models.ErrNotFound)
}

func (s *InMemoryStore) MarkOutboxMessageSent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.findOutboxLocked(id)
	if err != nil {
		return err
	}
	m.Status = OutboxStatusSent
	m.LockedAt = nil
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) FailOutboxMessage(ctx context.Context, id string, errMsg string, nextAttemptAt time.Time, maxAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.findOutboxLocked(id)
	if err != nil {
		return err
	}
	m.Attempts++
	m.LastError = errMsg
	m.LockedAt = nil
	m.UpdatedAt = time.Now().UTC()
	if maxAttempts > 0 && m.Attempts >= maxAttempts {
		m.Status = OutboxStatusFailed
		return nil
	}
	next := nextAttemptAt
	m.Status = OutboxStatusQueued
	m.NextAttemptAt = &next
	return nil
}

func (s *InMemoryStore) RequeueStaleSendingMessages(ctx context.Context, staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.outbox {
		if m.Status == OutboxStatusSending && m.LockedAt != nil && m.LockedAt.Before(staleBefore) {
			m.Status = OutboxStatusQueued
			m.LockedAt = nil
			n++
		}
	}
	return n, nil
}

// Outbox returns a snapshot of every outbox message (for tests).
func (s *InMemoryStore) Outbox() []OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OutboxMessage, 0, len(s.outbox))
	for _, m := range s.outbox {
		out = append(out, *m)
	}
	return out
}
