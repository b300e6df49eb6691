// Package queue routes inbound events into per-conversation lanes and runs
// them through a bounded worker pool.
//
// Items of one lane are processed strictly in enqueue order by at most one
// worker at a time. Lanes are independent, so a slow conversation only
// blocks the conversations hashed to the same lane.
package queue

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/store"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/util"
)

// Defaults.
const (
	DefaultLaneCount         = 64
	DefaultWorkers           = 8
	DefaultMaxDeliveries     = 5
	DefaultVisibilityTimeout = 2 * time.Minute
	DefaultPollInterval      = 250 * time.Millisecond
	DefaultRetryBase         = time.Second
	DefaultRetryMax          = time.Minute
)

// Handler processes one claimed item. A nil error acknowledges it.
type Handler func(ctx context.Context, item store.QueueItem) error

// DeadLetterFunc is called once an item is parked as dead.
type DeadLetterFunc func(ctx context.Context, item store.QueueItem, cause error)

// Repo is the durable state the dispatcher needs.
type Repo interface {
	store.InboundRepo
	store.QueueRepo
}

// Stats are the in-process counters of a dispatcher.
type Stats struct {
	Lanes        int    `json:"lanes"`
	Workers      int    `json:"workers"`
	ActiveRuns   int64  `json:"active_runs"`
	Processed    int64  `json:"processed"`
	Retried      int64  `json:"retried"`
	DeadLettered int64  `json:"dead_lettered"`
	LastError    string `json:"last_error,omitempty"`
}

// Dispatcher owns the lanes and the worker pool.
type Dispatcher struct {
	repo    Repo
	handler Handler

	laneCount     int
	workers       int
	maxDeliveries int
	visibility    time.Duration
	pollInterval  time.Duration
	retryBase     time.Duration
	retryMax      time.Duration
	onDead        DeadLetterFunc
	now           func() time.Time

	busy []atomic.Bool
	wake chan struct{}

	active       atomic.Int64
	processed    atomic.Int64
	retried      atomic.Int64
	deadLettered atomic.Int64

	mu      sync.Mutex
	lastErr string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLaneCount sets the number of lanes.
func WithLaneCount(n int) Option { return func(d *Dispatcher) { d.laneCount = n } }

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option { return func(d *Dispatcher) { d.workers = n } }

// WithMaxDeliveries sets the delivery count after which an item is dead-lettered.
func WithMaxDeliveries(n int) Option { return func(d *Dispatcher) { d.maxDeliveries = n } }

// WithVisibilityTimeout bounds how long a claimed item stays invisible.
func WithVisibilityTimeout(t time.Duration) Option { return func(d *Dispatcher) { d.visibility = t } }

// WithPollInterval sets how often idle workers rescan the lanes.
func WithPollInterval(t time.Duration) Option { return func(d *Dispatcher) { d.pollInterval = t } }

// WithRetryBackoff sets the redelivery delay range.
func WithRetryBackoff(base, max time.Duration) Option {
	return func(d *Dispatcher) { d.retryBase, d.retryMax = base, max }
}

// WithDeadLetterHandler registers the dead-letter callback.
func WithDeadLetterHandler(fn DeadLetterFunc) Option { return func(d *Dispatcher) { d.onDead = fn } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

// New creates a Dispatcher.
func New(repo Repo, handler Handler, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		repo:          repo,
		handler:       handler,
		laneCount:     DefaultLaneCount,
		workers:       DefaultWorkers,
		maxDeliveries: DefaultMaxDeliveries,
		visibility:    DefaultVisibilityTimeout,
		pollInterval:  DefaultPollInterval,
		retryBase:     DefaultRetryBase,
		retryMax:      DefaultRetryMax,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.laneCount < 1 {
		d.laneCount = 1
	}
	if d.workers < 1 {
		d.workers = 1
	}
	if d.maxDeliveries < 1 {
		d.maxDeliveries = 1
	}
	d.busy = make([]atomic.Bool, d.laneCount)
	d.wake = make(chan struct{}, d.workers)
	return d
}

// Lane maps a conversation key to its lane.
func Lane(conversationKey string, laneCount int) int {
	if laneCount < 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(conversationKey))
	return int(h.Sum32() % uint32(laneCount))
}

// Enqueue validates and durably records msg, then queues it on its lane.
// It returns false, nil for an event that was already received.
func (d *Dispatcher) Enqueue(ctx context.Context, msg models.CanonicalMessage) (bool, error) {
	if err := msg.Validate(); err != nil {
		return false, err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = d.now().UTC()
	}

	inserted, err := d.repo.RecordInbound(ctx, msg)
	if err != nil {
		return false, fmt.Errorf("record inbound: %w", err)
	}
	if !inserted {
		processed, err := d.repo.IsProcessed(ctx, msg.Platform, msg.ExternalID)
		if err != nil {
			return false, fmt.Errorf("check inbound: %w", err)
		}
		if processed {
			slog.Debug("Dispatcher.Enqueue: duplicate of processed event", "platform", msg.Platform, "externalID", msg.ExternalID)
			return false, nil
		}
	}

	key := msg.ConversationKey()
	lane := Lane(key, d.laneCount)
	pushed, err := d.repo.PushQueueItem(ctx, store.QueueItem{
		ID:              util.NewID("q_"),
		Lane:            lane,
		ConversationKey: key,
		Platform:        msg.Platform,
		ExternalID:      msg.ExternalID,
		VisibleAt:       d.now().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("push queue item: %w", err)
	}
	if pushed {
		d.signal()
	}
	if !inserted || !pushed {
		// A recorded but never queued event is queued again above.
		slog.Debug("Dispatcher.Enqueue: duplicate delivery", "platform", msg.Platform, "externalID", msg.ExternalID, "requeued", pushed)
		return false, nil
	}
	slog.Debug("Dispatcher.Enqueue: queued", "platform", msg.Platform, "externalID", msg.ExternalID, "lane", lane)
	return true, nil
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run starts the workers and blocks until ctx is canceled and every
// in-flight item has finished.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("Dispatcher.Run: starting workers", "workers", d.workers, "lanes", d.laneCount)
	var wg sync.WaitGroup
	for w := 0; w < d.workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			d.work(ctx, worker)
		}(w)
	}
	wg.Wait()
	slog.Info("Dispatcher.Run: workers stopped")
	return nil
}

func (d *Dispatcher) work(ctx context.Context, worker int) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	// Workers start their scans at different lanes.
	start := worker * d.laneCount / d.workers
	for {
		if ctx.Err() != nil {
			return
		}
		if d.scan(ctx, start) {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
		case <-ticker.C:
		}
	}
}

// scan asks the repo which lanes have a claimable head and visits those,
// starting from start. It reports whether any item was processed.
func (d *Dispatcher) scan(ctx context.Context, start int) bool {
	lanes, err := d.repo.ClaimableLanes(ctx, d.now().UTC())
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("Dispatcher.scan: listing claimable lanes failed", "error", err)
			d.setLastError(err)
		}
		return false
	}
	if len(lanes) == 0 {
		return false
	}
	// Lanes come back sorted; rotate so workers spread over them.
	first := sort.SearchInts(lanes, start%d.laneCount)
	did := false
	for i := range lanes {
		if ctx.Err() != nil {
			return did
		}
		lane := lanes[(first+i)%len(lanes)]
		if lane < 0 || lane >= d.laneCount {
			continue
		}
		if !d.busy[lane].CompareAndSwap(false, true) {
			continue
		}
		if d.runLaneHead(ctx, lane) {
			did = true
		}
		d.busy[lane].Store(false)
	}
	return did
}

// runLaneHead claims and processes the head of lane, if claimable. The
// caller holds the lane.
func (d *Dispatcher) runLaneHead(ctx context.Context, lane int) bool {
	item, err := d.repo.ClaimLaneHead(ctx, lane, d.now().UTC(), d.visibility)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("Dispatcher.runLaneHead: claim failed", "lane", lane, "error", err)
			d.setLastError(err)
		}
		return false
	}
	if item == nil {
		return false
	}
	d.process(ctx, *item)
	return true
}

// process runs the handler detached from ctx cancellation so shutdown lets
// in-flight runs finish within the visibility timeout.
func (d *Dispatcher) process(ctx context.Context, item store.QueueItem) {
	d.active.Add(1)
	defer d.active.Add(-1)

	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.visibility)
	defer cancel()

	slog.Debug("Dispatcher.process: running item", "id", item.ID, "externalID", item.ExternalID, "lane", item.Lane, "attempt", item.Attempts)
	err := d.handler(hctx, item)
	if err == nil {
		if err := d.repo.AckQueueItem(hctx, item.ID); err != nil {
			slog.Error("Dispatcher.process: ack failed", "id", item.ID, "error", err)
			d.setLastError(err)
			return
		}
		d.processed.Add(1)
		return
	}

	d.setLastError(err)
	maxDeliveries := d.maxDeliveries
	if errors.Is(err, models.ErrMalformedInbound) {
		maxDeliveries = 1
	}
	retryAt := d.now().UTC().Add(d.retryDelay(item.Attempts))
	dead, nerr := d.repo.NackQueueItem(hctx, item.ID, err.Error(), retryAt, maxDeliveries)
	if nerr != nil {
		slog.Error("Dispatcher.process: nack failed", "id", item.ID, "error", nerr)
		return
	}
	if !dead {
		d.retried.Add(1)
		slog.Warn("Dispatcher.process: item will be redelivered", "id", item.ID, "externalID", item.ExternalID, "attempt", item.Attempts, "retryAt", retryAt, "error", err)
		return
	}
	d.deadLettered.Add(1)
	slog.Error("Dispatcher.process: item dead-lettered", "id", item.ID, "externalID", item.ExternalID, "attempts", item.Attempts, "error", err)
	if d.onDead != nil {
		d.onDead(hctx, item, err)
	}
}

// retryDelay doubles from retryBase per delivery, capped at retryMax.
func (d *Dispatcher) retryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := d.retryBase
	for i := 1; i < attempts && delay < d.retryMax; i++ {
		delay *= 2
	}
	if d.retryMax > 0 && delay > d.retryMax {
		delay = d.retryMax
	}
	return delay
}

// RequeueExpired makes inflight items whose visibility timeout passed
// claimable again.
func (d *Dispatcher) RequeueExpired(ctx context.Context) (int, error) {
	n, err := d.repo.RequeueExpiredQueueItems(ctx, d.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("Dispatcher.RequeueExpired: requeued expired items", "count", n)
		d.signal()
	}
	return n, nil
}

// Requeue moves a dead-lettered item back to its lane.
func (d *Dispatcher) Requeue(ctx context.Context, id string) error {
	if err := d.repo.RequeueDeadQueueItem(ctx, id); err != nil {
		return err
	}
	d.signal()
	return nil
}

// Depth counts queued and inflight items.
func (d *Dispatcher) Depth(ctx context.Context) (int, error) {
	return d.repo.QueueDepth(ctx)
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	lastErr := d.lastErr
	d.mu.Unlock()
	return Stats{
		Lanes:        d.laneCount,
		Workers:      d.workers,
		ActiveRuns:   d.active.Load(),
		Processed:    d.processed.Load(),
		Retried:      d.retried.Load(),
		DeadLettered: d.deadLettered.Load(),
		LastError:    lastErr,
	}
}

func (d *Dispatcher) setLastError(err error) {
	d.mu.Lock()
	d.lastErr = err.Error()
	d.mu.Unlock()
}
