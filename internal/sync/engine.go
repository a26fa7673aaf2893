package sync

import (
	"cmp"
	"context"
	"slices"
	"strings"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/Khushal-Kathad/Thryve-sub001/internal/bus"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/outbox"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/status"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/store"
	"go.uber.org/zap"
)

// DefaultMaxRetries is the number of failed remote writes after which a
// message is marked failed and no longer retried automatically.
const DefaultMaxRetries = 3

// PendingStore is the subset of the queue the engine mutates.
type PendingStore interface {
	List() ([]store.PendingMessage, error)
	UpdateStatus(id string, status store.Status, retryCount int) error
	UpdateUploadedURL(id, url string) error
	Remove(id string) error
}

// Result is the tally of one drain.
type Result struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

// Options tunes the engine. Zero values take defaults.
type Options struct {
	MaxRetries int
	Interval   time.Duration
}

// Engine drains the pending message queue into the remote store, one
// message at a time in compose order.
type Engine struct {
	store      PendingStore
	deliverer  *outbox.Deliverer
	conn       outbox.Connectivity
	bus        *bus.Bus
	reconciler *Reconciler
	logger     *zap.Logger
	maxRetries int
	interval   time.Duration

	running atomic.Bool

	mu         gosync.Mutex
	onComplete func(Result)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a sync engine. reconciler may be nil.
func NewEngine(ps PendingStore, d *outbox.Deliverer, conn outbox.Connectivity, b *bus.Bus, r *Reconciler, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	return &Engine{
		store:      ps,
		deliverer:  d,
		conn:       conn,
		bus:        b,
		reconciler: r,
		logger:     logger,
		maxRetries: opts.MaxRetries,
		interval:   opts.Interval,
	}
}

// OnComplete registers the callback invoked after every drain, replacing
// any previous one. nil unregisters.
func (e *Engine) OnComplete(fn func(Result)) {
	e.mu.Lock()
	e.onComplete = fn
	e.mu.Unlock()
}

// Running reports whether a drain is in progress.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// SyncPendingMessages runs one drain. It returns a zero Result without doing
// any work when another drain is running or the remote store is unreachable.
func (e *Engine) SyncPendingMessages(ctx context.Context) Result {
	if !e.conn.Online() {
		return Result{}
	}
	if !e.running.CompareAndSwap(false, true) {
		return Result{}
	}

	res := e.drain(ctx)
	e.running.Store(false)

	e.complete(res)
	return res
}

func (e *Engine) drain(ctx context.Context) Result {
	var res Result

	msgs, err := e.store.List()
	if err != nil {
		e.logger.Error("failed to list pending messages", zap.Error(err))
		return res
	}
	slices.SortStableFunc(msgs, func(a, b store.PendingMessage) int {
		if c := cmp.Compare(a.ClientTimestamp, b.ClientTimestamp); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	attempted := 0
	for i := range msgs {
		m := &msgs[i]
		if m.Status == store.StatusFailed {
			continue
		}
		if attempted > 0 && !e.conn.Online() {
			e.logger.Info("connectivity lost, stopping drain", zap.Int("remaining", len(msgs)-i))
			break
		}
		if ctx.Err() != nil {
			e.logger.Info("drain cancelled", zap.Int("remaining", len(msgs)-i))
			break
		}
		attempted++

		if e.deliver(ctx, m) {
			res.Synced++
		} else {
			res.Failed++
		}
	}
	return res
}

// deliver runs the per-message delivery steps and reports success.
func (e *Engine) deliver(ctx context.Context, m *store.PendingMessage) bool {
	log := e.logger.With(zap.String("msg_id", m.ID), zap.String("room_id", m.RoomID))

	if err := e.store.UpdateStatus(m.ID, store.StatusUploading, m.RetryCount); err != nil {
		log.Error("failed to mark message uploading", zap.Error(err))
		return false
	}

	url, fresh, err := e.deliverer.ResolveImage(ctx, m)
	if err == nil {
		if fresh {
			m.UploadedImageURL = url
			if err := e.store.UpdateUploadedURL(m.ID, url); err != nil {
				log.Error("failed to cache uploaded image url", zap.Error(err))
			}
		}
		_, err = e.deliverer.Write(ctx, m, url)
	}
	if err != nil {
		e.recordFailure(log, m, err)
		return false
	}

	if err := e.store.Remove(m.ID); err != nil {
		log.Error("failed to remove delivered message", zap.Error(err))
	}
	log.Info("message synced", zap.String("preview", outbox.Preview(m.Message)))
	e.bus.Emit(bus.KindMessageDelivered, outbox.MessageEvent{
		ID:      m.ID,
		RoomID:  m.RoomID,
		Preview: outbox.Preview(m.Message),
	})
	return true
}

func (e *Engine) recordFailure(log *zap.Logger, m *store.PendingMessage, cause error) {
	retries := m.RetryCount + 1
	next := store.StatusPending
	if retries >= e.maxRetries {
		next = store.StatusFailed
	}
	if err := e.store.UpdateStatus(m.ID, next, retries); err != nil {
		log.Error("failed to record delivery failure", zap.Error(err))
	}
	log.Warn("message delivery failed",
		zap.Int("retry_count", retries),
		zap.String("status", string(next)),
		zap.Error(cause))

	if next == store.StatusFailed {
		e.bus.Emit(bus.KindMessageFailed, outbox.MessageEvent{
			ID:         m.ID,
			RoomID:     m.RoomID,
			Preview:    outbox.Preview(m.Message),
			RetryCount: retries,
			Error:      cause.Error(),
		})
	}
}

func (e *Engine) complete(res Result) {
	now := time.Now()
	if e.reconciler != nil {
		if err := e.reconciler.RecordDrain(res, now); err != nil {
			e.logger.Warn("failed to record drain checkpoint", zap.Error(err))
		}
	}
	e.bus.Publish(bus.Event{Kind: bus.KindSyncCompleted, Timestamp: now, Payload: res})
	if res.Synced > 0 || res.Failed > 0 {
		e.logger.Info("drain completed", zap.Int("synced", res.Synced), zap.Int("failed", res.Failed))
	}

	e.mu.Lock()
	fn := e.onComplete
	e.mu.Unlock()
	if fn != nil {
		fn(res)
	}
}

// Start drains on every transition to ONLINE, whenever a message is queued
// while online, and on a fixed interval.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	ch, unsub := e.bus.Subscribe("network.", 16)
	queued, unsubQueued := e.bus.Subscribe(bus.KindMessageQueued, 16)

	go func() {
		defer close(e.done)
		defer unsub()
		defer unsubQueued()

		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		for {
			select {
			case evt := <-ch:
				if change, ok := evt.Payload.(status.StatusChange); ok && change.To == status.Online {
					e.SyncPendingMessages(ctx)
				}
			case <-queued:
				if e.conn.Online() {
					e.SyncPendingMessages(ctx)
				}
			case <-ticker.C:
				e.SyncPendingMessages(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine and waits for an in-progress drain to return.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}
