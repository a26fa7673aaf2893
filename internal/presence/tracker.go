// Package presence broadcasts the local user's typing state and aggregates
// the typing state of other users in a room.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/Khushal-Kathad/Thryve-sub001/internal/besteffort"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/remote"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/watch"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	DefaultThrottle = 2 * time.Second
	DefaultExpiry   = 5 * time.Second
)

// Channel is the remote typing channel.
type Channel interface {
	SetTyping(ctx context.Context, roomID string, state remote.TypingState) error
	ClearTyping(ctx context.Context, roomID, userID string) error
	ListTyping(ctx context.Context, roomID string) ([]remote.TypingState, error)
	Watch(ctx context.Context, roomIDs []string) <-chan remote.Change
}

// Options tunes the tracker. Zero values take defaults.
type Options struct {
	Throttle time.Duration
	Expiry   time.Duration
	Clock    clock.Clock
}

// Tracker is a throttled, self-expiring typing broadcaster with at most one
// live subscription.
type Tracker struct {
	ch       Channel
	clock    clock.Clock
	throttle time.Duration
	expiry   time.Duration
	logger   *zap.Logger

	mu            sync.Mutex
	broadcasted   bool
	lastBroadcast time.Time
	expiryTimer   *clock.Timer
	listener      watch.Slot
}

// NewTracker creates a tracker on ch.
func NewTracker(ch Channel, opts Options, logger *zap.Logger) *Tracker {
	if opts.Throttle <= 0 {
		opts.Throttle = DefaultThrottle
	}
	if opts.Expiry <= 0 {
		opts.Expiry = DefaultExpiry
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		ch:       ch,
		clock:    opts.Clock,
		throttle: opts.Throttle,
		expiry:   opts.Expiry,
		logger:   logger,
	}
}

// SetTyping broadcasts that userID is typing in roomID. Calls within the
// throttle window of the previous broadcast are dropped. A successful
// broadcast restarts the timer that clears the state after the expiry.
func (t *Tracker) SetTyping(ctx context.Context, roomID, userID, userName string) besteffort.Result {
	t.mu.Lock()
	now := t.clock.Now()
	if t.broadcasted && now.Sub(t.lastBroadcast) < t.throttle {
		t.mu.Unlock()
		return besteffort.Result{Op: "set typing"}
	}
	t.broadcasted = true
	t.lastBroadcast = now
	t.mu.Unlock()

	res := besteffort.Do(t.logger, "set typing", func() error {
		return t.ch.SetTyping(ctx, roomID, remote.TypingState{
			UserID:    userID,
			UserName:  userName,
			Timestamp: now.UnixMilli(),
		})
	}, zap.String("room_id", roomID))
	if !res.OK() {
		return res
	}

	t.mu.Lock()
	if t.expiryTimer != nil {
		t.expiryTimer.Stop()
	}
	t.expiryTimer = t.clock.AfterFunc(t.expiry, func() {
		_ = t.clear(context.Background(), roomID, userID)
	})
	t.mu.Unlock()
	return res
}

// ClearTyping removes userID's typing state in roomID and cancels the
// pending expiry.
func (t *Tracker) ClearTyping(ctx context.Context, roomID, userID string) besteffort.Result {
	t.mu.Lock()
	if t.expiryTimer != nil {
		t.expiryTimer.Stop()
		t.expiryTimer = nil
	}
	t.mu.Unlock()
	return t.clear(ctx, roomID, userID)
}

func (t *Tracker) clear(ctx context.Context, roomID, userID string) besteffort.Result {
	return besteffort.Do(t.logger, "clear typing", func() error {
		return t.ch.ClearTyping(ctx, roomID, userID)
	}, zap.String("room_id", roomID))
}

// ListenForTyping delivers the live set of other users typing in roomID.
// Starting a listener cancels the previous one.
func (t *Tracker) ListenForTyping(ctx context.Context, roomID, currentUserID string, cb func([]remote.TypingState)) *watch.Handle {
	h := watch.New(ctx)
	subCtx := h.Context()
	t.mu.Lock()
	t.listener.Replace(h)
	t.mu.Unlock()

	changes := t.ch.Watch(subCtx, []string{roomID})
	go func() {
		t.refresh(subCtx, roomID, currentUserID, cb)
		for {
			select {
			case change, ok := <-changes:
				if !ok {
					return
				}
				resync := change.Kind == remote.ChangeResync
				if resync || (change.Kind == remote.ChangeTyping && change.RoomID == roomID) {
					t.refresh(subCtx, roomID, currentUserID, cb)
				}
			case <-subCtx.Done():
				return
			}
		}
	}()
	return h
}

func (t *Tracker) refresh(ctx context.Context, roomID, currentUserID string, cb func([]remote.TypingState)) {
	states, err := t.ch.ListTyping(ctx, roomID)
	if err != nil {
		if ctx.Err() == nil {
			t.logger.Warn("list typing failed", zap.String("room_id", roomID), zap.Error(err))
		}
		return
	}
	typing := Active(states, currentUserID, t.clock.Now(), t.expiry)
	if ctx.Err() != nil {
		return
	}
	cb(typing)
}

// Active filters out currentUserID and every state at least expiry old.
func Active(states []remote.TypingState, currentUserID string, now time.Time, expiry time.Duration) []remote.TypingState {
	nowMs := now.UnixMilli()
	out := make([]remote.TypingState, 0, len(states))
	for _, s := range states {
		if s.UserID == currentUserID {
			continue
		}
		if nowMs-s.Timestamp >= expiry.Milliseconds() {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Close stops the expiry timer and the active listener.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.expiryTimer != nil {
		t.expiryTimer.Stop()
		t.expiryTimer = nil
	}
	t.listener.Cancel()
}
