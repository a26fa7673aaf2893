// Package receipts records read acknowledgements and derives per-room
// unread counts.
package receipts

import (
	"context"
	"maps"
	"sync"

	"github.com/Khushal-Kathad/Thryve-sub001/internal/besteffort"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/remote"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/watch"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// DefaultMaxWatchedRooms caps ListenForUnreadCounts.
const DefaultMaxWatchedRooms = 10

// Channel is the remote receipt and message channel.
type Channel interface {
	AddReceipt(ctx context.Context, roomID, messageID string, r remote.Receipt) error
	SetReadCursor(ctx context.Context, roomID, userID string, lastRead int64) error
	ReadCursor(ctx context.Context, roomID, userID string) (int64, error)
	ListMessages(ctx context.Context, roomID string, after int64) ([]remote.StoredMessage, error)
	Watch(ctx context.Context, roomIDs []string) <-chan remote.Change
}

// Options tunes the tracker. Zero values take defaults.
type Options struct {
	MaxWatchedRooms int
	Clock           clock.Clock
}

// Tracker records receipts and read cursors and watches unread counts.
type Tracker struct {
	ch       Channel
	clock    clock.Clock
	maxRooms int
	logger   *zap.Logger

	mu       sync.Mutex
	listener watch.Slot
}

// NewTracker creates a tracker on ch.
func NewTracker(ch Channel, opts Options, logger *zap.Logger) *Tracker {
	if opts.MaxWatchedRooms <= 0 {
		opts.MaxWatchedRooms = DefaultMaxWatchedRooms
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{ch: ch, clock: opts.Clock, maxRooms: opts.MaxWatchedRooms, logger: logger}
}

// MarkAsRead adds userID to messageID's receipt set.
func (t *Tracker) MarkAsRead(ctx context.Context, roomID, messageID, userID string) besteffort.Result {
	return besteffort.Do(t.logger, "mark as read", func() error {
		return t.ch.AddReceipt(ctx, roomID, messageID, remote.Receipt{
			UserID: userID,
			ReadAt: t.clock.Now().UnixMilli(),
		})
	}, zap.String("room_id", roomID), zap.String("msg_id", messageID))
}

// MarkAllAsRead moves userID's read cursor in roomID to lastMessageTimestamp.
func (t *Tracker) MarkAllAsRead(ctx context.Context, roomID, userID string, lastMessageTimestamp int64) besteffort.Result {
	return besteffort.Do(t.logger, "mark all as read", func() error {
		return t.ch.SetReadCursor(ctx, roomID, userID, lastMessageTimestamp)
	}, zap.String("room_id", roomID))
}

// GetUnreadCount counts messages in roomID newer than lastReadTimestamp that
// userID did not author. Failures are logged and reported as 0.
func (t *Tracker) GetUnreadCount(ctx context.Context, roomID, userID string, lastReadTimestamp int64) int {
	n, err := t.unread(ctx, roomID, userID, lastReadTimestamp)
	if err != nil {
		t.logger.Warn("unread count failed", zap.String("room_id", roomID), zap.Error(err))
		return 0
	}
	return n
}

func (t *Tracker) unread(ctx context.Context, roomID, userID string, after int64) (int, error) {
	msgs, err := t.ch.ListMessages(ctx, roomID, after)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range msgs {
		if m.Timestamp > after && m.UserID != userID {
			n++
		}
	}
	return n, nil
}

// ListenForUnreadCounts watches the first MaxWatchedRooms of roomIDs and
// delivers the full room to unread count map whenever any of them changes.
// Starting a listener cancels the previous one.
func (t *Tracker) ListenForUnreadCounts(ctx context.Context, userID string, roomIDs []string, cb func(map[string]int)) *watch.Handle {
	rooms := roomIDs
	if len(rooms) > t.maxRooms {
		t.logger.Debug("unread listener truncated",
			zap.Int("requested", len(roomIDs)), zap.Int("watched", t.maxRooms))
		rooms = rooms[:t.maxRooms]
	}
	rooms = append([]string(nil), rooms...)

	h := watch.New(ctx)
	subCtx := h.Context()
	t.mu.Lock()
	t.listener.Replace(h)
	t.mu.Unlock()

	watched := make(map[string]bool, len(rooms))
	for _, r := range rooms {
		watched[r] = true
	}
	changes := t.ch.Watch(subCtx, rooms)

	go func() {
		counts := make(map[string]int, len(rooms))
		for _, r := range rooms {
			t.recount(subCtx, userID, r, counts)
		}
		t.deliver(subCtx, counts, cb)

		for {
			select {
			case change, ok := <-changes:
				if !ok {
					return
				}
				if change.Kind == remote.ChangeResync {
					for _, r := range rooms {
						t.recount(subCtx, userID, r, counts)
					}
					t.deliver(subCtx, counts, cb)
					continue
				}
				if !watched[change.RoomID] {
					continue
				}
				if change.Kind != remote.ChangeMessages && change.Kind != remote.ChangeCursor {
					continue
				}
				t.recount(subCtx, userID, change.RoomID, counts)
				t.deliver(subCtx, counts, cb)
			case <-subCtx.Done():
				return
			}
		}
	}()
	return h
}

// recount recomputes one room from scratch. On failure the previous count is kept.
func (t *Tracker) recount(ctx context.Context, userID, roomID string, counts map[string]int) {
	cursor, err := t.ch.ReadCursor(ctx, roomID, userID)
	if err == nil {
		var n int
		n, err = t.unread(ctx, roomID, userID, cursor)
		if err == nil {
			counts[roomID] = n
			return
		}
	}
	if ctx.Err() == nil {
		t.logger.Warn("recount unread failed", zap.String("room_id", roomID), zap.Error(err))
	}
}

func (t *Tracker) deliver(ctx context.Context, counts map[string]int, cb func(map[string]int)) {
	if ctx.Err() != nil {
		return
	}
	cb(maps.Clone(counts))
}

// Close cancels the active listener.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listener.Cancel()
}
