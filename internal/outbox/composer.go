package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Khushal-Kathad/Thryve-sub001/internal/bus"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrEmptyDraft is returned when a draft has neither text nor image.
var ErrEmptyDraft = errors.New("draft has no text or image")

// Connectivity reports whether the remote store is reachable.
type Connectivity interface {
	Online() bool
}

// Draft is a message as composed by the user.
type Draft struct {
	RoomID    string
	UserID    string
	Users     string
	UserImage string
	Message   string
	Image     *store.ImageData
	ReplyTo   *store.ReplyRef
}

// SendResult reports where a sent draft ended up.
type SendResult struct {
	ID        string
	Delivered bool
	Queued    bool
}

// MessageEvent is the payload for message.* events.
type MessageEvent struct {
	ID         string `json:"id"`
	RoomID     string `json:"roomId"`
	Preview    string `json:"preview"`
	RetryCount int    `json:"retryCount,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Composer is the compose-time send path: deliver directly when online,
// otherwise (or on any failure) hand the message to the queue.
type Composer struct {
	queue     *Queue
	deliverer *Deliverer
	conn      Connectivity
	bus       *bus.Bus
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.Mutex
	lastTS int64
}

// NewComposer creates a composer.
func NewComposer(q *Queue, d *Deliverer, conn Connectivity, b *bus.Bus, logger *zap.Logger) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{
		queue:     q,
		deliverer: d,
		conn:      conn,
		bus:       b,
		logger:    logger,
		now:       time.Now,
	}
}

// Send stamps the draft with an id and compose time and delivers or queues it.
// Direct delivery is skipped while older messages are still queued so that
// delivery order matches compose order.
func (c *Composer) Send(ctx context.Context, d Draft) (*SendResult, error) {
	if d.Message == "" && d.Image == nil {
		return nil, ErrEmptyDraft
	}
	if d.RoomID == "" {
		return nil, fmt.Errorf("draft has no room")
	}

	m := store.PendingMessage{
		ID:              uuid.NewString(),
		RoomID:          d.RoomID,
		UserID:          d.UserID,
		Users:           d.Users,
		UserImage:       d.UserImage,
		Message:         d.Message,
		ImageData:       d.Image,
		ReplyTo:         d.ReplyTo,
		ClientTimestamp: c.stamp(),
		Status:          store.StatusPending,
	}

	if c.conn.Online() && c.queueEmpty() {
		err := c.deliver(ctx, &m)
		if err == nil {
			c.logger.Info("message delivered", zap.String("msg_id", m.ID), zap.String("room_id", m.RoomID))
			c.bus.Emit(bus.KindMessageDelivered, MessageEvent{ID: m.ID, RoomID: m.RoomID, Preview: Preview(m.Message)})
			return &SendResult{ID: m.ID, Delivered: true}, nil
		}
		c.logger.Warn("direct send failed, queueing",
			zap.String("msg_id", m.ID), zap.String("preview", Preview(m.Message)), zap.Error(err))
	}

	if _, err := c.queue.Add(m); err != nil {
		return nil, fmt.Errorf("queue message: %w", err)
	}
	c.bus.Emit(bus.KindMessageQueued, MessageEvent{ID: m.ID, RoomID: m.RoomID, Preview: Preview(m.Message)})
	return &SendResult{ID: m.ID, Queued: true}, nil
}

// deliver uploads and writes m. A URL obtained by a successful upload is
// left on m so a queued retry does not upload again.
func (c *Composer) deliver(ctx context.Context, m *store.PendingMessage) error {
	url, _, err := c.deliverer.ResolveImage(ctx, m)
	if err != nil {
		return err
	}
	m.UploadedImageURL = url
	_, err = c.deliverer.Write(ctx, m, url)
	return err
}

// stamp returns the compose time in ms, strictly increasing per composer so
// two drafts sent in the same millisecond keep their order.
func (c *Composer) stamp() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.now().UnixMilli()
	if ts <= c.lastTS {
		ts = c.lastTS + 1
	}
	c.lastTS = ts
	return ts
}

// queueEmpty reports whether nothing deliverable is queued. Failed entries
// wait for a manual retry and do not hold back new drafts.
func (c *Composer) queueEmpty() bool {
	n, err := c.queue.DeliverableCount()
	if err != nil {
		c.logger.Warn("failed to count queue", zap.Error(err))
		return false
	}
	return n == 0
}
