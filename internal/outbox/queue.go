// Package outbox holds messages on their way to the remote store: the durable
// queue, the delivery steps shared with the sync engine, and the direct-send
// path used at compose time.
package outbox

import (
	"github.com/Khushal-Kathad/Thryve-sub001/internal/bus"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/store"
	"go.uber.org/zap"
)

// QueueChange is the payload for queue.changed events.
type QueueChange struct {
	Count int `json:"count"`
}

// Queue is the pending message store. Every mutation publishes the new
// queue size so the pending badge and offline banner stay current.
type Queue struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
}

// NewQueue creates a queue backed by db.
func NewQueue(db *store.DB, b *bus.Bus, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{db: db, bus: b, logger: logger}
}

// Add persists m as pending with a zero retry count and returns its id.
func (q *Queue) Add(m store.PendingMessage) (string, error) {
	id, err := q.db.AddPending(m)
	if err != nil {
		return "", err
	}
	q.changed()
	return id, nil
}

// List returns all entries regardless of status. Order is not guaranteed.
func (q *Queue) List() ([]store.PendingMessage, error) {
	return q.db.ListPending()
}

// Get returns one entry, or nil if absent.
func (q *Queue) Get(id string) (*store.PendingMessage, error) {
	return q.db.GetPending(id)
}

// UpdateStatus sets status and retry count; unknown ids are ignored.
func (q *Queue) UpdateStatus(id string, status store.Status, retryCount int) error {
	if err := q.db.UpdatePendingStatus(id, status, retryCount); err != nil {
		return err
	}
	q.changed()
	return nil
}

// UpdateUploadedURL caches the uploaded image URL for id.
func (q *Queue) UpdateUploadedURL(id, url string) error {
	if err := q.db.UpdatePendingUploadedURL(id, url); err != nil {
		return err
	}
	q.changed()
	return nil
}

// Remove deletes id. Removing twice is not an error.
func (q *Queue) Remove(id string) error {
	if err := q.db.RemovePending(id); err != nil {
		return err
	}
	q.changed()
	return nil
}

// ResetForRetry makes a failed entry eligible for the next drain.
func (q *Queue) ResetForRetry(id string) error {
	if err := q.db.ResetPending(id); err != nil {
		return err
	}
	q.changed()
	return nil
}

// Count returns the number of entries.
func (q *Queue) Count() (int, error) {
	return q.db.PendingCount()
}

// DeliverableCount returns the number of entries that are not failed.
func (q *Queue) DeliverableCount() (int, error) {
	return q.db.DeliverableCount()
}

func (q *Queue) changed() {
	n, err := q.db.PendingCount()
	if err != nil {
		q.logger.Warn("failed to count queue", zap.Error(err))
		return
	}
	q.bus.Emit(bus.KindQueueChanged, QueueChange{Count: n})
}
