package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/Khushal-Kathad/Thryve-sub001/internal/remote"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/store"
	"github.com/aquilax/truncate"
	"go.uber.org/zap"
)

// Uploader is the media upload service.
type Uploader interface {
	Upload(ctx context.Context, blob remote.Blob, folder string) (*remote.UploadResult, error)
}

// MessageWriter appends records to the remote message store.
type MessageWriter interface {
	CreateMessage(ctx context.Context, roomID string, rec remote.Record) (string, error)
}

// UploadPolicy decides what happens to a message whose image upload failed.
type UploadPolicy string

const (
	// DegradeToText delivers the message without its image.
	DegradeToText UploadPolicy = "degrade"
	// RequireUpload fails the delivery attempt so the whole message is retried.
	RequireUpload UploadPolicy = "require"
)

// ParseUploadPolicy parses a config value. Empty means DegradeToText.
func ParseUploadPolicy(s string) (UploadPolicy, error) {
	switch UploadPolicy(s) {
	case "", DegradeToText:
		return DegradeToText, nil
	case RequireUpload:
		return RequireUpload, nil
	}
	return "", fmt.Errorf("unknown upload failure policy %q", s)
}

// ErrUploadFailed is returned by ResolveImage under RequireUpload.
var ErrUploadFailed = errors.New("image upload failed")

// Deliverer performs the remote side of delivering one message.
type Deliverer struct {
	uploader Uploader
	writer   MessageWriter
	policy   UploadPolicy
	folder   string
	logger   *zap.Logger
}

// NewDeliverer creates a deliverer uploading into folder.
func NewDeliverer(u Uploader, w MessageWriter, policy UploadPolicy, folder string, logger *zap.Logger) *Deliverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == "" {
		policy = DegradeToText
	}
	return &Deliverer{uploader: u, writer: w, policy: policy, folder: folder, logger: logger}
}

// Policy returns the configured upload failure policy.
func (d *Deliverer) Policy() UploadPolicy {
	return d.policy
}

// ResolveImage returns the image URL to send with m. A cached URL is reused
// without uploading. fresh is true when a new upload produced the URL, in
// which case the caller must persist it before writing.
func (d *Deliverer) ResolveImage(ctx context.Context, m *store.PendingMessage) (url string, fresh bool, err error) {
	if m.UploadedImageURL != "" {
		return m.UploadedImageURL, false, nil
	}
	if m.ImageData == nil {
		return "", false, nil
	}

	res, err := d.uploader.Upload(ctx, remote.Blob{
		Data:     m.ImageData.Data,
		FileName: m.ImageData.FileName,
		MIMEType: m.ImageData.MIMEType,
	}, d.folder)
	if err != nil {
		if d.policy == RequireUpload {
			return "", false, fmt.Errorf("%w: %v", ErrUploadFailed, err)
		}
		d.logger.Warn("image upload failed, sending as text",
			zap.String("msg_id", m.ID), zap.Error(err))
		return "", false, nil
	}
	return res.URL, true, nil
}

// Write sends m to the remote store with imageURL attached.
func (d *Deliverer) Write(ctx context.Context, m *store.PendingMessage, imageURL string) (string, error) {
	return d.writer.CreateMessage(ctx, m.RoomID, BuildRecord(m, imageURL))
}

// BuildRecord converts m into the remote record. The compose time is the
// authoritative timestamp.
func BuildRecord(m *store.PendingMessage, imageURL string) remote.Record {
	rec := remote.Record{
		Message:   m.Message,
		Timestamp: m.ClientTimestamp,
		Users:     m.Users,
		UserImage: m.UserImage,
		UserID:    m.UserID,
		ImageURL:  imageURL,
	}
	if m.ReplyTo != nil {
		rec.ReplyTo = &remote.ReplyTo{
			ID:       m.ReplyTo.ID,
			Message:  m.ReplyTo.Message,
			Users:    m.ReplyTo.Users,
			ImageURL: m.ReplyTo.ImageURL,
		}
	}
	return rec
}

// Preview shortens a message body for logs and events.
func Preview(s string) string {
	return truncate.Truncate(s, 40, "...", truncate.PositionEnd)
}
