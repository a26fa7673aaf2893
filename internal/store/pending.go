package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when no pending message has the given id.
	ErrNotFound = errors.New("pending message not found")
	// ErrDuplicateID is returned when adding a message whose id is already queued.
	ErrDuplicateID = errors.New("pending message id already exists")
	// ErrEmptyMessage is returned when a message has neither text nor image.
	ErrEmptyMessage = errors.New("pending message has no text or image")
)

const pendingColumns = `id, room_id, user_id, users, user_image, message,
	image_data, image_mime, image_name, uploaded_image_url, reply_to,
	client_timestamp, status, retry_count`

// AddPending persists m with status pending and a zero retry count.
// An empty ID is replaced with a fresh UUID. Returns the stored id.
func (db *DB) AddPending(m PendingMessage) (string, error) {
	if !m.HasContent() {
		return "", ErrEmptyMessage
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	var replyTo sql.NullString
	if m.ReplyTo != nil {
		b, err := json.Marshal(m.ReplyTo)
		if err != nil {
			return "", fmt.Errorf("encode reply_to: %w", err)
		}
		replyTo = sql.NullString{String: string(b), Valid: true}
	}
	var (
		imageData        []byte
		imageMIME, image string
	)
	if m.ImageData != nil {
		imageData = m.ImageData.Data
		if imageData == nil {
			imageData = []byte{}
		}
		imageMIME = m.ImageData.MIMEType
		image = m.ImageData.FileName
	}

	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO pending_messages (`+pendingColumns+`, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', 0, ?, ?)`,
		m.ID, m.RoomID, m.UserID, m.Users, m.UserImage, m.Message,
		imageData, imageMIME, image, m.UploadedImageURL, replyTo,
		m.ClientTimestamp, now, now)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return "", fmt.Errorf("%w: %s", ErrDuplicateID, m.ID)
		}
		return "", fmt.Errorf("insert pending message: %w", err)
	}
	return m.ID, nil
}

// ListPending returns every pending message regardless of status.
func (db *DB) ListPending() ([]PendingMessage, error) {
	rows, err := db.Query(`SELECT ` + pendingColumns + ` FROM pending_messages ORDER BY client_timestamp ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []PendingMessage
	for rows.Next() {
		m, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// GetPending returns a single pending message, or nil if it does not exist.
func (db *DB) GetPending(id string) (*PendingMessage, error) {
	row := db.QueryRow(`SELECT `+pendingColumns+` FROM pending_messages WHERE id = ?`, id)
	m, err := scanPending(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// UpdatePendingStatus sets status and retry count. Unknown ids are ignored.
func (db *DB) UpdatePendingStatus(id string, status Status, retryCount int) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE pending_messages SET status = ?, retry_count = ?, updated_at = ? WHERE id = ?`,
		string(status), retryCount, now, id)
	return err
}

// UpdatePendingUploadedURL records the uploaded image URL. Status is untouched.
func (db *DB) UpdatePendingUploadedURL(id, url string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE pending_messages SET uploaded_image_url = ?, updated_at = ? WHERE id = ?`, url, now, id)
	return err
}

// ResetPending returns a message to pending with a zero retry count,
// keeping any uploaded image URL.
func (db *DB) ResetPending(id string) error {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`UPDATE pending_messages SET status = 'pending', retry_count = 0, updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RemovePending deletes a pending message. Removing an unknown id is not an error.
func (db *DB) RemovePending(id string) error {
	_, err := db.Exec(`DELETE FROM pending_messages WHERE id = ?`, id)
	return err
}

// PendingCount returns the number of queued messages in any status.
func (db *DB) PendingCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pending_messages`).Scan(&n)
	return n, err
}

// DeliverableCount returns the number of queued messages the drain will still
// attempt, i.e. every status except failed.
func (db *DB) DeliverableCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pending_messages WHERE status != ?`, StatusFailed).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPending(s scanner) (*PendingMessage, error) {
	var (
		m         PendingMessage
		imageData []byte
		imageMIME string
		imageName string
		replyTo   sql.NullString
		status    string
	)
	err := s.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Users, &m.UserImage, &m.Message,
		&imageData, &imageMIME, &imageName, &m.UploadedImageURL, &replyTo,
		&m.ClientTimestamp, &status, &m.RetryCount)
	if err != nil {
		return nil, err
	}
	m.Status = Status(status)
	if imageData != nil {
		m.ImageData = &ImageData{Data: imageData, MIMEType: imageMIME, FileName: imageName}
	}
	if replyTo.Valid && replyTo.String != "" {
		var ref ReplyRef
		if err := json.Unmarshal([]byte(replyTo.String), &ref); err != nil {
			return nil, fmt.Errorf("decode reply_to for %s: %w", m.ID, err)
		}
		m.ReplyTo = &ref
	}
	return &m, nil
}
