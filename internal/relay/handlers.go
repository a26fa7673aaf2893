package relay

import (
	"encoding/json"
	"strconv"

	"github.com/Khushal-Kathad/Thryve-sub001/internal/remote"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// handleCreateMessage POST /rooms/:room/messages
func (s *Server) handleCreateMessage(c *fiber.Ctx) error {
	room := param(c, "room")
	var rec remote.Record
	if err := c.BodyParser(&rec); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid message body")
	}
	// An empty body with no image is valid: an image-only message whose
	// upload failed is still sent as text.
	if rec.UserID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "userId is required")
	}

	m := Message{
		ID:        uuid.NewString(),
		RoomID:    room,
		UserID:    rec.UserID,
		Users:     rec.Users,
		UserImage: rec.UserImage,
		Body:      rec.Message,
		ImageURL:  rec.ImageURL,
		Timestamp: rec.Timestamp,
	}
	if rec.ReplyTo != nil {
		b, err := json.Marshal(rec.ReplyTo)
		if err != nil {
			return errors.Wrap(err, "encode reply")
		}
		m.ReplyTo = string(b)
	}
	if err := s.db.Create(&m).Error; err != nil {
		return errors.Wrap(err, "insert message")
	}
	s.publish(remote.ChangeMessages, room)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": m.ID})
}

// handleListMessages GET /rooms/:room/messages?after=
func (s *Server) handleListMessages(c *fiber.Ctx) error {
	room := param(c, "room")
	after, err := strconv.ParseInt(c.Query("after", "0"), 10, 64)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "after must be an integer")
	}

	var rows []Message
	if err := s.db.Where("room_id = ? AND timestamp > ?", room, after).
		Order("timestamp ASC, id ASC").Find(&rows).Error; err != nil {
		return errors.Wrap(err, "list messages")
	}

	out := make([]remote.StoredMessage, 0, len(rows))
	for _, m := range rows {
		sm := remote.StoredMessage{
			ID:     m.ID,
			RoomID: m.RoomID,
			Record: remote.Record{
				Message:   m.Body,
				Timestamp: m.Timestamp,
				Users:     m.Users,
				UserImage: m.UserImage,
				UserID:    m.UserID,
				ImageURL:  m.ImageURL,
			},
		}
		if m.ReplyTo != "" {
			var rt remote.ReplyTo
			if json.Unmarshal([]byte(m.ReplyTo), &rt) == nil {
				sm.ReplyTo = &rt
			}
		}
		out = append(out, sm)
	}
	return c.JSON(fiber.Map{"messages": out})
}

// handleAddReceipt PUT /rooms/:room/messages/:msg/receipts/:user
func (s *Server) handleAddReceipt(c *fiber.Ctx) error {
	room := param(c, "room")
	var r remote.Receipt
	if err := c.BodyParser(&r); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid receipt body")
	}
	row := Receipt{
		MessageID: param(c, "msg"),
		UserID:    param(c, "user"),
		RoomID:    room,
		ReadAt:    r.ReadAt,
	}
	res := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return errors.Wrap(res.Error, "insert receipt")
	}
	if res.RowsAffected > 0 {
		s.publish(remote.ChangeReceipts, room)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleListReceipts GET /rooms/:room/messages/:msg/receipts
func (s *Server) handleListReceipts(c *fiber.Ctx) error {
	var rows []Receipt
	if err := s.db.Where("message_id = ?", param(c, "msg")).Order("read_at ASC").Find(&rows).Error; err != nil {
		return errors.Wrap(err, "list receipts")
	}
	out := make([]remote.Receipt, 0, len(rows))
	for _, r := range rows {
		out = append(out, remote.Receipt{UserID: r.UserID, ReadAt: r.ReadAt})
	}
	return c.JSON(fiber.Map{"receipts": out})
}

// handleSetTyping PUT /rooms/:room/typing/:user
func (s *Server) handleSetTyping(c *fiber.Ctx) error {
	room := param(c, "room")
	var st remote.TypingState
	if err := c.BodyParser(&st); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid typing body")
	}
	row := Typing{RoomID: room, UserID: param(c, "user"), UserName: st.UserName, Timestamp: st.Timestamp}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_name", "timestamp"}),
	}).Create(&row).Error
	if err != nil {
		return errors.Wrap(err, "upsert typing")
	}
	s.publish(remote.ChangeTyping, room)
	return c.SendStatus(fiber.StatusNoContent)
}

// handleClearTyping DELETE /rooms/:room/typing/:user
func (s *Server) handleClearTyping(c *fiber.Ctx) error {
	room := param(c, "room")
	if err := s.db.Where("room_id = ? AND user_id = ?", room, param(c, "user")).Delete(&Typing{}).Error; err != nil {
		return errors.Wrap(err, "delete typing")
	}
	s.publish(remote.ChangeTyping, room)
	return c.SendStatus(fiber.StatusNoContent)
}

// handleListTyping GET /rooms/:room/typing
func (s *Server) handleListTyping(c *fiber.Ctx) error {
	var rows []Typing
	if err := s.db.Where("room_id = ?", param(c, "room")).Find(&rows).Error; err != nil {
		return errors.Wrap(err, "list typing")
	}
	out := make([]remote.TypingState, 0, len(rows))
	for _, t := range rows {
		out = append(out, remote.TypingState{UserID: t.UserID, UserName: t.UserName, Timestamp: t.Timestamp})
	}
	return c.JSON(fiber.Map{"typing": out})
}

// handleSetCursor PUT /rooms/:room/cursors/:user
func (s *Server) handleSetCursor(c *fiber.Ctx) error {
	room := param(c, "room")
	var body struct {
		LastReadTimestamp int64 `json:"lastReadTimestamp"`
	}
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid cursor body")
	}
	row := Cursor{RoomID: room, UserID: param(c, "user"), LastReadTimestamp: body.LastReadTimestamp}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_read_timestamp", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return errors.Wrap(err, "upsert cursor")
	}
	s.publish(remote.ChangeCursor, room)
	return c.SendStatus(fiber.StatusNoContent)
}

// handleGetCursor GET /rooms/:room/cursors/:user
func (s *Server) handleGetCursor(c *fiber.Ctx) error {
	var row Cursor
	err := s.db.Where("room_id = ? AND user_id = ?", param(c, "room"), param(c, "user")).First(&row).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrap(err, "read cursor")
	}
	return c.JSON(fiber.Map{"lastReadTimestamp": row.LastReadTimestamp})
}
