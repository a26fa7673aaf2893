package relay

import "time"

// Message is an append-only room message.
type Message struct {
	ID        string    `gorm:"column:id;size:64;primaryKey"`
	RoomID    string    `gorm:"column:room_id;size:128;not null;index:idx_room_ts"`
	UserID    string    `gorm:"column:user_id;size:128;not null"`
	Users     string    `gorm:"column:users"`
	UserImage string    `gorm:"column:user_image"`
	Body      string    `gorm:"column:message"`
	ImageURL  string    `gorm:"column:image_url"`
	ReplyTo   string    `gorm:"column:reply_to"`
	Timestamp int64     `gorm:"column:timestamp;not null;index:idx_room_ts"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Message) TableName() string {
	return "messages"
}

// Receipt is a read acknowledgement, unique per (message, user).
type Receipt struct {
	MessageID string `gorm:"column:message_id;size:64;primaryKey"`
	UserID    string `gorm:"column:user_id;size:128;primaryKey"`
	RoomID    string `gorm:"column:room_id;size:128;not null"`
	ReadAt    int64  `gorm:"column:read_at;not null"`
}

func (Receipt) TableName() string {
	return "receipts"
}

// Typing is the ephemeral typing document, one per (room, user).
type Typing struct {
	RoomID    string `gorm:"column:room_id;size:128;primaryKey"`
	UserID    string `gorm:"column:user_id;size:128;primaryKey"`
	UserName  string `gorm:"column:user_name"`
	Timestamp int64  `gorm:"column:timestamp;not null"`
}

func (Typing) TableName() string {
	return "typing"
}

// Cursor is a user's room-level read cursor.
type Cursor struct {
	RoomID            string    `gorm:"column:room_id;size:128;primaryKey"`
	UserID            string    `gorm:"column:user_id;size:128;primaryKey"`
	LastReadTimestamp int64     `gorm:"column:last_read_timestamp;default:0"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Cursor) TableName() string {
	return "read_cursors"
}

// Upload is a stored media object.
type Upload struct {
	ID        string    `gorm:"column:id;size:64;primaryKey"`
	Folder    string    `gorm:"column:folder;not null"`
	FileName  string    `gorm:"column:file_name"`
	MIMEType  string    `gorm:"column:mime_type"`
	Size      int64     `gorm:"column:size"`
	Width     int       `gorm:"column:width"`
	Height    int       `gorm:"column:height"`
	Path      string    `gorm:"column:path;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Upload) TableName() string {
	return "uploads"
}
