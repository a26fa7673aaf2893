package store

// Status is the delivery state of a pending message.
type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusUploading, StatusSent, StatusFailed:
		return true
	}
	return false
}

// ImageData is an image attachment captured at compose time.
type ImageData struct {
	Data     []byte
	MIMEType string
	FileName string
}

// ReplyRef is a snapshot of the message being replied to.
type ReplyRef struct {
	ID       string `json:"id"`
	Message  string `json:"message"`
	Users    string `json:"users"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// PendingMessage is a composed message waiting for delivery to the remote store.
type PendingMessage struct {
	ID               string
	RoomID           string
	UserID           string
	Users            string
	UserImage        string
	Message          string
	ImageData        *ImageData
	UploadedImageURL string
	ReplyTo          *ReplyRef
	ClientTimestamp  int64
	Status           Status
	RetryCount       int
}

// HasContent reports whether the message carries text or an image.
func (m *PendingMessage) HasContent() bool {
	return m.Message != "" || m.ImageData != nil
}
