package remote

// Record is a chat message as stored by the remote message store.
// Timestamp is the client compose time in milliseconds.
type Record struct {
	Message   string   `json:"message"`
	Timestamp int64    `json:"timestamp"`
	Users     string   `json:"users"`
	UserImage string   `json:"userImage"`
	UserID    string   `json:"userId"`
	ImageURL  string   `json:"imageUrl,omitempty"`
	ReplyTo   *ReplyTo `json:"replyTo,omitempty"`
}

// ReplyTo is the by-value copy of a replied-to message.
type ReplyTo struct {
	ID       string `json:"id"`
	Message  string `json:"message"`
	Users    string `json:"users"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// StoredMessage is a Record together with its remote identity.
type StoredMessage struct {
	ID     string `json:"id"`
	RoomID string `json:"roomId"`
	Record
}

// Blob is a binary payload for the media upload service.
type Blob struct {
	Data     []byte
	FileName string
	MIMEType string
}

// UploadResult is the media upload service response.
type UploadResult struct {
	URL    string `json:"url"`
	ID     string `json:"id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// TypingState is the ephemeral per-room, per-user typing document.
type TypingState struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Timestamp int64  `json:"timestamp"`
}

// Receipt is a read acknowledgement on a single message.
type Receipt struct {
	UserID string `json:"userId"`
	ReadAt int64  `json:"readAt"`
}

// Change kinds carried by Watch.
const (
	ChangeMessages = "messages"
	ChangeTyping   = "typing"
	ChangeReceipts = "receipts"
	ChangeCursor   = "cursor"

	// ChangeResync is sent with no room after the stream reconnects. Changes
	// made while it was down were missed, so every watched room is stale.
	ChangeResync = "resync"
)

// Change notifies that a room's documents of the given kind changed.
type Change struct {
	Kind   string `json:"kind"`
	RoomID string `json:"roomId"`
}

type createMessageResponse struct {
	ID string `json:"id"`
}

type listMessagesResponse struct {
	Messages []StoredMessage `json:"messages"`
}

type listTypingResponse struct {
	Typing []TypingState `json:"typing"`
}

type listReceiptsResponse struct {
	Receipts []Receipt `json:"receipts"`
}

type cursorBody struct {
	LastReadTimestamp int64 `json:"lastReadTimestamp"`
}
