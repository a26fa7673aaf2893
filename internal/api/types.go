package api

import "google.golang.org/protobuf/types/known/structpb"

// Request and response messages exchanged with the daemon. Their wire form is
// described in schema.go.

type Image struct {
	Data     []byte `json:"data"`
	MIMEType string `json:"mimeType"`
	FileName string `json:"fileName"`
}

type ReplyRef struct {
	ID       string `json:"id"`
	Message  string `json:"message"`
	Users    string `json:"users"`
	ImageURL string `json:"imageUrl,omitempty"`
}

type SendMessageRequest struct {
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	Users     string    `json:"users"`
	UserImage string    `json:"userImage"`
	Message   string    `json:"message"`
	Image     *Image    `json:"image,omitempty"`
	ReplyTo   *ReplyRef `json:"replyTo,omitempty"`
}

type SendMessageResponse struct {
	ID        string `json:"id"`
	Delivered bool   `json:"delivered"`
	Queued    bool   `json:"queued"`
}

type PendingMessage struct {
	ID               string `json:"id"`
	RoomID           string `json:"roomId"`
	UserID           string `json:"userId"`
	Preview          string `json:"preview"`
	HasImage         bool   `json:"hasImage"`
	UploadedImageURL string `json:"uploadedImageUrl,omitempty"`
	ClientTimestamp  int64  `json:"clientTimestamp"`
	Status           string `json:"status"`
	RetryCount       int    `json:"retryCount"`
}

type ListPendingRequest struct{}

type ListPendingResponse struct {
	Messages []PendingMessage `json:"messages"`
}

type RetryMessageRequest struct {
	ID string `json:"id"`
}

type RetryMessageResponse struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

type DiscardMessageRequest struct {
	ID string `json:"id"`
}

type DiscardMessageResponse struct{}

type SyncNowRequest struct{}

type SyncNowResponse struct {
	Synced  int  `json:"synced"`
	Failed  int  `json:"failed"`
	Skipped bool `json:"skipped"`
}

type WatchEventsRequest struct {
	// Namespaces filters events by kind prefix. Empty means all events.
	Namespaces []string `json:"namespaces"`
}

// EventEnvelope carries one bus event. Payload is the event body as a
// google.protobuf.Struct.
type EventEnvelope struct {
	EventID          string           `json:"eventId"`
	Profile          string           `json:"profile"`
	OccurredAtUnixMs int64            `json:"occurredAtUnixMs"`
	Kind             string           `json:"kind"`
	PayloadVersion   int              `json:"payloadVersion"`
	Payload          *structpb.Struct `json:"payload"`
}

type SetTypingRequest struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type ClearTypingRequest struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type MarkAsReadRequest struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

type MarkAllAsReadRequest struct {
	RoomID               string `json:"roomId"`
	UserID               string `json:"userId"`
	LastMessageTimestamp int64  `json:"lastMessageTimestamp"`
}

// BestEffortResponse reports the outcome of an operation whose failure the
// daemon has already logged and ignored.
type BestEffortResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type GetUnreadCountRequest struct {
	RoomID            string `json:"roomId"`
	UserID            string `json:"userId"`
	LastReadTimestamp int64  `json:"lastReadTimestamp"`
}

type GetUnreadCountResponse struct {
	Count int `json:"count"`
}

type TypingUser struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Timestamp int64  `json:"timestamp"`
}

type WatchTypingRequest struct {
	RoomID        string `json:"roomId"`
	CurrentUserID string `json:"currentUserId"`
}

type TypingUpdate struct {
	Typing []TypingUser `json:"typing"`
}

type WatchUnreadCountsRequest struct {
	UserID  string   `json:"userId"`
	RoomIDs []string `json:"roomIds"`
}

type UnreadCounts struct {
	Counts map[string]int `json:"counts"`
}

type GetStatusRequest struct{}

type GetStatusResponse struct {
	Profile                string `json:"profile"`
	Network                string `json:"network"`
	NetworkChangedAtUnixMs int64  `json:"networkChangedAtUnixMs"`
	ForcedOffline          bool   `json:"forcedOffline"`
	PendingCount           int    `json:"pendingCount"`
	Draining               bool   `json:"draining"`
	LastDrainAtUnixMs      int64  `json:"lastDrainAtUnixMs,omitempty"`
	LastDrainSynced        int    `json:"lastDrainSynced"`
	LastDrainFailed        int    `json:"lastDrainFailed"`
	UptimeMs               int64  `json:"uptimeMs"`
}

type SetNetworkRequest struct {
	// Offline forces the daemon offline; false returns to probing.
	Offline bool `json:"offline"`
}

type SetNetworkResponse struct {
	Network string `json:"network"`
}
