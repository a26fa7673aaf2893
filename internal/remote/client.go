// Package remote is the HTTP and WebSocket client for the remote message
// store, the media upload service and the ephemeral typing and receipt
// channels.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultTimeout bounds every HTTP round trip.
const DefaultTimeout = 15 * time.Second

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote: %d %s", e.StatusCode, e.Message)
}

// Client talks to a remote store over HTTP/JSON.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

type Option func(*Client)

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a client for the store at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the store's base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Ping checks that the store is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return errors.Wrap(c.do(ctx, http.MethodGet, "/health", nil, nil, nil), "ping")
}

// CreateMessage appends rec to the room and returns the remote id.
func (c *Client) CreateMessage(ctx context.Context, roomID string, rec Record) (string, error) {
	var out createMessageResponse
	if err := c.do(ctx, http.MethodPost, roomPath(roomID, "messages"), nil, rec, &out); err != nil {
		return "", errors.Wrapf(err, "create message in room %s", roomID)
	}
	return out.ID, nil
}

// ListMessages returns messages with a timestamp strictly greater than after,
// oldest first.
func (c *Client) ListMessages(ctx context.Context, roomID string, after int64) ([]StoredMessage, error) {
	q := url.Values{"after": {strconv.FormatInt(after, 10)}}
	var out listMessagesResponse
	if err := c.do(ctx, http.MethodGet, roomPath(roomID, "messages"), q, nil, &out); err != nil {
		return nil, errors.Wrapf(err, "list messages in room %s", roomID)
	}
	return out.Messages, nil
}

// Upload sends blob to the media upload service under folder.
// Every call creates a new object with a new URL.
func (c *Client) Upload(ctx context.Context, blob Blob, folder string) (*UploadResult, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("folder", folder); err != nil {
		return nil, errors.Wrap(err, "write folder field")
	}

	name := blob.FileName
	if name == "" {
		name = "upload"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	if blob.MIMEType != "" {
		h.Set("Content-Type", blob.MIMEType)
	} else {
		h.Set("Content-Type", "application/octet-stream")
	}
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, errors.Wrap(err, "create form file")
	}
	if _, err := part.Write(blob.Data); err != nil {
		return nil, errors.Wrap(err, "write file data")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "close multipart writer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/uploads", &buf)
	if err != nil {
		return nil, errors.Wrap(err, "create upload request")
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var out UploadResult
	if err := c.send(req, &out); err != nil {
		return nil, errors.Wrapf(err, "upload %s", name)
	}
	if out.URL == "" {
		return nil, errors.New("upload: response has no url")
	}
	return &out, nil
}

// SetTyping writes the caller's typing document in the room.
func (c *Client) SetTyping(ctx context.Context, roomID string, state TypingState) error {
	err := c.do(ctx, http.MethodPut, roomPath(roomID, "typing", state.UserID), nil, state, nil)
	return errors.Wrapf(err, "set typing in room %s", roomID)
}

// ClearTyping deletes the user's typing document in the room.
func (c *Client) ClearTyping(ctx context.Context, roomID, userID string) error {
	err := c.do(ctx, http.MethodDelete, roomPath(roomID, "typing", userID), nil, nil, nil)
	return errors.Wrapf(err, "clear typing in room %s", roomID)
}

// ListTyping returns every typing document in the room, stale ones included.
func (c *Client) ListTyping(ctx context.Context, roomID string) ([]TypingState, error) {
	var out listTypingResponse
	if err := c.do(ctx, http.MethodGet, roomPath(roomID, "typing"), nil, nil, &out); err != nil {
		return nil, errors.Wrapf(err, "list typing in room %s", roomID)
	}
	return out.Typing, nil
}

// AddReceipt adds userID to the message's receipt set. Adding twice is a no-op.
func (c *Client) AddReceipt(ctx context.Context, roomID, messageID string, r Receipt) error {
	err := c.do(ctx, http.MethodPut, roomPath(roomID, "messages", messageID, "receipts", r.UserID), nil, r, nil)
	return errors.Wrapf(err, "add receipt on message %s", messageID)
}

// ListReceipts returns the receipt set of a message.
func (c *Client) ListReceipts(ctx context.Context, roomID, messageID string) ([]Receipt, error) {
	var out listReceiptsResponse
	if err := c.do(ctx, http.MethodGet, roomPath(roomID, "messages", messageID, "receipts"), nil, nil, &out); err != nil {
		return nil, errors.Wrapf(err, "list receipts on message %s", messageID)
	}
	return out.Receipts, nil
}

// SetReadCursor records the latest timestamp userID has read in the room.
func (c *Client) SetReadCursor(ctx context.Context, roomID, userID string, lastRead int64) error {
	err := c.do(ctx, http.MethodPut, roomPath(roomID, "cursors", userID), nil, cursorBody{LastReadTimestamp: lastRead}, nil)
	return errors.Wrapf(err, "set read cursor in room %s", roomID)
}

// ReadCursor returns userID's read cursor in the room, 0 if never set.
func (c *Client) ReadCursor(ctx context.Context, roomID, userID string) (int64, error) {
	var out cursorBody
	if err := c.do(ctx, http.MethodGet, roomPath(roomID, "cursors", userID), nil, nil, &out); err != nil {
		return 0, errors.Wrapf(err, "read cursor in room %s", roomID)
	}
	return out.LastReadTimestamp, nil
}

func roomPath(roomID string, parts ...string) string {
	var b strings.Builder
	b.WriteString("/rooms/")
	b.WriteString(url.PathEscape(roomID))
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "unmarshal response")
	}
	return nil
}

func errorMessage(data []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(data))
}
