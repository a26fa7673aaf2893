package relay

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Khushal-Kathad/Thryve-sub001/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, token string) *Server {
	t.Helper()
	s, err := New(Config{DataDir: t.TempDir(), Token: token, PublicURL: "http://relay.test"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown() })
	return s
}

// serve runs s on a loopback listener and returns a client for it.
func serve(t *testing.T, s *Server, opts ...remote.Option) *remote.Client {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = s.Serve(ln) }()
	return remote.New("http://"+ln.Addr().String(), opts...)
}

func TestHealth(t *testing.T) {
	s := newServer(t, "secret")
	resp, err := s.App().Test(httptestRequest(http.MethodGet, "/health", ""), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTokenRequired(t *testing.T) {
	s := newServer(t, "secret")

	resp, err := s.App().Test(httptestRequest(http.MethodGet, "/rooms/r/messages", ""), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req := httptestRequest(http.MethodGet, "/rooms/r/messages", "")
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = s.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateMessageRequiresUser(t *testing.T) {
	s := newServer(t, "")
	req := httptestRequest(http.MethodPost, "/rooms/r/messages", `{"message":"hi","timestamp":1}`)
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "userId is required")
}

// TestCreateMessageAcceptsEmptyBody covers an image-only message whose upload
// failed and was degraded to text.
func TestCreateMessageAcceptsEmptyBody(t *testing.T) {
	c := serve(t, newServer(t, ""))
	ctx := context.Background()

	id, err := c.CreateMessage(ctx, "r", remote.Record{UserID: "u1", Timestamp: 1000})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs, err := c.ListMessages(ctx, "r", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Empty(t, msgs[0].Message)
	assert.Empty(t, msgs[0].ImageURL)
}

func TestMessagesRoundTrip(t *testing.T) {
	c := serve(t, newServer(t, ""))
	ctx := context.Background()

	for _, rec := range []remote.Record{
		{Message: "second", Timestamp: 2000, UserID: "u1"},
		{Message: "first", Timestamp: 1000, UserID: "u2", ReplyTo: &remote.ReplyTo{ID: "x", Message: "q"}},
	} {
		_, err := c.CreateMessage(ctx, "room 1", rec)
		require.NoError(t, err)
	}

	msgs, err := c.ListMessages(ctx, "room 1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Message)
	require.NotNil(t, msgs[0].ReplyTo)
	assert.Equal(t, "x", msgs[0].ReplyTo.ID)

	msgs, err = c.ListMessages(ctx, "room 1", 1000)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "second", msgs[0].Message)
}

func TestReceiptsAreUniquePerUser(t *testing.T) {
	c := serve(t, newServer(t, ""))
	ctx := context.Background()

	require.NoError(t, c.AddReceipt(ctx, "r", "m1", remote.Receipt{UserID: "u1", ReadAt: 10}))
	require.NoError(t, c.AddReceipt(ctx, "r", "m1", remote.Receipt{UserID: "u1", ReadAt: 20}))
	require.NoError(t, c.AddReceipt(ctx, "r", "m1", remote.Receipt{UserID: "u2", ReadAt: 30}))

	got, err := c.ListReceipts(ctx, "r", "m1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, remote.Receipt{UserID: "u1", ReadAt: 10}, got[0])
}

func TestTypingUpsertAndClear(t *testing.T) {
	c := serve(t, newServer(t, ""))
	ctx := context.Background()

	require.NoError(t, c.SetTyping(ctx, "r", remote.TypingState{UserID: "u1", UserName: "A", Timestamp: 1}))
	require.NoError(t, c.SetTyping(ctx, "r", remote.TypingState{UserID: "u1", UserName: "A", Timestamp: 2}))

	states, err := c.ListTyping(ctx, "r")
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, int64(2), states[0].Timestamp)

	require.NoError(t, c.ClearTyping(ctx, "r", "u1"))
	states, err = c.ListTyping(ctx, "r")
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestCursor(t *testing.T) {
	c := serve(t, newServer(t, ""))
	ctx := context.Background()

	got, err := c.ReadCursor(ctx, "r", "u1")
	require.NoError(t, err)
	assert.Zero(t, got)

	require.NoError(t, c.SetReadCursor(ctx, "r", "u1", 100))
	require.NoError(t, c.SetReadCursor(ctx, "r", "u1", 200))
	got, err = c.ReadCursor(ctx, "r", "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), got)
}

func TestUploadCreatesNewURLEachTime(t *testing.T) {
	c := serve(t, newServer(t, ""))
	ctx := context.Background()

	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.Set(0, 0, color.White)
	require.NoError(t, png.Encode(&buf, img))
	blob := remote.Blob{Data: buf.Bytes(), FileName: "dot.png", MIMEType: "image/png"}

	first, err := c.Upload(ctx, blob, "chat-images")
	require.NoError(t, err)
	second, err := c.Upload(ctx, blob, "chat-images")
	require.NoError(t, err)

	assert.NotEqual(t, first.URL, second.URL)
	assert.True(t, strings.HasPrefix(first.URL, "http://relay.test/files/chat-images/"), first.URL)
	assert.Equal(t, 3, first.Width)
	assert.Equal(t, 2, first.Height)
}

func TestCleanFolder(t *testing.T) {
	assert.Equal(t, "chat-images", cleanFolder("chat-images"))
	assert.Equal(t, "etc", cleanFolder("../../etc"))
	assert.Equal(t, "a/b", cleanFolder("/a/b/"))
	assert.Equal(t, defaultFolder, cleanFolder(""))
}

func TestWatchStreamsRoomChanges(t *testing.T) {
	c := serve(t, newServer(t, "secret"), remote.WithToken("secret"))
	watchUntilChange(t, c, "watched", "other")
}

// TestWatchRoomIDWithComma checks that room ids travel as repeated query
// parameters and are not split.
func TestWatchRoomIDWithComma(t *testing.T) {
	c := serve(t, newServer(t, ""))
	watchUntilChange(t, c, "x,y", "x")
}

// watchUntilChange watches room and writes typing state to both other and
// room until a change for room arrives.
func watchUntilChange(t *testing.T, c *remote.Client, room, other string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := c.Watch(ctx, []string{room})

	// The subscription is registered asynchronously; keep writing until a
	// change arrives.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case change := <-changes:
			assert.Equal(t, remote.Change{Kind: remote.ChangeTyping, RoomID: room}, change)
			return
		case <-tick.C:
			require.NoError(t, c.SetTyping(ctx, other, remote.TypingState{UserID: "u", Timestamp: 1}))
			require.NoError(t, c.SetTyping(ctx, room, remote.TypingState{UserID: "u", Timestamp: 1}))
		case <-deadline:
			t.Fatal("no change received")
		}
	}
}

func httptestRequest(method, target, body string) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}
