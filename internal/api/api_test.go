package api

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Khushal-Kathad/Thryve-sub001/internal/bus"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/outbox"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/presence"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/receipts"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/relay"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/remote"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/status"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/store"
	intsync "github.com/Khushal-Kathad/Thryve-sub001/internal/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type testEnv struct {
	bus     *bus.Bus
	machine *status.Machine
	remote  *remote.Client
	message *MessageClient
	signal  *SignalClient
	status  *StatusClient
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	rs, err := relay.New(relay.Config{DataDir: t.TempDir(), PublicURL: "http://relay.test"}, nil)
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = rs.Serve(ln) }()
	t.Cleanup(func() { _ = rs.Shutdown() })
	rc := remote.New("http://" + ln.Addr().String())

	db, err := store.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	m := status.NewMachine(b)
	m.Observe(true)

	q := outbox.NewQueue(db, b, nil)
	d := outbox.NewDeliverer(rc, rc, outbox.DegradeToText, "chat-images", nil)
	rec := intsync.NewReconciler(db, nil)
	engine := intsync.NewEngine(q, d, m, b, rec, intsync.Options{}, nil)
	composer := outbox.NewComposer(q, d, m, b, nil)
	pt := presence.NewTracker(rc, presence.Options{Throttle: time.Millisecond}, nil)
	rt := receipts.NewTracker(rc, receipts.Options{}, nil)
	t.Cleanup(pt.Close)
	t.Cleanup(rt.Close)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterMessageServer(srv, NewMessageService(composer, q, engine, m, b, "test", nil))
	RegisterSignalServer(srv, NewSignalService(pt, rt))
	RegisterStatusServer(srv, NewStatusService(m, q, engine, rec, "test", nil))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &testEnv{
		bus:     b,
		machine: m,
		remote:  rc,
		message: NewMessageClient(conn),
		signal:  NewSignalClient(conn),
		status:  NewStatusClient(conn),
	}
}

func codeOf(err error) codes.Code {
	return grpcstatus.Code(err)
}

func TestSendMessageOnline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp, err := env.message.SendMessage(ctx, &SendMessageRequest{
		RoomID:  "r1",
		UserID:  "u1",
		Users:   "Ana",
		Message: "hello",
	})
	require.NoError(t, err)
	assert.True(t, resp.Delivered)
	assert.False(t, resp.Queued)
	assert.NotEmpty(t, resp.ID)

	msgs, err := env.remote.ListMessages(ctx, "r1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Message)
	assert.Equal(t, "u1", msgs[0].UserID)
}

func TestSendMessageValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.message.SendMessage(ctx, &SendMessageRequest{RoomID: "r1", UserID: "u1"})
	assert.Equal(t, codes.InvalidArgument, codeOf(err))

	_, err = env.message.SendMessage(ctx, &SendMessageRequest{UserID: "u1", Message: "x"})
	assert.Equal(t, codes.InvalidArgument, codeOf(err))
}

func TestOfflineQueueThenSyncNow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	netResp, err := env.status.SetNetwork(ctx, &SetNetworkRequest{Offline: true})
	require.NoError(t, err)
	assert.Equal(t, string(status.Offline), netResp.Network)

	for _, body := range []string{"one", "two"} {
		resp, err := env.message.SendMessage(ctx, &SendMessageRequest{RoomID: "r1", UserID: "u1", Message: body})
		require.NoError(t, err)
		assert.True(t, resp.Queued)
	}

	pending, err := env.message.ListPending(ctx, &ListPendingRequest{})
	require.NoError(t, err)
	require.Len(t, pending.Messages, 2)
	assert.Equal(t, "one", pending.Messages[0].Preview)
	assert.Equal(t, string(store.StatusPending), pending.Messages[0].Status)

	skipped, err := env.message.SyncNow(ctx, &SyncNowRequest{})
	require.NoError(t, err)
	assert.True(t, skipped.Skipped)

	_, err = env.status.SetNetwork(ctx, &SetNetworkRequest{Offline: false})
	require.NoError(t, err)

	synced, err := env.message.SyncNow(ctx, &SyncNowRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, synced.Synced)
	assert.Zero(t, synced.Failed)

	msgs, err := env.remote.ListMessages(ctx, "r1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Message)
	assert.Equal(t, "two", msgs[1].Message)

	st, err := env.status.GetStatus(ctx, &GetStatusRequest{})
	require.NoError(t, err)
	assert.Equal(t, "test", st.Profile)
	assert.Equal(t, string(status.Online), st.Network)
	assert.False(t, st.ForcedOffline)
	assert.NotZero(t, st.NetworkChangedAtUnixMs)
	assert.LessOrEqual(t, st.NetworkChangedAtUnixMs, time.Now().UnixMilli())
	assert.Zero(t, st.PendingCount)
	assert.Equal(t, 2, st.LastDrainSynced)
	assert.NotZero(t, st.LastDrainAtUnixMs)
}

func TestDiscardAndRetry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.message.RetryMessage(ctx, &RetryMessageRequest{ID: "missing"})
	assert.Equal(t, codes.NotFound, codeOf(err))
	_, err = env.message.DiscardMessage(ctx, &DiscardMessageRequest{ID: "missing"})
	assert.Equal(t, codes.NotFound, codeOf(err))
	_, err = env.message.RetryMessage(ctx, &RetryMessageRequest{})
	assert.Equal(t, codes.InvalidArgument, codeOf(err))

	_, err = env.status.SetNetwork(ctx, &SetNetworkRequest{Offline: true})
	require.NoError(t, err)
	keep, err := env.message.SendMessage(ctx, &SendMessageRequest{RoomID: "r1", UserID: "u1", Message: "keep"})
	require.NoError(t, err)
	drop, err := env.message.SendMessage(ctx, &SendMessageRequest{RoomID: "r1", UserID: "u1", Message: "drop"})
	require.NoError(t, err)

	_, err = env.message.DiscardMessage(ctx, &DiscardMessageRequest{ID: drop.ID})
	require.NoError(t, err)

	_, err = env.status.SetNetwork(ctx, &SetNetworkRequest{Offline: false})
	require.NoError(t, err)
	res, err := env.message.RetryMessage(ctx, &RetryMessageRequest{ID: keep.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)

	msgs, err := env.remote.ListMessages(ctx, "r1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "keep", msgs[0].Message)
}

func TestWatchEventsFiltersNamespace(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	before := env.bus.Subscribers()
	stream, err := env.message.WatchEvents(ctx, &WatchEventsRequest{Namespaces: []string{"message."}})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return env.bus.Subscribers() > before }, 2*time.Second, 10*time.Millisecond)

	_, err = env.message.SendMessage(ctx, &SendMessageRequest{RoomID: "r9", UserID: "u1", Message: "ping"})
	require.NoError(t, err)

	evt, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "message.delivered", evt.Kind)
	assert.Equal(t, "test", evt.Profile)
	assert.Equal(t, PayloadVersion, evt.PayloadVersion)
	assert.NotEmpty(t, evt.EventID)

	payload := evt.Payload.AsMap()
	assert.Equal(t, "r9", payload["roomId"])
	assert.Equal(t, "ping", payload["preview"])
}

func TestSignalBestEffort(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.remote.CreateMessage(ctx, "r1", remote.Record{Message: "a", Timestamp: 1000, UserID: "u2"})
	require.NoError(t, err)
	_, err = env.remote.CreateMessage(ctx, "r1", remote.Record{Message: "b", Timestamp: 2000, UserID: "u2"})
	require.NoError(t, err)
	_, err = env.remote.CreateMessage(ctx, "r1", remote.Record{Message: "mine", Timestamp: 3000, UserID: "u1"})
	require.NoError(t, err)

	count, err := env.signal.GetUnreadCount(ctx, &GetUnreadCountRequest{RoomID: "r1", UserID: "u1", LastReadTimestamp: 1500})
	require.NoError(t, err)
	assert.Equal(t, 1, count.Count)

	res, err := env.signal.MarkAllAsRead(ctx, &MarkAllAsReadRequest{RoomID: "r1", UserID: "u1", LastMessageTimestamp: 3000})
	require.NoError(t, err)
	assert.True(t, res.OK)

	cursor, err := env.remote.ReadCursor(ctx, "r1", "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), cursor)

	_, err = env.signal.MarkAsRead(ctx, &MarkAsReadRequest{RoomID: "r1", UserID: "u1"})
	assert.Equal(t, codes.InvalidArgument, codeOf(err))
}

func TestWatchTyping(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := env.signal.WatchTyping(ctx, &WatchTypingRequest{RoomID: "r1", CurrentUserID: "me"})
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		last []TypingUser
	)
	go func() {
		for {
			upd, err := stream.Recv()
			if err != nil {
				return
			}
			mu.Lock()
			last = upd.Typing
			mu.Unlock()
		}
	}()

	require.Eventually(t, func() bool {
		res, err := env.signal.SetTyping(ctx, &SetTypingRequest{RoomID: "r1", UserID: "u2", UserName: "Bo"})
		if err != nil || !res.OK {
			return false
		}
		mu.Lock()
		defer mu.Unlock()
		return len(last) == 1 && last[0].UserID == "u2"
	}, 5*time.Second, 50*time.Millisecond)

	// Clearing removes the typer from the next update.
	_, err = env.signal.ClearTyping(ctx, &ClearTypingRequest{RoomID: "r1", UserID: "u2"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(last) == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatchUnreadCountsReplaced(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := env.remote.CreateMessage(ctx, "r1", remote.Record{Message: "a", Timestamp: 1000, UserID: "u2"})
	require.NoError(t, err)

	first, err := env.signal.WatchUnreadCounts(ctx, &WatchUnreadCountsRequest{UserID: "u1", RoomIDs: []string{"r1"}})
	require.NoError(t, err)
	upd, err := first.Recv()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"r1": 1}, upd.Counts)

	second, err := env.signal.WatchUnreadCounts(ctx, &WatchUnreadCountsRequest{UserID: "u1", RoomIDs: []string{"r1", "r2"}})
	require.NoError(t, err)
	upd, err = second.Recv()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"r1": 1, "r2": 0}, upd.Counts)

	// The first stream ends once it is replaced.
	for {
		if _, err := first.Recv(); err != nil {
			break
		}
	}
}
