package sync

import (
	"context"
	"errors"
	"path/filepath"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Khushal-Kathad/Thryve-sub001/internal/bus"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/outbox"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/remote"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/status"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// fakeRemote is a scriptable remote store and upload service.
type fakeRemote struct {
	mu         gosync.Mutex
	uploads    int
	records    []remote.Record
	uploadErr  error
	writeFails int // number of upcoming writes to fail
	onWrite    func(remote.Record)
	block      chan struct{}
}

func (f *fakeRemote) Upload(_ context.Context, blob remote.Blob, _ string) (*remote.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	return &remote.UploadResult{URL: "https://cdn/" + blob.FileName}, nil
}

func (f *fakeRemote) CreateMessage(_ context.Context, _ string, rec remote.Record) (string, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	if f.writeFails > 0 {
		f.writeFails--
		f.mu.Unlock()
		return "", errors.New("remote unavailable")
	}
	f.records = append(f.records, rec)
	hook := f.onWrite
	f.mu.Unlock()
	if hook != nil {
		hook(rec)
	}
	return "r-" + rec.Message, nil
}

func (f *fakeRemote) bodies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.records {
		out = append(out, r.Message)
	}
	return out
}

type switchConn struct{ online atomic.Bool }

func (c *switchConn) Online() bool { return c.online.Load() }

func onlineConn() *switchConn {
	c := &switchConn{}
	c.online.Store(true)
	return c
}

type harness struct {
	db     *store.DB
	queue  *outbox.Queue
	remote *fakeRemote
	conn   *switchConn
	bus    *bus.Bus
	engine *Engine
}

func newHarness(t *testing.T, policy outbox.UploadPolicy) *harness {
	t.Helper()
	db := testDB(t)
	b := bus.New()
	q := outbox.NewQueue(db, b, nil)
	rm := &fakeRemote{}
	conn := onlineConn()
	d := outbox.NewDeliverer(rm, rm, policy, "chat-images", nil)
	e := NewEngine(q, d, conn, b, NewReconciler(db, nil), Options{}, nil)
	return &harness{db: db, queue: q, remote: rm, conn: conn, bus: b, engine: e}
}

func (h *harness) add(t *testing.T, m store.PendingMessage) string {
	t.Helper()
	id, err := h.queue.Add(m)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func (h *harness) get(t *testing.T, id string) *store.PendingMessage {
	t.Helper()
	m, err := h.queue.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestDrainDeliversInComposeOrder(t *testing.T) {
	h := newHarness(t, outbox.DegradeToText)
	h.conn.online.Store(false)

	h.add(t, store.PendingMessage{RoomID: "r", Message: "hi", ClientTimestamp: 1000})
	h.add(t, store.PendingMessage{RoomID: "r", Message: "there", ClientTimestamp: 2000})
	if n, _ := h.queue.Count(); n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}

	h.conn.online.Store(true)
	res := h.engine.SyncPendingMessages(context.Background())
	if res != (Result{Synced: 2}) {
		t.Errorf("result = %+v, want {2 0}", res)
	}
	got := h.remote.bodies()
	if len(got) != 2 || got[0] != "hi" || got[1] != "there" {
		t.Errorf("remote order = %v, want [hi there]", got)
	}
	if h.remote.records[0].Timestamp != 1000 || h.remote.records[1].Timestamp != 2000 {
		t.Errorf("timestamps = %d, %d; want compose times", h.remote.records[0].Timestamp, h.remote.records[1].Timestamp)
	}
	if n, _ := h.queue.Count(); n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
}

func TestDrainOrdersByTimestampNotInsertion(t *testing.T) {
	h := newHarness(t, outbox.DegradeToText)
	for _, m := range []store.PendingMessage{
		{RoomID: "r", Message: "c", ClientTimestamp: 300},
		{RoomID: "r", Message: "a", ClientTimestamp: 100},
		{RoomID: "r", Message: "b", ClientTimestamp: 200},
	} {
		h.add(t, m)
	}

	h.engine.SyncPendingMessages(context.Background())
	got := h.remote.bodies()
	want := []string{"a", "b", "c"}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("remote order = %v, want %v", got, want)
		}
	}
}

func TestDrainSkipsWhenOffline(t *testing.T) {
	h := newHarness(t, outbox.DegradeToText)
	id := h.add(t, store.PendingMessage{RoomID: "r", Message: "hi", ClientTimestamp: 1})
	h.conn.online.Store(false)

	var called bool
	h.engine.OnComplete(func(Result) { called = true })

	if res := h.engine.SyncPendingMessages(context.Background()); res != (Result{}) {
		t.Errorf("result = %+v, want zero", res)
	}
	if called {
		t.Error("completion callback invoked for a skipped drain")
	}
	if m := h.get(t, id); m.Status != store.StatusPending || m.RetryCount != 0 {
		t.Errorf("message touched while offline: %+v", m)
	}
}

func TestConcurrentDrainIsNoop(t *testing.T) {
	h := newHarness(t, outbox.DegradeToText)
	h.add(t, store.PendingMessage{RoomID: "r", Message: "hi", ClientTimestamp: 1})
	h.remote.block = make(chan struct{})

	first := make(chan Result)
	go func() { first <- h.engine.SyncPendingMessages(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for !h.engine.Running() {
		if time.Now().After(deadline) {
			t.Fatal("first drain never started")
		}
		time.Sleep(time.Millisecond)
	}

	if res := h.engine.SyncPendingMessages(context.Background()); res != (Result{}) {
		t.Errorf("second drain = %+v, want zero", res)
	}
	close(h.remote.block)

	if res := <-first; res.Synced != 1 {
		t.Errorf("first drain = %+v, want 1 synced", res)
	}
	if len(h.remote.bodies()) != 1 {
		t.Errorf("remote writes = %d, want 1", len(h.remote.bodies()))
	}
}

// TestUploadReusedAfterWriteFailure covers an image upload that succeeds
// while the remote write fails: the retry must reuse the cached URL.
func TestUploadReusedAfterWriteFailure(t *testing.T) {
	h := newHarness(t, outbox.DegradeToText)
	h.remote.writeFails = 1
	id := h.add(t, store.PendingMessage{
		RoomID:          "r",
		ImageData:       &store.ImageData{Data: []byte("jpeg"), FileName: "x.jpg", MIMEType: "image/jpeg"},
		ClientTimestamp: 1,
	})

	res := h.engine.SyncPendingMessages(context.Background())
	if res != (Result{Failed: 1}) {
		t.Fatalf("first drain = %+v, want {0 1}", res)
	}
	m := h.get(t, id)
	if m.Status != store.StatusPending || m.RetryCount != 1 {
		t.Errorf("after failure: %s/%d, want pending/1", m.Status, m.RetryCount)
	}
	if m.UploadedImageURL != "https://cdn/x.jpg" {
		t.Errorf("UploadedImageURL = %q, want cached url", m.UploadedImageURL)
	}

	res = h.engine.SyncPendingMessages(context.Background())
	if res != (Result{Synced: 1}) {
		t.Fatalf("second drain = %+v, want {1 0}", res)
	}
	if h.remote.uploads != 1 {
		t.Errorf("uploads = %d, want 1", h.remote.uploads)
	}
	if got := h.remote.records[0].ImageURL; got != "https://cdn/x.jpg" {
		t.Errorf("record image url = %q", got)
	}
	if m := h.get(t, id); m != nil {
		t.Errorf("message not removed: %+v", m)
	}
}

func TestRetryCapMarksFailed(t *testing.T) {
	h := newHarness(t, outbox.DegradeToText)
	h.remote.writeFails = 10
	id := h.add(t, store.PendingMessage{RoomID: "r", Message: "hi", ClientTimestamp: 1})

	ch, unsub := h.bus.Subscribe(bus.KindMessageFailed, 4)
	defer unsub()

	for i := 1; i <= 3; i++ {
		if res := h.engine.SyncPendingMessages(context.Background()); res != (Result{Failed: 1}) {
			t.Fatalf("drain %d = %+v, want {0 1}", i, res)
		}
		m := h.get(t, id)
		if m.RetryCount != i {
			t.Errorf("drain %d: retryCount = %d", i, m.RetryCount)
		}
	}
	if m := h.get(t, id); m.Status != store.StatusFailed {
		t.Fatalf("status = %s, want failed", m.Status)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Error("no message.failed event")
	}

	// Terminal: not retried automatically.
	h.remote.writeFails = 0
	if res := h.engine.SyncPendingMessages(context.Background()); res != (Result{}) {
		t.Errorf("drain after failure = %+v, want zero", res)
	}
	if len(h.remote.bodies()) != 0 {
		t.Error("failed message was retried")
	}

	// Manual retry brings it back.
	if err := h.queue.ResetForRetry(id); err != nil {
		t.Fatal(err)
	}
	if res := h.engine.SyncPendingMessages(context.Background()); res != (Result{Synced: 1}) {
		t.Errorf("drain after reset = %+v, want {1 0}", res)
	}
}

func TestConnectivityLossStopsDrain(t *testing.T) {
	h := newHarness(t, outbox.DegradeToText)
	h.add(t, store.PendingMessage{RoomID: "r", Message: "a", ClientTimestamp: 1})
	b := h.add(t, store.PendingMessage{RoomID: "r", Message: "b", ClientTimestamp: 2})
	c := h.add(t, store.PendingMessage{RoomID: "r", Message: "c", ClientTimestamp: 3})
	h.remote.onWrite = func(remote.Record) { h.conn.online.Store(false) }

	res := h.engine.SyncPendingMessages(context.Background())
	if res != (Result{Synced: 1}) {
		t.Errorf("result = %+v, want {1 0}", res)
	}
	for _, id := range []string{b, c} {
		m := h.get(t, id)
		if m == nil || m.Status != store.StatusPending || m.RetryCount != 0 {
			t.Errorf("untouched entry changed: %+v", m)
		}
	}
}

func TestCancelledContextStopsDrain(t *testing.T) {
	h := newHarness(t, outbox.DegradeToText)
	h.add(t, store.PendingMessage{RoomID: "r", Message: "a", ClientTimestamp: 1})
	h.add(t, store.PendingMessage{RoomID: "r", Message: "b", ClientTimestamp: 2})

	ctx, cancel := context.WithCancel(context.Background())
	h.remote.onWrite = func(remote.Record) { cancel() }

	if res := h.engine.SyncPendingMessages(ctx); res != (Result{Synced: 1}) {
		t.Errorf("result = %+v, want {1 0}", res)
	}
}

func TestUploadFailureDegradesToText(t *testing.T) {
	h := newHarness(t, outbox.DegradeToText)
	h.remote.uploadErr = errors.New("upload 500")
	h.add(t, store.PendingMessage{
		RoomID: "r", Message: "caption",
		ImageData:       &store.ImageData{Data: []byte("x"), FileName: "x.png"},
		ClientTimestamp: 1,
	})

	if res := h.engine.SyncPendingMessages(context.Background()); res != (Result{Synced: 1}) {
		t.Fatalf("result = %+v, want {1 0}", res)
	}
	if rec := h.remote.records[0]; rec.ImageURL != "" || rec.Message != "caption" {
		t.Errorf("record = %+v, want text-only", rec)
	}
}

func TestUploadFailureRequirePolicyRetries(t *testing.T) {
	h := newHarness(t, outbox.RequireUpload)
	h.remote.uploadErr = errors.New("upload 500")
	id := h.add(t, store.PendingMessage{
		RoomID:          "r",
		ImageData:       &store.ImageData{Data: []byte("x"), FileName: "x.png"},
		ClientTimestamp: 1,
	})

	if res := h.engine.SyncPendingMessages(context.Background()); res != (Result{Failed: 1}) {
		t.Fatalf("result = %+v, want {0 1}", res)
	}
	if len(h.remote.bodies()) != 0 {
		t.Error("message written without its image")
	}
	if m := h.get(t, id); m.RetryCount != 1 || m.Status != store.StatusPending {
		t.Errorf("after failure: %s/%d, want pending/1", m.Status, m.RetryCount)
	}
}

func TestUploadingEntriesAreRetried(t *testing.T) {
	h := newHarness(t, outbox.DegradeToText)
	id := h.add(t, store.PendingMessage{RoomID: "r", Message: "stuck", ClientTimestamp: 1})
	if err := h.queue.UpdateStatus(id, store.StatusUploading, 1); err != nil {
		t.Fatal(err)
	}
	if res := h.engine.SyncPendingMessages(context.Background()); res != (Result{Synced: 1}) {
		t.Errorf("result = %+v, want {1 0}", res)
	}
}

// faultyStore fails UpdateStatus for one id.
type faultyStore struct {
	*outbox.Queue
	badID string
}

func (f *faultyStore) UpdateStatus(id string, s store.Status, retryCount int) error {
	if id == f.badID {
		return errors.New("disk full")
	}
	return f.Queue.UpdateStatus(id, s, retryCount)
}

func TestLocalFailureSkipsEntry(t *testing.T) {
	h := newHarness(t, outbox.DegradeToText)
	bad := h.add(t, store.PendingMessage{RoomID: "r", Message: "a", ClientTimestamp: 1})
	h.add(t, store.PendingMessage{RoomID: "r", Message: "b", ClientTimestamp: 2})

	d := outbox.NewDeliverer(h.remote, h.remote, outbox.DegradeToText, "f", nil)
	e := NewEngine(&faultyStore{Queue: h.queue, badID: bad}, d, h.conn, h.bus, nil, Options{}, nil)

	if res := e.SyncPendingMessages(context.Background()); res != (Result{Synced: 1, Failed: 1}) {
		t.Errorf("result = %+v, want {1 1}", res)
	}
	if got := h.remote.bodies(); len(got) != 1 || got[0] != "b" {
		t.Errorf("remote = %v, want [b]", got)
	}
	if m := h.get(t, bad); m.RetryCount != 0 {
		t.Errorf("retryCount = %d, want untouched 0", m.RetryCount)
	}
}

func TestOnCompleteReplacesCallback(t *testing.T) {
	h := newHarness(t, outbox.DegradeToText)
	h.add(t, store.PendingMessage{RoomID: "r", Message: "a", ClientTimestamp: 1})

	var first, second []Result
	h.engine.OnComplete(func(r Result) { first = append(first, r) })
	h.engine.OnComplete(func(r Result) { second = append(second, r) })

	h.engine.SyncPendingMessages(context.Background())
	if len(first) != 0 {
		t.Error("replaced callback was invoked")
	}
	if len(second) != 1 || second[0] != (Result{Synced: 1}) {
		t.Errorf("callback got %+v, want [{1 0}]", second)
	}
	if h.engine.Running() {
		t.Error("guard not released before callback returned")
	}
}

func TestDrainRecordsCheckpointAndEvent(t *testing.T) {
	h := newHarness(t, outbox.DegradeToText)
	h.add(t, store.PendingMessage{RoomID: "r", Message: "a", ClientTimestamp: 1})
	ch, unsub := h.bus.Subscribe("sync.", 4)
	defer unsub()

	h.engine.SyncPendingMessages(context.Background())

	select {
	case evt := <-ch:
		if evt.Payload.(Result) != (Result{Synced: 1}) {
			t.Errorf("payload = %+v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no sync.completed event")
	}

	cp, ok, err := NewReconciler(h.db, nil).LastDrain()
	if err != nil || !ok {
		t.Fatalf("LastDrain() ok=%v err=%v", ok, err)
	}
	if cp.Synced != 1 || cp.Failed != 0 || cp.At.IsZero() {
		t.Errorf("checkpoint = %+v", cp)
	}
}

func TestStartDrainsWhenOnline(t *testing.T) {
	h := newHarness(t, outbox.DegradeToText)
	h.add(t, store.PendingMessage{RoomID: "r", Message: "a", ClientTimestamp: 1})
	done := make(chan Result, 1)
	h.engine.OnComplete(func(r Result) { done <- r })

	h.engine.Start(context.Background())
	defer h.engine.Stop()

	m := status.NewMachine(h.bus)
	m.Observe(true)

	select {
	case res := <-done:
		if res.Synced != 1 {
			t.Errorf("result = %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not drain on ONLINE transition")
	}
}

func TestStartDrainsWhenMessageQueuedOnline(t *testing.T) {
	h := newHarness(t, outbox.DegradeToText)
	done := make(chan Result, 1)
	h.engine.OnComplete(func(r Result) { done <- r })

	h.engine.Start(context.Background())
	defer h.engine.Stop()

	h.add(t, store.PendingMessage{ID: "q1", RoomID: "r", Message: "queued", ClientTimestamp: 1})
	h.bus.Emit(bus.KindMessageQueued, outbox.MessageEvent{ID: "q1", RoomID: "r"})

	select {
	case res := <-done:
		if res.Synced != 1 {
			t.Errorf("result = %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not drain after message was queued")
	}
	if got := h.remote.bodies(); len(got) != 1 || got[0] != "queued" {
		t.Errorf("delivered = %v", got)
	}
}
