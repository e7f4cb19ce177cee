package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/contrib/websocket"
)

// fakeConn is an in-memory Conn. Reads block until Close.
type fakeConn struct {
	mu      sync.Mutex
	written [][]byte
	types   []int
	closed  chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{closed: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	<-f.closed
	return 0, nil, errors.New("closed")
}

func (f *fakeConn) WriteMessage(t int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types = append(f.types, t)
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) SetReadLimit(int64) {}
func (f *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeConn) SetPongHandler(func(string) error) {}
func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) textMessages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for i, t := range f.types {
		if t == websocket.TextMessage {
			out = append(out, f.written[i])
		}
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHubBroadcastsEvents(t *testing.T) {
	h := New("test", nil)
	go h.Run()
	defer h.Stop()

	conn := newFakeConn()
	go Serve(h, conn)
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	h.Publish(NewEvent("m1", EventAnnounce, map[string]string{"text": "Participant Joined Alice"}))

	waitFor(t, func() bool { return len(conn.textMessages()) == 1 })

	var e Event
	if err := json.Unmarshal(conn.textMessages()[0], &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Type != EventAnnounce || e.MeetingID != "m1" || e.ID == "" {
		t.Errorf("unexpected event %+v", e)
	}
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	h := New("test", nil)
	go h.Run()
	defer h.Stop()

	conn := newFakeConn()
	go Serve(h, conn)
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	conn.Close()
	waitFor(t, func() bool { return h.ClientCount() == 0 })
}

func TestHubStopDisconnectsClients(t *testing.T) {
	h := New("test", nil)
	go h.Run()
	waitFor(t, h.IsRunning)

	conn := newFakeConn()
	go Serve(h, conn)
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	h.Stop()
	h.Stop()

	if h.IsRunning() {
		t.Error("expected hub stopped")
	}
	select {
	case <-conn.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected connection closed after Stop")
	}

	// Late clients are turned away.
	late := newFakeConn()
	Serve(h, late)
	select {
	case <-late.closed:
	default:
		t.Error("expected late connection closed")
	}

	// Broadcasting after Stop is a no-op.
	h.Publish(NewEvent("m1", EventState, nil))
}

func TestHubReplaysBacklogToLateSubscribers(t *testing.T) {
	h := New("test", nil)
	go h.Run()
	defer h.Stop()

	for i := 0; i < BacklogSize+3; i++ {
		h.Publish(NewEvent("m1", EventTranscript, map[string]int{"n": i}))
	}
	waitFor(t, func() bool { return len(h.Backlog()) == BacklogSize })
	if h.Published() != BacklogSize+3 {
		t.Errorf("expected %d published, got %d", BacklogSize+3, h.Published())
	}

	conn := newFakeConn()
	go Serve(h, conn)
	waitFor(t, func() bool { return len(conn.textMessages()) == BacklogSize })

	var first struct {
		Data map[string]int `json:"data"`
	}
	if err := json.Unmarshal(conn.textMessages()[0], &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first.Data["n"] != 3 {
		t.Errorf("expected oldest retained event n=3, got %d", first.Data["n"])
	}
}
