package live

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"
)

type fakeConn struct {
	id        string
	connected bool
	capacity  int

	mu   sync.Mutex
	msgs [][]byte
}

func (f *fakeConn) ID() string      { return f.id }
func (f *fakeConn) Connected() bool { return f.connected }

func (f *fakeConn) Send(b []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.msgs) >= f.capacity {
		return false
	}
	f.msgs = append(f.msgs, b)
	return true
}

func (f *fakeConn) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.msgs...)
}

func TestPreamble(t *testing.T) {
	got := Preamble(704, 576)
	want := []byte{'j', 's', 'm', 'p', 0x02, 0xC0, 0x02, 0x40}
	if !bytes.Equal(got, want) {
		t.Fatalf("Preamble=%v want %v", got, want)
	}

	got = Preamble(99999, -1)
	want = []byte{'j', 's', 'm', 'p', 0xFF, 0xFF, 0x00, 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("out-of-range Preamble=%v want %v", got, want)
	}
}

func TestHub_BroadcastSkipsFailingViewers(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	healthy := &fakeConn{id: "a", connected: true, capacity: 10}
	full := &fakeConn{id: "b", connected: true, capacity: 0}
	gone := &fakeConn{id: "c", connected: false, capacity: 10}
	h.Register(healthy)
	h.Register(full)
	h.Register(gone)

	h.Broadcast([]byte("one"))
	h.Broadcast([]byte("two"))

	got := healthy.received()
	if len(got) != 2 || string(got[0]) != "one" || string(got[1]) != "two" {
		t.Fatalf("healthy viewer got %q", got)
	}
	if len(gone.received()) != 0 {
		t.Fatal("disconnected viewer received data")
	}
	if h.Count() != 3 {
		t.Fatalf("Count=%d", h.Count())
	}
}

func TestHub_PreambleOnlyAfterDimensions(t *testing.T) {
	h := NewHub(nil)
	early := &fakeConn{id: "early", connected: true, capacity: 10}
	h.Register(early)
	h.SetDimensions(640, 480)
	late := &fakeConn{id: "late", connected: true, capacity: 10}
	h.Register(late)
	h.Broadcast([]byte("data"))

	if got := early.received(); len(got) != 1 || string(got[0]) != "data" {
		t.Fatalf("early viewer got %q", got)
	}
	got := late.received()
	if len(got) != 2 || !bytes.Equal(got[0], Preamble(640, 480)) || string(got[1]) != "data" {
		t.Fatalf("late viewer got %q", got)
	}
}

func TestHub_UnregisterAndCountHandler(t *testing.T) {
	h := NewHub(nil)
	var counts []int
	h.SetViewerCountHandler(func(n int) { counts = append(counts, n) })
	c := &fakeConn{id: "x", connected: true, capacity: 10}
	h.Register(c)
	h.Unregister(c)
	h.Unregister(c)
	h.Broadcast([]byte("ignored"))

	if len(c.received()) != 0 {
		t.Fatal("unregistered viewer received data")
	}
	if len(counts) != 2 || counts[0] != 1 || counts[1] != 0 {
		t.Fatalf("counts=%v", counts)
	}
}

type hubRegistry struct{ *Hub }

func (r hubRegistry) RegisterViewer(c Conn)   { r.Register(c) }
func (r hubRegistry) UnregisterViewer(c Conn) { r.Unregister(c) }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServeWs_StreamsBinaryFrames(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHub(zaptest.NewLogger(t))
	h.SetDimensions(320, 240)
	router := gin.New()
	router.GET("/ws", ServeWs(hubRegistry{h}, zaptest.NewLogger(t), nil))
	srv := httptest.NewServer(router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitFor(t, func() bool { return h.Count() == 1 })
	h.Broadcast([]byte("frame-bytes"))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	kind, msg, err := conn.ReadMessage()
	if err != nil || kind != websocket.BinaryMessage || !bytes.Equal(msg, Preamble(320, 240)) {
		t.Fatalf("first message kind=%d msg=%v err=%v", kind, msg, err)
	}
	kind, msg, err = conn.ReadMessage()
	if err != nil || kind != websocket.BinaryMessage || string(msg) != "frame-bytes" {
		t.Fatalf("second message kind=%d msg=%q err=%v", kind, msg, err)
	}

	_ = conn.Close()
	waitFor(t, func() bool { return h.Count() == 0 })
}

func TestServeWs_RejectsBadToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHub(nil)
	router := gin.New()
	router.GET("/ws", ServeWs(hubRegistry{h}, zaptest.NewLogger(t), func(token string) error {
		if token != "good" {
			return websocket.ErrBadHandshake
		}
		return nil
	}))
	srv := httptest.NewServer(router)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?token=bad", nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("resp=%v", resp)
	}
	if h.Count() != 0 {
		t.Fatal("rejected viewer was registered")
	}
}
