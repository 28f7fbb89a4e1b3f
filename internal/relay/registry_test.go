package relay

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/ghostd/internal/protocol"
)

// attachServer upgrades inbound requests and reports each attached target ID
// on the returned channel.
func attachServer(t *testing.T, reg *Registry) (*httptest.Server, chan protocol.TargetID) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ids := make(chan protocol.TargetID, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ids <- reg.Attach(conn)
	}))
	t.Cleanup(srv.Close)
	return srv, ids
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSendDelivers(t *testing.T) {
	reg := NewRegistry()
	srv, ids := attachServer(t, reg)
	conn := dial(t, srv)
	id := <-ids

	if !reg.IsTargetValid(id) {
		t.Fatal("expected attached target to be valid")
	}
	if !reg.Send(id, protocol.StreamChunk("x")) {
		t.Fatal("expected send to a live target to succeed")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != protocol.TypeStreamChunk || msg.Chunk != "x" {
		t.Errorf("expected STREAM_CHUNK 'x', got %+v", msg)
	}
}

func TestSendToGoneTarget(t *testing.T) {
	reg := NewRegistry()
	srv, ids := attachServer(t, reg)
	dial(t, srv)
	id := <-ids

	reg.Detach(id)
	if reg.IsTargetValid(id) {
		t.Error("expected detached target to be invalid")
	}
	if reg.Send(id, protocol.StreamStart()) {
		t.Error("expected send to a detached target to return false")
	}
	if reg.Send("never-existed", protocol.StreamStart()) {
		t.Error("expected send to an unknown target to return false")
	}
}

func TestDetachIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	srv, ids := attachServer(t, reg)
	dial(t, srv)
	id := <-ids

	reg.Detach(id)
	reg.Detach(id)

	if got := len(reg.Targets()); got != 0 {
		t.Errorf("expected 0 targets, got %d", got)
	}
}

func TestFocusedIsMostRecent(t *testing.T) {
	reg := NewRegistry()
	srv, ids := attachServer(t, reg)

	if _, ok := reg.Focused(); ok {
		t.Fatal("expected no focused target on an empty registry")
	}

	dial(t, srv)
	first := <-ids
	dial(t, srv)
	second := <-ids

	focused, ok := reg.Focused()
	if !ok || focused != second {
		t.Errorf("expected focused target %s, got %s", second, focused)
	}

	reg.Detach(second)
	focused, ok = reg.Focused()
	if !ok || focused != first {
		t.Errorf("expected focus to fall back to %s, got %s", first, focused)
	}
}
