package wsnet

import (
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestHub(t *testing.T, cfg Config) (*Hub, *httptest.Server) {
	t.Helper()
	h := NewHub(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func nextEvent(t *testing.T, h *Hub) Event {
	t.Helper()
	select {
	case ev := <-h.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestHub_ConnectPacketDisconnect(t *testing.T) {
	h, srv := newTestHub(t, DefaultConfig())
	conn := dial(t, srv)

	ev := nextEvent(t, h)
	if ev.Kind != EventConnect || ev.Peer == 0 {
		t.Fatalf("first event = %+v, want Connect", ev)
	}
	peer := ev.Peer

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	// Text frames are ignored.
	if err := conn.WriteMessage(websocket.TextMessage, []byte("hi")); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{4}); err != nil {
		t.Fatal(err)
	}

	ev = nextEvent(t, h)
	if ev.Kind != EventPacket || ev.Peer != peer || string(ev.Data) != "\x01\x02\x03" {
		t.Fatalf("event = %+v, want packet 1,2,3", ev)
	}
	ev = nextEvent(t, h)
	if ev.Kind != EventPacket || string(ev.Data) != "\x04" {
		t.Fatalf("event = %+v, want packet 4", ev)
	}

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	ev = nextEvent(t, h)
	if ev.Kind != EventDisconnect || ev.Peer != peer {
		t.Fatalf("event = %+v, want Disconnect", ev)
	}
	if len(h.Peers()) != 0 {
		t.Error("peer should be gone after disconnect")
	}
}

func TestHub_PacketRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PacketRate = 0.001
	cfg.PacketBurst = 2
	h, srv := newTestHub(t, cfg)
	conn := dial(t, srv)
	peer := nextEvent(t, h).Peer

	for i := range 5 {
		if err := conn.WriteMessage(websocket.BinaryMessage, []byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	for i := range 2 {
		ev := nextEvent(t, h)
		if ev.Kind != EventPacket || ev.Data[0] != byte(i) {
			t.Fatalf("event %d = %+v, want packet %d", i, ev, i)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		peers := h.Peers()
		if len(peers) == 1 && peers[0].ID == peer && peers[0].Dropped == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("peers = %+v, want 3 dropped", peers)
		}
		time.Sleep(10 * time.Millisecond)
	}
	select {
	case ev := <-h.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestHub_Send(t *testing.T) {
	h, srv := newTestHub(t, DefaultConfig())
	conn := dial(t, srv)
	peer := nextEvent(t, h).Peer

	if err := h.Send(peer, []byte{9, 9}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if kind != websocket.BinaryMessage || string(data) != "\x09\x09" {
		t.Errorf("got %d %v", kind, data)
	}

	if err := h.Send(peer+100, []byte{1}); !errors.Is(err, ErrPeerNotFound) {
		t.Errorf("Send to unknown peer = %v, want ErrPeerNotFound", err)
	}
}

func TestHub_PeersAndDisconnect(t *testing.T) {
	h, srv := newTestHub(t, DefaultConfig())
	dial(t, srv)
	a := nextEvent(t, h).Peer
	conn := dial(t, srv)
	b := nextEvent(t, h).Peer

	peers := h.Peers()
	if len(peers) != 2 || peers[0].ID != a || peers[1].ID != b {
		t.Fatalf("Peers = %+v", peers)
	}
	if peers[0].Session == peers[1].Session {
		t.Error("sessions should be unique")
	}

	h.Disconnect(b)
	ev := nextEvent(t, h)
	if ev.Kind != EventDisconnect || ev.Peer != b {
		t.Fatalf("event = %+v, want Disconnect of %d", ev, b)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("client read error = %v, want normal close", err)
	}
}

func TestHub_ReadTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReadTimeout = 50 * time.Millisecond
	h, srv := newTestHub(t, cfg)
	dial(t, srv)
	peer := nextEvent(t, h).Peer

	ev := nextEvent(t, h)
	if ev.Kind != EventDisconnect || ev.Peer != peer {
		t.Fatalf("event = %+v, want Disconnect after silence", ev)
	}
}

func TestHub_SendAfterClose(t *testing.T) {
	h, _ := newTestHub(t, DefaultConfig())
	h.Close()
	if err := h.Send(1, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Send = %v, want ErrClosed", err)
	}
	h.Close()
}

func TestEventKind_String(t *testing.T) {
	tests := map[EventKind]string{
		EventConnect:    "Connect",
		EventPacket:     "Packet",
		EventDisconnect: "Disconnect",
		EventKind(0):    "Unknown",
	}
	for k, want := range tests {
		if got := k.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", k, got, want)
		}
	}
}
