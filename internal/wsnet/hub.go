// Package wsnet carries netsync packets over websocket connections.
//
// Every binary websocket message is one transport payload. The Hub assigns a
// PeerID per connection and reports connects, packets and disconnects on a
// single channel so that one goroutine can own the connection manager.
package wsnet

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/vango-dev/netsync/pkg/protocol"
)

var (
	// ErrPeerNotFound is returned by Send for an unknown or closed peer.
	ErrPeerNotFound = errors.New("wsnet: peer not found")

	// ErrSendQueueFull is returned by Send when the peer's writer is too far
	// behind. The payload is dropped, like a lost datagram.
	ErrSendQueueFull = errors.New("wsnet: send queue full")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("wsnet: hub closed")
)

// Config configures a Hub.
type Config struct {
	// ReadBufferSize and WriteBufferSize size the websocket buffers.
	ReadBufferSize  int
	WriteBufferSize int

	// MaxMessageSize is the largest accepted payload in bytes.
	// Default: 64KB
	MaxMessageSize int64

	// ReadTimeout closes connections that stay silent for this long.
	// Peers send packets at least every ping interval.
	// Default: 10s
	ReadTimeout time.Duration

	// WriteTimeout bounds a single websocket write.
	// Default: 5s
	WriteTimeout time.Duration

	// SendQueue is the number of payloads buffered per peer.
	// Default: 256
	SendQueue int

	// EventQueue is the capacity of the Events channel.
	// Default: 1024
	EventQueue int

	// PacketRate caps the packets accepted per second from one peer, with
	// bursts of up to PacketBurst. Packets over the cap are dropped.
	// rate.Inf disables the cap.
	// Default: 240/s, burst 120
	PacketRate  rate.Limit
	PacketBurst int

	// CheckOrigin validates the Origin header. nil accepts same-origin
	// requests only.
	CheckOrigin func(r *http.Request) bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		MaxMessageSize:  64 * 1024,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    5 * time.Second,
		SendQueue:       256,
		EventQueue:      1024,
		PacketRate:      240,
		PacketBurst:     120,
	}
}

// EventKind classifies a hub event.
type EventKind uint8

const (
	EventConnect    EventKind = iota + 1 // Peer upgraded
	EventPacket                          // Binary payload received
	EventDisconnect                      // Connection closed
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "Connect"
	case EventPacket:
		return "Packet"
	case EventDisconnect:
		return "Disconnect"
	default:
		return "Unknown"
	}
}

// Event is something that happened on a connection. Data is set for
// EventPacket only and is owned by the receiver.
type Event struct {
	Kind EventKind
	Peer protocol.PeerID
	Data []byte
}

// PeerInfo describes a live connection.
type PeerInfo struct {
	ID          protocol.PeerID
	Session     uuid.UUID
	RemoteAddr  string
	ConnectedAt time.Time

	// Dropped counts packets discarded by the rate limit.
	Dropped uint64
}

type peer struct {
	info      PeerInfo
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	limiter *rate.Limiter
	dropped atomic.Uint64
}

func (p *peer) close() {
	p.closeOnce.Do(func() { close(p.done) })
}

// Hub accepts websocket peers. It is safe for concurrent use.
type Hub struct {
	cfg      Config
	upgrader websocket.Upgrader
	logger   *slog.Logger

	nextID atomic.Uint64
	events chan Event
	done   chan struct{}

	mu     sync.RWMutex
	peers  map[protocol.PeerID]*peer
	closed bool
	wg     sync.WaitGroup
}

// NewHub creates a hub. A nil logger uses slog.Default.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	def := DefaultConfig()
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = def.SendQueue
	}
	if cfg.EventQueue <= 0 {
		cfg.EventQueue = def.EventQueue
	}
	if cfg.PacketRate <= 0 {
		cfg.PacketRate = def.PacketRate
	}
	if cfg.PacketBurst <= 0 {
		cfg.PacketBurst = def.PacketBurst
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
		logger: logger.With("component", "wsnet"),
		events: make(chan Event, cfg.EventQueue),
		done:   make(chan struct{}),
		peers:  make(map[protocol.PeerID]*peer),
	}
}

// Events returns the channel every connect, packet and disconnect is
// reported on. For each peer, EventConnect comes first and EventDisconnect
// last.
func (h *Hub) Events() <-chan Event {
	return h.events
}

// ServeHTTP upgrades the request and runs the peer until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(h.cfg.MaxMessageSize)

	p := &peer{
		info: PeerInfo{
			ID:          protocol.PeerID(h.nextID.Add(1)),
			Session:     uuid.New(),
			RemoteAddr:  r.RemoteAddr,
			ConnectedAt: time.Now(),
		},
		conn:    conn,
		send:    make(chan []byte, h.cfg.SendQueue),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(h.cfg.PacketRate, h.cfg.PacketBurst),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.peers[p.info.ID] = p
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	logger := h.logger.With("peer", p.info.ID, "session", p.info.Session)
	logger.Info("peer connected", "remote", r.RemoteAddr)
	if !h.emit(Event{Kind: EventConnect, Peer: p.info.ID}) {
		h.remove(p)
		return
	}

	go h.writeLoop(p, logger)
	h.readLoop(p, logger)

	h.remove(p)
	h.emit(Event{Kind: EventDisconnect, Peer: p.info.ID})
	logger.Info("peer disconnected")
}

func (h *Hub) emit(ev Event) bool {
	select {
	case h.events <- ev:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) readLoop(p *peer, logger *slog.Logger) {
	for {
		p.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		kind, msg, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				logger.Warn("read error", "error", err)
			}
			return
		}
		if kind != websocket.BinaryMessage {
			logger.Debug("ignoring non-binary message", "type", kind)
			continue
		}
		if !p.limiter.Allow() {
			if p.dropped.Add(1) == 1 {
				logger.Warn("packet rate exceeded, dropping", "rate", float64(h.cfg.PacketRate))
			}
			continue
		}
		if !h.emit(Event{Kind: EventPacket, Peer: p.info.ID, Data: msg}) {
			return
		}
	}
}

func (h *Hub) writeLoop(p *peer, logger *slog.Logger) {
	defer p.conn.Close()
	for {
		select {
		case data := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := p.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				logger.Warn("write error", "error", err)
				return
			}
		case <-p.done:
			p.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			return
		}
	}
}

func (h *Hub) remove(p *peer) {
	h.mu.Lock()
	if cur, ok := h.peers[p.info.ID]; ok && cur == p {
		delete(h.peers, p.info.ID)
	}
	h.mu.Unlock()
	p.close()
	p.conn.Close()
}

// Send queues one payload for peer. It never blocks: when the peer's queue
// is full the payload is dropped and ErrSendQueueFull returned.
func (h *Hub) Send(id protocol.PeerID, data []byte) error {
	h.mu.RLock()
	p, ok := h.peers[id]
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if !ok {
		return ErrPeerNotFound
	}
	select {
	case <-p.done:
		return ErrPeerNotFound
	default:
	}
	select {
	case p.send <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Disconnect closes the connection of peer. Its EventDisconnect follows.
func (h *Hub) Disconnect(id protocol.PeerID) {
	h.mu.RLock()
	p, ok := h.peers[id]
	h.mu.RUnlock()
	if ok {
		p.close()
	}
}

// Peers returns the live connections ordered by id.
func (h *Hub) Peers() []PeerInfo {
	h.mu.RLock()
	out := make([]PeerInfo, 0, len(h.peers))
	for _, p := range h.peers {
		info := p.info
		info.Dropped = p.dropped.Load()
		out = append(out, info)
	}
	h.mu.RUnlock()
	slices.SortFunc(out, func(a, b PeerInfo) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Close disconnects every peer and waits for their handlers to return.
// Events still queued stay readable.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.done)
	peers := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		p.close()
		p.conn.Close()
	}
	h.wg.Wait()
}
