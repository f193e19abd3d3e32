// Package host runs the authoritative tick loop: it feeds websocket packets
// into the connection manager, steps the game and flushes packets back.
package host

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-dev/netsync/internal/capture"
	"github.com/vango-dev/netsync/internal/errors"
	"github.com/vango-dev/netsync/internal/game"
	"github.com/vango-dev/netsync/internal/wsnet"
	"github.com/vango-dev/netsync/pkg/clock"
	"github.com/vango-dev/netsync/pkg/protocol"
	"github.com/vango-dev/netsync/pkg/server"
)

// Transport is the packet transport the host drives. *wsnet.Hub
// implements it.
type Transport interface {
	Events() <-chan wsnet.Event
	Send(peer protocol.PeerID, data []byte) error
	Disconnect(peer protocol.PeerID)
	Peers() []wsnet.PeerInfo
}

// Options configures a Host.
type Options struct {
	// TickDuration is the length of one simulation tick.
	TickDuration time.Duration

	// Archive records traffic per peer. Optional.
	Archive *capture.Archive

	// FinishTimeout bounds the upload of one capture.
	// Default: 30s
	FinishTimeout time.Duration

	Logger *slog.Logger
}

// PeerStatus describes one connected peer.
type PeerStatus struct {
	ID              protocol.PeerID `json:"id"`
	Session         string          `json:"session"`
	RemoteAddr      string          `json:"remote_addr"`
	ConnectedAt     time.Time       `json:"connected_at"`
	RTT             time.Duration   `json:"rtt_ns"`
	Jitter          time.Duration   `json:"jitter_ns"`
	Offset          time.Duration   `json:"offset_ns"`
	InFlightPackets int             `json:"in_flight_packets"`
	PacketsSent     uint64          `json:"packets_sent"`
	PacketsReceived uint64          `json:"packets_received"`
	PacketsDropped  uint64          `json:"packets_dropped"`
	Position        *game.Position  `json:"position,omitempty"`
}

// Status is a snapshot of the host.
type Status struct {
	Tick  protocol.Tick `json:"tick"`
	Peers int           `json:"peers"`
	Game  game.Stats    `json:"game"`
}

type peerStats struct {
	rtt, jitter, offset time.Duration
	inFlight            int
	sent, received      uint64
	position            *game.Position
}

// Host owns the connection manager and the game. Step and Run must be
// called from one goroutine; Peers and Status are safe from any goroutine.
type Host struct {
	mgr     *server.Manager
	game    *game.Game
	net     Transport
	archive *capture.Archive
	opts    Options
	logger  *slog.Logger

	clock *clock.TimeManager
	ticks *clock.TickManager

	mu       sync.RWMutex
	snapshot map[protocol.PeerID]peerStats
	status   Status

	uploads sync.WaitGroup
}

// New creates a Host.
func New(mgr *server.Manager, g *game.Game, net Transport, opts Options) *Host {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.FinishTimeout <= 0 {
		opts.FinishTimeout = 30 * time.Second
	}
	return &Host{
		mgr:      mgr,
		game:     g,
		net:      net,
		archive:  opts.Archive,
		opts:     opts,
		logger:   opts.Logger.With("component", "host"),
		clock:    clock.NewTimeManager(0),
		ticks:    clock.NewTickManager(opts.TickDuration),
		snapshot: make(map[protocol.PeerID]peerStats),
	}
}

// Tick returns the tick the next Step runs.
func (h *Host) Tick() protocol.Tick {
	return h.ticks.Current()
}

// Run steps the host every tick until ctx is done or a step fails.
func (h *Host) Run(ctx context.Context) error {
	if h.opts.TickDuration <= 0 {
		return errors.New("E121").WithDetail("tick duration must be positive")
	}
	ticker := time.NewTicker(h.opts.TickDuration)
	defer ticker.Stop()

	h.logger.Info("tick loop started", "tick_duration", h.opts.TickDuration)
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("tick loop stopped", "tick", h.ticks.Current())
			return nil
		case now := <-ticker.C:
			delta := now.Sub(last)
			last = now
			if err := h.Step(ctx, delta); err != nil {
				return err
			}
		}
	}
}

// Step runs one tick. It only returns an error when the connection manager
// broke an internal invariant; everything else is logged.
func (h *Host) Step(ctx context.Context, delta time.Duration) error {
	tick := h.ticks.Current()
	h.drainNetwork(ctx, tick)

	h.clock.Update(delta)
	now := h.clock.Current()
	h.mgr.Update(delta)

	if err := h.mgr.BufferReplicationMessages(ctx, tick); err != nil {
		if fatal := h.check(err, "buffer replication messages"); fatal != nil {
			return fatal
		}
	}

	events, err := h.mgr.Receive(ctx, h.game.World(), now)
	if err != nil {
		if fatal := h.check(err, "receive"); fatal != nil {
			return fatal
		}
	}
	for _, peer := range h.mgr.TakeNewPeers() {
		if err := h.game.Join(peer); err != nil {
			h.logger.Warn("join failed", "peer", peer, "error", err)
		}
	}
	if events != nil {
		if err := h.game.HandleEvents(events); err != nil {
			h.logger.Warn("handling events failed", "tick", tick, "error", err)
		}
	}

	h.game.Step(tick, h.mgr.PopInputs(tick))

	out, err := h.mgr.SendPackets(now, tick)
	if err != nil {
		if fatal := h.check(err, "send packets"); fatal != nil {
			return fatal
		}
	}
	for _, pp := range out {
		for _, p := range pp.Payloads {
			h.record(pp.Peer, tick, capture.DirOut, p)
			if err := h.net.Send(pp.Peer, p); err != nil {
				h.logger.Debug("dropping packet", "peer", pp.Peer, "error", err)
			}
		}
	}

	h.publish(tick)
	h.ticks.Increment()
	return nil
}

// check converts invariant violations into a fatal host error and logs the
// rest.
func (h *Host) check(err error, op string) error {
	if stderrors.Is(err, server.ErrInvariantViolation) {
		h.logger.Error("invariant violated, stopping", "op", op, "error", err)
		return errors.New("E200").WithDetail(op).Wrap(err)
	}
	h.logger.Warn("tick step failed", "op", op, "error", err)
	return nil
}

// drainNetwork applies every transport event queued so far without
// blocking.
func (h *Host) drainNetwork(ctx context.Context, tick protocol.Tick) {
	events := h.net.Events()
	for {
		select {
		case ev := <-events:
			h.handleEvent(ctx, tick, ev)
		default:
			return
		}
	}
}

func (h *Host) handleEvent(ctx context.Context, tick protocol.Tick, ev wsnet.Event) {
	switch ev.Kind {
	case wsnet.EventConnect:
		if err := h.mgr.Add(ev.Peer); err != nil {
			h.logger.Error("peer rejected", "peer", ev.Peer, "error", errors.New("E202").Wrap(err))
			h.net.Disconnect(ev.Peer)
		}
	case wsnet.EventPacket:
		if _, err := h.mgr.RecvPacket(ev.Peer, ev.Data); err != nil {
			h.logger.Debug("dropping packet", "peer", ev.Peer, "error", err)
			return
		}
		h.record(ev.Peer, tick, capture.DirIn, ev.Data)
	case wsnet.EventDisconnect:
		h.mgr.Remove(ev.Peer)
		h.finishCapture(ctx, ev.Peer)
	}
}

func (h *Host) record(peer protocol.PeerID, tick protocol.Tick, dir capture.Direction, data []byte) {
	if h.archive != nil {
		h.archive.Record(peer, tick, dir, data)
	}
}

// finishCapture uploads the capture of peer in the background so the tick
// loop never waits on object storage.
func (h *Host) finishCapture(ctx context.Context, peer protocol.PeerID) {
	if h.archive == nil {
		return
	}
	h.uploads.Add(1)
	go func() {
		defer h.uploads.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.opts.FinishTimeout)
		defer cancel()
		if _, err := h.archive.Finish(ctx, peer); err != nil {
			h.logger.Error("capture lost", "peer", peer, "error", errors.New("E300").Wrap(err))
		}
	}()
}

// Wait blocks until every pending capture upload has finished.
func (h *Host) Wait() {
	h.uploads.Wait()
}

// publish copies per-peer statistics for readers on other goroutines.
func (h *Host) publish(tick protocol.Tick) {
	snap := make(map[protocol.PeerID]peerStats, h.mgr.Len())
	for _, peer := range h.mgr.Peers() {
		conn, err := h.mgr.Connection(peer)
		if err != nil {
			continue
		}
		st := conn.Transport().Stats()
		ps := peerStats{
			rtt:      conn.RTT(),
			jitter:   conn.Jitter(),
			offset:   conn.Offset(),
			inFlight: conn.Transport().InFlightPackets(),
			sent:     st.PacketsSent,
			received: st.PacketsReceived,
		}
		if pos, ok := h.game.Position(peer); ok {
			ps.position = &pos
		}
		snap[peer] = ps
	}

	h.mu.Lock()
	h.snapshot = snap
	h.status = Status{Tick: tick, Peers: len(snap), Game: h.game.Stats()}
	h.mu.Unlock()
}

// Peers returns the status of every connected peer, ordered by id.
func (h *Host) Peers() []PeerStatus {
	infos := h.net.Peers()
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]PeerStatus, 0, len(infos))
	for _, info := range infos {
		ps := PeerStatus{
			ID:             info.ID,
			Session:        info.Session.String(),
			RemoteAddr:     info.RemoteAddr,
			ConnectedAt:    info.ConnectedAt,
			PacketsDropped: info.Dropped,
		}
		if s, ok := h.snapshot[info.ID]; ok {
			ps.RTT = s.rtt
			ps.Jitter = s.jitter
			ps.Offset = s.offset
			ps.InFlightPackets = s.inFlight
			ps.PacketsSent = s.sent
			ps.PacketsReceived = s.received
			ps.Position = s.position
		}
		out = append(out, ps)
	}
	return out
}

// Status returns a snapshot of the host as of the last completed tick.
func (h *Host) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}
