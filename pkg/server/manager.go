package server

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/netsync/pkg/protocol"
	"github.com/vango-dev/netsync/pkg/replication"
	"github.com/vango-dev/netsync/pkg/transport"
)

// tracerName is the instrumentation name of the Manager's spans.
const tracerName = "github.com/vango-dev/netsync/pkg/server"

// PeerInput is the input of one peer for one tick. Input is nil when the
// peer never sent any.
type PeerInput struct {
	Input protocol.Input
	Peer  protocol.PeerID
}

// PeerPayloads are the packets flushed for one peer.
type PeerPayloads struct {
	Peer     protocol.PeerID
	Payloads []transport.Payload
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics records Prometheus metrics. Without it nothing is recorded.
func WithMetrics(m *Metrics) Option {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// WithTracerProvider sets the tracer provider.
// Default: the global OpenTelemetry provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(mgr *Manager) {
		mgr.tracer = tp.Tracer(tracerName)
	}
}

// WithChannels sets the channel registry shared by every connection.
// Default: transport.NewChannels().
func WithChannels(c *transport.Channels) Option {
	return func(mgr *Manager) {
		mgr.channels = c
	}
}

// Manager owns the connections of every peer.
//
// Manager is driven by one goroutine, once per tick, in this order:
// Update, BufferReplicationMessages, Receive, PopInputs, SendPackets.
// Packets may be fed with RecvPacket any time on that same goroutine.
// It is not safe for concurrent use.
type Manager struct {
	registry    *protocol.Registry
	channels    *transport.Channels
	config      *Config
	connections map[protocol.PeerID]*Connection

	newPeers []protocol.PeerID
	pending  *ServerEvents

	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// NewManager creates a Manager.
func NewManager(registry *protocol.Registry, config *Config, logger *slog.Logger, opts ...Option) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		registry:    registry,
		config:      config,
		connections: make(map[protocol.PeerID]*Connection),
		pending:     newServerEvents(),
		logger:      logger.With("component", "connection_manager"),
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.channels == nil {
		m.channels = transport.NewChannels()
	}
	return m
}

// Channels returns the channel registry.
func (m *Manager) Channels() *transport.Channels {
	return m.channels
}

// Add creates the connection of peer, queues a connect event and marks the
// peer as new so the host replicates a full snapshot to it. Adding a peer
// that is already connected changes nothing.
func (m *Manager) Add(peer protocol.PeerID) error {
	if _, ok := m.connections[peer]; ok {
		m.logger.Info("peer already connected", "peer", peer)
		return nil
	}
	conn, err := NewConnection(peer, m.registry, m.channels, m.config, m.logger, m.metrics)
	if err != nil {
		return NewConnectionError(peer, "add", err)
	}
	m.connections[peer] = conn
	m.newPeers = append(m.newPeers, peer)
	m.pending.Connections = append(m.pending.Connections, peer)
	m.metrics.setConnected(len(m.connections))
	m.logger.Info("peer connected", "peer", peer, "connected_clients", len(m.connections))
	return nil
}

// Remove drops the connection of peer and everything buffered for it, and
// queues a disconnect event. Removing an unknown peer is a no-op.
func (m *Manager) Remove(peer protocol.PeerID) {
	if _, ok := m.connections[peer]; !ok {
		return
	}
	delete(m.connections, peer)
	m.newPeers = slices.DeleteFunc(m.newPeers, func(p protocol.PeerID) bool { return p == peer })
	m.pending.Disconnections = append(m.pending.Disconnections, peer)
	m.metrics.setConnected(len(m.connections))
	m.logger.Info("peer disconnected", "peer", peer, "connected_clients", len(m.connections))
}

// Connection returns the connection of peer. The returned pointer may be
// used to mutate it.
func (m *Manager) Connection(peer protocol.PeerID) (*Connection, error) {
	conn, ok := m.connections[peer]
	if !ok {
		return nil, NewConnectionError(peer, "lookup", ErrPeerNotFound)
	}
	return conn, nil
}

// Len returns the number of live connections.
func (m *Manager) Len() int {
	return len(m.connections)
}

// Peers returns every connected peer in ascending order.
func (m *Manager) Peers() []protocol.PeerID {
	peers := make([]protocol.PeerID, 0, len(m.connections))
	for p := range m.connections {
		peers = append(peers, p)
	}
	slices.Sort(peers)
	return peers
}

// TakeNewPeers returns and clears the peers added since the previous call.
func (m *Manager) TakeNewPeers() []protocol.PeerID {
	peers := m.newPeers
	m.newPeers = nil
	return peers
}

// Update advances the timers of every connection.
func (m *Manager) Update(delta time.Duration) {
	for _, conn := range m.connections {
		conn.Update(delta)
	}
}

// PopInputs returns one entry per connected peer: its input for tick, else
// its latest earlier input, else a nil Input. The order is unspecified.
func (m *Manager) PopInputs(tick protocol.Tick) []PeerInput {
	out := make([]PeerInput, 0, len(m.connections))
	for peer, conn := range m.connections {
		in, exact := conn.PopInput(tick)
		if !exact {
			m.metrics.recordInputMissed()
		}
		out = append(out, PeerInput{Input: in, Peer: peer})
	}
	return out
}

// BufferMessage queues msg on channel for every peer matching target. The
// message is encoded once; each recipient's envelope copies the encoded
// payload. The first failure aborts the fan-out.
func (m *Manager) BufferMessage(msg protocol.Message, channel protocol.ChannelKind, target protocol.NetworkTarget) error {
	if target.IsNone() {
		return nil
	}
	payload := protocol.EncodeMessage(msg)
	for peer, conn := range m.connections {
		if !target.ShouldSendTo(peer) {
			continue
		}
		if _, _, err := conn.bufferPayload(payload, channel); err != nil {
			return err
		}
	}
	return nil
}

// BufferReplicationMessages finalizes the pending replication changes of
// every connection for tick. A failing connection keeps its unsent changes
// for the next tick and does not stop the others; the returned error joins
// every failure.
func (m *Manager) BufferReplicationMessages(ctx context.Context, tick protocol.Tick) error {
	_, span := m.tracer.Start(ctx, "netsync.buffer_replication_messages",
		trace.WithAttributes(
			attribute.Int("netsync.tick", int(tick)),
			attribute.Int("netsync.peers", len(m.connections)),
		))
	defer span.End()

	var errs []error
	for _, conn := range m.connections {
		if err := conn.BufferReplicationMessages(tick); err != nil {
			span.RecordError(err)
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// Receive drains every connection into world and returns the events of
// this pass keyed by peer, together with the connects and disconnects since
// the previous pass. Messages flagged for relaying are then buffered with
// their original target and channel. A relayed message is only relayed: it
// never also appears as a MessageEvent of its sender.
func (m *Manager) Receive(ctx context.Context, world replication.World, now time.Duration) (*ServerEvents, error) {
	_, span := m.tracer.Start(ctx, "netsync.receive",
		trace.WithAttributes(attribute.Int("netsync.peers", len(m.connections))))
	defer span.End()

	events := m.pending
	m.pending = newServerEvents()

	var relays []Rebroadcast
	for peer, conn := range m.connections {
		if ev := conn.Receive(world, now); !ev.IsEmpty() {
			events.Peers[peer] = ev
		}
		relays = append(relays, conn.TakeRebroadcasts()...)
	}

	for _, r := range relays {
		if err := m.BufferMessage(r.Message, r.Channel, r.Target); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return events, err
		}
		m.metrics.recordRebroadcast()
	}
	span.SetAttributes(attribute.Int("netsync.rebroadcasts", len(relays)))
	span.SetStatus(codes.Ok, "")
	return events, nil
}

// RecvPacket feeds one packet received from peer.
func (m *Manager) RecvPacket(peer protocol.PeerID, data []byte) (protocol.Tick, error) {
	conn, err := m.Connection(peer)
	if err != nil {
		return 0, err
	}
	return conn.RecvPacket(data)
}

// SendPackets flushes every connection that is ready to send. The first
// failure aborts the pass.
func (m *Manager) SendPackets(now time.Duration, tick protocol.Tick) ([]PeerPayloads, error) {
	var out []PeerPayloads
	for peer, conn := range m.connections {
		payloads, err := conn.SendPackets(now, tick)
		if err != nil {
			return out, err
		}
		if len(payloads) > 0 {
			out = append(out, PeerPayloads{Peer: peer, Payloads: payloads})
		}
	}
	return out, nil
}

// PrepareEntitySpawn queues the spawn of e for every peer matching target.
func (m *Manager) PrepareEntitySpawn(e protocol.Entity, group protocol.GroupID, target protocol.NetworkTarget) {
	m.each(target, func(c *Connection) { c.sender.PrepareSpawn(e, group) })
}

// PrepareEntityDespawn queues the despawn of e for every peer matching
// target.
func (m *Manager) PrepareEntityDespawn(e protocol.Entity, group protocol.GroupID, target protocol.NetworkTarget) {
	m.each(target, func(c *Connection) { c.sender.PrepareDespawn(e, group) })
}

// PrepareComponentInsert queues the insertion of comp on e for every peer
// matching target.
func (m *Manager) PrepareComponentInsert(e protocol.Entity, group protocol.GroupID, comp protocol.Component, target protocol.NetworkTarget) {
	m.each(target, func(c *Connection) { c.sender.PrepareInsert(e, group, comp) })
}

// PrepareComponentRemove queues the removal of a component from e for
// every peer matching target.
func (m *Manager) PrepareComponentRemove(e protocol.Entity, group protocol.GroupID, kind protocol.ComponentKind, target protocol.NetworkTarget) {
	m.each(target, func(c *Connection) { c.sender.PrepareRemove(e, group, kind) })
}

// PrepareComponentUpdate records that comp changed on e at tick for every
// peer matching target.
func (m *Manager) PrepareComponentUpdate(e protocol.Entity, group protocol.GroupID, comp protocol.Component, tick protocol.Tick, target protocol.NetworkTarget) {
	m.each(target, func(c *Connection) { c.sender.PrepareUpdate(e, group, comp, tick) })
}

func (m *Manager) each(target protocol.NetworkTarget, fn func(*Connection)) {
	for peer, conn := range m.connections {
		if target.ShouldSendTo(peer) {
			fn(conn)
		}
	}
}
