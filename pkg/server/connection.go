package server

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vango-dev/netsync/pkg/input"
	"github.com/vango-dev/netsync/pkg/ping"
	"github.com/vango-dev/netsync/pkg/protocol"
	"github.com/vango-dev/netsync/pkg/replication"
	"github.com/vango-dev/netsync/pkg/transport"
)

// unknownChannel names channels missing from the registry in diagnostics.
const unknownChannel = "unknown"

// Rebroadcast is a received message to be relayed to the peers matching
// Target.
type Rebroadcast struct {
	From    protocol.PeerID
	Message protocol.Message
	Channel protocol.ChannelKind
	Target  protocol.NetworkTarget
}

// Connection is the state of one peer. It is active from creation until the
// Manager removes it; removal discards everything it holds.
//
// A Connection is not safe for concurrent use.
type Connection struct {
	peer     protocol.PeerID
	config   *Config
	registry *protocol.Registry

	transport *transport.Manager
	ping      *ping.Manager
	input     *input.Buffer[protocol.Input]
	sender    *replication.Sender
	receiver  *replication.Receiver

	rebroadcasts []Rebroadcast
	events       *ConnectionEvents

	logger  *slog.Logger
	metrics *Metrics
}

// NewConnection creates the connection state for peer. It fails with
// ErrInvariantViolation when the configured updates channel does not report
// acks, since update pruning depends on them.
func NewConnection(peer protocol.PeerID, registry *protocol.Registry, channels *transport.Channels, config *Config, logger *slog.Logger, metrics *Metrics) (*Connection, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	updates, ok := channels.Settings(config.UpdatesChannel)
	if !ok || !updates.Mode.TracksAcks() {
		return nil, fmt.Errorf("%w: updates channel %d does not track acks", ErrInvariantViolation, config.UpdatesChannel)
	}
	if actions, ok := channels.Settings(config.ActionsChannel); !ok || !actions.Mode.IsReliable() {
		return nil, fmt.Errorf("%w: actions channel %d is not reliable", ErrInvariantViolation, config.ActionsChannel)
	}

	c := &Connection{
		peer:      peer,
		config:    config,
		registry:  registry,
		transport: transport.NewManager(channels, config.Transport),
		ping:      ping.New(config.Ping),
		input:     input.NewBuffer[protocol.Input](),
		receiver:  replication.NewReceiver(),
		events:    &ConnectionEvents{},
		logger:    logger.With("peer", peer),
		metrics:   metrics,
	}
	c.sender = replication.NewSender(replication.SenderConfig{
		ActionsChannel: config.ActionsChannel,
		UpdatesChannel: config.UpdatesChannel,
		OnUpdateAck: func(group protocol.GroupID, id protocol.MessageID) {
			c.logger.Debug("updates acked", "group", group, "message_id", id)
			if config.OnUpdateAck != nil {
				config.OnUpdateAck(peer, group, id)
			}
		},
	})
	return c, nil
}

// Peer returns the peer this connection belongs to.
func (c *Connection) Peer() protocol.PeerID {
	return c.peer
}

// Sender returns the replication sender.
func (c *Connection) Sender() *replication.Sender {
	return c.sender
}

// Receiver returns the replication receiver.
func (c *Connection) Receiver() *replication.Receiver {
	return c.receiver
}

// Transport returns the channel transport.
func (c *Connection) Transport() *transport.Manager {
	return c.transport
}

// RTT returns the mean round-trip time to the peer.
func (c *Connection) RTT() time.Duration {
	return c.ping.RTT()
}

// Jitter returns the round-trip time standard deviation.
func (c *Connection) Jitter() time.Duration {
	return c.ping.Jitter()
}

// Offset returns the estimated clock offset of the peer.
func (c *Connection) Offset() time.Duration {
	return c.ping.Offset()
}

// Update advances the transport clock and the ping timer by delta.
func (c *Connection) Update(delta time.Duration) {
	c.transport.Update(delta)
	c.ping.Update(delta)
	c.transport.SetRTT(c.ping.RTT())
}

func (c *Connection) channelName(kind protocol.ChannelKind) string {
	if name, ok := c.transport.Name(kind); ok {
		return name
	}
	return unknownChannel
}

// BufferMessage queues msg on channel. The MessageID is returned when the
// channel assigns one.
func (c *Connection) BufferMessage(msg protocol.Message, channel protocol.ChannelKind) (protocol.MessageID, bool, error) {
	return c.bufferPayload(protocol.EncodeMessage(msg), channel)
}

// bufferPayload queues an already encoded message. payload is only read.
func (c *Connection) bufferPayload(payload []byte, channel protocol.ChannelKind) (protocol.MessageID, bool, error) {
	return c.bufferEnvelope(protocol.NewMessageEnvelope(payload, protocol.ToNone()), channel)
}

func (c *Connection) bufferEnvelope(env *protocol.Envelope, channel protocol.ChannelKind) (protocol.MessageID, bool, error) {
	name := c.channelName(channel)
	c.logger.Debug("buffering message", "kind", env.Kind, "channel", name)
	id, hasID, err := c.transport.BufferSend(protocol.EncodeEnvelope(env), channel)
	if err != nil {
		return 0, false, &TransportError{Peer: c.peer, Channel: name, Op: "buffer_send", Err: err}
	}
	c.metrics.recordBuffered(name)
	return id, hasID, nil
}

// BufferReplicationMessages sends the replication messages finalized for
// tick. The MessageID of every updates message is recorded against its
// group so its ack can prune the group's pending updates.
//
// A message the transport refuses is handed back to the sender and retried
// on the next call; the other groups are still buffered. The returned error
// joins every failure.
func (c *Connection) BufferReplicationMessages(tick protocol.Tick) error {
	c.recvUpdateAcks()
	var errs []error
	for _, out := range c.sender.Finalize(tick) {
		env := protocol.NewReplicationEnvelope(out.Group, out.Data)
		id, hasID, err := c.bufferEnvelope(env, out.Channel)
		if err != nil {
			c.sender.Requeue([]replication.Outbound{out})
			c.logger.Warn("replication message not buffered", "group", out.Group, "error", err)
			errs = append(errs, err)
			continue
		}
		c.metrics.recordReplication(out.Data.IsUpdates())
		if !out.Data.IsUpdates() {
			continue
		}
		if !hasID {
			c.metrics.recordInvariantViolation()
			errs = append(errs, NewConnectionError(c.peer, "buffer_replication_messages",
				fmt.Errorf("%w: channel %s returned no message id for group %d", ErrInvariantViolation, c.channelName(out.Channel), out.Group)))
			continue
		}
		c.sender.TrackUpdates(id, out)
	}
	return errors.Join(errs...)
}

// SendPackets flushes the connection when the send interval has elapsed.
// A due ping and every pending pong are stamped with now, the flush time,
// before the transport packs the queued messages for tick.
func (c *Connection) SendPackets(now time.Duration, tick protocol.Tick) ([]transport.Payload, error) {
	if !c.transport.IsReadyToSend() {
		return nil, nil
	}
	if p, ok := c.ping.MaybePreparePing(now); ok {
		if _, _, err := c.bufferEnvelope(protocol.NewPingEnvelope(p), c.config.PingChannel); err != nil {
			return nil, err
		}
	}
	for _, pong := range c.ping.TakePendingPongs() {
		pong.PongSentTime = now
		if _, _, err := c.bufferEnvelope(protocol.NewPongEnvelope(pong), c.config.PingChannel); err != nil {
			return nil, err
		}
	}

	payloads := c.transport.SendPackets(tick)
	bytes := 0
	for _, p := range payloads {
		bytes += len(p)
	}
	c.metrics.recordSent(len(payloads), bytes)
	return payloads, nil
}

// RecvPacket processes the update acks observed so far, then decodes one
// packet and returns the tick it was sent at.
func (c *Connection) RecvPacket(data []byte) (protocol.Tick, error) {
	c.recvUpdateAcks()
	tick, err := c.transport.RecvPacket(data)
	if err != nil {
		return tick, &TransportError{Peer: c.peer, Op: "recv_packet", Err: err}
	}
	c.metrics.recordReceived(len(data))
	return tick, nil
}

func (c *Connection) recvUpdateAcks() {
	n := c.sender.RecvUpdateAcks(c.transport.TakeAcks(c.config.UpdatesChannel))
	c.metrics.recordUpdateAcks(n)
}

// Receive dispatches every message read from the transport, applies the
// replication diffs that became ready to world and returns the events of
// this call. Each event is returned exactly once.
//
// Messages with a target other than None are queued for relaying, see
// TakeRebroadcasts, and are not reported in the events. Action inputs are
// reported in ActionInputs and never relayed, whatever their target.
// Envelopes that fail to decode are logged and skipped.
func (c *Connection) Receive(world replication.World, now time.Duration) *ConnectionEvents {
	for _, cm := range c.transport.ReadMessages() {
		for _, m := range cm.Messages {
			env, err := c.registry.DecodeEnvelope(m.Data)
			if err != nil {
				c.metrics.recordDecodeError()
				c.logger.Warn("dropping undecodable envelope", "channel", c.channelName(cm.Channel), "error", err)
				continue
			}
			switch env.Kind {
			case protocol.EnvelopeMessage:
				c.receiveMessage(env, cm.Channel)
			case protocol.EnvelopeReplication:
				c.receiver.RecvMessage(env.Replication, m.Tick)
			case protocol.EnvelopeSync:
				c.receiveSync(env.Sync, now)
			}
		}
	}

	for _, batch := range c.receiver.ReadMessages() {
		for _, ch := range c.receiver.ApplyWorld(world, batch) {
			c.recordChange(ch)
		}
	}

	events := c.events
	c.events = &ConnectionEvents{}
	return events
}

func (c *Connection) receiveMessage(env *protocol.Envelope, channel protocol.ChannelKind) {
	msg, err := c.registry.DecodeMessage(env.Payload)
	if err != nil {
		c.metrics.recordDecodeError()
		c.logger.Warn("dropping undecodable message", "channel", c.channelName(channel), "error", err)
		return
	}
	protocol.MapEntities(msg, c.receiver.EntityMap().ToLocal())

	kind := c.registry.InputKindOf(msg)
	if kind == protocol.InputKindNone && !env.Target.IsNone() {
		c.rebroadcasts = append(c.rebroadcasts, Rebroadcast{
			From:    c.peer,
			Message: msg,
			Channel: channel,
			Target:  env.Target,
		})
		return
	}
	switch kind {
	case protocol.InputKindNative:
		in, ok := msg.(*protocol.InputMessage)
		if !ok {
			c.logger.Warn("native input kind on a foreign message type", "kind", msg.MessageKind())
			return
		}
		n := input.UpdateFromMessage(c.input, in)
		c.logger.Debug("received input", "end_tick", in.EndTick, "buffered", n)
	case protocol.InputKindAction:
		c.events.ActionInputs = append(c.events.ActionInputs, msg)
	default:
		c.events.Messages = append(c.events.Messages, MessageEvent{Channel: channel, Message: msg})
	}
}

func (c *Connection) receiveSync(s *protocol.SyncMessage, now time.Duration) {
	switch {
	case s.Ping != nil:
		c.ping.BufferPendingPong(*s.Ping, now)
	case s.Pong != nil:
		if c.ping.ProcessPong(*s.Pong, now) {
			c.metrics.observeRTT(c.ping.RTT())
		}
	}
}

func (c *Connection) recordChange(ch replication.Change) {
	ev := ComponentEvent{Entity: ch.Entity, Component: ch.Component}
	switch ch.Kind {
	case replication.ChangeSpawn:
		c.events.Spawns = append(c.events.Spawns, ch.Entity)
	case replication.ChangeDespawn:
		c.events.Despawns = append(c.events.Despawns, ch.Entity)
	case replication.ChangeInsert:
		c.events.Inserts = append(c.events.Inserts, ev)
	case replication.ChangeRemove:
		c.events.Removes = append(c.events.Removes, ev)
	case replication.ChangeUpdate:
		c.events.Updates = append(c.events.Updates, ev)
	}
}

// TakeRebroadcasts returns and clears the messages queued for relaying.
func (c *Connection) TakeRebroadcasts() []Rebroadcast {
	out := c.rebroadcasts
	c.rebroadcasts = nil
	return out
}

// PopInput returns the input for tick, else the latest earlier input, else
// nothing. exact reports whether the input was recorded for tick itself.
func (c *Connection) PopInput(tick protocol.Tick) (in protocol.Input, exact bool) {
	if v, ok := c.input.Pop(tick); ok {
		return v, true
	}
	v, _ := c.input.Last()
	return v, false
}
