// Package transport multiplexes channels of messages over unreliable
// packets.
//
// Every packet starts with a protocol.PacketHeader that carries the sender's
// tick and acknowledges the peer's recent packets. Channel blocks follow:
//
//	channel kind (uvarint) | count (uvarint) | messages...
//
// Each message is its MessageID (2 bytes, omitted on UnorderedUnreliable
// channels) followed by its length-prefixed bytes. Messages never span
// packets.
package transport

import (
	"fmt"
	"time"

	"github.com/vango-dev/netsync/pkg/clock"
	"github.com/vango-dev/netsync/pkg/protocol"
)

// Payload is one encoded packet ready for the wire.
type Payload []byte

// Config configures a Manager.
type Config struct {
	// MaxPacketSize bounds every payload produced by SendPackets.
	// Default: protocol.DefaultMaxPacketSize
	MaxPacketSize int

	// SendInterval is the minimum time between two flushes. Zero flushes
	// every frame.
	SendInterval time.Duration

	// PacketHistory is how many sent packets are remembered for acks.
	// Default: 256
	PacketHistory int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxPacketSize: protocol.DefaultMaxPacketSize,
		PacketHistory: 256,
	}
}

// ChannelMessages are the messages read from one channel.
type ChannelMessages struct {
	Channel  protocol.ChannelKind
	Messages []Received
}

// Stats are running totals for one Manager.
type Stats struct {
	PacketsSent       uint64
	PacketsReceived   uint64
	PacketsDuplicate  uint64
	BytesSent         uint64
	BytesReceived     uint64
	MessagesResent    uint64
	MessagesDelivered uint64
}

type channel struct {
	kind     protocol.ChannelKind
	settings Settings
	sender   sender
	receiver receiver
	acks     []protocol.MessageID
}

// Manager is the channel transport of one connection. It is not safe for
// concurrent use.
type Manager struct {
	cfg      Config
	channels *Channels
	byKind   map[protocol.ChannelKind]*channel
	order    []*channel

	clock *clock.TimeManager
	rtt   time.Duration

	nextPacket protocol.PacketID
	recvAcks   protocol.AckTracker
	needAck    bool
	history    *packetHistory

	stats Stats
}

// NewManager creates a transport for every channel registered in channels.
// Channels registered later are not known to this Manager.
func NewManager(channels *Channels, cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.MaxPacketSize <= protocol.PacketHeaderSize {
		cfg.MaxPacketSize = def.MaxPacketSize
	}
	if cfg.PacketHistory <= 0 {
		cfg.PacketHistory = def.PacketHistory
	}
	m := &Manager{
		cfg:      cfg,
		channels: channels,
		byKind:   make(map[protocol.ChannelKind]*channel),
		clock:    clock.NewTimeManager(cfg.SendInterval),
		history:  newPacketHistory(cfg.PacketHistory),
	}
	for _, kind := range channels.Kinds() {
		s, _ := channels.Settings(kind)
		ch := &channel{
			kind:     kind,
			settings: s,
			sender:   newSender(s.Mode),
			receiver: newReceiver(s.Mode),
		}
		m.byKind[kind] = ch
		m.order = append(m.order, ch)
	}
	return m
}

// Channels returns the channel registry the Manager was built from.
func (m *Manager) Channels() *Channels {
	return m.channels
}

// Name returns the registered name of a channel.
func (m *Manager) Name(kind protocol.ChannelKind) (string, bool) {
	return m.channels.Name(kind)
}

// maxMessageSize is the largest message that fits in a packet next to the
// header and one block header.
func (m *Manager) maxMessageSize() int {
	return m.cfg.MaxPacketSize - protocol.PacketHeaderSize - 2*protocol.MaxVarintLen - 2 - protocol.MaxVarintLen
}

// BufferSend queues data on a channel. The MessageID is returned when the
// channel assigns one; channels whose mode TracksAcks always do.
func (m *Manager) BufferSend(data []byte, kind protocol.ChannelKind) (protocol.MessageID, bool, error) {
	ch, ok := m.byKind[kind]
	if !ok {
		return 0, false, fmt.Errorf("%w: %d", ErrUnknownChannel, kind)
	}
	if len(data) > m.maxMessageSize() {
		return 0, false, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}
	id, hasID := ch.sender.buffer(data)
	return id, hasID, nil
}

// Update advances the transport clock by delta.
func (m *Manager) Update(delta time.Duration) {
	m.clock.Update(delta)
}

// SetRTT feeds the latest round-trip estimate; reliable channels wait at
// least 1.5 RTT before resending.
func (m *Manager) SetRTT(rtt time.Duration) {
	m.rtt = rtt
}

// Now returns the transport clock.
func (m *Manager) Now() time.Duration {
	return m.clock.Current()
}

// IsReadyToSend reports whether the send interval has elapsed.
func (m *Manager) IsReadyToSend() bool {
	return m.clock.IsReadyToSend()
}

func (m *Manager) resendDelay(s Settings) time.Duration {
	if d := m.rtt * 3 / 2; d > s.ResendDelay {
		return d
	}
	return s.ResendDelay
}

type block struct {
	ch       *channel
	messages []outMessage
}

type packetBuilder struct {
	blocks []block
	size   int
}

// SendPackets packs every queued message into payloads stamped with tick.
// When nothing is queued but packets arrived since the last flush, a single
// keep-alive payload carries the acks.
func (m *Manager) SendPackets(tick protocol.Tick) []Payload {
	now := m.clock.Current()
	var packets []*packetBuilder
	cur := &packetBuilder{size: protocol.PacketHeaderSize}

	for _, ch := range m.order {
		msgs := ch.sender.collect(now, m.resendDelay(ch.settings))
		if len(msgs) == 0 {
			continue
		}
		blockOverhead := protocol.UvarintLen(uint64(ch.kind)) + protocol.MaxVarintLen
		var open *block
		for _, msg := range msgs {
			size := protocol.UvarintLen(uint64(len(msg.data))) + len(msg.data)
			if ch.settings.Mode.hasMessageID() {
				size += 2
			}
			need := size
			if open == nil {
				need += blockOverhead
			}
			if cur.size+need > m.cfg.MaxPacketSize && len(cur.blocks) > 0 {
				packets = append(packets, cur)
				cur = &packetBuilder{size: protocol.PacketHeaderSize}
				open = nil
				need = size + blockOverhead
			}
			if open == nil {
				cur.blocks = append(cur.blocks, block{ch: ch})
				open = &cur.blocks[len(cur.blocks)-1]
			}
			open.messages = append(open.messages, msg)
			cur.size += need
		}
	}
	if len(cur.blocks) > 0 {
		packets = append(packets, cur)
	}

	if len(packets) == 0 {
		if !m.needAck {
			return nil
		}
		m.needAck = false
		return []Payload{m.encodePacket(protocol.PacketKeepAlive, tick, nil)}
	}
	m.needAck = false

	payloads := make([]Payload, 0, len(packets))
	for _, p := range packets {
		payloads = append(payloads, m.encodePacket(protocol.PacketData, tick, p))
	}
	return payloads
}

func (m *Manager) encodePacket(pt protocol.PacketType, tick protocol.Tick, p *packetBuilder) Payload {
	id := m.nextPacket
	m.nextPacket++

	capacity := protocol.PacketHeaderSize
	if p != nil {
		capacity = p.size
	}
	e := protocol.NewEncoderWithCap(capacity)
	header := protocol.PacketHeader{
		Type:     pt,
		PacketID: id,
		Tick:     tick,
		Acks:     m.recvAcks.Header(),
	}
	header.EncodeTo(e)

	var refs []messageRef
	if p != nil {
		for _, b := range p.blocks {
			e.WriteUvarint(uint64(b.ch.kind))
			e.WriteUvarint(uint64(len(b.messages)))
			withID := b.ch.settings.Mode.hasMessageID()
			for _, msg := range b.messages {
				if withID {
					e.WriteMessageID(msg.id)
					if b.ch.settings.Mode.TracksAcks() {
						refs = append(refs, messageRef{channel: b.ch.kind, id: msg.id})
					}
				}
				e.WriteLenBytes(msg.data)
			}
		}
	}
	m.history.add(id, refs)

	out := e.Bytes()
	m.stats.PacketsSent++
	m.stats.BytesSent += uint64(len(out))
	return out
}

// RecvPacket decodes one packet, processes its acks and queues its messages
// for ReadMessages. It returns the tick the packet was sent at. Duplicate
// packets are dropped without error.
func (m *Manager) RecvPacket(data []byte) (protocol.Tick, error) {
	d := protocol.NewDecoder(data)
	header, err := protocol.DecodePacketHeader(d)
	if err != nil {
		return 0, fmt.Errorf("transport: packet header: %w", err)
	}
	m.stats.BytesReceived += uint64(len(data))
	if !m.recvAcks.Record(header.PacketID) {
		m.stats.PacketsDuplicate++
		return header.Tick, nil
	}
	m.stats.PacketsReceived++
	// Keep-alives are never acked on their own.
	if header.Type == protocol.PacketData {
		m.needAck = true
	}

	for _, pid := range header.Acks.Acked() {
		refs, ok := m.history.take(pid)
		if !ok {
			continue
		}
		for _, ref := range refs {
			ch := m.byKind[ref.channel]
			if ch.sender.acked(ref.id) {
				ch.acks = append(ch.acks, ref.id)
			}
		}
	}

	if header.Type == protocol.PacketKeepAlive {
		return header.Tick, nil
	}
	for !d.EOF() {
		kind, err := d.ReadUvarint()
		if err != nil {
			return header.Tick, fmt.Errorf("transport: channel kind: %w", err)
		}
		ch, ok := m.byKind[protocol.ChannelKind(kind)]
		if !ok {
			return header.Tick, fmt.Errorf("%w: %d", ErrUnknownChannel, kind)
		}
		count, err := d.ReadCollectionCount()
		if err != nil {
			return header.Tick, fmt.Errorf("transport: message count: %w", err)
		}
		withID := ch.settings.Mode.hasMessageID()
		for i := 0; i < count; i++ {
			var id protocol.MessageID
			if withID {
				if id, err = d.ReadMessageID(); err != nil {
					return header.Tick, fmt.Errorf("transport: message id: %w", err)
				}
			}
			msg, err := d.ReadLenBytes()
			if err != nil {
				return header.Tick, fmt.Errorf("transport: message body: %w", err)
			}
			ch.receiver.receive(id, header.Tick, msg)
		}
	}
	return header.Tick, nil
}

// ReadMessages returns the messages ready on every channel, in channel kind
// order, and clears them.
func (m *Manager) ReadMessages() []ChannelMessages {
	var out []ChannelMessages
	for _, ch := range m.order {
		msgs := ch.receiver.read()
		if len(msgs) == 0 {
			continue
		}
		m.stats.MessagesDelivered += uint64(len(msgs))
		out = append(out, ChannelMessages{Channel: ch.kind, Messages: msgs})
	}
	return out
}

// TakeAcks returns and clears the MessageIDs of a channel acknowledged
// since the previous call.
func (m *Manager) TakeAcks(kind protocol.ChannelKind) []protocol.MessageID {
	ch, ok := m.byKind[kind]
	if !ok {
		return nil
	}
	acks := ch.acks
	ch.acks = nil
	return acks
}

// Pending returns the number of messages of a channel not yet sent, or for
// reliable channels not yet acknowledged.
func (m *Manager) Pending(kind protocol.ChannelKind) int {
	if ch, ok := m.byKind[kind]; ok {
		return ch.sender.pending()
	}
	return 0
}

// InFlightPackets returns the number of sent packets awaiting an ack.
func (m *Manager) InFlightPackets() int {
	return m.history.inFlight()
}

// Stats returns the running totals.
func (m *Manager) Stats() Stats {
	s := m.stats
	for _, ch := range m.order {
		if rs, ok := ch.sender.(*reliableSender); ok {
			s.MessagesResent += rs.resends
		}
	}
	return s
}
