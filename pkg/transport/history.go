package transport

import (
	"github.com/vango-dev/netsync/pkg/protocol"
)

// messageRef names one message carried by a packet.
type messageRef struct {
	channel protocol.ChannelKind
	id      protocol.MessageID
}

type packetEntry struct {
	id       protocol.PacketID
	messages []messageRef
}

// packetHistory is a ring buffer of sent packets awaiting acknowledgment.
//
// The ring overwrites the oldest packet when full. A packet evicted that
// way is treated as lost: reliable messages in it are resent by their
// channel anyway, and unreliable ones are simply never reported as acked.
type packetHistory struct {
	entries  []*packetEntry
	head     int // next write position
	count    int
	capacity int
}

func newPacketHistory(capacity int) *packetHistory {
	if capacity <= 0 {
		capacity = 256
	}
	return &packetHistory{
		entries:  make([]*packetEntry, capacity),
		capacity: capacity,
	}
}

// add records the messages carried by packet id.
func (h *packetHistory) add(id protocol.PacketID, messages []messageRef) {
	h.entries[h.head] = &packetEntry{id: id, messages: messages}
	h.head = (h.head + 1) % h.capacity
	if h.count < h.capacity {
		h.count++
	}
}

// take returns and forgets the messages of packet id.
func (h *packetHistory) take(id protocol.PacketID) ([]messageRef, bool) {
	for i := 0; i < h.count; i++ {
		idx := (h.head - 1 - i + h.capacity) % h.capacity
		e := h.entries[idx]
		if e != nil && e.id == id {
			h.entries[idx] = nil
			return e.messages, true
		}
	}
	return nil, false
}

// inFlight returns the number of packets still awaiting an ack.
func (h *packetHistory) inFlight() int {
	n := 0
	for i := 0; i < h.count; i++ {
		if h.entries[(h.head-1-i+h.capacity)%h.capacity] != nil {
			n++
		}
	}
	return n
}
