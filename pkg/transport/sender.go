package transport

import (
	"time"

	"github.com/vango-dev/netsync/pkg/protocol"
)

// outMessage is a message selected for the packet being built.
type outMessage struct {
	id   protocol.MessageID
	data []byte
}

type sender interface {
	// buffer queues data and returns its id when the channel assigns one.
	buffer(data []byte) (protocol.MessageID, bool)
	// collect returns the messages to put on the wire at now.
	collect(now time.Duration, resendDelay time.Duration) []outMessage
	// acked records delivery of id. It reports whether this is the first
	// ack for id.
	acked(id protocol.MessageID) bool
	// pending returns the number of messages not yet acknowledged or sent.
	pending() int
}

func newSender(mode Mode) sender {
	if mode.IsReliable() {
		return &reliableSender{}
	}
	return &unreliableSender{assignIDs: mode.hasMessageID()}
}

// unreliableSender sends every message exactly once.
type unreliableSender struct {
	assignIDs bool
	nextID    protocol.MessageID
	queue     []outMessage
}

func (s *unreliableSender) buffer(data []byte) (protocol.MessageID, bool) {
	id := s.nextID
	if s.assignIDs {
		s.nextID = s.nextID.Next()
	}
	s.queue = append(s.queue, outMessage{id: id, data: data})
	return id, s.assignIDs
}

func (s *unreliableSender) collect(time.Duration, time.Duration) []outMessage {
	out := s.queue
	s.queue = nil
	return out
}

func (s *unreliableSender) acked(protocol.MessageID) bool { return true }

func (s *unreliableSender) pending() int { return len(s.queue) }

type reliableMessage struct {
	id       protocol.MessageID
	data     []byte
	sent     bool
	lastSent time.Duration
	acked    bool
}

// reliableSender keeps messages until they are acknowledged and resends
// them once the resend delay has passed.
type reliableSender struct {
	nextID  protocol.MessageID
	unacked []*reliableMessage // in id order
	resends uint64
}

func (s *reliableSender) buffer(data []byte) (protocol.MessageID, bool) {
	id := s.nextID
	s.nextID = s.nextID.Next()
	s.unacked = append(s.unacked, &reliableMessage{id: id, data: data})
	return id, true
}

func (s *reliableSender) collect(now, resendDelay time.Duration) []outMessage {
	var out []outMessage
	kept := s.unacked[:0]
	for _, m := range s.unacked {
		if m.acked {
			continue
		}
		kept = append(kept, m)
		if m.sent && now-m.lastSent < resendDelay {
			continue
		}
		if m.sent {
			s.resends++
		}
		m.sent = true
		m.lastSent = now
		out = append(out, outMessage{id: m.id, data: m.data})
	}
	for i := len(kept); i < len(s.unacked); i++ {
		s.unacked[i] = nil
	}
	s.unacked = kept
	return out
}

func (s *reliableSender) acked(id protocol.MessageID) bool {
	for _, m := range s.unacked {
		if m.id == id {
			if m.acked {
				return false
			}
			m.acked = true
			return true
		}
	}
	return false
}

func (s *reliableSender) pending() int {
	n := 0
	for _, m := range s.unacked {
		if !m.acked {
			n++
		}
	}
	return n
}
