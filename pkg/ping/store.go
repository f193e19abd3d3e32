package ping

import (
	"time"

	"github.com/vango-dev/netsync/pkg/protocol"
)

// sentPing records when a ping left.
type sentPing struct {
	id     protocol.PingID
	sentAt time.Duration
}

// pingStore is a ring buffer of recently sent pings.
//
// The ring overwrites the oldest entry when full, so a pong arriving after
// capacity newer pings were sent can no longer be matched and is ignored.
type pingStore struct {
	entries  []*sentPing
	head     int // next write position
	count    int
	capacity int
}

func newPingStore(capacity int) *pingStore {
	if capacity <= 0 {
		capacity = 32
	}
	return &pingStore{
		entries:  make([]*sentPing, capacity),
		capacity: capacity,
	}
}

// add records a ping sent at sentAt.
func (s *pingStore) add(id protocol.PingID, sentAt time.Duration) {
	s.entries[s.head] = &sentPing{id: id, sentAt: sentAt}
	s.head = (s.head + 1) % s.capacity
	if s.count < s.capacity {
		s.count++
	}
}

// take returns and forgets the send time of ping id.
func (s *pingStore) take(id protocol.PingID) (time.Duration, bool) {
	for i := 0; i < s.count; i++ {
		idx := (s.head - 1 - i + s.capacity) % s.capacity
		entry := s.entries[idx]
		if entry != nil && entry.id == id {
			s.entries[idx] = nil
			return entry.sentAt, true
		}
	}
	return 0, false
}

// len returns the number of pings still awaiting a pong.
func (s *pingStore) len() int {
	n := 0
	for i := 0; i < s.count; i++ {
		idx := (s.head - 1 - i + s.capacity) % s.capacity
		if s.entries[idx] != nil {
			n++
		}
	}
	return n
}
