package protocol

import (
	"fmt"
	"time"
)

// PeerID identifies a connected peer. It is unique among live connections.
type PeerID uint64

// String returns the decimal form of the id.
func (p PeerID) String() string {
	return fmt.Sprintf("%d", uint64(p))
}

// Tick is a simulation step counter shared by both ends of a connection.
// It wraps around after 65535.
type Tick uint16

// Diff returns the wrapping distance t - o.
func (t Tick) Diff(o Tick) int {
	return int(seqDiff(uint16(t), uint16(o)))
}

// Before reports whether t happened strictly before o.
func (t Tick) Before(o Tick) bool { return t.Diff(o) < 0 }

// After reports whether t happened strictly after o.
func (t Tick) After(o Tick) bool { return t.Diff(o) > 0 }

// Add returns t advanced by n ticks (n may be negative).
func (t Tick) Add(n int) Tick {
	return Tick(int(t) + n)
}

// MessageID is assigned by the transport to messages sent on channels that
// track delivery. It wraps around after 65535.
type MessageID uint16

// Diff returns the wrapping distance m - o.
func (m MessageID) Diff(o MessageID) int {
	return int(seqDiff(uint16(m), uint16(o)))
}

// Before reports whether m was assigned strictly before o.
func (m MessageID) Before(o MessageID) bool { return m.Diff(o) < 0 }

// Next returns the id following m.
func (m MessageID) Next() MessageID { return m + 1 }

// ChannelKind identifies a registered channel.
type ChannelKind uint16

// GroupID identifies a replication group: a set of entities whose diffs are
// applied in send order relative to each other.
type GroupID uint64

// Entity identifies a replicated entity in one world.
type Entity uint64

// MessageKind identifies a registered message type.
type MessageKind uint16

// ComponentKind identifies a registered component type.
type ComponentKind uint16

// Durations travel as microseconds.
func durationToWire(d time.Duration) uint64 {
	if d < 0 {
		return 0
	}
	return uint64(d / time.Microsecond)
}

func durationFromWire(v uint64) time.Duration {
	return time.Duration(v) * time.Microsecond
}
