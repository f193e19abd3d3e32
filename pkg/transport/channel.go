package transport

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/vango-dev/netsync/pkg/protocol"
)

// Mode is the ordering and reliability class of a channel.
type Mode uint8

const (
	// UnorderedUnreliable delivers messages at most once, in any order.
	UnorderedUnreliable Mode = iota
	// UnorderedUnreliableWithAcks is UnorderedUnreliable, but every message
	// gets a MessageID and the sender is told when it arrives.
	UnorderedUnreliableWithAcks
	// SequencedUnreliable drops messages older than the newest delivered one.
	SequencedUnreliable
	// UnorderedReliable resends until acked and delivers each message once.
	UnorderedReliable
	// SequencedReliable resends until acked and drops stale messages.
	SequencedReliable
	// OrderedReliable resends until acked and delivers in send order.
	OrderedReliable
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case UnorderedUnreliable:
		return "UnorderedUnreliable"
	case UnorderedUnreliableWithAcks:
		return "UnorderedUnreliableWithAcks"
	case SequencedUnreliable:
		return "SequencedUnreliable"
	case UnorderedReliable:
		return "UnorderedReliable"
	case SequencedReliable:
		return "SequencedReliable"
	case OrderedReliable:
		return "OrderedReliable"
	default:
		return "Unknown"
	}
}

// IsReliable reports whether messages are resent until acknowledged.
func (m Mode) IsReliable() bool {
	return m == UnorderedReliable || m == SequencedReliable || m == OrderedReliable
}

// TracksAcks reports whether BufferSend returns a MessageID that is later
// surfaced through Manager.TakeAcks.
func (m Mode) TracksAcks() bool {
	return m == UnorderedUnreliableWithAcks || m.IsReliable()
}

// hasMessageID reports whether messages carry an id on the wire.
func (m Mode) hasMessageID() bool {
	return m != UnorderedUnreliable
}

// Settings configures a channel.
type Settings struct {
	Mode Mode

	// ResendDelay is the minimum time before an unacknowledged reliable
	// message is sent again. The effective delay grows with the RTT.
	// Default: 100ms
	ResendDelay time.Duration
}

// Built-in channels. They are registered by NewChannels in this order.
const (
	EntityActionsChannel protocol.ChannelKind = iota
	EntityUpdatesChannel
	PingChannel
	InputChannel
	DefaultChannel
)

// DefaultResendDelay is used when Settings.ResendDelay is zero.
const DefaultResendDelay = 100 * time.Millisecond

type channelEntry struct {
	name     string
	settings Settings
}

// Channels names channels and records their settings. Both ends of a
// connection must register the same channels in the same order.
// It is safe for concurrent use.
type Channels struct {
	mu      sync.RWMutex
	entries map[protocol.ChannelKind]channelEntry
	byName  map[string]protocol.ChannelKind
	next    protocol.ChannelKind
}

// NewChannels creates a registry holding the built-in channels.
func NewChannels() *Channels {
	c := &Channels{
		entries: make(map[protocol.ChannelKind]channelEntry),
		byName:  make(map[string]protocol.ChannelKind),
	}
	builtins := []struct {
		name     string
		settings Settings
	}{
		{"EntityActions", Settings{Mode: UnorderedReliable}},
		{"EntityUpdates", Settings{Mode: UnorderedUnreliableWithAcks}},
		{"Ping", Settings{Mode: SequencedUnreliable}},
		{"Input", Settings{Mode: SequencedUnreliable}},
		{"Default", Settings{Mode: UnorderedUnreliable}},
	}
	for _, b := range builtins {
		if _, err := c.Register(b.name, b.settings); err != nil {
			panic(err)
		}
	}
	return c
}

// Register adds a channel and returns its kind.
func (c *Channels) Register(name string, s Settings) (protocol.ChannelKind, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byName[name]; ok {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateChannel, name)
	}
	if s.ResendDelay <= 0 {
		s.ResendDelay = DefaultResendDelay
	}
	kind := c.next
	c.next++
	c.entries[kind] = channelEntry{name: name, settings: s}
	c.byName[name] = kind
	return kind, nil
}

// Name returns the registered name of kind.
func (c *Channels) Name(kind protocol.ChannelKind) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[kind]
	return e.name, ok
}

// Kind looks a channel up by name.
func (c *Channels) Kind(name string) (protocol.ChannelKind, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	k, ok := c.byName[name]
	return k, ok
}

// Settings returns the settings of kind.
func (c *Channels) Settings(kind protocol.ChannelKind) (Settings, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[kind]
	return e.settings, ok
}

// Kinds returns every registered kind in ascending order.
func (c *Channels) Kinds() []protocol.ChannelKind {
	c.mu.RLock()
	defer c.mu.RUnlock()
	kinds := make([]protocol.ChannelKind, 0, len(c.entries))
	for k := range c.entries {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}
