package server

import (
	"slices"

	"github.com/vango-dev/netsync/pkg/protocol"
)

// MessageEvent is an application message received from a peer.
type MessageEvent struct {
	Channel protocol.ChannelKind
	Message protocol.Message
}

// ComponentEvent names a component change applied to the world.
type ComponentEvent struct {
	Entity    protocol.Entity
	Component protocol.ComponentKind
}

// ConnectionEvents are the events one Receive produced for one peer.
type ConnectionEvents struct {
	Messages     []MessageEvent
	ActionInputs []protocol.Message
	Spawns       []protocol.Entity
	Despawns     []protocol.Entity
	Inserts      []ComponentEvent
	Removes      []ComponentEvent
	Updates      []ComponentEvent
}

// IsEmpty reports whether nothing happened.
func (e *ConnectionEvents) IsEmpty() bool {
	return len(e.Messages) == 0 && len(e.ActionInputs) == 0 &&
		len(e.Spawns) == 0 && len(e.Despawns) == 0 &&
		len(e.Inserts) == 0 && len(e.Removes) == 0 && len(e.Updates) == 0
}

// MessagesOfKind returns the received messages of one kind, in arrival
// order.
func (e *ConnectionEvents) MessagesOfKind(kind protocol.MessageKind) []protocol.Message {
	var out []protocol.Message
	for _, m := range e.Messages {
		if m.Message.MessageKind() == kind {
			out = append(out, m.Message)
		}
	}
	return out
}

// ServerEvents aggregates one Receive pass over every connection, plus the
// connects and disconnects since the previous pass.
type ServerEvents struct {
	Connections    []protocol.PeerID
	Disconnections []protocol.PeerID
	Peers          map[protocol.PeerID]*ConnectionEvents
}

func newServerEvents() *ServerEvents {
	return &ServerEvents{Peers: make(map[protocol.PeerID]*ConnectionEvents)}
}

// IsEmpty reports whether nothing happened.
func (e *ServerEvents) IsEmpty() bool {
	return len(e.Connections) == 0 && len(e.Disconnections) == 0 && len(e.Peers) == 0
}

// For returns the events of one peer, or nil.
func (e *ServerEvents) For(peer protocol.PeerID) *ConnectionEvents {
	return e.Peers[peer]
}

// PeerIDs returns the peers that produced events, in ascending order.
func (e *ServerEvents) PeerIDs() []protocol.PeerID {
	out := make([]protocol.PeerID, 0, len(e.Peers))
	for p := range e.Peers {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}
