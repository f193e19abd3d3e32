package game

import (
	"github.com/vango-dev/netsync/pkg/protocol"
	"github.com/vango-dev/netsync/pkg/transport"
)

// Message and component kinds of the demo game.
const (
	KindChat protocol.MessageKind = 1

	KindPosition protocol.ComponentKind = 1
	KindOwner    protocol.ComponentKind = 2
)

// ChatChannelName is the name of the ordered reliable chat channel.
const ChatChannelName = "Chat"

// Chat is a line of text. From is 0 for server announcements.
type Chat struct {
	From protocol.PeerID
	Text string
}

// MessageKind implements protocol.Message.
func (c *Chat) MessageKind() protocol.MessageKind { return KindChat }

// Encode implements protocol.Message.
func (c *Chat) Encode(e *protocol.Encoder) {
	e.WritePeerID(c.From)
	e.WriteString(c.Text)
}

// Move is one tick of player input: a step on each axis in [-1, 1].
type Move struct {
	DX, DY int8
}

// Encode implements protocol.Input.
func (m *Move) Encode(e *protocol.Encoder) {
	e.WriteSvarint(int64(m.DX))
	e.WriteSvarint(int64(m.DY))
}

// Position is the replicated location of a player.
type Position struct {
	X, Y int32
}

// ComponentKind implements protocol.Component.
func (p *Position) ComponentKind() protocol.ComponentKind { return KindPosition }

// Encode implements protocol.Component.
func (p *Position) Encode(e *protocol.Encoder) {
	e.WriteSvarint(int64(p.X))
	e.WriteSvarint(int64(p.Y))
}

// Owner names the peer controlling an entity.
type Owner struct {
	Peer protocol.PeerID
}

// ComponentKind implements protocol.Component.
func (o *Owner) ComponentKind() protocol.ComponentKind { return KindOwner }

// Encode implements protocol.Component.
func (o *Owner) Encode(e *protocol.Encoder) {
	e.WritePeerID(o.Peer)
}

// NewRegistry registers the game's messages, input and components.
func NewRegistry() (*protocol.Registry, error) {
	r := protocol.NewRegistry()
	if err := r.RegisterMessage(KindChat, "chat", decodeChat); err != nil {
		return nil, err
	}
	r.RegisterInput(decodeMove)
	if err := r.RegisterComponent(KindPosition, "position", decodePosition); err != nil {
		return nil, err
	}
	if err := r.RegisterComponent(KindOwner, "owner", decodeOwner); err != nil {
		return nil, err
	}
	return r, nil
}

// NewChannels returns the built-in channels plus the chat channel.
func NewChannels() (*transport.Channels, protocol.ChannelKind, error) {
	c := transport.NewChannels()
	chat, err := c.Register(ChatChannelName, transport.Settings{Mode: transport.OrderedReliable})
	if err != nil {
		return nil, 0, err
	}
	return c, chat, nil
}

func decodeChat(d *protocol.Decoder) (protocol.Message, error) {
	from, err := d.ReadPeerID()
	if err != nil {
		return nil, err
	}
	text, err := d.ReadString()
	if err != nil {
		return nil, err
	}
	return &Chat{From: from, Text: text}, nil
}

func decodeMove(d *protocol.Decoder) (protocol.Input, error) {
	dx, err := d.ReadSvarint()
	if err != nil {
		return nil, err
	}
	dy, err := d.ReadSvarint()
	if err != nil {
		return nil, err
	}
	return &Move{DX: int8(dx), DY: int8(dy)}, nil
}

func decodePosition(d *protocol.Decoder) (protocol.Component, error) {
	x, err := d.ReadSvarint()
	if err != nil {
		return nil, err
	}
	y, err := d.ReadSvarint()
	if err != nil {
		return nil, err
	}
	return &Position{X: int32(x), Y: int32(y)}, nil
}

func decodeOwner(d *protocol.Decoder) (protocol.Component, error) {
	p, err := d.ReadPeerID()
	if err != nil {
		return nil, err
	}
	return &Owner{Peer: p}, nil
}
