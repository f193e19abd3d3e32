package server

import (
	"io"
	"log/slog"
	"testing"

	"github.com/vango-dev/netsync/pkg/protocol"
	"github.com/vango-dev/netsync/pkg/transport"
)

const (
	kindChat  protocol.MessageKind   = 1
	kindFire  protocol.MessageKind   = 2
	kindPoint protocol.ComponentKind = 1
	kindBlob  protocol.ComponentKind = 2
)

type chat struct{ Text string }

func (c *chat) MessageKind() protocol.MessageKind { return kindChat }
func (c *chat) Encode(e *protocol.Encoder)       { e.WriteString(c.Text) }

type fire struct{ Target protocol.Entity }

func (f *fire) MessageKind() protocol.MessageKind { return kindFire }
func (f *fire) Encode(e *protocol.Encoder)       { e.WriteEntity(f.Target) }

type move struct{ Dir int8 }

func (m *move) Encode(e *protocol.Encoder) { e.WriteSvarint(int64(m.Dir)) }

type point struct{ X int32 }

func (p *point) ComponentKind() protocol.ComponentKind { return kindPoint }
func (p *point) Encode(e *protocol.Encoder)           { e.WriteSvarint(int64(p.X)) }

type blob struct{ Data []byte }

func (b *blob) ComponentKind() protocol.ComponentKind { return kindBlob }
func (b *blob) Encode(e *protocol.Encoder)           { e.WriteLenBytes(b.Data) }

func newTestRegistry(t *testing.T) *protocol.Registry {
	t.Helper()
	r := protocol.NewRegistry()
	if err := r.RegisterMessage(kindChat, "chat", func(d *protocol.Decoder) (protocol.Message, error) {
		s, err := d.ReadString()
		return &chat{Text: s}, err
	}); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterActionInput(kindFire, "fire", func(d *protocol.Decoder) (protocol.Message, error) {
		e, err := d.ReadEntity()
		return &fire{Target: e}, err
	}); err != nil {
		t.Fatal(err)
	}
	r.RegisterInput(func(d *protocol.Decoder) (protocol.Input, error) {
		v, err := d.ReadSvarint()
		return &move{Dir: int8(v)}, err
	})
	if err := r.RegisterComponent(kindPoint, "point", func(d *protocol.Decoder) (protocol.Component, error) {
		v, err := d.ReadSvarint()
		return &point{X: int32(v)}, err
	}); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterComponent(kindBlob, "blob", func(d *protocol.Decoder) (protocol.Component, error) {
		b, err := d.ReadLenBytes()
		return &blob{Data: b}, err
	}); err != nil {
		t.Fatal(err)
	}
	return r
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, cfg *Config, opts ...Option) *Manager {
	t.Helper()
	return NewManager(newTestRegistry(t), cfg, discardLogger(), opts...)
}

// testClient plays the remote end of one connection.
type testClient struct {
	t        *testing.T
	peer     protocol.PeerID
	registry *protocol.Registry
	tr       *transport.Manager
}

func newTestClient(t *testing.T, m *Manager, peer protocol.PeerID) *testClient {
	t.Helper()
	if err := m.Add(peer); err != nil {
		t.Fatalf("Add(%d): %v", peer, err)
	}
	return &testClient{
		t:        t,
		peer:     peer,
		registry: newTestRegistry(t),
		tr:       transport.NewManager(m.Channels(), transport.DefaultConfig()),
	}
}

func (c *testClient) send(env *protocol.Envelope, channel protocol.ChannelKind) {
	c.t.Helper()
	if _, _, err := c.tr.BufferSend(protocol.EncodeEnvelope(env), channel); err != nil {
		c.t.Fatalf("BufferSend: %v", err)
	}
}

// flushTo delivers everything the client has queued to the server.
func (c *testClient) flushTo(m *Manager, tick protocol.Tick) {
	c.t.Helper()
	for _, p := range c.tr.SendPackets(tick) {
		if _, err := m.RecvPacket(c.peer, p); err != nil {
			c.t.Fatalf("RecvPacket: %v", err)
		}
	}
}

// recv feeds payloads from the server and returns the decoded envelopes.
func (c *testClient) recv(payloads []transport.Payload) []*protocol.Envelope {
	c.t.Helper()
	for _, p := range payloads {
		if _, err := c.tr.RecvPacket(p); err != nil {
			c.t.Fatalf("client RecvPacket: %v", err)
		}
	}
	var out []*protocol.Envelope
	for _, cm := range c.tr.ReadMessages() {
		for _, m := range cm.Messages {
			env, err := c.registry.DecodeEnvelope(m.Data)
			if err != nil {
				c.t.Fatalf("DecodeEnvelope: %v", err)
			}
			out = append(out, env)
		}
	}
	return out
}

func payloadsFor(all []PeerPayloads, peer protocol.PeerID) []transport.Payload {
	for _, pp := range all {
		if pp.Peer == peer {
			return pp.Payloads
		}
	}
	return nil
}

func chatsIn(t *testing.T, r *protocol.Registry, envs []*protocol.Envelope) []string {
	t.Helper()
	var out []string
	for _, env := range envs {
		if env.Kind != protocol.EnvelopeMessage {
			continue
		}
		msg, err := r.DecodeMessage(env.Payload)
		if err != nil {
			t.Fatalf("DecodeMessage: %v", err)
		}
		if c, ok := msg.(*chat); ok {
			out = append(out, c.Text)
		}
	}
	return out
}
