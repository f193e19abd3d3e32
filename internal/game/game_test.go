package game

import (
	"io"
	"log/slog"
	"testing"

	"github.com/vango-dev/netsync/pkg/protocol"
	"github.com/vango-dev/netsync/pkg/server"
	"github.com/vango-dev/netsync/pkg/transport"
)

type call struct {
	op     string
	entity protocol.Entity
	kind   protocol.ComponentKind
	target protocol.NetworkTarget
	tick   protocol.Tick
}

type fakeReplicator struct {
	calls []call
	chats []*Chat
}

func (f *fakeReplicator) PrepareEntitySpawn(e protocol.Entity, _ protocol.GroupID, t protocol.NetworkTarget) {
	f.calls = append(f.calls, call{op: "spawn", entity: e, target: t})
}

func (f *fakeReplicator) PrepareEntityDespawn(e protocol.Entity, _ protocol.GroupID, t protocol.NetworkTarget) {
	f.calls = append(f.calls, call{op: "despawn", entity: e, target: t})
}

func (f *fakeReplicator) PrepareComponentInsert(e protocol.Entity, _ protocol.GroupID, c protocol.Component, t protocol.NetworkTarget) {
	f.calls = append(f.calls, call{op: "insert", entity: e, kind: c.ComponentKind(), target: t})
}

func (f *fakeReplicator) PrepareComponentUpdate(e protocol.Entity, _ protocol.GroupID, c protocol.Component, tick protocol.Tick, t protocol.NetworkTarget) {
	f.calls = append(f.calls, call{op: "update", entity: e, kind: c.ComponentKind(), target: t, tick: tick})
}

func (f *fakeReplicator) BufferMessage(m protocol.Message, _ protocol.ChannelKind, _ protocol.NetworkTarget) error {
	f.chats = append(f.chats, m.(*Chat))
	return nil
}

func (f *fakeReplicator) count(op string, sendsTo protocol.PeerID) int {
	n := 0
	for _, c := range f.calls {
		if c.op == op && c.target.ShouldSendTo(sendsTo) {
			n++
		}
	}
	return n
}

func newTestGame(t *testing.T) (*Game, *fakeReplicator) {
	t.Helper()
	rep := &fakeReplicator{}
	cfg := DefaultConfig()
	cfg.HalfWidth, cfg.HalfHeight = 2, 2
	return New(cfg, rep, slog.New(slog.NewTextHandler(io.Discard, nil))), rep
}

func TestGame_JoinSnapshot(t *testing.T) {
	g, rep := newTestGame(t)

	if err := g.Join(1); err != nil {
		t.Fatal(err)
	}
	// Peer 1 learns about its own entity through the snapshot only.
	if got := rep.count("spawn", 1); got != 1 {
		t.Errorf("spawns for peer 1 = %d, want 1", got)
	}
	if got := rep.count("insert", 1); got != 2 {
		t.Errorf("inserts for peer 1 = %d, want 2", got)
	}

	rep.calls = nil
	if err := g.Join(2); err != nil {
		t.Fatal(err)
	}
	if got := rep.count("spawn", 2); got != 2 {
		t.Errorf("spawns for peer 2 = %d, want 2 (snapshot of both players)", got)
	}
	if got := rep.count("spawn", 1); got != 1 {
		t.Errorf("spawns for peer 1 = %d, want 1 (the newcomer)", got)
	}
	if len(rep.chats) != 2 || rep.chats[1].Text != "peer 2 joined" || rep.chats[1].From != 0 {
		t.Errorf("chats = %+v", rep.chats)
	}

	rep.calls = nil
	if err := g.Join(2); err != nil || len(rep.calls) != 0 {
		t.Errorf("second Join should be a no-op, got %v %+v", err, rep.calls)
	}
	if s := g.Stats(); s.Players != 2 || s.Entities != 2 {
		t.Errorf("Stats = %+v", s)
	}
}

func TestGame_Step(t *testing.T) {
	g, rep := newTestGame(t)
	g.Join(1)
	g.Join(2)
	rep.calls = nil

	g.Step(5, []server.PeerInput{
		{Peer: 2, Input: &Move{DX: -3}},
		{Peer: 1, Input: &Move{DX: 1, DY: 1}},
		{Peer: 3, Input: &Move{DX: 1}},
	})

	if p, _ := g.Position(1); p != (Position{X: 1, Y: 1}) {
		t.Errorf("peer 1 at %+v, want {1 1}", p)
	}
	if p, _ := g.Position(2); p != (Position{X: -1}) {
		t.Errorf("peer 2 at %+v, want {-1 0}", p)
	}
	if len(rep.calls) != 2 {
		t.Fatalf("got %d calls, want 2 updates", len(rep.calls))
	}
	for _, c := range rep.calls {
		if c.op != "update" || c.kind != KindPosition || c.tick != 5 || c.target.Kind != protocol.TargetKindAll {
			t.Errorf("unexpected call %+v", c)
		}
	}
}

func TestGame_StepClampsAndSkipsIdle(t *testing.T) {
	g, rep := newTestGame(t)
	g.Join(1)
	for tick := protocol.Tick(0); tick < 5; tick++ {
		g.Step(tick, []server.PeerInput{{Peer: 1, Input: &Move{DX: 1}}})
	}
	if p, _ := g.Position(1); p.X != 2 {
		t.Errorf("X = %d, want clamped to 2", p.X)
	}

	rep.calls = nil
	g.Step(6, []server.PeerInput{{Peer: 1, Input: &Move{DX: 1}}, {Peer: 1}})
	if len(rep.calls) != 0 {
		t.Errorf("no update expected at the edge or for nil input, got %+v", rep.calls)
	}
}

func TestGame_HandleEvents(t *testing.T) {
	g, rep := newTestGame(t)
	g.Join(1)
	g.Join(2)
	e1, _ := g.Player(1)
	rep.calls = nil

	ev := &server.ServerEvents{
		Disconnections: []protocol.PeerID{1},
		Peers: map[protocol.PeerID]*server.ConnectionEvents{
			2: {Messages: []server.MessageEvent{{Message: &Chat{From: 2, Text: "hi"}}}},
		},
	}
	if err := g.HandleEvents(ev); err != nil {
		t.Fatal(err)
	}

	if _, ok := g.Player(1); ok {
		t.Error("peer 1 should have left")
	}
	if g.World().Contains(e1) {
		t.Error("entity of peer 1 should be despawned")
	}
	if len(rep.calls) != 1 || rep.calls[0].op != "despawn" || rep.calls[0].entity != e1 {
		t.Errorf("calls = %+v", rep.calls)
	}
	if s := g.Stats(); s.Chats != 1 || s.Players != 1 {
		t.Errorf("Stats = %+v", s)
	}
	if err := g.Leave(1); err != nil {
		t.Errorf("Leave of unknown peer = %v", err)
	}
}

func TestRegistry_ReplicatesComponents(t *testing.T) {
	reg, err := NewRegistry()
	if err != nil {
		t.Fatal(err)
	}
	env := protocol.NewReplicationEnvelope(9, protocol.ReplicationData{
		Updates: &protocol.EntityUpdatesMessage{
			Updates: map[protocol.Entity][]protocol.Component{
				4: {&Position{X: 3, Y: -4}, &Owner{Peer: 7}},
			},
		},
	})
	got, err := reg.DecodeEnvelope(protocol.EncodeEnvelope(env))
	if err != nil {
		t.Fatal(err)
	}
	comps := got.Replication.Data.Updates.Updates[4]
	if len(comps) != 2 {
		t.Fatalf("got %d components", len(comps))
	}
	if p := comps[0].(*Position); *p != (Position{X: 3, Y: -4}) {
		t.Errorf("position = %+v", p)
	}
	if o := comps[1].(*Owner); o.Peer != 7 {
		t.Errorf("owner = %+v", o)
	}
}

func TestRegistry_Chat(t *testing.T) {
	reg, err := NewRegistry()
	if err != nil {
		t.Fatal(err)
	}
	m, err := reg.DecodeMessage(protocol.EncodeMessage(&Chat{From: 3, Text: "gg"}))
	if err != nil {
		t.Fatal(err)
	}
	if c := m.(*Chat); c.From != 3 || c.Text != "gg" {
		t.Errorf("chat = %+v", c)
	}
}

func TestNewChannels(t *testing.T) {
	ch, chat, err := NewChannels()
	if err != nil {
		t.Fatal(err)
	}
	s, ok := ch.Settings(chat)
	if !ok || s.Mode != transport.OrderedReliable {
		t.Errorf("chat settings = %+v, %v", s, ok)
	}
	if name, _ := ch.Name(chat); name != ChatChannelName {
		t.Errorf("name = %q", name)
	}
}
