package replication

import (
	"testing"

	"github.com/vango-dev/netsync/pkg/protocol"
)

const (
	actionsCh protocol.ChannelKind = 0
	updatesCh protocol.ChannelKind = 1
)

type position struct{ X, Y int32 }

func (p *position) ComponentKind() protocol.ComponentKind { return 1 }
func (p *position) Encode(e *protocol.Encoder) {
	e.WriteSvarint(int64(p.X))
	e.WriteSvarint(int64(p.Y))
}

type follow struct{ Target protocol.Entity }

func (f *follow) ComponentKind() protocol.ComponentKind { return 2 }
func (f *follow) Encode(e *protocol.Encoder)           { e.WriteEntity(f.Target) }
func (f *follow) MapEntities(m protocol.EntityMapper) {
	if mapped, ok := m.MapEntity(f.Target); ok {
		f.Target = mapped
	}
}

func newTestSender(hook func(protocol.GroupID, protocol.MessageID)) *Sender {
	return NewSender(SenderConfig{
		ActionsChannel: actionsCh,
		UpdatesChannel: updatesCh,
		OnUpdateAck:    hook,
	})
}

func TestSender_SpawnProducesActions(t *testing.T) {
	s := newTestSender(nil)
	s.PrepareSpawn(10, 1)
	s.PrepareInsert(10, 1, &position{X: 1})

	out := s.Finalize(3)
	if len(out) != 1 {
		t.Fatalf("outbound = %d, want 1", len(out))
	}
	o := out[0]
	if o.Channel != actionsCh || o.Group != 1 || o.Data.Actions == nil {
		t.Fatalf("outbound = %+v", o)
	}
	a := o.Data.Actions
	if a.SequenceID != 0 || a.Tick != 3 {
		t.Errorf("seq=%d tick=%d", a.SequenceID, a.Tick)
	}
	if act := a.Actions[10]; act.Spawn != protocol.SpawnSpawn || len(act.Insert) != 1 {
		t.Errorf("actions = %+v", act)
	}

	if out := s.Finalize(4); len(out) != 0 {
		t.Errorf("second finalize = %d messages, want 0", len(out))
	}

	s.PrepareRemove(10, 1, 1)
	out = s.Finalize(5)
	if len(out) != 1 || out[0].Data.Actions.SequenceID != 1 {
		t.Fatalf("expected a second actions message with seq 1, got %+v", out)
	}
}

func TestSender_DespawnCancelsSpawn(t *testing.T) {
	s := newTestSender(nil)
	s.PrepareSpawn(10, 1)
	s.PrepareUpdate(10, 1, &position{}, 1)
	s.PrepareDespawn(10, 1)
	if out := s.Finalize(1); len(out) != 0 {
		t.Errorf("outbound = %+v, want none", out)
	}
}

func TestSender_UpdatesFoldIntoActions(t *testing.T) {
	s := newTestSender(nil)
	s.PrepareUpdate(7, 1, &position{X: 5}, 2)
	s.PrepareInsert(8, 1, &follow{Target: 7})

	out := s.Finalize(2)
	if len(out) != 1 || out[0].Data.Actions == nil {
		t.Fatalf("outbound = %+v", out)
	}
	if ups := out[0].Data.Actions.Actions[7].Updates; len(ups) != 1 {
		t.Errorf("folded updates = %v", ups)
	}
	if s.PendingUpdates(1) != 0 {
		t.Errorf("PendingUpdates = %d, want 0", s.PendingUpdates(1))
	}
}

func TestSender_UpdatesResentUntilAcked(t *testing.T) {
	var acked []protocol.GroupID
	s := newTestSender(func(g protocol.GroupID, _ protocol.MessageID) { acked = append(acked, g) })

	s.PrepareSpawn(1, 4)
	s.Finalize(1)

	s.PrepareUpdate(1, 4, &position{X: 1}, 10)
	out := s.Finalize(10)
	if len(out) != 1 || out[0].Channel != updatesCh {
		t.Fatalf("outbound = %+v", out)
	}
	u := out[0].Data.Updates
	if !u.HasLastAction || u.LastActionTick != 1 {
		t.Errorf("last action = %v/%d, want true/1", u.HasLastAction, u.LastActionTick)
	}
	s.TrackUpdates(100, out[0])

	// Not acked yet: the same update goes out again.
	out = s.Finalize(11)
	if len(out) != 1 || out[0].Data.Updates == nil {
		t.Fatalf("resend = %+v", out)
	}
	s.TrackUpdates(101, out[0])
	if s.InFlightUpdates() != 2 {
		t.Fatalf("InFlightUpdates = %d", s.InFlightUpdates())
	}

	if n := s.RecvUpdateAcks([]protocol.MessageID{100, 555}); n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}
	if len(acked) != 1 || acked[0] != 4 {
		t.Errorf("hook calls = %v, want [4]", acked)
	}
	if _, ok := s.UpdateGroup(100); ok {
		t.Error("acked id still tracked")
	}
	if g, ok := s.UpdateGroup(101); !ok || g != 4 {
		t.Error("unacked id lost")
	}
	if s.PendingUpdates(4) != 0 {
		t.Errorf("PendingUpdates = %d after ack", s.PendingUpdates(4))
	}
	if out := s.Finalize(12); len(out) != 0 {
		t.Errorf("pruned update resent: %+v", out)
	}

	// A repeated ack is a no-op.
	if n := s.RecvUpdateAcks([]protocol.MessageID{100}); n != 0 || len(acked) != 1 {
		t.Errorf("duplicate ack removed %d", n)
	}
}

func TestSender_AckKeepsNewerChanges(t *testing.T) {
	s := newTestSender(nil)
	s.PrepareUpdate(1, 1, &position{X: 1}, 10)
	s.TrackUpdates(0, s.Finalize(10)[0])

	s.PrepareUpdate(1, 1, &position{X: 2}, 12)
	s.RecvUpdateAcks([]protocol.MessageID{0})

	out := s.Finalize(12)
	if len(out) != 1 {
		t.Fatalf("outbound = %d, want 1", len(out))
	}
	p := out[0].Data.Updates.Updates[1][0].(*position)
	if p.X != 2 {
		t.Errorf("X = %d, want 2", p.X)
	}
}

// A host buffers replication for tick N before its game step prepares the
// changes of tick N. An ack of the message sent at N must not prune them.
func TestSender_AckKeepsChangesPreparedAfterFinalize(t *testing.T) {
	s := newTestSender(nil)
	s.PrepareUpdate(1, 1, &position{X: 1}, 1)

	out := s.Finalize(2)
	if len(out) != 1 || out[0].Data.Updates == nil {
		t.Fatalf("outbound = %+v", out)
	}
	s.TrackUpdates(7, out[0])

	// Same tick as the send, prepared after it.
	s.PrepareUpdate(1, 1, &position{X: 2}, 2)
	s.PrepareUpdate(2, 1, &position{Y: 9}, 2)
	s.RecvUpdateAcks([]protocol.MessageID{7})

	if n := s.PendingUpdates(1); n != 2 {
		t.Fatalf("PendingUpdates = %d, want 2", n)
	}
	out = s.Finalize(3)
	if len(out) != 1 || out[0].Data.Updates == nil {
		t.Fatalf("outbound = %+v", out)
	}
	ups := out[0].Data.Updates.Updates
	if p := ups[1][0].(*position); p.X != 2 {
		t.Errorf("entity 1 X = %d, want 2", p.X)
	}
	if p := ups[2][0].(*position); p.Y != 9 {
		t.Errorf("entity 2 Y = %d, want 9", p.Y)
	}
}

func TestSender_AckPrunesOnlyCarriedDiffs(t *testing.T) {
	s := newTestSender(nil)
	s.PrepareUpdate(1, 1, &position{X: 1}, 5)
	first := s.Finalize(5)[0]
	s.TrackUpdates(1, first)

	s.PrepareUpdate(2, 1, &position{X: 2}, 5)
	second := s.Finalize(6)[0]
	s.TrackUpdates(2, second)

	// Acks may arrive out of order.
	s.RecvUpdateAcks([]protocol.MessageID{1})
	if n := s.PendingUpdates(1); n != 1 {
		t.Fatalf("PendingUpdates after first ack = %d, want 1", n)
	}
	s.RecvUpdateAcks([]protocol.MessageID{2})
	if n := s.PendingUpdates(1); n != 0 {
		t.Fatalf("PendingUpdates after second ack = %d, want 0", n)
	}
}

func TestSender_RequeueRestoresActions(t *testing.T) {
	s := newTestSender(nil)
	s.PrepareSpawn(1, 1)
	s.Finalize(1)

	s.PrepareInsert(1, 1, &follow{Target: 1})
	s.PrepareUpdate(1, 1, &position{X: 4}, 2)
	out := s.Finalize(2)
	if len(out) != 1 || out[0].Data.Actions == nil || out[0].Data.Actions.SequenceID != 1 {
		t.Fatalf("outbound = %+v", out)
	}
	s.Requeue(out)

	if n := s.PendingUpdates(1); n != 1 {
		t.Fatalf("PendingUpdates after requeue = %d, want 1", n)
	}
	out = s.Finalize(3)
	if len(out) != 1 || out[0].Data.Actions == nil {
		t.Fatalf("retry = %+v", out)
	}
	msg := out[0].Data.Actions
	if msg.SequenceID != 1 {
		t.Errorf("retry sequence = %d, want 1", msg.SequenceID)
	}
	a := msg.Actions[1]
	if len(a.Insert) != 1 || len(a.Updates) != 1 {
		t.Errorf("retry actions = %+v", a)
	}

	// The next updates message names the retried actions message.
	s.PrepareUpdate(1, 1, &position{X: 5}, 4)
	out = s.Finalize(4)
	if u := out[0].Data.Updates; u == nil || u.LastActionTick != 3 {
		t.Errorf("updates = %+v, want last action tick 3", u)
	}
}

func TestSender_RequeueUpdatesIsNoop(t *testing.T) {
	s := newTestSender(nil)
	s.PrepareUpdate(1, 1, &position{X: 1}, 1)
	out := s.Finalize(1)
	s.Requeue(out)
	if n := s.PendingUpdates(1); n != 1 {
		t.Errorf("PendingUpdates = %d, want 1", n)
	}
	if s.InFlightUpdates() != 0 {
		t.Errorf("InFlightUpdates = %d, want 0", s.InFlightUpdates())
	}
}

func actionsMsg(group protocol.GroupID, seq protocol.MessageID, tick protocol.Tick, actions map[protocol.Entity]*protocol.EntityActions) *protocol.ReplicationMessage {
	return &protocol.ReplicationMessage{
		Group: group,
		Data: protocol.ReplicationData{Actions: &protocol.EntityActionsMessage{
			SequenceID: seq,
			Tick:       tick,
			Actions:    actions,
		}},
	}
}

func updatesMsg(group protocol.GroupID, lastAction protocol.Tick, updates map[protocol.Entity][]protocol.Component) *protocol.ReplicationMessage {
	return &protocol.ReplicationMessage{
		Group: group,
		Data: protocol.ReplicationData{Updates: &protocol.EntityUpdatesMessage{
			LastActionTick: lastAction,
			HasLastAction:  true,
			Updates:        updates,
		}},
	}
}

func TestReceiver_ActionsInSequence(t *testing.T) {
	r := NewReceiver()
	r.RecvMessage(actionsMsg(1, 1, 6, nil), 6)
	if got := r.ReadMessages(); len(got) != 0 {
		t.Fatalf("released out of order: %+v", got)
	}
	r.RecvMessage(actionsMsg(1, 0, 5, nil), 7)
	got := r.ReadMessages()
	if len(got) != 1 || len(got[0].Diffs) != 2 {
		t.Fatalf("batches = %+v", got)
	}
	if got[0].Diffs[0].Data.Actions.SequenceID != 0 || got[0].Diffs[1].Data.Actions.SequenceID != 1 {
		t.Error("actions not in sequence order")
	}

	// A resend of an applied message is ignored.
	r.RecvMessage(actionsMsg(1, 0, 5, nil), 8)
	if got := r.ReadMessages(); len(got) != 0 {
		t.Errorf("duplicate released: %+v", got)
	}
}

func TestReceiver_UpdatesWaitForActions(t *testing.T) {
	r := NewReceiver()
	r.RecvMessage(updatesMsg(1, 5, nil), 8)
	if got := r.ReadMessages(); len(got) != 0 {
		t.Fatalf("update released before its actions: %+v", got)
	}
	r.RecvMessage(actionsMsg(1, 0, 5, nil), 9)
	got := r.ReadMessages()
	if len(got) != 1 || len(got[0].Diffs) != 2 {
		t.Fatalf("batches = %+v", got)
	}
	if got[0].Diffs[0].Data.Actions == nil || got[0].Diffs[1].Data.Updates == nil {
		t.Error("update applied before actions")
	}
}

func TestReceiver_DropsStaleUpdates(t *testing.T) {
	r := NewReceiver()
	r.RecvMessage(&protocol.ReplicationMessage{Group: 2, Data: protocol.ReplicationData{
		Updates: &protocol.EntityUpdatesMessage{},
	}}, 10)
	if got := r.ReadMessages(); len(got) != 1 {
		t.Fatalf("batches = %d, want 1", len(got))
	}
	r.RecvMessage(&protocol.ReplicationMessage{Group: 2, Data: protocol.ReplicationData{
		Updates: &protocol.EntityUpdatesMessage{},
	}}, 9)
	if got := r.ReadMessages(); len(got) != 0 {
		t.Errorf("stale update released: %+v", got)
	}
}

func TestReceiver_ApplyWorld(t *testing.T) {
	r := NewReceiver()
	w := NewMemoryWorld()

	r.RecvMessage(actionsMsg(1, 0, 1, map[protocol.Entity]*protocol.EntityActions{
		100: {Spawn: protocol.SpawnSpawn, Insert: []protocol.Component{&position{X: 1}}},
		200: {Spawn: protocol.SpawnSpawn, Insert: []protocol.Component{&follow{Target: 100}}},
	}), 1)
	batches := r.ReadMessages()
	changes := r.ApplyWorld(w, batches[0])
	if len(changes) != 4 {
		t.Fatalf("changes = %+v", changes)
	}
	if w.Len() != 2 {
		t.Fatalf("world has %d entities", w.Len())
	}
	leader, _ := r.EntityMap().Local(100)
	follower, _ := r.EntityMap().Local(200)
	c, ok := w.Get(follower, 2)
	if !ok || c.(*follow).Target != leader {
		t.Errorf("follow target not remapped: %+v", c)
	}

	r.RecvMessage(updatesMsg(1, 1, map[protocol.Entity][]protocol.Component{
		100: {&position{X: 9}},
		999: {&position{X: 1}},
	}), 2)
	changes = r.ApplyWorld(w, r.ReadMessages()[0])
	if len(changes) != 1 || changes[0].Kind != ChangeUpdate || changes[0].Entity != leader {
		t.Errorf("changes = %+v", changes)
	}
	if c, _ := w.Get(leader, 1); c.(*position).X != 9 {
		t.Errorf("position = %+v", c)
	}

	r.RecvMessage(actionsMsg(1, 1, 3, map[protocol.Entity]*protocol.EntityActions{
		100: {Spawn: protocol.SpawnDespawn},
		200: {Remove: []protocol.ComponentKind{2}},
	}), 3)
	changes = r.ApplyWorld(w, r.ReadMessages()[0])
	if len(changes) != 2 {
		t.Fatalf("changes = %+v", changes)
	}
	if w.Contains(leader) {
		t.Error("despawned entity still in world")
	}
	if _, ok := w.Get(follower, 2); ok {
		t.Error("removed component still present")
	}
	if r.EntityMap().Len() != 1 {
		t.Errorf("entity map len = %d", r.EntityMap().Len())
	}
}

func TestSenderReceiver_GroupOrder(t *testing.T) {
	s := newTestSender(nil)
	r := NewReceiver()
	w := NewMemoryWorld()

	var wire []Outbound
	s.PrepareSpawn(1, 1)
	s.PrepareSpawn(2, 2)
	wire = append(wire, s.Finalize(1)...)
	s.PrepareInsert(1, 1, &position{X: 1})
	wire = append(wire, s.Finalize(2)...)
	s.PrepareInsert(1, 1, &position{X: 2})
	wire = append(wire, s.Finalize(3)...)

	// Deliver group 1 in reverse.
	for i := len(wire) - 1; i >= 0; i-- {
		o := wire[i]
		r.RecvMessage(&protocol.ReplicationMessage{Group: o.Group, Data: o.Data}, 3)
	}
	for _, b := range r.ReadMessages() {
		r.ApplyWorld(w, b)
	}
	local, ok := r.EntityMap().Local(1)
	if !ok {
		t.Fatal("entity 1 not spawned")
	}
	if c, _ := w.Get(local, 1); c == nil || c.(*position).X != 2 {
		t.Errorf("position = %+v, want X=2", c)
	}
	if w.Len() != 2 {
		t.Errorf("world has %d entities, want 2", w.Len())
	}
}

func TestEntityMap(t *testing.T) {
	m := NewEntityMap()
	m.Insert(10, 1)
	m.Insert(10, 2)
	if _, ok := m.Remote(1); ok {
		t.Error("stale local mapping kept")
	}
	if r, ok := m.ToRemote().MapEntity(2); !ok || r != 10 {
		t.Errorf("ToRemote = %d, %v", r, ok)
	}
	if l, ok := m.ToLocal().MapEntity(10); !ok || l != 2 {
		t.Errorf("ToLocal = %d, %v", l, ok)
	}
	if l, ok := m.RemoveRemote(10); !ok || l != 2 || m.Len() != 0 {
		t.Errorf("RemoveRemote = %d, %v", l, ok)
	}
}
