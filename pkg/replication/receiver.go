package replication

import (
	"slices"

	"github.com/vango-dev/netsync/pkg/protocol"
)

// Diff is replication data ready to be applied, with the remote tick it was
// produced at.
type Diff struct {
	Tick protocol.Tick
	Data protocol.ReplicationData
}

// GroupBatch is the ordered list of diffs ready for one group.
type GroupBatch struct {
	Group protocol.GroupID
	Diffs []Diff
}

type pendingUpdate struct {
	tick protocol.Tick
	msg  *protocol.EntityUpdatesMessage
}

type groupReceiver struct {
	nextSeq        protocol.MessageID
	pendingActions map[protocol.MessageID]*protocol.EntityActionsMessage
	pendingUpdates []pendingUpdate

	lastActionTick protocol.Tick
	hasLastAction  bool

	// latest is the tick of the newest diff handed out.
	latest    protocol.Tick
	hasLatest bool
}

// Receiver orders received replication messages per group. It is not safe
// for concurrent use.
type Receiver struct {
	groups    map[protocol.GroupID]*groupReceiver
	entityMap *EntityMap
}

// NewReceiver creates a Receiver with an empty entity map.
func NewReceiver() *Receiver {
	return &Receiver{
		groups:    make(map[protocol.GroupID]*groupReceiver),
		entityMap: NewEntityMap(),
	}
}

// EntityMap returns the remote to local entity translation.
func (r *Receiver) EntityMap() *EntityMap {
	return r.entityMap
}

func (r *Receiver) group(id protocol.GroupID) *groupReceiver {
	g, ok := r.groups[id]
	if !ok {
		g = &groupReceiver{pendingActions: make(map[protocol.MessageID]*protocol.EntityActionsMessage)}
		r.groups[id] = g
	}
	return g
}

// RecvMessage buffers a replication message that arrived in a packet sent
// at tick.
func (r *Receiver) RecvMessage(msg *protocol.ReplicationMessage, tick protocol.Tick) {
	g := r.group(msg.Group)
	switch {
	case msg.Data.Actions != nil:
		a := msg.Data.Actions
		if a.SequenceID.Before(g.nextSeq) {
			return
		}
		g.pendingActions[a.SequenceID] = a
	case msg.Data.Updates != nil:
		g.pendingUpdates = append(g.pendingUpdates, pendingUpdate{tick: tick, msg: msg.Data.Updates})
	}
}

// ReadMessages returns, per group, the diffs that became ready, in the
// order they must be applied. Actions are released in sequence order.
// Updates are released once the actions they depend on were released, and
// dropped when a newer diff of the group was already released.
func (r *Receiver) ReadMessages() []GroupBatch {
	ids := make([]protocol.GroupID, 0, len(r.groups))
	for id := range r.groups {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var out []GroupBatch
	for _, id := range ids {
		if diffs := r.groups[id].read(); len(diffs) > 0 {
			out = append(out, GroupBatch{Group: id, Diffs: diffs})
		}
	}
	return out
}

func (g *groupReceiver) read() []Diff {
	var out []Diff
	for {
		a, ok := g.pendingActions[g.nextSeq]
		if !ok {
			break
		}
		delete(g.pendingActions, g.nextSeq)
		g.nextSeq = g.nextSeq.Next()
		g.lastActionTick = a.Tick
		g.hasLastAction = true
		if !g.hasLatest || a.Tick.After(g.latest) {
			g.latest = a.Tick
			g.hasLatest = true
		}
		out = append(out, Diff{Tick: a.Tick, Data: protocol.ReplicationData{Actions: a}})
	}

	if len(g.pendingUpdates) == 0 {
		return out
	}
	slices.SortStableFunc(g.pendingUpdates, func(a, b pendingUpdate) int {
		return a.tick.Diff(b.tick)
	})
	kept := g.pendingUpdates[:0]
	for _, u := range g.pendingUpdates {
		if u.msg.HasLastAction && (!g.hasLastAction || u.msg.LastActionTick.After(g.lastActionTick)) {
			kept = append(kept, u)
			continue
		}
		if g.hasLatest && !u.tick.After(g.latest) {
			continue
		}
		g.latest = u.tick
		g.hasLatest = true
		out = append(out, Diff{Tick: u.tick, Data: protocol.ReplicationData{Updates: u.msg}})
	}
	for i := len(kept); i < len(g.pendingUpdates); i++ {
		g.pendingUpdates[i] = pendingUpdate{}
	}
	g.pendingUpdates = kept
	return out
}

// ChangeKind describes one change applied to a World.
type ChangeKind uint8

const (
	ChangeSpawn ChangeKind = iota + 1
	ChangeDespawn
	ChangeInsert
	ChangeRemove
	ChangeUpdate
)

// String returns the string representation of the change kind.
func (k ChangeKind) String() string {
	switch k {
	case ChangeSpawn:
		return "Spawn"
	case ChangeDespawn:
		return "Despawn"
	case ChangeInsert:
		return "Insert"
	case ChangeRemove:
		return "Remove"
	case ChangeUpdate:
		return "Update"
	default:
		return "Unknown"
	}
}

// Change is one change applied to a World. Entity is the local id.
type Change struct {
	Kind      ChangeKind
	Entity    protocol.Entity
	Component protocol.ComponentKind
}

// ApplyWorld applies a batch to world in order and returns the changes
// made. Remote entity ids are translated through the entity map, which is
// extended on spawn and shrunk on despawn. Changes for entities that are
// not mapped are skipped.
func (r *Receiver) ApplyWorld(world World, batch GroupBatch) []Change {
	var changes []Change
	for _, d := range batch.Diffs {
		switch {
		case d.Data.Actions != nil:
			changes = r.applyActions(world, d.Data.Actions, changes)
		case d.Data.Updates != nil:
			changes = r.applyUpdates(world, d.Data.Updates, changes)
		}
	}
	return changes
}

func sortedKeys[V any](m map[protocol.Entity]V) []protocol.Entity {
	keys := make([]protocol.Entity, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (r *Receiver) applyActions(world World, msg *protocol.EntityActionsMessage, changes []Change) []Change {
	remotes := sortedKeys(msg.Actions)

	// Spawn first so components may reference entities spawned alongside.
	for _, remote := range remotes {
		if msg.Actions[remote].Spawn != protocol.SpawnSpawn {
			continue
		}
		if _, ok := r.entityMap.Local(remote); ok {
			continue
		}
		local := world.Spawn()
		r.entityMap.Insert(remote, local)
		changes = append(changes, Change{Kind: ChangeSpawn, Entity: local})
	}

	mapper := r.entityMap.ToLocal()
	for _, remote := range remotes {
		a := msg.Actions[remote]
		local, ok := r.entityMap.Local(remote)
		if !ok {
			continue
		}
		if a.Spawn == protocol.SpawnDespawn {
			world.Despawn(local)
			r.entityMap.RemoveRemote(remote)
			changes = append(changes, Change{Kind: ChangeDespawn, Entity: local})
			continue
		}
		for _, c := range a.Insert {
			protocol.MapEntities(c, mapper)
			world.Insert(local, c)
			changes = append(changes, Change{Kind: ChangeInsert, Entity: local, Component: c.ComponentKind()})
		}
		for _, k := range a.Remove {
			world.Remove(local, k)
			changes = append(changes, Change{Kind: ChangeRemove, Entity: local, Component: k})
		}
		for _, c := range a.Updates {
			protocol.MapEntities(c, mapper)
			world.Insert(local, c)
			changes = append(changes, Change{Kind: ChangeUpdate, Entity: local, Component: c.ComponentKind()})
		}
	}
	return changes
}

func (r *Receiver) applyUpdates(world World, msg *protocol.EntityUpdatesMessage, changes []Change) []Change {
	mapper := r.entityMap.ToLocal()
	for _, remote := range sortedKeys(msg.Updates) {
		local, ok := r.entityMap.Local(remote)
		if !ok {
			continue
		}
		for _, c := range msg.Updates[remote] {
			protocol.MapEntities(c, mapper)
			world.Insert(local, c)
			changes = append(changes, Change{Kind: ChangeUpdate, Entity: local, Component: c.ComponentKind()})
		}
	}
	return changes
}
