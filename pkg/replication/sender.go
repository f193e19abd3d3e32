// Package replication turns entity changes into per-group replication
// messages and applies received ones to a World.
//
// Changes are collected per replication group. Structural changes (spawn,
// despawn, component insert and remove) travel in actions messages on a
// reliable channel, numbered per group. Component value changes travel in
// updates messages on an unreliable channel that reports acks; every
// update is resent with each finalize until a message carrying it is
// acknowledged. Updates name the tick of their group's latest actions
// message so the receiver never applies them to a structure it has not
// seen yet.
package replication

import (
	"slices"

	"github.com/vango-dev/netsync/pkg/protocol"
)

// Outbound is one message produced by Finalize.
type Outbound struct {
	Channel protocol.ChannelKind
	Group   protocol.GroupID
	Data    protocol.ReplicationData

	// covers is the newest diff version carried by an updates message.
	covers uint64
	// Group state replaced by an actions message, restored by Requeue.
	prevActionTick protocol.Tick
	prevHasAction  bool
}

// SenderConfig configures a Sender.
type SenderConfig struct {
	// ActionsChannel carries actions messages. It must be reliable.
	ActionsChannel protocol.ChannelKind

	// UpdatesChannel carries updates messages. It must report acks.
	UpdatesChannel protocol.ChannelKind

	// OnUpdateAck is called for every acknowledged updates message after
	// its correlation entry was removed and its group pruned.
	OnUpdateAck func(group protocol.GroupID, id protocol.MessageID)
}

type componentDiff struct {
	value     protocol.Component
	changedAt protocol.Tick
	version   uint64
}

type groupSender struct {
	actions map[protocol.Entity]*protocol.EntityActions
	dirty   map[protocol.Entity]map[protocol.ComponentKind]componentDiff

	nextSeq        protocol.MessageID
	lastActionTick protocol.Tick
	hasLastAction  bool
}

type updateSend struct {
	group  protocol.GroupID
	covers uint64
}

// Sender collects entity changes for one connection. It is not safe for
// concurrent use.
type Sender struct {
	cfg    SenderConfig
	groups map[protocol.GroupID]*groupSender

	// version numbers diffs in the order they were prepared.
	version uint64

	// updatesMessageGroups maps the MessageID of every in-flight updates
	// message to its group and the newest diff version it carried.
	updatesMessageGroups map[protocol.MessageID]updateSend
}

// NewSender creates a Sender.
func NewSender(cfg SenderConfig) *Sender {
	return &Sender{
		cfg:                  cfg,
		groups:               make(map[protocol.GroupID]*groupSender),
		updatesMessageGroups: make(map[protocol.MessageID]updateSend),
	}
}

func (s *Sender) group(id protocol.GroupID) *groupSender {
	g, ok := s.groups[id]
	if !ok {
		g = &groupSender{
			actions: make(map[protocol.Entity]*protocol.EntityActions),
			dirty:   make(map[protocol.Entity]map[protocol.ComponentKind]componentDiff),
		}
		s.groups[id] = g
	}
	return g
}

func (g *groupSender) entityDiffs(e protocol.Entity) map[protocol.ComponentKind]componentDiff {
	d, ok := g.dirty[e]
	if !ok {
		d = make(map[protocol.ComponentKind]componentDiff)
		g.dirty[e] = d
	}
	return d
}

func (g *groupSender) entityActions(e protocol.Entity) *protocol.EntityActions {
	a, ok := g.actions[e]
	if !ok {
		a = &protocol.EntityActions{}
		g.actions[e] = a
	}
	return a
}

// PrepareSpawn queues the creation of e.
func (s *Sender) PrepareSpawn(e protocol.Entity, group protocol.GroupID) {
	s.group(group).entityActions(e).Spawn = protocol.SpawnSpawn
}

// PrepareDespawn queues the destruction of e. Changes queued for e are
// dropped; a spawn queued in the same tick cancels out.
func (s *Sender) PrepareDespawn(e protocol.Entity, group protocol.GroupID) {
	g := s.group(group)
	delete(g.dirty, e)
	if a, ok := g.actions[e]; ok && a.Spawn == protocol.SpawnSpawn {
		delete(g.actions, e)
		return
	}
	g.actions[e] = &protocol.EntityActions{Spawn: protocol.SpawnDespawn}
}

// PrepareInsert queues the insertion of c on e.
func (s *Sender) PrepareInsert(e protocol.Entity, group protocol.GroupID, c protocol.Component) {
	g := s.group(group)
	kind := c.ComponentKind()
	a := g.entityActions(e)
	a.Remove = slices.DeleteFunc(a.Remove, func(k protocol.ComponentKind) bool { return k == kind })
	a.Insert = replaceComponent(a.Insert, c)
	if d, ok := g.dirty[e]; ok {
		delete(d, kind)
	}
}

// PrepareRemove queues the removal of a component from e.
func (s *Sender) PrepareRemove(e protocol.Entity, group protocol.GroupID, kind protocol.ComponentKind) {
	g := s.group(group)
	a := g.entityActions(e)
	a.Insert = slices.DeleteFunc(a.Insert, func(c protocol.Component) bool { return c.ComponentKind() == kind })
	if !slices.Contains(a.Remove, kind) {
		a.Remove = append(a.Remove, kind)
	}
	if d, ok := g.dirty[e]; ok {
		delete(d, kind)
	}
}

// PrepareUpdate records that c changed on e at tick.
func (s *Sender) PrepareUpdate(e protocol.Entity, group protocol.GroupID, c protocol.Component, tick protocol.Tick) {
	g := s.group(group)
	if a, ok := g.actions[e]; ok {
		if a.Spawn == protocol.SpawnDespawn {
			return
		}
		if slices.ContainsFunc(a.Insert, func(x protocol.Component) bool { return x.ComponentKind() == c.ComponentKind() }) {
			a.Insert = replaceComponent(a.Insert, c)
			return
		}
	}
	s.version++
	g.entityDiffs(e)[c.ComponentKind()] = componentDiff{value: c, changedAt: tick, version: s.version}
}

func replaceComponent(cs []protocol.Component, c protocol.Component) []protocol.Component {
	for i, x := range cs {
		if x.ComponentKind() == c.ComponentKind() {
			cs[i] = c
			return cs
		}
	}
	return append(cs, c)
}

func sortedDiffs(d map[protocol.ComponentKind]componentDiff) []protocol.Component {
	kinds := make([]protocol.ComponentKind, 0, len(d))
	for k := range d {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	out := make([]protocol.Component, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, d[k].value)
	}
	return out
}

// Finalize turns the changes collected so far into messages for tick, at
// most one per group, in ascending group order.
//
// A group with structural changes produces an actions message that also
// carries its pending updates. Otherwise every update not yet covered by an
// ack is sent in an updates message.
func (s *Sender) Finalize(tick protocol.Tick) []Outbound {
	ids := make([]protocol.GroupID, 0, len(s.groups))
	for id := range s.groups {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var out []Outbound
	for _, id := range ids {
		g := s.groups[id]
		switch {
		case len(g.actions) > 0:
			for e, d := range g.dirty {
				a := g.entityActions(e)
				a.Updates = append(a.Updates, sortedDiffs(d)...)
			}
			clear(g.dirty)
			msg := &protocol.EntityActionsMessage{
				SequenceID: g.nextSeq,
				Tick:       tick,
				Actions:    g.actions,
			}
			out = append(out, Outbound{
				Channel:        s.cfg.ActionsChannel,
				Group:          id,
				Data:           protocol.ReplicationData{Actions: msg},
				prevActionTick: g.lastActionTick,
				prevHasAction:  g.hasLastAction,
			})
			g.actions = make(map[protocol.Entity]*protocol.EntityActions)
			g.nextSeq = g.nextSeq.Next()
			g.lastActionTick = tick
			g.hasLastAction = true
		case len(g.dirty) > 0:
			msg := &protocol.EntityUpdatesMessage{
				LastActionTick: g.lastActionTick,
				HasLastAction:  g.hasLastAction,
				Updates:        make(map[protocol.Entity][]protocol.Component, len(g.dirty)),
			}
			var covers uint64
			for e, d := range g.dirty {
				msg.Updates[e] = sortedDiffs(d)
				for _, diff := range d {
					covers = max(covers, diff.version)
				}
			}
			out = append(out, Outbound{
				Channel: s.cfg.UpdatesChannel,
				Group:   id,
				Data:    protocol.ReplicationData{Updates: msg},
				covers:  covers,
			})
		}
	}
	return out
}

// Requeue hands back messages returned by Finalize that could not be
// buffered. An actions message gives back its sequence number and its
// changes, so the next Finalize sends them again under the same number.
// Updates messages need no requeue: their diffs stay pending until an ack.
//
// Requeue must be called before any change is prepared for the groups of
// outs.
func (s *Sender) Requeue(outs []Outbound) {
	for _, o := range outs {
		msg := o.Data.Actions
		if msg == nil {
			continue
		}
		g := s.group(o.Group)
		g.nextSeq = msg.SequenceID
		g.lastActionTick = o.prevActionTick
		g.hasLastAction = o.prevHasAction
		for e, a := range msg.Actions {
			if len(a.Updates) > 0 {
				d := g.entityDiffs(e)
				for _, c := range a.Updates {
					s.version++
					d[c.ComponentKind()] = componentDiff{value: c, changedAt: msg.Tick, version: s.version}
				}
				a.Updates = nil
			}
			if !a.IsEmpty() {
				g.actions[e] = a
			}
		}
	}
}

// TrackUpdates records that the updates message out was assigned id. An
// ack of id prunes exactly the diffs out carried that were not changed
// again since.
func (s *Sender) TrackUpdates(id protocol.MessageID, out Outbound) {
	s.updatesMessageGroups[id] = updateSend{group: out.Group, covers: out.covers}
}

// RecvUpdateAcks processes acknowledged updates messages. Each known id is
// removed from the correlation map, and the updates of its group carried
// by that message are pruned unless they changed again after it was
// finalized. Unknown ids are ignored. It returns the number of entries
// removed.
func (s *Sender) RecvUpdateAcks(acks []protocol.MessageID) int {
	n := 0
	for _, id := range acks {
		sent, ok := s.updatesMessageGroups[id]
		if !ok {
			continue
		}
		delete(s.updatesMessageGroups, id)
		n++
		if g, ok := s.groups[sent.group]; ok {
			g.prune(sent.covers)
		}
		if s.cfg.OnUpdateAck != nil {
			s.cfg.OnUpdateAck(sent.group, id)
		}
	}
	return n
}

// prune drops the diffs numbered up to covers. Diffs prepared after the
// acked message was finalized always carry a higher version.
func (g *groupSender) prune(covers uint64) {
	for e, d := range g.dirty {
		for k, diff := range d {
			if diff.version <= covers {
				delete(d, k)
			}
		}
		if len(d) == 0 {
			delete(g.dirty, e)
		}
	}
}

// InFlightUpdates returns the number of updates messages awaiting an ack.
func (s *Sender) InFlightUpdates() int {
	return len(s.updatesMessageGroups)
}

// UpdateGroup returns the group of an in-flight updates message.
func (s *Sender) UpdateGroup(id protocol.MessageID) (protocol.GroupID, bool) {
	sent, ok := s.updatesMessageGroups[id]
	return sent.group, ok
}

// PendingUpdates returns the number of component updates of group not yet
// covered by an ack.
func (s *Sender) PendingUpdates(group protocol.GroupID) int {
	g, ok := s.groups[group]
	if !ok {
		return 0
	}
	n := 0
	for _, d := range g.dirty {
		n += len(d)
	}
	return n
}
