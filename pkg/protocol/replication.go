package protocol

import (
	"slices"
)

// SpawnAction is the structural change an actions message applies to an
// entity before its component changes.
type SpawnAction uint8

const (
	SpawnNone    SpawnAction = 0x00 // Entity already exists
	SpawnSpawn   SpawnAction = 0x01 // Create the entity
	SpawnDespawn SpawnAction = 0x02 // Destroy the entity
)

// String returns the string representation of the spawn action.
func (a SpawnAction) String() string {
	switch a {
	case SpawnNone:
		return "None"
	case SpawnSpawn:
		return "Spawn"
	case SpawnDespawn:
		return "Despawn"
	default:
		return "Unknown"
	}
}

// EntityActions lists the changes for one entity inside an actions message.
type EntityActions struct {
	Spawn   SpawnAction
	Insert  []Component
	Remove  []ComponentKind
	Updates []Component
}

// IsEmpty reports whether the actions carry no change at all.
func (a *EntityActions) IsEmpty() bool {
	return a.Spawn == SpawnNone && len(a.Insert) == 0 && len(a.Remove) == 0 && len(a.Updates) == 0
}

// EntityActionsMessage carries structural changes for one replication group.
// SequenceID orders actions messages within the group. Tick is the sender's
// tick when the actions were finalized; a resend keeps the original tick.
type EntityActionsMessage struct {
	SequenceID MessageID
	Tick       Tick
	Actions    map[Entity]*EntityActions
}

// EntityUpdatesMessage carries component values for one replication group.
// It may only be applied once the actions message sent at LastActionTick has
// been applied. HasLastAction is false when the group never sent actions.
type EntityUpdatesMessage struct {
	LastActionTick Tick
	HasLastAction  bool
	Updates        map[Entity][]Component
}

// ReplicationData is either Actions or Updates; exactly one is set.
type ReplicationData struct {
	Actions *EntityActionsMessage
	Updates *EntityUpdatesMessage
}

// IsUpdates reports whether d carries value diffs. Only updates are tracked
// for acknowledgment.
func (d ReplicationData) IsUpdates() bool {
	return d.Updates != nil
}

// ReplicationMessage is the payload of a replication envelope.
type ReplicationMessage struct {
	Group GroupID
	Data  ReplicationData
}

const (
	replicationActions byte = 0x01
	replicationUpdates byte = 0x02
)

func sortedEntities[V any](m map[Entity]V) []Entity {
	keys := make([]Entity, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func encodeComponents(e *Encoder, cs []Component) {
	e.WriteUvarint(uint64(len(cs)))
	for _, c := range cs {
		encodeComponent(e, c)
	}
}

func (r *Registry) decodeComponents(d *Decoder) ([]Component, error) {
	count, err := d.ReadCollectionCount()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	cs := make([]Component, count)
	for i := range cs {
		if cs[i], err = r.decodeComponent(d); err != nil {
			return nil, err
		}
	}
	return cs, nil
}

func encodeReplication(e *Encoder, m *ReplicationMessage) {
	e.WriteUvarint(uint64(m.Group))
	switch {
	case m.Data.Actions != nil:
		a := m.Data.Actions
		e.WriteByte(replicationActions)
		e.WriteMessageID(a.SequenceID)
		e.WriteTick(a.Tick)
		e.WriteUvarint(uint64(len(a.Actions)))
		for _, ent := range sortedEntities(a.Actions) {
			act := a.Actions[ent]
			e.WriteEntity(ent)
			e.WriteByte(byte(act.Spawn))
			encodeComponents(e, act.Insert)
			e.WriteUvarint(uint64(len(act.Remove)))
			for _, k := range act.Remove {
				e.WriteUvarint(uint64(k))
			}
			encodeComponents(e, act.Updates)
		}
	default:
		u := m.Data.Updates
		if u == nil {
			u = &EntityUpdatesMessage{}
		}
		e.WriteByte(replicationUpdates)
		e.WriteBool(u.HasLastAction)
		e.WriteTick(u.LastActionTick)
		e.WriteUvarint(uint64(len(u.Updates)))
		for _, ent := range sortedEntities(u.Updates) {
			e.WriteEntity(ent)
			encodeComponents(e, u.Updates[ent])
		}
	}
}

func (r *Registry) decodeReplication(d *Decoder) (*ReplicationMessage, error) {
	group, err := d.ReadUvarint()
	if err != nil {
		return nil, err
	}
	msg := &ReplicationMessage{Group: GroupID(group)}
	tag, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case replicationActions:
		seq, err := d.ReadMessageID()
		if err != nil {
			return nil, err
		}
		tick, err := d.ReadTick()
		if err != nil {
			return nil, err
		}
		count, err := d.ReadCollectionCount()
		if err != nil {
			return nil, err
		}
		am := &EntityActionsMessage{SequenceID: seq, Tick: tick, Actions: make(map[Entity]*EntityActions, count)}
		for i := 0; i < count; i++ {
			ent, err := d.ReadEntity()
			if err != nil {
				return nil, err
			}
			spawn, err := d.ReadByte()
			if err != nil {
				return nil, err
			}
			act := &EntityActions{Spawn: SpawnAction(spawn)}
			if act.Insert, err = r.decodeComponents(d); err != nil {
				return nil, err
			}
			removes, err := d.ReadCollectionCount()
			if err != nil {
				return nil, err
			}
			for j := 0; j < removes; j++ {
				k, err := d.ReadUvarint()
				if err != nil {
					return nil, err
				}
				act.Remove = append(act.Remove, ComponentKind(k))
			}
			if act.Updates, err = r.decodeComponents(d); err != nil {
				return nil, err
			}
			am.Actions[ent] = act
		}
		msg.Data.Actions = am
	case replicationUpdates:
		um := &EntityUpdatesMessage{}
		if um.HasLastAction, err = d.ReadBool(); err != nil {
			return nil, err
		}
		if um.LastActionTick, err = d.ReadTick(); err != nil {
			return nil, err
		}
		count, err := d.ReadCollectionCount()
		if err != nil {
			return nil, err
		}
		um.Updates = make(map[Entity][]Component, count)
		for i := 0; i < count; i++ {
			ent, err := d.ReadEntity()
			if err != nil {
				return nil, err
			}
			if um.Updates[ent], err = r.decodeComponents(d); err != nil {
				return nil, err
			}
		}
		msg.Data.Updates = um
	default:
		return nil, ErrInvalidEnvelope
	}
	return msg, nil
}
