package replication

import "github.com/vango-dev/netsync/pkg/protocol"

// EntityMap translates between the remote peer's entity ids and local ones.
type EntityMap struct {
	remoteToLocal map[protocol.Entity]protocol.Entity
	localToRemote map[protocol.Entity]protocol.Entity
}

// NewEntityMap creates an empty map.
func NewEntityMap() *EntityMap {
	return &EntityMap{
		remoteToLocal: make(map[protocol.Entity]protocol.Entity),
		localToRemote: make(map[protocol.Entity]protocol.Entity),
	}
}

// Insert records that remote is known locally as local.
func (m *EntityMap) Insert(remote, local protocol.Entity) {
	if old, ok := m.remoteToLocal[remote]; ok {
		delete(m.localToRemote, old)
	}
	m.remoteToLocal[remote] = local
	m.localToRemote[local] = remote
}

// Local returns the local id of remote.
func (m *EntityMap) Local(remote protocol.Entity) (protocol.Entity, bool) {
	e, ok := m.remoteToLocal[remote]
	return e, ok
}

// Remote returns the remote id of local.
func (m *EntityMap) Remote(local protocol.Entity) (protocol.Entity, bool) {
	e, ok := m.localToRemote[local]
	return e, ok
}

// RemoveRemote forgets remote and returns its local id.
func (m *EntityMap) RemoveRemote(remote protocol.Entity) (protocol.Entity, bool) {
	local, ok := m.remoteToLocal[remote]
	if !ok {
		return 0, false
	}
	delete(m.remoteToLocal, remote)
	delete(m.localToRemote, local)
	return local, true
}

// Len returns the number of mapped entities.
func (m *EntityMap) Len() int {
	return len(m.remoteToLocal)
}

// ToLocal returns a mapper from remote ids to local ids.
func (m *EntityMap) ToLocal() protocol.EntityMapper {
	return mapperFunc(m.Local)
}

// ToRemote returns a mapper from local ids to remote ids.
func (m *EntityMap) ToRemote() protocol.EntityMapper {
	return mapperFunc(m.Remote)
}

type mapperFunc func(protocol.Entity) (protocol.Entity, bool)

func (f mapperFunc) MapEntity(e protocol.Entity) (protocol.Entity, bool) {
	return f(e)
}
