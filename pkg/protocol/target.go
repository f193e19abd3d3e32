package protocol

import "slices"

// TargetKind selects which peers a NetworkTarget matches.
type TargetKind uint8

const (
	TargetKindNone      TargetKind = 0x00 // No peer
	TargetKindAll       TargetKind = 0x01 // Every peer
	TargetKindAllExcept TargetKind = 0x02 // Every peer not listed
	TargetKindOnly      TargetKind = 0x03 // Only the listed peers
	TargetKindSingle    TargetKind = 0x04 // Exactly one peer
)

// String returns the string representation of the target kind.
func (k TargetKind) String() string {
	switch k {
	case TargetKindNone:
		return "None"
	case TargetKindAll:
		return "All"
	case TargetKindAllExcept:
		return "AllExcept"
	case TargetKindOnly:
		return "Only"
	case TargetKindSingle:
		return "Single"
	default:
		return "Unknown"
	}
}

// NetworkTarget is a predicate over peers. A message received with a target
// other than None is relayed by the server to the matching peers; None is
// never relayed.
type NetworkTarget struct {
	Kind  TargetKind
	Peers []PeerID
}

// ToNone matches no peer.
func ToNone() NetworkTarget { return NetworkTarget{Kind: TargetKindNone} }

// ToAll matches every peer.
func ToAll() NetworkTarget { return NetworkTarget{Kind: TargetKindAll} }

// ToAllExcept matches every peer except the given ones.
func ToAllExcept(peers ...PeerID) NetworkTarget {
	return NetworkTarget{Kind: TargetKindAllExcept, Peers: peers}
}

// ToOnly matches only the given peers.
func ToOnly(peers ...PeerID) NetworkTarget {
	return NetworkTarget{Kind: TargetKindOnly, Peers: peers}
}

// ToSingle matches exactly one peer.
func ToSingle(peer PeerID) NetworkTarget {
	return NetworkTarget{Kind: TargetKindSingle, Peers: []PeerID{peer}}
}

// IsNone reports whether the target matches no peer by construction.
func (t NetworkTarget) IsNone() bool {
	return t.Kind == TargetKindNone
}

// ShouldSendTo reports whether peer matches the target.
func (t NetworkTarget) ShouldSendTo(peer PeerID) bool {
	switch t.Kind {
	case TargetKindAll:
		return true
	case TargetKindAllExcept:
		return !slices.Contains(t.Peers, peer)
	case TargetKindOnly, TargetKindSingle:
		return slices.Contains(t.Peers, peer)
	default:
		return false
	}
}

// Equal reports whether two targets match the same peers in the same way.
func (t NetworkTarget) Equal(o NetworkTarget) bool {
	return t.Kind == o.Kind && slices.Equal(t.Peers, o.Peers)
}

func encodeTarget(e *Encoder, t NetworkTarget) {
	e.WriteByte(byte(t.Kind))
	switch t.Kind {
	case TargetKindAllExcept, TargetKindOnly:
		e.WriteUvarint(uint64(len(t.Peers)))
		for _, p := range t.Peers {
			e.WritePeerID(p)
		}
	case TargetKindSingle:
		var p PeerID
		if len(t.Peers) > 0 {
			p = t.Peers[0]
		}
		e.WritePeerID(p)
	}
}

func decodeTarget(d *Decoder) (NetworkTarget, error) {
	b, err := d.ReadByte()
	if err != nil {
		return NetworkTarget{}, err
	}
	t := NetworkTarget{Kind: TargetKind(b)}
	switch t.Kind {
	case TargetKindNone, TargetKindAll:
	case TargetKindAllExcept, TargetKindOnly:
		count, err := d.ReadCollectionCount()
		if err != nil {
			return NetworkTarget{}, err
		}
		t.Peers = make([]PeerID, count)
		for i := range t.Peers {
			if t.Peers[i], err = d.ReadPeerID(); err != nil {
				return NetworkTarget{}, err
			}
		}
	case TargetKindSingle:
		p, err := d.ReadPeerID()
		if err != nil {
			return NetworkTarget{}, err
		}
		t.Peers = []PeerID{p}
	default:
		return NetworkTarget{}, ErrInvalidTarget
	}
	return t, nil
}
