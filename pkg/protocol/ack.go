package protocol

// AckBits is the number of packets acknowledged by the bitfield in addition
// to LastAck.
const AckBits = 32

// AckHeader acknowledges received packets. LastAck is the most recent packet
// id received; bit i of Bitfield acknowledges LastAck-1-i.
type AckHeader struct {
	LastAck  PacketID
	Bitfield uint32
	// Valid is false until the first remote packet arrives. It travels as a
	// flag bit of the packet type byte.
	Valid bool
}

// EncodeTo encodes the ack header using the provided encoder.
func (a *AckHeader) EncodeTo(e *Encoder) {
	e.WriteUint16(uint16(a.LastAck))
	e.WriteUint32(a.Bitfield)
}

// DecodeAckHeader decodes an ack header.
func DecodeAckHeader(d *Decoder) (*AckHeader, error) {
	last, err := d.ReadUint16()
	if err != nil {
		return nil, err
	}
	bits, err := d.ReadUint32()
	if err != nil {
		return nil, err
	}
	return &AckHeader{LastAck: PacketID(last), Bitfield: bits, Valid: true}, nil
}

// Acked returns every packet id the header acknowledges, newest first.
func (a *AckHeader) Acked() []PacketID {
	if !a.Valid {
		return nil
	}
	ids := []PacketID{a.LastAck}
	for i := 0; i < AckBits; i++ {
		if a.Bitfield&(1<<uint(i)) != 0 {
			ids = append(ids, a.LastAck-1-PacketID(i))
		}
	}
	return ids
}

// AckTracker builds AckHeaders from received packet ids.
type AckTracker struct {
	last     PacketID
	bitfield uint32
	valid    bool
}

// Record marks id as received. It reports false for duplicates and for ids
// too old to be represented, which callers should drop.
func (t *AckTracker) Record(id PacketID) bool {
	if !t.valid {
		t.last = id
		t.valid = true
		return true
	}
	diff := id.Diff(t.last)
	switch {
	case diff == 0:
		return false
	case diff > 0:
		if diff > AckBits {
			t.bitfield = 0
		} else {
			t.bitfield = t.bitfield<<uint(diff) | 1<<uint(diff-1)
		}
		t.last = id
		return true
	default:
		back := -diff - 1
		if back >= AckBits {
			return false
		}
		mask := uint32(1) << uint(back)
		if t.bitfield&mask != 0 {
			return false
		}
		t.bitfield |= mask
		return true
	}
}

// Header returns the current ack state.
func (t *AckTracker) Header() AckHeader {
	return AckHeader{LastAck: t.last, Bitfield: t.bitfield, Valid: t.valid}
}
