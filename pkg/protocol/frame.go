package protocol

import (
	"io"
)

// Packet constants.
const (
	// PacketHeaderSize is the size of the packet header in bytes.
	PacketHeaderSize = 11

	// DefaultMaxPacketSize keeps packets below common path MTUs.
	DefaultMaxPacketSize = 1200
)

// PacketID numbers packets per direction. It wraps around.
type PacketID uint16

// Diff returns the wrapping distance p - o.
func (p PacketID) Diff(o PacketID) int {
	return int(seqDiff(uint16(p), uint16(o)))
}

// PacketType identifies the type of packet.
type PacketType uint8

const (
	PacketData      PacketType = 0x01 // Channel messages (may be empty, acks only)
	PacketKeepAlive PacketType = 0x02 // Ack information only

	// packetAcksValid is or-ed into the type byte when the ack fields carry
	// information.
	packetAcksValid byte = 0x80
)

// String returns the string representation of the packet type.
func (pt PacketType) String() string {
	switch pt {
	case PacketData:
		return "Data"
	case PacketKeepAlive:
		return "KeepAlive"
	default:
		return "Unknown"
	}
}

// PacketHeader precedes the channel blocks of every packet.
//
// Wire format (11 bytes):
//
//	┌──────┬───────────┬──────────┬───────────┬───────────────────┐
//	│ Type │ Packet ID │ Tick     │ Last Ack  │ Ack Bitfield      │
//	│ (1)  │ (2, BE)   │ (2, BE)  │ (2, BE)   │ (4, BE)           │
//	└──────┴───────────┴──────────┴───────────┴───────────────────┘
type PacketHeader struct {
	Type     PacketType
	PacketID PacketID
	Tick     Tick
	Acks     AckHeader
}

// EncodeTo encodes the header using the provided encoder.
func (h *PacketHeader) EncodeTo(e *Encoder) {
	t := byte(h.Type)
	if h.Acks.Valid {
		t |= packetAcksValid
	}
	e.WriteByte(t)
	e.WriteUint16(uint16(h.PacketID))
	e.WriteTick(h.Tick)
	h.Acks.EncodeTo(e)
}

// DecodePacketHeader decodes a header from the start of d.
func DecodePacketHeader(d *Decoder) (*PacketHeader, error) {
	if d.Remaining() < PacketHeaderSize {
		return nil, io.ErrUnexpectedEOF
	}
	t, _ := d.ReadByte()
	pt := PacketType(t &^ packetAcksValid)
	if pt != PacketData && pt != PacketKeepAlive {
		return nil, ErrInvalidPacketType
	}
	id, _ := d.ReadUint16()
	tick, _ := d.ReadTick()
	acks, err := DecodeAckHeader(d)
	if err != nil {
		return nil, err
	}
	acks.Valid = t&packetAcksValid != 0
	return &PacketHeader{
		Type:     pt,
		PacketID: PacketID(id),
		Tick:     tick,
		Acks:     *acks,
	}, nil
}
