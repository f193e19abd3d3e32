package protocol

import "time"

// PingID identifies a ping so its pong can be matched. It wraps around.
type PingID uint16

// Ping asks the remote side for a Pong. SendTime is the sender's clock at
// the moment the ping was flushed into a packet.
type Ping struct {
	ID       PingID
	SendTime time.Duration
}

// Pong answers a Ping. PingReceivedTime and PongSentTime are the responder's
// clock; PongSentTime is stamped when the pong is flushed, not when it is
// prepared, so the responder's processing delay can be subtracted out.
type Pong struct {
	PingID           PingID
	PingReceivedTime time.Duration
	PongSentTime     time.Duration
}

// SyncMessage is either a Ping or a Pong; exactly one is set.
type SyncMessage struct {
	Ping *Ping
	Pong *Pong
}

const (
	syncPing byte = 0x01
	syncPong byte = 0x02
)

// String returns "Ping", "Pong" or "Unknown".
func (s SyncMessage) String() string {
	switch {
	case s.Ping != nil:
		return "Ping"
	case s.Pong != nil:
		return "Pong"
	default:
		return "Unknown"
	}
}

func encodeSync(e *Encoder, s *SyncMessage) {
	switch {
	case s.Ping != nil:
		e.WriteByte(syncPing)
		e.WriteUint16(uint16(s.Ping.ID))
		e.WriteDuration(s.Ping.SendTime)
	case s.Pong != nil:
		e.WriteByte(syncPong)
		e.WriteUint16(uint16(s.Pong.PingID))
		e.WriteDuration(s.Pong.PingReceivedTime)
		e.WriteDuration(s.Pong.PongSentTime)
	default:
		e.WriteByte(0)
	}
}

func decodeSync(d *Decoder) (*SyncMessage, error) {
	tag, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case syncPing:
		id, err := d.ReadUint16()
		if err != nil {
			return nil, err
		}
		sent, err := d.ReadDuration()
		if err != nil {
			return nil, err
		}
		return &SyncMessage{Ping: &Ping{ID: PingID(id), SendTime: sent}}, nil
	case syncPong:
		id, err := d.ReadUint16()
		if err != nil {
			return nil, err
		}
		recv, err := d.ReadDuration()
		if err != nil {
			return nil, err
		}
		sent, err := d.ReadDuration()
		if err != nil {
			return nil, err
		}
		return &SyncMessage{Pong: &Pong{PingID: PingID(id), PingReceivedTime: recv, PongSentTime: sent}}, nil
	default:
		return nil, ErrInvalidEnvelope
	}
}
