package protocol

// EnvelopeKind tags the content of an Envelope.
type EnvelopeKind uint8

const (
	EnvelopeMessage     EnvelopeKind = 0x01 // Application message
	EnvelopeReplication EnvelopeKind = 0x02 // Replication actions or updates
	EnvelopeSync        EnvelopeKind = 0x03 // Ping or pong
)

// String returns the string representation of the envelope kind.
func (k EnvelopeKind) String() string {
	switch k {
	case EnvelopeMessage:
		return "Message"
	case EnvelopeReplication:
		return "Replication"
	case EnvelopeSync:
		return "Sync"
	default:
		return "Unknown"
	}
}

// Envelope is the unit a channel carries.
//
// For EnvelopeMessage, Payload holds the message as produced by
// EncodeMessage. The payload is shared read-only between every recipient of
// a broadcast; Target is per-envelope.
type Envelope struct {
	Kind        EnvelopeKind
	Payload     []byte
	Target      NetworkTarget
	Replication *ReplicationMessage
	Sync        *SyncMessage
}

// NewMessageEnvelope wraps an encoded message.
func NewMessageEnvelope(payload []byte, target NetworkTarget) *Envelope {
	return &Envelope{Kind: EnvelopeMessage, Payload: payload, Target: target}
}

// NewReplicationEnvelope wraps replication data for a group.
func NewReplicationEnvelope(group GroupID, data ReplicationData) *Envelope {
	return &Envelope{
		Kind:        EnvelopeReplication,
		Replication: &ReplicationMessage{Group: group, Data: data},
	}
}

// NewPingEnvelope wraps a ping.
func NewPingEnvelope(p Ping) *Envelope {
	return &Envelope{Kind: EnvelopeSync, Sync: &SyncMessage{Ping: &p}}
}

// NewPongEnvelope wraps a pong.
func NewPongEnvelope(p Pong) *Envelope {
	return &Envelope{Kind: EnvelopeSync, Sync: &SyncMessage{Pong: &p}}
}

// EncodeEnvelope encodes env to bytes.
func EncodeEnvelope(env *Envelope) []byte {
	e := NewEncoderWithCap(len(env.Payload) + 16)
	EncodeEnvelopeTo(e, env)
	return e.Bytes()
}

// EncodeEnvelopeTo encodes env using the provided encoder.
func EncodeEnvelopeTo(e *Encoder, env *Envelope) {
	e.WriteByte(byte(env.Kind))
	switch env.Kind {
	case EnvelopeMessage:
		encodeTarget(e, env.Target)
		e.WriteLenBytes(env.Payload)
	case EnvelopeReplication:
		encodeReplication(e, env.Replication)
	case EnvelopeSync:
		encodeSync(e, env.Sync)
	}
}

// DecodeEnvelope decodes an envelope. Component payloads inside replication
// envelopes are decoded through the registry.
func (r *Registry) DecodeEnvelope(data []byte) (*Envelope, error) {
	d := NewDecoder(data)
	kind, err := d.ReadByte()
	if err != nil {
		return nil, decodeErr("envelope kind", err)
	}
	env := &Envelope{Kind: EnvelopeKind(kind)}
	switch env.Kind {
	case EnvelopeMessage:
		if env.Target, err = decodeTarget(d); err != nil {
			return nil, decodeErr("message target", err)
		}
		if env.Payload, err = d.ReadLenBytes(); err != nil {
			return nil, decodeErr("message payload", err)
		}
	case EnvelopeReplication:
		if env.Replication, err = r.decodeReplication(d); err != nil {
			return nil, decodeErr("replication", err)
		}
	case EnvelopeSync:
		if env.Sync, err = decodeSync(d); err != nil {
			return nil, decodeErr("sync", err)
		}
	default:
		return nil, ErrInvalidEnvelope
	}
	return env, nil
}
