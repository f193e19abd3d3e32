package protocol

import "testing"

func FuzzDecodeEnvelope(f *testing.F) {
	f.Add(EncodeEnvelope(NewMessageEnvelope([]byte{1, 2}, ToOnly(1, 2))))
	f.Add(EncodeEnvelope(NewPingEnvelope(Ping{ID: 1})))
	f.Add(EncodeEnvelope(NewReplicationEnvelope(1, ReplicationData{Actions: &EntityActionsMessage{
		Actions: map[Entity]*EntityActions{1: {Spawn: SpawnSpawn, Insert: []Component{&posComponent{X: 1}}}},
	}})))
	f.Add([]byte{})

	r := NewRegistry()
	r.RegisterComponent(kindPos, "pos", func(d *Decoder) (Component, error) {
		x, err := d.ReadSvarint()
		return &posComponent{X: x}, err
	})
	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = r.DecodeEnvelope(data)
	})
}

func FuzzDecodePacketHeader(f *testing.F) {
	h := PacketHeader{Type: PacketData, PacketID: 3, Acks: AckHeader{Valid: true}}
	e := NewEncoder()
	h.EncodeTo(e)
	f.Add(e.Bytes())

	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = DecodePacketHeader(NewDecoder(data))
	})
}
