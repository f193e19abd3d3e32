// Package protocol implements the netsync wire contract.
//
// It defines the identifiers shared by both ends of a connection (peers,
// ticks, channels, message ids, replication groups), the binary codec used
// to encode them, and the three envelope kinds that travel inside transport
// packets.
//
// # Envelopes
//
// Every message a channel carries is an Envelope tagged with its kind so the
// receiver can dispatch it without external metadata:
//
//   - Message: an application payload plus the NetworkTarget it should be
//     relayed to (TargetNone means "for the server only").
//   - Replication: a GroupID plus either an Actions message (spawn, despawn,
//     component insert/remove) or an Updates message (component values).
//   - Sync: a Ping or a Pong used for round-trip time estimation.
//
// # Packets
//
// Envelopes are batched per channel into packets. Every packet starts with a
// fixed 11 byte header:
//
//	┌──────┬───────────┬──────────┬───────────┬───────────────────┐
//	│ Type │ Packet ID │ Tick     │ Last Ack  │ Ack Bitfield      │
//	│ (1)  │ (2, BE)   │ (2, BE)  │ (2, BE)   │ (4, BE)           │
//	└──────┴───────────┴──────────┴───────────┴───────────────────┘
//
// The ack fields acknowledge the 33 most recent packets received from the
// remote side, which is how reliable channels learn that a message arrived.
//
// # Encoding
//
//   - Varint: protobuf-style unsigned integers
//   - ZigZag: signed integers as unsigned varints
//   - Length-prefixed: strings and byte slices
//   - Big-endian: fixed width integers (ticks, message ids)
//
// User payloads (messages, inputs, components) encode themselves through the
// Encoder and are decoded through a Registry.
package protocol
