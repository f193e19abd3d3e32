// Package server holds the per-peer connection state of a netcode server
// and the Manager that drives every connection once per simulation tick.
//
// A Connection owns one peer's channel transport, ping synchronizer, input
// buffer and replication sender and receiver. The Manager fans messages out
// to the peers matching a protocol.NetworkTarget, aggregates per-tick
// inputs, and relays received messages whose target is not None.
//
// # Tick Order
//
// The host calls the Manager from a single goroutine:
//
//	mgr.Update(delta)
//	mgr.BufferReplicationMessages(ctx, tick)
//	events, err := mgr.Receive(ctx, world, now)
//	inputs := mgr.PopInputs(tick)
//	payloads, err := mgr.SendPackets(now, tick)
//
// Packets arriving from the network are fed with RecvPacket on the same
// goroutine before Receive.
//
// # Errors
//
// Lookups of unknown peers fail with ErrPeerNotFound. Transport failures are
// reported as *TransportError and abort the current fan-out. A missing
// MessageID on the updates channel is an ErrInvariantViolation and should
// stop the host.
package server
