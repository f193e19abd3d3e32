package server

import (
	"github.com/vango-dev/netsync/pkg/ping"
	"github.com/vango-dev/netsync/pkg/protocol"
	"github.com/vango-dev/netsync/pkg/transport"
)

// Config holds configuration shared by every connection of a Manager.
type Config struct {
	// Transport configures each connection's channel transport.
	Transport transport.Config

	// Ping configures each connection's RTT synchronizer.
	Ping ping.Config

	// ActionsChannel carries replication actions. It must be reliable.
	// Default: transport.EntityActionsChannel.
	ActionsChannel protocol.ChannelKind

	// UpdatesChannel carries replication updates. Its mode must track acks.
	// Default: transport.EntityUpdatesChannel.
	UpdatesChannel protocol.ChannelKind

	// PingChannel carries pings and pongs.
	// Default: transport.PingChannel.
	PingChannel protocol.ChannelKind

	// OnUpdateAck is called when a replication updates message sent to a
	// peer is acknowledged, after its group's updates were pruned.
	OnUpdateAck func(peer protocol.PeerID, group protocol.GroupID, id protocol.MessageID)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Transport:      transport.DefaultConfig(),
		Ping:           ping.DefaultConfig(),
		ActionsChannel: transport.EntityActionsChannel,
		UpdatesChannel: transport.EntityUpdatesChannel,
		PingChannel:    transport.PingChannel,
	}
}
