package main

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/netsync/internal/game"
	"github.com/vango-dev/netsync/pkg/ping"
	"github.com/vango-dev/netsync/pkg/protocol"
	"github.com/vango-dev/netsync/pkg/transport"
)

const writeTimeout = 5 * time.Second

type benchCounters struct {
	inputsSent         atomic.Uint64
	packetsSent        atomic.Uint64
	packetsReceived    atomic.Uint64
	bytesSent          atomic.Uint64
	bytesReceived      atomic.Uint64
	replicationActions atomic.Uint64
	replicationUpdates atomic.Uint64
	messages           atomic.Uint64
	pongs              atomic.Uint64
}

type benchErrors struct {
	handshakeFailures      atomic.Uint64
	writeFailures          atomic.Uint64
	packetDecodeFailures   atomic.Uint64
	envelopeDecodeFailures atomic.Uint64
	totalErrors            atomic.Uint64
}

// benchClient is one simulated player. It speaks the same channel layout as
// the server and moves randomly at the configured input rate.
type benchClient struct {
	id       int
	interval time.Duration

	registry *protocol.Registry
	tr       *transport.Manager
	ping     *ping.Manager
	rng      *rand.Rand

	start    time.Time
	lastSeen time.Duration
	lastTick protocol.Tick

	counters *benchCounters
	errs     *benchErrors
	samples  chan<- time.Duration
}

func newBenchClient(id int, cfg benchConfig, counters *benchCounters, errs *benchErrors, samples chan<- time.Duration) (*benchClient, error) {
	reg, err := game.NewRegistry()
	if err != nil {
		return nil, err
	}
	channels, _, err := game.NewChannels()
	if err != nil {
		return nil, err
	}
	return &benchClient{
		id:       id,
		interval: time.Duration(float64(time.Second) / cfg.InputHz),
		registry: reg,
		tr:       transport.NewManager(channels, transport.DefaultConfig()),
		ping:     ping.New(ping.DefaultConfig()),
		rng:      rand.New(rand.NewPCG(uint64(id), 0x6e657473796e63)),
		counters: counters,
		errs:     errs,
		samples:  samples,
	}, nil
}

// run connects to wsURL and plays until ctx is done.
func (c *benchClient) run(ctx context.Context, wsURL string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		c.errs.handshakeFailures.Add(1)
		return err
	}
	defer conn.Close()

	packets := make(chan []byte, 256)
	go func() {
		defer close(packets)
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind != websocket.BinaryMessage {
				continue
			}
			select {
			case packets <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	c.start = time.Now()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return nil
		case data, ok := <-packets:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("server closed the connection")
			}
			c.recv(data)
		case <-ticker.C:
			if err := c.step(conn); err != nil {
				c.errs.writeFailures.Add(1)
				return err
			}
		}
	}
}

func (c *benchClient) now() time.Duration {
	return time.Since(c.start)
}

func (c *benchClient) recv(data []byte) {
	c.counters.packetsReceived.Add(1)
	c.counters.bytesReceived.Add(uint64(len(data)))
	tick, err := c.tr.RecvPacket(data)
	if err != nil {
		c.errs.packetDecodeFailures.Add(1)
		c.errs.totalErrors.Add(1)
		return
	}
	if tick.After(c.lastTick) {
		c.lastTick = tick
	}
}

// step reads what arrived, then sends one input plus any due ping and pongs.
func (c *benchClient) step(conn *websocket.Conn) error {
	now := c.now()
	delta := now - c.lastSeen
	c.lastSeen = now
	c.tr.Update(delta)
	c.ping.Update(delta)

	c.handleMessages(now)
	c.tr.SetRTT(c.ping.RTT())

	in := &protocol.InputMessage{
		EndTick: c.lastTick.Add(1),
		Inputs:  []protocol.Input{&game.Move{DX: int8(c.rng.IntN(3) - 1), DY: int8(c.rng.IntN(3) - 1)}},
	}
	env := protocol.NewMessageEnvelope(protocol.EncodeMessage(in), protocol.ToNone())
	if _, _, err := c.tr.BufferSend(protocol.EncodeEnvelope(env), transport.InputChannel); err != nil {
		return err
	}
	c.counters.inputsSent.Add(1)

	if p, ok := c.ping.MaybePreparePing(now); ok {
		if _, _, err := c.tr.BufferSend(protocol.EncodeEnvelope(protocol.NewPingEnvelope(p)), transport.PingChannel); err != nil {
			return err
		}
	}
	for _, pong := range c.ping.TakePendingPongs() {
		pong.PongSentTime = now
		if _, _, err := c.tr.BufferSend(protocol.EncodeEnvelope(protocol.NewPongEnvelope(pong)), transport.PingChannel); err != nil {
			return err
		}
	}

	for _, p := range c.tr.SendPackets(c.lastTick) {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
			return err
		}
		c.counters.packetsSent.Add(1)
		c.counters.bytesSent.Add(uint64(len(p)))
	}
	return nil
}

func (c *benchClient) handleMessages(now time.Duration) {
	for _, cm := range c.tr.ReadMessages() {
		for _, m := range cm.Messages {
			env, err := c.registry.DecodeEnvelope(m.Data)
			if err != nil {
				c.errs.envelopeDecodeFailures.Add(1)
				c.errs.totalErrors.Add(1)
				continue
			}
			switch env.Kind {
			case protocol.EnvelopeSync:
				c.handleSync(env.Sync, now)
			case protocol.EnvelopeReplication:
				if env.Replication.Data.IsUpdates() {
					c.counters.replicationUpdates.Add(1)
				} else {
					c.counters.replicationActions.Add(1)
				}
			case protocol.EnvelopeMessage:
				c.counters.messages.Add(1)
			}
		}
	}
}

func (c *benchClient) handleSync(msg *protocol.SyncMessage, now time.Duration) {
	switch {
	case msg.Ping != nil:
		c.ping.BufferPendingPong(*msg.Ping, now)
	case msg.Pong != nil:
		if !c.ping.ProcessPong(*msg.Pong, now) {
			return
		}
		c.counters.pongs.Add(1)
		if s := c.ping.Samples(); len(s) > 0 {
			c.samples <- s[len(s)-1].RTT
		}
	}
}
