// Package ping estimates round-trip time and clock offset to a remote peer
// from ping/pong exchanges.
//
// With t1 the ping send time, t2 the remote receive time, t3 the pong send
// time and t4 the local receive time:
//
//	rtt    = (t4 - t1) - (t3 - t2)
//	offset = ((t2 - t1) + (t3 - t4)) / 2
//
// t1 and t3 are stamped when the packet is flushed, not when the ping or
// pong is prepared; stamping earlier would count queueing delay as latency.
package ping

import (
	"math"
	"time"

	"github.com/vango-dev/netsync/pkg/protocol"
)

// Config controls the ping cadence and the statistics window.
type Config struct {
	// PingInterval is the minimum time between two pings.
	// Default: 100ms
	PingInterval time.Duration

	// StatsWindow is how long samples count towards RTT, jitter and offset.
	// Default: 2s
	StatsWindow time.Duration

	// MaxPending is how many unanswered pings are remembered. Pongs for
	// older pings are ignored.
	// Default: 32
	MaxPending int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PingInterval: 100 * time.Millisecond,
		StatsWindow:  2 * time.Second,
		MaxPending:   32,
	}
}

// Sample is one completed ping/pong exchange.
type Sample struct {
	ReceivedAt time.Duration
	RTT        time.Duration
	Offset     time.Duration
}

// Manager drives pings for one connection. It is not safe for concurrent use.
type Manager struct {
	cfg Config

	sinceLastPing time.Duration
	nextID        protocol.PingID
	sent          *pingStore

	pendingPongs []protocol.Pong

	samples []Sample
	rtt     time.Duration
	jitter  time.Duration
	offset  time.Duration
}

// New creates a Manager. Zero fields of cfg take their defaults. The first
// ping is due immediately.
func New(cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.StatsWindow <= 0 {
		cfg.StatsWindow = def.StatsWindow
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = def.MaxPending
	}
	return &Manager{
		cfg:           cfg,
		sinceLastPing: cfg.PingInterval,
		sent:          newPingStore(cfg.MaxPending),
	}
}

// Update advances the ping timer.
func (m *Manager) Update(delta time.Duration) {
	m.sinceLastPing += delta
}

// MaybePreparePing returns a ping stamped with now if one is due. now must
// be the flush time of the packet the ping goes into.
func (m *Manager) MaybePreparePing(now time.Duration) (protocol.Ping, bool) {
	if m.sinceLastPing < m.cfg.PingInterval {
		return protocol.Ping{}, false
	}
	m.sinceLastPing = 0
	id := m.nextID
	m.nextID++
	m.sent.add(id, now)
	return protocol.Ping{ID: id, SendTime: now}, true
}

// BufferPendingPong queues the answer to a received ping. Its send time is
// left for the flush to fill in.
func (m *Manager) BufferPendingPong(ping protocol.Ping, now time.Duration) {
	m.pendingPongs = append(m.pendingPongs, protocol.Pong{
		PingID:           ping.ID,
		PingReceivedTime: now,
	})
}

// TakePendingPongs returns and clears the queued pongs.
func (m *Manager) TakePendingPongs() []protocol.Pong {
	pongs := m.pendingPongs
	m.pendingPongs = nil
	return pongs
}

// PendingPings returns the number of pings awaiting a pong.
func (m *Manager) PendingPings() int {
	return m.sent.len()
}

// ProcessPong records the exchange completed by pong. It reports false when
// the pong does not match a remembered ping.
func (m *Manager) ProcessPong(pong protocol.Pong, now time.Duration) bool {
	t1, ok := m.sent.take(pong.PingID)
	if !ok {
		return false
	}
	t2, t3, t4 := pong.PingReceivedTime, pong.PongSentTime, now

	rtt := (t4 - t1) - (t3 - t2)
	if rtt < 0 {
		rtt = 0
	}
	offset := ((t2 - t1) + (t3 - t4)) / 2

	m.samples = append(m.samples, Sample{ReceivedAt: now, RTT: rtt, Offset: offset})
	m.prune(now)
	m.computeStats()
	return true
}

func (m *Manager) prune(now time.Duration) {
	cutoff := now - m.cfg.StatsWindow
	i := 0
	for i < len(m.samples)-1 && m.samples[i].ReceivedAt < cutoff {
		i++
	}
	if i > 0 {
		m.samples = append(m.samples[:0], m.samples[i:]...)
	}
}

func (m *Manager) computeStats() {
	n := len(m.samples)
	if n == 0 {
		return
	}
	var rttSum, offsetSum float64
	for _, s := range m.samples {
		rttSum += float64(s.RTT)
		offsetSum += float64(s.Offset)
	}
	mean := rttSum / float64(n)
	var variance float64
	for _, s := range m.samples {
		d := float64(s.RTT) - mean
		variance += d * d
	}
	variance /= float64(n)

	m.rtt = time.Duration(mean)
	m.jitter = time.Duration(math.Sqrt(variance))
	m.offset = time.Duration(offsetSum / float64(n))
}

// RTT returns the mean round-trip time over the stats window.
func (m *Manager) RTT() time.Duration { return m.rtt }

// Jitter returns the standard deviation of the RTT over the stats window.
func (m *Manager) Jitter() time.Duration { return m.jitter }

// Offset returns the mean clock offset of the remote peer.
func (m *Manager) Offset() time.Duration { return m.offset }

// Samples returns the samples currently inside the stats window.
func (m *Manager) Samples() []Sample {
	out := make([]Sample, len(m.samples))
	copy(out, m.samples)
	return out
}
