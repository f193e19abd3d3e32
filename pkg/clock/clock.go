// Package clock provides the time and tick bookkeeping driven by the host's
// simulation loop. Nothing here reads the wall clock on its own: callers
// advance it explicitly, which keeps every connection operation
// deterministic and testable.
package clock

import (
	"time"

	"github.com/vango-dev/netsync/pkg/protocol"
)

// TimeManager tracks elapsed time and the packet send cadence.
type TimeManager struct {
	current      time.Duration
	delta        time.Duration
	sendInterval time.Duration
	sinceSend    time.Duration
	readyToSend  bool
}

// NewTimeManager creates a TimeManager that is ready to send every
// sendInterval. A zero interval means packets are sent every frame.
func NewTimeManager(sendInterval time.Duration) *TimeManager {
	return &TimeManager{
		sendInterval: sendInterval,
		readyToSend:  true,
	}
}

// Update advances the clock by delta.
func (t *TimeManager) Update(delta time.Duration) {
	t.delta = delta
	t.current += delta
	t.sinceSend += delta
	if t.sinceSend >= t.sendInterval {
		t.readyToSend = true
		if t.sendInterval > 0 {
			t.sinceSend %= t.sendInterval
		} else {
			t.sinceSend = 0
		}
	} else {
		t.readyToSend = false
	}
}

// Current returns the time elapsed since the manager was created.
func (t *TimeManager) Current() time.Duration {
	return t.current
}

// Delta returns the duration of the last Update.
func (t *TimeManager) Delta() time.Duration {
	return t.delta
}

// IsReadyToSend reports whether packets should be flushed this frame.
func (t *TimeManager) IsReadyToSend() bool {
	return t.readyToSend
}

// TickManager tracks the current simulation tick.
type TickManager struct {
	tickDuration time.Duration
	tick         protocol.Tick
	accumulated  time.Duration
}

// NewTickManager creates a TickManager with the given tick duration.
func NewTickManager(tickDuration time.Duration) *TickManager {
	return &TickManager{tickDuration: tickDuration}
}

// Current returns the current tick.
func (t *TickManager) Current() protocol.Tick {
	return t.tick
}

// TickDuration returns the configured tick length.
func (t *TickManager) TickDuration() time.Duration {
	return t.tickDuration
}

// Increment advances the tick by one and returns the new tick.
func (t *TickManager) Increment() protocol.Tick {
	t.tick = t.tick.Add(1)
	return t.tick
}

// Advance accumulates delta and returns how many whole ticks elapsed,
// incrementing the current tick for each of them.
func (t *TickManager) Advance(delta time.Duration) int {
	if t.tickDuration <= 0 {
		return 0
	}
	t.accumulated += delta
	n := 0
	for t.accumulated >= t.tickDuration {
		t.accumulated -= t.tickDuration
		t.Increment()
		n++
	}
	return n
}

// SetTick overrides the current tick.
func (t *TickManager) SetTick(tick protocol.Tick) {
	t.tick = tick
}
