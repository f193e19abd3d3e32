package transport

import (
	"github.com/vango-dev/netsync/pkg/protocol"
)

// Received is a message read from a channel, with the tick of the packet
// that carried it.
type Received struct {
	Tick protocol.Tick
	Data []byte
}

type receiver interface {
	receive(id protocol.MessageID, tick protocol.Tick, data []byte)
	read() []Received
}

func newReceiver(mode Mode) receiver {
	switch mode {
	case SequencedUnreliable, SequencedReliable:
		return &sequencedReceiver{}
	case UnorderedReliable:
		return &unorderedReliableReceiver{ahead: make(map[protocol.MessageID]struct{})}
	case OrderedReliable:
		return &orderedReceiver{waiting: make(map[protocol.MessageID]Received)}
	default:
		return &unorderedReceiver{}
	}
}

// unorderedReceiver delivers everything it gets.
type unorderedReceiver struct {
	ready []Received
}

func (r *unorderedReceiver) receive(_ protocol.MessageID, tick protocol.Tick, data []byte) {
	r.ready = append(r.ready, Received{Tick: tick, Data: data})
}

func (r *unorderedReceiver) read() []Received {
	out := r.ready
	r.ready = nil
	return out
}

// sequencedReceiver drops anything not newer than the newest delivered id.
type sequencedReceiver struct {
	latest  protocol.MessageID
	started bool
	ready   []Received
}

func (r *sequencedReceiver) receive(id protocol.MessageID, tick protocol.Tick, data []byte) {
	if r.started && !r.latest.Before(id) {
		return
	}
	r.latest = id
	r.started = true
	r.ready = append(r.ready, Received{Tick: tick, Data: data})
}

func (r *sequencedReceiver) read() []Received {
	out := r.ready
	r.ready = nil
	return out
}

// unorderedReliableReceiver delivers each id once, in arrival order.
type unorderedReliableReceiver struct {
	next  protocol.MessageID // lowest id not yet received
	ahead map[protocol.MessageID]struct{}
	ready []Received
}

func (r *unorderedReliableReceiver) receive(id protocol.MessageID, tick protocol.Tick, data []byte) {
	if id.Before(r.next) {
		return
	}
	if _, dup := r.ahead[id]; dup {
		return
	}
	r.ready = append(r.ready, Received{Tick: tick, Data: data})
	if id != r.next {
		r.ahead[id] = struct{}{}
		return
	}
	r.next = r.next.Next()
	for {
		if _, ok := r.ahead[r.next]; !ok {
			break
		}
		delete(r.ahead, r.next)
		r.next = r.next.Next()
	}
}

func (r *unorderedReliableReceiver) read() []Received {
	out := r.ready
	r.ready = nil
	return out
}

// orderedReceiver holds messages until every earlier id has arrived.
type orderedReceiver struct {
	next    protocol.MessageID
	waiting map[protocol.MessageID]Received
}

func (r *orderedReceiver) receive(id protocol.MessageID, tick protocol.Tick, data []byte) {
	if id.Before(r.next) {
		return
	}
	if _, dup := r.waiting[id]; dup {
		return
	}
	r.waiting[id] = Received{Tick: tick, Data: data}
}

func (r *orderedReceiver) read() []Received {
	var out []Received
	for {
		m, ok := r.waiting[r.next]
		if !ok {
			return out
		}
		delete(r.waiting, r.next)
		out = append(out, m)
		r.next = r.next.Next()
	}
}
