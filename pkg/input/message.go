package input

import "github.com/vango-dev/netsync/pkg/protocol"

// UpdateFromMessage stores every present input of msg at its tick. Absent
// (nil) entries leave the buffer untouched. It returns the number of inputs
// buffered.
func UpdateFromMessage(b *Buffer[protocol.Input], msg *protocol.InputMessage) int {
	n := 0
	for i, in := range msg.Inputs {
		if in == nil {
			continue
		}
		if b.Set(msg.TickOf(i), in) {
			n++
		}
	}
	return n
}
