package protocol

import (
	"fmt"
	"sync"
)

// Message is an application message. Messages are treated as immutable once
// buffered: a broadcast shares one encoded copy between every recipient.
type Message interface {
	MessageKind() MessageKind
	Encode(e *Encoder)
}

// Input is one tick worth of player input.
type Input interface {
	Encode(e *Encoder)
}

// Component is a replicated piece of entity state.
type Component interface {
	ComponentKind() ComponentKind
	Encode(e *Encoder)
}

// EntityMapper translates an entity from one world into another.
// ok is false when the entity has no mapping; callers keep the original.
type EntityMapper interface {
	MapEntity(e Entity) (mapped Entity, ok bool)
}

// EntityMapping is implemented by messages and components that embed entity
// references.
type EntityMapping interface {
	MapEntities(m EntityMapper)
}

// MapEntities remaps v's entity references when v carries any.
func MapEntities(v any, m EntityMapper) {
	if em, ok := v.(EntityMapping); ok && m != nil {
		em.MapEntities(m)
	}
}

// InputKind classifies how a received message relates to player input.
type InputKind uint8

const (
	// InputKindNone marks a regular application message.
	InputKindNone InputKind = iota
	// InputKindNative marks the built-in InputMessage, which feeds the
	// per-tick input buffer.
	InputKindNative
	// InputKindAction marks action-state inputs handled by an input
	// framework; they are surfaced as events instead of being buffered.
	InputKindAction
)

// String returns the string representation of the input kind.
func (k InputKind) String() string {
	switch k {
	case InputKindNone:
		return "None"
	case InputKindNative:
		return "Native"
	case InputKindAction:
		return "Action"
	default:
		return "Unknown"
	}
}

// MessageKindInput is reserved for InputMessage.
const MessageKindInput MessageKind = 0

type messageEntry struct {
	name      string
	inputKind InputKind
	decode    func(d *Decoder) (Message, error)
}

type componentEntry struct {
	name   string
	decode func(d *Decoder) (Component, error)
}

// Registry binds message, input and component kinds to their decoders.
// Both ends of a connection must register the same kinds.
// It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	messages    map[MessageKind]messageEntry
	components  map[ComponentKind]componentEntry
	decodeInput func(d *Decoder) (Input, error)
}

// NewRegistry creates a registry with InputMessage pre-registered.
func NewRegistry() *Registry {
	r := &Registry{
		messages:   make(map[MessageKind]messageEntry),
		components: make(map[ComponentKind]componentEntry),
	}
	r.messages[MessageKindInput] = messageEntry{
		name:      "InputMessage",
		inputKind: InputKindNative,
		decode:    r.decodeInputMessage,
	}
	return r
}

// RegisterMessage registers a regular application message.
func (r *Registry) RegisterMessage(kind MessageKind, name string, decode func(d *Decoder) (Message, error)) error {
	return r.registerMessage(kind, name, InputKindNone, decode)
}

// RegisterActionInput registers a message that carries framework-managed
// input. Such messages are delivered as input events.
func (r *Registry) RegisterActionInput(kind MessageKind, name string, decode func(d *Decoder) (Message, error)) error {
	return r.registerMessage(kind, name, InputKindAction, decode)
}

func (r *Registry) registerMessage(kind MessageKind, name string, ik InputKind, decode func(d *Decoder) (Message, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.messages[kind]; ok {
		return fmt.Errorf("%w: message %d (%s)", ErrDuplicateKind, kind, name)
	}
	r.messages[kind] = messageEntry{name: name, inputKind: ik, decode: decode}
	return nil
}

// RegisterInput sets the decoder for the native input type.
func (r *Registry) RegisterInput(decode func(d *Decoder) (Input, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decodeInput = decode
}

// RegisterComponent registers a replicated component type.
func (r *Registry) RegisterComponent(kind ComponentKind, name string, decode func(d *Decoder) (Component, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.components[kind]; ok {
		return fmt.Errorf("%w: component %d (%s)", ErrDuplicateKind, kind, name)
	}
	r.components[kind] = componentEntry{name: name, decode: decode}
	return nil
}

// MessageName returns the registered name of kind, or "unknown".
func (r *Registry) MessageName(kind MessageKind) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.messages[kind]; ok {
		return entry.name
	}
	return "unknown"
}

// ComponentName returns the registered name of kind, or "unknown".
func (r *Registry) ComponentName(kind ComponentKind) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.components[kind]; ok {
		return entry.name
	}
	return "unknown"
}

// InputKindOf classifies a message.
func (r *Registry) InputKindOf(m Message) InputKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.messages[m.MessageKind()].inputKind
}

// EncodeMessage encodes m with its kind prefix.
func EncodeMessage(m Message) []byte {
	e := NewEncoder()
	e.WriteUvarint(uint64(m.MessageKind()))
	m.Encode(e)
	return e.Bytes()
}

// DecodeMessage decodes a message produced by EncodeMessage.
func (r *Registry) DecodeMessage(data []byte) (Message, error) {
	d := NewDecoder(data)
	kind, err := d.ReadUvarint()
	if err != nil {
		return nil, decodeErr("message kind", err)
	}
	r.mu.RLock()
	entry, ok := r.messages[MessageKind(kind)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageKind, kind)
	}
	m, err := entry.decode(d)
	if err != nil {
		return nil, decodeErr(entry.name, err)
	}
	return m, nil
}

// encodeComponent writes the kind followed by the length-prefixed body so
// receivers can report unknown kinds precisely.
func encodeComponent(e *Encoder, c Component) {
	e.WriteUvarint(uint64(c.ComponentKind()))
	body := NewEncoder()
	c.Encode(body)
	e.WriteLenBytes(body.Bytes())
}

func (r *Registry) decodeComponent(d *Decoder) (Component, error) {
	kind, err := d.ReadUvarint()
	if err != nil {
		return nil, err
	}
	body, err := d.ReadLenBytes()
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	entry, ok := r.components[ComponentKind(kind)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownComponentKind, kind)
	}
	c, err := entry.decode(NewDecoder(body))
	if err != nil {
		return nil, decodeErr(entry.name, err)
	}
	return c, nil
}

func (r *Registry) decodeInputMessage(d *Decoder) (Message, error) {
	r.mu.RLock()
	decode := r.decodeInput
	r.mu.RUnlock()
	if decode == nil {
		return nil, ErrNoInputCodec
	}
	endTick, err := d.ReadTick()
	if err != nil {
		return nil, err
	}
	count, err := d.ReadCollectionCount()
	if err != nil {
		return nil, err
	}
	msg := &InputMessage{EndTick: endTick, Inputs: make([]Input, count)}
	for i := 0; i < count; i++ {
		present, err := d.ReadBool()
		if err != nil {
			return nil, err
		}
		if !present {
			continue
		}
		if msg.Inputs[i], err = decode(d); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// InputMessage carries a peer's inputs for a run of consecutive ticks ending
// at EndTick. Inputs[len-1] belongs to EndTick; nil entries mean the peer
// had no input for that tick. Sending several ticks per message makes a
// lost packet recoverable from the next one.
type InputMessage struct {
	EndTick Tick
	Inputs  []Input
}

// MessageKind implements Message.
func (m *InputMessage) MessageKind() MessageKind { return MessageKindInput }

// Encode implements Message.
func (m *InputMessage) Encode(e *Encoder) {
	e.WriteTick(m.EndTick)
	e.WriteUvarint(uint64(len(m.Inputs)))
	for _, in := range m.Inputs {
		if in == nil {
			e.WriteBool(false)
			continue
		}
		e.WriteBool(true)
		in.Encode(e)
	}
}

// TickOf returns the tick the i-th input belongs to.
func (m *InputMessage) TickOf(i int) Tick {
	return m.EndTick.Add(i - (len(m.Inputs) - 1))
}
