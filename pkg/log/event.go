package log

import (
	"strings"
	"time"

	"github.com/nordicopen/pyeasee/pkg/wire"
)

// Event is one captured record of hub traffic or supervisor activity.
// Fields are encoded as CBOR maps with integer keys.
type Event struct {
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies one hub session (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	Direction Direction `cbor:"3,keyasint"`
	Layer     Layer     `cbor:"4,keyasint"`
	Category  Category  `cbor:"5,keyasint"`

	// RemoteAddr is the hub URL.
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// DeviceID is set for subscribe commands and product updates that
	// concern a single device.
	DeviceID string `cbor:"7,keyasint,omitempty"`

	// Exactly one payload is set, matching Category and Layer.
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	ControlMsg  *ControlMsgEvent  `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Direction is IN for hub-to-client traffic and OUT for client-to-hub.
type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

// ParseDirection converts "in" or "out" (any case) to a Direction.
func ParseDirection(s string) (Direction, bool) {
	for _, d := range []Direction{DirectionIn, DirectionOut} {
		if strings.EqualFold(s, d.String()) {
			return d, true
		}
	}
	return 0, false
}

func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer names the component that produced an event.
type Layer uint8

const (
	// LayerTransport is the websocket layer (raw frames).
	LayerTransport Layer = 0
	// LayerWire is the hub message layer (decoded JSON records).
	LayerWire Layer = 1
	// LayerStream is the supervisor layer.
	LayerStream Layer = 2
)

func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerStream:
		return "STREAM"
	default:
		return "UNKNOWN"
	}
}

// ParseLayer converts a layer name (any case) to a Layer.
func ParseLayer(s string) (Layer, bool) {
	for _, l := range []Layer{LayerTransport, LayerWire, LayerStream} {
		if strings.EqualFold(s, l.String()) {
			return l, true
		}
	}
	return 0, false
}

// Category selects the payload an event carries.
type Category uint8

const (
	CategoryMessage Category = 0 // invocations and completions
	CategoryControl Category = 1 // handshake, ping, close
	CategoryState   Category = 2
	CategoryError   Category = 3
)

func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseCategory converts a category name (any case) to a Category.
func ParseCategory(s string) (Category, bool) {
	for _, c := range []Category{CategoryMessage, CategoryControl, CategoryState, CategoryError} {
		if strings.EqualFold(s, c.String()) {
			return c, true
		}
	}
	return 0, false
}

// FrameEvent captures a raw websocket frame.
// Data holds at most MaxFrameCapture bytes; Size is the full length.
type FrameEvent struct {
	Size      int    `cbor:"1,keyasint"`
	Data      []byte `cbor:"2,keyasint,omitempty"`
	Truncated bool   `cbor:"3,keyasint,omitempty"`
}

// MaxFrameCapture bounds FrameEvent.Data.
const MaxFrameCapture = 4096

// NewFrameEvent captures data, truncating it to MaxFrameCapture bytes.
func NewFrameEvent(data []byte) *FrameEvent {
	fe := &FrameEvent{Size: len(data)}
	if len(data) > MaxFrameCapture {
		fe.Data = append([]byte(nil), data[:MaxFrameCapture]...)
		fe.Truncated = true
	} else {
		fe.Data = append([]byte(nil), data...)
	}
	return fe
}

// MessageEvent captures a decoded hub message.
type MessageEvent struct {
	// Type is the SignalR message type.
	Type wire.MessageType `cbor:"1,keyasint"`

	// InvocationID correlates invocations and completions.
	InvocationID string `cbor:"2,keyasint,omitempty"`

	// Target is the hub method for invocations.
	Target string `cbor:"3,keyasint,omitempty"`

	// Arguments is the number of invocation arguments.
	Arguments int `cbor:"4,keyasint,omitempty"`

	// Events are the product updates carried by a ProductUpdate invocation.
	Events []wire.Event `cbor:"5,keyasint,omitempty"`

	// Error is the completion or close error text.
	Error string `cbor:"6,keyasint,omitempty"`
}

// NewMessageEvent summarises m. Product updates are decoded into Events.
func NewMessageEvent(m *wire.Message) *MessageEvent {
	me := &MessageEvent{
		Type:         m.Type,
		InvocationID: m.InvocationID,
		Target:       m.Target,
		Arguments:    len(m.Arguments),
		Error:        m.Error,
	}
	if m.IsProductUpdate() {
		// Events that failed to decode are left out.
		me.Events, _ = wire.DecodeProductUpdate(m)
	}
	return me
}

// StateChangeEvent records a lifecycle transition of a hub session or of
// the supervisor. OldState is empty for the first transition; Reason
// holds the error text that caused it, if any.
type StateChangeEvent struct {
	Entity   StateEntity `cbor:"1,keyasint"`
	OldState string      `cbor:"2,keyasint,omitempty"`
	NewState string      `cbor:"3,keyasint"`
	Reason   string      `cbor:"4,keyasint,omitempty"`
}

// StateEntity is the owner of a state machine.
type StateEntity uint8

const (
	StateEntityConnection StateEntity = 0
	StateEntitySupervisor StateEntity = 1
)

func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntitySupervisor:
		return "SUPERVISOR"
	default:
		return "UNKNOWN"
	}
}

// ControlMsgEvent records hub control traffic. Reason carries the close
// error or handshake error text.
type ControlMsgEvent struct {
	Type   ControlMsgType `cbor:"1,keyasint"`
	Reason string         `cbor:"2,keyasint,omitempty"`
}

// ControlMsgType identifies SignalR traffic that is not a hub call.
type ControlMsgType uint8

const (
	ControlMsgHandshake ControlMsgType = 0
	ControlMsgPing      ControlMsgType = 1
	ControlMsgClose     ControlMsgType = 2
)

func (c ControlMsgType) String() string {
	switch c {
	case ControlMsgHandshake:
		return "HANDSHAKE"
	case ControlMsgPing:
		return "PING"
	case ControlMsgClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData records a failure. Kind is the transport error class
// (auth, network, protocol) when known; Context names the operation,
// e.g. "negotiate" or "read".
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`
	Kind    string `cbor:"3,keyasint,omitempty"`
	Context string `cbor:"4,keyasint,omitempty"`
}
