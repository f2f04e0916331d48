package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Hub method names.
const (
	// TargetProductUpdate is the server-to-client method carrying device
	// observations.
	TargetProductUpdate = "ProductUpdate"

	// MethodSubscribe asks the hub to stream a device, starting with its
	// current state.
	MethodSubscribe = "SubscribeWithCurrentState"
)

// Validation errors.
var (
	ErrMissingTarget       = errors.New("wire: invocation without target")
	ErrMissingInvocationID = errors.New("wire: completion without invocation id")
	ErrUnknownMessageType  = errors.New("wire: unknown message type")
)

// Message is a SignalR hub message. Only the fields relevant to the message
// type are populated.
type Message struct {
	Type MessageType `json:"type"`

	// InvocationID correlates an invocation with its completion. Empty for
	// fire-and-forget invocations.
	InvocationID string `json:"invocationId,omitempty"`

	// Target is the hub method name (Invocation).
	Target string `json:"target,omitempty"`

	// Arguments are kept raw so each target can decode its own shape.
	Arguments []json.RawMessage `json:"arguments,omitempty"`

	// Result is set on a successful Completion.
	Result json.RawMessage `json:"result,omitempty"`

	// Error is set on a failed Completion or a Close with a reason.
	Error string `json:"error,omitempty"`

	// AllowReconnect is set by the server on Close.
	AllowReconnect bool `json:"allowReconnect,omitempty"`
}

// Validate checks that the message carries the fields its type requires.
func (m *Message) Validate() error {
	switch m.Type {
	case MessageTypeInvocation, MessageTypeStreamInvocation:
		if m.Target == "" {
			return ErrMissingTarget
		}
	case MessageTypeCompletion, MessageTypeStreamItem, MessageTypeCancelInvocation:
		if m.InvocationID == "" {
			return ErrMissingInvocationID
		}
	case MessageTypePing, MessageTypeClose:
	default:
		return fmt.Errorf("%w: %d", ErrUnknownMessageType, m.Type)
	}
	return nil
}

// IsProductUpdate reports whether m is a ProductUpdate invocation.
func (m *Message) IsProductUpdate() bool {
	return m.Type == MessageTypeInvocation && m.Target == TargetProductUpdate
}

// NewInvocation builds an invocation of target with the given arguments. The
// invocation gets a fresh ID so a failing completion can be correlated.
func NewInvocation(target string, args ...any) (*Message, error) {
	raw := make([]json.RawMessage, 0, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("wire: encode argument %d of %s: %w", i, target, err)
		}
		raw = append(raw, b)
	}
	return &Message{
		Type:         MessageTypeInvocation,
		InvocationID: uuid.NewString(),
		Target:       target,
		Arguments:    raw,
	}, nil
}

// SubscribeCommand builds the invocation that subscribes to a device,
// requesting its current state first.
func SubscribeCommand(deviceID string) *Message {
	// Both arguments always marshal.
	m, _ := NewInvocation(MethodSubscribe, deviceID, true)
	return m
}

// NewPing returns a keep-alive message.
func NewPing() *Message {
	return &Message{Type: MessageTypePing}
}
