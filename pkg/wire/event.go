package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotProductUpdate is returned when decoding events from another message.
var ErrNotProductUpdate = errors.New("wire: not a product update")

// Event is one device observation pushed by the hub. Value is the raw string
// as transmitted; use Coerce to obtain the typed value.
type Event struct {
	DeviceID string   `json:"mid"`
	DataType DataType `json:"dataType"`
	ID       int      `json:"id"`
	Value    string   `json:"value"`
}

// UnmarshalJSON accepts a value transmitted as a JSON string, number, bool
// or null. Non-string literals are kept as their JSON text.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		DeviceID string          `json:"mid"`
		DataType DataType        `json:"dataType"`
		ID       int             `json:"id"`
		Value    json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	e.DeviceID = raw.DeviceID
	e.DataType = raw.DataType
	e.ID = raw.ID
	e.Value = ""

	v := bytes.TrimSpace(raw.Value)
	switch {
	case len(v) == 0 || bytes.Equal(v, []byte("null")):
	case v[0] == '"':
		if err := json.Unmarshal(v, &e.Value); err != nil {
			return err
		}
	default:
		e.Value = string(v)
	}
	return nil
}

// Coerce converts the raw value according to the event's data type.
func (e Event) Coerce() (any, error) {
	return Coerce(e.DataType, e.Value)
}

// String returns a compact description for logs.
func (e Event) String() string {
	return fmt.Sprintf("%s/%d[%s]=%q", e.DeviceID, e.ID, e.DataType, e.Value)
}

// DecodeProductUpdate extracts the events carried by a ProductUpdate
// invocation. Each argument is either a single event object or a list of
// them. Elements that do not parse or lack a device ID are skipped; the
// remaining events are returned together with an ErrMalformed error that
// counts the skipped ones.
func DecodeProductUpdate(m *Message) ([]Event, error) {
	if !m.IsProductUpdate() {
		return nil, ErrNotProductUpdate
	}

	var (
		events  []Event
		skipped int
		first   error
	)
	skip := func(err error) {
		skipped++
		if first == nil {
			first = err
		}
	}

	for i, arg := range m.Arguments {
		arg = bytes.TrimSpace(arg)
		if len(arg) == 0 {
			continue
		}

		elems := []json.RawMessage{arg}
		if arg[0] == '[' {
			if err := json.Unmarshal(arg, &elems); err != nil {
				skip(fmt.Errorf("argument %d: %v", i, err))
				continue
			}
		}

		for _, raw := range elems {
			var ev Event
			if err := json.Unmarshal(raw, &ev); err != nil {
				skip(fmt.Errorf("argument %d: %v", i, err))
				continue
			}
			if ev.DeviceID == "" {
				skip(fmt.Errorf("argument %d: event %d without device id", i, ev.ID))
				continue
			}
			events = append(events, ev)
		}
	}

	if skipped > 0 {
		return events, fmt.Errorf("%w: product update: skipped %d event(s): %v", ErrMalformed, skipped, first)
	}
	return events, nil
}

// NewProductUpdate builds a ProductUpdate invocation carrying events as a
// single list argument, the way the hub sends them.
func NewProductUpdate(events ...Event) (*Message, error) {
	m, err := NewInvocation(TargetProductUpdate, events)
	if err != nil {
		return nil, err
	}
	m.InvocationID = ""
	return m, nil
}
