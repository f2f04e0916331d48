package commands

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/nordicopen/pyeasee/pkg/log"
	"github.com/nordicopen/pyeasee/pkg/wire"
)

var t0 = time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)

const connA = "abc12345-6789-0123-4567-890abcdef012"

// sampleEvents is a short session: handshake, subscribe, one update, close.
func sampleEvents() []log.Event {
	return []log.Event{
		{
			Timestamp: t0, ConnectionID: connA, Direction: log.DirectionOut,
			Layer: log.LayerWire, Category: log.CategoryControl,
			ControlMsg: &log.ControlMsgEvent{Type: log.ControlMsgHandshake},
		},
		{
			Timestamp: t0.Add(time.Millisecond), ConnectionID: connA, Direction: log.DirectionOut,
			Layer: log.LayerTransport, Category: log.CategoryMessage,
			Frame: log.NewFrameEvent([]byte(`{"type":1,"target":"SubscribeWithCurrentState","arguments":["EH000001",true]}` + "\x1e")),
		},
		{
			Timestamp: t0.Add(2 * time.Millisecond), ConnectionID: connA, Direction: log.DirectionOut,
			Layer: log.LayerWire, Category: log.CategoryMessage, DeviceID: "EH000001",
			Message: &log.MessageEvent{Type: wire.MessageTypeInvocation, Target: "SubscribeWithCurrentState", Arguments: 2},
		},
		{
			Timestamp: t0.Add(time.Second), ConnectionID: connA, Direction: log.DirectionIn,
			Layer: log.LayerWire, Category: log.CategoryMessage,
			Message: &log.MessageEvent{
				Type:      wire.MessageTypeInvocation,
				Target:    "ProductUpdate",
				Arguments: 1,
				Events: []wire.Event{
					{DeviceID: "EH000001", DataType: wire.DataTypeDouble, ID: 114, Value: "16.5"},
					{DeviceID: "EH000001", DataType: wire.DataTypeInteger, ID: 109, Value: "3"},
				},
			},
		},
		{
			Timestamp: t0.Add(2 * time.Second), ConnectionID: connA, Direction: log.DirectionIn,
			Layer: log.LayerTransport, Category: log.CategoryError,
			Error: &log.ErrorEventData{Layer: log.LayerTransport, Message: "read: connection reset", Kind: "network"},
		},
		{
			Timestamp: t0.Add(2 * time.Second), ConnectionID: connA, Direction: log.DirectionIn,
			Layer: log.LayerWire, Category: log.CategoryControl,
			ControlMsg: &log.ControlMsgEvent{Type: log.ControlMsgClose, Reason: "server going away"},
		},
		{
			Timestamp: t0.Add(3 * time.Second), Direction: log.DirectionOut,
			Layer: log.LayerStream, Category: log.CategoryState,
			StateChange: &log.StateChangeEvent{Entity: log.StateEntitySupervisor, OldState: "CONNECTED", NewState: "DISCONNECTED", Reason: "network"},
		},
	}
}

func writeCapture(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stream.ecap")
	fl, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	for _, e := range events {
		fl.Log(e)
	}
	if err := fl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}
