package log

import (
	"go.uber.org/zap"
)

// ZapAdapter writes protocol events to a zap.Logger.
// Useful for development when you want to see protocol events in console.
type ZapAdapter struct {
	logger *zap.Logger
}

// NewZapAdapter creates a new ZapAdapter that writes to the given logger.
func NewZapAdapter(logger *zap.Logger) *ZapAdapter {
	return &ZapAdapter{logger: logger.Named("protocol")}
}

// Log writes the event to the zap logger at Debug level.
func (a *ZapAdapter) Log(event Event) {
	ce := a.logger.Check(zap.DebugLevel, "protocol")
	if ce == nil {
		return
	}
	ce.Write(Fields(event)...)
}

// Fields converts an event to zap fields.
func Fields(event Event) []zap.Field {
	fields := []zap.Field{
		zap.String("conn_id", event.ConnectionID),
		zap.String("direction", event.Direction.String()),
		zap.String("layer", event.Layer.String()),
		zap.String("category", event.Category.String()),
	}

	// Add optional identifiers
	if event.RemoteAddr != "" {
		fields = append(fields, zap.String("remote", event.RemoteAddr))
	}
	if event.DeviceID != "" {
		fields = append(fields, zap.String("device_id", event.DeviceID))
	}

	// Add type-specific fields
	switch {
	case event.Frame != nil:
		fields = append(fields,
			zap.Int("frame_size", event.Frame.Size),
			zap.Bool("truncated", event.Frame.Truncated),
		)
	case event.Message != nil:
		fields = append(fields, zap.Stringer("msg_type", event.Message.Type))
		if event.Message.InvocationID != "" {
			fields = append(fields, zap.String("invocation_id", event.Message.InvocationID))
		}
		if event.Message.Target != "" {
			fields = append(fields, zap.String("target", event.Message.Target))
		}
		if len(event.Message.Events) > 0 {
			fields = append(fields, zap.Int("events", len(event.Message.Events)))
		}
		if event.Message.Error != "" {
			fields = append(fields, zap.String("msg_error", event.Message.Error))
		}
	case event.StateChange != nil:
		fields = append(fields,
			zap.String("entity", event.StateChange.Entity.String()),
			zap.String("old_state", event.StateChange.OldState),
			zap.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			fields = append(fields, zap.String("reason", event.StateChange.Reason))
		}
	case event.ControlMsg != nil:
		fields = append(fields, zap.String("ctrl_type", event.ControlMsg.Type.String()))
		if event.ControlMsg.Reason != "" {
			fields = append(fields, zap.String("reason", event.ControlMsg.Reason))
		}
	case event.Error != nil:
		fields = append(fields,
			zap.String("error_layer", event.Error.Layer.String()),
			zap.String("error_msg", event.Error.Message),
			zap.String("error_context", event.Error.Context),
		)
		if event.Error.Kind != "" {
			fields = append(fields, zap.String("error_kind", event.Error.Kind))
		}
	}
	return fields
}

// Compile-time interface satisfaction check.
var _ Logger = (*ZapAdapter)(nil)
