// Package commands implements the easee-log CLI commands.
package commands

import (
	"bytes"
	"fmt"
	"io"

	"github.com/nordicopen/pyeasee/pkg/log"
	"github.com/nordicopen/pyeasee/pkg/wire"
)

// recordSeparator is printed in place of the SignalR 0x1e terminator.
const recordSeparator = "␞"

// eventLabel names the payload an event carries.
func eventLabel(event log.Event) string {
	switch {
	case event.Frame != nil:
		return "Frame"
	case event.Message != nil:
		return event.Message.Type.String()
	case event.StateChange != nil:
		return "State"
	case event.ControlMsg != nil:
		return event.ControlMsg.Type.String()
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// field is one detail line under an event header.
type field struct {
	key   string
	value string
}

// formatEvent writes an event as a header line followed by indented
// detail fields and a blank line.
func formatEvent(w io.Writer, event log.Event) {
	layer := event.Layer.String()
	if event.Category == log.CategoryControl {
		layer = "CTRL"
	}
	conn := shortID(event.ConnectionID)
	if conn == "" {
		conn = "-"
	}

	header := fmt.Sprintf("%s conn=%s %-3s %s %s",
		event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
		conn, event.Direction, layer, eventLabel(event))
	if event.DeviceID != "" {
		header += " device=" + event.DeviceID
	}
	fmt.Fprintln(w, header)

	for _, f := range details(event) {
		fmt.Fprintf(w, "  %s: %s\n", f.key, f.value)
	}
	fmt.Fprintln(w)
}

// shortID keeps the first UUID group of a connection ID.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// details lists the payload fields worth showing. Empty values are
// skipped.
func details(event log.Event) []field {
	var out []field
	add := func(key, value string) {
		if value != "" {
			out = append(out, field{key, value})
		}
	}

	switch {
	case event.Frame != nil:
		fr := event.Frame
		add("size", fmt.Sprintf("%d bytes", fr.Size))
		text := string(bytes.ReplaceAll(fr.Data, []byte{wire.RecordSeparator}, []byte(recordSeparator)))
		if fr.Truncated {
			text += " ..."
		}
		add("data", text)

	case event.Message != nil:
		msg := event.Message
		add("invocation", msg.InvocationID)
		if msg.Target != "" {
			add("target", fmt.Sprintf("%s, %d args", msg.Target, msg.Arguments))
		}
		for _, e := range msg.Events {
			add("update", fmt.Sprintf("%s #%d %s %q", e.DeviceID, e.ID, e.DataType, e.Value))
		}
		add("error", msg.Error)

	case event.StateChange != nil:
		sc := event.StateChange
		from := sc.OldState
		if from == "" {
			from = "(none)"
		}
		add("entity", sc.Entity.String())
		add("transition", from+" -> "+sc.NewState)
		add("reason", sc.Reason)

	case event.ControlMsg != nil:
		add("reason", event.ControlMsg.Reason)

	case event.Error != nil:
		e := event.Error
		add("layer", e.Layer.String())
		add("message", e.Message)
		add("kind", e.Kind)
		add("context", e.Context)
	}
	return out
}

// ParseLayerFlag parses a -layer value.
func ParseLayerFlag(s string) (log.Layer, error) {
	if l, ok := log.ParseLayer(s); ok {
		return l, nil
	}
	return 0, fmt.Errorf("invalid layer %q: want transport, wire or stream", s)
}

// ParseDirectionFlag parses a -direction value.
func ParseDirectionFlag(s string) (log.Direction, error) {
	if d, ok := log.ParseDirection(s); ok {
		return d, nil
	}
	return 0, fmt.Errorf("invalid direction %q: want in or out", s)
}

// ParseCategoryFlag parses a -category value.
func ParseCategoryFlag(s string) (log.Category, error) {
	if c, ok := log.ParseCategory(s); ok {
		return c, nil
	}
	return 0, fmt.Errorf("invalid category %q: want message, control, state or error", s)
}

// RunView prints every event matching filter.
func RunView(path string, filter log.Filter, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	return each(reader, func(event log.Event) error {
		formatEvent(output, event)
		return nil
	})
}
