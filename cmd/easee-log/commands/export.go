package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nordicopen/pyeasee/pkg/log"
)

// record is the flattened export form of an event.
type record struct {
	Timestamp  time.Time             `json:"ts" yaml:"ts"`
	Connection string                `json:"conn,omitempty" yaml:"conn,omitempty"`
	Direction  string                `json:"dir" yaml:"dir"`
	Layer      string                `json:"layer" yaml:"layer"`
	Category   string                `json:"category" yaml:"category"`
	Device     string                `json:"device,omitempty" yaml:"device,omitempty"`
	Type       string                `json:"type" yaml:"type"`
	Frame      string                `json:"frame,omitempty" yaml:"frame,omitempty"`
	Message    *log.MessageEvent     `json:"message,omitempty" yaml:"message,omitempty"`
	State      *log.StateChangeEvent `json:"state,omitempty" yaml:"state,omitempty"`
	Control    *controlRecord        `json:"control,omitempty" yaml:"control,omitempty"`
	Error      *log.ErrorEventData   `json:"error,omitempty" yaml:"error,omitempty"`
}

type controlRecord struct {
	Type   string `json:"type" yaml:"type"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

func toRecord(event log.Event) record {
	r := record{
		Timestamp:  event.Timestamp.UTC(),
		Connection: event.ConnectionID,
		Direction:  event.Direction.String(),
		Layer:      event.Layer.String(),
		Category:   event.Category.String(),
		Device:     event.DeviceID,
		Type:       eventLabel(event),
		Message:    event.Message,
		State:      event.StateChange,
		Error:      event.Error,
	}
	if event.Frame != nil {
		r.Frame = string(event.Frame.Data)
	}
	if event.ControlMsg != nil {
		r.Control = &controlRecord{Type: event.ControlMsg.Type.String(), Reason: event.ControlMsg.Reason}
	}
	return r
}

// RunExport writes the matching events of path in format to output
// (stdout when empty).
func RunExport(path, format, output string, filter log.Filter) error {
	var export func(*log.Reader, io.Writer) error
	switch format {
	case "jsonl":
		export = exportJSONL
	case "yaml":
		export = exportYAML
	case "csv":
		export = exportCSV
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, yaml, csv)", format)
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	return export(reader, w)
}

// each calls fn for every event left in reader.
func each(reader *log.Reader, fn func(log.Event) error) error {
	for event, err := range reader.All() {
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
	return nil
}

func exportJSONL(reader *log.Reader, w io.Writer) error {
	encoder := json.NewEncoder(w)
	return each(reader, func(event log.Event) error {
		if err := encoder.Encode(toRecord(event)); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		return nil
	})
}

// exportYAML writes one YAML document per event.
func exportYAML(reader *log.Reader, w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()

	return each(reader, func(event log.Event) error {
		if err := encoder.Encode(toRecord(event)); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		return nil
	})
}

func exportCSV(reader *log.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"timestamp", "connection_id", "direction", "layer", "category", "device_id", "type", "events"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	return each(reader, func(event log.Event) error {
		events := ""
		if event.Message != nil {
			events = strconv.Itoa(len(event.Message.Events))
		}
		row := []string{
			event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
			event.ConnectionID,
			event.Direction.String(),
			event.Layer.String(),
			event.Category.String(),
			event.DeviceID,
			eventLabel(event),
			events,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
		return nil
	})
}
