// Package log provides protocol capture for the Easee stream client.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level events at multiple layers (transport, wire, stream).
// It is separate from operational logging (zap): protocol capture provides
// a complete machine-readable trace of a hub session for debugging.
//
// # Basic Usage
//
// Applications enable capture by passing a Logger to the stream supervisor:
//
//	// For development: log to console via zap
//	stream.WithProtocolLogger(log.NewZapAdapter(logger))
//
//	// For later analysis: write to a capture file
//	fl, _ := log.NewFileLogger("/var/log/easee/hub.elog")
//	stream.WithProtocolLogger(fl)
//
//	// Both: use MultiLogger
//	stream.WithProtocolLogger(log.NewMultiLogger(log.NewZapAdapter(logger), fl))
//
// # Event Types
//
// Events are captured at multiple layers:
//   - Transport: Raw websocket frames (FrameEvent)
//   - Wire: Decoded hub messages (MessageEvent)
//   - Stream: Connection and supervisor state changes (StateChangeEvent)
//
// Handshake, ping and close messages, as well as errors, have dedicated
// event types.
//
// # File Format
//
// Capture files are a sequence of CBOR-encoded events with the .elog
// extension. The easee-log CLI tool provides viewing, filtering, and export.
package log
