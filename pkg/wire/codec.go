package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// RecordSeparator terminates every SignalR JSON record.
const RecordSeparator byte = 0x1e

// Protocol identifiers sent in the handshake.
const (
	ProtocolName    = "json"
	ProtocolVersion = 1
)

// Codec errors.
var (
	ErrMalformed        = errors.New("wire: malformed message")
	ErrUnterminated     = errors.New("wire: record not terminated")
	ErrHandshakeRefused = errors.New("wire: handshake refused")
)

// HandshakeRequest is the first record a client sends after the websocket
// is open.
type HandshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

// HandshakeResponse is the server reply. An empty object means success.
type HandshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// EncodeHandshake returns the terminated handshake record.
func EncodeHandshake() []byte {
	b, _ := json.Marshal(HandshakeRequest{Protocol: ProtocolName, Version: ProtocolVersion})
	return append(b, RecordSeparator)
}

// DecodeHandshakeResponse parses a handshake reply record (without the
// separator). A reply carrying an error yields ErrHandshakeRefused.
func DecodeHandshakeResponse(record []byte) error {
	var resp HandshakeResponse
	if err := json.Unmarshal(record, &resp); err != nil {
		return fmt.Errorf("%w: handshake response: %v", ErrMalformed, err)
	}
	if resp.Error != "" {
		return fmt.Errorf("%w: %s", ErrHandshakeRefused, resp.Error)
	}
	return nil
}

// Encode validates m and returns it as a terminated record.
func Encode(m *Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return append(b, RecordSeparator), nil
}

// Split breaks a frame into records, dropping the separators. Empty records
// are skipped. Trailing bytes without a separator yield ErrUnterminated.
func Split(frame []byte) ([][]byte, error) {
	var records [][]byte
	for len(frame) > 0 {
		i := bytes.IndexByte(frame, RecordSeparator)
		if i < 0 {
			return records, ErrUnterminated
		}
		if i > 0 {
			records = append(records, frame[:i])
		}
		frame = frame[i+1:]
	}
	return records, nil
}

// Decode parses a single record (without the separator).
func Decode(record []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(record, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return &m, nil
}

// DecodeFrame splits a frame and decodes every record in it. Decoding stops
// at the first bad record; messages decoded before it are returned.
func DecodeFrame(frame []byte) ([]*Message, error) {
	records, err := Split(frame)
	msgs := make([]*Message, 0, len(records))
	for _, r := range records {
		m, derr := Decode(r)
		if derr != nil {
			return msgs, derr
		}
		msgs = append(msgs, m)
	}
	if err != nil {
		return msgs, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return msgs, nil
}
