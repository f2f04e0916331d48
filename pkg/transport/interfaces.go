package transport

import (
	"context"

	"github.com/nordicopen/pyeasee/pkg/wire"
)

// HubConnection is one hub session as seen by the stream supervisor.
// Implemented by Connection.
type HubConnection interface {
	// Open negotiates, dials and performs the handshake.
	Open(ctx context.Context, accessToken string) error

	// Send writes one hub message.
	Send(ctx context.Context, msg *wire.Message) error

	// Done is closed when the session ends.
	Done() <-chan struct{}

	// Err returns why the session ended (nil after a local Close).
	Err() error

	// Close ends the session.
	Close() error

	// ID identifies the session in logs.
	ID() string
}

// Compile-time interface satisfaction check.
var _ HubConnection = (*Connection)(nil)
