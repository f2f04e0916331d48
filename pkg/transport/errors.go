package transport

import (
	"errors"
	"fmt"
)

// Kind classifies a transport failure.
type Kind uint8

const (
	// KindNetwork is a transport-level failure: dial, read, write, timeouts
	// and unexpected closes.
	KindNetwork Kind = iota + 1

	// KindAuth means the hub rejected the access token.
	KindAuth

	// KindProtocol is a malformed negotiation, handshake or frame.
	KindProtocol
)

// String returns the kind name, also used as a metric label.
func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Sentinels matched by *Error through errors.Is.
var (
	ErrNetwork  = errors.New("transport: network error")
	ErrAuth     = errors.New("transport: authentication rejected")
	ErrProtocol = errors.New("transport: protocol error")
)

// Connection errors.
var (
	ErrNotOpen       = errors.New("connection not open")
	ErrAlreadyUsed   = errors.New("connection already used")
	ErrServerTimeout = errors.New("no traffic from hub within server timeout")
	ErrServerClosed  = errors.New("hub closed the connection")
	ErrClosedLocally = errors.New("connection closed locally")
)

// Error is a classified transport failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrAuth:
		return e.Kind == KindAuth
	case ErrProtocol:
		return e.Kind == KindProtocol
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return 0, false
}

func networkError(op string, err error) *Error {
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

func authError(op string, err error) *Error {
	return &Error{Kind: KindAuth, Op: op, Err: err}
}

func protocolError(op string, err error) *Error {
	return &Error{Kind: KindProtocol, Op: op, Err: err}
}
