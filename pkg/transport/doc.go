// Package transport provides the connection to the Easee SignalR hub.
//
// The transport layer handles:
//   - Negotiation over HTTPS (POST {hub}/negotiate?negotiateVersion=1)
//   - The websocket upgrade, carrying the bearer token
//   - The SignalR JSON handshake
//   - Record-separated message framing (see package wire)
//   - Keep-alive pings and server-timeout detection
//   - Connection state management
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│   SignalR JSON hub messages    │
//	├────────────────────────────────┤
//	│   0x1E record separators       │
//	├────────────────────────────────┤
//	│   Websocket (text frames)      │
//	├────────────────────────────────┤
//	│   TLS / TCP                    │
//	└────────────────────────────────┘
//
// # Errors
//
// A Connection never retries. Every failure is returned or reported as an
// *Error classified as KindAuth (the hub rejected the token), KindNetwork
// (transport-level failure, timeouts, unexpected close) or KindProtocol
// (malformed negotiation, handshake or frame). The sentinels ErrAuth,
// ErrNetwork and ErrProtocol match with errors.Is.
//
// # Keep-Alive
//
// The client sends a ping every PingInterval (15 s). If nothing at all is
// received for ServerTimeout (30 s) the session is torn down with a
// network error.
package transport
