// Package wire defines the SignalR JSON hub protocol types used to talk to
// the Easee streaming hub.
//
// SignalR JSON messages are UTF-8 JSON objects, each terminated by the
// ASCII record separator (0x1E). A single websocket frame may carry
// several records.
//
// # Message Types
//
// The hub uses the following message types:
//   - Invocation (1): a hub method call in either direction
//   - Completion (3): the result of an invocation that carried an ID
//   - Ping (6): keep-alive, sent by both sides
//   - Close (7): the server is ending the session
//
// Stream items, stream invocations and cancel messages are decoded but not
// used by the Easee hub.
//
// # Product Updates
//
// The hub pushes device observations with the "ProductUpdate" target.
// Each argument is an object {mid, dataType, id, value} where value is
// always transmitted as a string and dataType selects how it is coerced
// before it is handed to subscribers (see Coerce).
package wire
