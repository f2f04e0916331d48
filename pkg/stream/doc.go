// Package stream keeps a hub session alive and routes device updates to
// subscribers.
//
// A Supervisor owns one goroutine running the reconnect loop, at most one
// live transport.HubConnection and one dispatcher goroutine:
//
//	token.Store ──Get/Refresh──▶ reconnect loop ──Open──▶ transport.Connection
//	                                  │                          │ read loop
//	                     resubscribe all entries                 ▼
//	                                  │                   bounded event queue
//	                                  ▼                          │
//	                      subscription.Registry ◀──Dispatch── dispatcher
//
// After every successful open the supervisor sends one subscribe command per
// registered device. A failed attempt advances the backoff sequence; a
// session that ends after being established restarts at the policy floor.
// Only Close stops the loop.
//
// Unsubscribe removes the callback locally. The hub offers no command to
// stop a single device, so it keeps streaming that device until the
// session is rebuilt; those events are dropped as having no subscriber.
// WithReconnectOnUnsubscribe rebuilds the session on every Unsubscribe.
package stream
