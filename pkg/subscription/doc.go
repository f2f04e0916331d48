// Package subscription keeps the set of devices a client is interested in
// and routes inbound hub events to their callbacks.
//
// The registry is keyed by device ID: at most one callback per device,
// the last registration wins. Entries are owned by the client, not by the
// hub session, so they survive reconnects; after every successful connect
// the stream supervisor replays All() to the hub.
//
// # Dispatch
//
// Dispatch looks up the device, coerces the raw value according to the
// event's data type and invokes the callback outside the registry lock, so
// a callback may freely Add or Remove entries. Events for unknown devices
// are reported as OutcomeNoSubscriber; events whose value fails coercion are
// dropped and reported as OutcomeInvalid. A panicking callback is recovered
// and reported through the OnPanic hook.
package subscription
