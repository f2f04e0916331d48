// Package hubtest runs an in-process fake of the Easee cloud for tests and
// local development.
//
// The fake serves the account endpoints (login, refresh), a charger listing
// and a SignalR JSON hub at /hubs/chargers with negotiation. Tests drive it
// directly: push product updates, drop or close sessions, revoke tokens,
// make the next connects fail and inspect which devices were subscribed.
package hubtest
