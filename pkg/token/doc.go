// Package token manages the access/refresh token pair shared by the REST
// client and the stream supervisor.
//
// A Store hands out a token that is valid for immediate use. When the held
// token is absent or stale the store acquires a new one: it refreshes when
// it holds a refresh token and falls back to a full login when the refresh
// is rejected. Every token is treated as expired SafetyMargin (60 s by
// default) before the server says it is.
//
// Acquisitions are coalesced: however many goroutines ask at once, at most
// one login or refresh is in flight. A caller whose context is cancelled
// stops waiting; the shared acquisition finishes on its own time-bounded
// context and later callers reuse its result.
//
// A Cache (FileCache) can persist the token between process runs.
package token
