// Package backoff provides the reconnect delay policy for the push stream.
//
// The policy is linear with a ceiling:
//
//	delay(n) = min(Ceiling, Floor + Increment*n)
//
// where n is the number of consecutive failed connection attempts. The
// reference configuration is Floor=0s, Increment=30s, Ceiling=300s, giving
// the sequence 0s, 30s, 60s, ... 300s, 300s.
//
// # Reset
//
// The failure count returns to zero only after a successful connection.
// A connection that drops after being healthy starts again from Floor.
//
// # Sequence
//
// Sequence holds a failure count over a Policy and implements the BackOff
// interface of github.com/cenkalti/backoff/v5, so the same policy can drive
// backoff.Retry in other parts of the client.
package backoff
