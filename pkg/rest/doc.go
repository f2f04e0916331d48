// Package rest is a small client for the Easee REST API.
//
// Authenticator implements token.Authenticator against the account
// endpoints. Client sends authorised JSON requests with the token from a
// token.Source: it throttles to the API's general rate limit, opens an
// opentracing client span per request, maps error statuses to sentinel
// errors and retries transient failures. A 401 forces one token refresh
// and a single replay of the request.
//
// Only the endpoints the stream tools need are wrapped (Chargers); other
// calls go through Client.Get/Post/Put/Delete.
package rest
