// Package version provides the library version and the identifiers this
// client presents to the Easee cloud.
package version

import (
	"fmt"
	"strings"
)

// Library is the version of this client library.
const Library = "0.9.0"

// Product is the name used in User-Agent headers.
const Product = "pyeasee-go"

// SignalR protocol identifiers used by the stream transport.
const (
	// HubProtocol is the hub protocol requested in the handshake.
	HubProtocol = "json"

	// HubProtocolVersion is the hub protocol version requested in the handshake.
	HubProtocolVersion = 1

	// NegotiateVersion is the negotiate endpoint version.
	NegotiateVersion = 1
)

// Component identifies which part of the client is talking to the cloud.
type Component string

const (
	// ComponentREST is the REST API client.
	ComponentREST Component = "REST client"

	// ComponentStream is the push stream (SignalR) client.
	ComponentStream Component = "SignalR client"
)

// UserAgent builds the User-Agent header for a component. A non-empty
// extra string is appended after a semicolon, so integrators can identify
// themselves to the API operator.
func UserAgent(c Component, extra string) string {
	ua := fmt.Sprintf("%s/%s %s", Product, Library, c)
	if extra = strings.TrimSpace(extra); extra != "" {
		ua += "; " + extra
	}
	return ua
}
