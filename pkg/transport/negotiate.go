package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/nordicopen/pyeasee/pkg/version"
)

// NegotiateResponse is the body returned by {hub}/negotiate.
type NegotiateResponse struct {
	ConnectionID        string               `json:"connectionId"`
	ConnectionToken     string               `json:"connectionToken"`
	NegotiateVersion    int                  `json:"negotiateVersion"`
	AvailableTransports []AvailableTransport `json:"availableTransports"`

	// Redirect fields (service-hosted hubs).
	URL         string `json:"url"`
	AccessToken string `json:"accessToken"`

	Error string `json:"error"`
}

// AvailableTransport is one transport offered by the hub.
type AvailableTransport struct {
	Transport       string   `json:"transport"`
	TransferFormats []string `json:"transferFormats"`
}

// supportsWebSockets reports whether the hub offers websockets. An empty
// list means the hub did not say.
func (r *NegotiateResponse) supportsWebSockets() bool {
	if len(r.AvailableTransports) == 0 {
		return true
	}
	for _, t := range r.AvailableTransports {
		if strings.EqualFold(t.Transport, "WebSockets") {
			return true
		}
	}
	return false
}

// endpoint is where and how to dial after negotiation.
type endpoint struct {
	url   string
	token string
}

// negotiate resolves the websocket endpoint for hubURL.
func negotiate(ctx context.Context, cfg Config, hubURL, accessToken string) (endpoint, error) {
	negURL, err := negotiateURL(hubURL)
	if err != nil {
		return endpoint{}, protocolError("negotiate", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, negURL, nil)
	if err != nil {
		return endpoint{}, protocolError("negotiate", err)
	}
	setHeaders(req.Header, cfg, accessToken)

	resp, err := cfg.HTTPClient.Do(req)
	if err != nil {
		return endpoint{}, networkError("negotiate", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return endpoint{}, networkError("negotiate", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return endpoint{}, authError("negotiate", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return endpoint{}, networkError("negotiate", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 300:
		return endpoint{}, protocolError("negotiate", fmt.Errorf("status %d", resp.StatusCode))
	}

	var nr NegotiateResponse
	if err := json.Unmarshal(body, &nr); err != nil {
		return endpoint{}, protocolError("negotiate", fmt.Errorf("decode response: %w", err))
	}
	if nr.Error != "" {
		return endpoint{}, protocolError("negotiate", errors.New(nr.Error))
	}

	// Redirect to another hub endpoint with its own token.
	if nr.URL != "" {
		tok := accessToken
		if nr.AccessToken != "" {
			tok = nr.AccessToken
		}
		return endpoint{url: nr.URL, token: tok}, nil
	}

	if !nr.supportsWebSockets() {
		return endpoint{}, protocolError("negotiate", errors.New("hub does not offer websockets"))
	}

	id := nr.ConnectionToken
	if id == "" {
		id = nr.ConnectionID
	}
	if id == "" {
		return endpoint{}, protocolError("negotiate", errors.New("response without connection id"))
	}

	wsURL, err := websocketURL(hubURL, id)
	if err != nil {
		return endpoint{}, protocolError("negotiate", err)
	}
	return endpoint{url: wsURL, token: accessToken}, nil
}

func negotiateURL(hubURL string) (string, error) {
	u, err := url.Parse(hubURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/negotiate"
	q := u.Query()
	q.Set("negotiateVersion", fmt.Sprint(version.NegotiateVersion))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// websocketURL converts hubURL to ws(s) and adds the connection id.
func websocketURL(hubURL, connectionID string) (string, error) {
	u, err := url.Parse(hubURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported hub scheme %q", u.Scheme)
	}
	if connectionID != "" {
		q := u.Query()
		q.Set("id", connectionID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func setHeaders(h http.Header, cfg Config, accessToken string) {
	if accessToken != "" {
		h.Set("Authorization", "Bearer "+accessToken)
	}
	if cfg.UserAgent != "" {
		h.Set("User-Agent", cfg.UserAgent)
	}
}
