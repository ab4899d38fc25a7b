package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pion/webrtc/v4"
)

const maxICEResponseBytes = 64 * 1024

type iceResponse struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

// FetchICEServers reads the relay's GET /webrtc/ice endpoint. baseURL may use
// ws(s):// or http(s):// schemes; the path is replaced.
func FetchICEServers(ctx context.Context, client *http.Client, baseURL, token, apiKey string) ([]webrtc.ICEServer, error) {
	if client == nil {
		client = http.DefaultClient
	}
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("invalid relay url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "http":
		u.Scheme = "http"
	case "wss", "https":
		u.Scheme = "https"
	default:
		return nil, fmt.Errorf("invalid relay url %q", baseURL)
	}
	u.Path = "/webrtc/ice"
	q := url.Values{}
	if token != "" {
		q.Set("token", token)
	}
	if apiKey != "" {
		q.Set("apiKey", apiKey)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch ice servers: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxICEResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch ice servers: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch ice servers: unexpected status %d", resp.StatusCode)
	}
	var out iceResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode ice servers: %w", err)
	}
	if out.ICEServers == nil {
		out.ICEServers = []webrtc.ICEServer{}
	}
	return out.ICEServers, nil
}
