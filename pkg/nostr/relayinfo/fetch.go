package relayinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Fetch requests the NIP-11 information document for the relay at u, which
// may be given as a ws(s):// or http(s):// URL. It uses the ambient
// http.DefaultClient's own timeout behavior; callers that want a deadline
// should set one on ctx themselves.
func Fetch(ctx context.Context, u string) (*T, error) {
	if !strings.HasPrefix(u, "http") && !strings.HasPrefix(u, "ws") {
		u = "wss://" + u
	}
	p, err := url.Parse(u)
	if err != nil {
		return nil, fmt.Errorf("relayinfo: cannot parse url %q: %w", u, err)
	}
	switch p.Scheme {
	case "ws":
		p.Scheme = "http"
	case "wss":
		p.Scheme = "https"
	}
	p.Path = strings.TrimRight(p.Path, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("relayinfo: %w", err)
	}
	req.Header.Set("Accept", "application/nostr+json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relayinfo: request failed: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("relayinfo: reading response: %w", err)
	}

	info := &T{}
	if err := json.Unmarshal(b, info); err != nil {
		return nil, fmt.Errorf("relayinfo: invalid json from %s: %w", u, err)
	}
	return info, nil
}
