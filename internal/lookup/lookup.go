// Package lookup resolves inbound recipient addresses to forwarding
// addresses via a remote HTTP service, with a short-lived local cache.
package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// defaultTTL is how long a resolved address is cached.
const defaultTTL = 5 * time.Minute

// Client queries the lookup service over HTTP. Resolved addresses are
// cached per recipient with a TTL so bursts of mail to the same inbox
// do not hammer the service. Safe for concurrent use.
type Client struct {
	baseURL    string
	secret     string
	ttl        time.Duration
	httpClient *http.Client

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	address   string
	expiresAt time.Time
}

// resolveResponse is the JSON shape returned by the lookup service.
type resolveResponse struct {
	Forward string `json:"forward"`
}

// New creates a lookup Client for the given service base URL. A
// non-positive ttl falls back to the default.
func New(baseURL, secret string, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Client{
		baseURL:    baseURL,
		secret:     secret,
		ttl:        ttl,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cache:      make(map[string]cacheEntry),
	}
}

// newWithClient creates a Client with a custom HTTP client, used for testing.
func newWithClient(baseURL, secret string, ttl time.Duration, httpClient *http.Client) *Client {
	c := New(baseURL, secret, ttl)
	c.httpClient = httpClient
	return c
}

// Resolve returns the forwarding address for a recipient, consulting the
// cache first. A service answer with an empty forward address is valid
// (the caller decides the fallback) and is cached like any other.
func (c *Client) Resolve(ctx context.Context, recipient string) (string, error) {
	c.mu.Lock()
	if entry, ok := c.cache[recipient]; ok && time.Now().Before(entry.expiresAt) {
		c.mu.Unlock()
		return entry.address, nil
	}
	c.mu.Unlock()

	address, err := c.fetch(ctx, recipient)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.cache[recipient] = cacheEntry{
		address:   address,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()

	return address, nil
}

// fetch performs one HTTP request to the lookup service.
func (c *Client) fetch(ctx context.Context, recipient string) (string, error) {
	reqURL := fmt.Sprintf("%s/resolve?address=%s", c.baseURL, url.QueryEscape(recipient))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create lookup request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("lookup request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read lookup response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("lookup service returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed resolveResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse lookup response: %w", err)
	}

	return parsed.Forward, nil
}
