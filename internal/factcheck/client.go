// Package factcheck is the HTTP client for the external fact-check service.
// The service owns all retrieval and inference; this client only speaks its
// wire contract.
package factcheck

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/user/ghostd/internal/protocol"
)

const fallbackVerdict = "The service returned no verdict for this claim."

// Source is one row of evidence as the service reports it.
type Source struct {
	URL     string                `json:"url"`
	Domain  string                `json:"domain"`
	Status  protocol.SourceStatus `json:"status"`
	Verdict string                `json:"verdict"`
	Quote   string                `json:"quote"`
}

// Result is a successful fact-check response. Source order is preserved as
// the evidence-emission order.
type Result struct {
	Sources []Source `json:"sources"`
	Verdict string   `json:"verdict"`
}

// Config holds client settings. Zero values fall back to defaults.
type Config struct {
	BaseURL  string
	APIKey   string
	TopK     int
	Timeout  time.Duration
	CacheTTL time.Duration
}

// Client calls POST {base}/fact-check. Successful responses are cached by
// claim so re-checking the same selection does not hit the service again.
type Client struct {
	config     *Config
	httpClient *http.Client
	cache      *gocache.Cache
}

// New creates a client. Defaults: top_k 5, 30s request timeout, 5m cache TTL.
func New(config *Config) *Client {
	if config.TopK <= 0 {
		config.TopK = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 5 * time.Minute
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		cache:      gocache.New(config.CacheTTL, 2*config.CacheTTL),
	}
}

// checkRequest is the service request body.
type checkRequest struct {
	Claim string `json:"claim"`
	TopK  int    `json:"top_k"`
}

// Check submits a claim and returns the evidence and verdict. Any failure —
// transport error, timeout, non-success status, malformed body — is returned
// as an error whose text names the service base URL, so the diagnostic shown
// to the user is enough to debug a local setup.
func (c *Client) Check(ctx context.Context, claim string) (*Result, error) {
	key := cacheKey(claim, c.config.TopK)
	if cached, found := c.cache.Get(key); found {
		return cached.(*Result), nil
	}

	body, err := json.Marshal(checkRequest{Claim: claim, TopK: c.config.TopK})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := c.config.BaseURL + "/fact-check"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fact-check service unreachable at %s: %w", c.config.BaseURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", c.config.BaseURL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fact-check service at %s returned %s", c.config.BaseURL, resp.Status)
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("malformed response from %s: %w", c.config.BaseURL, err)
	}
	if result.Sources == nil {
		result.Sources = []Source{}
	}
	if result.Verdict == "" {
		result.Verdict = fallbackVerdict
	}

	c.cache.Set(key, &result, gocache.DefaultExpiration)
	return &result, nil
}

// cacheKey hashes the claim so arbitrary selection text never becomes a map
// key verbatim.
func cacheKey(claim string, topK int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%d|%s", topK, claim))
	return "ghostd:v1:" + hex.EncodeToString(sum[:])
}
