// Package browser provides a client for the headless-browser automation
// service the Extractor stage fetches pages through. Navigation and
// fingerprint evasion live in the service; this client only carries the
// stealth profile and interprets the structured response.
package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Client defines the browser automation operations used by the Extractor.
type Client interface {
	// Fetch renders the URL under the given stealth profile and returns
	// the page content and status.
	Fetch(ctx context.Context, targetURL string, profile StealthProfile) (*FetchResult, error)
}

// Viewport is a browser window size.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// StealthProfile configures evasion for one fetch.
type StealthProfile struct {
	UserAgent      string   `json:"user_agent,omitempty"`
	Viewport       Viewport `json:"viewport,omitempty"`
	Locale         string   `json:"locale,omitempty"`
	BlockResources []string `json:"block_resources,omitempty"`
	TimeoutMillis  int      `json:"timeout_ms,omitempty"`
}

// userAgents is a rotating pool of current desktop and mobile agents.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4.1 Mobile/15E148 Safari/604.1",
}

// viewports are realistic screen resolutions paired with the agents above.
var viewports = []Viewport{
	{1920, 1080},
	{1366, 768},
	{1536, 864},
	{1440, 900},
	{390, 844},
}

// RandomProfile returns a randomized stealth profile with resource
// blocking enabled for bandwidth-heavy asset types.
func RandomProfile() StealthProfile {
	return StealthProfile{
		UserAgent:      userAgents[rand.IntN(len(userAgents))],
		Viewport:       viewports[rand.IntN(len(viewports))],
		BlockResources: []string{"image", "media", "font", "stylesheet"},
	}
}

// FetchResult is the structured response from the browser service.
type FetchResult struct {
	URL        string `json:"url"`
	FinalURL   string `json:"final_url,omitempty"`
	StatusCode int    `json:"status_code"`
	Title      string `json:"title,omitempty"`
	HTML       string `json:"html,omitempty"`
	// Blocked is set when the service detected an explicit anti-bot
	// challenge or ban page rather than real content.
	Blocked bool `json:"blocked,omitempty"`
}

// APIError is returned when the browser service responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("browser: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the service base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a browser service client.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 90 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type fetchRequest struct {
	URL     string         `json:"url"`
	Profile StealthProfile `json:"profile"`
}

func (c *httpClient) Fetch(ctx context.Context, targetURL string, profile StealthProfile) (*FetchResult, error) {
	payload, err := json.Marshal(fetchRequest{URL: targetURL, Profile: profile})
	if err != nil {
		return nil, eris.Wrap(err, "browser: marshal fetch request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/fetch", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "browser: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "browser: fetch request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "browser: read response body")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
	}

	var result FetchResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "browser: unmarshal fetch result")
	}
	if result.URL == "" {
		result.URL = targetURL
	}
	return &result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
