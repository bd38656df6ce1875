// Package overpass provides a client for the OpenStreetMap Overpass API,
// the discovery source behind the Radar stage.
package overpass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultEndpoints are the public Overpass mirrors, tried in order.
var DefaultEndpoints = []string{
	"https://overpass-api.de/api/interpreter",
	"https://lz4.overpass-api.de/api/interpreter",
	"https://overpass.kumi.systems/api/interpreter",
}

// Client defines the Overpass operations used by the Radar stage.
type Client interface {
	// Query runs an area sweep and returns the matching elements.
	Query(ctx context.Context, req QueryRequest) ([]Element, error)
}

// QueryRequest describes one area sweep.
type QueryRequest struct {
	// Area is the named search area (city, metro, region).
	Area string
	// Selectors are tag filters like `"amenity"="school"` or
	// `"shop"="yes"`. At least one is required.
	Selectors []string
	// TimeoutSecs is the server-side query timeout.
	TimeoutSecs int
}

// Element is one OSM node/way/relation with its tags.
type Element struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    float64           `json:"lat"`
	Lon    float64           `json:"lon"`
	Center *Center           `json:"center,omitempty"`
	Tags   map[string]string `json:"tags"`
}

// Center is the centroid of a way or relation.
type Center struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Position returns the best-known coordinates of the element.
func (e Element) Position() (lat, lon float64) {
	if e.Lat != 0 || e.Lon != 0 {
		return e.Lat, e.Lon
	}
	if e.Center != nil {
		return e.Center.Lat, e.Center.Lon
	}
	return 0, 0
}

// APIError is returned when Overpass responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("overpass: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithEndpoints overrides the mirror list (for testing).
func WithEndpoints(endpoints []string) Option {
	return func(c *httpClient) {
		c.endpoints = endpoints
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	endpoints []string
	http      *http.Client
}

// NewClient creates an Overpass client with mirror failover.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		endpoints: DefaultEndpoints,
		http: &http.Client{
			Timeout: 120 * time.Second,
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

type queryResponse struct {
	Elements []Element `json:"elements"`
}

// Query posts the compiled Overpass QL to each mirror until one answers.
// A mirror failure moves on to the next; only when every mirror fails is
// the last error returned.
func (c *httpClient) Query(ctx context.Context, req QueryRequest) ([]Element, error) {
	if req.Area == "" {
		return nil, eris.New("overpass: area is required")
	}
	if len(req.Selectors) == 0 {
		return nil, eris.New("overpass: at least one selector is required")
	}

	body := compileQL(req)

	var lastErr error
	for _, endpoint := range c.endpoints {
		elements, err := c.post(ctx, endpoint, body)
		if err == nil {
			return elements, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		zap.L().Warn("overpass: mirror failed, trying next",
			zap.String("endpoint", endpoint),
			zap.Error(err),
		)
		lastErr = err
	}
	return nil, eris.Wrap(lastErr, "overpass: all mirrors failed")
}

func (c *httpClient) post(ctx context.Context, endpoint, ql string) ([]Element, error) {
	form := url.Values{"data": {ql}}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, eris.Wrap(err, "overpass: create request")
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "overpass: request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "overpass: read response body")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 200)}
	}

	var parsed queryResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, eris.Wrap(err, "overpass: unmarshal response")
	}
	return parsed.Elements, nil
}

// compileQL builds the Overpass QL body for an area sweep.
func compileQL(req QueryRequest) string {
	timeout := req.TimeoutSecs
	if timeout <= 0 {
		timeout = 90
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[out:json][timeout:%d];\n", timeout)
	fmt.Fprintf(&b, "area[\"name\"=%q]->.searchArea;\n(\n", req.Area)
	for _, sel := range req.Selectors {
		fmt.Fprintf(&b, "  nwr[%s](area.searchArea);\n", sel)
	}
	b.WriteString(");\nout center tags;")
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
