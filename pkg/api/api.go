// Package api provides types and functions to fetch the fuel price feeds
// published by UK retailers.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultConcurrency = 4
	DefaultUserAgent   = "Mozilla/5.0 (Linux; Android 6.0; Nexus 5 Build/MRA58N) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Mobile Safari/537.36"
)

// DefaultFeeds returns the retailer endpoints published under the CMA
// interim fuel price scheme.
func DefaultFeeds() []Feed {
	return []Feed{
		{Name: "tesco", URL: "https://www.tesco.com/fuel_prices/fuel_prices_data.json"},
		{Name: "morrisons", URL: "https://www.morrisons.com/fuel-prices/fuel.json"},
		{Name: "sainsburys", URL: "https://api.sainsburys.co.uk/v1/exports/latest/fuel_prices_data.json"},
		{Name: "asda", URL: "https://storelocator.asda.com/fuel_prices_data.json"},
		{Name: "bp", URL: "https://www.bp.com/en_gb/united-kingdom/home/fuelprices/fuel_prices_data.json"},
		{Name: "shell", URL: "https://www.shell.co.uk/fuel-prices-data.html"},
		{Name: "esso", URL: "https://fuelprices.esso.co.uk/latestdata.json"},
	}
}

// FeedClient fetches the configured retailer feeds.
type FeedClient struct {
	feeds       []Feed
	userAgent   string
	httpClient  *http.Client
	limiter     *rate.Limiter
	concurrency int
}

// Option configures a FeedClient.
type Option func(*FeedClient)

// WithUserAgent overrides the User-Agent sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *FeedClient) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithTimeout bounds every feed request.
func WithTimeout(d time.Duration) Option {
	return func(c *FeedClient) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client. A client without a timeout gets
// DefaultTimeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *FeedClient) {
		if hc == nil {
			return
		}
		if hc.Timeout <= 0 {
			hc.Timeout = DefaultTimeout
		}
		c.httpClient = hc
	}
}

// WithRateLimit spaces outbound requests to rps requests per second.
// rps <= 0 disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *FeedClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithConcurrency sets how many feeds are fetched at once.
func WithConcurrency(n int) Option {
	return func(c *FeedClient) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// NewFeedClient creates a client for feeds. Nil feeds means DefaultFeeds.
func NewFeedClient(feeds []Feed, opts ...Option) *FeedClient {
	if feeds == nil {
		feeds = DefaultFeeds()
	}
	c := &FeedClient{
		feeds:     feeds,
		userAgent: DefaultUserAgent,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Feeds returns the configured feeds.
func (c *FeedClient) Feeds() []Feed {
	return c.feeds
}

// FetchFeed fetches and decodes a single feed.
func (c *FeedClient) FetchFeed(ctx context.Context, feed Feed) (*FeedPayload, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("error waiting for rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}

	var payload FeedPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("error unmarshaling JSON: %w", err)
	}

	if _, err := payload.Timestamp(); err != nil {
		return nil, err
	}

	return &payload, nil
}

// FetchAll fetches every configured feed. A failing feed never affects the
// others; results are returned in feed order.
func (c *FeedClient) FetchAll(ctx context.Context) []FeedResult {
	results := make([]FeedResult, len(c.feeds))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, feed := range c.feeds {
		g.Go(func() error {
			payload, err := c.FetchFeed(ctx, feed)
			if err != nil {
				results[i] = FeedResult{Feed: feed, Err: &FeedError{Feed: feed.Name, Err: err}}
				return nil
			}
			results[i] = FeedResult{Feed: feed, Payload: payload}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
