package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/depthlab/bookfeed/internal/model"
)

// SnapshotResponse is a full book snapshot fetched over REST.
type SnapshotResponse struct {
	Venue    string
	Symbol   string
	Bids     []model.PriceLevel
	Asks     []model.PriceLevel
	Sequence int64
}

// snapshotWire is the REST response body. Levels are [price, quantity]
// string pairs, matching the stream wire format.
type snapshotWire struct {
	Venue  string     `json:"venue"`
	Symbol string     `json:"symbol"`
	Seq    int64      `json:"seq"`
	Bids   [][]string `json:"bids"`
	Asks   [][]string `json:"asks"`
}

// APIError represents an error response from a venue REST API.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("venue api error %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// SnapshotClient fetches book snapshots from a venue REST API.
type SnapshotClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration
}

// SnapshotOption configures a SnapshotClient.
type SnapshotOption func(*SnapshotClient)

// NewSnapshotClient creates a snapshot client for one venue REST base URL.
func NewSnapshotClient(baseURL string, opts ...SnapshotOption) *SnapshotClient {
	c := &SnapshotClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   3,
		retryBackoff: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) SnapshotOption {
	return func(c *SnapshotClient) { c.httpClient.Timeout = d }
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) SnapshotOption {
	return func(c *SnapshotClient) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithSnapshotLogger sets the logger.
func WithSnapshotLogger(logger *slog.Logger) SnapshotOption {
	return func(c *SnapshotClient) { c.logger = logger }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) SnapshotOption {
	return func(c *SnapshotClient) { c.httpClient = hc }
}

// Fetch retrieves the current book snapshot for a symbol, retrying
// retryable failures with jittered exponential backoff.
func (c *SnapshotClient) Fetch(ctx context.Context, venue, symbol string) (SnapshotResponse, error) {
	query := url.Values{}
	query.Set("venue", venue)
	query.Set("symbol", symbol)

	body, err := c.doWithRetry(ctx, "/v1/orderbook", query)
	if err != nil {
		return SnapshotResponse{}, fmt.Errorf("%w: %v", ErrFeedUnreachable, err)
	}

	var wire snapshotWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return SnapshotResponse{}, fmt.Errorf("decode snapshot: %w", err)
	}

	bids, err := wireLevels(wire.Bids)
	if err != nil {
		return SnapshotResponse{}, err
	}
	asks, err := wireLevels(wire.Asks)
	if err != nil {
		return SnapshotResponse{}, err
	}

	resp := SnapshotResponse{
		Venue:    wire.Venue,
		Symbol:   wire.Symbol,
		Bids:     bids,
		Asks:     asks,
		Sequence: wire.Seq,
	}
	if resp.Venue == "" {
		resp.Venue = venue
	}
	if resp.Symbol == "" {
		resp.Symbol = symbol
	}
	return resp, nil
}

func (c *SnapshotClient) doWithRetry(ctx context.Context, path string, query url.Values) ([]byte, error) {
	var lastErr error
	wait := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Jitter: wait * (0.5 to 1.5)
			jitter := wait/2 + time.Duration(rand.Int64N(int64(wait)))
			c.logger.Debug("retrying snapshot request",
				"attempt", attempt,
				"backoff", jitter,
				"path", path,
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}
			wait *= 2
		}

		body, err := c.doRequest(ctx, path, query)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if apiErr, ok := err.(*APIError); ok && !apiErr.IsRetryable() {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *SnapshotClient) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: body}
	}
	return body, nil
}

func wireLevels(raw [][]string) ([]model.PriceLevel, error) {
	levels := make([]model.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			return nil, fmt.Errorf("decode snapshot: level %v", pair)
		}
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			return nil, fmt.Errorf("decode snapshot: price %q", pair[0])
		}
		qty, err := decimal.NewFromString(pair[1])
		if err != nil {
			return nil, fmt.Errorf("decode snapshot: quantity %q", pair[1])
		}
		levels = append(levels, model.PriceLevel{Price: price, Quantity: qty})
	}
	return levels, nil
}
