package marketdata

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/quantfold/optrisk/internal/config"
)

// APIError represents a quote API error with status code and response body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// quoteResponse is the provider's wire format.
type quoteResponse struct {
	Symbol string  `json:"symbol"`
	Last   float64 `json:"last"`
}

// Client fetches spot prices over HTTP with retry, backoff, and a circuit
// breaker. It implements Provider.
type Client struct {
	httpClient     *http.Client
	breaker        *gobreaker.CircuitBreaker
	logger         logrus.FieldLogger
	baseURL        string
	apiKey         string
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

var _ Provider = (*Client)(nil)

// NewClient builds a quote client from configuration.
func NewClient(cfg config.MarketDataConfig, logger logrus.FieldLogger) *Client {
	c := &Client{
		httpClient:     &http.Client{Timeout: cfg.GetQuoteTimeout()},
		logger:         logger,
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:         cfg.APIKey,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.GetInitialBackoff(),
		maxBackoff:     cfg.GetMaxBackoff(),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "MarketDataCircuitBreaker",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warnf("circuit breaker %s state changed from %s to %s", name, from, to)
		},
	})
	return c
}

// GetSpot fetches the last trade price for symbol, retrying transient
// failures with jittered exponential backoff.
func (c *Client) GetSpot(ctx context.Context, symbol string) (float64, error) {
	var lastErr error
	backoff := c.initialBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("quote fetch canceled: %w", ctx.Err())
		}

		spot, err := c.fetchSpot(ctx, symbol)
		if err == nil {
			return spot, nil
		}
		lastErr = err

		if !isTransientError(err) || attempt == c.maxRetries {
			break
		}
		c.logger.WithField("symbol", symbol).WithError(err).
			Warnf("quote attempt %d/%d failed, retrying in %v", attempt+1, c.maxRetries+1, backoff)
		select {
		case <-time.After(backoff):
			backoff = c.nextBackoff(backoff)
		case <-ctx.Done():
			return 0, fmt.Errorf("quote fetch canceled during backoff: %w", ctx.Err())
		}
	}

	return 0, fmt.Errorf("fetching spot for %s: %w", symbol, lastErr)
}

// fetchSpot performs one request through the circuit breaker.
func (c *Client) fetchSpot(ctx context.Context, symbol string) (float64, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doRequest(ctx, symbol)
	})
	if err != nil {
		return 0, err
	}
	spot, ok := res.(float64)
	if !ok {
		return 0, fmt.Errorf("circuit breaker: type assertion failed")
	}
	return spot, nil
}

func (c *Client) doRequest(ctx context.Context, symbol string) (float64, error) {
	endpoint := fmt.Sprintf("%s/v1/quotes/%s", c.baseURL, url.PathEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, &APIError{Status: resp.StatusCode, Body: string(body)}
	}

	var quote quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return 0, fmt.Errorf("decoding quote for %s: %w", symbol, err)
	}
	if quote.Last <= 0 {
		return 0, fmt.Errorf("quote for %s has no usable last price", symbol)
	}
	return quote.Last, nil
}

func (c *Client) nextBackoff(current time.Duration) time.Duration {
	backoff := time.Duration(float64(current) * 1.5)
	if backoff > c.maxBackoff {
		backoff = c.maxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err == nil {
			backoff += time.Duration(jitterVal.Int64())
		}
	}
	return backoff
}

// isTransientError reports whether an error is worth retrying.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == 429 || apiErr.Status >= 500
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"network",
		"dns",
		"tcp",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
