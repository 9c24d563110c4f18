package sparql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dblp-kgqa/kgqa/pkg/circuitbreaker"
	"github.com/dblp-kgqa/kgqa/pkg/logger"
	"github.com/dblp-kgqa/kgqa/pkg/retry"
)

var (
	// ErrEndpoint is returned for transport failures and 5xx responses.
	ErrEndpoint = errors.New("sparql endpoint unavailable")
	// ErrQuery is returned when the endpoint rejects the query itself.
	ErrQuery = errors.New("sparql query rejected")
)

const maxErrorBody = 2048

type Client struct {
	endpoint    string
	httpClient  *http.Client
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	cb := circuitbreaker.NewCircuitBreaker("sparql", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, ErrQuery)
		},
		Logger: logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("SPARQL client initialized", zap.String("endpoint", endpoint))

	return &Client{
		endpoint:    endpoint,
		httpClient:  &http.Client{Timeout: timeout},
		cb:          cb,
		retryConfig: retryConfig,
	}
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

// Execute runs query against the endpoint and decodes the JSON result.
func (c *Client) Execute(ctx context.Context, query string) (*Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrQuery)
	}

	var result *Result
	start := time.Now()

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			res, err := c.do(ctx, query)
			if err != nil {
				if errors.Is(err, ErrQuery) {
					return retry.Permanent(err)
				}
				return err
			}
			result = res
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("SPARQL query executed",
		zap.Int("rows", len(result.Rows())),
		zap.Bool("boolean", result.IsBoolean()),
		zap.Duration("latency", time.Since(start)),
	)

	return result, nil
}

func (c *Client) do(ctx context.Context, query string) (*Result, error) {
	form := url.Values{}
	form.Set("query", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/sparql-results+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEndpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: status %d: %s", ErrEndpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: status %d: %s", ErrQuery, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: failed to decode results: %v", ErrQuery, err)
	}
	if result.Results == nil && result.Boolean == nil {
		return nil, fmt.Errorf("%w: response has neither bindings nor boolean", ErrQuery)
	}

	return &result, nil
}
