// Copyright 2026 The Aether Frame Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpclient provides an http.Client wrapper with retry and
// backoff, used for remote tool server transports.
package httpclient

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"
)

// RetryStrategy classifies how a failed request should be retried.
type RetryStrategy int

const (
	// NoRetry fails immediately.
	NoRetry RetryStrategy = iota

	// ConservativeRetry retries up to twice with short fixed delays,
	// for transient server errors.
	ConservativeRetry

	// BackoffRetry retries with exponential backoff honoring
	// Retry-After, for rate limiting and overload.
	BackoffRetry
)

// RetryStrategyFunc maps an HTTP status code to a retry strategy.
type RetryStrategyFunc func(statusCode int) RetryStrategy

// DefaultRetryStrategy is the strategy used unless overridden.
func DefaultRetryStrategy(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusServiceUnavailable:
		return BackoffRetry
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusGatewayTimeout:
		return ConservativeRetry
	default:
		return NoRetry
	}
}

// Client wraps http.Client with retry handling.
type Client struct {
	client       *http.Client
	maxRetries   int
	baseDelay    time.Duration
	strategyFunc RetryStrategyFunc
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.client = client }
}

func WithMaxRetries(max int) Option {
	return func(c *Client) { c.maxRetries = max }
}

func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) { c.baseDelay = delay }
}

func WithRetryStrategy(strategyFunc RetryStrategyFunc) Option {
	return func(c *Client) { c.strategyFunc = strategyFunc }
}

// New creates a Client with sane defaults: 60s request timeout, 3
// retries, 2s base delay.
func New(opts ...Option) *Client {
	client := &Client{
		client:       &http.Client{Timeout: 60 * time.Second},
		maxRetries:   3,
		baseDelay:    2 * time.Second,
		strategyFunc: DefaultRetryStrategy,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Do executes the request, retrying per the configured strategy. The
// request must have GetBody set for retries to replay the body (true for
// requests built with bytes/strings readers).
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastResp *http.Response
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
			}
			req.Body = body
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		strategy := c.strategyFunc(resp.StatusCode)
		delay := c.delay(strategy, attempt, resp.Header)
		if strategy == NoRetry || delay == 0 || attempt == c.maxRetries {
			return resp, nil
		}

		resp.Body.Close()
		lastResp, lastErr = resp, fmt.Errorf("HTTP %d", resp.StatusCode)

		slog.Debug("Retrying HTTP request",
			"status", resp.StatusCode,
			"delay", delay,
			"attempt", attempt+1,
			"max", c.maxRetries)
		time.Sleep(delay)
	}

	return lastResp, lastErr
}

func (c *Client) delay(strategy RetryStrategy, attempt int, header http.Header) time.Duration {
	switch strategy {
	case BackoffRetry:
		if retryAfter := header.Get("Retry-After"); retryAfter != "" {
			if d, err := time.ParseDuration(retryAfter + "s"); err == nil && d > 0 {
				return d
			}
		}
		exponential := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
		jitter := time.Duration(float64(exponential) * 0.1)
		return exponential + jitter

	case ConservativeRetry:
		if attempt >= 2 {
			return 0
		}
		return time.Duration(2+attempt) * time.Second

	default:
		return 0
	}
}
