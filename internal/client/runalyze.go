// Package client provides the upstream HTTP client for the Runalyze Personal API.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"runalyze-proxy-go/internal/config"
	"runalyze-proxy-go/internal/metrics"
	"runalyze-proxy-go/internal/model"
)

// TokenHeader carries the personal API token on every Runalyze request.
const TokenHeader = "token"

const userAgent = "runalyze-proxy-go/1.0"

// StatusError reports a non-2xx Runalyze response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Runalyze API returned %d", e.StatusCode)
}

// RunalyzeClient sends requests to the Runalyze API.
type RunalyzeClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewRunalyzeClient creates a RunalyzeClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewRunalyzeClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *RunalyzeClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &RunalyzeClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		logger:  logger.With("component", "runalyze_client"),
		metrics: m,
	}
}

// Do executes an HTTP request against the upstream and returns the raw response.
// The caller is responsible for closing the response body.
//
// Transport failures are returned unwrapped: the *url.Error already names the
// operation and URL, and its text is what callers surface to clients.
func (c *RunalyzeClient) Do(req *http.Request) (*model.UpstreamResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via UpstreamResponse
	duration := time.Since(start).Seconds()

	resource := metrics.NormalizeResource(req.URL.Path)

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(resource).Observe(duration)
	}
	if err != nil {
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(resource, strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// Get issues an authenticated GET for rawURL.
// The provided context controls the lifetime of the upstream request.
func (c *RunalyzeClient) Get(ctx context.Context, rawURL, token string) (*model.UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set(TokenHeader, token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	return c.Do(req)
}
