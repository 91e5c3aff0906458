// Package service implements the resting heart rate passthrough.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"runalyze-proxy-go/internal/client"
	"runalyze-proxy-go/internal/config"
	"runalyze-proxy-go/internal/metrics"
)

// APIKeyEnv names the environment variable holding the Runalyze token.
const APIKeyEnv = "RUNALYZE_API_KEY"

// ErrMissingAPIKey is returned when the token is absent from the environment.
var ErrMissingAPIKey = errors.New(APIKeyEnv + " not set in Netlify environment")

// TransportError wraps a failure to complete the upstream call or to decode
// its body. Its message is the underlying failure's text, unprefixed.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// allowedUpstreamHosts restricts which hosts the proxy will forward to.
var allowedUpstreamHosts = map[string]bool{
	"runalyze.com": true,
}

// restingHeartRatePath is the fixed resource served by the proxy.
const restingHeartRatePath = "/api/v1/metrics/heartRateRest"

// ProxyService forwards the resting heart rate query to Runalyze.
// It holds no per-request state; the token is looked up on every call.
type ProxyService struct {
	client  *client.RunalyzeClient
	logger  *slog.Logger
	metrics *metrics.Metrics
	baseURL *url.URL
	getenv  func(string) string
}

// NewProxyService creates a ProxyService.
func NewProxyService(c *client.RunalyzeClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*ProxyService, error) {
	s, err := NewProxyServiceForTest(c, cfg, logger, m)
	if err != nil {
		return nil, err
	}
	if !allowedUpstreamHosts[s.baseURL.Hostname()] {
		return nil, fmt.Errorf("upstream host %q is not in the allowlist", s.baseURL.Hostname())
	}
	return s, nil
}

// NewProxyServiceForTest creates a ProxyService without host allowlist validation.
// This is intended only for tests that use httptest servers on localhost.
func NewProxyServiceForTest(c *client.RunalyzeClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}

	return &ProxyService{
		client:  c,
		logger:  logger.With("component", "proxy_service"),
		metrics: m,
		baseURL: u,
		getenv:  os.Getenv,
	}, nil
}

// RestingHeartRate fetches the first page of resting heart rate metrics and
// returns the upstream JSON body untouched.
//
// Errors are one of ErrMissingAPIKey (no upstream call was made),
// *client.StatusError (non-2xx upstream status; body not read) or
// *TransportError.
func (s *ProxyService) RestingHeartRate(ctx context.Context) (json.RawMessage, error) {
	payload, err := s.restingHeartRate(ctx)
	s.recordOutcome(err)
	return payload, err
}

func (s *ProxyService) restingHeartRate(ctx context.Context) (json.RawMessage, error) {
	apiKey := s.resolveAPIKey()
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	upstreamURL := s.buildUpstreamURL(restingHeartRatePath, url.Values{"page": {"1"}})
	s.logger.Debug("forwarding request", "path", restingHeartRatePath)

	resp, err := s.client.Get(ctx, upstreamURL, apiKey)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if !resp.OK() {
		return nil, &client.StatusError{StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	// Unmarshal into RawMessage validates the whole body without re-encoding it.
	var payload json.RawMessage
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &TransportError{Err: err}
	}
	return payload, nil
}

// resolveAPIKey reads the token from the environment on every call so a
// rotated secret takes effect without a restart.
func (s *ProxyService) resolveAPIKey() string {
	return s.getenv(APIKeyEnv)
}

func (s *ProxyService) buildUpstreamURL(path string, query url.Values) string {
	u := *s.baseURL
	u.Path = path
	u.RawQuery = query.Encode()
	return u.String()
}

func (s *ProxyService) recordOutcome(err error) {
	if s.metrics == nil {
		return
	}

	outcome := metrics.OutcomeSuccess
	var statusErr *client.StatusError
	switch {
	case err == nil:
	case errors.Is(err, ErrMissingAPIKey):
		outcome = metrics.OutcomeConfigMissing
	case errors.As(err, &statusErr):
		outcome = metrics.OutcomeUpstreamError
	default:
		outcome = metrics.OutcomeTransportError
	}
	s.metrics.ForwardOutcomes.WithLabelValues(outcome).Inc()
}
