package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// unhealthyAfter is the number of consecutive failures that marks a provider unhealthy.
const unhealthyAfter = 3

// HTTPProvider is the base implementation for HTTP-based provider adapters.
// It provides connection pooling, retry with exponential backoff, and request
// counters for health reporting.
//
// Concrete adapters embed this struct and implement Complete.
type HTTPProvider struct {
	// config contains the provider configuration
	config ProviderConfig

	// client is the HTTP client with connection pooling
	client *http.Client

	// health tracks request outcomes
	health ProviderHealth

	// healthMu protects concurrent access to health status
	healthMu sync.RWMutex

	logger *slog.Logger
}

// NewHTTPProvider creates a new base HTTP provider with connection pooling.
func NewHTTPProvider(config ProviderConfig) *HTTPProvider {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        config.MaxIdleConns,
		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		IdleConnTimeout:     config.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}

	return &HTTPProvider{
		config: config,
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
		health: ProviderHealth{
			IsHealthy: true, // Start optimistic
		},
		logger: slog.Default().With("component", "providers.http", "provider", config.Name),
	}
}

// GetName returns the provider's configured name.
func (p *HTTPProvider) GetName() string {
	return p.config.Name
}

// GetConfig returns the provider's configuration.
func (p *HTTPProvider) GetConfig() ProviderConfig {
	return p.config
}

// GetHealth returns a copy of the provider's request counters.
func (p *HTTPProvider) GetHealth() ProviderHealth {
	p.healthMu.RLock()
	defer p.healthMu.RUnlock()
	return p.health
}

// recordAttempt updates counters after each HTTP attempt.
func (p *HTTPProvider) recordAttempt(err error) {
	p.healthMu.Lock()
	defer p.healthMu.Unlock()

	p.health.TotalRequests++
	if err == nil {
		p.health.IsHealthy = true
		p.health.ConsecutiveFailures = 0
		p.health.LastError = ""
		p.health.LastSuccessfulRequest = time.Now()
		return
	}

	p.health.FailedRequests++
	p.health.ConsecutiveFailures++
	p.health.LastError = err.Error()

	if p.health.ConsecutiveFailures >= unhealthyAfter && p.health.IsHealthy {
		p.health.IsHealthy = false
		p.logger.Warn("provider marked unhealthy",
			"consecutive_failures", p.health.ConsecutiveFailures,
			"error", err,
		)
	}
}

// newBackOff builds the retry policy for one DoRequest call.
func (p *HTTPProvider) newBackOff(ctx context.Context) backoff.BackOffContext {
	eb := backoff.NewExponentialBackOff()
	if p.config.RetryBackoff > 0 {
		eb.InitialInterval = p.config.RetryBackoff
	}
	eb.Multiplier = 2
	eb.MaxElapsedTime = 0 // bounded by MaxRetries instead

	retries := p.config.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)
}

// DoRequest performs an HTTP request, retrying network errors and 5xx responses.
// Authentication failures, 400 and 429 responses are returned immediately.
//
// Retries happen inside a single call, so the caller observes one outcome
// regardless of how many attempts were made.
func (p *HTTPProvider) DoRequest(ctx context.Context, method, url string, body []byte, headers map[string]string) (*http.Response, error) {
	var (
		resp    *http.Response
		attempt int
	)

	operation := func() error {
		attempt++

		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}

		for key, value := range headers {
			req.Header.Set(key, value)
		}
		if req.Header.Get("Content-Type") == "" && body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		p.logger.Debug("sending request to provider",
			"method", method,
			"url", url,
			"attempt", attempt,
		)

		r, err := p.client.Do(req)
		if err != nil {
			p.recordAttempt(err)
			if ctx.Err() != nil {
				return backoff.Permanent(&TimeoutError{
					Provider: p.config.Name,
					Timeout:  p.config.Timeout,
					Cause:    ctx.Err(),
				})
			}
			return &ProviderError{
				Provider: p.config.Name,
				Message:  "request failed",
				Cause:    err,
			}
		}

		if r.StatusCode >= 200 && r.StatusCode < 300 {
			p.recordAttempt(nil)
			resp = r
			return nil
		}

		errorBody, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()

		switch r.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			authErr := &AuthError{Provider: p.config.Name, Message: string(errorBody)}
			p.recordAttempt(authErr)
			return backoff.Permanent(authErr)

		case http.StatusTooManyRequests:
			rlErr := &RateLimitError{
				Provider:   p.config.Name,
				RetryAfter: parseRetryAfter(r.Header.Get("Retry-After")),
				Message:    string(errorBody),
			}
			p.recordAttempt(rlErr)
			return backoff.Permanent(rlErr)

		case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
			badErr := &ProviderError{
				Provider:   p.config.Name,
				StatusCode: r.StatusCode,
				Message:    string(errorBody),
			}
			p.recordAttempt(badErr)
			return backoff.Permanent(badErr)

		default:
			serverErr := &ProviderError{
				Provider:   p.config.Name,
				StatusCode: r.StatusCode,
				Message:    string(errorBody),
			}
			p.recordAttempt(serverErr)
			return serverErr
		}
	}

	notify := func(err error, wait time.Duration) {
		p.logger.Warn("request failed, will retry",
			"attempt", attempt,
			"max_retries", p.config.MaxRetries,
			"backoff", wait,
			"error", err,
		)
	}

	if err := backoff.RetryNotify(operation, p.newBackOff(ctx), notify); err != nil {
		if ctx.Err() != nil && err == ctx.Err() {
			return nil, &TimeoutError{Provider: p.config.Name, Timeout: p.config.Timeout, Cause: err}
		}
		return nil, err
	}
	return resp, nil
}

// DoJSONRequest performs a JSON request and decodes the response.
func (p *HTTPProvider) DoJSONRequest(ctx context.Context, method, url string, reqBody interface{}, respBody interface{}, headers map[string]string) error {
	var bodyBytes []byte
	if reqBody != nil {
		var err error
		bodyBytes, err = json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	resp, err := p.DoRequest(ctx, method, url, bodyBytes, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	responseBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ParseError{
			Provider: p.config.Name,
			Cause:    fmt.Errorf("failed to read response: %w", err),
		}
	}

	if respBody != nil && len(responseBytes) > 0 {
		if err := json.Unmarshal(responseBytes, respBody); err != nil {
			return &ParseError{
				Provider:    p.config.Name,
				RawResponse: string(responseBytes),
				Cause:       fmt.Errorf("failed to unmarshal response: %w", err),
			}
		}
	}

	return nil
}

// Close closes idle connections.
func (p *HTTPProvider) Close() error {
	p.client.CloseIdleConnections()
	p.logger.Info("provider closed")
	return nil
}

// parseRetryAfter parses the Retry-After header value.
// It supports both delay-seconds and HTTP-date formats.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(header); err == nil {
		return time.Until(t)
	}

	return 0
}
