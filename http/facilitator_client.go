package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	x402 "github.com/x402-foundation/x402-go"
)

const (
	defaultFacilitatorTimeout = 30 * time.Second
	supportedRetryAttempts    = 3
)

// AuthHeaders carries per-endpoint authentication headers for a hosted
// facilitator.
type AuthHeaders struct {
	Verify    map[string]string
	Settle    map[string]string
	Supported map[string]string
}

// AuthProvider supplies fresh authentication headers per call, for hosted
// facilitators with short-lived credentials.
type AuthProvider func(ctx context.Context) (AuthHeaders, error)

// FacilitatorConfig configures an HTTPFacilitatorClient.
type FacilitatorConfig struct {
	// URL is the facilitator base URL, without a trailing slash.
	URL string
	// HTTPClient overrides the default client. Its timeout wins when set.
	HTTPClient *http.Client
	// AuthProvider is optional.
	AuthProvider AuthProvider
	// Timeout applies when HTTPClient is nil. Defaults to 30s.
	Timeout time.Duration
}

// HTTPFacilitatorClient talks to a remote facilitator over its REST
// surface: POST /verify, POST /settle, GET /supported.
type HTTPFacilitatorClient struct {
	baseURL    string
	httpClient *http.Client
	auth       AuthProvider
}

// NewHTTPFacilitatorClient builds a client for a hosted facilitator.
func NewHTTPFacilitatorClient(config FacilitatorConfig) (*HTTPFacilitatorClient, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("facilitator URL is required")
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = defaultFacilitatorTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &HTTPFacilitatorClient{
		baseURL:    strings.TrimRight(config.URL, "/"),
		httpClient: httpClient,
		auth:       config.AuthProvider,
	}, nil
}

func (c *HTTPFacilitatorClient) authHeaders(ctx context.Context) (AuthHeaders, error) {
	if c.auth == nil {
		return AuthHeaders{}, nil
	}
	return c.auth(ctx)
}

// doJSON issues one request and decodes a 2xx JSON response into out. On a
// non-2xx status it returns the status and (truncated) body text.
func (c *HTTPFacilitatorClient) doJSON(ctx context.Context, method, path string, headers map[string]string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", path, err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("facilitator %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("facilitator %s: read response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &statusError{status: resp.StatusCode, body: truncate(string(respBody), 512), path: path}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("facilitator %s: parse response: %w", path, err)
	}
	return nil
}

// statusError is a non-2xx facilitator reply.
type statusError struct {
	status int
	body   string
	path   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("facilitator %s returned %d: %s", e.path, e.status, e.body)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Verify asks the facilitator to validate a payment against requirements.
func (c *HTTPFacilitatorClient) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	auth, err := c.authHeaders(ctx)
	if err != nil {
		return x402.VerifyResponse{}, fmt.Errorf("facilitator auth: %w", err)
	}
	request := x402.VerifyRequest{
		X402Version:         payload.X402Version,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	}
	var response x402.VerifyResponse
	if err := c.doJSON(ctx, http.MethodPost, "/verify", auth.Verify, request, &response); err != nil {
		return x402.VerifyResponse{}, x402.NewVerifyError(x402.ErrCodeFacilitatorError, "", err)
	}
	return response, nil
}

// Settle asks the facilitator to execute a verified payment.
func (c *HTTPFacilitatorClient) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	auth, err := c.authHeaders(ctx)
	if err != nil {
		return x402.SettleResponse{}, fmt.Errorf("facilitator auth: %w", err)
	}
	request := x402.SettleRequest{
		X402Version:         payload.X402Version,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	}
	var response x402.SettleResponse
	if err := c.doJSON(ctx, http.MethodPost, "/settle", auth.Settle, request, &response); err != nil {
		return x402.SettleResponse{}, x402.NewSettleError(x402.ErrCodeFacilitatorError, requirements.Network, err)
	}
	return response, nil
}

// GetSupported fetches the facilitator's capability directory. Rate-limited
// replies are retried with backoff since this runs during initialization.
func (c *HTTPFacilitatorClient) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	auth, err := c.authHeaders(ctx)
	if err != nil {
		return x402.SupportedResponse{}, fmt.Errorf("facilitator auth: %w", err)
	}

	var response x402.SupportedResponse
	var lastErr error
	for attempt := 0; attempt < supportedRetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return x402.SupportedResponse{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
		lastErr = c.doJSON(ctx, http.MethodGet, "/supported", auth.Supported, nil, &response)
		if lastErr == nil {
			return response, nil
		}
		var se *statusError
		if !errors.As(lastErr, &se) || se.status != http.StatusTooManyRequests {
			break
		}
	}
	return x402.SupportedResponse{}, fmt.Errorf("facilitator /supported: %w", lastErr)
}
