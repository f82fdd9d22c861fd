package esp

import (
	"bytes"
	"context"
	"encoding/json"
	"espdesk/internal/model"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Options configures the shared HTTP core of every provider client
type Options struct {
	RequestsPerMinute int
	Timeout           time.Duration
	HTTPClient        *http.Client
}

// client is the HTTP core shared by the provider clients: it rate limits,
// traces and turns non-2xx answers into *APIError.
type client struct {
	provider   model.Provider
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type request struct {
	method  string
	path    string
	query   url.Values
	body    interface{}
	headers map[string]string
}

type response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func newClient(provider model.Provider, baseURL string, opts Options) *client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60.0), 1)
	}

	log.Info().
		Str("provider", string(provider)).
		Int("requestsPerMinute", opts.RequestsPerMinute).
		Str("baseUrl", baseURL).
		Msg("Initializing provider client")

	return &client{
		provider:   provider,
		baseURL:    baseURL,
		httpClient: httpClient,
		limiter:    limiter,
	}
}

// do executes one request against the provider API
func (c *client) do(ctx context.Context, r request) (*response, error) {
	requestID := uuid.NewString()
	startTime := time.Now()

	endpoint := c.baseURL + r.path
	if len(r.query) > 0 {
		endpoint += "?" + r.query.Encode()
	}

	waitStart := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	log.Trace().
		Str("requestId", requestID).
		Str("provider", string(c.provider)).
		Dur("waitDuration", time.Since(waitStart)).
		Msg("Acquired rate limit token")

	var body io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("error encoding request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	execStart := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error().
			Err(err).
			Str("requestId", requestID).
			Str("provider", string(c.provider)).
			Str("method", r.method).
			Str("path", r.path).
			Dur("execDuration", time.Since(execStart)).
			Msg("Error executing provider request")
		return nil, fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Provider: c.provider, StatusCode: resp.StatusCode, Body: respBody}
		log.Debug().
			Str("requestId", requestID).
			Str("provider", string(c.provider)).
			Str("method", r.method).
			Str("path", r.path).
			Int("statusCode", resp.StatusCode).
			Int("responseSize", len(respBody)).
			Dur("totalDuration", time.Since(startTime)).
			Msg("Provider returned error response")
		return nil, apiErr
	}

	log.Debug().
		Str("requestId", requestID).
		Str("provider", string(c.provider)).
		Str("method", r.method).
		Str("path", r.path).
		Int("statusCode", resp.StatusCode).
		Int("responseSize", len(respBody)).
		Dur("execDuration", time.Since(execStart)).
		Dur("totalDuration", time.Since(startTime)).
		Msg("Provider request completed")

	return &response{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}, nil
}

// getJSON issues a GET and decodes the body into out
func (c *client) getJSON(ctx context.Context, path string, query url.Values, headers map[string]string, out interface{}) error {
	resp, err := c.do(ctx, request{method: http.MethodGet, path: path, query: query, headers: headers})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("error parsing %s response: %w", c.provider, err)
	}

	return nil
}

// rawBody returns the body as JSON, quoting it when the provider answered
// with something that is not valid JSON.
func rawBody(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return json.RawMessage(`{}`)
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(string(trimmed))
	return quoted
}
