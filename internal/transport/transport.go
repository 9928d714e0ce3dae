package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Destination is a logical HTTP target with its own base URL and auth mode.
type Destination string

const (
	// DestinationTradeAPI is the external trading network API (bearer auth).
	DestinationTradeAPI Destination = "trade-api"
	// DestinationDatastore is the internal data-store service (basic auth).
	DestinationDatastore Destination = "datastore"
)

// AuthMode selects how requests to a destination are authenticated.
type AuthMode string

const (
	AuthNone   AuthMode = ""
	AuthBasic  AuthMode = "basic"
	AuthBearer AuthMode = "bearer"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultRetryAttempts = 3
	maxRetryAttempts     = 3
	defaultRetryBackoff  = time.Second
)

var (
	// ErrUnknownDestination is returned for a destination outside the configured set.
	ErrUnknownDestination = errors.New("transport: unknown destination")
	// ErrBaseURLMissing is returned when a destination has no base URL configured.
	ErrBaseURLMissing = errors.New("transport: base url missing")
	// ErrAuthConfigMissing is returned when basic credentials are absent.
	ErrAuthConfigMissing = errors.New("transport: auth config missing")
)

// DestinationConfig is the per-destination slice of configuration, re-read on
// every call so configuration changes apply without a restart.
type DestinationConfig struct {
	BaseURL       string
	AuthMode      AuthMode
	Username      string
	Password      string
	Timeout       time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration
}

// ConfigSource resolves destination configuration.
type ConfigSource interface {
	Destination(name Destination) (DestinationConfig, bool)
}

// TokenSource supplies bearer credentials for a destination.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// HTTPDoer defines http.Client interface subset.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// QueryParam is one query pair; order of the slice is preserved in the URL.
type QueryParam struct {
	Key   string
	Value string
}

// Request describes one call against a destination.
type Request struct {
	Method  string
	Path    string
	Query   []QueryParam
	Headers map[string]string
	Body    any
	// Timeout overrides the destination timeout when positive.
	Timeout time.Duration
}

// Response is the normalized envelope for every executed request. Success is
// true iff the HTTP status was 2xx; Data holds the parsed body either way so
// diagnostic payloads survive for logging.
type Response struct {
	Success        bool   `json:"success"`
	Status         int    `json:"status"`
	Data           any    `json:"data,omitempty"`
	Error          string `json:"error,omitempty"`
	ResponseTimeMS int64  `json:"response_time_ms"`
}

// Client executes requests against the closed set of logical destinations.
type Client struct {
	config ConfigSource
	tokens map[Destination]TokenSource
	client HTTPDoer
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewClient builds the transport client. tokens maps bearer destinations to
// their token managers.
func NewClient(config ConfigSource, tokens map[Destination]TokenSource, logger *zap.Logger) *Client {
	return &Client{
		config: config,
		tokens: tokens,
		client: &http.Client{},
		logger: logger,
		sleep:  sleepCtx,
	}
}

// Execute resolves the destination, injects auth, applies the timeout and
// retry policy and returns the response envelope. Configuration gaps and
// exhausted transport failures are returned as errors; any HTTP response,
// including non-2xx, comes back as an envelope.
func (c *Client) Execute(ctx context.Context, dest Destination, req Request) (*Response, error) {
	cfg, ok := c.config.Destination(dest)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDestination, dest)
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("%w: %s", ErrBaseURLMissing, dest)
	}

	authHeader, err := c.resolveAuth(ctx, dest, cfg)
	if err != nil {
		return nil, err
	}

	fullURL := buildURL(cfg.BaseURL, req.Path, req.Query)
	timeout := cfg.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	if attempts > maxRetryAttempts {
		attempts = maxRetryAttempts
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}

	var lastErr error
	renewed := false
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := c.do(ctx, dest, req, fullURL, authHeader, timeout)
		if err != nil {
			lastErr = err
			if attempt < attempts {
				if serr := c.sleep(ctx, time.Duration(attempt)*backoff); serr != nil {
					return nil, serr
				}
				continue
			}
			break
		}

		// One forced renewal and retry on auth rejection, outside the
		// general retry budget.
		if (resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden) &&
			cfg.AuthMode == AuthBearer && !renewed {
			renewed = true
			source, ok := c.tokens[dest]
			if !ok {
				return resp, nil
			}
			fresh, rerr := source.Refresh(ctx)
			if rerr != nil {
				return resp, nil
			}
			authHeader = "Bearer " + fresh
			resp, err = c.do(ctx, dest, req, fullURL, authHeader, timeout)
			if err != nil {
				return nil, err
			}
			return resp, nil
		}

		if resp.Status >= 500 && attempt < attempts {
			if serr := c.sleep(ctx, time.Duration(attempt)*backoff); serr != nil {
				return nil, serr
			}
			continue
		}
		return resp, nil
	}

	return nil, fmt.Errorf("transport: %s %s failed after %d attempts: %w", req.Method, fullURL, attempts, lastErr)
}

func (c *Client) resolveAuth(ctx context.Context, dest Destination, cfg DestinationConfig) (string, error) {
	switch cfg.AuthMode {
	case AuthNone:
		return "", nil
	case AuthBasic:
		if cfg.Username == "" || cfg.Password == "" {
			return "", fmt.Errorf("%w: %s", ErrAuthConfigMissing, dest)
		}
		raw := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))
		return "Basic " + raw, nil
	case AuthBearer:
		source, ok := c.tokens[dest]
		if !ok {
			return "", fmt.Errorf("%w: %s has no token source", ErrAuthConfigMissing, dest)
		}
		tok, err := source.Token(ctx)
		if err != nil {
			return "", err
		}
		return "Bearer " + tok, nil
	default:
		return "", fmt.Errorf("transport: unsupported auth mode %q", cfg.AuthMode)
	}
}

func (c *Client) do(ctx context.Context, dest Destination, req Request, fullURL, authHeader string, timeout time.Duration) (*Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if req.Body != nil {
		data, err := encodeBody(req.Body)
		if err != nil {
			return nil, fmt.Errorf("transport: encode body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, req.Method, fullURL, reader)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if authHeader != "" {
		httpReq.Header.Set("Authorization", authHeader)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	started := time.Now()
	httpResp, err := c.client.Do(httpReq)
	elapsed := time.Since(started)
	if err != nil {
		c.logger.Warn("request failed",
			zap.String("method", req.Method),
			zap.String("destination", string(dest)),
			zap.String("url", redactURL(fullURL)),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Status:         httpResp.StatusCode,
		Success:        httpResp.StatusCode >= 200 && httpResp.StatusCode <= 299,
		Data:           parseBody(httpResp.Header.Get("Content-Type"), body),
		ResponseTimeMS: elapsed.Milliseconds(),
	}
	if !resp.Success {
		resp.Error = fmt.Sprintf("%s %s returned status %d", req.Method, req.Path, httpResp.StatusCode)
		c.logger.Warn("request returned non-success",
			zap.String("method", req.Method),
			zap.String("destination", string(dest)),
			zap.String("url", redactURL(fullURL)),
			zap.Int("status", httpResp.StatusCode),
			zap.Duration("duration", elapsed),
			zap.String("body", truncate(string(body), 512)),
		)
		return resp, nil
	}

	c.logger.Info("request executed",
		zap.String("method", req.Method),
		zap.String("destination", string(dest)),
		zap.String("url", redactURL(fullURL)),
		zap.Int("status", httpResp.StatusCode),
		zap.Duration("duration", elapsed),
	)
	return resp, nil
}

func encodeBody(body any) ([]byte, error) {
	if raw, ok := body.([]byte); ok {
		return raw, nil
	}
	return json.Marshal(body)
}

// parseBody decodes JSON bodies; anything else is kept as raw text.
func parseBody(contentType string, body []byte) any {
	if len(body) == 0 {
		return nil
	}
	if strings.Contains(contentType, "json") {
		var decoded any
		if err := json.Unmarshal(body, &decoded); err == nil {
			return decoded
		}
	}
	return string(body)
}

// buildURL appends query parameters in caller-provided order.
func buildURL(base, path string, query []QueryParam) string {
	base = strings.TrimRight(base, "/")
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString(path)
	for i, q := range query {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(q.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(q.Value))
	}
	return b.String()
}

// redactURL strips userinfo before the URL reaches a log line.
func redactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	parsed.User = nil
	return parsed.String()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
