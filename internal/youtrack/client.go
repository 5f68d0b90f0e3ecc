// Package youtrack provides an HTTP client and data types for the YouTrack
// REST API: authenticated requests with bounded retries, offset paging, and
// concurrent per-issue activity history.
package youtrack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/steveyegge/pulse/internal/telemetry"
)

const maxResponseSize = 50 * 1024 * 1024

// Settings configures a Client.
type Settings struct {
	BaseURL         string
	Token           string
	Timeout         time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
	MaxConnsPerHost int
}

func (s Settings) withDefaults() Settings {
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	if s.MaxRetries <= 0 {
		s.MaxRetries = DefaultMaxRetries
	}
	if s.RetryDelay <= 0 {
		s.RetryDelay = DefaultRetryDelay
	}
	if s.MaxConnsPerHost <= 0 {
		s.MaxConnsPerHost = DefaultMaxConnsPerHost
	}
	s.BaseURL = strings.TrimRight(s.BaseURL, "/")
	return s
}

// Client talks to one YouTrack instance. It is safe for concurrent use; the
// header set is fixed at construction.
type Client struct {
	settings   Settings
	header     http.Header
	httpClient *http.Client
	log        *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client. The underlying transport caps connections
// per host at settings.MaxConnsPerHost.
func NewClient(settings Settings) *Client {
	settings = settings.withDefaults()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+settings.Token)
	header.Set("Accept", "application/json")
	header.Set("Content-Type", "application/json")

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = settings.MaxConnsPerHost
	transport.MaxIdleConnsPerHost = settings.MaxConnsPerHost

	return &Client{
		settings: settings,
		header:   header,
		httpClient: &http.Client{
			Timeout:   settings.Timeout,
			Transport: transport,
		},
		log:   slog.New(slog.DiscardHandler),
		sleep: sleepContext,
	}
}

// WithHTTPClient returns a copy of the client using httpClient.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	cp := *c
	cp.httpClient = httpClient
	return &cp
}

// WithLogger returns a copy of the client logging to log.
func (c *Client) WithLogger(log *slog.Logger) *Client {
	cp := *c
	if log != nil {
		cp.log = log
	}
	return &cp
}

// Settings returns the effective settings.
func (c *Client) Settings() Settings {
	return c.settings
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Result is a decoded 2xx response body: either a JSON object or an array.
type Result struct {
	Raw json.RawMessage
}

// Items coerces the body to a list. An object becomes a one-element list;
// null becomes an empty one.
func (r *Result) Items() ([]json.RawMessage, error) {
	body := strings.TrimSpace(string(r.Raw))
	switch {
	case body == "" || body == "null":
		return nil, nil
	case body[0] == '[':
		var items []json.RawMessage
		if err := json.Unmarshal(r.Raw, &items); err != nil {
			return nil, fmt.Errorf("decode list body: %w", err)
		}
		return items, nil
	case body[0] == '{':
		return []json.RawMessage{r.Raw}, nil
	}
	return nil, fmt.Errorf("unexpected body shape: %.40q", body)
}

// Decode unmarshals the body into v.
func (r *Result) Decode(v any) error {
	if err := json.Unmarshal(r.Raw, v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// Requester is the request surface the pager and history fetcher need.
type Requester interface {
	Request(ctx context.Context, endpoint string, params url.Values, method string) (*Result, error)
}

// retryPolicy selects the delay schedule for each failure class.
type retryPolicy struct {
	exponentialServerErrors bool
}

// Request performs one logical call against {base}/api/{endpoint}.
//
// HTTP 429 waits for Retry-After (or the retry delay) and tries again
// without consuming an attempt; only ctx bounds that wait. Every other
// failure consumes an attempt and is retried after a fixed delay until the
// budget is spent.
func (c *Client) Request(ctx context.Context, endpoint string, params url.Values, method string) (*Result, error) {
	return c.request(ctx, endpoint, params, method, retryPolicy{})
}

func (c *Client) buildURL(endpoint string, params url.Values) string {
	u := c.settings.BaseURL + "/api/" + strings.TrimLeft(endpoint, "/")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func (c *Client) request(ctx context.Context, endpoint string, params url.Values, method string, policy retryPolicy) (*Result, error) {
	if method == "" {
		method = http.MethodGet
	}
	urlStr := c.buildURL(endpoint, params)
	m := telemetry.HTTPMetrics()

	fixed := backoff.NewConstantBackOff(c.settings.RetryDelay)
	var server backoff.BackOff = fixed
	if policy.exponentialServerErrors {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = c.settings.RetryDelay
		exp.RandomizationFactor = 0.2
		exp.MaxElapsedTime = 0
		exp.Reset()
		server = exp
	}

	var lastErr error
	for attempt := 1; attempt <= c.settings.MaxRetries; {
		start := time.Now()
		body, status, header, err := c.roundTrip(ctx, method, urlStr)
		m.Requests.Add(ctx, 1, metric.WithAttributes(
			attribute.String("endpoint", endpointLabel(endpoint)),
			attribute.Int("status", status),
		))
		m.Duration.Record(ctx, time.Since(start).Seconds())

		if err == nil && status >= 200 && status < 300 {
			return &Result{Raw: body}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		if err == nil && status == http.StatusTooManyRequests {
			delay := retryAfter(header, c.settings.RetryDelay, time.Now())
			m.RateLimited.Add(ctx, 1)
			c.log.Warn("rate limited", "endpoint", endpoint, "wait", delay)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		next := fixed.NextBackOff()
		if err == nil {
			apiErr := &APIError{StatusCode: status, Endpoint: endpoint, Body: string(body)}
			lastErr = apiErr
			if apiErr.IsServerError() {
				next = server.NextBackOff()
			}
		} else {
			lastErr = err
		}

		if attempt == c.settings.MaxRetries {
			break
		}
		m.Retries.Add(ctx, 1)
		c.log.Debug("retrying request", "endpoint", endpoint, "attempt", attempt, "max", c.settings.MaxRetries, "delay", next, "error", lastErr)
		if err := c.sleep(ctx, next); err != nil {
			return nil, err
		}
		attempt++
	}

	return nil, fmt.Errorf("%s %s: %w after %d attempts: %w", method, endpoint, ErrRetriesExhausted, c.settings.MaxRetries, lastErr)
}

func (c *Client) roundTrip(ctx context.Context, method, urlStr string) ([]byte, int, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, method, urlStr, nil)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = c.header.Clone()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, 0, nil, fmt.Errorf("request timed out: %w", err)
		}
		return nil, 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, resp.StatusCode, resp.Header, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, resp.Header, nil
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP
// date, falling back to def.
func retryAfter(h http.Header, def time.Duration, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return def
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		if seconds < 0 {
			return def
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return def
}

// endpointLabel strips ids from an endpoint so metric cardinality stays low.
func endpointLabel(endpoint string) string {
	parts := strings.Split(strings.Trim(endpoint, "/"), "/")
	for i := 1; i < len(parts); i++ {
		switch parts[i-1] {
		case "issues", "projects", "agiles":
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}
