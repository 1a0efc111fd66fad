package graph

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/valyala/fasthttp"
)

const (
	defaultMaxRetries    = 3
	defaultRetryInterval = 500 * time.Millisecond
)

// ClientConfig tunes a Client.
type ClientConfig struct {
	// MaxRetries is the number of attempts per query, default 3
	MaxRetries int
	// RetryInterval is the first backoff, doubled on every attempt
	RetryInterval time.Duration
	// Headers are sent with every request
	Headers map[string]string
	// HTTPClient overrides the fasthttp client
	HTTPClient *fasthttp.Client
}

// Client is a GraphQL-over-HTTP client for one endpoint.
type Client struct {
	endpoint string
	http     *fasthttp.Client
	cfg      ClientConfig
}

// NewClient creates a client for endpoint.
func NewClient(endpoint string, cfg ClientConfig) (*Client, error) {
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return nil, errors.Errorf("invalid graph endpoint %q", endpoint)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &fasthttp.Client{Name: "holder-snapshot"}
	}
	return &Client{endpoint: endpoint, http: httpClient, cfg: cfg}, nil
}

// Endpoint returns the endpoint URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

type requestBody struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// ResponseError is one entry of a GraphQL `errors` array.
type ResponseError struct {
	Message string `json:"message"`
}

type responseBody struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []ResponseError            `json:"errors"`
}

// QueryError reports errors returned by the endpoint in the response body.
type QueryError struct {
	Endpoint string
	Errors   []ResponseError
}

func (e *QueryError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, re := range e.Errors {
		msgs = append(msgs, re.Message)
	}
	return "graph query failed at " + e.Endpoint + ": " + strings.Join(msgs, "; ")
}

// Query runs query with variables, retrying transport failures with
// exponential backoff. Errors reported by the endpoint are not retried.
func (c *Client) Query(ctx context.Context, query string, variables map[string]any) (map[string]json.RawMessage, error) {
	body, err := json.Marshal(requestBody{Query: query, Variables: variables})
	if err != nil {
		return nil, errors.Wrap(err, "encode graph request")
	}

	var lastErr error
	for attempt := range c.cfg.MaxRetries {
		if attempt > 0 {
			backoff := c.cfg.RetryInterval * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, errors.WithStack(ctx.Err())
			}
		}

		data, err := c.do(ctx, body)
		if err == nil {
			return data, nil
		}
		var qerr *QueryError
		if errors.As(err, &qerr) {
			return nil, err
		}
		lastErr = err
		slog.Warn("Graph request failed",
			"endpoint", c.endpoint,
			"attempt", attempt+1,
			"max_attempts", c.cfg.MaxRetries,
			"error", err)
	}
	return nil, errors.Wrapf(lastErr, "failed after %d attempts", c.cfg.MaxRetries)
}

func (c *Client) do(ctx context.Context, body []byte) (map[string]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.SetRequestURI(c.endpoint)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	req.SetBody(body)

	start := time.Now()
	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = c.http.DoDeadline(req, resp, deadline)
	} else {
		err = c.http.Do(req, resp)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "post %s", c.endpoint)
	}

	slog.Debug("Graph request finished",
		"endpoint", c.endpoint,
		"status_code", resp.StatusCode(),
		"duration", time.Since(start),
		"resp_content_length", len(resp.Body()))

	raw, err := resp.BodyUncompressed()
	if err != nil {
		return nil, errors.Wrapf(err, "uncompress body from %s", c.endpoint)
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return nil, errors.Errorf("graph endpoint %s returned status %d: %q", c.endpoint, code, truncate(raw, 256))
	}

	var out responseBody
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrapf(err, "decode response from %s: %q", c.endpoint, truncate(raw, 256))
	}
	if len(out.Errors) > 0 {
		return nil, errors.WithStack(&QueryError{Endpoint: c.endpoint, Errors: out.Errors})
	}
	if out.Data == nil {
		return nil, errors.Errorf("graph endpoint %s returned no data", c.endpoint)
	}
	return out.Data, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
