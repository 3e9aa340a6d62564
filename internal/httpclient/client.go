package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Config configures one upstream client.
type Config struct {
	// Name prefixes log lines, e.g. "douban".
	Name string

	BaseURL string

	// Timeout for a single request (default: 10s).
	Timeout time.Duration

	Headers map[string]string

	// Transport swaps the underlying adapter without touching call sites.
	Transport http.RoundTripper

	// RateLimit in requests per second. Zero disables limiting.
	RateLimit float64
	RateBurst int

	// Decorate runs on every outgoing request after headers are applied.
	Decorate func(*http.Request)

	Logger *log.Logger
}

// Client is a thin logging wrapper around *http.Client. It does not retry.
type Client struct {
	name     string
	baseURL  string
	headers  map[string]string
	http     *http.Client
	limiter  *rate.Limiter
	decorate func(*http.Request)
	logger   *log.Logger
}

func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &Client{
		name:     cfg.Name,
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		headers:  cfg.Headers,
		http:     &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		limiter:  limiter,
		decorate: cfg.Decorate,
		logger:   cfg.Logger,
	}
}

// Request describes one outbound call. Path may be absolute ("https://...")
// to reach a host other than BaseURL.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers map[string]string
	Body    []byte
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON decodes the body into target.
func (r *Response) JSON(target any) error {
	return json.Unmarshal(r.Body, target)
}

// URL renders the final request URL, query included.
func (c *Client) URL(req Request) string {
	u := req.Path
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = c.baseURL + "/" + strings.TrimPrefix(req.Path, "/")
	}
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + req.Query.Encode()
	}
	return u
}

// Do sends the request. Transport failures return *NetworkError; statuses
// >= 400 return the response together with an *UpstreamError.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &NetworkError{Op: req.Method, URL: req.Path, Err: err}
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	fullURL := c.URL(req)

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if c.decorate != nil {
		c.decorate(httpReq)
	}

	// the decorator may add query params; log what actually goes out
	c.logger.Printf("[%s] ⬆️ %s %s", c.name, method, redact(httpReq.URL))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{Op: method, URL: redact(httpReq.URL), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: method, URL: redact(httpReq.URL), Err: fmt.Errorf("read body: %w", err)}
	}

	c.logger.Printf("[%s] ⬇️ %d %s", c.name, resp.StatusCode, redact(httpReq.URL))

	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}
	if resp.StatusCode >= 400 {
		c.logger.Printf("[%s] ❌ %d %s", c.name, resp.StatusCode, truncate(string(data), 512))
		return out, &UpstreamError{
			StatusCode: resp.StatusCode,
			URL:        redact(httpReq.URL),
			Body:       string(data),
			Header:     resp.Header,
		}
	}
	return out, nil
}

// Get issues a GET and returns the raw body.
func (c *Client) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

var secretParams = []string{"apiKey", "apikey", "api_key", "client_key"}

// redact hides credentials carried in the query string.
func redact(u *url.URL) string {
	q := u.Query()
	changed := false
	for _, p := range secretParams {
		if q.Has(p) {
			q.Set(p, "***")
			changed = true
		}
	}
	if !changed {
		return u.String()
	}
	cp := *u
	cp.RawQuery = q.Encode()
	return cp.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
