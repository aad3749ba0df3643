package sources

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/StalkR/hsts"
	"golang.org/x/time/rate"
)

const defaultUserAgent = "CatalogHarvester/1.0"

// ClientOptions tunes the upstream HTTP client.
type ClientOptions struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	UserAgent         string
}

// Client is the rate-limited, HSTS-aware HTTP client shared by every source.
type Client struct {
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
}

// NewClient builds a client; a nil base selects a fresh HSTS-enabled one.
func NewClient(base *http.Client, opts ClientOptions) *Client {
	if base == nil {
		base = SecureHTTPClient(opts.Timeout)
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Client{http: base, limiter: rate.NewLimiter(limit, 1), userAgent: ua}
}

// SecureHTTPClient enables HTTP Strict Transport Security and refuses
// redirects that downgrade to plain HTTP.
func SecureHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("stopped after %d redirects", len(via))
			}
			if len(via) > 0 && via[0].URL.Scheme == "https" && req.URL.Scheme == "http" {
				return fmt.Errorf("refusing downgrade redirect to %s%s", req.URL.Host, req.URL.Path)
			}
			return nil
		},
	}
	client.Transport = hsts.New(client.Transport)
	return client
}

// Do waits for the rate limiter and sends req with the client User-Agent.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return c.http.Do(req)
}

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	URL    string
	Status string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %s", e.URL, e.Status)
}

func (c *Client) get(ctx context.Context, url string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{URL: url, Status: resp.Status, Code: resp.StatusCode}
	}
	return resp, nil
}

// GetJSON decodes a JSON document into v.
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, v any) error {
	resp, err := c.get(ctx, url, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// GetXML decodes an XML document into v.
func (c *Client) GetXML(ctx context.Context, url string, v any) error {
	resp, err := c.get(ctx, url, map[string]string{"Accept": "application/xml"})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := xml.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// GetDocument fetches and parses an HTML page.
func (c *Client) GetDocument(ctx context.Context, url string) (*goquery.Document, error) {
	resp, err := c.get(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document %s: %w", url, err)
	}
	return doc, nil
}

// Reachable reports whether a GET of url answers with a 2xx status.
func (c *Client) Reachable(ctx context.Context, url string, headers map[string]string) bool {
	resp, err := c.get(ctx, url, headers)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}
