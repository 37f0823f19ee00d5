package spider

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"vodstream/services/hooks"
)

// Client is the transport wrapper every rule-based spider fetches through.
// It threads outbound requests and inbound responses through the hook
// pipeline; the underlying http.Client is supplied by the caller (the engine
// never constructs raw sockets or TLS config itself).
type Client struct {
	httpc    *http.Client
	pipeline *hooks.Pipeline
}

// NewClient wraps an http.Client with the hook pipeline. A nil httpc uses
// http.DefaultClient.
func NewClient(httpc *http.Client, pipeline *hooks.Pipeline) *Client {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &Client{httpc: httpc, pipeline: pipeline}
}

// Get fetches rawURL with query params and returns the response body.
func (c *Client) Get(ctx context.Context, siteKey, rawURL string, headers, params map[string]string) (string, error) {
	target, err := withQuery(rawURL, params)
	if err != nil {
		return "", err
	}
	return c.do(ctx, siteKey, http.MethodGet, target, headers, "")
}

// PostForm posts params as a url-encoded form and returns the response body.
func (c *Client) PostForm(ctx context.Context, siteKey, rawURL string, headers, form map[string]string) (string, error) {
	values := url.Values{}
	for k, v := range form {
		values.Set(k, v)
	}
	if headers == nil {
		headers = map[string]string{}
	}
	headers["Content-Type"] = "application/x-www-form-urlencoded"
	return c.do(ctx, siteKey, http.MethodPost, rawURL, headers, values.Encode())
}

func (c *Client) do(ctx context.Context, siteKey, method, target string, headers map[string]string, body string) (string, error) {
	hreq := &hooks.Request{
		Method:  method,
		URL:     target,
		Headers: copyHeaders(headers),
		SiteKey: siteKey,
	}
	if c.pipeline != nil {
		hreq = c.pipeline.RunRequest(ctx, hreq)
	}

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, hreq.Method, hreq.URL, reader)
	if err != nil {
		return "", err
	}
	for k, v := range hreq.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	hres := &hooks.Response{
		URL:        hreq.URL,
		StatusCode: resp.StatusCode,
		Headers:    flattenHeader(resp.Header),
		Body:       payload,
		SiteKey:    siteKey,
	}
	if c.pipeline != nil {
		hres = c.pipeline.RunResponse(ctx, hres)
	}

	if hres.StatusCode >= 400 {
		return "", &StatusError{URL: hreq.URL, Code: hres.StatusCode}
	}
	return string(hres.Body), nil
}

func withQuery(rawURL string, params map[string]string) (string, error) {
	if len(params) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func copyHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
