package raggate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultTimeout = 90 * time.Second

// Option configures the Client.
type Option interface {
	apply(*Client)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*Client)

func (f optionFunc) apply(c *Client) { f(c) }

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) Option {
	return optionFunc(func(c *Client) { c.apiKey = key })
}

// WithCaller sets the default caller identity for every request.
func WithCaller(caller Caller) Option {
	return optionFunc(func(c *Client) { c.caller = caller })
}

// WithHTTPClient replaces the underlying HTTP client. The client used for
// ChatStream must not enforce an overall request timeout.
func WithHTTPClient(hc *http.Client) Option {
	return optionFunc(func(c *Client) { c.http = hc })
}

// Client calls the raggate HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	caller  Caller
	http    *http.Client
}

// New creates a raggate API client.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o.apply(c)
	}
	return c
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("raggate: %s (%s, http %d)", e.Message, e.Code, e.Status)
}

type apiRequest struct {
	Query   string          `json:"query"`
	Options *requestOptions `json:"options,omitempty"`
}

type requestOptions struct {
	QueryOptions
	Stream bool `json:"stream,omitempty"`
}

// Search retrieves ranked, access-filtered matches without generation.
func (c *Client) Search(ctx context.Context, query string, opts *QueryOptions) (SearchResult, error) {
	var out SearchResult
	if err := c.postJSON(ctx, "/search", query, opts, false, &out); err != nil {
		return SearchResult{}, err
	}
	return out, nil
}

// Chat runs the full pipeline and returns a complete answer, or a
// clarification when the query is ambiguous.
func (c *Client) Chat(ctx context.Context, query string, opts *QueryOptions) (ChatResult, error) {
	var out ChatResult
	if err := c.postJSON(ctx, "/chat", query, opts, false, &out); err != nil {
		return ChatResult{}, err
	}
	return out, nil
}

func (c *Client) postJSON(
	ctx context.Context, path, query string, opts *QueryOptions, stream bool, out any,
) error {
	resp, err := c.post(ctx, path, query, opts, stream)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("raggate: decode response: %w", err)
	}
	return nil
}

func (c *Client) post(
	ctx context.Context, path, query string, opts *QueryOptions, stream bool,
) (*http.Response, error) {
	body := apiRequest{Query: query}
	if opts != nil || stream {
		ro := &requestOptions{Stream: stream}
		if opts != nil {
			ro.QueryOptions = *opts
		}
		body.Options = ro
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("raggate: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("raggate: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuthHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("raggate: %s: %w", path, err)
	}
	return resp, nil
}

func (c *Client) setAuthHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.caller.Role != "" {
		req.Header.Set("X-Caller-Role", c.caller.Role)
	}
	if c.caller.Tier != "" {
		req.Header.Set("X-Caller-Tier", c.caller.Tier)
	}
	if c.caller.Clearance > 0 {
		req.Header.Set("X-Caller-Clearance", strconv.Itoa(c.caller.Clearance))
	}
	if c.caller.EmployeeID != "" {
		req.Header.Set("X-Caller-Employee", c.caller.EmployeeID)
	}
	if c.caller.Department != "" {
		req.Header.Set("X-Caller-Department", c.caller.Department)
	}
	if c.caller.Region != "" {
		req.Header.Set("X-Caller-Region", c.caller.Region)
	}
}

func apiError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Code: "internal_error", Message: "internal error"}
	_ = json.NewDecoder(resp.Body).Decode(apiErr)
	return apiErr
}
