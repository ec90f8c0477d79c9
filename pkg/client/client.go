// Package client is the Go SDK for the Ceteris HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ceterislabs/ceteris/pkg/ctxstore"
	"github.com/ceterislabs/ceteris/pkg/defaults"
	"github.com/ceterislabs/ceteris/pkg/reason"
	"github.com/ceterislabs/ceteris/pkg/types"
)

const defaultTimeout = 30 * time.Second

// APIError is a decoded RFC 7807 problem response.
type APIError struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ceteris: %s (%d): %s", e.Title, e.Status, e.Detail)
}

// Config carries client construction options.
type Config struct {
	// BaseURL is the server address, e.g. "http://localhost:8080".
	BaseURL string

	// APIKey is the Bearer token for authenticated endpoints.
	APIKey string

	// HTTPClient is optional; a 30 second timeout client is used when nil.
	HTTPClient *http.Client
}

// Client talks to a Ceteris server.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a client for the given server.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ceteris: BaseURL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    httpClient,
	}, nil
}

// Health checks server liveness. It requires no authentication.
func (c *Client) Health(ctx context.Context) (*types.HealthResponse, error) {
	var out types.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateContext creates a new context.
func (c *Client) CreateContext(ctx context.Context, req types.CreateContextRequest) (*ctxstore.Context, error) {
	var out ctxstore.Context
	if err := c.do(ctx, http.MethodPost, "/api/v1/contexts", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetContext fetches a context by id.
func (c *Client) GetContext(ctx context.Context, id string) (*ctxstore.Context, error) {
	var out ctxstore.Context
	if err := c.do(ctx, http.MethodGet, "/api/v1/contexts/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListContexts returns every context on the server.
func (c *Client) ListContexts(ctx context.Context) ([]*ctxstore.Context, error) {
	var out types.ListContextsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/contexts", nil, &out); err != nil {
		return nil, err
	}
	return out.Contexts, nil
}

// ActivateContext makes the given context the active one.
func (c *Client) ActivateContext(ctx context.Context, id string) (*ctxstore.Context, error) {
	var out ctxstore.Context
	if err := c.do(ctx, http.MethodPost, "/api/v1/contexts/"+id+"/activate", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetVariable sets a variable on a context and returns the updated context.
func (c *Client) SetVariable(ctx context.Context, contextID string, req types.SetVariableRequest) (*ctxstore.Context, error) {
	var out ctxstore.Context
	if err := c.do(ctx, http.MethodPut, "/api/v1/contexts/"+contextID+"/variables", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Retrieve runs contextualized retrieval.
func (c *Client) Retrieve(ctx context.Context, req types.RetrieveRequest) (*types.RetrieveResponse, error) {
	var out types.RetrieveResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/retrieve", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddDefault registers a default rule and returns its id.
func (c *Client) AddDefault(ctx context.Context, req types.AddDefaultRequest) (string, error) {
	var out types.CreatedResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/defaults", req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// AddException registers an exception against a default and returns its id.
func (c *Client) AddException(ctx context.Context, defaultID string, req types.AddExceptionRequest) (string, error) {
	var out types.CreatedResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/defaults/"+defaultID+"/exceptions", req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// ApplyDefaults runs default reasoning against a query.
func (c *Client) ApplyDefaults(ctx context.Context, req types.ApplyRequest) (*defaults.Decision, error) {
	var out defaults.Decision
	if err := c.do(ctx, http.MethodPost, "/api/v1/defaults/apply", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Query runs the full reasoning pipeline.
func (c *Client) Query(ctx context.Context, req types.QueryRequest) (*reason.Answer, error) {
	var out reason.Answer
	if err := c.do(ctx, http.MethodPost, "/api/v1/query", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExportContexts streams the server's context document to the writer.
func (c *Client) ExportContexts(ctx context.Context, w io.Writer) error {
	resp, err := c.raw(ctx, http.MethodGet, "/api/v1/contexts/export", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("ceteris: read export: %w", err)
	}
	return nil
}

// ImportContexts replaces the server's context state with the document read
// from r.
func (c *Client) ImportContexts(ctx context.Context, r io.Reader) error {
	resp, err := c.raw(ctx, http.MethodPost, "/api/v1/contexts/import", r)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// AddFact appends one ground fact to the server's rule base.
func (c *Client) AddFact(ctx context.Context, fact string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/facts", types.FactRequest{Fact: fact}, nil)
}

// LoadRules loads a rule program into the server's rule base.
func (c *Client) LoadRules(ctx context.Context, rules string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/rules", types.RulesRequest{Rules: rules}, nil)
}

// raw sends an authenticated request with an unencoded body and returns the
// response when it is 2xx. Non-2xx responses are returned as *APIError.
func (c *Client) raw(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("ceteris: build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ceteris: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Title: http.StatusText(resp.StatusCode)}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		resp.Body.Close()
		return nil, apiErr
	}
	return resp, nil
}

// do sends an authenticated JSON request and decodes the response into out
// when out is non-nil. Non-2xx responses are returned as *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("ceteris: encode request: %w", err)
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = &bytes.Buffer{}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("ceteris: build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ceteris: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Title: http.StatusText(resp.StatusCode)}
		// Best effort problem decode; fall back to the status line.
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ceteris: decode response: %w", err)
	}
	return nil
}
