// Package agentclient performs request/response exchanges with the Agent Backend.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/joescharf/cloudvoice/internal/models"
)

var (
	// ErrUnreachable covers transport failures, non-2xx statuses and undecodable bodies.
	ErrUnreachable = errors.New("agent backend unreachable")
	// ErrMalformedResponse is returned when a decoded body breaks the response contract.
	ErrMalformedResponse = errors.New("malformed agent response")
)

// Request is the body POSTed to the agent endpoint.
type Request struct {
	Prompt   string `json:"prompt"`
	Approved bool   `json:"approved"`
}

// Response is a validated agent reply.
type Response struct {
	Text             string
	Data             *models.SustainabilityData
	RequiresApproval bool
	PendingAction    *models.PendingAction
	ToolUsed         string
}

// Wire shapes; field names are case-sensitive.
type responseBody struct {
	Response         *string         `json:"response"`
	Data             *dataBody       `json:"data,omitempty"`
	RequiresApproval bool            `json:"requires_approval,omitempty"`
	PendingAction    json.RawMessage `json:"pending_action,omitempty"`
	ToolUsed         string          `json:"tool_used,omitempty"`
}

type dataBody struct {
	Instance  string  `json:"instance"`
	Hours     float64 `json:"hours"`
	Footprint string  `json:"footprint"`
}

// Client talks to one agent endpoint. It never retries and sets no timeout;
// cancel the context to abandon an exchange.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for the given endpoint URL.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the configured agent URL.
func (c *Client) Endpoint() string { return c.endpoint }

// Exchange sends one request and waits for the reply.
func (c *Client) Exchange(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrUnreachable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	}

	var rb responseBody
	if err := json.NewDecoder(resp.Body).Decode(&rb); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrUnreachable, err)
	}

	return rb.validate()
}

func (rb responseBody) validate() (*Response, error) {
	if rb.Response == nil {
		return nil, fmt.Errorf("%w: missing response text", ErrMalformedResponse)
	}

	out := &Response{
		Text:     *rb.Response,
		ToolUsed: rb.ToolUsed,
	}
	if rb.Data != nil {
		out.Data = &models.SustainabilityData{
			Instance:  rb.Data.Instance,
			Hours:     rb.Data.Hours,
			Footprint: rb.Data.Footprint,
		}
	}

	// pending_action without requires_approval is dropped so the two stay paired.
	if rb.RequiresApproval {
		action, err := models.ParsePendingAction(rb.PendingAction)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
		out.RequiresApproval = true
		out.PendingAction = action
	}

	return out, nil
}
