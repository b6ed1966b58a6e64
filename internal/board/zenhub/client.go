// Package zenhub implements the board adapter for the GitHub-issue-based
// board.
//
// All operations go through a single GraphQL endpoint with bearer-token
// auth. ID shapes are mixed: workspace and repository IDs are plain numeric
// strings, everything else is an opaque global ID; the adapter never
// assumes a uniform shape. Labels are write-once: they can only be set at
// issue creation.
package zenhub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agilekit/boardsync/internal/board"
	"github.com/agilekit/boardsync/internal/config"
)

// DefaultEndpoint is the public GraphQL endpoint.
const DefaultEndpoint = "https://api.zenhub.com/public/graphql"

// DefaultTimeout bounds each HTTP call.
const DefaultTimeout = 30 * time.Second

// Client executes GraphQL operations against the board API.
type Client struct {
	Endpoint   string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a client with bearer-token auth.
func NewClient(token string) *Client {
	return &Client{
		Endpoint: DefaultEndpoint,
		Token:    token,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// WithEndpoint returns a client pointed at a custom endpoint (testing).
func (c *Client) WithEndpoint(endpoint string) *Client {
	return &Client{
		Endpoint:   endpoint,
		Token:      c.Token,
		HTTPClient: c.HTTPClient,
	}
}

type graphQLError struct {
	Message string `json:"message"`
}

// Do executes one GraphQL operation and unmarshals the "data" object into
// out, classifying failures into the board error taxonomy.
func (c *Client) Do(ctx context.Context, operation, query string, variables map[string]interface{}, out interface{}) error {
	if c.Token == "" {
		return &board.AuthError{Backend: config.BackendZenhub, Reason: "API token not configured"}
	}

	payload, err := json.Marshal(map[string]interface{}{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "boardsync/1.0")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &board.TransientError{Op: operation, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &board.TransientError{Op: operation, Err: fmt.Errorf("read response: %w", err)}
	}

	if err := board.ClassifyHTTPStatus(config.BackendZenhub, operation, resp.StatusCode, string(body), resp.Header.Get("Retry-After")); err != nil {
		return err
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("parse graphql response: %w", err)
	}

	if len(envelope.Errors) > 0 {
		messages := make([]string, len(envelope.Errors))
		for i, e := range envelope.Errors {
			messages[i] = e.Message
		}
		joined := strings.Join(messages, "; ")
		lower := strings.ToLower(joined)
		switch {
		case strings.Contains(lower, "not found"):
			return &board.NotFoundError{Ref: board.TicketRef{Kind: config.BackendZenhub}}
		case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "forbidden"):
			return &board.AuthError{Backend: config.BackendZenhub, Reason: joined}
		default:
			return &board.ValidationError{Backend: config.BackendZenhub, Reason: joined}
		}
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("parse %s result: %w", operation, err)
		}
	}
	return nil
}
