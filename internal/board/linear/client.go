// Package linear implements the board adapter for the GraphQL-native
// tracker.
//
// Entities are UUID-keyed, the estimate is a native typed field rather than
// a custom field, and parent/child linkage is a first-class parentId.
package linear

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

// DefaultEndpoint is the production GraphQL endpoint.
const DefaultEndpoint = "https://api.linear.app/graphql"

// DefaultTimeout bounds each HTTP call.
const DefaultTimeout = 30 * time.Second

// Client executes GraphQL operations against one workspace.
type Client struct {
	Endpoint   string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a Linear GraphQL client.
func NewClient(apiKey string) *Client {
	return &Client{
		Endpoint: DefaultEndpoint,
		APIKey:   apiKey,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// WithEndpoint returns a client pointed at a custom endpoint (testing).
func (c *Client) WithEndpoint(endpoint string) *Client {
	return &Client{
		Endpoint:   endpoint,
		APIKey:     c.APIKey,
		HTTPClient: c.HTTPClient,
	}
}

// graphQLError is one entry of a GraphQL errors array.
type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

// Do executes one GraphQL operation and unmarshals the "data" object into
// out. Transport failures and HTTP statuses are classified into the board
// error taxonomy; GraphQL-level errors become validation or not-found
// errors depending on their code.
func (c *Client) Do(ctx context.Context, operation, query string, variables map[string]interface{}, out interface{}) error {
	if c.APIKey == "" {
		return &board.AuthError{Backend: config.BackendLinear, Reason: "API key not configured"}
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
	req.Header.Set("Authorization", c.APIKey)
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

	if err := board.ClassifyHTTPStatus(config.BackendLinear, operation, resp.StatusCode, string(body), resp.Header.Get("Retry-After")); err != nil {
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
		return classifyGraphQLErrors(operation, envelope.Errors)
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("parse %s result: %w", operation, err)
		}
	}
	return nil
}

// classifyGraphQLErrors folds a GraphQL errors array into the taxonomy.
func classifyGraphQLErrors(operation string, errs []graphQLError) error {
	messages := make([]string, len(errs))
	for i, e := range errs {
		messages[i] = e.Message
	}
	joined := strings.Join(messages, "; ")

	for _, e := range errs {
		switch e.Extensions.Code {
		case "AUTHENTICATION_ERROR", "FORBIDDEN":
			return &board.AuthError{Backend: config.BackendLinear, Reason: joined}
		case "RATELIMITED":
			return &board.RateLimitError{Op: operation}
		}
		if strings.Contains(strings.ToLower(e.Message), "not found") {
			return &board.NotFoundError{Ref: board.TicketRef{Kind: config.BackendLinear}}
		}
	}
	return &board.ValidationError{Backend: config.BackendLinear, Reason: joined}
}
