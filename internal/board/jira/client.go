// Package jira implements the board adapter for a REST-based tracker.
//
// Issues are addressed by human-readable keys ("PROJ-123"). Custom fields
// (story-point estimate) live behind instance-specific field IDs that are
// discovered at runtime when the board config does not pin them. Auth is
// basic: base64(email:token).
package jira

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agilekit/boardsync/internal/board"
	"github.com/agilekit/boardsync/internal/config"
)

// DefaultTimeout bounds each HTTP call. Timeouts are per-call, not per
// logical operation.
const DefaultTimeout = 30 * time.Second

// searchPageSize is the page size for JQL search pagination.
const searchPageSize = 50

// Issue is a Jira issue as the REST API returns it.
type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Fields IssueFields `json:"fields"`
}

// IssueFields are the typed fields the adapter reads. Custom fields are
// captured separately via rawFields since their IDs vary per instance.
type IssueFields struct {
	Summary     string           `json:"summary"`
	Description json.RawMessage  `json:"description"` // ADF or plain string
	Status      *StatusField     `json:"status"`
	Parent      *ParentField     `json:"parent"`
	Labels      []string         `json:"labels"`
	Updated     string           `json:"updated"`
	Resolution  *ResolutionField `json:"resolution"`
}

// StatusField is a Jira issue status.
type StatusField struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ParentField is a Jira parent link.
type ParentField struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// ResolutionField is a Jira resolution; non-nil means the issue is resolved.
type ResolutionField struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Transition is one available workflow transition for an issue.
type Transition struct {
	ID string `json:"id"`
	To struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"to"`
}

// Field is one entry from the instance field catalog, used for custom-field
// discovery.
type Field struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Custom bool   `json:"custom"`
}

// Client provides HTTP access to one Jira instance.
type Client struct {
	BaseURL    string
	Email      string
	APIToken   string
	HTTPClient *http.Client
}

// NewClient creates a Jira REST client.
func NewClient(baseURL, email, apiToken string) *Client {
	return &Client{
		BaseURL:  strings.TrimSuffix(baseURL, "/"),
		Email:    email,
		APIToken: apiToken,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// issueFields is the field set requested on reads.
const issueFields = "summary,description,status,parent,labels,updated,resolution"

// GetIssue fetches a single issue by key. The second return value holds the
// raw fields object so callers can read instance-specific custom fields.
func (c *Client) GetIssue(ctx context.Context, key string) (*Issue, map[string]json.RawMessage, error) {
	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s?fields=%s,*custom", c.BaseURL, url.PathEscape(key), issueFields)

	body, err := c.doRequest(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, nil, err
	}

	var issue Issue
	if err := json.Unmarshal(body, &issue); err != nil {
		return nil, nil, fmt.Errorf("parse issue response: %w", err)
	}

	var envelope struct {
		Fields map[string]json.RawMessage `json:"fields"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, nil, fmt.Errorf("parse issue fields: %w", err)
	}

	return &issue, envelope.Fields, nil
}

// CreateIssue creates an issue and returns its key and ID.
func (c *Client) CreateIssue(ctx context.Context, fields map[string]interface{}) (*Issue, error) {
	payload := map[string]interface{}{"fields": fields}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal create request: %w", err)
	}

	body, err := c.doRequest(ctx, http.MethodPost, c.BaseURL+"/rest/api/3/issue", data)
	if err != nil {
		return nil, err
	}

	var created Issue
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("parse create response: %w", err)
	}
	return &created, nil
}

// UpdateIssue updates issue fields by key.
func (c *Client) UpdateIssue(ctx context.Context, key string, fields map[string]interface{}) error {
	payload := map[string]interface{}{"fields": fields}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal update request: %w", err)
	}

	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s", c.BaseURL, url.PathEscape(key))
	_, err = c.doRequest(ctx, http.MethodPut, apiURL, data)
	return err
}

// AddComment posts a comment on an issue. Text is wrapped into ADF.
func (c *Client) AddComment(ctx context.Context, key, text string) error {
	payload := map[string]interface{}{"body": textToADF(text)}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal comment request: %w", err)
	}

	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s/comment", c.BaseURL, url.PathEscape(key))
	_, err = c.doRequest(ctx, http.MethodPost, apiURL, data)
	return err
}

// GetTransitions lists the workflow transitions currently available on an
// issue.
func (c *Client) GetTransitions(ctx context.Context, key string) ([]Transition, error) {
	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s/transitions", c.BaseURL, url.PathEscape(key))

	body, err := c.doRequest(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Transitions []Transition `json:"transitions"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse transitions response: %w", err)
	}
	return result.Transitions, nil
}

// DoTransition executes a workflow transition on an issue.
func (c *Client) DoTransition(ctx context.Context, key, transitionID string) error {
	payload := map[string]interface{}{
		"transition": map[string]string{"id": transitionID},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal transition request: %w", err)
	}

	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s/transitions", c.BaseURL, url.PathEscape(key))
	_, err = c.doRequest(ctx, http.MethodPost, apiURL, data)
	return err
}

// ListFields fetches the instance field catalog. Used to discover the
// story-point custom field ID when the board config does not pin it.
func (c *Client) ListFields(ctx context.Context) ([]Field, error) {
	body, err := c.doRequest(ctx, http.MethodGet, c.BaseURL+"/rest/api/3/field", nil)
	if err != nil {
		return nil, err
	}

	var fields []Field
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("parse field catalog: %w", err)
	}
	return fields, nil
}

// SearchPage runs one page of a JQL search.
func (c *Client) SearchPage(ctx context.Context, jql string, startAt int) ([]Issue, int, error) {
	params := url.Values{
		"jql":        {jql},
		"fields":     {issueFields},
		"startAt":    {fmt.Sprintf("%d", startAt)},
		"maxResults": {fmt.Sprintf("%d", searchPageSize)},
	}

	body, err := c.doRequest(ctx, http.MethodGet, c.BaseURL+"/rest/api/3/search?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, err
	}

	var result struct {
		Total  int     `json:"total"`
		Issues []Issue `json:"issues"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, 0, fmt.Errorf("parse search response: %w", err)
	}
	return result.Issues, result.Total, nil
}

// doRequest executes an authenticated request and returns the response body.
// Failures are classified into the board error taxonomy.
func (c *Client) doRequest(ctx context.Context, method, apiURL string, body []byte) ([]byte, error) {
	if c.APIToken == "" {
		return nil, &board.AuthError{Backend: config.BackendJira, Reason: "API token not configured"}
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	auth := base64.StdEncoding.EncodeToString([]byte(c.Email + ":" + c.APIToken))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "boardsync/1.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	op := method + " " + req.URL.Path

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &board.TransientError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &board.TransientError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}

	if err := board.ClassifyHTTPStatus(config.BackendJira, op, resp.StatusCode, string(respBody), resp.Header.Get("Retry-After")); err != nil {
		return nil, err
	}
	return respBody, nil
}

// adfToText extracts plain text from Atlassian Document Format. The v3 API
// returns descriptions and comments as ADF JSON, not plain text.
func adfToText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var doc struct {
		Type    string `json:"type"`
		Content []struct {
			Type    string `json:"type"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"content"`
	}

	if err := json.Unmarshal(raw, &doc); err != nil || doc.Type != "doc" {
		// Plain string or unknown shape.
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return string(raw)
	}

	var parts []string
	for _, block := range doc.Content {
		var line []string
		for _, inline := range block.Content {
			if inline.Text != "" {
				line = append(line, inline.Text)
			}
		}
		parts = append(parts, strings.Join(line, ""))
	}
	return strings.Join(parts, "\n")
}

// textToADF wraps plain text into a minimal ADF document, one paragraph per
// line. The checklist codec operates on the plain-text projection; Jira is
// the one backend where description surgery passes through a format
// conversion.
func textToADF(text string) map[string]interface{} {
	var content []interface{}
	for _, para := range strings.Split(text, "\n") {
		if para == "" {
			content = append(content, map[string]interface{}{
				"type":    "paragraph",
				"content": []interface{}{},
			})
			continue
		}
		content = append(content, map[string]interface{}{
			"type": "paragraph",
			"content": []interface{}{
				map[string]interface{}{"type": "text", "text": para},
			},
		})
	}

	return map[string]interface{}{
		"type":    "doc",
		"version": 1,
		"content": content,
	}
}
