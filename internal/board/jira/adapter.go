package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/agilekit/boardsync/internal/board"
	"github.com/agilekit/boardsync/internal/config"
)

func init() {
	board.Register(config.BackendJira, func() board.Adapter {
		return &Adapter{}
	})
}

// estimateFieldNames are the catalog names tried when discovering the
// story-point custom field. Instances disagree on which one they carry.
var estimateFieldNames = []string{"Story point estimate", "Story Points"}

// issueKeyPattern matches a human-readable issue key like PROJ-123.
var issueKeyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]+-\d+$`)

// Adapter implements board.Adapter for the REST tracker backend.
type Adapter struct {
	client *Client
	cfg    *config.BoardConfig

	// estimateField is the discovered (or config-pinned) custom-field ID
	// for story points. Discovered once per adapter lifetime.
	estimateField string
}

func (a *Adapter) Kind() config.BackendKind { return config.BackendJira }
func (a *Adapter) DisplayName() string      { return "Jira" }

// Labels are mutable post-creation on this backend; sprint membership is
// not modeled as a mutation distinct from status here.
func (a *Adapter) SupportsLabelUpdate() bool      { return true }
func (a *Adapter) SupportsSprintMembership() bool { return false }

func (a *Adapter) Init(ctx context.Context, cfg *config.BoardConfig) error {
	if cfg.Backend != config.BackendJira {
		return fmt.Errorf("jira adapter given %s config", cfg.Backend)
	}
	credential := cfg.Credential()
	if credential == "" {
		return &board.AuthError{
			Backend: config.BackendJira,
			Reason:  fmt.Sprintf("credential %s not set in environment", cfg.CredentialRef),
		}
	}
	a.cfg = cfg
	a.client = NewClient(cfg.JiraURL, cfg.JiraEmail, credential)
	a.estimateField = cfg.FieldMap["estimate"]
	return nil
}

func (a *Adapter) Validate() error {
	if a.client == nil {
		return &board.ErrNotInitialized{Backend: config.BackendJira}
	}
	return nil
}

func (a *Adapter) Close() error { return nil }

func (a *Adapter) CreateIssue(ctx context.Context, title, body string, labels []string) (board.TicketRef, error) {
	fields := map[string]interface{}{
		"project":     map[string]string{"key": a.cfg.ProjectKey},
		"summary":     title,
		"description": textToADF(body),
		"issuetype":   map[string]string{"name": "Story"},
	}
	if len(labels) > 0 {
		fields["labels"] = labels
	}

	created, err := a.client.CreateIssue(ctx, fields)
	if err != nil {
		return board.TicketRef{}, fmt.Errorf("create issue: %w", err)
	}
	return board.TicketRef{Kind: config.BackendJira, Raw: created.Key}, nil
}

func (a *Adapter) GetIssue(ctx context.Context, ref board.TicketRef) (*board.IssueSnapshot, error) {
	if err := a.checkRef(ref); err != nil {
		return nil, err
	}

	issue, rawFields, err := a.client.GetIssue(ctx, ref.Raw)
	if err != nil {
		return nil, err
	}
	return a.toSnapshot(issue, rawFields), nil
}

func (a *Adapter) SetEstimate(ctx context.Context, ref board.TicketRef, points int) error {
	if err := a.checkRef(ref); err != nil {
		return err
	}

	fieldID, err := a.estimateFieldID(ctx)
	if err != nil {
		return err
	}
	return a.client.UpdateIssue(ctx, ref.Raw, map[string]interface{}{fieldID: points})
}

func (a *Adapter) SetParent(ctx context.Context, ref, parent board.TicketRef) error {
	if err := a.checkRef(ref); err != nil {
		return err
	}
	if err := a.checkRef(parent); err != nil {
		return err
	}
	return a.client.UpdateIssue(ctx, ref.Raw, map[string]interface{}{
		"parent": map[string]string{"key": parent.Raw},
	})
}

// MoveToState maps the abstract state through the pipeline map and executes
// the workflow transition that lands on the mapped status. The mapped value
// may name either a transition ID or the target status ID.
func (a *Adapter) MoveToState(ctx context.Context, ref board.TicketRef, state board.State) error {
	if err := a.checkRef(ref); err != nil {
		return err
	}

	mapped := a.cfg.PipelineMap[string(state)]
	if mapped == "" {
		return &board.UnmappedStateError{Backend: config.BackendJira, State: state}
	}

	transitions, err := a.client.GetTransitions(ctx, ref.Raw)
	if err != nil {
		return err
	}
	for _, tr := range transitions {
		if tr.ID == mapped || tr.To.ID == mapped {
			return a.client.DoTransition(ctx, ref.Raw, tr.ID)
		}
	}
	return &board.ValidationError{
		Backend: config.BackendJira,
		Reason:  fmt.Sprintf("no workflow transition from current status of %s reaches %q", ref.Raw, mapped),
	}
}

func (a *Adapter) AddComment(ctx context.Context, ref board.TicketRef, text string) error {
	if err := a.checkRef(ref); err != nil {
		return err
	}
	return a.client.AddComment(ctx, ref.Raw, text)
}

func (a *Adapter) UpdateDescription(ctx context.Context, ref board.TicketRef, text string) error {
	if err := a.checkRef(ref); err != nil {
		return err
	}
	return a.client.UpdateIssue(ctx, ref.Raw, map[string]interface{}{
		"description": textToADF(text),
	})
}

func (a *Adapter) UpdateLabels(ctx context.Context, ref board.TicketRef, labels []string) error {
	if err := a.checkRef(ref); err != nil {
		return err
	}
	return a.client.UpdateIssue(ctx, ref.Raw, map[string]interface{}{"labels": labels})
}

func (a *Adapter) AddToSprint(ctx context.Context, ref board.TicketRef, sprintID string) error {
	return board.ErrUnsupported
}

func (a *Adapter) SearchIssues(ctx context.Context, query string) *board.SearchIter {
	jql := fmt.Sprintf("project = %s", a.cfg.ProjectKey)
	if strings.TrimSpace(query) != "" {
		jql = fmt.Sprintf("project = %s AND (%s)", a.cfg.ProjectKey, query)
	}

	startAt := 0
	return board.NewSearchIter(func(ctx context.Context) ([]board.IssueSnapshot, bool, error) {
		issues, total, err := a.client.SearchPage(ctx, jql, startAt)
		if err != nil {
			return nil, false, err
		}
		snaps := make([]board.IssueSnapshot, len(issues))
		for i := range issues {
			snaps[i] = *a.toSnapshot(&issues[i], nil)
		}
		startAt += len(issues)
		return snaps, len(issues) == 0 || startAt >= total, nil
	})
}

// RefFromIdentifier accepts an issue key ("PROJ-123") or a browse URL.
func (a *Adapter) RefFromIdentifier(token string) (board.TicketRef, error) {
	key := token
	if idx := strings.LastIndex(token, "/browse/"); idx != -1 {
		key = token[idx+len("/browse/"):]
	}
	key = strings.ToUpper(strings.TrimSpace(key))
	if !issueKeyPattern.MatchString(key) {
		return board.TicketRef{}, fmt.Errorf("%q is not a recognizable issue key", token)
	}
	return board.TicketRef{Kind: config.BackendJira, Raw: key}, nil
}

// estimateFieldID returns the story-point field ID, discovering it from the
// instance field catalog when the config does not pin one.
func (a *Adapter) estimateFieldID(ctx context.Context) (string, error) {
	if a.estimateField != "" {
		return a.estimateField, nil
	}

	fields, err := a.client.ListFields(ctx)
	if err != nil {
		return "", fmt.Errorf("discover estimate field: %w", err)
	}
	for _, name := range estimateFieldNames {
		for _, f := range fields {
			if f.Custom && f.Name == name {
				a.estimateField = f.ID
				return f.ID, nil
			}
		}
	}
	return "", &board.ValidationError{
		Backend: config.BackendJira,
		Reason:  "no story-point field found; pin field_map.estimate in the board config",
	}
}

func (a *Adapter) checkRef(ref board.TicketRef) error {
	if a.client == nil {
		return &board.ErrNotInitialized{Backend: config.BackendJira}
	}
	if ref.Kind != config.BackendJira {
		return fmt.Errorf("ref %s is not a jira ref", ref)
	}
	if ref.Raw == "" {
		return fmt.Errorf("empty ticket ref")
	}
	return nil
}

func (a *Adapter) toSnapshot(issue *Issue, rawFields map[string]json.RawMessage) *board.IssueSnapshot {
	snap := &board.IssueSnapshot{
		Ref:         board.TicketRef{Kind: config.BackendJira, Raw: issue.Key},
		Title:       issue.Fields.Summary,
		Description: adfToText(issue.Fields.Description),
		Labels:      issue.Fields.Labels,
		URL:         fmt.Sprintf("%s/browse/%s", a.client.BaseURL, issue.Key),
		Closed:      issue.Fields.Resolution != nil,
	}

	if issue.Fields.Status != nil {
		snap.NativeStatus = issue.Fields.Status.ID
	}
	if issue.Fields.Parent != nil {
		snap.Parent = &board.TicketRef{Kind: config.BackendJira, Raw: issue.Fields.Parent.Key}
	}
	if updated, err := parseTimestamp(issue.Fields.Updated); err == nil {
		snap.UpdatedAt = updated
	}
	if a.estimateField != "" && rawFields != nil {
		if raw, ok := rawFields[a.estimateField]; ok {
			var points float64
			if err := json.Unmarshal(raw, &points); err == nil {
				est := int(points)
				snap.Estimate = &est
			}
		}
	}
	return snap
}

// parseTimestamp handles the timestamp shapes Jira emits.
// Cloud uses ISO 8601 with a compact zone offset.
func parseTimestamp(ts string) (time.Time, error) {
	if ts == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	formats := []string{
		"2006-01-02T15:04:05.000-0700",
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05-0700",
		time.RFC3339,
		time.RFC3339Nano,
	}
	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse timestamp %q", ts)
}
