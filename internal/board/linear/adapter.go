package linear

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agilekit/boardsync/internal/board"
	"github.com/agilekit/boardsync/internal/config"
)

func init() {
	board.Register(config.BackendLinear, func() board.Adapter {
		return &Adapter{}
	})
}

// identifierPattern matches a human-readable identifier like ENG-123.
var identifierPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]*-\d+$`)

// issueNode is the GraphQL issue shape the adapter selects.
type issueNode struct {
	ID          string   `json:"id"`
	Identifier  string   `json:"identifier"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Estimate    *float64 `json:"estimate"`
	URL         string   `json:"url"`
	State       *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"state"`
	Parent *struct {
		ID string `json:"id"`
	} `json:"parent"`
	Labels struct {
		Nodes []struct {
			Name string `json:"name"`
		} `json:"nodes"`
	} `json:"labels"`
	UpdatedAt   string `json:"updatedAt"`
	CompletedAt string `json:"completedAt"`
	CanceledAt  string `json:"canceledAt"`
}

// issueSelection is the field set shared by every issue-returning operation.
const issueSelection = `
	id
	identifier
	title
	description
	estimate
	url
	state { id name }
	parent { id }
	labels { nodes { name } }
	updatedAt
	completedAt
	canceledAt`

// Adapter implements board.Adapter for the GraphQL-native backend.
type Adapter struct {
	client *Client
	cfg    *config.BoardConfig
}

func (a *Adapter) Kind() config.BackendKind { return config.BackendLinear }
func (a *Adapter) DisplayName() string      { return "Linear" }

// Labels and cycle membership are both first-class mutations here.
func (a *Adapter) SupportsLabelUpdate() bool      { return true }
func (a *Adapter) SupportsSprintMembership() bool { return true }

func (a *Adapter) Init(ctx context.Context, cfg *config.BoardConfig) error {
	if cfg.Backend != config.BackendLinear {
		return fmt.Errorf("linear adapter given %s config", cfg.Backend)
	}
	credential := cfg.Credential()
	if credential == "" {
		return &board.AuthError{
			Backend: config.BackendLinear,
			Reason:  fmt.Sprintf("credential %s not set in environment", cfg.CredentialRef),
		}
	}
	if _, err := uuid.Parse(cfg.TeamID); err != nil {
		return fmt.Errorf("team_id %q is not a UUID: %w", cfg.TeamID, err)
	}
	a.cfg = cfg
	a.client = NewClient(credential)
	return nil
}

func (a *Adapter) Validate() error {
	if a.client == nil {
		return &board.ErrNotInitialized{Backend: config.BackendLinear}
	}
	return nil
}

func (a *Adapter) Close() error { return nil }

func (a *Adapter) CreateIssue(ctx context.Context, title, body string, labels []string) (board.TicketRef, error) {
	input := map[string]interface{}{
		"teamId":      a.cfg.TeamID,
		"title":       title,
		"description": body,
	}
	if len(labels) > 0 {
		labelIDs, err := a.resolveLabelIDs(ctx, labels)
		if err != nil {
			return board.TicketRef{}, err
		}
		input["labelIds"] = labelIDs
	}

	query := fmt.Sprintf(`mutation($input: IssueCreateInput!) {
		issueCreate(input: $input) {
			success
			issue {%s}
		}
	}`, issueSelection)

	var result struct {
		IssueCreate struct {
			Success bool      `json:"success"`
			Issue   issueNode `json:"issue"`
		} `json:"issueCreate"`
	}
	err := a.client.Do(ctx, "issueCreate", query, map[string]interface{}{"input": input}, &result)
	if err != nil {
		return board.TicketRef{}, err
	}
	if !result.IssueCreate.Success {
		return board.TicketRef{}, &board.ValidationError{Backend: config.BackendLinear, Reason: "issueCreate reported failure"}
	}
	return board.TicketRef{Kind: config.BackendLinear, Raw: result.IssueCreate.Issue.ID}, nil
}

func (a *Adapter) GetIssue(ctx context.Context, ref board.TicketRef) (*board.IssueSnapshot, error) {
	if err := a.checkRef(ref); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`query($id: String!) {
		issue(id: $id) {%s}
	}`, issueSelection)

	var result struct {
		Issue *issueNode `json:"issue"`
	}
	if err := a.client.Do(ctx, "issue", query, map[string]interface{}{"id": ref.Raw}, &result); err != nil {
		return nil, err
	}
	if result.Issue == nil {
		return nil, &board.NotFoundError{Ref: ref}
	}
	return toSnapshot(result.Issue), nil
}

// SetEstimate writes the native estimate field; no custom-field indirection
// on this backend.
func (a *Adapter) SetEstimate(ctx context.Context, ref board.TicketRef, points int) error {
	return a.updateIssue(ctx, ref, map[string]interface{}{"estimate": points})
}

func (a *Adapter) SetParent(ctx context.Context, ref, parent board.TicketRef) error {
	if err := a.checkRef(parent); err != nil {
		return err
	}
	return a.updateIssue(ctx, ref, map[string]interface{}{"parentId": parent.Raw})
}

func (a *Adapter) MoveToState(ctx context.Context, ref board.TicketRef, state board.State) error {
	stateID := a.cfg.PipelineMap[string(state)]
	if stateID == "" {
		return &board.UnmappedStateError{Backend: config.BackendLinear, State: state}
	}
	if _, err := uuid.Parse(stateID); err != nil {
		return &board.ValidationError{
			Backend: config.BackendLinear,
			Reason:  fmt.Sprintf("pipeline_map.%s = %q is not a workflow state UUID", state, stateID),
		}
	}
	return a.updateIssue(ctx, ref, map[string]interface{}{"stateId": stateID})
}

func (a *Adapter) AddComment(ctx context.Context, ref board.TicketRef, text string) error {
	if err := a.checkRef(ref); err != nil {
		return err
	}

	query := `mutation($input: CommentCreateInput!) {
		commentCreate(input: $input) { success }
	}`
	var result struct {
		CommentCreate struct {
			Success bool `json:"success"`
		} `json:"commentCreate"`
	}
	err := a.client.Do(ctx, "commentCreate", query, map[string]interface{}{
		"input": map[string]interface{}{"issueId": ref.Raw, "body": text},
	}, &result)
	if err != nil {
		return err
	}
	if !result.CommentCreate.Success {
		return &board.ValidationError{Backend: config.BackendLinear, Reason: "commentCreate reported failure"}
	}
	return nil
}

func (a *Adapter) UpdateDescription(ctx context.Context, ref board.TicketRef, text string) error {
	return a.updateIssue(ctx, ref, map[string]interface{}{"description": text})
}

func (a *Adapter) UpdateLabels(ctx context.Context, ref board.TicketRef, labels []string) error {
	labelIDs, err := a.resolveLabelIDs(ctx, labels)
	if err != nil {
		return err
	}
	return a.updateIssue(ctx, ref, map[string]interface{}{"labelIds": labelIDs})
}

// AddToSprint places the issue in a cycle. Cycle membership is distinct
// from workflow state on this backend.
func (a *Adapter) AddToSprint(ctx context.Context, ref board.TicketRef, sprintID string) error {
	if _, err := uuid.Parse(sprintID); err != nil {
		return &board.ValidationError{
			Backend: config.BackendLinear,
			Reason:  fmt.Sprintf("sprint id %q is not a cycle UUID", sprintID),
		}
	}
	return a.updateIssue(ctx, ref, map[string]interface{}{"cycleId": sprintID})
}

func (a *Adapter) SearchIssues(ctx context.Context, query string) *board.SearchIter {
	gql := fmt.Sprintf(`query($teamId: ID!, $after: String, $query: String) {
		issues(
			first: 50,
			after: $after,
			filter: { team: { id: { eq: $teamId } } },
			query: $query
		) {
			nodes {%s}
			pageInfo { hasNextPage endCursor }
		}
	}`, issueSelection)

	var cursor *string
	return board.NewSearchIter(func(ctx context.Context) ([]board.IssueSnapshot, bool, error) {
		variables := map[string]interface{}{"teamId": a.cfg.TeamID}
		if cursor != nil {
			variables["after"] = *cursor
		}
		if strings.TrimSpace(query) != "" {
			variables["query"] = query
		}

		var result struct {
			Issues struct {
				Nodes    []issueNode `json:"nodes"`
				PageInfo struct {
					HasNextPage bool   `json:"hasNextPage"`
					EndCursor   string `json:"endCursor"`
				} `json:"pageInfo"`
			} `json:"issues"`
		}
		if err := a.client.Do(ctx, "issues", gql, variables, &result); err != nil {
			return nil, false, err
		}

		snaps := make([]board.IssueSnapshot, len(result.Issues.Nodes))
		for i := range result.Issues.Nodes {
			snaps[i] = *toSnapshot(&result.Issues.Nodes[i])
		}
		cursor = &result.Issues.PageInfo.EndCursor
		return snaps, !result.Issues.PageInfo.HasNextPage, nil
	})
}

// RefFromIdentifier accepts an entity UUID, a human identifier like ENG-42,
// or an issue URL ending in one of those.
func (a *Adapter) RefFromIdentifier(token string) (board.TicketRef, error) {
	candidate := strings.TrimSpace(token)
	if idx := strings.LastIndex(candidate, "/"); idx != -1 {
		candidate = candidate[idx+1:]
	}

	if _, err := uuid.Parse(candidate); err == nil {
		return board.TicketRef{Kind: config.BackendLinear, Raw: candidate}, nil
	}
	upper := strings.ToUpper(candidate)
	if identifierPattern.MatchString(upper) {
		return board.TicketRef{Kind: config.BackendLinear, Raw: upper}, nil
	}
	return board.TicketRef{}, fmt.Errorf("%q is neither an issue UUID nor an identifier", token)
}

// updateIssue runs an issueUpdate mutation with the given input fields.
func (a *Adapter) updateIssue(ctx context.Context, ref board.TicketRef, input map[string]interface{}) error {
	if err := a.checkRef(ref); err != nil {
		return err
	}

	query := `mutation($id: String!, $input: IssueUpdateInput!) {
		issueUpdate(id: $id, input: $input) { success }
	}`
	var result struct {
		IssueUpdate struct {
			Success bool `json:"success"`
		} `json:"issueUpdate"`
	}
	err := a.client.Do(ctx, "issueUpdate", query, map[string]interface{}{
		"id":    ref.Raw,
		"input": input,
	}, &result)
	if err != nil {
		return err
	}
	if !result.IssueUpdate.Success {
		return &board.ValidationError{Backend: config.BackendLinear, Reason: "issueUpdate reported failure"}
	}
	return nil
}

// resolveLabelIDs maps label names to label UUIDs. Names without a matching
// label on the workspace are rejected so a typo does not silently drop a
// label.
func (a *Adapter) resolveLabelIDs(ctx context.Context, names []string) ([]string, error) {
	query := `query($names: [String!]) {
		issueLabels(filter: { name: { in: $names } }) {
			nodes { id name }
		}
	}`
	var result struct {
		IssueLabels struct {
			Nodes []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"nodes"`
		} `json:"issueLabels"`
	}
	if err := a.client.Do(ctx, "issueLabels", query, map[string]interface{}{"names": names}, &result); err != nil {
		return nil, err
	}

	byName := make(map[string]string, len(result.IssueLabels.Nodes))
	for _, node := range result.IssueLabels.Nodes {
		byName[node.Name] = node.ID
	}

	ids := make([]string, 0, len(names))
	var missing []string
	for _, name := range names {
		if id, ok := byName[name]; ok {
			ids = append(ids, id)
		} else {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &board.ValidationError{
			Backend: config.BackendLinear,
			Reason:  fmt.Sprintf("labels not defined on workspace: %s", strings.Join(missing, ", ")),
		}
	}
	return ids, nil
}

func (a *Adapter) checkRef(ref board.TicketRef) error {
	if a.client == nil {
		return &board.ErrNotInitialized{Backend: config.BackendLinear}
	}
	if ref.Kind != config.BackendLinear {
		return fmt.Errorf("ref %s is not a linear ref", ref)
	}
	if ref.Raw == "" {
		return fmt.Errorf("empty ticket ref")
	}
	return nil
}

func toSnapshot(node *issueNode) *board.IssueSnapshot {
	snap := &board.IssueSnapshot{
		Ref:         board.TicketRef{Kind: config.BackendLinear, Raw: node.ID},
		Title:       node.Title,
		Description: node.Description,
		URL:         node.URL,
		Closed:      node.CompletedAt != "" || node.CanceledAt != "",
	}
	if node.State != nil {
		snap.NativeStatus = node.State.ID
	}
	if node.Parent != nil {
		snap.Parent = &board.TicketRef{Kind: config.BackendLinear, Raw: node.Parent.ID}
	}
	if node.Estimate != nil {
		est := int(*node.Estimate)
		snap.Estimate = &est
	}
	for _, label := range node.Labels.Nodes {
		snap.Labels = append(snap.Labels, label.Name)
	}
	if t, err := time.Parse(time.RFC3339, node.UpdatedAt); err == nil {
		snap.UpdatedAt = t
	}
	return snap
}
