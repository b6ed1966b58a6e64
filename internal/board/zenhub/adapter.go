package zenhub

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/agilekit/boardsync/internal/board"
	"github.com/agilekit/boardsync/internal/config"
)

func init() {
	board.Register(config.BackendZenhub, func() board.Adapter {
		return &Adapter{}
	})
}

// issueNumberPattern matches a GitHub-style issue number token ("#42").
var issueNumberPattern = regexp.MustCompile(`^#?(\d+)$`)

// issueNode is the GraphQL issue shape the adapter selects. The pipeline is
// workspace-scoped, so every read threads the workspace ID through.
type issueNode struct {
	ID            string `json:"id"`
	Number        int    `json:"number"`
	Title         string `json:"title"`
	Body          string `json:"body"`
	State         string `json:"state"`
	HTMLURL       string `json:"htmlUrl"`
	PipelineIssue *struct {
		Pipeline struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"pipeline"`
	} `json:"pipelineIssue"`
	Estimate *struct {
		Value float64 `json:"value"`
	} `json:"estimate"`
	ParentEpics struct {
		Nodes []struct {
			Issue struct {
				ID string `json:"id"`
			} `json:"issue"`
		} `json:"nodes"`
	} `json:"parentEpics"`
	Labels struct {
		Nodes []struct {
			Name string `json:"name"`
		} `json:"nodes"`
	} `json:"labels"`
	UpdatedAt string `json:"updatedAt"`
}

const issueSelection = `
	id
	number
	title
	body
	state
	htmlUrl
	pipelineIssue(workspaceId: $workspaceId) {
		pipeline { id name }
	}
	estimate { value }
	parentEpics { nodes { issue { id } } }
	labels { nodes { name } }
	updatedAt`

// Adapter implements board.Adapter for the GitHub-issue-based board.
type Adapter struct {
	client *Client
	cfg    *config.BoardConfig
}

func (a *Adapter) Kind() config.BackendKind { return config.BackendZenhub }
func (a *Adapter) DisplayName() string      { return "ZenHub" }

// Labels are write-once on this backend: the orchestrator folds label
// changes into creation or reports them Unsupported. Sprints are
// first-class.
func (a *Adapter) SupportsLabelUpdate() bool      { return false }
func (a *Adapter) SupportsSprintMembership() bool { return true }

func (a *Adapter) Init(ctx context.Context, cfg *config.BoardConfig) error {
	if cfg.Backend != config.BackendZenhub {
		return fmt.Errorf("zenhub adapter given %s config", cfg.Backend)
	}
	credential := cfg.Credential()
	if credential == "" {
		return &board.AuthError{
			Backend: config.BackendZenhub,
			Reason:  fmt.Sprintf("credential %s not set in environment", cfg.CredentialRef),
		}
	}
	// Repository IDs are plain numeric strings; the check catches a config
	// that pasted an opaque global ID into the wrong key.
	if _, err := strconv.ParseInt(cfg.RepositoryID, 10, 64); err != nil {
		return fmt.Errorf("repository_id %q is not numeric: %w", cfg.RepositoryID, err)
	}
	a.cfg = cfg
	a.client = NewClient(credential)
	return nil
}

func (a *Adapter) Validate() error {
	if a.client == nil {
		return &board.ErrNotInitialized{Backend: config.BackendZenhub}
	}
	return nil
}

func (a *Adapter) Close() error { return nil }

func (a *Adapter) CreateIssue(ctx context.Context, title, body string, labels []string) (board.TicketRef, error) {
	repositoryID, _ := strconv.ParseInt(a.cfg.RepositoryID, 10, 64)
	input := map[string]interface{}{
		"repositoryId": repositoryID,
		"title":        title,
		"body":         body,
	}
	// The only chance to set labels: write-once on this backend.
	if len(labels) > 0 {
		input["labels"] = labels
	}

	query := `mutation($input: CreateIssueInput!) {
		createIssue(input: $input) {
			issue { id }
		}
	}`
	var result struct {
		CreateIssue struct {
			Issue struct {
				ID string `json:"id"`
			} `json:"issue"`
		} `json:"createIssue"`
	}
	if err := a.client.Do(ctx, "createIssue", query, map[string]interface{}{"input": input}, &result); err != nil {
		return board.TicketRef{}, err
	}
	if result.CreateIssue.Issue.ID == "" {
		return board.TicketRef{}, &board.ValidationError{Backend: config.BackendZenhub, Reason: "createIssue returned no issue ID"}
	}
	return board.TicketRef{Kind: config.BackendZenhub, Raw: result.CreateIssue.Issue.ID}, nil
}

func (a *Adapter) GetIssue(ctx context.Context, ref board.TicketRef) (*board.IssueSnapshot, error) {
	if err := a.checkRef(ref); err != nil {
		return nil, err
	}

	// A "#42" ref carries a repository-local issue number, not a global
	// ID; resolve it through issueByInfo first.
	if number, ok := issueNumber(ref.Raw); ok {
		return a.getIssueByNumber(ctx, number)
	}

	query := fmt.Sprintf(`query($id: ID!, $workspaceId: ID!) {
		node(id: $id) {
			... on Issue {%s}
		}
	}`, issueSelection)

	var result struct {
		Node *issueNode `json:"node"`
	}
	err := a.client.Do(ctx, "issue", query, map[string]interface{}{
		"id":          ref.Raw,
		"workspaceId": a.cfg.WorkspaceID,
	}, &result)
	if err != nil {
		return nil, err
	}
	if result.Node == nil || result.Node.ID == "" {
		return nil, &board.NotFoundError{Ref: ref}
	}
	return toSnapshot(result.Node), nil
}

func (a *Adapter) getIssueByNumber(ctx context.Context, number int) (*board.IssueSnapshot, error) {
	repositoryID, _ := strconv.ParseInt(a.cfg.RepositoryID, 10, 64)

	query := fmt.Sprintf(`query($repositoryGhId: Int!, $issueNumber: Int!, $workspaceId: ID!) {
		issueByInfo(repositoryGhId: $repositoryGhId, issueNumber: $issueNumber) {%s}
	}`, issueSelection)

	var result struct {
		IssueByInfo *issueNode `json:"issueByInfo"`
	}
	err := a.client.Do(ctx, "issueByInfo", query, map[string]interface{}{
		"repositoryGhId": repositoryID,
		"issueNumber":    number,
		"workspaceId":    a.cfg.WorkspaceID,
	}, &result)
	if err != nil {
		return nil, err
	}
	if result.IssueByInfo == nil || result.IssueByInfo.ID == "" {
		return nil, &board.NotFoundError{Ref: board.TicketRef{Kind: config.BackendZenhub, Raw: fmt.Sprintf("#%d", number)}}
	}
	return toSnapshot(result.IssueByInfo), nil
}

func (a *Adapter) SetEstimate(ctx context.Context, ref board.TicketRef, points int) error {
	ref, err := a.globalRef(ctx, ref)
	if err != nil {
		return err
	}

	query := `mutation($input: SetEstimateInput!) {
		setEstimate(input: $input) {
			issue { id }
		}
	}`
	return a.client.Do(ctx, "setEstimate", query, map[string]interface{}{
		"input": map[string]interface{}{"issueId": ref.Raw, "value": points},
	}, nil)
}

func (a *Adapter) SetParent(ctx context.Context, ref, parent board.TicketRef) error {
	ref, err := a.globalRef(ctx, ref)
	if err != nil {
		return err
	}
	parent, err = a.globalRef(ctx, parent)
	if err != nil {
		return err
	}

	query := `mutation($input: AddIssuesToEpicsInput!) {
		addIssuesToEpics(input: $input) {
			epics { id }
		}
	}`
	return a.client.Do(ctx, "addIssuesToEpics", query, map[string]interface{}{
		"input": map[string]interface{}{
			"issueIds": []string{ref.Raw},
			"epicIds":  []string{parent.Raw},
		},
	}, nil)
}

func (a *Adapter) MoveToState(ctx context.Context, ref board.TicketRef, state board.State) error {
	pipelineID := a.cfg.PipelineMap[string(state)]
	if pipelineID == "" {
		return &board.UnmappedStateError{Backend: config.BackendZenhub, State: state}
	}

	ref, err := a.globalRef(ctx, ref)
	if err != nil {
		return err
	}

	query := `mutation($input: MoveIssueInput!) {
		moveIssue(input: $input) {
			issue { id }
		}
	}`
	return a.client.Do(ctx, "moveIssue", query, map[string]interface{}{
		"input": map[string]interface{}{
			"issueId":    ref.Raw,
			"pipelineId": pipelineID,
		},
	}, nil)
}

func (a *Adapter) AddComment(ctx context.Context, ref board.TicketRef, text string) error {
	ref, err := a.globalRef(ctx, ref)
	if err != nil {
		return err
	}

	query := `mutation($input: CreateCommentInput!) {
		createComment(input: $input) {
			comment { id }
		}
	}`
	return a.client.Do(ctx, "createComment", query, map[string]interface{}{
		"input": map[string]interface{}{"issueId": ref.Raw, "body": text},
	}, nil)
}

func (a *Adapter) UpdateDescription(ctx context.Context, ref board.TicketRef, text string) error {
	ref, err := a.globalRef(ctx, ref)
	if err != nil {
		return err
	}

	query := `mutation($input: UpdateIssueInput!) {
		updateIssue(input: $input) {
			issue { id }
		}
	}`
	return a.client.Do(ctx, "updateIssue", query, map[string]interface{}{
		"input": map[string]interface{}{"issueId": ref.Raw, "body": text},
	}, nil)
}

// UpdateLabels always fails: labels are write-once on this backend.
func (a *Adapter) UpdateLabels(ctx context.Context, ref board.TicketRef, labels []string) error {
	return board.ErrUnsupported
}

func (a *Adapter) AddToSprint(ctx context.Context, ref board.TicketRef, sprintID string) error {
	ref, err := a.globalRef(ctx, ref)
	if err != nil {
		return err
	}

	query := `mutation($input: AddIssuesToSprintsInput!) {
		addIssuesToSprints(input: $input) {
			sprints { id }
		}
	}`
	return a.client.Do(ctx, "addIssuesToSprints", query, map[string]interface{}{
		"input": map[string]interface{}{
			"issueIds":  []string{ref.Raw},
			"sprintIds": []string{sprintID},
		},
	}, nil)
}

func (a *Adapter) SearchIssues(ctx context.Context, query string) *board.SearchIter {
	gql := fmt.Sprintf(`query($workspaceId: ID!, $query: String!, $after: String) {
		searchIssues(workspaceId: $workspaceId, query: $query, first: 50, after: $after) {
			nodes {%s}
			pageInfo { hasNextPage endCursor }
		}
	}`, issueSelection)

	var cursor *string
	return board.NewSearchIter(func(ctx context.Context) ([]board.IssueSnapshot, bool, error) {
		variables := map[string]interface{}{
			"workspaceId": a.cfg.WorkspaceID,
			"query":       query,
		}
		if cursor != nil {
			variables["after"] = *cursor
		}

		var result struct {
			SearchIssues struct {
				Nodes    []issueNode `json:"nodes"`
				PageInfo struct {
					HasNextPage bool   `json:"hasNextPage"`
					EndCursor   string `json:"endCursor"`
				} `json:"pageInfo"`
			} `json:"searchIssues"`
		}
		if err := a.client.Do(ctx, "searchIssues", gql, variables, &result); err != nil {
			return nil, false, err
		}

		snaps := make([]board.IssueSnapshot, len(result.SearchIssues.Nodes))
		for i := range result.SearchIssues.Nodes {
			snaps[i] = *toSnapshot(&result.SearchIssues.Nodes[i])
		}
		cursor = &result.SearchIssues.PageInfo.EndCursor
		return snaps, !result.SearchIssues.PageInfo.HasNextPage, nil
	})
}

// RefFromIdentifier accepts an issue number token ("#42" or "42") or an
// opaque global ID. Number refs are resolved to global IDs lazily on first
// use, since resolution needs an API round trip.
func (a *Adapter) RefFromIdentifier(token string) (board.TicketRef, error) {
	candidate := strings.TrimSpace(token)
	if candidate == "" {
		return board.TicketRef{}, fmt.Errorf("empty ticket token")
	}
	if m := issueNumberPattern.FindStringSubmatch(candidate); m != nil {
		return board.TicketRef{Kind: config.BackendZenhub, Raw: "#" + m[1]}, nil
	}
	return board.TicketRef{Kind: config.BackendZenhub, Raw: candidate}, nil
}

// globalRef resolves a "#42" number ref into an opaque global ID ref.
// Mutations require global IDs; only reads accept issue numbers.
func (a *Adapter) globalRef(ctx context.Context, ref board.TicketRef) (board.TicketRef, error) {
	if err := a.checkRef(ref); err != nil {
		return board.TicketRef{}, err
	}
	number, ok := issueNumber(ref.Raw)
	if !ok {
		return ref, nil
	}
	snap, err := a.getIssueByNumber(ctx, number)
	if err != nil {
		return board.TicketRef{}, err
	}
	return snap.Ref, nil
}

func (a *Adapter) checkRef(ref board.TicketRef) error {
	if a.client == nil {
		return &board.ErrNotInitialized{Backend: config.BackendZenhub}
	}
	if ref.Kind != config.BackendZenhub {
		return fmt.Errorf("ref %s is not a zenhub ref", ref)
	}
	if ref.Raw == "" {
		return fmt.Errorf("empty ticket ref")
	}
	return nil
}

func issueNumber(raw string) (int, bool) {
	if !strings.HasPrefix(raw, "#") {
		return 0, false
	}
	n, err := strconv.Atoi(raw[1:])
	if err != nil {
		return 0, false
	}
	return n, true
}

func toSnapshot(node *issueNode) *board.IssueSnapshot {
	snap := &board.IssueSnapshot{
		Ref:         board.TicketRef{Kind: config.BackendZenhub, Raw: node.ID},
		Title:       node.Title,
		Description: node.Body,
		URL:         node.HTMLURL,
		Closed:      strings.EqualFold(node.State, "CLOSED"),
	}
	if node.PipelineIssue != nil {
		snap.NativeStatus = node.PipelineIssue.Pipeline.ID
	}
	if node.Estimate != nil {
		est := int(node.Estimate.Value)
		snap.Estimate = &est
	}
	if len(node.ParentEpics.Nodes) > 0 {
		snap.Parent = &board.TicketRef{Kind: config.BackendZenhub, Raw: node.ParentEpics.Nodes[0].Issue.ID}
	}
	for _, label := range node.Labels.Nodes {
		snap.Labels = append(snap.Labels, label.Name)
	}
	if t, err := time.Parse(time.RFC3339, node.UpdatedAt); err == nil {
		snap.UpdatedAt = t
	}
	return snap
}
