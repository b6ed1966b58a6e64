package linear

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/agilekit/boardsync/internal/board"
	"github.com/agilekit/boardsync/internal/config"
)

const (
	testTeamID  = "7f9c3c1e-2a4b-4d6e-8f10-1234567890ab"
	testIssueID = "a1b2c3d4-e5f6-4a0b-8c1d-feedbeefcafe"
	testStateID = "0e1d2c3b-4a59-4687-9d00-abcdefabcdef"
	testCycleID = "11111111-2222-4333-8444-555555555555"
)

// graphQLRequest is the request envelope the test server decodes.
type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

func testAdapter(serverURL string) *Adapter {
	return &Adapter{
		client: NewClient("lin_api_secret").WithEndpoint(serverURL),
		cfg: &config.BoardConfig{
			Backend: config.BackendLinear,
			TeamID:  testTeamID,
			PipelineMap: map[string]string{
				config.StateInProgress: testStateID,
			},
		},
	}
}

func ref(id string) board.TicketRef {
	return board.TicketRef{Kind: config.BackendLinear, Raw: id}
}

// TestAuthHeader verifies the API key is sent raw, not as a bearer token.
func TestAuthHeader(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"data":{"issue":null}}`))
	}))
	defer server.Close()

	a := testAdapter(server.URL)
	_, _ = a.GetIssue(context.Background(), ref(testIssueID))

	if gotAuth != "lin_api_secret" {
		t.Errorf("Authorization = %q, want raw API key", gotAuth)
	}
}

func TestGetIssueSnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Variables["id"] != testIssueID {
			t.Errorf("queried id %v, want %s", req.Variables["id"], testIssueID)
		}
		fmt.Fprintf(w, `{"data":{"issue":{
			"id": %q,
			"identifier": "ENG-42",
			"title": "Wire the retry loop",
			"description": "- [ ] A\n",
			"estimate": 3,
			"url": "https://linear.app/acme/issue/ENG-42",
			"state": {"id": %q, "name": "In Progress"},
			"parent": {"id": "99999999-9999-4999-8999-999999999999"},
			"labels": {"nodes": [{"name": "backend"}]},
			"updatedAt": "2026-08-01T10:30:00.000Z",
			"completedAt": "",
			"canceledAt": ""
		}}}`, testIssueID, testStateID)
	}))
	defer server.Close()

	a := testAdapter(server.URL)
	snap, err := a.GetIssue(context.Background(), ref(testIssueID))
	if err != nil {
		t.Fatalf("GetIssue: %v", err)
	}

	if snap.NativeStatus != testStateID {
		t.Errorf("NativeStatus = %q, want state UUID", snap.NativeStatus)
	}
	if snap.Estimate == nil || *snap.Estimate != 3 {
		t.Errorf("Estimate = %v, want native field value 3", snap.Estimate)
	}
	if snap.Parent == nil {
		t.Error("Parent not mapped from parentId")
	}
	if snap.Closed {
		t.Error("Closed = true for an issue with no completedAt/canceledAt")
	}
	if len(snap.Labels) != 1 || snap.Labels[0] != "backend" {
		t.Errorf("Labels = %v", snap.Labels)
	}
}

func TestGetIssueNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"issue":null}}`))
	}))
	defer server.Close()

	a := testAdapter(server.URL)
	_, err := a.GetIssue(context.Background(), ref(testIssueID))
	var notFound *board.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want NotFoundError for null issue", err)
	}
}

// TestMoveToState verifies the move is an issueUpdate carrying the mapped
// workflow-state UUID.
func TestMoveToState(t *testing.T) {
	var gotInput map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotInput, _ = req.Variables["input"].(map[string]interface{})
		_, _ = w.Write([]byte(`{"data":{"issueUpdate":{"success":true}}}`))
	}))
	defer server.Close()

	a := testAdapter(server.URL)
	if err := a.MoveToState(context.Background(), ref(testIssueID), board.StateInProgress); err != nil {
		t.Fatalf("MoveToState: %v", err)
	}
	if gotInput["stateId"] != testStateID {
		t.Errorf("stateId = %v, want %s", gotInput["stateId"], testStateID)
	}
}

func TestMoveToStateRejectsNonUUIDMapping(t *testing.T) {
	a := testAdapter("http://127.0.0.1:1")
	a.cfg.PipelineMap[config.StateInProgress] = "In Progress"

	err := a.MoveToState(context.Background(), ref(testIssueID), board.StateInProgress)
	var validation *board.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("err = %v, want ValidationError for a state name where a UUID is required", err)
	}
}

func TestMoveToStateUnmapped(t *testing.T) {
	a := testAdapter("http://127.0.0.1:1")

	err := a.MoveToState(context.Background(), ref(testIssueID), board.StateDone)
	var unmapped *board.UnmappedStateError
	if !errors.As(err, &unmapped) {
		t.Fatalf("err = %v, want UnmappedStateError", err)
	}
}

// TestCreateIssueResolvesLabels verifies label names become label UUIDs and
// unknown names are rejected instead of silently dropped.
func TestCreateIssueResolvesLabels(t *testing.T) {
	labelID := "baadf00d-0000-4000-8000-000000000001"
	var createInput map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if strings.Contains(req.Query, "issueLabels") {
			fmt.Fprintf(w, `{"data":{"issueLabels":{"nodes":[{"id":%q,"name":"backend"}]}}}`, labelID)
			return
		}
		createInput, _ = req.Variables["input"].(map[string]interface{})
		fmt.Fprintf(w, `{"data":{"issueCreate":{"success":true,"issue":{"id":%q,"identifier":"ENG-43"}}}}`, testIssueID)
	}))
	defer server.Close()

	a := testAdapter(server.URL)
	created, err := a.CreateIssue(context.Background(), "Title", "Body", []string{"backend"})
	if err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}
	if created.Raw != testIssueID {
		t.Errorf("ref = %s, want issue UUID", created)
	}
	ids, _ := createInput["labelIds"].([]interface{})
	if len(ids) != 1 || ids[0] != labelID {
		t.Errorf("labelIds = %v, want [%s]", ids, labelID)
	}
}

func TestCreateIssueUnknownLabelRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"issueLabels":{"nodes":[]}}}`))
	}))
	defer server.Close()

	a := testAdapter(server.URL)
	_, err := a.CreateIssue(context.Background(), "Title", "Body", []string{"tpyo"})
	var validation *board.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("err = %v, want ValidationError for unknown label", err)
	}
	if !strings.Contains(validation.Reason, "tpyo") {
		t.Errorf("Reason = %q, want the missing label named", validation.Reason)
	}
}

// TestGraphQLErrorClassification verifies GraphQL-level errors fold into
// the shared taxonomy by extension code.
func TestGraphQLErrorClassification(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		check func(t *testing.T, err error)
	}{
		{
			name: "authentication error",
			body: `{"errors":[{"message":"bad key","extensions":{"code":"AUTHENTICATION_ERROR"}}]}`,
			check: func(t *testing.T, err error) {
				var authErr *board.AuthError
				if !errors.As(err, &authErr) {
					t.Errorf("err = %v, want AuthError", err)
				}
			},
		},
		{
			name: "rate limited",
			body: `{"errors":[{"message":"slow down","extensions":{"code":"RATELIMITED"}}]}`,
			check: func(t *testing.T, err error) {
				if !board.IsTransient(err) {
					t.Errorf("err = %v, want transient rate limit", err)
				}
			},
		},
		{
			name: "entity not found",
			body: `{"errors":[{"message":"Entity not found","extensions":{"code":"INVALID_INPUT"}}]}`,
			check: func(t *testing.T, err error) {
				var notFound *board.NotFoundError
				if !errors.As(err, &notFound) {
					t.Errorf("err = %v, want NotFoundError", err)
				}
			},
		},
		{
			name: "anything else is validation",
			body: `{"errors":[{"message":"field X is required","extensions":{"code":"INVALID_INPUT"}}]}`,
			check: func(t *testing.T, err error) {
				var validation *board.ValidationError
				if !errors.As(err, &validation) {
					t.Errorf("err = %v, want ValidationError", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			a := testAdapter(server.URL)
			_, err := a.GetIssue(context.Background(), ref(testIssueID))
			if err == nil {
				t.Fatal("expected error")
			}
			tt.check(t, err)
		})
	}
}

// TestRefFromIdentifier verifies UUIDs, human identifiers, and issue URLs.
func TestRefFromIdentifier(t *testing.T) {
	a := testAdapter("http://127.0.0.1:1")

	tests := []struct {
		token   string
		want    string
		wantErr bool
	}{
		{token: testIssueID, want: testIssueID},
		{token: "ENG-42", want: "ENG-42"},
		{token: "eng-42", want: "ENG-42"},
		{token: "https://linear.app/acme/issue/ENG-42", want: "ENG-42"},
		{token: "https://linear.app/acme/issue/" + testIssueID, want: testIssueID},
		{token: "not a ref", wantErr: true},
		{token: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := a.RefFromIdentifier(tt.token)
		if tt.wantErr {
			if err == nil {
				t.Errorf("RefFromIdentifier(%q) = %v, want error", tt.token, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("RefFromIdentifier(%q): %v", tt.token, err)
			continue
		}
		if got.Raw != tt.want {
			t.Errorf("RefFromIdentifier(%q) = %q, want %q", tt.token, got.Raw, tt.want)
		}
	}
}

// TestSearchPaginates verifies cursor pagination walks pageInfo.
func TestSearchPaginates(t *testing.T) {
	page := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		page++
		if page == 1 {
			if _, hasAfter := req.Variables["after"]; hasAfter {
				t.Error("first page should not pass a cursor")
			}
			_, _ = w.Write([]byte(`{"data":{"issues":{
				"nodes":[{"id":"id-1","identifier":"ENG-1"},{"id":"id-2","identifier":"ENG-2"}],
				"pageInfo":{"hasNextPage":true,"endCursor":"cur-1"}
			}}}`))
			return
		}
		if req.Variables["after"] != "cur-1" {
			t.Errorf("second page cursor = %v, want cur-1", req.Variables["after"])
		}
		_, _ = w.Write([]byte(`{"data":{"issues":{
			"nodes":[{"id":"id-3","identifier":"ENG-3"}],
			"pageInfo":{"hasNextPage":false,"endCursor":"cur-2"}
		}}}`))
	}))
	defer server.Close()

	a := testAdapter(server.URL)
	iter := a.SearchIssues(context.Background(), "retry")

	var ids []string
	for {
		snap, ok := iter.Next(context.Background())
		if !ok {
			break
		}
		ids = append(ids, snap.Ref.Raw)
	}
	if err := iter.Err(); err != nil {
		t.Fatalf("iter err: %v", err)
	}
	if len(ids) != 3 {
		t.Errorf("ids = %v, want 3 issues across 2 pages", ids)
	}
}

// TestAddToSprint verifies cycle membership is its own mutation, distinct
// from the workflow state.
func TestAddToSprint(t *testing.T) {
	var gotInput map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotInput, _ = req.Variables["input"].(map[string]interface{})
		_, _ = w.Write([]byte(`{"data":{"issueUpdate":{"success":true}}}`))
	}))
	defer server.Close()

	a := testAdapter(server.URL)
	if err := a.AddToSprint(context.Background(), ref(testIssueID), testCycleID); err != nil {
		t.Fatalf("AddToSprint: %v", err)
	}
	if gotInput["cycleId"] != testCycleID {
		t.Errorf("cycleId = %v, want %s", gotInput["cycleId"], testCycleID)
	}
}

func TestAddToSprintRejectsNonUUID(t *testing.T) {
	a := testAdapter("http://127.0.0.1:1")
	err := a.AddToSprint(context.Background(), ref(testIssueID), "sprint 12")
	var validation *board.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("err = %v, want ValidationError for non-UUID cycle id", err)
	}
}

func TestInitRejectsNonUUIDTeam(t *testing.T) {
	t.Setenv("LINEAR_API_KEY", "lin_api_secret")
	a := &Adapter{}
	err := a.Init(context.Background(), &config.BoardConfig{
		Backend:       config.BackendLinear,
		CredentialRef: "LINEAR_API_KEY",
		TeamID:        "engineering",
	})
	if err == nil {
		t.Fatal("Init accepted a non-UUID team_id")
	}
}

func TestClosedFromCompletedAt(t *testing.T) {
	node := &issueNode{ID: testIssueID, CompletedAt: "2026-08-01T10:30:00.000Z"}
	if !toSnapshot(node).Closed {
		t.Error("Closed = false, want true when completedAt is set")
	}
}
