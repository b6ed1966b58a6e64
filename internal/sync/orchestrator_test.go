package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agilekit/boardsync/internal/board"
	"github.com/agilekit/boardsync/internal/board/boardtest"
	"github.com/agilekit/boardsync/internal/config"
	"github.com/agilekit/boardsync/internal/lifecycle"
)

var testPipelines = map[string]string{
	config.StateBacklog:    "col-backlog",
	config.StateInProgress: "col-wip",
	config.StateReviewQA:   "col-review",
	config.StateDone:       "col-done",
}

func newTestOrch(t *testing.T) (*Orchestrator, *boardtest.Adapter) {
	t.Helper()
	adapter := boardtest.New(config.BackendJira)
	pipelines := make(map[string]string, len(testPipelines))
	for state, id := range testPipelines {
		pipelines[state] = id
	}
	cfg := &config.BoardConfig{
		Backend:     config.BackendJira,
		PipelineMap: pipelines,
	}
	o := New(adapter, cfg)
	o.newBackoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return o, adapter
}

func seedIssue(adapter *boardtest.Adapter, raw, desc, native string) board.TicketRef {
	ref := board.TicketRef{Kind: adapter.BackendKind, Raw: raw}
	adapter.Issues[raw] = &board.IssueSnapshot{
		Ref:          ref,
		Description:  desc,
		NativeStatus: native,
	}
	return ref
}

func TestStartWorkMovesState(t *testing.T) {
	o, adapter := newTestOrch(t)
	ref := seedIssue(adapter, "PROJ-1", "", "col-backlog")

	res, err := o.ApplyEvent(context.Background(), ref, lifecycle.StartWork, lifecycle.Payload{})
	require.NoError(t, err)
	assert.Equal(t, []string{"move"}, res.Applied)
	assert.Len(t, adapter.CallsTo("move_to_state"), 1)
}

func TestCommitAppliesChecklistDiff(t *testing.T) {
	o, adapter := newTestOrch(t)
	ref := seedIssue(adapter, "PROJ-1", "- [ ] A\n- [ ] B\n", "col-wip")

	res, err := o.ApplyEvent(context.Background(), ref, lifecycle.Commit, lifecycle.Payload{
		Checks: []lifecycle.CheckUpdate{{Index: 0, Checked: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"description"}, res.Applied)
	assert.Equal(t, "- [x] A\n- [ ] B\n", adapter.Issues["PROJ-1"].Description)
	assert.Empty(t, adapter.CallsTo("move_to_state"))
}

func TestCommitDiffIdempotent(t *testing.T) {
	o, adapter := newTestOrch(t)
	ref := seedIssue(adapter, "PROJ-1", "- [ ] A\n- [ ] B\n", "col-wip")
	payload := lifecycle.Payload{Checks: []lifecycle.CheckUpdate{{Index: 0, Checked: true}}}

	_, err := o.ApplyEvent(context.Background(), ref, lifecycle.Commit, payload)
	require.NoError(t, err)
	res, err := o.ApplyEvent(context.Background(), ref, lifecycle.Commit, payload)
	require.NoError(t, err)

	assert.Equal(t, "- [x] A\n- [ ] B\n", adapter.Issues["PROJ-1"].Description)
	assert.Empty(t, res.Applied)
	assert.Equal(t, []string{"checklist"}, res.Skipped)
	assert.Len(t, adapter.CallsTo("update_description"), 1)
}

func TestInvalidTransitionIssuesNoWrites(t *testing.T) {
	o, adapter := newTestOrch(t)
	ref := seedIssue(adapter, "PROJ-1", "", "col-done")

	_, err := o.ApplyEvent(context.Background(), ref, lifecycle.StartWork, lifecycle.Payload{})
	var invalid *lifecycle.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, board.StateDone, invalid.From)
	assert.Empty(t, adapter.WriteCalls())
}

func TestOpenPRRejectsUnsatisfiedCriteria(t *testing.T) {
	o, adapter := newTestOrch(t)
	ref := seedIssue(adapter, "PROJ-1", "- [x] A\n- [ ] B\n", "col-wip")

	_, err := o.ApplyEvent(context.Background(), ref, lifecycle.OpenPR, lifecycle.Payload{Summary: "done"})
	var incomplete *lifecycle.IncompleteAcceptanceCriteriaError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, []int{1}, incomplete.Indices)
	assert.Empty(t, adapter.WriteCalls())
}

func TestOpenPRRejectsDanglingDeferral(t *testing.T) {
	o, adapter := newTestOrch(t)
	ref := seedIssue(adapter, "PROJ-1", "- [x] A\n- [ ] B\n", "col-wip")

	_, err := o.ApplyEvent(context.Background(), ref, lifecycle.OpenPR, lifecycle.Payload{
		Defers:  []lifecycle.Deferral{{Index: 1, Note: "moved to PROJ-404"}},
		Summary: "done",
	})
	var dangling *DanglingDeferralError
	require.ErrorAs(t, err, &dangling)
	assert.Equal(t, 1, dangling.Index)
	assert.Equal(t, "PROJ-404", dangling.Token)
	assert.Empty(t, adapter.WriteCalls())
}

func TestOpenPRRejectsDeferralWithoutToken(t *testing.T) {
	o, adapter := newTestOrch(t)
	ref := seedIssue(adapter, "PROJ-1", "- [ ] B\n", "col-wip")

	_, err := o.ApplyEvent(context.Background(), ref, lifecycle.OpenPR, lifecycle.Payload{
		Defers: []lifecycle.Deferral{{Index: 0, Note: "will do later"}},
	})
	var dangling *DanglingDeferralError
	require.ErrorAs(t, err, &dangling)
	assert.Empty(t, dangling.Token)
	assert.Empty(t, adapter.WriteCalls())
}

func TestOpenPRRejectsDeferralToClosedTicket(t *testing.T) {
	o, adapter := newTestOrch(t)
	ref := seedIssue(adapter, "PROJ-1", "- [ ] B\n", "col-wip")
	adapter.Issues["PROJ-9"] = &board.IssueSnapshot{
		Ref:    board.TicketRef{Kind: config.BackendJira, Raw: "PROJ-9"},
		Closed: true,
	}

	_, err := o.ApplyEvent(context.Background(), ref, lifecycle.OpenPR, lifecycle.Payload{
		Defers: []lifecycle.Deferral{{Index: 0, Note: "moved to PROJ-9"}},
	})
	var dangling *DanglingDeferralError
	require.ErrorAs(t, err, &dangling)
	assert.Empty(t, adapter.WriteCalls())
}

func TestOpenPRAppliesChecklistSummaryAndMove(t *testing.T) {
	o, adapter := newTestOrch(t)
	ref := seedIssue(adapter, "PROJ-1", "Intro.\n\n- [x] A\n- [ ] B\n", "col-wip")
	seedIssue(adapter, "PROJ-9", "", "col-backlog")

	res, err := o.ApplyEvent(context.Background(), ref, lifecycle.OpenPR, lifecycle.Payload{
		Defers:  []lifecycle.Deferral{{Index: 1, Note: "split out to PROJ-9"}},
		Summary: "Implemented A.",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"description", "move"}, res.Applied)

	desc := adapter.Issues["PROJ-1"].Description
	assert.Contains(t, desc, "- ~~[ ] B~~ *split out to PROJ-9*")
	assert.Contains(t, desc, "## Implementation Summary\n\nImplemented A.")
	assert.Len(t, adapter.CallsTo("update_description"), 1)

	moves := adapter.CallsTo("move_to_state")
	require.Len(t, moves, 1)
	assert.Contains(t, moves[0].Args, string(board.StateReviewQA))
}

func TestReviewFailMovesAndComments(t *testing.T) {
	o, adapter := newTestOrch(t)
	ref := seedIssue(adapter, "PROJ-1", "", "col-review")

	res, err := o.ApplyEvent(context.Background(), ref, lifecycle.ReviewFail, lifecycle.Payload{
		Comment: "Needs error handling on the nil path.",
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"move", "comment"}, res.Applied)
	assert.Len(t, adapter.CallsTo("move_to_state"), 1)
	assert.Len(t, adapter.CallsTo("add_comment"), 1)
	assert.Len(t, adapter.WriteCalls(), 2)
}

func TestReviewFailRequiresComment(t *testing.T) {
	o, adapter := newTestOrch(t)
	ref := seedIssue(adapter, "PROJ-1", "", "col-review")

	_, err := o.ApplyEvent(context.Background(), ref, lifecycle.ReviewFail, lifecycle.Payload{})
	require.Error(t, err)
	assert.Empty(t, adapter.WriteCalls())
}

func TestMergePRMovesToDone(t *testing.T) {
	o, adapter := newTestOrch(t)
	ref := seedIssue(adapter, "PROJ-1", "", "col-review")

	res, err := o.ApplyEvent(context.Background(), ref, lifecycle.MergePR, lifecycle.Payload{})
	require.NoError(t, err)
	assert.Equal(t, []string{"move"}, res.Applied)
	assert.Equal(t, board.StateDone, res.To)
}

func TestMoveStateSkipsWhenAlreadyThere(t *testing.T) {
	o, adapter := newTestOrch(t)
	ref := seedIssue(adapter, "PROJ-1", "", "col-review")

	res := &Result{Ticket: ref}
	err := o.moveState(context.Background(), ref, board.StateReviewQA, res)
	require.NoError(t, err)
	assert.Equal(t, []string{"move"}, res.Skipped)
	assert.Empty(t, adapter.WriteCalls())
}

func TestMoveStateUnmapped(t *testing.T) {
	o, adapter := newTestOrch(t)
	delete(o.cfg.PipelineMap, config.StateDone)
	ref := seedIssue(adapter, "PROJ-1", "", "col-review")

	_, err := o.ApplyEvent(context.Background(), ref, lifecycle.MergePR, lifecycle.Payload{})
	var unmapped *board.UnmappedStateError
	require.ErrorAs(t, err, &unmapped)
	assert.Equal(t, board.StateDone, unmapped.State)
	assert.Empty(t, adapter.WriteCalls())
}

func TestRetryTransientThenSucceed(t *testing.T) {
	o, adapter := newTestOrch(t)
	ref := seedIssue(adapter, "PROJ-1", "", "col-backlog")
	adapter.ErrsOnce["move_to_state"] = &board.TransientError{Op: "move_to_state", Err: errors.New("timeout")}

	_, err := o.ApplyEvent(context.Background(), ref, lifecycle.StartWork, lifecycle.Payload{})
	require.NoError(t, err)
	assert.Len(t, adapter.CallsTo("move_to_state"), 2)
}

func TestRetryHonorsRateLimitHint(t *testing.T) {
	o, adapter := newTestOrch(t)
	ref := seedIssue(adapter, "PROJ-1", "", "col-backlog")
	adapter.ErrsOnce["move_to_state"] = &board.RateLimitError{Op: "move_to_state", RetryAfter: 20 * time.Millisecond}

	start := time.Now()
	_, err := o.ApplyEvent(context.Background(), ref, lifecycle.StartWork, lifecycle.Payload{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Len(t, adapter.CallsTo("move_to_state"), 2)
}

func TestNonTransientNotRetried(t *testing.T) {
	o, adapter := newTestOrch(t)
	ref := seedIssue(adapter, "PROJ-1", "", "col-review")
	adapter.Errs["add_comment"] = &board.ValidationError{Backend: config.BackendJira, Reason: "comment body rejected"}

	res, err := o.ApplyEvent(context.Background(), ref, lifecycle.ReviewFail, lifecycle.Payload{Comment: "feedback"})
	var validation *board.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Len(t, adapter.CallsTo("add_comment"), 1)
	assert.Contains(t, res.Failed, "comment")
}

func TestRetryExhaustion(t *testing.T) {
	o, adapter := newTestOrch(t)
	o.maxAttempts = 3
	ref := seedIssue(adapter, "PROJ-1", "", "col-backlog")
	adapter.Errs["move_to_state"] = &board.TransientError{Op: "move_to_state", Err: errors.New("connection reset")}

	_, err := o.ApplyEvent(context.Background(), ref, lifecycle.StartWork, lifecycle.Payload{})
	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "move_to_state", exhausted.Op)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Len(t, adapter.CallsTo("move_to_state"), 3)
}

func TestCreateTicketAppliesFieldsConcurrently(t *testing.T) {
	o, adapter := newTestOrch(t)
	seedIssue(adapter, "PROJ-100", "", "col-backlog")
	points := 5

	res, err := o.CreateTicket(context.Background(), CreateInput{
		Title:    "New story",
		Body:     "- [ ] A\n",
		Labels:   []string{"backend"},
		Estimate: &points,
		Parent:   "PROJ-100",
	})
	require.NoError(t, err)
	assert.False(t, res.PartialSuccess())
	assert.ElementsMatch(t, []string{"create", "estimate", "parent"}, res.Applied)

	created := adapter.Issues[res.Ticket.Raw]
	require.NotNil(t, created)
	require.NotNil(t, created.Estimate)
	assert.Equal(t, 5, *created.Estimate)
	require.NotNil(t, created.Parent)
	assert.Equal(t, "PROJ-100", created.Parent.Raw)
}

func TestCreateTicketPartialSuccess(t *testing.T) {
	o, adapter := newTestOrch(t)
	o.maxAttempts = 2
	points := 3
	adapter.Errs["set_parent"] = &board.TransientError{Op: "set_parent", Err: errors.New("timeout")}
	seedIssue(adapter, "PROJ-100", "", "col-backlog")

	res, err := o.CreateTicket(context.Background(), CreateInput{
		Title:    "New story",
		Estimate: &points,
		Parent:   "PROJ-100",
	})
	require.NoError(t, err, "partial success is a result variant, not an error")
	assert.True(t, res.PartialSuccess())
	assert.Contains(t, res.Applied, "estimate")
	assert.Equal(t, []string{"parent"}, res.Failed)

	var exhausted *RetryExhaustedError
	require.ErrorAs(t, res.Errors["parent"], &exhausted)
}

func TestCreateTicketSprintUnsupported(t *testing.T) {
	o, adapter := newTestOrch(t)
	adapter.SprintMembership = false

	res, err := o.CreateTicket(context.Background(), CreateInput{Title: "New story", SprintID: "sprint-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"sprint"}, res.Unsupported)
	assert.Empty(t, adapter.CallsTo("add_to_sprint"))
}

func TestUpdateLabelsUnsupported(t *testing.T) {
	o, adapter := newTestOrch(t)
	adapter.LabelUpdate = false
	ref := seedIssue(adapter, "PROJ-1", "", "col-wip")

	res, err := o.UpdateLabels(context.Background(), ref, []string{"frontend"})
	require.NoError(t, err)
	assert.Equal(t, []string{"labels"}, res.Unsupported)
	assert.Empty(t, adapter.WriteCalls())
}

func TestUpdateLabelsSupported(t *testing.T) {
	o, adapter := newTestOrch(t)
	adapter.LabelUpdate = true
	ref := seedIssue(adapter, "PROJ-1", "", "col-wip")

	res, err := o.UpdateLabels(context.Background(), ref, []string{"frontend"})
	require.NoError(t, err)
	assert.Equal(t, []string{"labels"}, res.Applied)
	assert.Len(t, adapter.CallsTo("update_labels"), 1)
}

func TestUnknownNativeStatus(t *testing.T) {
	o, adapter := newTestOrch(t)
	ref := seedIssue(adapter, "PROJ-1", "", "col-mystery")

	_, err := o.ApplyEvent(context.Background(), ref, lifecycle.StartWork, lifecycle.Payload{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "col-mystery")
	assert.Empty(t, adapter.WriteCalls())
}

func TestResultSummary(t *testing.T) {
	res := &Result{Ticket: board.TicketRef{Kind: config.BackendJira, Raw: "PROJ-1"}}
	res.applied("create")
	res.failed("parent", fmt.Errorf("timeout"))
	res.unsupported("sprint")

	s := res.Summary()
	assert.Contains(t, s, "applied create")
	assert.Contains(t, s, "failed parent")
	assert.Contains(t, s, "unsupported sprint")
}
