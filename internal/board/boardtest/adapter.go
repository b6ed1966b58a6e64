// Package boardtest provides a recording in-memory adapter for orchestrator
// and facade tests.
package boardtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/agilekit/boardsync/internal/board"
	"github.com/agilekit/boardsync/internal/config"
)

// Call records one adapter invocation: the operation name and its salient
// arguments, formatted for assertions.
type Call struct {
	Op   string
	Args string
}

// Adapter is a configurable board.Adapter double. Zero value is usable:
// it serves the issues placed in Issues and records every call.
type Adapter struct {
	mu sync.Mutex

	BackendKind config.BackendKind

	// Issues maps raw ref IDs to snapshots served by GetIssue.
	Issues map[string]*board.IssueSnapshot

	// Errs injects an error for a named op ("move_to_state", "add_comment",
	// "set_parent", ...). Consumed on every call to that op.
	Errs map[string]error

	// ErrsOnce injects an error for the first call to an op only;
	// subsequent calls succeed. Used to exercise retry paths.
	ErrsOnce map[string]error

	// LabelUpdate and SprintMembership configure the capability probes.
	LabelUpdate      bool
	SprintMembership bool

	calls   []Call
	created int
}

func New(kind config.BackendKind) *Adapter {
	return &Adapter{
		BackendKind: kind,
		Issues:      make(map[string]*board.IssueSnapshot),
		Errs:        make(map[string]error),
		ErrsOnce:    make(map[string]error),
	}
}

// Calls returns every recorded call in order.
func (a *Adapter) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Call, len(a.calls))
	copy(out, a.calls)
	return out
}

// CallsTo returns the recorded calls for one op.
func (a *Adapter) CallsTo(op string) []Call {
	var out []Call
	for _, c := range a.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// WriteCalls returns the recorded calls that mutate remote state.
func (a *Adapter) WriteCalls() []Call {
	writes := map[string]bool{
		"create_issue": true, "set_estimate": true, "set_parent": true,
		"move_to_state": true, "add_comment": true, "update_description": true,
		"update_labels": true, "add_to_sprint": true,
	}
	var out []Call
	for _, c := range a.Calls() {
		if writes[c.Op] {
			out = append(out, c)
		}
	}
	return out
}

func (a *Adapter) record(op, format string, args ...interface{}) error {
	a.mu.Lock()
	a.calls = append(a.calls, Call{Op: op, Args: fmt.Sprintf(format, args...)})
	if err, ok := a.ErrsOnce[op]; ok {
		delete(a.ErrsOnce, op)
		a.mu.Unlock()
		return err
	}
	err := a.Errs[op]
	a.mu.Unlock()
	return err
}

func (a *Adapter) Kind() config.BackendKind { return a.BackendKind }
func (a *Adapter) DisplayName() string      { return "test backend" }

func (a *Adapter) Init(ctx context.Context, cfg *config.BoardConfig) error { return nil }
func (a *Adapter) Validate() error                                         { return nil }
func (a *Adapter) Close() error                                            { return nil }

func (a *Adapter) SupportsLabelUpdate() bool      { return a.LabelUpdate }
func (a *Adapter) SupportsSprintMembership() bool { return a.SprintMembership }

func (a *Adapter) CreateIssue(ctx context.Context, title, body string, labels []string) (board.TicketRef, error) {
	if err := a.record("create_issue", "title=%s labels=%v", title, labels); err != nil {
		return board.TicketRef{}, err
	}
	a.mu.Lock()
	a.created++
	raw := fmt.Sprintf("NEW-%d", a.created)
	a.Issues[raw] = &board.IssueSnapshot{
		Ref:         board.TicketRef{Kind: a.BackendKind, Raw: raw},
		Title:       title,
		Description: body,
		Labels:      labels,
	}
	a.mu.Unlock()
	return board.TicketRef{Kind: a.BackendKind, Raw: raw}, nil
}

func (a *Adapter) GetIssue(ctx context.Context, ref board.TicketRef) (*board.IssueSnapshot, error) {
	if err := a.record("get_issue", "ref=%s", ref); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	snap, ok := a.Issues[ref.Raw]
	if !ok {
		return nil, &board.NotFoundError{Ref: ref}
	}
	copied := *snap
	return &copied, nil
}

func (a *Adapter) SetEstimate(ctx context.Context, ref board.TicketRef, points int) error {
	if err := a.record("set_estimate", "ref=%s points=%d", ref, points); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if snap, ok := a.Issues[ref.Raw]; ok {
		snap.Estimate = &points
	}
	return nil
}

func (a *Adapter) SetParent(ctx context.Context, ref, parent board.TicketRef) error {
	if err := a.record("set_parent", "ref=%s parent=%s", ref, parent); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if snap, ok := a.Issues[ref.Raw]; ok {
		snap.Parent = &parent
	}
	return nil
}

func (a *Adapter) MoveToState(ctx context.Context, ref board.TicketRef, state board.State) error {
	if err := a.record("move_to_state", "ref=%s state=%s", ref, state); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if snap, ok := a.Issues[ref.Raw]; ok {
		snap.NativeStatus = "native-" + string(state)
	}
	return nil
}

func (a *Adapter) AddComment(ctx context.Context, ref board.TicketRef, text string) error {
	return a.record("add_comment", "ref=%s text=%s", ref, text)
}

func (a *Adapter) UpdateDescription(ctx context.Context, ref board.TicketRef, text string) error {
	if err := a.record("update_description", "ref=%s", ref); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if snap, ok := a.Issues[ref.Raw]; ok {
		snap.Description = text
	}
	return nil
}

func (a *Adapter) UpdateLabels(ctx context.Context, ref board.TicketRef, labels []string) error {
	if !a.LabelUpdate {
		return board.ErrUnsupported
	}
	return a.record("update_labels", "ref=%s labels=%v", ref, labels)
}

func (a *Adapter) AddToSprint(ctx context.Context, ref board.TicketRef, sprintID string) error {
	if !a.SprintMembership {
		return board.ErrUnsupported
	}
	return a.record("add_to_sprint", "ref=%s sprint=%s", ref, sprintID)
}

func (a *Adapter) SearchIssues(ctx context.Context, query string) *board.SearchIter {
	_ = a.record("search_issues", "query=%s", query)
	a.mu.Lock()
	snaps := make([]board.IssueSnapshot, 0, len(a.Issues))
	for _, snap := range a.Issues {
		snaps = append(snaps, *snap)
	}
	a.mu.Unlock()
	served := false
	return board.NewSearchIter(func(ctx context.Context) ([]board.IssueSnapshot, bool, error) {
		if served {
			return nil, true, nil
		}
		served = true
		return snaps, true, nil
	})
}

func (a *Adapter) RefFromIdentifier(token string) (board.TicketRef, error) {
	if token == "" {
		return board.TicketRef{}, fmt.Errorf("empty token")
	}
	return board.TicketRef{Kind: a.BackendKind, Raw: token}, nil
}
