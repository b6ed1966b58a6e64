// Package lifecycle owns the abstract ticket state machine.
//
// The machine is a strict partial function over (state, event) pairs: it
// names the target state and the ordered side-effects the orchestrator must
// perform, and rejects every pair not in the table. It never talks to a
// backend itself.
package lifecycle

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agilekit/boardsync/internal/board"
	"github.com/agilekit/boardsync/internal/checklist"
)

// Event is a development-lifecycle event raised by the caller.
type Event string

const (
	StartWork  Event = "start_work"
	Commit     Event = "commit"
	OpenPR     Event = "open_pr"
	ReviewPass Event = "review_pass"
	ReviewFail Event = "review_fail"
	MergePR    Event = "merge_pr"
)

// Events lists every lifecycle event.
var Events = []Event{StartWork, Commit, OpenPR, ReviewPass, ReviewFail, MergePR}

// ParseEvent converts a string (CLI argument, API field) to an Event.
func ParseEvent(s string) (Event, error) {
	for _, ev := range Events {
		if string(ev) == s {
			return ev, nil
		}
	}
	return "", fmt.Errorf("unknown lifecycle event %q", s)
}

// Effect is one side-operation a transition requires. The orchestrator
// executes effects in the order listed: description work first, comments
// second, the state move last. Moving state is the publish signal, so a
// crash mid-sequence leaves the ticket in its old, consistent column.
type Effect string

const (
	// EffectApplyChecklist applies the payload's checklist diff and writes
	// the description back if it changed.
	EffectApplyChecklist Effect = "apply_checklist"
	// EffectAppendSummary appends the implementation summary to the
	// description.
	EffectAppendSummary Effect = "append_summary"
	// EffectComment posts the payload's comment, when one is present.
	EffectComment Effect = "comment"
	// EffectMoveState moves the ticket to the transition's target state.
	EffectMoveState Effect = "move_state"
)

// Transition is one row of the lifecycle table.
type Transition struct {
	Event   Event
	From    board.State
	To      board.State
	Effects []Effect
}

type transitionKey struct {
	from  board.State
	event Event
}

// table is the full lifecycle. ReviewPass records approval without leaving
// review; MergePR performs the move to Done.
var table = map[transitionKey]Transition{
	{board.StateBacklog, StartWork}: {
		Event: StartWork, From: board.StateBacklog, To: board.StateInProgress,
		Effects: []Effect{EffectMoveState},
	},
	{board.StateInProgress, Commit}: {
		Event: Commit, From: board.StateInProgress, To: board.StateInProgress,
		Effects: []Effect{EffectApplyChecklist, EffectComment},
	},
	{board.StateInProgress, OpenPR}: {
		Event: OpenPR, From: board.StateInProgress, To: board.StateReviewQA,
		Effects: []Effect{EffectApplyChecklist, EffectAppendSummary, EffectMoveState},
	},
	{board.StateReviewQA, ReviewFail}: {
		Event: ReviewFail, From: board.StateReviewQA, To: board.StateInProgress,
		Effects: []Effect{EffectMoveState, EffectComment},
	},
	{board.StateReviewQA, ReviewPass}: {
		Event: ReviewPass, From: board.StateReviewQA, To: board.StateReviewQA,
		Effects: []Effect{EffectComment},
	},
	{board.StateReviewQA, MergePR}: {
		Event: MergePR, From: board.StateReviewQA, To: board.StateDone,
		Effects: []Effect{EffectMoveState},
	},
}

// Next returns the transition for (from, event). Unknown pairs return
// *InvalidTransitionError and never silently no-op.
func Next(from board.State, event Event) (Transition, error) {
	tr, ok := table[transitionKey{from, event}]
	if !ok {
		return Transition{}, &InvalidTransitionError{From: from, Event: event}
	}
	return tr, nil
}

// InvalidTransitionError reports a (state, event) pair outside the table.
type InvalidTransitionError struct {
	From  board.State
	Event Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("event %s is not valid in state %s", e.Event, e.From)
}

// IncompleteAcceptanceCriteriaError rejects an OpenPR while criteria remain
// neither checked nor deferred. Ready-for-review is a hard gate, not a
// warning.
type IncompleteAcceptanceCriteriaError struct {
	Indices []int
}

func (e *IncompleteAcceptanceCriteriaError) Error() string {
	parts := make([]string, len(e.Indices))
	for i, idx := range e.Indices {
		parts[i] = fmt.Sprintf("%d", idx)
	}
	return fmt.Sprintf("acceptance criteria not satisfied (indices %s): check or defer each before opening a PR",
		strings.Join(parts, ", "))
}

// ValidateReadyForReview checks the OpenPR gate: every criterion checked or
// deferred. The deferral targets themselves are resolved by the orchestrator
// against the backend.
func ValidateReadyForReview(block *checklist.Block) error {
	unsatisfied := block.Unsatisfied()
	if len(unsatisfied) > 0 {
		sort.Ints(unsatisfied)
		return &IncompleteAcceptanceCriteriaError{Indices: unsatisfied}
	}
	return nil
}

// CheckUpdate is one (criterionIndex, nowChecked) pair from a Commit event.
type CheckUpdate struct {
	Index   int
	Checked bool
}

// Deferral postpones a criterion to another ticket with a justification.
type Deferral struct {
	Index int
	Note  string
}

// Payload carries event-specific data. Fields are read per event:
//
//	Commit:     Checks, Defers, Comment (optional)
//	OpenPR:     Checks, Defers (final checklist end-state), Summary
//	ReviewPass: Comment (optional approval note)
//	ReviewFail: Comment (review feedback)
//
// StartWork and MergePR carry no payload.
type Payload struct {
	Checks  []CheckUpdate
	Defers  []Deferral
	Comment string
	Summary string
}
