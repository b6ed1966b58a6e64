package sync

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agilekit/boardsync/internal/board"
	"github.com/agilekit/boardsync/internal/lifecycle"
)

// Result reports what one orchestrator invocation did on the backend.
//
// Partial success is a result variant, not an error: when some independent
// sub-operations of a multi-field write land and others do not, Applied and
// Failed name them so the caller can repair just the missing pieces.
type Result struct {
	// Ticket is the ticket operated on. For CreateTicket it is the newly
	// created ref.
	Ticket board.TicketRef

	// Event and From/To are set by ApplyEvent.
	Event lifecycle.Event
	From  board.State
	To    board.State

	// Applied names sub-operations that landed on the backend.
	Applied []string

	// Skipped names sub-operations found already applied and not re-issued.
	Skipped []string

	// Failed names sub-operations that did not land; Errors carries the
	// failure for each.
	Failed []string
	Errors map[string]error

	// Unsupported names sub-operations the backend cannot perform, reported
	// rather than silently dropped.
	Unsupported []string
}

func (r *Result) applied(op string) { r.Applied = append(r.Applied, op) }
func (r *Result) skipped(op string) { r.Skipped = append(r.Skipped, op) }

func (r *Result) unsupported(op string) {
	r.Unsupported = append(r.Unsupported, op)
}

func (r *Result) failed(op string, err error) {
	r.Failed = append(r.Failed, op)
	if r.Errors == nil {
		r.Errors = make(map[string]error)
	}
	r.Errors[op] = err
}

// PartialSuccess reports whether some sub-operations landed while others
// failed.
func (r *Result) PartialSuccess() bool {
	return len(r.Applied) > 0 && len(r.Failed) > 0
}

// Summary renders a one-line account of the invocation for callers that log
// or print results.
func (r *Result) Summary() string {
	var parts []string
	if len(r.Applied) > 0 {
		parts = append(parts, "applied "+strings.Join(r.Applied, ", "))
	}
	if len(r.Skipped) > 0 {
		parts = append(parts, "skipped "+strings.Join(r.Skipped, ", "))
	}
	if len(r.Failed) > 0 {
		failed := append([]string(nil), r.Failed...)
		sort.Strings(failed)
		parts = append(parts, "failed "+strings.Join(failed, ", "))
	}
	if len(r.Unsupported) > 0 {
		parts = append(parts, "unsupported "+strings.Join(r.Unsupported, ", "))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s: nothing to do", r.Ticket)
	}
	return fmt.Sprintf("%s: %s", r.Ticket, strings.Join(parts, "; "))
}

// DanglingDeferralError rejects an OpenPR whose deferred criterion does not
// point at a resolvable, open ticket. Rejected before any write is issued.
type DanglingDeferralError struct {
	Index int
	Token string
	Err   error
}

func (e *DanglingDeferralError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("criterion %d is deferred without a ticket reference in its justification", e.Index)
	}
	return fmt.Sprintf("criterion %d deferred to %s, which does not resolve to an open ticket: %v", e.Index, e.Token, e.Err)
}

func (e *DanglingDeferralError) Unwrap() error { return e.Err }
