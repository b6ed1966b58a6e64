// Package board defines the uniform operation contract that every ticket
// backend implements, plus the backend-tagged identifiers and abstract
// lifecycle states shared across the synchronizer.
//
// Each backend (zenhub, jira, linear) provides an adapter in its own
// subpackage and registers a factory at init time. The orchestrator selects
// the adapter by the config's backend tag; there is no hierarchy between
// adapters, only this interface and two optional-capability probes.
package board

import (
	"context"
	"time"

	"github.com/agilekit/boardsync/internal/config"
)

// State is the backend-independent ticket lifecycle stage. The backend's
// native status is a projection of this value through the config pipeline
// map, recomputed on every read: the remote system is the source of truth
// and may be edited out-of-band.
type State string

const (
	StateBacklog    State = config.StateBacklog
	StateInProgress State = config.StateInProgress
	StateReviewQA   State = config.StateReviewQA
	StateDone       State = config.StateDone
	StateBlocked    State = config.StateBlocked
)

// States lists all abstract states.
var States = []State{StateBacklog, StateInProgress, StateReviewQA, StateDone, StateBlocked}

// Valid reports whether s is a known abstract state.
func (s State) Valid() bool {
	for _, known := range States {
		if s == known {
			return true
		}
	}
	return false
}

// TicketRef is a backend-tagged opaque ticket identifier. Raw is never
// assumed numeric or string-shaped: ZenHub mixes numeric strings with opaque
// global IDs, Jira uses human-readable keys, Linear uses UUIDs. Two refs are
// equal only if both the backend tag and the raw ID match; refs are never
// compared or coerced across backend kinds.
type TicketRef struct {
	Kind config.BackendKind
	Raw  string
}

// Equal reports whether two refs identify the same ticket.
func (r TicketRef) Equal(other TicketRef) bool {
	return r.Kind == other.Kind && r.Raw == other.Raw
}

// IsZero reports whether the ref is unset.
func (r TicketRef) IsZero() bool {
	return r.Kind == "" && r.Raw == ""
}

func (r TicketRef) String() string {
	if r.IsZero() {
		return "<none>"
	}
	return string(r.Kind) + ":" + r.Raw
}

// IssueSnapshot is the current remote state of a ticket as one backend
// reports it, normalized into backend-independent shape.
type IssueSnapshot struct {
	Ref         TicketRef
	Title       string
	Description string

	// NativeStatus is the backend's own pipeline/status/state ID, exactly
	// as the pipeline map addresses it. Abstract state is derived from it
	// by the caller, never cached here.
	NativeStatus string

	Estimate *int
	Parent   *TicketRef
	Labels   []string
	URL      string

	// Closed reports the backend's own notion of a finished ticket
	// (closed issue, resolved key, completed-at set). Deferral targets
	// must not be closed.
	Closed bool

	UpdatedAt time.Time
}

// Adapter is the capability set every backend variant implements.
//
// All blocking operations take a context; timeouts are per-HTTP-call inside
// each client, not per logical operation. An adapter only ever accepts and
// returns TicketRefs tagged with its own backend kind.
type Adapter interface {
	// Kind returns the backend tag this adapter serves.
	Kind() config.BackendKind

	// DisplayName returns the human-readable backend name.
	DisplayName() string

	// Init wires the adapter to a resolved project configuration.
	// Called once before any other operation.
	Init(ctx context.Context, cfg *config.BoardConfig) error

	// Validate checks that the adapter is initialized and credentialed.
	Validate() error

	// Close releases any resources held by the adapter.
	Close() error

	// CreateIssue creates a ticket and returns its ref. Labels are applied
	// at creation; for backends without post-creation label mutation this
	// is the only chance to set them.
	CreateIssue(ctx context.Context, title, body string, labels []string) (TicketRef, error)

	// GetIssue returns the current remote snapshot of a ticket.
	GetIssue(ctx context.Context, ref TicketRef) (*IssueSnapshot, error)

	// SetEstimate sets the story-point estimate.
	SetEstimate(ctx context.Context, ref TicketRef, points int) error

	// SetParent links ref under parent (epic/parent issue).
	SetParent(ctx context.Context, ref, parent TicketRef) error

	// MoveToState moves the ticket to the backend-native status mapped from
	// the abstract state. Fails with *UnmappedStateError when the config
	// pipeline map has no entry for the state.
	MoveToState(ctx context.Context, ref TicketRef, state State) error

	// AddComment posts a comment on the ticket.
	AddComment(ctx context.Context, ref TicketRef, text string) error

	// UpdateDescription replaces the ticket description.
	UpdateDescription(ctx context.Context, ref TicketRef, text string) error

	// SearchIssues returns a lazy, finite, one-shot sequence of snapshots.
	// Re-invoke to re-query.
	SearchIssues(ctx context.Context, query string) *SearchIter

	// RefFromIdentifier turns a human-facing ticket token ("PROJ-123",
	// "#42", a UUID, an issue URL) into a ref tagged with this backend.
	RefFromIdentifier(token string) (TicketRef, error)

	// SupportsLabelUpdate reports whether labels can be changed after
	// creation. Write-once for the GitHub-issue-based backend.
	SupportsLabelUpdate() bool

	// UpdateLabels replaces the label set. ErrUnsupported when
	// SupportsLabelUpdate is false.
	UpdateLabels(ctx context.Context, ref TicketRef, labels []string) error

	// SupportsSprintMembership reports whether the backend models sprint
	// membership as a first-class mutation distinct from status.
	SupportsSprintMembership() bool

	// AddToSprint adds the ticket to a sprint/cycle. ErrUnsupported when
	// SupportsSprintMembership is false.
	AddToSprint(ctx context.Context, ref TicketRef, sprintID string) error
}
