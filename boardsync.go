// Package boardsync keeps a work item's status, acceptance-criteria
// checklist, description, and board placement consistent with the
// development lifecycle, across interchangeable ticket-tracking backends.
//
// The package is the inbound surface for presentation layers (CLIs, bots,
// editor plugins): they hand it a project path, a ticket token, a lifecycle
// event, and a structured payload, and it performs the backend calls. All
// policy lives in the internal packages; this file re-exports the types a
// caller needs and wires a resolved configuration to its backend adapter.
package boardsync

import (
	"context"
	"fmt"

	"github.com/agilekit/boardsync/internal/board"
	"github.com/agilekit/boardsync/internal/config"
	"github.com/agilekit/boardsync/internal/lifecycle"
	"github.com/agilekit/boardsync/internal/sync"

	// Register the backend adapters.
	_ "github.com/agilekit/boardsync/internal/board/jira"
	_ "github.com/agilekit/boardsync/internal/board/linear"
	_ "github.com/agilekit/boardsync/internal/board/zenhub"
)

// Core types for callers.
type (
	BoardConfig = config.BoardConfig
	TicketRef   = board.TicketRef
	Snapshot    = board.IssueSnapshot
	Event       = lifecycle.Event
	Payload     = lifecycle.Payload
	CheckUpdate = lifecycle.CheckUpdate
	Deferral    = lifecycle.Deferral
	Result      = sync.Result
	CreateInput = sync.CreateInput
)

// Lifecycle events.
const (
	StartWork  = lifecycle.StartWork
	Commit     = lifecycle.Commit
	OpenPR     = lifecycle.OpenPR
	ReviewPass = lifecycle.ReviewPass
	ReviewFail = lifecycle.ReviewFail
	MergePR    = lifecycle.MergePR
)

// ParseEvent converts a string to a lifecycle event.
func ParseEvent(s string) (Event, error) { return lifecycle.ParseEvent(s) }

// Backends lists the registered backend kinds.
func Backends() []string {
	kinds := board.Kinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// Session is one project's resolved configuration wired to its backend
// adapter. Open once, apply any number of operations, then Close.
type Session struct {
	cfg     *config.BoardConfig
	adapter board.Adapter
	orch    *sync.Orchestrator
}

// Open resolves the project's board configuration and initializes the
// adapter for its declared backend.
func Open(ctx context.Context, projectPath string) (*Session, error) {
	cfg, err := config.Resolve(projectPath)
	if err != nil {
		return nil, err
	}

	adapter, err := board.New(cfg.Backend)
	if err != nil {
		return nil, err
	}
	if err := adapter.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("init %s adapter: %w", cfg.Backend, err)
	}

	return &Session{
		cfg:     cfg,
		adapter: adapter,
		orch:    sync.New(adapter, cfg),
	}, nil
}

// Config returns the session's resolved configuration.
func (s *Session) Config() *BoardConfig { return s.cfg }

// BackendName returns the human-readable backend name.
func (s *Session) BackendName() string { return s.adapter.DisplayName() }

// OnMessage registers a progress callback.
func (s *Session) OnMessage(fn func(string)) { s.orch.OnMessage = fn }

// OnWarning registers a non-fatal problem callback.
func (s *Session) OnWarning(fn func(string)) { s.orch.OnWarning = fn }

// Resolve turns a human-facing ticket token into a backend-tagged ref.
func (s *Session) Resolve(token string) (TicketRef, error) {
	return s.adapter.RefFromIdentifier(token)
}

// Apply performs one lifecycle event on a ticket.
func (s *Session) Apply(ctx context.Context, ticket string, event Event, payload Payload) (*Result, error) {
	ref, err := s.adapter.RefFromIdentifier(ticket)
	if err != nil {
		return nil, err
	}
	return s.orch.ApplyEvent(ctx, ref, event, payload)
}

// Create creates a ticket with its follow-up fields.
func (s *Session) Create(ctx context.Context, in CreateInput) (*Result, error) {
	if len(in.Labels) == 0 {
		in.Labels = s.cfg.DefaultLabels
	}
	return s.orch.CreateTicket(ctx, in)
}

// Get fetches the current remote snapshot of a ticket.
func (s *Session) Get(ctx context.Context, ticket string) (*Snapshot, error) {
	ref, err := s.adapter.RefFromIdentifier(ticket)
	if err != nil {
		return nil, err
	}
	return s.adapter.GetIssue(ctx, ref)
}

// SetLabels replaces a ticket's labels where the backend supports it.
func (s *Session) SetLabels(ctx context.Context, ticket string, labels []string) (*Result, error) {
	ref, err := s.adapter.RefFromIdentifier(ticket)
	if err != nil {
		return nil, err
	}
	return s.orch.UpdateLabels(ctx, ref, labels)
}

// Search queries the backend for issues matching the query. The returned
// iterator is finite and one-shot.
func (s *Session) Search(ctx context.Context, query string) *board.SearchIter {
	return s.adapter.SearchIssues(ctx, query)
}

// Close releases the adapter's resources.
func (s *Session) Close() error {
	return s.adapter.Close()
}
