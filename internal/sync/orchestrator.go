// Package sync executes lifecycle transitions against a board backend.
//
// The orchestrator computes the minimal set of adapter calls for a
// transition and issues them in a fixed order: description work first,
// comments second, the state move last. The move is the publish signal; a
// crash mid-sequence leaves the ticket in its old, consistent column rather
// than one implying completed work.
package sync

import (
	"context"
	"fmt"
	stdsync "sync"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/agilekit/boardsync/internal/board"
	"github.com/agilekit/boardsync/internal/checklist"
	"github.com/agilekit/boardsync/internal/config"
	"github.com/agilekit/boardsync/internal/lifecycle"
)

// Orchestrator drives one lifecycle event per invocation. It holds no
// mutable state across invocations beyond the immutable config; concurrent
// invocations against the same ticket are last-writer-wins, matching the
// backend APIs themselves.
type Orchestrator struct {
	adapter board.Adapter
	cfg     *config.BoardConfig

	maxAttempts int
	newBackoff  func() backoff.BackOff

	// OnMessage and OnWarning, when set, receive progress and non-fatal
	// problem reports. Callbacks instead of a logger so the caller owns
	// presentation.
	OnMessage func(string)
	OnWarning func(string)
}

func New(adapter board.Adapter, cfg *config.BoardConfig) *Orchestrator {
	return &Orchestrator{
		adapter:     adapter,
		cfg:         cfg,
		maxAttempts: defaultMaxAttempts,
		newBackoff:  newRetryBackoff,
	}
}

func (o *Orchestrator) msgf(format string, args ...interface{}) {
	if o.OnMessage != nil {
		o.OnMessage(fmt.Sprintf(format, args...))
	}
}

func (o *Orchestrator) warnf(format string, args ...interface{}) {
	if o.OnWarning != nil {
		o.OnWarning(fmt.Sprintf(format, args...))
	}
}

// ApplyEvent performs one lifecycle event on a ticket. All validation (the
// transition table, the ready-for-review gate, deferral resolution) happens
// before the first write; a rejected event issues zero writes.
func (o *Orchestrator) ApplyEvent(ctx context.Context, ref board.TicketRef, event lifecycle.Event, payload lifecycle.Payload) (*Result, error) {
	snap, err := o.readIssue(ctx, ref)
	if err != nil {
		return nil, err
	}

	from, err := o.abstractState(snap.NativeStatus)
	if err != nil {
		return nil, err
	}

	tr, err := lifecycle.Next(from, event)
	if err != nil {
		return nil, err
	}

	if event == lifecycle.ReviewFail && payload.Comment == "" {
		return nil, fmt.Errorf("review_fail requires the review feedback as a comment")
	}

	block, err := checklist.Parse(snap.Description)
	if err != nil {
		return nil, fmt.Errorf("parsing acceptance criteria of %s: %w", ref, err)
	}
	for _, c := range payload.Checks {
		if err := block.SetChecked(c.Index, c.Checked); err != nil {
			return nil, err
		}
	}
	for _, d := range payload.Defers {
		if err := block.Defer(d.Index, d.Note); err != nil {
			return nil, err
		}
	}

	if event == lifecycle.OpenPR {
		if err := lifecycle.ValidateReadyForReview(block); err != nil {
			return nil, err
		}
		if err := o.resolveDeferrals(ctx, block); err != nil {
			return nil, err
		}
	}

	res := &Result{Ticket: ref, Event: event, From: from, To: tr.To}

	desc := snap.Description
	descDirty := false
	flushDescription := func() error {
		if !descDirty {
			return nil
		}
		if err := o.withRetry(ctx, "update_description", func() error {
			return o.adapter.UpdateDescription(ctx, ref, desc)
		}); err != nil {
			res.failed("description", err)
			return err
		}
		res.applied("description")
		descDirty = false
		return nil
	}

	for _, effect := range tr.Effects {
		switch effect {
		case lifecycle.EffectApplyChecklist:
			if rendered := block.Render(); rendered != desc {
				desc = rendered
				descDirty = true
			} else {
				res.skipped("checklist")
			}

		case lifecycle.EffectAppendSummary:
			if payload.Summary != "" {
				desc = appendSummary(desc, payload.Summary)
				descDirty = true
			}

		case lifecycle.EffectComment:
			if err := flushDescription(); err != nil {
				return res, err
			}
			if payload.Comment == "" {
				continue
			}
			if err := o.withRetry(ctx, "add_comment", func() error {
				return o.adapter.AddComment(ctx, ref, payload.Comment)
			}); err != nil {
				res.failed("comment", err)
				return res, err
			}
			res.applied("comment")

		case lifecycle.EffectMoveState:
			if err := flushDescription(); err != nil {
				return res, err
			}
			if err := o.moveState(ctx, ref, tr.To, res); err != nil {
				return res, err
			}
		}
	}
	if err := flushDescription(); err != nil {
		return res, err
	}

	o.msgf("%s: %s -> %s (%s)", ref, from, tr.To, res.Summary())
	return res, nil
}

// CreateInput describes a ticket to create. Estimate, Parent, and SprintID
// are optional follow-up fields applied after creation.
type CreateInput struct {
	Title    string
	Body     string
	Labels   []string
	Estimate *int
	Parent   string // ticket token, resolved through the adapter
	SprintID string
}

// CreateTicket creates an issue and applies the independent follow-up
// fields concurrently. A follow-up failure does not roll back the creation:
// the result names what landed and what did not, so the caller can repair
// the missing pieces without recreating the issue.
func (o *Orchestrator) CreateTicket(ctx context.Context, in CreateInput) (*Result, error) {
	if in.Title == "" {
		return nil, fmt.Errorf("ticket title is required")
	}

	var parentRef board.TicketRef
	if in.Parent != "" {
		var err error
		parentRef, err = o.adapter.RefFromIdentifier(in.Parent)
		if err != nil {
			return nil, fmt.Errorf("parent %q: %w", in.Parent, err)
		}
	}

	// Labels are folded into creation: for the write-once backend this is
	// the only chance to set them, and the mutable backends accept them at
	// creation too.
	var ref board.TicketRef
	if err := o.withRetry(ctx, "create_issue", func() error {
		var err error
		ref, err = o.adapter.CreateIssue(ctx, in.Title, in.Body, in.Labels)
		return err
	}); err != nil {
		return nil, err
	}

	res := &Result{Ticket: ref}
	res.applied("create")

	var mu stdsync.Mutex
	record := func(op string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			res.failed(op, err)
		} else {
			res.applied(op)
		}
	}

	// The follow-up fields touch disjoint remote fields; run them
	// concurrently but report only after all have completed.
	g, gctx := errgroup.WithContext(ctx)
	if in.Estimate != nil {
		points := *in.Estimate
		g.Go(func() error {
			record("estimate", o.withRetry(gctx, "set_estimate", func() error {
				return o.adapter.SetEstimate(gctx, ref, points)
			}))
			return nil
		})
	}
	if !parentRef.IsZero() {
		g.Go(func() error {
			record("parent", o.withRetry(gctx, "set_parent", func() error {
				return o.adapter.SetParent(gctx, ref, parentRef)
			}))
			return nil
		})
	}
	if in.SprintID != "" {
		if !o.adapter.SupportsSprintMembership() {
			res.unsupported("sprint")
		} else {
			g.Go(func() error {
				record("sprint", o.withRetry(gctx, "add_to_sprint", func() error {
					return o.adapter.AddToSprint(gctx, ref, in.SprintID)
				}))
				return nil
			})
		}
	}
	_ = g.Wait()

	if res.PartialSuccess() {
		o.warnf("%s created with missing fields (%s)", ref, res.Summary())
	} else {
		o.msgf("created %s", ref)
	}
	return res, nil
}

// UpdateLabels replaces a ticket's labels, reporting Unsupported for the
// write-once backend instead of silently failing.
func (o *Orchestrator) UpdateLabels(ctx context.Context, ref board.TicketRef, labels []string) (*Result, error) {
	res := &Result{Ticket: ref}
	if !o.adapter.SupportsLabelUpdate() {
		res.unsupported("labels")
		o.warnf("%s backend cannot change labels after creation; set them when creating the ticket", o.adapter.Kind())
		return res, nil
	}
	if err := o.withRetry(ctx, "update_labels", func() error {
		return o.adapter.UpdateLabels(ctx, ref, labels)
	}); err != nil {
		res.failed("labels", err)
		return res, err
	}
	res.applied("labels")
	return res, nil
}

// moveState issues the state move, skipping it when the ticket already sits
// in the target column. The re-read protects against duplicate event
// delivery and resumed invocations.
func (o *Orchestrator) moveState(ctx context.Context, ref board.TicketRef, to board.State, res *Result) error {
	target := o.cfg.PipelineMap[string(to)]
	if target == "" {
		err := &board.UnmappedStateError{Backend: o.adapter.Kind(), State: to}
		res.failed("move", err)
		return err
	}

	snap, err := o.readIssue(ctx, ref)
	if err != nil {
		res.failed("move", err)
		return err
	}
	if snap.NativeStatus == target {
		res.skipped("move")
		o.msgf("%s already in %s; skipping move", ref, to)
		return nil
	}

	if err := o.withRetry(ctx, "move_to_state", func() error {
		return o.adapter.MoveToState(ctx, ref, to)
	}); err != nil {
		res.failed("move", err)
		return err
	}
	res.applied("move")
	return nil
}

// resolveDeferrals verifies every deferred criterion points at a ticket
// that exists and is still open.
func (o *Orchestrator) resolveDeferrals(ctx context.Context, block *checklist.Block) error {
	criteria := block.Criteria()
	for _, i := range block.DeferredIndices() {
		token := criteria[i].DeferredTo
		if token == "" {
			return &DanglingDeferralError{Index: i}
		}
		ref, err := o.adapter.RefFromIdentifier(token)
		if err != nil {
			return &DanglingDeferralError{Index: i, Token: token, Err: err}
		}
		snap, err := o.readIssue(ctx, ref)
		if err != nil {
			return &DanglingDeferralError{Index: i, Token: token, Err: err}
		}
		if snap.Closed {
			return &DanglingDeferralError{Index: i, Token: token, Err: fmt.Errorf("ticket is closed")}
		}
	}
	return nil
}

func (o *Orchestrator) readIssue(ctx context.Context, ref board.TicketRef) (*board.IssueSnapshot, error) {
	var snap *board.IssueSnapshot
	err := o.withRetry(ctx, "get_issue", func() error {
		var err error
		snap, err = o.adapter.GetIssue(ctx, ref)
		return err
	})
	return snap, err
}

// abstractState derives the lifecycle state from a backend-native status via
// the inverse of the pipeline map. An empty native status is a fresh ticket
// that has not been placed yet, which reads as backlog.
func (o *Orchestrator) abstractState(native string) (board.State, error) {
	if native == "" {
		return board.StateBacklog, nil
	}
	for state, mapped := range o.cfg.PipelineMap {
		if mapped == native {
			return board.State(state), nil
		}
	}
	return "", fmt.Errorf("backend status %q matches no pipeline_map entry; map it to a lifecycle state in the board config", native)
}

func appendSummary(desc, summary string) string {
	sep := "\n\n"
	if desc == "" {
		sep = ""
	} else if desc[len(desc)-1] == '\n' {
		sep = "\n"
	}
	return desc + sep + "## Implementation Summary\n\n" + summary + "\n"
}
