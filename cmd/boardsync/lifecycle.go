package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agilekit/boardsync"
	"github.com/agilekit/boardsync/internal/config"
	"github.com/agilekit/boardsync/internal/lifecycle"
	"github.com/agilekit/boardsync/internal/sync"
)

var (
	flagChecks   []int
	flagUnchecks []int
	flagDefers   []string
	flagComment  string
	flagSummary  string
)

func addChecklistFlags(cmd *cobra.Command) {
	cmd.Flags().IntSliceVar(&flagChecks, "check", nil, "criterion index to mark done (repeatable)")
	cmd.Flags().IntSliceVar(&flagUnchecks, "uncheck", nil, "criterion index to mark not done (repeatable)")
	cmd.Flags().StringArrayVar(&flagDefers, "defer", nil, `defer a criterion: "INDEX:justification with ticket ref" (repeatable)`)
}

// buildPayload assembles the event payload from the checklist flags.
func buildPayload() boardsync.Payload {
	var payload boardsync.Payload
	for _, i := range flagChecks {
		payload.Checks = append(payload.Checks, boardsync.CheckUpdate{Index: i, Checked: true})
	}
	for _, i := range flagUnchecks {
		payload.Checks = append(payload.Checks, boardsync.CheckUpdate{Index: i, Checked: false})
	}
	for _, spec := range flagDefers {
		idx, note, ok := strings.Cut(spec, ":")
		if !ok {
			FatalError("--defer %q: want INDEX:justification", spec)
		}
		i, err := strconv.Atoi(strings.TrimSpace(idx))
		if err != nil {
			FatalError("--defer %q: %v", spec, err)
		}
		payload.Defers = append(payload.Defers, boardsync.Deferral{Index: i, Note: strings.TrimSpace(note)})
	}
	payload.Comment = flagComment
	payload.Summary = flagSummary
	return payload
}

// applyEvent runs one lifecycle event and reports the result, translating
// the error taxonomy into actionable terminal messages.
func applyEvent(ticket string, event boardsync.Event) {
	ctx := signalContext()
	session := openSession(ctx)
	defer func() { _ = session.Close() }()

	res, err := session.Apply(ctx, ticket, event, buildPayload())
	if err != nil {
		explainApplyError(err)
	}
	reportResult(res)
}

func explainApplyError(err error) {
	var incompleteCfg *config.IncompleteError
	var invalid *lifecycle.InvalidTransitionError
	var unsatisfied *lifecycle.IncompleteAcceptanceCriteriaError
	var dangling *sync.DanglingDeferralError
	var exhausted *sync.RetryExhaustedError

	switch {
	case errors.As(err, &incompleteCfg):
		FatalErrorWithHint(err.Error(), "add the missing keys to .boardsync/config.json")
	case errors.As(err, &invalid):
		FatalErrorWithHint(err.Error(), "run 'boardsync show' to see the ticket's current state")
	case errors.As(err, &unsatisfied):
		FatalErrorWithHint(err.Error(), "mark criteria done with --check or postpone them with --defer")
	case errors.As(err, &dangling):
		FatalErrorWithHint(err.Error(), "a deferral justification must name an existing, open ticket")
	case errors.As(err, &exhausted):
		FatalErrorWithHint(err.Error(), "the backend is struggling; re-running is safe, applied steps are skipped")
	default:
		FatalError("%v", err)
	}
}

var startCmd = &cobra.Command{
	Use:   "start <ticket>",
	Short: "Move a backlog ticket to in-progress",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		applyEvent(args[0], boardsync.StartWork)
	},
}

var commitCmd = &cobra.Command{
	Use:   "commit <ticket>",
	Short: "Record progress: update the checklist, optionally comment",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		applyEvent(args[0], boardsync.Commit)
	},
}

var openPRCmd = &cobra.Command{
	Use:   "open-pr <ticket>",
	Short: "Move to review: final checklist, summary, column move",
	Long: `Validates that every acceptance criterion is checked or deferred (with a
resolvable ticket reference), appends the implementation summary to the
description, and moves the ticket to the review column.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if flagSummary == "" {
			WarnError("no --summary given; the description will not carry an implementation summary")
		}
		applyEvent(args[0], boardsync.OpenPR)
	},
}

var reviewCmd = &cobra.Command{
	Use:   "review <pass|fail> <ticket>",
	Short: "Record a review outcome",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		switch args[0] {
		case "pass":
			applyEvent(args[1], boardsync.ReviewPass)
		case "fail":
			if flagComment == "" {
				FatalErrorWithHint("review fail needs the feedback", "pass it with --comment")
			}
			applyEvent(args[1], boardsync.ReviewFail)
		default:
			FatalError("review outcome must be 'pass' or 'fail', got %q", args[0])
		}
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge <ticket>",
	Short: "Record the merge: move the ticket to done",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		applyEvent(args[0], boardsync.MergePR)
	},
}

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List supported backend kinds",
	Run: func(cmd *cobra.Command, args []string) {
		for _, kind := range boardsync.Backends() {
			fmt.Fprintln(os.Stdout, kind)
		}
	},
}

func init() {
	addChecklistFlags(commitCmd)
	addChecklistFlags(openPRCmd)
	commitCmd.Flags().StringVar(&flagComment, "comment", "", "progress note posted as a comment")
	openPRCmd.Flags().StringVar(&flagSummary, "summary", "", "implementation summary appended to the description")
	reviewCmd.Flags().StringVar(&flagComment, "comment", "", "review feedback (required for fail)")
}
