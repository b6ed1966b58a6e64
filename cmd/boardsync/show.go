package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/agilekit/boardsync/internal/checklist"
)

var showCmd = &cobra.Command{
	Use:   "show <ticket>",
	Short: "Show a ticket's state and acceptance criteria",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := signalContext()
		session := openSession(ctx)
		defer func() { _ = session.Close() }()

		snap, err := session.Get(ctx, args[0])
		if err != nil {
			FatalError("%v", err)
		}

		bold := color.New(color.Bold).SprintFunc()
		fmt.Printf("%s %s\n", bold(snap.Ref.Raw), snap.Title)
		if snap.URL != "" {
			fmt.Printf("  %s\n", snap.URL)
		}
		if snap.NativeStatus != "" {
			fmt.Printf("  status: %s\n", snap.NativeStatus)
		}
		if snap.Estimate != nil {
			fmt.Printf("  estimate: %d\n", *snap.Estimate)
		}
		if len(snap.Labels) > 0 {
			fmt.Printf("  labels: %s\n", strings.Join(snap.Labels, ", "))
		}
		if snap.Closed {
			fmt.Println("  closed")
		}

		block, err := checklist.Parse(snap.Description)
		if err != nil {
			FatalError("%v", err)
		}
		if block.Empty() {
			return
		}

		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Println("\n  acceptance criteria:")
		for i, c := range block.Criteria() {
			switch {
			case c.Deferred:
				fmt.Printf("  %2d %s %s (%s)\n", i, yellow("~"), c.Text, c.DeferralNote)
			case c.Checked:
				fmt.Printf("  %2d %s %s\n", i, green("✓"), c.Text)
			default:
				fmt.Printf("  %2d · %s\n", i, c.Text)
			}
		}
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search tickets on the board",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := signalContext()
		session := openSession(ctx)
		defer func() { _ = session.Close() }()

		iter := session.Search(ctx, args[0])
		count := 0
		for {
			snap, ok := iter.Next(ctx)
			if !ok {
				break
			}
			count++
			fmt.Printf("%s  %s\n", snap.Ref.Raw, snap.Title)
		}
		if err := iter.Err(); err != nil {
			FatalError("%v", err)
		}
		if count == 0 {
			fmt.Println("no matches")
		}
	},
}

var labelsCmd = &cobra.Command{
	Use:   "labels <ticket> <label>...",
	Short: "Replace a ticket's labels",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := signalContext()
		session := openSession(ctx)
		defer func() { _ = session.Close() }()

		res, err := session.SetLabels(ctx, args[0], args[1:])
		if err != nil {
			FatalError("%v", err)
		}
		if len(res.Unsupported) > 0 {
			FatalErrorWithHint(
				fmt.Sprintf("%s cannot change labels after creation", session.BackendName()),
				"set labels when creating the ticket instead",
			)
		}
		reportResult(res)
	},
}
