package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agilekit/boardsync"
)

var (
	createBody     string
	createBodyFile string
	createLabels   []string
	createEstimate int
	createParent   string
	createSprint   string
	createCriteria []string
)

var createCmd = &cobra.Command{
	Use:     "create <title>",
	Aliases: []string{"new"},
	Short:   "Create a ticket with estimate, parent, and sprint in one shot",
	Long: `Creates the ticket, then applies the independent follow-up fields
(estimate, parent link, sprint membership) concurrently. If a follow-up
fails, the ticket is kept and the missing fields are reported so they can
be repaired without recreating it.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := signalContext()
		session := openSession(ctx)
		defer func() { _ = session.Close() }()

		body := createBody
		if createBodyFile != "" {
			if body != "" {
				FatalError("cannot specify both --body and --body-file")
			}
			data, err := os.ReadFile(createBodyFile)
			if err != nil {
				FatalError("read body file: %v", err)
			}
			body = string(data)
		}
		if len(createCriteria) > 0 {
			body = appendCriteria(body, createCriteria)
		}

		in := boardsync.CreateInput{
			Title:    args[0],
			Body:     body,
			Labels:   createLabels,
			Parent:   createParent,
			SprintID: createSprint,
		}
		if cmd.Flags().Changed("estimate") {
			points := createEstimate
			in.Estimate = &points
		}

		res, err := session.Create(ctx, in)
		if err != nil {
			FatalError("%v", err)
		}
		fmt.Printf("created %s\n", res.Ticket)
		reportResult(res)
	},
}

// appendCriteria adds an acceptance-criteria checklist to the body, one
// unchecked item per criterion.
func appendCriteria(body string, criteria []string) string {
	var b strings.Builder
	b.WriteString(body)
	if body != "" && !strings.HasSuffix(body, "\n") {
		b.WriteString("\n")
	}
	if body != "" {
		b.WriteString("\n")
	}
	b.WriteString("## Acceptance Criteria\n\n")
	for _, c := range criteria {
		fmt.Fprintf(&b, "- [ ] %s\n", c)
	}
	return b.String()
}

func init() {
	createCmd.Flags().StringVarP(&createBody, "body", "b", "", "ticket description")
	createCmd.Flags().StringVar(&createBodyFile, "body-file", "", "read the description from a file")
	createCmd.Flags().StringSliceVarP(&createLabels, "label", "l", nil, "label to apply at creation (repeatable)")
	createCmd.Flags().IntVarP(&createEstimate, "estimate", "e", 0, "story-point estimate")
	createCmd.Flags().StringVar(&createParent, "parent", "", "parent ticket (epic) token")
	createCmd.Flags().StringVar(&createSprint, "sprint", "", "sprint/cycle ID to add the ticket to")
	createCmd.Flags().StringArrayVar(&createCriteria, "ac", nil, "acceptance criterion appended as a checklist item (repeatable)")
}
