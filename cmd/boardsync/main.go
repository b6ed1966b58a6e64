// boardsync - keep tickets in step with the development lifecycle.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/agilekit/boardsync"
)

// Version and Build are set at link time.
var (
	Version = "dev"
	Build   = "unknown"
)

var projectPath string

var rootCmd = &cobra.Command{
	Use:   "boardsync",
	Short: "boardsync - multi-backend ticket lifecycle synchronizer",
	Long: `Synchronize a ticket's status, acceptance-criteria checklist, and board
column with the development lifecycle, across ZenHub, Jira, and Linear.`,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("boardsync version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectPath, "project", "p", ".", "project directory holding .boardsync/config.json")
	rootCmd.Flags().Bool("version", false, "print version")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(openPRCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(labelsCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(backendsCmd)
}

// signalContext cancels on SIGINT/SIGTERM so an interrupted multi-step
// operation stops cleanly; already-applied steps are skipped on re-run.
func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx
}

// openSession resolves the project config and wires the backend adapter,
// with progress callbacks routed to the terminal.
func openSession(ctx context.Context) *boardsync.Session {
	session, err := boardsync.Open(ctx, projectPath)
	if err != nil {
		FatalError("%v", err)
	}
	session.OnMessage(func(msg string) {
		fmt.Println(msg)
	})
	session.OnWarning(func(msg string) {
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Fprintf(os.Stderr, "%s %s\n", yellow("⚠"), msg)
	})
	return session
}

func reportResult(res *boardsync.Result) {
	green := color.New(color.FgGreen).SprintFunc()
	if res.PartialSuccess() {
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("%s %s\n", yellow("partial:"), res.Summary())
		for _, op := range res.Failed {
			fmt.Fprintf(os.Stderr, "  %s: %v\n", op, res.Errors[op])
		}
		os.Exit(2)
	}
	fmt.Printf("%s %s\n", green("ok:"), res.Summary())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		FatalError("%v", err)
	}
}
