package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/carechat/internal/registry"
	"github.com/user/carechat/internal/state"
	"github.com/user/carechat/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessions := state.NewSessionStore(cfg.DataDir)

		ctx := context.Background()
		list, err := sessions.List(ctx)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}

		if len(list) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tMESSAGES\tLANGUAGE\tLAST INTENT\tUPDATED")
		for _, s := range list {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
				s.ID,
				s.Status,
				s.MessageCount,
				s.PrimaryLanguage,
				s.LastIntent,
				s.UpdatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session's summary projection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		reg := registry.New(state.NewSessionStore(cfg.DataDir))

		summary, err := reg.Summary(context.Background(), types.SessionID(args[0]))
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}

		fmt.Printf("Session:          %s\n", summary.SessionID)
		fmt.Printf("Messages:         %d\n", summary.MessageCount)
		fmt.Printf("Primary language: %s\n", summary.PrimaryLanguage)
		fmt.Printf("Last intent:      %s\n", summary.LastIntent)
		fmt.Printf("Topics:           %v\n", summary.Topics)
		if summary.ContextSummary != "" {
			fmt.Printf("Summary:\n%s\n", summary.ContextSummary)
		}
		return nil
	},
}
