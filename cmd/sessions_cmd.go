package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowagencyai/wabot/internal/conversation"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "View and manage conversation sessions",
	}
	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsShowCmd())
	cmd.AddCommand(sessionsClearCmd())
	return cmd
}

func sessionsListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users with stored conversation context",
		Run: func(cmd *cobra.Command, args []string) {
			mgr := openConversations(cmd)
			ids, err := mgr.ListUserIDs(cmd.Context())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}

			if jsonOutput {
				data, _ := json.MarshalIndent(ids, "", "  ")
				fmt.Println(string(data))
				return
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "USER\tMESSAGES\tLAST ACTIVITY\tPAUSED")
			for _, id := range ids {
				cc, err := mgr.GetContext(cmd.Context(), id)
				if err != nil || cc == nil {
					fmt.Fprintf(w, "%s\t-\t-\t-\n", id)
					continue
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%t\n",
					id, len(cc.Messages), cc.LastActivity.Format(time.RFC3339), cc.IsPaused)
			}
			w.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func sessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [userId]",
		Short: "Dump a user's conversation context",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			mgr := openConversations(cmd)
			cc, err := mgr.GetContext(cmd.Context(), args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			if cc == nil {
				fmt.Printf("No context for %s\n", args[0])
				return
			}
			data, _ := json.MarshalIndent(cc, "", "  ")
			fmt.Println(string(data))
		},
	}
}

func sessionsClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear [userId]",
		Short: "Delete a user's conversation context",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			mgr := openConversations(cmd)
			if err := mgr.ClearContext(cmd.Context(), args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			fmt.Printf("Cleared context for %s\n", args[0])
		},
	}
}

func openConversations(cmd *cobra.Command) *conversation.Manager {
	cfg := loadConfigOrExit()
	kv, err := openStore(cmd, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting store: %s\n", err)
		os.Exit(1)
	}
	return conversation.NewManager(kv,
		conversation.WithWindow(cfg.Bot.ContextWindow),
		conversation.WithTTL(cfg.Bot.ContextTTL.Std()),
	)
}
