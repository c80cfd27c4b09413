package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowagencyai/wabot/internal/pause"
	"github.com/flowagencyai/wabot/internal/store"
)

func pauseCmd() *cobra.Command {
	var duration time.Duration
	var global bool
	cmd := &cobra.Command{
		Use:   "pause [userId...]",
		Short: "Pause bot replies for users (or everyone with --global)",
		Long:  "Paused users can still message; the bot stores nothing and answers nothing until the pause expires or a resume.",
		Run: func(cmd *cobra.Command, args []string) {
			if !global && len(args) == 0 {
				fmt.Fprintln(os.Stderr, "Error: provide at least one userId or --global")
				os.Exit(1)
			}

			gate := openGate(cmd)
			ids := args
			if global {
				ids = append(ids, store.GlobalPauseUser)
			}
			if err := gate.PauseMany(cmd.Context(), ids, duration); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			for _, id := range ids {
				if id == store.GlobalPauseUser {
					fmt.Printf("Paused all users for %s\n", duration)
				} else {
					fmt.Printf("Paused %s for %s\n", id, duration)
				}
			}
		},
	}
	cmd.Flags().DurationVar(&duration, "for", time.Hour, "pause duration (e.g. 30m, 2h)")
	cmd.Flags().BoolVar(&global, "global", false, "pause the whole bot")
	return cmd
}

func resumeCmd() *cobra.Command {
	var global bool
	cmd := &cobra.Command{
		Use:   "resume [userId...]",
		Short: "Resume bot replies for users (or everyone with --global)",
		Run: func(cmd *cobra.Command, args []string) {
			if !global && len(args) == 0 {
				fmt.Fprintln(os.Stderr, "Error: provide at least one userId or --global")
				os.Exit(1)
			}

			gate := openGate(cmd)
			ids := args
			if global {
				ids = append(ids, store.GlobalPauseUser)
			}
			for _, id := range ids {
				if err := gate.Resume(cmd.Context(), id); err != nil {
					fmt.Fprintf(os.Stderr, "Error resuming %s: %s\n", id, err)
					os.Exit(1)
				}
				if id == store.GlobalPauseUser {
					fmt.Println("Resumed all users")
				} else {
					fmt.Printf("Resumed %s\n", id)
				}
			}
		},
	}
	cmd.Flags().BoolVar(&global, "global", false, "lift the global pause")
	return cmd
}

func openGate(cmd *cobra.Command) *pause.Gate {
	cfg := loadConfigOrExit()
	kv, err := openStore(cmd, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting store: %s\n", err)
		os.Exit(1)
	}
	return pause.NewGate(kv)
}
