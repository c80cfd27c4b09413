// Package cmd holds the wabot CLI.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/flowagencyai/wabot/internal/config"
	"github.com/flowagencyai/wabot/internal/store"
	"github.com/flowagencyai/wabot/internal/store/memory"
	storeredis "github.com/flowagencyai/wabot/internal/store/redis"
)

var (
	flagConfig  string
	flagVerbose bool
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wabot",
		Short: "WhatsApp AI chatbot service",
		Long:  "wabot bridges WhatsApp to an LLM provider with Redis-backed conversation memory, pause control and per-user rate limiting.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if flagVerbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path (default ~/.wabot/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(configCmd())
	cmd.AddCommand(sessionsCmd())
	cmd.AddCommand(pauseCmd())
	cmd.AddCommand(resumeCmd())
	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// resolveConfigPath picks the config file: --config flag, then WABOT_CONFIG,
// then ~/.wabot/config.yaml.
func resolveConfigPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	if env := os.Getenv("WABOT_CONFIG"); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".wabot", "config.yaml")
}

// loadConfigOrExit loads the config file, exiting with a message on error.
func loadConfigOrExit() *config.Config {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %s\n", err)
		os.Exit(1)
	}
	return cfg
}

// openStore connects the session store selected by config. CLI subcommands
// use it for one-shot operations against the same state the service sees.
func openStore(cmd *cobra.Command, cfg *config.Config) (store.KV, error) {
	switch cfg.Store.Backend {
	case "memory":
		return memory.New(), nil
	default:
		return storeredis.New(cmd.Context(), cfg.Store.RedisURL, cfg.Store.OpTimeout.Std())
	}
}
