package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/codex-orchestrator/internal/config"
)

var (
	configPath   string
	serverURL    string
	outputFormat string
	rootCmd      = &cobra.Command{
		Use:   "codex-orch",
		Short: "Codex Orchestrator - run coding agents in isolated worktrees",
		Long: `Codex Orchestrator keeps mirrors of git repositories, gives every task its
own worktree and branch, and supervises a coding agent working inside it.
Runs can be followed live, stopped, resumed with a new prompt and pushed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "API base URL (default from config web.host/web.port)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json or yaml")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithLocalFallback(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newClient targets --server, falling back to the configured listen address
func newClient() (*client, error) {
	base := serverURL
	if base == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		base = "http://" + cfg.Addr()
	}
	return newAPIClient(base), nil
}
