package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/codex-orchestrator/internal/domain"
)

var envDefaultBranch string

func init() {
	envCmd := &cobra.Command{
		Use:   "env",
		Short: "Manage environments (repository mirrors)",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List environments",
		Args:  cobra.NoArgs,
		RunE:  runEnvList,
	}

	createCmd := &cobra.Command{
		Use:   "create REPO_URL",
		Short: "Mirror a repository as a new environment",
		Args:  cobra.ExactArgs(1),
		RunE:  runEnvCreate,
	}
	createCmd.Flags().StringVar(&envDefaultBranch, "default-branch", "main", "branch used when a task names no ref")

	deleteCmd := &cobra.Command{
		Use:   "delete ENV_ID",
		Short: "Delete an environment and all of its tasks",
		Args:  cobra.ExactArgs(1),
		RunE:  runEnvDelete,
	}

	envCmd.AddCommand(listCmd, createCmd, deleteCmd)
	rootCmd.AddCommand(envCmd)
}

func runEnvList(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	var envs []*domain.Environment
	if err := c.do(cmd.Context(), http.MethodGet, "/api/envs", nil, &envs); err != nil {
		return err
	}
	if len(envs) == 0 && outputFormat == "table" {
		fmt.Fprintln(cmd.OutOrStdout(), "No environments")
		return nil
	}
	return render(cmd.OutOrStdout(), envs, func(w io.Writer) error { return printEnvs(w, envs) })
}

func runEnvCreate(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	body := map[string]string{"repoUrl": args[0], "defaultBranch": envDefaultBranch}
	var env domain.Environment
	if err := c.do(cmd.Context(), http.MethodPost, "/api/envs", body, &env); err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), &env, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "Created environment %s (%s, default branch %s)\n", env.EnvID, env.RepoURL, env.DefaultBranch)
		return err
	})
}

func runEnvDelete(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	if err := c.do(cmd.Context(), http.MethodDelete, "/api/envs/"+url.PathEscape(args[0]), nil, nil); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted environment %s\n", args[0])
	return nil
}
