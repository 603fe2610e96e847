package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/codex-orchestrator/internal/image"
)

func init() {
	imageCmd := &cobra.Command{
		Use:   "image",
		Short: "Inspect or pull the agent container image",
	}
	imageCmd.AddCommand(
		&cobra.Command{
			Use:   "info",
			Short: "Show the configured image and whether it is present locally",
			Args:  cobra.NoArgs,
			RunE:  runImage(http.MethodGet, "/api/settings/image"),
		},
		&cobra.Command{
			Use:   "pull",
			Short: "Pull the configured image",
			Args:  cobra.NoArgs,
			RunE:  runImage(http.MethodPost, "/api/settings/image/pull"),
		},
	)
	rootCmd.AddCommand(imageCmd)
}

func runImage(method, path string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		var info image.Info
		if err := c.do(cmd.Context(), method, path, nil, &info); err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), &info, func(w io.Writer) error { return printImage(w, &info) })
	}
}

func printImage(w io.Writer, info *image.Info) error {
	if !info.Present {
		_, err := fmt.Fprintf(w, "%s: not present\n", info.ImageName)
		return err
	}
	created := "-"
	if info.ImageCreatedAt != nil {
		created = info.ImageCreatedAt.Local().Format(time.DateTime)
	}
	_, err := fmt.Fprintf(w, "%s\n  id:      %s\n  created: %s\n", info.ImageName, info.ImageID, created)
	return err
}
