package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/codex-orchestrator/internal/domain"
)

// render writes v as json or yaml, or calls table for the default format
func render(w io.Writer, v any, table func(io.Writer) error) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	case "", "table":
		return table(w)
	default:
		return fmt.Errorf("unknown output format %q", outputFormat)
	}
}

func printEnvs(w io.Writer, envs []*domain.Environment) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENV ID\tREPO\tDEFAULT BRANCH")
	for _, e := range envs {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.EnvID, e.RepoURL, e.DefaultBranch)
	}
	return tw.Flush()
}

func printTasks(w io.Writer, tasks []*domain.Task) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK ID\tSTATUS\tREF\tRUNS\tUPDATED\tPROMPT")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			t.TaskID, t.Status, t.Ref, len(t.Runs),
			t.UpdatedAt.Local().Format(time.DateTime), truncate(t.LastPrompt, 50))
	}
	return tw.Flush()
}

func printTask(w io.Writer, t *domain.Task) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Task:\t%s\n", t.TaskID)
	fmt.Fprintf(tw, "Status:\t%s\n", t.Status)
	fmt.Fprintf(tw, "Env:\t%s\n", t.EnvID)
	fmt.Fprintf(tw, "Repo:\t%s\n", t.RepoURL)
	fmt.Fprintf(tw, "Ref:\t%s\n", t.Ref)
	fmt.Fprintf(tw, "Branch:\t%s\n", t.BranchName)
	fmt.Fprintf(tw, "Worktree:\t%s\n", t.WorktreePath)
	if t.ThreadID != nil {
		fmt.Fprintf(tw, "Session:\t%s\n", *t.ThreadID)
	}
	if t.Error != nil {
		fmt.Fprintf(tw, "Error:\t%s\n", *t.Error)
	}
	fmt.Fprintf(tw, "Prompt:\t%s\n", truncate(t.LastPrompt, 80))
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(t.Runs) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTATUS\tSTARTED\tFINISHED\tEXIT")
	for _, r := range t.Runs {
		finished, exit := "-", "-"
		if r.FinishedAt != nil {
			finished = r.FinishedAt.Local().Format(time.DateTime)
		}
		if r.ExitCode != nil {
			exit = fmt.Sprint(*r.ExitCode)
		} else if r.Signal != "" {
			exit = r.Signal
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.RunID, r.Status, r.StartedAt.Local().Format(time.DateTime), finished, exit)
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
