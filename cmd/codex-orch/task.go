package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/codex-orchestrator/internal/domain"
	"github.com/hochfrequenz/codex-orchestrator/internal/orchestrator"
	"github.com/hochfrequenz/codex-orchestrator/internal/worktree"
)

var (
	taskListEnv    string
	taskListStatus string
	taskRef        string
	taskPromptFile string
	logsFollow     bool
	logsRunID      string
)

func init() {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Create and control agent tasks",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		Args:  cobra.NoArgs,
		RunE:  runTaskList,
	}
	listCmd.Flags().StringVar(&taskListEnv, "env", "", "filter by environment id")
	listCmd.Flags().StringVar(&taskListStatus, "status", "", "filter by status")

	getCmd := &cobra.Command{
		Use:   "get TASK_ID",
		Short: "Show a task and its runs",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskGet,
	}

	createCmd := &cobra.Command{
		Use:   "create ENV_ID [PROMPT...]",
		Short: "Start an agent on a fresh worktree",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runTaskCreate,
	}
	createCmd.Flags().StringVar(&taskRef, "ref", "", "branch, tag or commit to start from (default: environment default branch)")
	createCmd.Flags().StringVar(&taskPromptFile, "prompt-file", "", "read the prompt from a file (- for stdin)")

	resumeCmd := &cobra.Command{
		Use:   "resume TASK_ID [PROMPT...]",
		Short: "Continue a finished task's agent session with a new prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runTaskResume,
	}
	resumeCmd.Flags().StringVar(&taskPromptFile, "prompt-file", "", "read the prompt from a file (- for stdin)")

	stopCmd := &cobra.Command{
		Use:   "stop TASK_ID",
		Short: "Stop a running task",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskStop,
	}

	deleteCmd := &cobra.Command{
		Use:   "delete TASK_ID",
		Short: "Delete a task, its worktree and its branch",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskDelete,
	}

	logsCmd := &cobra.Command{
		Use:   "logs TASK_ID",
		Short: "Print run logs",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskLogs,
	}
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "stream new lines of the latest run")
	logsCmd.Flags().StringVar(&logsRunID, "run", "", "run to print or follow (default: all runs, or the latest when following)")

	pushCmd := &cobra.Command{
		Use:   "push TASK_ID",
		Short: "Push the task branch to the environment's origin",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskPush,
	}

	diffCmd := &cobra.Command{
		Use:   "diff TASK_ID",
		Short: "Show what the agent changed relative to the task ref",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskDiff,
	}

	taskCmd.AddCommand(listCmd, getCmd, createCmd, resumeCmd, stopCmd, deleteCmd, logsCmd, pushCmd, diffCmd)
	rootCmd.AddCommand(taskCmd)
}

// readPrompt joins the positional words, or reads --prompt-file when set
func readPrompt(in io.Reader, words []string) (string, error) {
	var prompt string
	switch taskPromptFile {
	case "":
		prompt = strings.Join(words, " ")
	case "-":
		data, err := io.ReadAll(in)
		if err != nil {
			return "", err
		}
		prompt = string(data)
	default:
		data, err := os.ReadFile(taskPromptFile)
		if err != nil {
			return "", err
		}
		prompt = string(data)
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("a prompt is required")
	}
	return prompt, nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	q := url.Values{}
	if taskListEnv != "" {
		q.Set("envId", taskListEnv)
	}
	if taskListStatus != "" {
		q.Set("status", taskListStatus)
	}
	path := "/api/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var tasks []*domain.Task
	if err := c.do(cmd.Context(), http.MethodGet, path, nil, &tasks); err != nil {
		return err
	}
	if len(tasks) == 0 && outputFormat == "table" {
		fmt.Fprintln(cmd.OutOrStdout(), "No tasks")
		return nil
	}
	return render(cmd.OutOrStdout(), tasks, func(w io.Writer) error { return printTasks(w, tasks) })
}

func runTaskGet(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	var detail orchestrator.TaskDetail
	if err := c.do(cmd.Context(), http.MethodGet, taskPath(args[0]), nil, &detail); err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), &detail, func(w io.Writer) error {
		if err := printTask(w, detail.Task); err != nil {
			return err
		}
		if detail.LogTail != "" {
			fmt.Fprintf(w, "\nLast output:\n%s\n", detail.LogTail)
		}
		return nil
	})
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	prompt, err := readPrompt(cmd.InOrStdin(), args[1:])
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	body := orchestrator.CreateTaskRequest{EnvID: args[0], Ref: taskRef, Prompt: prompt}
	var task domain.Task
	if err := c.do(cmd.Context(), http.MethodPost, "/api/tasks", body, &task); err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), &task, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "Started task %s on %s (branch %s)\n", task.TaskID, task.Ref, task.BranchName)
		return err
	})
}

func runTaskResume(cmd *cobra.Command, args []string) error {
	prompt, err := readPrompt(cmd.InOrStdin(), args[1:])
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	var task domain.Task
	if err := c.do(cmd.Context(), http.MethodPost, taskPath(args[0], "resume"), map[string]string{"prompt": prompt}, &task); err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), &task, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "Resumed task %s as %s\n", task.TaskID, task.Runs[len(task.Runs)-1].RunID)
		return err
	})
}

func runTaskStop(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	var task domain.Task
	if err := c.do(cmd.Context(), http.MethodPost, taskPath(args[0], "stop"), nil, &task); err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), &task, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "Task %s is %s\n", task.TaskID, task.Status)
		return err
	})
}

func runTaskDelete(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	if err := c.do(cmd.Context(), http.MethodDelete, taskPath(args[0]), nil, nil); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted task %s\n", args[0])
	return nil
}

func runTaskPush(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	var res struct {
		Pushed     bool   `json:"pushed" yaml:"pushed"`
		BranchName string `json:"branchName" yaml:"branchName"`
	}
	if err := c.do(cmd.Context(), http.MethodPost, taskPath(args[0], "push"), nil, &res); err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), &res, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "Pushed %s\n", res.BranchName)
		return err
	})
}

func runTaskDiff(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	var diff worktree.DiffSummary
	if err := c.do(cmd.Context(), http.MethodGet, taskPath(args[0], "diff"), nil, &diff); err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), &diff, func(w io.Writer) error { return printDiff(w, &diff) })
}

func printDiff(w io.Writer, d *worktree.DiffSummary) error {
	if len(d.Files) == 0 {
		_, err := fmt.Fprintf(w, "No changes against %s\n", d.Base)
		return err
	}
	for _, f := range d.Files {
		fmt.Fprintf(w, "%-10s +%-5d -%-5d %s\n", f.Status, f.Added, f.Deleted, f.Path)
	}
	_, err := fmt.Fprintf(w, "%d files changed, %d insertions(+), %d deletions(-) against %s\n",
		len(d.Files), d.Added, d.Deleted, d.Base)
	return err
}

func runTaskLogs(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	if logsFollow {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return c.followLog(ctx, args[0], logsRunID, cmd.OutOrStdout())
	}

	var logs []orchestrator.RunLog
	if err := c.do(cmd.Context(), http.MethodGet, taskPath(args[0], "logs"), nil, &logs); err != nil {
		return err
	}
	if logsRunID != "" {
		logs = filterRun(logs, logsRunID)
		if len(logs) == 0 {
			return fmt.Errorf("task %s has no run %s", args[0], logsRunID)
		}
	}
	return render(cmd.OutOrStdout(), logs, func(w io.Writer) error { return printRunLogs(w, logs) })
}

func filterRun(logs []orchestrator.RunLog, runID string) []orchestrator.RunLog {
	for _, l := range logs {
		if l.RunID == runID {
			return []orchestrator.RunLog{l}
		}
	}
	return nil
}

func printRunLogs(w io.Writer, logs []orchestrator.RunLog) error {
	for i, l := range logs {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "== %s (%s) ==\n", l.RunID, l.Status)
		for _, e := range l.Entries {
			if _, err := fmt.Fprintln(w, e.Raw); err != nil {
				return err
			}
		}
	}
	return nil
}
