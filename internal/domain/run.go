package domain

import (
	"fmt"
	"time"
)

// Run is one invocation of the agent against a task's worktree
type Run struct {
	RunID      string     `json:"runId" yaml:"runId"`
	Prompt     string     `json:"prompt" yaml:"prompt"`
	LogFile    string     `json:"logFile" yaml:"logFile"`
	StartedAt  time.Time  `json:"startedAt" yaml:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt" yaml:"finishedAt"`
	Status     Status     `json:"status" yaml:"status"`
	ExitCode   *int       `json:"exitCode" yaml:"exitCode"`
	Signal     string     `json:"signal,omitempty" yaml:"signal,omitempty"`
}

// RunLabel formats the 1-based run counter as run-001, run-002, ...
func RunLabel(n int) string {
	return fmt.Sprintf("run-%03d", n)
}

// LogFileName returns the stdout log name for a run label
func LogFileName(runID string) string {
	return runID + ".jsonl"
}

// StderrFileName returns the stderr side file name for a run label
func StderrFileName(runID string) string {
	return runID + ".stderr"
}

// NewRun returns a running Run for the given label
func NewRun(runID, prompt string, now time.Time) Run {
	return Run{
		RunID:     runID,
		Prompt:    prompt,
		LogFile:   LogFileName(runID),
		StartedAt: now,
		Status:    StatusRunning,
	}
}
