package domain

import (
	"errors"
	"testing"
	"time"
)

func TestRunLabel(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{1, "run-001"},
		{2, "run-002"},
		{42, "run-042"},
		{999, "run-999"},
		{1000, "run-1000"},
	}

	for _, tt := range tests {
		if got := RunLabel(tt.n); got != tt.want {
			t.Errorf("RunLabel(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestRunLabel_LexicalOrderMatchesNumeric(t *testing.T) {
	prev := RunLabel(1)
	for i := 2; i <= 999; i++ {
		cur := RunLabel(i)
		if cur <= prev {
			t.Fatalf("RunLabel(%d) = %q sorts before %q", i, cur, prev)
		}
		prev = cur
	}
}

func TestTask_NextRunLabel(t *testing.T) {
	task := &Task{}
	if got := task.NextRunLabel(); got != "run-001" {
		t.Errorf("NextRunLabel() = %q, want run-001", got)
	}

	now := time.Now()
	task.Runs = append(task.Runs, NewRun(task.NextRunLabel(), "first", now))
	task.Runs = append(task.Runs, NewRun(task.NextRunLabel(), "second", now))

	if got := task.NextRunLabel(); got != "run-003" {
		t.Errorf("NextRunLabel() = %q, want run-003", got)
	}
	if task.LastRun().RunID != "run-002" {
		t.Errorf("LastRun().RunID = %q, want run-002", task.LastRun().RunID)
	}
	if task.Run("run-001").Prompt != "first" {
		t.Errorf("Run(run-001).Prompt = %q, want first", task.Run("run-001").Prompt)
	}
	if task.Run("run-009") != nil {
		t.Error("Run(run-009) should be nil")
	}
}

func TestNewRun(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	run := NewRun("run-004", "Do work", now)

	if run.LogFile != "run-004.jsonl" {
		t.Errorf("LogFile = %q, want run-004.jsonl", run.LogFile)
	}
	if run.Status != StatusRunning {
		t.Errorf("Status = %q, want running", run.Status)
	}
	if run.FinishedAt != nil || run.ExitCode != nil {
		t.Error("new run should have no terminal fields")
	}
}

func TestTask_Clone(t *testing.T) {
	code := 0
	fin := time.Now()
	orig := &Task{
		TaskID:   "t1",
		ThreadID: StringPtr("abc"),
		Runs: []Run{{
			RunID:      "run-001",
			ExitCode:   &code,
			FinishedAt: &fin,
			Status:     StatusCompleted,
		}},
	}

	c := orig.Clone()
	*c.ThreadID = "changed"
	*c.Runs[0].ExitCode = 9
	c.Runs[0].Status = StatusFailed

	if orig.SessionID() != "abc" {
		t.Errorf("orig SessionID = %q, want abc", orig.SessionID())
	}
	if *orig.Runs[0].ExitCode != 0 {
		t.Errorf("orig ExitCode = %d, want 0", *orig.Runs[0].ExitCode)
	}
	if orig.Runs[0].Status != StatusCompleted {
		t.Errorf("orig run status = %q, want completed", orig.Runs[0].Status)
	}
}

func TestTask_Resumable(t *testing.T) {
	if (&Task{}).Resumable() {
		t.Error("task without thread id should not be resumable")
	}
	if (&Task{ThreadID: StringPtr("")}).Resumable() {
		t.Error("empty thread id should not be resumable")
	}
	if !(&Task{ThreadID: StringPtr("abc")}).Resumable() {
		t.Error("task with thread id should be resumable")
	}
}

func TestStatus_Terminal(t *testing.T) {
	tests := []struct {
		s    Status
		want bool
	}{
		{StatusRunning, false},
		{StatusStopping, false},
		{StatusStopped, true},
		{StatusCompleted, true},
		{StatusFailed, true},
	}

	for _, tt := range tests {
		if got := tt.s.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.s, got, tt.want)
		}
		if !tt.s.Valid() {
			t.Errorf("%s.Valid() = false", tt.s)
		}
	}
	if Status("queued").Valid() {
		t.Error("unknown status should not be valid")
	}
}

func TestErrors_Unwrap(t *testing.T) {
	var err error = &RefNotFoundError{Ref: "nope"}
	if !errors.Is(err, ErrRefNotFound) {
		t.Error("RefNotFoundError should match ErrRefNotFound")
	}
	var refErr *RefNotFoundError
	if !errors.As(err, &refErr) || refErr.Ref != "nope" {
		t.Errorf("errors.As failed: %v", err)
	}
	if !errors.Is(&NotResumableError{TaskID: "t"}, ErrNotResumable) {
		t.Error("NotResumableError should match ErrNotResumable")
	}
	if !errors.Is(&NoRunningProcessError{TaskID: "t"}, ErrNoRunningProcess) {
		t.Error("NoRunningProcessError should match ErrNoRunningProcess")
	}
}
