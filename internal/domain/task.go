package domain

import "time"

// Task is the unit of work: one worktree, one branch, one or more runs
type Task struct {
	TaskID        string    `json:"taskId" yaml:"taskId"`
	EnvID         string    `json:"envId" yaml:"envId"`
	RepoURL       string    `json:"repoUrl" yaml:"repoUrl"`
	Ref           string    `json:"ref" yaml:"ref"`
	BranchName    string    `json:"branchName" yaml:"branchName"`
	WorktreePath  string    `json:"worktreePath" yaml:"worktreePath"`
	ThreadID      *string   `json:"threadId" yaml:"threadId"`
	Error         *string   `json:"error" yaml:"error"`
	Status        Status    `json:"status" yaml:"status"`
	InitialPrompt string    `json:"initialPrompt" yaml:"initialPrompt"`
	LastPrompt    string    `json:"lastPrompt" yaml:"lastPrompt"`
	CreatedAt     time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt" yaml:"updatedAt"`
	Runs          []Run     `json:"runs" yaml:"runs"`
}

// SessionID returns the recorded session id or "" when none is known
func (t *Task) SessionID() string {
	if t.ThreadID == nil {
		return ""
	}
	return *t.ThreadID
}

// Resumable reports whether a later run can continue the agent session
func (t *Task) Resumable() bool {
	return t.SessionID() != ""
}

// NextRunLabel returns the label the next appended run will get
func (t *Task) NextRunLabel() string {
	return RunLabel(len(t.Runs) + 1)
}

// LastRun returns the most recent run, or nil for a task without runs
func (t *Task) LastRun() *Run {
	if len(t.Runs) == 0 {
		return nil
	}
	return &t.Runs[len(t.Runs)-1]
}

// Run returns the run with the given label, or nil
func (t *Task) Run(runID string) *Run {
	for i := range t.Runs {
		if t.Runs[i].RunID == runID {
			return &t.Runs[i]
		}
	}
	return nil
}

// Clone returns a deep copy so callers can mutate it without touching stored state
func (t *Task) Clone() *Task {
	c := *t
	c.ThreadID = cloneString(t.ThreadID)
	c.Error = cloneString(t.Error)
	c.Runs = make([]Run, len(t.Runs))
	for i, r := range t.Runs {
		if r.FinishedAt != nil {
			fin := *r.FinishedAt
			r.FinishedAt = &fin
		}
		if r.ExitCode != nil {
			code := *r.ExitCode
			r.ExitCode = &code
		}
		c.Runs[i] = r
	}
	return &c
}

// StringPtr returns a pointer to s, or nil when s is empty
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
