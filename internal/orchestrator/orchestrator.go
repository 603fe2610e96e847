// Package orchestrator ties mirrors, worktrees, the run supervisor and the
// task store together into the environment and task lifecycle.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hochfrequenz/codex-orchestrator/internal/domain"
	"github.com/hochfrequenz/codex-orchestrator/internal/events"
	"github.com/hochfrequenz/codex-orchestrator/internal/executor"
	"github.com/hochfrequenz/codex-orchestrator/internal/image"
	"github.com/hochfrequenz/codex-orchestrator/internal/logger"
	"github.com/hochfrequenz/codex-orchestrator/internal/logstream"
	"github.com/hochfrequenz/codex-orchestrator/internal/mirror"
	"github.com/hochfrequenz/codex-orchestrator/internal/storage"
	"github.com/hochfrequenz/codex-orchestrator/internal/taskstore"
	"github.com/hochfrequenz/codex-orchestrator/internal/worktree"
)

// DefaultTailLines is how many log lines GetTask returns as logTail
const DefaultTailLines = 120

// ErrImageDisabled is returned by image operations when no docker client is configured
var ErrImageDisabled = errors.New("image management is not configured")

// ImageService reports on and pulls the agent image
type ImageService interface {
	Info(ctx context.Context) (image.Info, error)
	Pull(ctx context.Context) (image.Info, error)
}

// Options wires the orchestrator's collaborators
type Options struct {
	Layout     storage.Layout
	Store      taskstore.Store
	Mirrors    *mirror.Manager
	Worktrees  *worktree.Provisioner
	Supervisor *executor.Supervisor
	Tailer     *logstream.Tailer
	Images     ImageService
	Publisher  events.Publisher
	Logger     *logger.Logger
	TailLines  int
	Now        func() time.Time
}

// Orchestrator is the entry point used by the HTTP API and the CLI
type Orchestrator struct {
	layout    storage.Layout
	store     taskstore.Store
	mirrors   *mirror.Manager
	worktrees *worktree.Provisioner
	sup       *executor.Supervisor
	tailer    *logstream.Tailer
	images    ImageService
	events    events.Publisher
	log       *logger.Logger
	tailLines int
	now       func() time.Time
}

// New creates an Orchestrator
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		layout:    opts.Layout,
		store:     opts.Store,
		mirrors:   opts.Mirrors,
		worktrees: opts.Worktrees,
		sup:       opts.Supervisor,
		tailer:    opts.Tailer,
		images:    opts.Images,
		events:    opts.Publisher,
		log:       opts.Logger,
		tailLines: opts.TailLines,
		now:       opts.Now,
	}
	if o.events == nil {
		o.events = events.Nop{}
	}
	if o.log == nil {
		o.log = logger.Default()
	}
	o.log = o.log.WithComponent("orchestrator")
	if o.tailLines <= 0 {
		o.tailLines = DefaultTailLines
	}
	if o.now == nil {
		o.now = func() time.Time { return time.Now().UTC() }
	}
	if o.tailer == nil {
		o.tailer = logstream.NewTailer(0, false, o.log)
	}
	return o
}

// checkID rejects ids that were never issued, so they cannot address paths outside home
func checkID(id string, notFound error) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %s", notFound, id)
	}
	return nil
}

// CreateEnvironment registers a repository by cloning its bare mirror
func (o *Orchestrator) CreateEnvironment(ctx context.Context, repoURL, defaultBranch string) (*domain.Environment, error) {
	env, err := o.mirrors.Create(ctx, repoURL, defaultBranch)
	if err != nil {
		return nil, err
	}
	o.events.Publish(ctx, events.Event{Type: events.EnvCreated, Time: o.now(), EnvID: env.EnvID})
	return env, nil
}

// ListEnvironments returns every readable environment
func (o *Orchestrator) ListEnvironments(ctx context.Context) ([]*domain.Environment, error) {
	return o.mirrors.List(ctx)
}

// GetEnvironment returns one environment
func (o *Orchestrator) GetEnvironment(ctx context.Context, envID string) (*domain.Environment, error) {
	if err := checkID(envID, domain.ErrEnvironmentNotFound); err != nil {
		return nil, err
	}
	return o.mirrors.Get(ctx, envID)
}

// DeleteEnvironment deletes the environment's tasks first, then its mirror
func (o *Orchestrator) DeleteEnvironment(ctx context.Context, envID string) error {
	if _, err := o.GetEnvironment(ctx, envID); err != nil {
		return err
	}
	tasks, err := o.store.List(ctx, taskstore.ListOptions{EnvID: envID})
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if err := o.DeleteTask(ctx, t.TaskID); err != nil && !errors.Is(err, domain.ErrTaskNotFound) {
			return fmt.Errorf("delete task %s: %w", t.TaskID, err)
		}
	}
	if err := o.mirrors.Remove(ctx, envID); err != nil {
		return err
	}
	o.events.Publish(ctx, events.Event{Type: events.EnvDeleted, Time: o.now(), EnvID: envID})
	return nil
}

// CreateTaskRequest describes a new task. An empty Ref means the default branch.
type CreateTaskRequest struct {
	EnvID  string `json:"envId" yaml:"envId"`
	Ref    string `json:"ref,omitempty" yaml:"ref,omitempty"`
	Prompt string `json:"prompt" yaml:"prompt"`
}

// CreateTask provisions an isolated worktree and starts the first run.
// Provisioning failures leave nothing behind; agent failures surface later as task status.
func (o *Orchestrator) CreateTask(ctx context.Context, req CreateTaskRequest) (*domain.Task, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", domain.ErrInvalidArgument)
	}
	env, err := o.GetEnvironment(ctx, req.EnvID)
	if err != nil {
		return nil, err
	}
	if err := o.mirrors.Fetch(ctx, env); err != nil {
		return nil, err
	}
	ref := o.mirrors.ResolveRef(ctx, env, req.Ref)

	taskID := uuid.NewString()
	log := o.log.WithTaskID(taskID).WithEnvID(env.EnvID)
	taskDir := o.layout.TaskDir(taskID)
	wtPath := o.layout.WorktreeDir(taskID)
	branch := worktree.BranchName(taskID)

	cleanup := func(removeWorktree bool) {
		bg := context.WithoutCancel(ctx)
		if removeWorktree {
			if err := o.worktrees.Remove(bg, env.MirrorPath, wtPath, branch); err != nil {
				log.Warn("rollback worktree", zap.Error(err))
			}
		}
		if err := os.RemoveAll(taskDir); err != nil {
			log.Warn("rollback task dir", zap.Error(err))
		}
	}

	if err := os.MkdirAll(o.layout.LogsDir(taskID), 0o755); err != nil {
		return nil, fmt.Errorf("create task dir: %w", err)
	}
	if err := o.worktrees.Provision(ctx, env.MirrorPath, wtPath, ref, branch); err != nil {
		cleanup(false)
		if strings.HasPrefix(ref, "refs/") && !o.mirrors.RefExists(ctx, env.MirrorPath, ref) {
			requested := strings.TrimSpace(req.Ref)
			if requested == "" {
				requested = env.DefaultBranch
			}
			return nil, &domain.RefNotFoundError{Ref: requested}
		}
		return nil, err
	}

	now := o.now()
	runID := domain.RunLabel(1)
	task := &domain.Task{
		TaskID:        taskID,
		EnvID:         env.EnvID,
		RepoURL:       env.RepoURL,
		Ref:           ref,
		BranchName:    branch,
		WorktreePath:  wtPath,
		Status:        domain.StatusRunning,
		InitialPrompt: req.Prompt,
		LastPrompt:    req.Prompt,
		CreatedAt:     now,
		UpdatedAt:     now,
		Runs:          []domain.Run{domain.NewRun(runID, req.Prompt, now)},
	}
	if err := o.store.Create(ctx, task); err != nil {
		cleanup(true)
		return nil, fmt.Errorf("persist task: %w", err)
	}
	log.Info("task created", zap.String("ref", ref), zap.String("branch", branch))
	o.events.Publish(ctx, events.ForTask(events.TaskCreated, task))

	if err := o.sup.Start(ctx, executor.RunSpec{
		TaskID:       taskID,
		RunID:        runID,
		Prompt:       req.Prompt,
		WorktreePath: wtPath,
	}); err != nil {
		log.Error("start run", zap.Error(err))
	}
	return task.Clone(), nil
}

// getTask loads a task record by id
func (o *Orchestrator) getTask(ctx context.Context, taskID string) (*domain.Task, error) {
	if err := checkID(taskID, domain.ErrTaskNotFound); err != nil {
		return nil, err
	}
	return o.store.Get(ctx, taskID)
}

// ListTasks returns tasks newest first
func (o *Orchestrator) ListTasks(ctx context.Context, opts taskstore.ListOptions) ([]*domain.Task, error) {
	return o.store.List(ctx, opts)
}

// RunLog is one run's metadata with its parsed log
type RunLog struct {
	RunID      string            `json:"runId" yaml:"runId"`
	Status     domain.Status     `json:"status" yaml:"status"`
	StartedAt  time.Time         `json:"startedAt" yaml:"startedAt"`
	FinishedAt *time.Time        `json:"finishedAt" yaml:"finishedAt"`
	Prompt     string            `json:"prompt" yaml:"prompt"`
	LogFile    string            `json:"logFile" yaml:"logFile"`
	Entries    []logstream.Entry `json:"entries" yaml:"entries"`
}

// TaskDetail is a task with the tail of its latest log and every run's entries
type TaskDetail struct {
	*domain.Task `yaml:",inline"`
	LogTail      string   `json:"logTail" yaml:"logTail"`
	RunLogs      []RunLog `json:"runLogs" yaml:"runLogs"`
}

// GetTask returns the task record with its logs
func (o *Orchestrator) GetTask(ctx context.Context, taskID string) (*TaskDetail, error) {
	task, err := o.getTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	detail := &TaskDetail{Task: task, RunLogs: o.runLogs(task)}
	if last := task.LastRun(); last != nil {
		detail.LogTail = logstream.ReadTail(o.layout.RunLogFile(taskID, last.LogFile), o.tailLines)
	}
	return detail, nil
}

// RunLogs returns every run of the task with its parsed log entries
func (o *Orchestrator) RunLogs(ctx context.Context, taskID string) ([]RunLog, error) {
	task, err := o.getTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return o.runLogs(task), nil
}

func (o *Orchestrator) runLogs(task *domain.Task) []RunLog {
	out := make([]RunLog, 0, len(task.Runs))
	for _, run := range task.Runs {
		entries, err := logstream.ReadAll(o.layout.RunLogFile(task.TaskID, run.LogFile))
		if err != nil {
			entries = []logstream.Entry{}
		}
		out = append(out, RunLog{
			RunID:      run.RunID,
			Status:     run.Status,
			StartedAt:  run.StartedAt,
			FinishedAt: run.FinishedAt,
			Prompt:     run.Prompt,
			LogFile:    run.LogFile,
			Entries:    entries,
		})
	}
	return out
}

// ResumeTask continues the task's agent session with a new prompt
func (o *Orchestrator) ResumeTask(ctx context.Context, taskID, prompt string) (*domain.Task, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", domain.ErrInvalidArgument)
	}
	if _, err := o.getTask(ctx, taskID); err != nil {
		return nil, err
	}
	return o.sup.Resume(ctx, taskID, prompt)
}

// StopTask requests termination of the task's live run
func (o *Orchestrator) StopTask(ctx context.Context, taskID string) (*domain.Task, error) {
	if _, err := o.getTask(ctx, taskID); err != nil {
		return nil, err
	}
	return o.sup.Stop(ctx, taskID)
}

// DeleteTask kills any live run and removes the worktree, branch, record and logs.
// It tolerates a worktree or environment that is already gone.
func (o *Orchestrator) DeleteTask(ctx context.Context, taskID string) error {
	task, err := o.getTask(ctx, taskID)
	if err != nil {
		return err
	}
	log := o.log.WithTaskID(taskID)

	if err := o.sup.Kill(ctx, taskID); err != nil {
		return fmt.Errorf("kill run: %w", err)
	}

	mirrorPath := o.layout.MirrorDir(task.EnvID)
	wtPath := task.WorktreePath
	if wtPath == "" {
		wtPath = o.layout.WorktreeDir(taskID)
	}
	if err := o.worktrees.Remove(ctx, mirrorPath, wtPath, task.BranchName); err != nil {
		log.Warn("remove worktree", zap.Error(err))
	}

	if err := o.store.Delete(ctx, taskID); err != nil && !errors.Is(err, domain.ErrTaskNotFound) {
		return err
	}
	if err := os.RemoveAll(o.layout.TaskDir(taskID)); err != nil {
		return fmt.Errorf("remove task dir: %w", err)
	}
	log.Info("task deleted")
	o.events.Publish(ctx, events.Event{Type: events.TaskDeleted, Time: o.now(), EnvID: task.EnvID, TaskID: taskID})
	return nil
}

// StreamLog follows a run's log from its current end. An empty runID selects the latest run.
// It returns the resolved run id; the channel closes when ctx is cancelled.
func (o *Orchestrator) StreamLog(ctx context.Context, taskID, runID string) (string, <-chan logstream.Entry, error) {
	task, err := o.getTask(ctx, taskID)
	if err != nil {
		return "", nil, err
	}
	var run *domain.Run
	if runID == "" {
		run = task.LastRun()
	} else {
		run = task.Run(runID)
	}
	if run == nil {
		return "", nil, fmt.Errorf("%w: %s/%s", domain.ErrRunNotFound, taskID, runID)
	}
	return run.RunID, o.tailer.Subscribe(ctx, o.layout.RunLogFile(taskID, run.LogFile)), nil
}

// PushTask pushes the task branch to the environment's remote
func (o *Orchestrator) PushTask(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := o.getTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := o.worktrees.Push(ctx, task.WorktreePath, task.BranchName); err != nil {
		return nil, err
	}
	return task, nil
}

// TaskDiff summarises the worktree's changes since the task's base ref
func (o *Orchestrator) TaskDiff(ctx context.Context, taskID string) (*worktree.DiffSummary, error) {
	task, err := o.getTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return o.worktrees.Diff(ctx, task.WorktreePath, task.Ref)
}

// ImageInfo reports on the configured agent image
func (o *Orchestrator) ImageInfo(ctx context.Context) (image.Info, error) {
	if o.images == nil {
		return image.Info{}, ErrImageDisabled
	}
	return o.images.Info(ctx)
}

// PullImage pulls the configured agent image
func (o *Orchestrator) PullImage(ctx context.Context) (image.Info, error) {
	if o.images == nil {
		return image.Info{}, ErrImageDisabled
	}
	return o.images.Pull(ctx)
}

// Reconcile repairs tasks orphaned by a previous process
func (o *Orchestrator) Reconcile(ctx context.Context) (int, error) {
	return o.sup.Reconcile(ctx)
}

// Close stops every live run and closes the store
func (o *Orchestrator) Close(ctx context.Context) error {
	err := o.sup.Shutdown(ctx)
	if cerr := o.store.Close(); err == nil {
		err = cerr
	}
	return err
}
