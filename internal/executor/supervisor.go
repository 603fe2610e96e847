// Package executor supervises agent subprocesses bound to task worktrees.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hochfrequenz/codex-orchestrator/internal/domain"
	"github.com/hochfrequenz/codex-orchestrator/internal/events"
	"github.com/hochfrequenz/codex-orchestrator/internal/logger"
	"github.com/hochfrequenz/codex-orchestrator/internal/storage"
	"github.com/hochfrequenz/codex-orchestrator/internal/taskstore"
)

// DefaultStopGrace is how long a stopped agent has between SIGTERM and SIGKILL
const DefaultStopGrace = 5 * time.Second

const (
	scanBuffer = 256
	// outputDrainDelay bounds how long Wait keeps copying stdout after the agent exits
	outputDrainDelay = time.Second
)

// Options configures a Supervisor
type Options struct {
	Store     taskstore.Store
	Layout    storage.Layout
	Command   CommandBuilder
	StopGrace time.Duration
	Publisher events.Publisher
	Logger    *logger.Logger
	Now       func() time.Time
}

// RunSpec identifies the run to start. A non-empty SessionID resumes that session.
type RunSpec struct {
	TaskID       string
	RunID        string
	Prompt       string
	WorktreePath string
	SessionID    string
}

// outcome is how the process ended; ExitCode is nil when a signal killed it
type outcome struct {
	exitCode *int
	signal   string
}

type liveRun struct {
	taskID string
	runID  string
	prompt string

	logPath    string
	stderrPath string

	cmd  *exec.Cmd
	done chan struct{}

	stopRequested atomic.Bool
	finalized     atomic.Bool

	mu        sync.Mutex
	proc      *os.Process
	sessionID string
	killTimer *time.Timer
}

func (r *liveRun) session() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

func (r *liveRun) setSession(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessionID != "" {
		return false
	}
	r.sessionID = id
	return true
}

func (r *liveRun) process() *os.Process {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.proc
}

// Supervisor starts, stops and finalizes agent runs. Each task has at most one live run.
type Supervisor struct {
	store     taskstore.Store
	layout    storage.Layout
	command   CommandBuilder
	stopGrace time.Duration
	events    events.Publisher
	log       *logger.Logger
	now       func() time.Time

	procs *processTable
	wg    sync.WaitGroup
}

// New creates a Supervisor
func New(opts Options) *Supervisor {
	s := &Supervisor{
		store:     opts.Store,
		layout:    opts.Layout,
		command:   opts.Command,
		stopGrace: opts.StopGrace,
		events:    opts.Publisher,
		log:       opts.Logger,
		now:       opts.Now,
		procs:     newProcessTable(),
	}
	if s.command.Command == "" {
		s.command = DefaultCommand()
	}
	if s.stopGrace <= 0 {
		s.stopGrace = DefaultStopGrace
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.log == nil {
		s.log = logger.Default()
	}
	s.log = s.log.WithComponent("supervisor")
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Running reports whether the task has a live process
func (s *Supervisor) Running(taskID string) bool {
	return s.procs.get(taskID) != nil
}

// Done returns a channel closed once the task's live run is finalized.
// It is already closed when nothing runs.
func (s *Supervisor) Done(taskID string) <-chan struct{} {
	if r := s.procs.get(taskID); r != nil {
		return r.done
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Start spawns the agent for a run whose record is already persisted as running.
// Spawn failures do not surface here; they finalize the run as failed.
func (s *Supervisor) Start(ctx context.Context, spec RunSpec) error {
	r := &liveRun{
		taskID:     spec.TaskID,
		runID:      spec.RunID,
		prompt:     spec.Prompt,
		logPath:    s.layout.RunLogFile(spec.TaskID, domain.LogFileName(spec.RunID)),
		stderrPath: s.layout.RunLogFile(spec.TaskID, domain.StderrFileName(spec.RunID)),
		done:       make(chan struct{}),
	}
	r.cmd = exec.Command(s.command.Command, s.command.Build(spec.Prompt, spec.SessionID)...)
	r.cmd.Dir = spec.WorktreePath
	r.cmd.Env = os.Environ()
	setProcAttr(r.cmd)

	if err := s.procs.track(r); err != nil {
		return err
	}
	log := s.log.WithTaskID(spec.TaskID).WithRunID(spec.RunID)

	if err := os.MkdirAll(s.layout.LogsDir(spec.TaskID), 0o755); err != nil {
		s.spawnFailed(r, err)
		return nil
	}
	logFile, err := os.OpenFile(r.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.spawnFailed(r, err)
		return nil
	}
	stderrFile, err := os.OpenFile(r.stderrPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logFile.Close()
		s.spawnFailed(r, err)
		return nil
	}

	lines := make(chan []byte, scanBuffer)
	cmd := r.cmd
	cmd.Stderr = stderrFile
	cmd.Stdout = &runLogWriter{file: logFile, lines: lines, log: log}
	// exit detection must not wait for background children holding stdout open
	cmd.WaitDelay = outputDrainDelay
	if err := cmd.Start(); err != nil {
		logFile.Close()
		stderrFile.Close()
		s.spawnFailed(r, err)
		return nil
	}
	r.mu.Lock()
	r.proc = cmd.Process
	r.mu.Unlock()
	if r.stopRequested.Load() {
		_ = terminate(cmd.Process)
	}

	log.Info("agent started",
		zap.Int("pid", cmd.Process.Pid),
		zap.Bool("resume", spec.SessionID != ""))
	s.events.Publish(ctx, events.Event{
		Type:   events.RunStarted,
		Time:   s.now(),
		TaskID: spec.TaskID,
		RunID:  spec.RunID,
		Status: string(domain.StatusRunning),
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer logFile.Close()
		defer stderrFile.Close()
		s.supervise(r, lines)
	}()
	return nil
}

// supervise scans relayed stdout for a session id and finalizes once the agent exits
func (s *Supervisor) supervise(r *liveRun, lines chan []byte) {
	scanned := make(chan struct{})
	go func() {
		defer close(scanned)
		var sc lineScanner
		for chunk := range lines {
			if id := sc.feed(chunk); id != "" && r.setSession(id) {
				s.recordSession(r, id)
			}
		}
	}()

	err := r.cmd.Wait()
	if errors.Is(err, exec.ErrWaitDelay) {
		s.log.WithTaskID(r.taskID).WithRunID(r.runID).
			Debug("agent exited with stdout still held open by a child")
	}
	// Wait has returned, so the stdout copier is done writing
	close(lines)
	<-scanned
	s.finalize(r, outcomeOf(r.cmd.ProcessState))
}

// runLogWriter appends agent stdout to the run log and offers each chunk to the
// session scanner without blocking. Chunks the scanner cannot take are
// recovered by the rescan at finalize.
type runLogWriter struct {
	file     io.Writer
	lines    chan<- []byte
	log      *logger.Logger
	writeErr bool
}

func (w *runLogWriter) Write(p []byte) (int, error) {
	if _, err := w.file.Write(p); err != nil && !w.writeErr {
		w.writeErr = true
		w.log.Warn("run log write failed, later output may be missing", zap.Error(err))
	}
	chunk := append([]byte(nil), p...)
	select {
	case w.lines <- chunk:
	default:
	}
	// never fail the agent's stdout over a log write error
	return len(p), nil
}

func outcomeOf(state *os.ProcessState) outcome {
	if state == nil {
		code := 1
		return outcome{exitCode: &code}
	}
	if sig := exitSignal(state); sig != "" {
		return outcome{signal: sig}
	}
	code := state.ExitCode()
	if code < 0 {
		code = 1
	}
	return outcome{exitCode: &code}
}

// recordSession persists a session id as soon as the live scan sees it
func (s *Supervisor) recordSession(r *liveRun, id string) {
	_, err := s.store.Update(context.Background(), r.taskID, func(t *domain.Task) error {
		run := t.Run(r.runID)
		if run == nil || run.Status.Terminal() || t.SessionID() == id {
			return taskstore.ErrUnchanged
		}
		t.ThreadID = domain.StringPtr(id)
		t.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		s.log.WithTaskID(r.taskID).Debug("record session id", zap.Error(err))
	}
}

func (s *Supervisor) spawnFailed(r *liveRun, cause error) {
	s.log.WithTaskID(r.taskID).WithRunID(r.runID).Error("agent spawn failed", zap.Error(cause))
	if f, err := os.OpenFile(r.stderrPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
		fmt.Fprintf(f, "failed to start agent: %v\n", cause)
		f.Close()
	}
	code := 1
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.finalize(r, outcome{exitCode: &code})
	}()
}

// finalize records the terminal state of a run. Only the first call per run has effect.
func (s *Supervisor) finalize(r *liveRun, out outcome) {
	if !r.finalized.CompareAndSwap(false, true) {
		return
	}
	r.mu.Lock()
	if r.killTimer != nil {
		r.killTimer.Stop()
	}
	r.mu.Unlock()

	log := s.log.WithTaskID(r.taskID).WithRunID(r.runID)
	stopped := r.stopRequested.Load() || out.signal == "SIGTERM" || out.signal == "SIGKILL"

	session := r.session()
	if session == "" {
		session = s.rescanSession(r)
	}

	now := s.now()
	task, err := s.store.Update(context.Background(), r.taskID, func(t *domain.Task) error {
		if session == "" {
			session = t.SessionID()
		}
		if session != "" {
			t.ThreadID = domain.StringPtr(session)
		}
		success := !stopped && out.exitCode != nil && *out.exitCode == 0 && session != ""

		status := domain.StatusFailed
		switch {
		case stopped:
			status = domain.StatusStopped
			t.Error = domain.StringPtr(domain.MsgStoppedByUser)
		case success:
			status = domain.StatusCompleted
			t.Error = nil
		default:
			t.Error = domain.StringPtr(domain.MsgSessionIDMissing)
		}
		t.Status = status
		if r.prompt != "" {
			t.LastPrompt = r.prompt
		}
		t.UpdatedAt = now
		if run := t.Run(r.runID); run != nil {
			run.Status = status
			run.FinishedAt = &now
			run.ExitCode = out.exitCode
			run.Signal = out.signal
		}
		return nil
	})

	s.procs.untrack(r)
	close(r.done)

	if err != nil {
		log.Warn("finalize run", zap.Error(err))
		return
	}
	log.Info("agent finished",
		zap.String("status", string(task.Status)),
		zap.String("signal", out.signal),
		zap.Any("exit_code", out.exitCode))
	s.events.Publish(context.Background(), events.ForTask(events.RunFinished, task))
}

// rescanSession reads the persisted stdout and stderr of a run looking for a session id
func (s *Supervisor) rescanSession(r *liveRun) string {
	var b strings.Builder
	for _, path := range []string{r.logPath, r.stderrPath} {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		b.Write(data)
		b.WriteByte('\n')
	}
	return ScanSessionID(b.String())
}

// Stop asks the task's live run to terminate. It returns once SIGTERM is sent;
// the run finalizes asynchronously, escalating to SIGKILL after the grace period.
func (s *Supervisor) Stop(ctx context.Context, taskID string) (*domain.Task, error) {
	r := s.procs.get(taskID)
	if r == nil {
		return nil, &domain.NoRunningProcessError{TaskID: taskID}
	}
	r.stopRequested.Store(true)

	changed := false
	task, err := s.store.Update(ctx, taskID, func(t *domain.Task) error {
		if t.Status.Terminal() {
			return taskstore.ErrUnchanged
		}
		t.Status = domain.StatusStopping
		if run := t.Run(r.runID); run != nil && !run.Status.Terminal() {
			run.Status = domain.StatusStopping
		}
		t.UpdatedAt = s.now()
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.events.Publish(ctx, events.ForTask(events.RunStopping, task))
	}

	log := s.log.WithTaskID(taskID).WithRunID(r.runID)
	if p := r.process(); p != nil {
		if err := terminate(p); err != nil {
			log.Debug("send SIGTERM", zap.Error(err))
		}
	}
	s.armKill(r)
	log.Info("stop requested")
	return task, nil
}

// armKill escalates to SIGKILL after the grace period and, if the process
// still has not been reaped after another period, finalizes the run anyway.
func (s *Supervisor) armKill(r *liveRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.killTimer != nil || r.finalized.Load() {
		return
	}
	r.killTimer = time.AfterFunc(s.stopGrace, func() {
		if r.finalized.Load() {
			return
		}
		if p := r.process(); p != nil {
			s.log.WithTaskID(r.taskID).Warn("agent ignored SIGTERM, killing")
			_ = kill(p)
		}
		select {
		case <-r.done:
		case <-time.After(s.stopGrace):
			s.finalize(r, outcome{signal: "SIGKILL"})
		}
	})
}

// Resume appends the next run to a terminal task and restarts the agent on its session
func (s *Supervisor) Resume(ctx context.Context, taskID, prompt string) (*domain.Task, error) {
	if s.Running(taskID) {
		return nil, fmt.Errorf("%w: task %s", domain.ErrRunInProgress, taskID)
	}
	var spec RunSpec
	task, err := s.store.Update(ctx, taskID, func(t *domain.Task) error {
		if !t.Resumable() {
			return &domain.NotResumableError{TaskID: taskID}
		}
		sid := t.SessionID()
		if !t.Status.Terminal() {
			return fmt.Errorf("%w: task %s is %s", domain.ErrRunInProgress, taskID, t.Status)
		}
		now := s.now()
		label := t.NextRunLabel()
		t.Runs = append(t.Runs, domain.NewRun(label, prompt, now))
		t.Status = domain.StatusRunning
		t.Error = nil
		t.LastPrompt = prompt
		t.UpdatedAt = now
		spec = RunSpec{
			TaskID:       taskID,
			RunID:        label,
			Prompt:       prompt,
			WorktreePath: t.WorktreePath,
			SessionID:    sid,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.Start(ctx, spec); err != nil {
		return nil, err
	}
	return task, nil
}

// Kill terminates the task's live run immediately and waits for it to finalize.
// It is a no-op when nothing runs.
func (s *Supervisor) Kill(ctx context.Context, taskID string) error {
	r := s.procs.get(taskID)
	if r == nil {
		return nil
	}
	r.stopRequested.Store(true)
	if p := r.process(); p != nil {
		_ = kill(p)
	}
	select {
	case <-r.done:
		return nil
	case <-time.After(s.stopGrace):
		s.finalize(r, outcome{signal: "SIGKILL"})
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops every live run and waits until all are finalized or ctx expires
func (s *Supervisor) Shutdown(ctx context.Context) error {
	live := s.procs.snapshot()
	for _, r := range live {
		if _, err := s.Stop(ctx, r.taskID); err != nil && !errors.Is(err, domain.ErrNoRunningProcess) {
			s.log.WithTaskID(r.taskID).Warn("stop on shutdown", zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		for _, r := range s.procs.snapshot() {
			if p := r.process(); p != nil {
				_ = kill(p)
			}
			s.finalize(r, outcome{signal: "SIGKILL"})
		}
		return ctx.Err()
	}
}

// Reconcile fails tasks left running or stopping by a previous process.
// It returns the number of tasks it repaired.
func (s *Supervisor) Reconcile(ctx context.Context) (int, error) {
	tasks, err := s.store.List(ctx, taskstore.ListOptions{})
	if err != nil {
		return 0, err
	}
	repaired := 0
	for _, t := range tasks {
		if t.Status.Terminal() || s.Running(t.TaskID) {
			continue
		}
		changed := false
		_, err := s.store.Update(ctx, t.TaskID, func(t *domain.Task) error {
			if t.Status.Terminal() || s.Running(t.TaskID) {
				return taskstore.ErrUnchanged
			}
			now := s.now()
			t.Status = domain.StatusFailed
			t.Error = domain.StringPtr(domain.MsgRunInterrupted)
			t.UpdatedAt = now
			if run := t.LastRun(); run != nil && !run.Status.Terminal() {
				run.Status = domain.StatusFailed
				run.FinishedAt = &now
			}
			changed = true
			return nil
		})
		if err != nil {
			s.log.WithTaskID(t.TaskID).Warn("reconcile task", zap.Error(err))
			continue
		}
		if changed {
			repaired++
			s.log.WithTaskID(t.TaskID).Info("marked interrupted run as failed")
		}
	}
	return repaired, nil
}
