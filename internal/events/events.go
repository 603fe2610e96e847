// Package events publishes task lifecycle events to interested sinks.
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hochfrequenz/codex-orchestrator/internal/domain"
	"github.com/hochfrequenz/codex-orchestrator/internal/logger"
)

// Type names a lifecycle event
type Type string

const (
	EnvCreated  Type = "env.created"
	EnvDeleted  Type = "env.deleted"
	TaskCreated Type = "task.created"
	TaskDeleted Type = "task.deleted"
	RunStarted  Type = "run.started"
	RunStopping Type = "run.stopping"
	RunFinished Type = "run.finished"
)

// Event is the payload delivered to every sink
type Event struct {
	Type     Type      `json:"type"`
	Time     time.Time `json:"time"`
	EnvID    string    `json:"envId,omitempty"`
	TaskID   string    `json:"taskId,omitempty"`
	RunID    string    `json:"runId,omitempty"`
	Status   string    `json:"status,omitempty"`
	Error    string    `json:"error,omitempty"`
	ThreadID string    `json:"threadId,omitempty"`
	ExitCode *int      `json:"exitCode,omitempty"`
	Signal   string    `json:"signal,omitempty"`
}

// ForTask fills the task fields of an event from the task and its latest run
func ForTask(typ Type, t *domain.Task) Event {
	ev := Event{
		Type:     typ,
		Time:     time.Now().UTC(),
		EnvID:    t.EnvID,
		TaskID:   t.TaskID,
		Status:   string(t.Status),
		ThreadID: t.SessionID(),
	}
	if t.Error != nil {
		ev.Error = *t.Error
	}
	if run := t.LastRun(); run != nil {
		ev.RunID = run.RunID
		ev.ExitCode = run.ExitCode
		ev.Signal = run.Signal
	}
	return ev
}

// Publisher delivers events. Publishing is best effort and never blocks a run.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Nop drops every event
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Multi fans out to several publishers
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) {
	for _, p := range m {
		p.Publish(ctx, ev)
	}
}

// Recorder keeps events in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of everything recorded so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns recorded events of one type
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// Logging writes each event to the process log at debug level
type Logging struct {
	Log *logger.Logger
}

func (l Logging) Publish(_ context.Context, ev Event) {
	l.Log.Debug("event",
		zap.String("type", string(ev.Type)),
		zap.String("task_id", ev.TaskID),
		zap.String("run_id", ev.RunID),
		zap.String("status", ev.Status))
}
