package events

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hochfrequenz/codex-orchestrator/internal/domain"
	"github.com/hochfrequenz/codex-orchestrator/internal/logger"
	"github.com/hochfrequenz/codex-orchestrator/internal/notify"
)

// NotifierSink turns finished runs into user notifications
type NotifierSink struct {
	Notifier notify.Notifier
	Log      *logger.Logger
}

func (s NotifierSink) Publish(_ context.Context, ev Event) {
	if ev.Type != RunFinished {
		return
	}
	n := notify.Notification{
		TaskID: ev.TaskID,
		Title:  fmt.Sprintf("Task %s %s", shortID(ev.TaskID), ev.Status),
	}
	switch domain.Status(ev.Status) {
	case domain.StatusCompleted:
		n.Type = notify.NotifySuccess
		n.Message = fmt.Sprintf("%s finished", ev.RunID)
	case domain.StatusStopped:
		n.Type = notify.NotifyWarning
		n.Message = fmt.Sprintf("%s stopped", ev.RunID)
	default:
		n.Type = notify.NotifyError
		n.Message = fmt.Sprintf("%s failed: %s", ev.RunID, ev.Error)
	}
	// a broken webhook must not affect the run
	if err := s.Notifier.Send(n); err != nil && s.Log != nil {
		s.Log.Warn("notification failed", zap.String("task_id", ev.TaskID), zap.Error(err))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
