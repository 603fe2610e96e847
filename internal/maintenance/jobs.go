package maintenance

import (
	"context"

	"github.com/hochfrequenz/codex-orchestrator/internal/logger"
)

// RefreshJobName identifies the mirror refresh job
const RefreshJobName = "refresh-mirrors"

// Refresher fetches every environment mirror and prunes stale worktrees
type Refresher interface {
	RefreshMirrors(ctx context.Context) error
}

// RefreshJob returns the mirror refresh job for the given schedule
func RefreshJob(expr string, r Refresher) Job {
	return Job{
		Name: RefreshJobName,
		Cron: expr,
		Run:  r.RefreshMirrors,
	}
}

// FromConfig builds the scheduler for the configured refresh schedule.
// It returns nil when maintenance is disabled.
func FromConfig(refreshCron string, r Refresher, log *logger.Logger) (*Scheduler, error) {
	if refreshCron == "" {
		return nil, nil
	}
	return NewScheduler([]Job{RefreshJob(refreshCron, r)}, log)
}
