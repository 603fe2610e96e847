package executor

import (
	"fmt"
	"sync"

	"github.com/hochfrequenz/codex-orchestrator/internal/domain"
)

// processTable tracks at most one live run per task
type processTable struct {
	mu   sync.RWMutex
	runs map[string]*liveRun
}

func newProcessTable() *processTable {
	return &processTable{runs: make(map[string]*liveRun)}
}

func (t *processTable) track(r *liveRun) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.runs[r.taskID]; ok {
		return fmt.Errorf("%w: task %s is executing %s", domain.ErrRunInProgress, r.taskID, cur.runID)
	}
	t.runs[r.taskID] = r
	return nil
}

func (t *processTable) get(taskID string) *liveRun {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.runs[taskID]
}

// untrack removes r only if it is still the tracked run for its task
func (t *processTable) untrack(r *liveRun) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.runs[r.taskID] == r {
		delete(t.runs, r.taskID)
	}
}

func (t *processTable) snapshot() []*liveRun {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*liveRun, 0, len(t.runs))
	for _, r := range t.runs {
		out = append(out, r)
	}
	return out
}
