// Package taskstore persists task records and their run history.
package taskstore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hochfrequenz/codex-orchestrator/internal/domain"
	"github.com/hochfrequenz/codex-orchestrator/internal/storage"
)

// ErrUnchanged may be returned by an Update mutator to skip the write.
var ErrUnchanged = errors.New("unchanged")

// Store is the durable record of tasks and runs.
//
// Update is a serialized read-modify-write: fn sees the current record and
// its changes are persisted atomically unless it returns an error.
type Store interface {
	Create(ctx context.Context, task *domain.Task) error
	Get(ctx context.Context, id string) (*domain.Task, error)
	List(ctx context.Context, opts ListOptions) ([]*domain.Task, error)
	Update(ctx context.Context, id string, fn func(*domain.Task) error) (*domain.Task, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// ListOptions specifies filters for listing tasks
type ListOptions struct {
	EnvID  string
	Status domain.Status
}

func (o ListOptions) match(t *domain.Task) bool {
	if o.EnvID != "" && t.EnvID != o.EnvID {
		return false
	}
	if o.Status != "" && t.Status != o.Status {
		return false
	}
	return true
}

// Open returns the store for the configured backend: "file" or "sqlite".
func Open(backend string, layout storage.Layout, dbPath string) (Store, error) {
	switch backend {
	case "", "file":
		return NewFileStore(layout)
	case "sqlite":
		return NewSQLStore(dbPath)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// sortNewestFirst orders by creation time descending, task id as tiebreak.
func sortNewestFirst(tasks []*domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		}
		return tasks[i].TaskID < tasks[j].TaskID
	})
}
