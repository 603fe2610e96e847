package taskstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/hochfrequenz/codex-orchestrator/internal/domain"
	"github.com/hochfrequenz/codex-orchestrator/internal/storage"
)

// FileStore keeps one meta.json per task directory
type FileStore struct {
	layout storage.Layout
	mu     sync.Mutex
}

// NewFileStore creates the tasks directory if needed
func NewFileStore(layout storage.Layout) (*FileStore, error) {
	if err := os.MkdirAll(layout.TasksDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create tasks dir: %w", err)
	}
	return &FileStore{layout: layout}, nil
}

func (s *FileStore) Create(_ context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.layout.TaskDir(task.TaskID), 0o755); err != nil {
		return err
	}
	if storage.Exists(s.layout.MetaFile(task.TaskID)) {
		return fmt.Errorf("task %s already exists", task.TaskID)
	}
	return storage.WriteJSON(s.layout.MetaFile(task.TaskID), task)
}

func (s *FileStore) Get(_ context.Context, id string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(id)
}

func (s *FileStore) read(id string) (*domain.Task, error) {
	var task domain.Task
	if err := storage.ReadJSON(s.layout.MetaFile(id), &task); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
		}
		return nil, err
	}
	return &task, nil
}

// List skips directories without a readable meta.json
func (s *FileStore) List(_ context.Context, opts ListOptions) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := storage.ListDirs(s.layout.TasksDir())
	if err != nil {
		return nil, err
	}

	tasks := make([]*domain.Task, 0, len(ids))
	for _, id := range ids {
		task, err := s.read(id)
		if err != nil {
			continue
		}
		if opts.match(task) {
			tasks = append(tasks, task)
		}
	}
	sortNewestFirst(tasks)
	return tasks, nil
}

func (s *FileStore) Update(_ context.Context, id string, fn func(*domain.Task) error) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.read(id)
	if err != nil {
		return nil, err
	}
	if err := fn(task); err != nil {
		if errors.Is(err, ErrUnchanged) {
			return task, nil
		}
		return nil, err
	}
	if err := storage.WriteJSON(s.layout.MetaFile(id), task); err != nil {
		return nil, err
	}
	return task, nil
}

// Delete removes the record only; the task directory belongs to the caller
func (s *FileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.layout.MetaFile(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
		}
		return err
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
