package taskstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/codex-orchestrator/internal/domain"
	"github.com/hochfrequenz/codex-orchestrator/internal/storage"
)

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"file": func(t *testing.T) Store {
			s, err := NewFileStore(storage.NewLayout(t.TempDir()))
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLStore(":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func newTask(id, envID string, created time.Time) *domain.Task {
	return &domain.Task{
		TaskID:        id,
		EnvID:         envID,
		RepoURL:       "git@example.com:repo.git",
		Ref:           "refs/remotes/origin/main",
		BranchName:    "codex/" + id,
		WorktreePath:  "/orch/tasks/" + id + "/worktree",
		Status:        domain.StatusRunning,
		InitialPrompt: "Do work",
		LastPrompt:    "Do work",
		CreatedAt:     created,
		UpdatedAt:     created,
		Runs:          []domain.Run{domain.NewRun("run-001", "Do work", created)},
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			created := time.Date(2025, 3, 1, 10, 0, 0, 123456789, time.UTC)

			require.NoError(t, s.Create(ctx, newTask("t1", "e1", created)))

			got, err := s.Get(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, "e1", got.EnvID)
			assert.Equal(t, "codex/t1", got.BranchName)
			assert.Equal(t, domain.StatusRunning, got.Status)
			assert.Nil(t, got.ThreadID)
			assert.Nil(t, got.Error)
			assert.True(t, got.CreatedAt.Equal(created))
			require.Len(t, got.Runs, 1)
			assert.Equal(t, "run-001", got.Runs[0].RunID)
			assert.Equal(t, "run-001.jsonl", got.Runs[0].LogFile)
			assert.Nil(t, got.Runs[0].ExitCode)
			assert.Nil(t, got.Runs[0].FinishedAt)
		})
	}
}

func TestStore_GetMissing(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := open(t).Get(context.Background(), "nope")
			assert.ErrorIs(t, err, domain.ErrTaskNotFound)
		})
	}
}

func TestStore_Update(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			now := time.Now().UTC()
			require.NoError(t, s.Create(ctx, newTask("t1", "e1", now)))

			fin := now.Add(time.Minute)
			code := 0
			updated, err := s.Update(ctx, "t1", func(task *domain.Task) error {
				task.Status = domain.StatusCompleted
				task.ThreadID = domain.StringPtr("abc")
				run := task.LastRun()
				run.Status = domain.StatusCompleted
				run.FinishedAt = &fin
				run.ExitCode = &code
				task.Runs = append(task.Runs, domain.NewRun("run-002", "Continue", fin))
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, domain.StatusCompleted, updated.Status)

			got, err := s.Get(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, "abc", got.SessionID())
			require.Len(t, got.Runs, 2)
			assert.Equal(t, domain.StatusCompleted, got.Runs[0].Status)
			require.NotNil(t, got.Runs[0].ExitCode)
			assert.Equal(t, 0, *got.Runs[0].ExitCode)
			require.NotNil(t, got.Runs[0].FinishedAt)
			assert.True(t, got.Runs[0].FinishedAt.Equal(fin))
			assert.Equal(t, "run-002", got.Runs[1].RunID)
			assert.Equal(t, "Continue", got.Runs[1].Prompt)
		})
	}
}

func TestStore_UpdateAbortAndUnchanged(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			require.NoError(t, s.Create(ctx, newTask("t1", "e1", time.Now())))

			boom := errors.New("boom")
			_, err := s.Update(ctx, "t1", func(task *domain.Task) error {
				task.Status = domain.StatusFailed
				return boom
			})
			assert.ErrorIs(t, err, boom)

			task, err := s.Update(ctx, "t1", func(task *domain.Task) error {
				task.Status = domain.StatusFailed
				return ErrUnchanged
			})
			require.NoError(t, err)
			assert.Equal(t, domain.StatusFailed, task.Status, "mutator view is returned")

			got, err := s.Get(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, domain.StatusRunning, got.Status)

			_, err = s.Update(ctx, "missing", func(*domain.Task) error { return nil })
			assert.ErrorIs(t, err, domain.ErrTaskNotFound)
		})
	}
}

func TestStore_ListNewestFirstWithFilters(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

			require.NoError(t, s.Create(ctx, newTask("a", "e1", base)))
			require.NoError(t, s.Create(ctx, newTask("b", "e2", base.Add(time.Hour))))
			c := newTask("c", "e1", base.Add(2*time.Hour))
			c.Status = domain.StatusFailed
			require.NoError(t, s.Create(ctx, c))

			all, err := s.List(ctx, ListOptions{})
			require.NoError(t, err)
			assert.Equal(t, []string{"c", "b", "a"}, ids(all))

			e1, err := s.List(ctx, ListOptions{EnvID: "e1"})
			require.NoError(t, err)
			assert.Equal(t, []string{"c", "a"}, ids(e1))

			failed, err := s.List(ctx, ListOptions{Status: domain.StatusFailed})
			require.NoError(t, err)
			assert.Equal(t, []string{"c"}, ids(failed))
			require.Len(t, failed[0].Runs, 1)
		})
	}
}

func TestStore_Delete(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			require.NoError(t, s.Create(ctx, newTask("t1", "e1", time.Now())))

			require.NoError(t, s.Delete(ctx, "t1"))
			_, err := s.Get(ctx, "t1")
			assert.ErrorIs(t, err, domain.ErrTaskNotFound)
			assert.ErrorIs(t, s.Delete(ctx, "t1"), domain.ErrTaskNotFound)

			// a new task with the same id can be created again
			require.NoError(t, s.Create(ctx, newTask("t1", "e1", time.Now())))
		})
	}
}

func TestFileStore_ListSkipsCorruptRecords(t *testing.T) {
	ctx := context.Background()
	layout := storage.NewLayout(t.TempDir())
	s, err := NewFileStore(layout)
	require.NoError(t, err)

	require.NoError(t, s.Create(ctx, newTask("good", "e1", time.Now())))
	require.NoError(t, os.MkdirAll(layout.TaskDir("half"), 0o755))
	require.NoError(t, os.MkdirAll(layout.TaskDir("bad"), 0o755))
	require.NoError(t, os.WriteFile(layout.MetaFile("bad"), []byte("{"), 0o644))

	tasks, err := s.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, ids(tasks))
}

func TestSQLStore_FileDatabasePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "orchestrator.db")

	s, err := NewSQLStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, newTask("t1", "e1", time.Now())))
	require.NoError(t, s.Close())

	s, err = NewSQLStore(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, got.Runs, 1)
}

func TestOpen(t *testing.T) {
	layout := storage.NewLayout(t.TempDir())

	s, err := Open("file", layout, "")
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = Open("sqlite", layout, ":memory:")
	require.NoError(t, err)
	assert.IsType(t, &SQLStore{}, s)
	s.Close()

	_, err = Open("mongo", layout, "")
	assert.Error(t, err)
}

func ids(tasks []*domain.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.TaskID
	}
	return out
}
