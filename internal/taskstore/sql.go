package taskstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/hochfrequenz/codex-orchestrator/internal/domain"
)

// SQLStore keeps tasks and runs in SQLite
type SQLStore struct {
	db *sqlx.DB
}

type taskRow struct {
	TaskID        string         `db:"task_id"`
	EnvID         string         `db:"env_id"`
	RepoURL       string         `db:"repo_url"`
	Ref           string         `db:"ref"`
	BranchName    string         `db:"branch_name"`
	WorktreePath  string         `db:"worktree_path"`
	ThreadID      sql.NullString `db:"thread_id"`
	Error         sql.NullString `db:"error"`
	Status        string         `db:"status"`
	InitialPrompt string         `db:"initial_prompt"`
	LastPrompt    string         `db:"last_prompt"`
	CreatedAt     string         `db:"created_at"`
	UpdatedAt     string         `db:"updated_at"`
}

type runRow struct {
	TaskID     string         `db:"task_id"`
	Seq        int            `db:"seq"`
	RunID      string         `db:"run_id"`
	Prompt     string         `db:"prompt"`
	LogFile    string         `db:"log_file"`
	StartedAt  string         `db:"started_at"`
	FinishedAt sql.NullString `db:"finished_at"`
	Status     string         `db:"status"`
	ExitCode   sql.NullInt64  `db:"exit_code"`
	Signal     string         `db:"signal"`
}

// NewSQLStore opens (or creates) the database at dbPath; ":memory:" works for tests
func NewSQLStore(dbPath string) (*SQLStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// one connection: writes are serialized and :memory: stays a single database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Create(ctx context.Context, task *domain.Task) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO tasks (task_id, env_id, repo_url, ref, branch_name, worktree_path, thread_id, error, status, initial_prompt, last_prompt, created_at, updated_at)
		VALUES (:task_id, :env_id, :repo_url, :ref, :branch_name, :worktree_path, :thread_id, :error, :status, :initial_prompt, :last_prompt, :created_at, :updated_at)
	`, toTaskRow(task)); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	if err := insertRuns(ctx, tx, task); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	return getTask(ctx, s.db, id)
}

func (s *SQLStore) List(ctx context.Context, opts ListOptions) ([]*domain.Task, error) {
	query := `SELECT * FROM tasks WHERE 1=1`
	var args []interface{}
	if opts.EnvID != "" {
		query += " AND env_id = ?"
		args = append(args, opts.EnvID)
	}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}

	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	var runs []runRow
	if err := s.db.SelectContext(ctx, &runs, `SELECT * FROM runs ORDER BY task_id, seq`); err != nil {
		return nil, err
	}
	byTask := make(map[string][]runRow)
	for _, r := range runs {
		byTask[r.TaskID] = append(byTask[r.TaskID], r)
	}

	tasks := make([]*domain.Task, 0, len(rows))
	for _, row := range rows {
		task, err := fromRows(row, byTask[row.TaskID])
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	sortNewestFirst(tasks)
	return tasks, nil
}

func (s *SQLStore) Update(ctx context.Context, id string, fn func(*domain.Task) error) (*domain.Task, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	task, err := getTask(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(task); err != nil {
		if errors.Is(err, ErrUnchanged) {
			return task, nil
		}
		return nil, err
	}

	if _, err := tx.NamedExecContext(ctx, `
		UPDATE tasks SET
			env_id = :env_id, repo_url = :repo_url, ref = :ref, branch_name = :branch_name,
			worktree_path = :worktree_path, thread_id = :thread_id, error = :error, status = :status,
			initial_prompt = :initial_prompt, last_prompt = :last_prompt, updated_at = :updated_at
		WHERE task_id = :task_id
	`, toTaskRow(task)); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE task_id = ?`, id); err != nil {
		return nil, err
	}
	if err := insertRuns(ctx, tx, task); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return task, nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	return nil
}

func getTask(ctx context.Context, q sqlx.QueryerContext, id string) (*domain.Task, error) {
	var row taskRow
	if err := sqlx.GetContext(ctx, q, &row, `SELECT * FROM tasks WHERE task_id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
		}
		return nil, err
	}
	var runs []runRow
	if err := sqlx.SelectContext(ctx, q, &runs, `SELECT * FROM runs WHERE task_id = ? ORDER BY seq`, id); err != nil {
		return nil, err
	}
	return fromRows(row, runs)
}

func insertRuns(ctx context.Context, tx *sqlx.Tx, task *domain.Task) error {
	for i, run := range task.Runs {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO runs (task_id, seq, run_id, prompt, log_file, started_at, finished_at, status, exit_code, signal)
			VALUES (:task_id, :seq, :run_id, :prompt, :log_file, :started_at, :finished_at, :status, :exit_code, :signal)
		`, toRunRow(task.TaskID, i, run)); err != nil {
			return fmt.Errorf("insert run %s: %w", run.RunID, err)
		}
	}
	return nil
}

func toTaskRow(t *domain.Task) taskRow {
	return taskRow{
		TaskID:        t.TaskID,
		EnvID:         t.EnvID,
		RepoURL:       t.RepoURL,
		Ref:           t.Ref,
		BranchName:    t.BranchName,
		WorktreePath:  t.WorktreePath,
		ThreadID:      nullString(t.ThreadID),
		Error:         nullString(t.Error),
		Status:        string(t.Status),
		InitialPrompt: t.InitialPrompt,
		LastPrompt:    t.LastPrompt,
		CreatedAt:     formatTime(t.CreatedAt),
		UpdatedAt:     formatTime(t.UpdatedAt),
	}
}

func toRunRow(taskID string, seq int, r domain.Run) runRow {
	row := runRow{
		TaskID:    taskID,
		Seq:       seq,
		RunID:     r.RunID,
		Prompt:    r.Prompt,
		LogFile:   r.LogFile,
		StartedAt: formatTime(r.StartedAt),
		Status:    string(r.Status),
		Signal:    r.Signal,
	}
	if r.FinishedAt != nil {
		row.FinishedAt = sql.NullString{String: formatTime(*r.FinishedAt), Valid: true}
	}
	if r.ExitCode != nil {
		row.ExitCode = sql.NullInt64{Int64: int64(*r.ExitCode), Valid: true}
	}
	return row
}

func fromRows(row taskRow, runs []runRow) (*domain.Task, error) {
	created, err := parseTime(row.CreatedAt)
	if err != nil {
		return nil, err
	}
	updated, err := parseTime(row.UpdatedAt)
	if err != nil {
		return nil, err
	}

	task := &domain.Task{
		TaskID:        row.TaskID,
		EnvID:         row.EnvID,
		RepoURL:       row.RepoURL,
		Ref:           row.Ref,
		BranchName:    row.BranchName,
		WorktreePath:  row.WorktreePath,
		Status:        domain.Status(row.Status),
		InitialPrompt: row.InitialPrompt,
		LastPrompt:    row.LastPrompt,
		CreatedAt:     created,
		UpdatedAt:     updated,
		Runs:          make([]domain.Run, 0, len(runs)),
	}
	if row.ThreadID.Valid {
		task.ThreadID = &row.ThreadID.String
	}
	if row.Error.Valid {
		task.Error = &row.Error.String
	}

	for _, r := range runs {
		started, err := parseTime(r.StartedAt)
		if err != nil {
			return nil, err
		}
		run := domain.Run{
			RunID:     r.RunID,
			Prompt:    r.Prompt,
			LogFile:   r.LogFile,
			StartedAt: started,
			Status:    domain.Status(r.Status),
			Signal:    r.Signal,
		}
		if r.FinishedAt.Valid {
			fin, err := parseTime(r.FinishedAt.String)
			if err != nil {
				return nil, err
			}
			run.FinishedAt = &fin
		}
		if r.ExitCode.Valid {
			code := int(r.ExitCode.Int64)
			run.ExitCode = &code
		}
		task.Runs = append(task.Runs, run)
	}
	return task, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
