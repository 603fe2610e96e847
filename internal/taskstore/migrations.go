package taskstore

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
    task_id TEXT PRIMARY KEY,
    env_id TEXT NOT NULL,
    repo_url TEXT NOT NULL DEFAULT '',
    ref TEXT NOT NULL,
    branch_name TEXT NOT NULL,
    worktree_path TEXT NOT NULL,
    thread_id TEXT,
    error TEXT,
    status TEXT NOT NULL,
    initial_prompt TEXT NOT NULL,
    last_prompt TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_env ON tasks(env_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

CREATE TABLE IF NOT EXISTS runs (
    task_id TEXT NOT NULL REFERENCES tasks(task_id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    run_id TEXT NOT NULL,
    prompt TEXT NOT NULL,
    log_file TEXT NOT NULL,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    status TEXT NOT NULL,
    exit_code INTEGER,
    signal TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (task_id, run_id)
);
`
