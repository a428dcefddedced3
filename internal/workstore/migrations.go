package workstore

const schema = `
CREATE TABLE IF NOT EXISTS items (
    repo TEXT NOT NULL,
    number INTEGER NOT NULL,
    title TEXT NOT NULL,
    body TEXT,
    labels TEXT,
    priority TEXT NOT NULL DEFAULT 'medium',
    status TEXT NOT NULL DEFAULT 'queued',
    retry_count INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    error_class TEXT,
    url TEXT,
    pr_url TEXT,
    created_at TIMESTAMP NOT NULL,
    started_at TIMESTAMP,
    completed_at TIMESTAMP,
    PRIMARY KEY (repo, number)
);

CREATE INDEX IF NOT EXISTS idx_items_status ON items(status);
CREATE INDEX IF NOT EXISTS idx_items_created_at ON items(created_at);

CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    repo TEXT NOT NULL,
    number INTEGER NOT NULL,
    pipeline TEXT,
    model TEXT,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP,
    solution TEXT,
    error_message TEXT,
    exit_code INTEGER,
    FOREIGN KEY (repo, number) REFERENCES items(repo, number)
);

CREATE INDEX IF NOT EXISTS idx_runs_item ON runs(repo, number);

CREATE TABLE IF NOT EXISTS artifacts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    filename TEXT NOT NULL,
    category TEXT NOT NULL,
    size_bytes INTEGER,
    path TEXT
);

CREATE INDEX IF NOT EXISTS idx_artifacts_run_id ON artifacts(run_id);
`
