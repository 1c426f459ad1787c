package sqlite

const schema = `
-- Repository mappings: the root correspondence between a Gitee repository
-- and a GitHub repository. At most one mapping per identity pair, on either
-- side.
CREATE TABLE IF NOT EXISTS repository_mappings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    gitee_owner TEXT NOT NULL,
    gitee_repo TEXT NOT NULL,
    github_owner TEXT NOT NULL,
    github_repo TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_repo_mappings_gitee
    ON repository_mappings(gitee_owner, gitee_repo);
CREATE UNIQUE INDEX IF NOT EXISTS idx_repo_mappings_github
    ON repository_mappings(github_owner, github_repo);

-- Issue mappings: one row per mirrored issue, scoped to a repository
-- mapping. The unique index closes the concurrent first-mirror race: the
-- second writer hits the constraint and treats it as already handled.
CREATE TABLE IF NOT EXISTS issue_mappings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    gitee_issue_id INTEGER NOT NULL,
    gitee_issue_number TEXT NOT NULL,
    github_issue_number INTEGER NOT NULL,
    repository_id INTEGER NOT NULL,
    gitee_url TEXT NOT NULL DEFAULT '',
    github_url TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (repository_id) REFERENCES repository_mappings(id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_issue_mappings_gitee
    ON issue_mappings(gitee_issue_id, repository_id);
CREATE INDEX IF NOT EXISTS idx_issue_mappings_github
    ON issue_mappings(github_issue_number, repository_id);
CREATE INDEX IF NOT EXISTS idx_issue_mappings_repository
    ON issue_mappings(repository_id);

-- Comment mappings: one row per mirrored comment, scoped to an issue
-- mapping. The side that did not originate the comment may be NULL when its
-- platform does not return an id for the created mirror.
CREATE TABLE IF NOT EXISTS comment_mappings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    gitee_comment_id INTEGER,
    github_comment_id INTEGER,
    issue_id INTEGER NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (issue_id) REFERENCES issue_mappings(id)
);

CREATE INDEX IF NOT EXISTS idx_comment_mappings_issue
    ON comment_mappings(issue_id);

-- Webhook ledger: one row per successfully processed delivery. Rows are
-- inserted only after the mirroring action succeeded, so a failed attempt
-- leaves no trace and redelivery retries from scratch.
CREATE TABLE IF NOT EXISTS webhook_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    source TEXT NOT NULL CHECK(source IN ('gitee', 'github')),
    processed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (event_id, source)
);

CREATE INDEX IF NOT EXISTS idx_webhook_events_processed_at
    ON webhook_events(processed_at);
`
