package history

// migrations are applied in order; the database's user_version records how
// many have run.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS queries (
    id TEXT PRIMARY KEY,
    session_token TEXT NOT NULL,
    sql_text TEXT NOT NULL,
    datasets TEXT NOT NULL DEFAULT '[]',
    started_at INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    row_count INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    error_code TEXT,
    error_message TEXT
)`,
	`CREATE INDEX IF NOT EXISTS idx_queries_started ON queries(started_at)`,
	`CREATE INDEX IF NOT EXISTS idx_queries_session ON queries(session_token, started_at)`,
}
