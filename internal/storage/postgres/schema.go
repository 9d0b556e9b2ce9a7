package postgres

// schemaStatements creates the tables and indexes on startup. All statements
// are idempotent so EnsureSchema is safe to run on every boot.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS planning_applications (
		id BIGSERIAL PRIMARY KEY,
		project_id TEXT NOT NULL,
		borough TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		submission_date TEXT,
		application_url TEXT NOT NULL DEFAULT '',
		detected_keywords TEXT NOT NULL DEFAULT '',
		source_url TEXT NOT NULL DEFAULT '',
		scraped_at TIMESTAMPTZ NOT NULL,
		UNIQUE (project_id, borough)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_applications_borough_date
		ON planning_applications (borough, submission_date)`,
	`CREATE INDEX IF NOT EXISTS idx_applications_keywords
		ON planning_applications (detected_keywords)`,
	`CREATE TABLE IF NOT EXISTS scrape_sessions (
		id UUID PRIMARY KEY,
		borough TEXT NOT NULL,
		keywords TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL,
		total_found INTEGER NOT NULL DEFAULT 0,
		new_found INTEGER NOT NULL DEFAULT 0,
		requests INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_borough_finished
		ON scrape_sessions (borough, finished_at)`,
}
