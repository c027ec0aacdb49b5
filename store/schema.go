package store

// schema is the single jobs table plus its two query indexes. Status is
// constrained to the five legal values at the engine level.
const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id                  TEXT PRIMARY KEY,
	prompt              TEXT NOT NULL,
	model               TEXT NOT NULL,
	status              TEXT NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed', 'expired')),
	created_at          TIMESTAMPTZ NOT NULL,
	started_at          TIMESTAMPTZ,
	completed_at        TIMESTAMPTZ,
	expires_at          TIMESTAMPTZ,
	preview_url         TEXT,
	deployed_url        TEXT,
	error_message       TEXT,
	file_count          INTEGER,
	lines_of_code       INTEGER,
	prompt_tokens       INTEGER,
	completion_tokens   INTEGER,
	total_tokens        INTEGER,
	cost                DOUBLE PRECISION,
	llm_latency_ms      BIGINT,
	install_duration_ms BIGINT,
	build_duration_ms   BIGINT,
	deploy_duration_ms  BIGINT,
	total_duration_ms   BIGINT,
	build_log_key       TEXT,
	deploy_log_key      TEXT,
	worker_name         TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs (created_at DESC);
`
