package sqlite

const schemaSQL = `
-- Audit result cache keyed by SHA-256 of the normalized URL
CREATE TABLE IF NOT EXISTS cache (
	url_hash TEXT PRIMARY KEY,
	normalized_url TEXT,
	result_json TEXT,
	created_at REAL,
	ttl_seconds INTEGER
);

CREATE INDEX IF NOT EXISTS idx_url_hash ON cache(url_hash);

-- Overflow queue for audits submitted while all slots are busy
CREATE TABLE IF NOT EXISTS audit_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT UNIQUE NOT NULL,
	url TEXT NOT NULL,
	options TEXT,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	status TEXT DEFAULT 'pending'
);

CREATE INDEX IF NOT EXISTS idx_queue_status ON audit_queue(status);
CREATE INDEX IF NOT EXISTS idx_queue_created ON audit_queue(created_at);
`
