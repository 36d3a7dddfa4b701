// journal/schema.go
package journal

const Schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	created DATETIME NOT NULL,
	kind TEXT NOT NULL,
	idx TEXT NOT NULL,
	dataset TEXT NOT NULL,
	start_date DATETIME,
	end_date DATETIME,
	observations INTEGER NOT NULL,
	config BLOB,
	params BLOB,
	log_likelihood REAL,
	status TEXT NOT NULL,
	error TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS panel (
	run_id TEXT NOT NULL REFERENCES runs(run_id),
	date DATETIME NOT NULL,
	idx TEXT NOT NULL,
	ret REAL NOT NULL,
	cond_vol REAL NOT NULL,
	win INTEGER,
	forecast_error REAL,
	variance_error REAL,
	std_resid REAL,
	cusum REAL,
	cusum_lower REAL,
	cusum_upper REAL,
	cusumsq REAL,
	cusumsq_lower REAL,
	cusumsq_upper REAL,
	PRIMARY KEY (run_id, date)
);

CREATE TABLE IF NOT EXISTS panel_risk (
	run_id TEXT NOT NULL REFERENCES runs(run_id),
	date DATETIME NOT NULL,
	level REAL NOT NULL,
	var REAL NOT NULL,
	es REAL NOT NULL,
	exception INTEGER NOT NULL,
	PRIMARY KEY (run_id, date, level)
);

CREATE TABLE IF NOT EXISTS backtests (
	run_id TEXT NOT NULL REFERENCES runs(run_id),
	scope TEXT NOT NULL,
	level REAL NOT NULL,
	test TEXT NOT NULL,
	statistic REAL,
	df INTEGER NOT NULL,
	p_value REAL,
	significance REAL NOT NULL,
	reject INTEGER NOT NULL,
	undefined TEXT NOT NULL,
	observations INTEGER NOT NULL,
	exceptions INTEGER NOT NULL,
	PRIMARY KEY (run_id, scope, level, test)
);

CREATE TABLE IF NOT EXISTS windows (
	run_id TEXT NOT NULL REFERENCES runs(run_id),
	win INTEGER NOT NULL,
	train_start INTEGER NOT NULL,
	train_end INTEGER NOT NULL,
	test_start INTEGER NOT NULL,
	test_end INTEGER NOT NULL,
	train_from DATETIME NOT NULL,
	train_to DATETIME NOT NULL,
	params BLOB,
	log_likelihood REAL,
	iterations INTEGER NOT NULL,
	error_kind TEXT NOT NULL,
	error TEXT NOT NULL,
	elapsed_ms INTEGER NOT NULL,
	PRIMARY KEY (run_id, win)
);

CREATE INDEX IF NOT EXISTS idx_runs_idx_created ON runs(idx, created);
`
