package metrics

import "database/sql"

const schemaVersion = 1

const createSnapshotsSQL = `
CREATE TABLE IF NOT EXISTS snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	gpu_util REAL NOT NULL,
	vram_used REAL NOT NULL,
	vram_total REAL NOT NULL,
	cpu_util REAL NOT NULL,
	ram_used REAL NOT NULL,
	fps REAL NOT NULL,
	latency_ms REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON snapshots(timestamp);
`

const createDecisionsSQL = `
CREATE TABLE IF NOT EXISTS decisions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	previous_state TEXT NOT NULL,
	new_state TEXT NOT NULL,
	action TEXT NOT NULL,
	reason TEXT NOT NULL,
	gpu_util REAL NOT NULL,
	fps REAL NOT NULL,
	vram_used REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_timestamp ON decisions(timestamp);
`

const insertSnapshotSQL = `
INSERT INTO snapshots (timestamp, gpu_util, vram_used, vram_total, cpu_util, ram_used, fps, latency_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

const insertDecisionSQL = `
INSERT INTO decisions (timestamp, previous_state, new_state, action, reason, gpu_util, fps, vram_used)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(createSnapshotsSQL); err != nil {
		return err
	}
	if _, err := db.Exec(createDecisionsSQL); err != nil {
		return err
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version == 0 {
		_, err := db.Exec("PRAGMA user_version = 1")
		return err
	}

	return nil
}
