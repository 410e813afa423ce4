// Package history persists one row per conversion attempt to a SQLite
// database, grounded in link270-shrinkray/internal/store/sqlite.go's
// WAL-mode connection string and schema_version bookkeeping, with the
// table shape and start/finish/skip/recent/stats/clean_old contract taken
// from original_source/history.py's HistoryDB. Unlike history.py this
// package has no JSONL fallback — modernc.org/sqlite is a pure-Go driver
// the teacher already depends on, so there is no "SQLite unavailable" case
// to fall back from.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS conversions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	input_path TEXT NOT NULL,
	output_path TEXT,
	input_size INTEGER NOT NULL DEFAULT 0,
	output_size INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	status TEXT NOT NULL,
	backend TEXT,
	error_msg TEXT,
	encode_time_s REAL NOT NULL DEFAULT 0,
	integrity_time_s REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_conversions_started ON conversions(started_at);
CREATE INDEX IF NOT EXISTS idx_conversions_status ON conversions(status);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL,
	applied_at TEXT DEFAULT CURRENT_TIMESTAMP
);
`

// Status is a conversion's terminal (or in-flight) state.
type Status string

const (
	StatusRunning     Status = "running"
	StatusDone        Status = "done"
	StatusFailed      Status = "failed"
	StatusSkipped     Status = "skipped"
	StatusInterrupted Status = "interrupted"
)

// Entry is one row of conversion history.
type Entry struct {
	ID              int64
	InputPath       string
	OutputPath      string
	InputSize       int64
	OutputSize      int64
	DurationMs      int64
	StartedAt       time.Time
	FinishedAt      time.Time
	Status          Status
	Backend         string
	ErrorMsg        string
	EncodeTimeS     float64
	IntegrityTimeS  float64
}

// Stats summarizes the conversions table.
type Stats struct {
	ByStatus         map[Status]int
	AvgEncodeTimeS   float64
	TotalEncodeTimeS float64
	TotalInputSize   int64
	TotalOutputSize  int64
}

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
}

// Open creates (if needed) and opens the history database at dbPath, in
// WAL mode with a busy timeout, matching the teacher's connection string.
// Any row left "running" from a prior process (a crash or kill -9 mid-job)
// is marked interrupted, so a restart never reports a ghost in-flight job.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	var version int
	err = conn.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := conn.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			conn.Close()
			return nil, fmt.Errorf("insert schema version: %w", err)
		}
	} else if err != nil {
		conn.Close()
		return nil, fmt.Errorf("check schema version: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.recoverInterrupted(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) recoverInterrupted() error {
	_, err := db.conn.Exec(
		`UPDATE conversions SET status=?, finished_at=? WHERE status=?`,
		StatusInterrupted, nowISO(), StatusRunning,
	)
	return err
}

// Close releases the underlying connection.
func (db *DB) Close() error { return db.conn.Close() }

func nowISO() string { return time.Now().Format(time.RFC3339) }

// RecordStart inserts a running row and returns its ID.
func (db *DB) RecordStart(inputPath, backend string, inputSize int64) (int64, error) {
	res, err := db.conn.Exec(
		`INSERT INTO conversions (input_path, input_size, started_at, status, backend) VALUES (?, ?, ?, ?, ?)`,
		inputPath, inputSize, nowISO(), StatusRunning, backend,
	)
	if err != nil {
		return 0, fmt.Errorf("record start: %w", err)
	}
	return res.LastInsertId()
}

// FinishOptions carries the fields RecordFinish writes on completion.
type FinishOptions struct {
	OutputPath     string
	Status         Status
	EncodeTimeS    float64
	IntegrityTimeS float64
	OutputSize     int64
	DurationMs     int64
	ErrorMsg       string
}

// RecordFinish updates the row created by RecordStart with its outcome.
func (db *DB) RecordFinish(id int64, opt FinishOptions) error {
	_, err := db.conn.Exec(
		`UPDATE conversions SET
			output_path=?, output_size=?, duration_ms=?, finished_at=?,
			status=?, error_msg=?, encode_time_s=?, integrity_time_s=?
		WHERE id=?`,
		opt.OutputPath, opt.OutputSize, opt.DurationMs, nowISO(),
		opt.Status, opt.ErrorMsg, opt.EncodeTimeS, opt.IntegrityTimeS, id,
	)
	if err != nil {
		return fmt.Errorf("record finish: %w", err)
	}
	return nil
}

// RecordSkip inserts a fully-terminal skipped row in one call (no matching
// RecordStart is needed for skips, matching history.py's record_skip).
func (db *DB) RecordSkip(inputPath, reason, backend string) error {
	now := nowISO()
	_, err := db.conn.Exec(
		`INSERT INTO conversions (input_path, started_at, finished_at, status, backend, error_msg)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		inputPath, now, now, StatusSkipped, backend, reason,
	)
	if err != nil {
		return fmt.Errorf("record skip: %w", err)
	}
	return nil
}

// GetRecent returns the most recent conversions, newest first.
func (db *DB) GetRecent(limit int) ([]Entry, error) {
	rows, err := db.conn.Query(
		`SELECT id, input_path, COALESCE(output_path,''), input_size, output_size,
			duration_ms, started_at, COALESCE(finished_at,''), status, COALESCE(backend,''),
			COALESCE(error_msg,''), encode_time_s, integrity_time_s
		 FROM conversions ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var started, finished string
		if err := rows.Scan(&e.ID, &e.InputPath, &e.OutputPath, &e.InputSize, &e.OutputSize,
			&e.DurationMs, &started, &finished, &e.Status, &e.Backend,
			&e.ErrorMsg, &e.EncodeTimeS, &e.IntegrityTimeS); err != nil {
			return nil, fmt.Errorf("scan recent row: %w", err)
		}
		e.StartedAt, _ = time.Parse(time.RFC3339, started)
		if finished != "" {
			e.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetStats summarizes counts by status and aggregate size/time figures for
// completed conversions.
func (db *DB) GetStats() (Stats, error) {
	stats := Stats{ByStatus: make(map[Status]int)}

	rows, err := db.conn.Query(`SELECT status, COUNT(*) FROM conversions GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("query status counts: %w", err)
	}
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return stats, fmt.Errorf("scan status count: %w", err)
		}
		stats.ByStatus[status] = count
	}
	rows.Close()

	row := db.conn.QueryRow(
		`SELECT COALESCE(AVG(encode_time_s),0), COALESCE(SUM(encode_time_s),0)
		 FROM conversions WHERE status=? AND encode_time_s > 0`, StatusDone)
	if err := row.Scan(&stats.AvgEncodeTimeS, &stats.TotalEncodeTimeS); err != nil {
		return stats, fmt.Errorf("scan encode time stats: %w", err)
	}

	row = db.conn.QueryRow(
		`SELECT COALESCE(SUM(input_size),0), COALESCE(SUM(output_size),0)
		 FROM conversions WHERE status=?`, StatusDone)
	if err := row.Scan(&stats.TotalInputSize, &stats.TotalOutputSize); err != nil {
		return stats, fmt.Errorf("scan size stats: %w", err)
	}

	return stats, nil
}

// CleanOld removes entries whose started_at predates now-days and returns
// how many rows were deleted.
func (db *DB) CleanOld(days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days).Format(time.RFC3339)
	res, err := db.conn.Exec(`DELETE FROM conversions WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("clean old entries: %w", err)
	}
	return res.RowsAffected()
}
