// Package recorder persists per-cycle scan results to SQLite for later
// review and backtesting.
package recorder

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"stock-scanner/internal/model"
)

// Config configures the recorder.
type Config struct {
	DBPath string // e.g. "data/scans.db"
}

// Recorder is a single-writer SQLite store with per-cycle batched inserts.
type Recorder struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (r *Recorder) DB() *sql.DB { return r.db }

// New opens the database in WAL mode and creates the schema.
func New(cfg Config) (*Recorder, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[recorder] opened database at %s", cfg.DBPath)
	return &Recorder{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS scan_history (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol     TEXT    NOT NULL,
			scan_time  INTEGER NOT NULL,
			score      REAL    NOT NULL,
			sentiment  TEXT    NOT NULL,
			snapshot   TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_scan_history_symbol_time
			ON scan_history (symbol, scan_time);
	`)
	return err
}

// RecordCycle inserts one cycle's snapshots in a single transaction.
func (r *Recorder) RecordCycle(snapshots []*model.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO scan_history (symbol, scan_time, score, sentiment, snapshot)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	start := time.Now()
	cycleTS := start.Unix()
	for _, snap := range snapshots {
		payload, err := json.Marshal(snap)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("marshal snapshot %s: %w", snap.Symbol, err)
		}
		if _, err := stmt.Exec(snap.Symbol, cycleTS, snap.StrengthScore, snap.Sentiment, string(payload)); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert %s: %w", snap.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	log.Printf("[recorder] committed %d snapshots in %v", len(snapshots), time.Since(start))
	return nil
}

// History returns the most recent rows for a symbol, newest first.
func (r *Recorder) History(symbol string, limit int) ([]*model.Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(`
		SELECT snapshot FROM scan_history
		WHERE symbol = ?
		ORDER BY scan_time DESC
		LIMIT ?
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []*model.Snapshot
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var snap model.Snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot row: %w", err)
		}
		out = append(out, &snap)
	}
	return out, rows.Err()
}

// Close closes the database.
func (r *Recorder) Close() error { return r.db.Close() }
