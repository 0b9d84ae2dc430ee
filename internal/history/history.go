// Package history persists search and batch activity in a local SQLite
// database, so repeated procurement lookups can be audited later.
package history

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store records searches and batch runs.
type Store struct {
	db   *sql.DB
	path string
}

// SearchEntry is one recorded search.
type SearchEntry struct {
	ID         int64     `json:"id"`
	Query      string    `json:"query"`
	TopK       int       `json:"top_k"`
	Results    int       `json:"results"`
	BestScore  float64   `json:"best_score"`
	BestItem   string    `json:"best_item"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// BatchEntry is one recorded batch run.
type BatchEntry struct {
	ID         string    `json:"id"`
	Items      int       `json:"items"`
	Results    int       `json:"results"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	UsedAI     bool      `json:"used_ai"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// QueryCount is an aggregated view of repeated queries.
type QueryCount struct {
	Query    string    `json:"query"`
	Count    int       `json:"count"`
	LastUsed time.Time `json:"last_used"`
}

// Open opens (or creates) the history database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.configure(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[History] Database ready at %s", path)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// DB exposes the underlying database for maintenance tasks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) configure() error {
	s.db.SetMaxOpenConns(4)
	s.db.SetMaxIdleConns(2)
	s.db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("history: apply pragma %q: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS searches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query TEXT NOT NULL,
		top_k INTEGER NOT NULL,
		results INTEGER NOT NULL,
		best_score REAL,
		best_item TEXT,
		duration_ms INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_searches_created ON searches(created_at DESC);

	CREATE TABLE IF NOT EXISTS batch_runs (
		id TEXT PRIMARY KEY,
		items INTEGER NOT NULL,
		results INTEGER NOT NULL,
		succeeded INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		used_ai INTEGER NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_batch_runs_started ON batch_runs(started_at DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("history: create tables: %w", err)
	}
	return nil
}

// RecordSearch stores one search. A zero CreatedAt becomes now.
func (s *Store) RecordSearch(e SearchEntry) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	res, err := s.db.Exec(`
		INSERT INTO searches (query, top_k, results, best_score, best_item, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Query, e.TopK, e.Results, e.BestScore, e.BestItem, e.DurationMS,
		e.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("history: record search: %w", err)
	}
	return res.LastInsertId()
}

// RecordBatch stores one batch run summary.
func (s *Store) RecordBatch(e BatchEntry) error {
	usedAI := 0
	if e.UsedAI {
		usedAI = 1
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO batch_runs (id, items, results, succeeded, failed, used_ai, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Items, e.Results, e.Succeeded, e.Failed, usedAI,
		e.StartedAt.Format(time.RFC3339), e.FinishedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("history: record batch run: %w", err)
	}
	return nil
}

// RecentSearches returns the newest searches, most recent first.
func (s *Store) RecentSearches(limit int) ([]SearchEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT id, query, top_k, results, best_score, best_item, duration_ms, created_at
		FROM searches ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query searches: %w", err)
	}
	defer rows.Close()

	var entries []SearchEntry
	for rows.Next() {
		var e SearchEntry
		var createdAt string
		var bestScore sql.NullFloat64
		var bestItem sql.NullString
		if err := rows.Scan(&e.ID, &e.Query, &e.TopK, &e.Results, &bestScore, &bestItem, &e.DurationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("history: scan search row: %w", err)
		}
		e.BestScore = bestScore.Float64
		e.BestItem = bestItem.String
		if e.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecentBatches returns the newest batch runs, most recent first.
func (s *Store) RecentBatches(limit int) ([]BatchEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT id, items, results, succeeded, failed, used_ai, started_at, finished_at
		FROM batch_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query batch runs: %w", err)
	}
	defer rows.Close()

	var entries []BatchEntry
	for rows.Next() {
		var e BatchEntry
		var usedAI int
		var startedAt, finishedAt string
		if err := rows.Scan(&e.ID, &e.Items, &e.Results, &e.Succeeded, &e.Failed, &usedAI, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("history: scan batch row: %w", err)
		}
		e.UsedAI = usedAI != 0
		if e.StartedAt, err = parseTimestamp(startedAt); err != nil {
			return nil, err
		}
		if e.FinishedAt, err = parseTimestamp(finishedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// TopQueries returns the most repeated search queries.
func (s *Store) TopQueries(limit int) ([]QueryCount, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.Query(`
		SELECT query, COUNT(*) AS n, MAX(created_at) AS last_used
		FROM searches GROUP BY query ORDER BY n DESC, last_used DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query top queries: %w", err)
	}
	defer rows.Close()

	var out []QueryCount
	for rows.Next() {
		var q QueryCount
		var lastUsed string
		if err := rows.Scan(&q.Query, &q.Count, &lastUsed); err != nil {
			return nil, fmt.Errorf("history: scan top query row: %w", err)
		}
		if q.LastUsed, err = parseTimestamp(lastUsed); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// parseTimestamp accepts RFC3339 or the plain SQLite datetime format.
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("history: unable to parse timestamp %q", s)
}
