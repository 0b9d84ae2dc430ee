package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"
)

// vacuumThresholdMB is the history database size above which upkeep
// runs VACUUM.
const vacuumThresholdMB = 50

// Task is one unit of scheduled upkeep.
type Task interface {
	// Name returns the task name
	Name() string

	// Description returns a human-readable description of what the task does
	Description() string

	// Execute runs the task
	Execute(ctx context.Context) TaskResult
}

// TaskResult represents the result of executing a task.
type TaskResult struct {
	Success          bool          `json:"success"`
	Duration         time.Duration `json:"duration"`
	Message          string        `json:"message"`
	RecordsProcessed int           `json:"records_processed,omitempty"`
	SpaceReclaimed   int64         `json:"space_reclaimed,omitempty"`
	Error            string        `json:"error,omitempty"`
}

// TaskStatus is the last known state of a registered task.
type TaskStatus struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	LastRun     time.Time  `json:"last_run"`
	LastResult  TaskResult `json:"last_result"`
}

// HistoryCleanupTask prunes search and batch history past the
// retention window.
type HistoryCleanupTask struct {
	db            *sql.DB
	retentionDays int
}

// NewHistoryCleanupTask creates the history pruning task.
// retentionDays <= 0 disables pruning.
func NewHistoryCleanupTask(db *sql.DB, retentionDays int) *HistoryCleanupTask {
	return &HistoryCleanupTask{db: db, retentionDays: retentionDays}
}

// Name returns the task name
func (t *HistoryCleanupTask) Name() string {
	return "history_cleanup"
}

// Description returns the task description
func (t *HistoryCleanupTask) Description() string {
	return fmt.Sprintf("Prune search and batch history older than %d days", t.retentionDays)
}

// Execute deletes history rows whose timestamps fall before the
// retention cutoff.
func (t *HistoryCleanupTask) Execute(ctx context.Context) TaskResult {
	if t.retentionDays <= 0 {
		return TaskResult{
			Success: true,
			Message: "History pruning disabled",
		}
	}

	start := time.Now()

	// Timestamps are stored as RFC3339 text written by this process, so
	// the cutoff compares lexicographically.
	cutoff := time.Now().AddDate(0, 0, -t.retentionDays).Format(time.RFC3339)

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return TaskResult{Success: false, Message: "Failed to start transaction", Error: err.Error()}
	}
	defer tx.Rollback()

	pruned := 0
	statements := []struct{ query, what string }{
		{"DELETE FROM searches WHERE created_at < ?", "searches"},
		{"DELETE FROM batch_runs WHERE started_at < ?", "batch runs"},
	}
	for _, stmt := range statements {
		res, err := tx.ExecContext(ctx, stmt.query, cutoff)
		if err != nil {
			return TaskResult{Success: false, Message: "Failed to prune old " + stmt.what, Error: err.Error()}
		}
		n, err := res.RowsAffected()
		if err != nil {
			log.Printf("[Maintenance] Warning: rows affected unavailable for %s: %v", stmt.what, err)
			n = 0
		}
		pruned += int(n)
	}

	if err := tx.Commit(); err != nil {
		return TaskResult{Success: false, Message: "Failed to commit pruning transaction", Error: err.Error()}
	}

	return TaskResult{
		Success:          true,
		Duration:         time.Since(start),
		RecordsProcessed: pruned,
		Message:          fmt.Sprintf("Pruned %d history records", pruned),
	}
}

// OptimizeTask refreshes SQLite planner statistics, checkpoints the
// WAL, and vacuums the history database once it outgrows the size
// threshold.
type OptimizeTask struct {
	db     *sql.DB
	dbPath string
}

// NewOptimizeTask creates the database upkeep task. dbPath may be
// empty; size checks then fall back to SQLite page accounting.
func NewOptimizeTask(db *sql.DB, dbPath string) *OptimizeTask {
	return &OptimizeTask{db: db, dbPath: dbPath}
}

// Name returns the task name
func (t *OptimizeTask) Name() string {
	return "history_optimize"
}

// Description returns the task description
func (t *OptimizeTask) Description() string {
	return "Refresh query statistics, checkpoint the WAL and vacuum the history database"
}

// Execute runs the optimization pass.
func (t *OptimizeTask) Execute(ctx context.Context) TaskResult {
	start := time.Now()

	if _, err := t.db.ExecContext(ctx, "ANALYZE"); err != nil {
		return TaskResult{Success: false, Message: "ANALYZE failed", Error: err.Error()}
	}
	if _, err := t.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		log.Printf("[Maintenance] Warning: PRAGMA optimize failed: %v", err)
	}
	if _, err := t.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Printf("[Maintenance] Warning: WAL checkpoint failed: %v", err)
	}

	sizeBefore, err := t.databaseSize()
	if err != nil {
		return TaskResult{Success: false, Message: "Failed to get database size", Error: err.Error()}
	}

	result := TaskResult{Success: true}
	if sizeBefore/(1024*1024) > vacuumThresholdMB {
		log.Println("[Maintenance] Starting VACUUM...")
		if _, err := t.db.ExecContext(ctx, "VACUUM"); err != nil {
			return TaskResult{Success: false, Message: "VACUUM failed", Error: err.Error()}
		}
		if sizeAfter, err := t.databaseSize(); err == nil && sizeBefore > sizeAfter {
			result.SpaceReclaimed = sizeBefore - sizeAfter
		}
	}

	result.Duration = time.Since(start)
	result.Message = fmt.Sprintf("Optimization completed, database size %.1f MB",
		float64(sizeBefore)/(1024*1024))
	if result.SpaceReclaimed > 0 {
		result.Message += fmt.Sprintf(", reclaimed %.1f MB",
			float64(result.SpaceReclaimed)/(1024*1024))
	}
	return result
}

// databaseSize returns the on-disk size, falling back to SQLite page
// accounting when no path is known.
func (t *OptimizeTask) databaseSize() (int64, error) {
	if t.dbPath == "" {
		var size int64
		err := t.db.QueryRow("SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()").Scan(&size)
		return size, err
	}

	stat, err := os.Stat(t.dbPath)
	if err != nil {
		return 0, err
	}
	return stat.Size(), nil
}
