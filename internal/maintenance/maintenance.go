// Package maintenance keeps the index aligned with the corpus file. A
// cron-scheduled check compares the CSV's size and mtime against the
// values seen at the last build and forces a rebuild when they moved.
// Searches keep serving the old artifacts until the swap.
package maintenance

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"catsearch/internal/engine"
)

// Refresher schedules corpus-change checks and triggers rebuilds.
type Refresher struct {
	engine   *engine.Engine
	csvPath  string
	schedule string

	cron    *cron.Cron
	entryID cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc

	mu        sync.Mutex
	lastSize  int64
	lastMTime time.Time
	lastCheck time.Time
	lastError string
	checks    int
	rebuilds  int
}

// New creates a refresher. schedule is a standard 5-field cron
// expression; empty disables scheduling (CheckNow still works).
func New(eng *engine.Engine, csvPath, schedule string) *Refresher {
	ctx, cancel := context.WithCancel(context.Background())

	return &Refresher{
		engine:   eng,
		csvPath:  csvPath,
		schedule: schedule,
		cron:     cron.New(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start snapshots the corpus file and begins scheduled checks.
func (r *Refresher) Start() error {
	if r.schedule == "" {
		log.Println("[Maintenance] Scheduled refresh disabled")
		return nil
	}

	// Snapshot the corpus as it is at startup so the first tick only
	// rebuilds on a real change.
	r.snapshot()

	entryID, err := r.cron.AddFunc(r.schedule, r.runCheck)
	if err != nil {
		return fmt.Errorf("maintenance: invalid schedule %q: %w", r.schedule, err)
	}
	r.entryID = entryID
	r.cron.Start()

	log.Printf("[Maintenance] Corpus refresh scheduled (%s) - next run: %v",
		r.schedule, r.cron.Entry(entryID).Next)
	return nil
}

// Stop cancels any in-flight rebuild and waits for the cron runner.
func (r *Refresher) Stop() {
	r.cancel()
	ctx := r.cron.Stop()
	<-ctx.Done()
	log.Println("[Maintenance] Stopped")
}

func (r *Refresher) snapshot() {
	info, err := os.Stat(r.csvPath)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.lastSize = info.Size()
	r.lastMTime = info.ModTime()
	r.mu.Unlock()
}

func (r *Refresher) runCheck() {
	_, err := r.CheckNow(r.ctx)

	r.mu.Lock()
	r.checks++
	if err != nil {
		r.lastError = err.Error()
	} else {
		r.lastError = ""
	}
	r.mu.Unlock()

	if err != nil {
		log.Printf("[Maintenance] Refresh check failed: %v", err)
	}
}

// CheckNow compares the corpus file against the last snapshot and
// rebuilds when it changed. The snapshot only advances after a
// successful rebuild, so a failed one is retried on the next tick.
func (r *Refresher) CheckNow(ctx context.Context) (bool, error) {
	info, err := os.Stat(r.csvPath)
	if err != nil {
		return false, fmt.Errorf("maintenance: stat corpus: %w", err)
	}

	r.mu.Lock()
	changed := info.Size() != r.lastSize || !info.ModTime().Equal(r.lastMTime)
	r.lastCheck = time.Now()
	r.mu.Unlock()

	if !changed {
		return false, nil
	}

	log.Printf("[Maintenance] Corpus changed (%d bytes, mtime %s), rebuilding index",
		info.Size(), info.ModTime().Format(time.RFC3339))

	if err := r.engine.Rebuild(ctx); err != nil {
		return false, fmt.Errorf("maintenance: rebuild: %w", err)
	}

	r.mu.Lock()
	r.lastSize = info.Size()
	r.lastMTime = info.ModTime()
	r.rebuilds++
	r.mu.Unlock()

	log.Printf("[Maintenance] Refresh completed: %d items indexed", r.engine.Len())
	return true, nil
}

// Status returns refresher counters for diagnostics.
func (r *Refresher) Status() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	return map[string]interface{}{
		"schedule":   r.schedule,
		"checks":     r.checks,
		"rebuilds":   r.rebuilds,
		"last_check": r.lastCheck,
		"last_error": r.lastError,
	}
}
