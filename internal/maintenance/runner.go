package maintenance

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Runner executes upkeep tasks on a shared cron schedule.
type Runner struct {
	schedule string
	tasks    []Task

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	status map[string]TaskStatus
}

// NewRunner creates a runner. schedule is a standard 5-field cron
// expression; empty disables scheduling (RunAll still works).
func NewRunner(schedule string, tasks ...Task) *Runner {
	ctx, cancel := context.WithCancel(context.Background())

	r := &Runner{
		schedule: schedule,
		tasks:    tasks,
		cron:     cron.New(),
		ctx:      ctx,
		cancel:   cancel,
		status:   make(map[string]TaskStatus),
	}
	for _, task := range tasks {
		r.status[task.Name()] = TaskStatus{
			Name:        task.Name(),
			Description: task.Description(),
		}
	}
	return r
}

// Start begins scheduled execution.
func (r *Runner) Start() error {
	if r.schedule == "" || len(r.tasks) == 0 {
		log.Println("[Maintenance] Upkeep tasks disabled")
		return nil
	}

	if _, err := r.cron.AddFunc(r.schedule, func() { r.RunAll(r.ctx) }); err != nil {
		return fmt.Errorf("maintenance: invalid upkeep schedule %q: %w", r.schedule, err)
	}
	r.cron.Start()

	log.Printf("[Maintenance] %d upkeep tasks scheduled (%s)", len(r.tasks), r.schedule)
	return nil
}

// Stop halts scheduling and waits for a running pass to finish.
func (r *Runner) Stop() {
	r.cancel()
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// RunAll executes every task once, sequentially.
func (r *Runner) RunAll(ctx context.Context) {
	for _, task := range r.tasks {
		r.execute(ctx, task)
	}
}

func (r *Runner) execute(ctx context.Context, task Task) {
	name := task.Name()
	log.Printf("[Maintenance] Starting task: %s", name)

	start := time.Now()
	result := task.Execute(ctx)
	if result.Duration == 0 {
		result.Duration = time.Since(start)
	}

	r.mu.Lock()
	st := r.status[name]
	st.LastRun = start
	st.LastResult = result
	r.status[name] = st
	r.mu.Unlock()

	if result.Success {
		log.Printf("[Maintenance] Task %s completed in %v: %s", name, result.Duration, result.Message)
	} else {
		log.Printf("[Maintenance] Task %s failed after %v: %s (%s)", name, result.Duration, result.Message, result.Error)
	}
}

// TaskStatuses returns the last known state of every task, in
// registration order.
func (r *Runner) TaskStatuses() []TaskStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]TaskStatus, 0, len(r.tasks))
	for _, task := range r.tasks {
		out = append(out, r.status[task.Name()])
	}
	return out
}
