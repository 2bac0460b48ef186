package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/timmy/loadgate/internal/logger"
)

// TaskFunc is the body of a scheduled task.
type TaskFunc func(ctx context.Context) error

// ScheduledTask is a periodic job.
type ScheduledTask struct {
	Name     string
	Schedule string
	Run      TaskFunc

	runs    atomic.Int64
	errors  atomic.Int64
	lastRun atomic.Int64
	entryID cron.EntryID
}

// TaskStatus is a point-in-time view of a task.
type TaskStatus struct {
	Name       string    `json:"name"`
	Schedule   string    `json:"schedule"`
	RunCount   int64     `json:"run_count"`
	ErrorCount int64     `json:"error_count"`
	LastRun    time.Time `json:"last_run,omitempty"`
	NextRun    time.Time `json:"next_run,omitempty"`
}

// Scheduler runs maintenance tasks (stale sweeps, tracker cleanup) on cron
// schedules. Runs of the same task never overlap.
type Scheduler struct {
	cron  *cron.Cron
	ctx   context.Context
	stop  context.CancelFunc
	mu    sync.RWMutex
	tasks map[string]*ScheduledTask
}

// NewScheduler creates a stopped scheduler. Schedules use the standard five
// field syntax or descriptors such as "@every 5m", evaluated in UTC.
func NewScheduler() *Scheduler {
	ctx, stop := context.WithCancel(context.Background())
	return &Scheduler{
		cron:  cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		ctx:   logger.SetComponent(ctx, "scheduler"),
		stop:  stop,
		tasks: make(map[string]*ScheduledTask),
	}
}

// AddTask registers a task.
func (s *Scheduler) AddTask(name, schedule string, run TaskFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("task %s already exists", name)
	}
	task := &ScheduledTask{Name: name, Schedule: schedule, Run: run}
	id, err := s.cron.AddFunc(schedule, func() { s.execute(task) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for task %s: %w", schedule, name, err)
	}
	task.entryID = id
	s.tasks[name] = task
	return nil
}

// RunNow executes a task immediately in the calling goroutine.
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	task, ok := s.tasks[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("task %s not found", name)
	}
	return s.execute(task)
}

func (s *Scheduler) execute(task *ScheduledTask) error {
	ctx := logger.WithField(s.ctx, "task", task.Name)
	start := time.Now()
	task.runs.Add(1)
	task.lastRun.Store(start.UnixNano())

	err := task.Run(ctx)
	entry := logger.With(logger.Fields{logger.FieldDurationMs: time.Since(start).Milliseconds()})
	if err != nil {
		task.errors.Add(1)
		entry.WithStatus("error").Error(ctx, "Scheduled task failed: %v", err)
		return err
	}
	entry.WithStatus("ok").Debug(ctx, "Scheduled task finished")
	return nil
}

// Start begins running tasks on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	logger.FromContext(s.ctx).WithField(logger.FieldCount, len(s.tasks)).Info("Scheduler started")
}

// Stop halts scheduling and waits for running tasks until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.stop()
	select {
	case <-done.Done():
		logger.FromContext(s.ctx).Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tasks returns the status of every task.
func (s *Scheduler) Tasks() []TaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TaskStatus, 0, len(s.tasks))
	for _, t := range s.tasks {
		st := TaskStatus{
			Name:       t.Name,
			Schedule:   t.Schedule,
			RunCount:   t.runs.Load(),
			ErrorCount: t.errors.Load(),
			NextRun:    s.cron.Entry(t.entryID).Next,
		}
		if ns := t.lastRun.Load(); ns > 0 {
			st.LastRun = time.Unix(0, ns)
		}
		out = append(out, st)
	}
	return out
}
