package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// TaskFn is the function signature for scheduled tasks. ctx is cancelled
// when the scheduler stops.
type TaskFn func(ctx context.Context) error

const (
	KindTicker = "ticker"
	KindDelay  = "delay"
)

// TaskStatus is a snapshot of one registered task.
type TaskStatus struct {
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Interval  string    `json:"interval"`
	Runs      int64     `json:"runs"`
	Failures  int64     `json:"failures"`
	Running   bool      `json:"running"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Scheduler manages periodic and delayed tasks. A task never overlaps with
// itself: a tick that arrives while the previous run is active is skipped.
type Scheduler struct {
	mu      sync.Mutex
	tickers map[string]*tickerEntry
	timers  map[string]*time.Timer
	tasks   map[string]*task
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

type tickerEntry struct {
	ticker *time.Ticker
	stopCh chan struct{}
}

type task struct {
	name     string
	kind     string
	interval time.Duration
	running  atomic.Bool

	mu       sync.Mutex
	runs     int64
	failures int64
	lastRun  time.Time
	lastErr  string
}

// New creates a new Scheduler.
func New(logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		tickers: make(map[string]*tickerEntry),
		timers:  make(map[string]*time.Timer),
		tasks:   make(map[string]*task),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddTicker registers a task to run on a fixed interval.
// If a task with the same name exists, it is replaced.
func (s *Scheduler) AddTicker(name string, interval time.Duration, fn TaskFn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.tickers[name]; ok {
		close(old.stopCh)
		delete(s.tickers, name)
	}

	entry := &tickerEntry{
		ticker: time.NewTicker(interval),
		stopCh: make(chan struct{}),
	}
	s.tickers[name] = entry
	t := &task{name: name, kind: KindTicker, interval: interval}
	s.tasks[name] = t

	go func() {
		defer entry.ticker.Stop()
		for {
			select {
			case <-entry.ticker.C:
				s.run(t, fn)
			case <-entry.stopCh:
				return
			case <-s.ctx.Done():
				return
			}
		}
	}()
	s.logger.Info("scheduler task registered", zap.String("name", name), zap.Duration("interval", interval))
}

// AddDelay runs fn once after the given delay.
func (s *Scheduler) AddDelay(name string, delay time.Duration, fn TaskFn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[name]; ok {
		old.Stop()
	}
	t := &task{name: name, kind: KindDelay, interval: delay}
	s.tasks[name] = t
	s.timers[name] = time.AfterFunc(delay, func() {
		defer func() {
			s.mu.Lock()
			if s.tasks[name] == t {
				delete(s.timers, name)
			}
			s.mu.Unlock()
		}()
		if s.ctx.Err() != nil {
			return
		}
		s.run(t, fn)
	})
}

// RunNow executes the named task immediately in the caller's goroutine.
// It fails if the task is unknown or already running.
func (s *Scheduler) RunNow(name string, fn TaskFn) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown task %q", name)
	}
	if !s.run(t, fn) {
		return fmt.Errorf("scheduler: task %q is already running", name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastErr != "" {
		return fmt.Errorf("scheduler: task %q: %s", name, t.lastErr)
	}
	return nil
}

// run executes fn for t unless it is already running. It reports whether fn ran.
func (s *Scheduler) run(t *task, fn TaskFn) bool {
	if !t.running.CompareAndSwap(false, true) {
		s.logger.Warn("scheduler task still running, skipping", zap.String("task", t.name))
		return false
	}
	defer t.running.Store(false)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("scheduler task panicked",
					zap.String("task", t.name),
					zap.Any("recover", r))
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn(s.ctx)
	}()

	t.mu.Lock()
	t.runs++
	t.lastRun = time.Now()
	t.lastErr = ""
	if err != nil {
		t.failures++
		t.lastErr = err.Error()
	}
	t.mu.Unlock()

	if err != nil {
		s.logger.Error("scheduler task failed", zap.String("task", t.name), zap.Error(err))
	}
	return true
}

// Remove stops and removes a ticker or delay task by name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.tickers[name]; ok {
		close(entry.stopCh)
		delete(s.tickers, name)
	}
	if t, ok := s.timers[name]; ok {
		t.Stop()
		delete(s.timers, name)
	}
	delete(s.tasks, name)
}

// Stop stops all tasks and cancels the context of running ones.
func (s *Scheduler) Stop() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, t := range s.timers {
		t.Stop()
		delete(s.timers, name)
	}
}

// ListTickers returns the names of all registered ticker tasks.
func (s *Scheduler) ListTickers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tickers))
	for name := range s.tickers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status returns a snapshot of every known task, sorted by name. Delay tasks
// stay listed after they fire so their outcome remains visible.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	out := make([]TaskStatus, 0, len(tasks))
	for _, t := range tasks {
		t.mu.Lock()
		out = append(out, TaskStatus{
			Name:      t.name,
			Kind:      t.kind,
			Interval:  t.interval.String(),
			Runs:      t.runs,
			Failures:  t.failures,
			Running:   t.running.Load(),
			LastRun:   t.lastRun,
			LastError: t.lastErr,
		})
		t.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
