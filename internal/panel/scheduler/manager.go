// Package scheduler runs the recurring background tasks on their own
// intervals and provides unified lifecycle management for them.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	applogger "github.com/vpanel/core/pkg/logger"
)

// TaskFunc is one reconciliation tick. Errors are logged and the task keeps
// its schedule; a failed tick never stops the loop.
type TaskFunc func(ctx context.Context) error

// Task is a named recurring job
type Task struct {
	Name       string
	Interval   time.Duration
	RunAtStart bool
	Run        TaskFunc
}

// Manager coordinates the recurring tasks. Each task runs in its own
// goroutine; a slow or stuck task never delays the others.
type Manager struct {
	logger *applogger.Logger

	mu      sync.RWMutex
	tasks   []Task
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewManager creates a task manager
func NewManager(logger *applogger.Logger) *Manager {
	return &Manager{
		logger: logger.WithComponent("scheduler"),
	}
}

// Register adds a task. Must be called before Start.
func (m *Manager) Register(task Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("cannot register task %q while running", task.Name)
	}
	if task.Name == "" || task.Run == nil || task.Interval <= 0 {
		return fmt.Errorf("invalid task registration: %+v", task.Name)
	}
	m.tasks = append(m.tasks, task)
	return nil
}

// Start launches every registered task loop
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		m.logger.Warn("scheduler manager is already running")
		return nil
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	for _, task := range m.tasks {
		m.wg.Add(1)
		go func(task Task) {
			defer m.wg.Done()
			m.loop(m.ctx, task)
		}(task)
	}

	m.running = true
	m.logger.Info("scheduler manager started", slog.Int("tasks", len(m.tasks)))
	return nil
}

// Stop cancels all task loops and waits for them to drain, bounded by ctx
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("scheduler manager stopped")
	case <-ctx.Done():
		m.logger.Warn("scheduler manager stop timed out")
		return ctx.Err()
	}

	m.running = false
	return nil
}

// IsRunning reports whether the manager has been started
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// RunNow executes a registered task once, synchronously. Used at startup
// for tasks that must not wait for their first interval, and by tests.
func (m *Manager) RunNow(ctx context.Context, name string) error {
	m.mu.RLock()
	var task *Task
	for i := range m.tasks {
		if m.tasks[i].Name == name {
			task = &m.tasks[i]
			break
		}
	}
	m.mu.RUnlock()

	if task == nil {
		return fmt.Errorf("unknown task %q", name)
	}
	return m.runOnce(ctx, *task)
}

func (m *Manager) loop(ctx context.Context, task Task) {
	logger := m.logger.With(slog.String("task", task.Name))
	logger.Debug("task loop started", slog.Duration("interval", task.Interval))

	if task.RunAtStart {
		if err := m.runOnce(ctx, task); err != nil {
			logger.Warn("startup run failed", slog.String("error", err.Error()))
		}
	}

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("task loop stopped")
			return
		case <-ticker.C:
			if err := m.runOnce(ctx, task); err != nil {
				logger.Warn("tick failed", slog.String("error", err.Error()))
			}
		}
	}
}

// runOnce executes one tick with panic isolation. A panicking task loses
// that tick only; the loop and the other tasks keep running.
func (m *Manager) runOnce(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %q panicked: %v", task.Name, r)
			m.logger.Error("task panic recovered",
				slog.String("task", task.Name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	start := time.Now()
	err = task.Run(ctx)
	if err != nil {
		return err
	}

	m.logger.Debug("task tick finished",
		slog.String("task", task.Name),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return nil
}
