// Package kernel implements the cooperative task runtime that drives
// the driver state machines. Tasks are plain tick functions scheduled
// run-to-completion on a single engine goroutine; a tick returns a
// Status selecting immediate re-invocation, a timed delay, or an
// indefinite suspend that only an explicit Resume call ends. All task
// state may therefore be mutated without locks, provided it is only
// touched from within ticks.
package kernel

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// A TickFunc implements one processing step of a task.
type TickFunc func() Status

// A Task is a cooperatively scheduled state machine owned by an
// Engine.
type Task struct {
	name    string
	tick    TickFunc
	engine  *Engine
	pending bool
	due     time.Time
}

// Name returns the task name used for logging.
func (t *Task) Name() string {
	return t.name
}

// Start schedules the task for immediate execution. It must be called
// once, after which the task is re-armed by its own tick statuses and
// by Resume calls.
func (t *Task) Start() {
	t.engine.wake(t, time.Time{})
}

// Resume makes a suspended task runnable again. It is safe to call
// from any goroutine, including interrupt handlers, and is a no-op for
// a task that is already scheduled to run.
func (t *Task) Resume() {
	t.engine.wake(t, time.Time{})
}

// An Engine runs a set of cooperative tasks on one goroutine.
type Engine struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []*Task
	stopped bool
	log     *zap.SugaredLogger
}

// NewEngine creates an engine. A nil logger disables engine logging.
func NewEngine(log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	e := &Engine{log: log}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// NewTask registers a new task with the engine. The task is created
// suspended; call Start to schedule it.
func (e *Engine) NewTask(name string, tick TickFunc) *Task {
	t := &Task{name: name, tick: tick, engine: e}
	e.mu.Lock()
	e.tasks = append(e.tasks, t)
	e.mu.Unlock()
	return t
}

// wake marks a task runnable no later than the given deadline. A zero
// deadline means run as soon as possible.
func (e *Engine) wake(t *Task, due time.Time) {
	e.mu.Lock()
	if !t.pending || due.Before(t.due) {
		t.pending = true
		t.due = due
		e.cond.Broadcast()
	}
	e.mu.Unlock()
}

// next returns the runnable task with the earliest deadline, blocking
// until one is due or the engine stops. It returns nil on shutdown.
func (e *Engine) next() *Task {
	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		if e.stopped {
			return nil
		}

		var best *Task
		for _, t := range e.tasks {
			if !t.pending {
				continue
			}
			if best == nil || t.due.Before(best.due) {
				best = t
			}
		}

		now := time.Now()
		if best != nil && !best.due.After(now) {
			best.pending = false
			return best
		}

		if best == nil {
			e.cond.Wait()
		} else {
			// Arm a timer to re-check once the earliest deadline
			// arrives. The condition variable is also signalled by
			// wake, so an earlier deadline cuts the wait short.
			timer := time.AfterFunc(best.due.Sub(now), e.cond.Broadcast)
			e.cond.Wait()
			timer.Stop()
		}
	}
}

// Run executes tasks until the context is cancelled or Stop is called.
func (e *Engine) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, e.Stop)
	defer stop()

	for {
		t := e.next()
		if t == nil {
			return ctx.Err()
		}

		status := t.tick()
		switch {
		case status.IsSuspend():
			// Parked until an explicit Resume.
		case status.Delay() == 0:
			e.wake(t, time.Time{})
		default:
			e.wake(t, time.Now().Add(status.Delay()))
		}
	}
}

// Stop shuts the engine down. Tasks that are mid-tick run to
// completion first.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopped = true
	e.cond.Broadcast()
	e.mu.Unlock()
}
