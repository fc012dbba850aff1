package task

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alextreichler/threadViewer/internal/metrics"
	"github.com/alextreichler/threadViewer/internal/models"
)

var (
	ErrNotFound = errors.New("task not found")
	ErrRunning  = errors.New("task is still running")
)

// Func is the body of a task. It reports progress on p and returns a result
// string (typically a workspace id).
type Func func(p *models.ProgressTracker) (string, error)

type Status struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Percent    float64          `json:"percent"`
	Message    string           `json:"message"`
	Phase      models.TaskPhase `json:"phase"`
	Result     string           `json:"result,omitempty"`
	Error      string           `json:"error,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at,omitempty"`
}

type entry struct {
	id       string
	name     string
	progress *models.ProgressTracker
	started  time.Time

	mu       sync.Mutex
	finished time.Time
	err      error
}

// Executor runs named background tasks, each with its own progress tracker.
type Executor struct {
	mu    sync.RWMutex
	tasks map[string]*entry
	wg    sync.WaitGroup
}

func NewExecutor() *Executor {
	return &Executor{tasks: make(map[string]*entry)}
}

// Submit starts fn in its own goroutine and returns the task id immediately.
func (e *Executor) Submit(name string, fn Func) string {
	en := &entry{
		id:       uuid.NewString(),
		name:     name,
		progress: models.NewProgressTracker(),
		started:  time.Now(),
	}
	e.mu.Lock()
	e.tasks[en.id] = en
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(en, fn)
	return en.id
}

func (e *Executor) run(en *entry, fn Func) {
	defer e.wg.Done()
	m := metrics.GetMetrics()
	m.TasksRunning.Inc()
	defer m.TasksRunning.Dec()

	log := slog.With("component", "task", "task_id", en.id, "name", en.name)
	log.Info("Task started")

	result, err := func() (result string, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		return fn(en.progress)
	}()

	en.mu.Lock()
	en.finished = time.Now()
	en.err = err
	en.mu.Unlock()

	if err != nil {
		log.Error("Task failed", "error", err, "duration", en.finished.Sub(en.started))
		en.progress.Fail(err)
		return
	}
	log.Info("Task completed", "result", result, "duration", en.finished.Sub(en.started))
	en.progress.Finish(result)
}

func (en *entry) status() Status {
	ev := en.progress.Snapshot()
	st := Status{
		ID:        en.id,
		Name:      en.name,
		Percent:   ev.Percent,
		Message:   ev.Message,
		Phase:     ev.Phase,
		Result:    ev.Result,
		StartedAt: en.started,
	}
	en.mu.Lock()
	st.FinishedAt = en.finished
	if en.err != nil {
		st.Error = en.err.Error()
	}
	en.mu.Unlock()
	return st
}

func (e *Executor) Status(id string) (Status, error) {
	e.mu.RLock()
	en, ok := e.tasks[id]
	e.mu.RUnlock()
	if !ok {
		return Status{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return en.status(), nil
}

// Tracker exposes the live progress of a task for streaming.
func (e *Executor) Tracker(id string) (*models.ProgressTracker, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	en, ok := e.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return en.progress, nil
}

// List returns every known task, oldest first.
func (e *Executor) List() []Status {
	e.mu.RLock()
	out := make([]Status, 0, len(e.tasks))
	for _, en := range e.tasks {
		out = append(out, en.status())
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Remove forgets a finished task. Running tasks cannot be removed.
func (e *Executor) Remove(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	en, ok := e.tasks[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if en.status().Phase == models.PhaseRunning {
		return fmt.Errorf("%s: %w", id, ErrRunning)
	}
	delete(e.tasks, id)
	return nil
}

// Wait blocks until every submitted task has returned.
func (e *Executor) Wait() {
	e.wg.Wait()
}
