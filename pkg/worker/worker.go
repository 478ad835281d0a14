// Package worker implements the per-sandbox single-slot task queue and the
// process-wide provisioning semaphore that serializes the heavy container
// creation step across every sandbox on the host.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cuemby/sandboxd/pkg/log"
	"github.com/cuemby/sandboxd/pkg/types"
)

// Task is one long-running unit of work owned by a Worker: provisioning or
// archiving. Run must update its own substatus/progress as it goes so a
// concurrent Snapshot call observes live state.
type Task interface {
	Kind() types.TaskKind
	Run(ctx context.Context)
	Status() types.TaskSubstatus
	Progress() string
}

// ProvisioningSemaphore is the process-wide binary gate around the heavy
// container-creation step. Shared by every Worker in the process.
type ProvisioningSemaphore struct {
	sem *semaphore.Weighted
}

// NewProvisioningSemaphore constructs the single process-wide instance.
func NewProvisioningSemaphore() *ProvisioningSemaphore {
	return &ProvisioningSemaphore{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the semaphore is free or ctx is done.
func (p *ProvisioningSemaphore) Acquire(ctx context.Context) error {
	return p.sem.Acquire(ctx, 1)
}

// Release returns the semaphore.
func (p *ProvisioningSemaphore) Release() {
	p.sem.Release(1)
}

// Worker is a single-slot task queue for one sandbox. Its goroutine is a
// daemon: it is never joined, and it runs for the lifetime of the process
// once started.
type Worker struct {
	sandboxID string
	queue     chan Task

	mu      sync.RWMutex
	current Task
	started time.Time
}

// New constructs a Worker for sandboxID and starts its daemon goroutine.
func New(sandboxID string) *Worker {
	w := &Worker{
		sandboxID: sandboxID,
		queue:     make(chan Task, 1),
	}
	go w.loop()
	return w
}

func (w *Worker) loop() {
	logger := log.WithSandboxID(log.WithComponent("worker"), w.sandboxID)
	for task := range w.queue {
		w.mu.Lock()
		w.current = task
		w.started = time.Now()
		w.mu.Unlock()

		logger.Info().Str("kind", string(task.Kind())).Msg("task started")
		task.Run(context.Background())
		logger.Info().Str("kind", string(task.Kind())).Str("status", string(task.Status())).Msg("task finished")
	}
}

// Enqueue submits task to the single-slot queue. It fails immediately if a
// task is already waiting in the slot; a task the loop has already taken
// and is running does not occupy the slot.
func (w *Worker) Enqueue(task Task) error {
	select {
	case w.queue <- task:
		return nil
	default:
		return fmt.Errorf("worker: sandbox %s already has a task in flight", w.sandboxID)
	}
}

// Snapshot returns the currently running (or most recently run) task's
// state, used by state derivation (C7) and getState's description field.
func (w *Worker) Snapshot() (types.TaskSnapshot, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.current == nil {
		return types.TaskSnapshot{}, false
	}
	return types.TaskSnapshot{
		Kind:      w.current.Kind(),
		Substatus: w.current.Status(),
		Progress:  w.current.Progress(),
		StartedAt: w.started,
	}, true
}
