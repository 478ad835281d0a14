package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/sandboxd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTask struct {
	kind     types.TaskKind
	done     chan struct{}
	mu       sync.Mutex
	status   types.TaskSubstatus
	progress string
}

func newFakeTask() *fakeTask {
	return &fakeTask{kind: types.TaskKindProvisioning, done: make(chan struct{}), status: types.SubstatusCreating}
}

func (t *fakeTask) Kind() types.TaskKind { return t.kind }
func (t *fakeTask) Run(ctx context.Context) {
	t.mu.Lock()
	t.status = types.SubstatusDone
	t.progress = "done"
	t.mu.Unlock()
	close(t.done)
}
func (t *fakeTask) Status() types.TaskSubstatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}
func (t *fakeTask) Progress() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

func TestWorkerEnqueueAndSnapshot(t *testing.T) {
	w := New("sbox-1")
	task := newFakeTask()

	require.NoError(t, w.Enqueue(task))

	select {
	case <-task.done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}

	// Snapshot is read concurrently with loop()'s writes; poll briefly.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		snap, ok := w.Snapshot()
		if ok && snap.Substatus == types.SubstatusDone {
			assert.Equal(t, types.TaskKindProvisioning, snap.Kind)
			assert.Equal(t, "done", snap.Progress)
			return
		}
	}
	t.Fatal("snapshot never reflected completed task")
}

// Enqueue's single slot is the queue channel itself, not "current" busy
// state: a task already sitting in the buffer (not yet picked up by the
// loop goroutine) must make a second Enqueue fail. Construct the Worker
// directly, without New, so the daemon goroutine never drains the buffer
// out from under the assertion.
func TestWorkerEnqueueRejectsWhenSlotFull(t *testing.T) {
	w := &Worker{sandboxID: "sbox-2", queue: make(chan Task, 1)}

	require.NoError(t, w.Enqueue(newFakeTask()))

	err := w.Enqueue(newFakeTask())
	assert.Error(t, err)
}

func TestSnapshotEmptyBeforeAnyTask(t *testing.T) {
	w := New("sbox-3")
	_, ok := w.Snapshot()
	assert.False(t, ok)
}

func TestProvisioningSemaphoreSerializes(t *testing.T) {
	sem := NewProvisioningSemaphore()
	require.NoError(t, sem.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := sem.Acquire(ctx)
	assert.Error(t, err, "second acquire should block until released")

	sem.Release()
	require.NoError(t, sem.Acquire(context.Background()))
	sem.Release()
}
