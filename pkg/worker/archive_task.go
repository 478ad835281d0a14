package worker

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/cuemby/sandboxd/pkg/hostadapter"
	"github.com/cuemby/sandboxd/pkg/rootfs"
	"github.com/cuemby/sandboxd/pkg/types"
)

// ArchiveDeps bundles ArchiveTask's collaborators. Destroy tears down the
// container and removes its config once the tarball is in place; it leaves
// the alternatives registration to a later DESTROY event. It is supplied by
// the owning Sandbox so this package never depends on the sandbox state
// machine.
type ArchiveDeps struct {
	Host    hostadapter.HostAdapter
	Rootfs  *rootfs.Mounter
	LXCDir  string
	Archive string // destination path, e.g. <archive_dir>/<id>.tar.bz2
	Destroy func(ctx context.Context) error
}

// ArchiveTask tars up a sandbox's directory and, on success, destroys it.
type ArchiveTask struct {
	id   string
	deps ArchiveDeps

	mu       sync.Mutex
	status   types.TaskSubstatus
	progress strings.Builder
}

// NewArchiveTask constructs an ArchiveTask for id.
func NewArchiveTask(id string, deps ArchiveDeps) *ArchiveTask {
	return &ArchiveTask{id: id, deps: deps, status: types.SubstatusArchiving}
}

func (t *ArchiveTask) Kind() types.TaskKind { return types.TaskKindArchive }

func (t *ArchiveTask) Status() types.TaskSubstatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *ArchiveTask) Progress() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress.String()
}

func (t *ArchiveTask) appendProgress(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress.WriteString(line)
	t.progress.WriteByte('\n')
}

func (t *ArchiveTask) fail(format string, args ...any) {
	t.appendProgress(fmt.Sprintf(format, args...))
	t.mu.Lock()
	t.status = types.SubstatusFailed
	t.mu.Unlock()
}

// Run tars the sandbox directory, moves it into place, then destroys the
// sandbox. Archiving is not gated by the provisioning semaphore.
func (t *ArchiveTask) Run(ctx context.Context) {
	scope, err := t.deps.Rootfs.Acquire(ctx, t.id)
	if err != nil {
		t.fail("archive: acquire rootfs scope: %v", err)
		return
	}
	defer scope.Release()

	staging := t.deps.Archive + ".tmp"
	lines, result := t.deps.Host.ExecStream(ctx, "tar", "--checkpoint=1000", "-jcf", staging, "-C", t.deps.LXCDir, t.id)
	for line := range lines {
		t.appendProgress(line)
	}
	if result.Err != nil {
		t.fail("archive: tar failed: %v", result.Err)
		return
	}

	if _, err := t.deps.Host.Exec(ctx, "mv", staging, t.deps.Archive); err != nil {
		t.fail("archive: move into place: %v", err)
		return
	}

	if err := t.deps.Destroy(ctx); err != nil {
		t.fail("archive: destroy: %v", err)
		return
	}

	t.mu.Lock()
	t.status = types.SubstatusDone
	t.mu.Unlock()
}

// ArchivePath is the canonical archive location for id under archiveDir.
func ArchivePath(archiveDir, id string) string {
	return path.Join(archiveDir, id+".tar.bz2")
}
