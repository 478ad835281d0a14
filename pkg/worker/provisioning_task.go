package worker

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/cuemby/sandboxd/pkg/alternatives"
	"github.com/cuemby/sandboxd/pkg/hostadapter"
	"github.com/cuemby/sandboxd/pkg/network"
	"github.com/cuemby/sandboxd/pkg/ports"
	"github.com/cuemby/sandboxd/pkg/protofile"
	"github.com/cuemby/sandboxd/pkg/rootfs"
	"github.com/cuemby/sandboxd/pkg/shareddir"
	"github.com/cuemby/sandboxd/pkg/types"
)

// ProvisioningDeps bundles the collaborators ProvisioningTask needs beyond
// the spec it was created with.
type ProvisioningDeps struct {
	Host         hostadapter.HostAdapter
	Rootfs       *rootfs.Mounter
	Network      *network.Controller
	SharedDir    *shareddir.Manager
	Alternatives *alternatives.Registry
	Semaphore    *ProvisioningSemaphore
	LXCDir       string
	VGName       string
	Dev          string
}

// ProvisioningTask runs the full provisioning sequence for a new sandbox:
// container creation (gated by the process-wide semaphore), filesystem
// cleanup, alternatives registration, and the sandbox.proto write.
type ProvisioningTask struct {
	id   string
	spec *types.Spec
	deps ProvisioningDeps

	mu       sync.Mutex
	status   types.TaskSubstatus
	progress strings.Builder
}

// NewProvisioningTask constructs a ProvisioningTask for id with the given
// request spec.
func NewProvisioningTask(id string, spec *types.Spec, deps ProvisioningDeps) *ProvisioningTask {
	return &ProvisioningTask{id: id, spec: spec, deps: deps, status: types.SubstatusCreating}
}

func (t *ProvisioningTask) Kind() types.TaskKind { return types.TaskKindProvisioning }

func (t *ProvisioningTask) Status() types.TaskSubstatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *ProvisioningTask) Progress() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress.String()
}

func (t *ProvisioningTask) appendProgress(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress.WriteString(line)
	t.progress.WriteByte('\n')
}

func (t *ProvisioningTask) fail(format string, args ...any) {
	t.appendProgress(fmt.Sprintf(format, args...))
	t.mu.Lock()
	t.status = types.SubstatusFailed
	t.mu.Unlock()
}

// Run executes the provisioning sequence. Any failure sets substatus FAILED
// and stops; it never panics or returns an error across the task boundary.
func (t *ProvisioningTask) Run(ctx context.Context) {
	sandboxDir := path.Join(t.deps.LXCDir, t.id)

	if err := t.create(ctx); err != nil {
		t.fail("%v", err)
		return
	}

	if err := t.cleanup(ctx, sandboxDir); err != nil {
		t.fail("%v", err)
		return
	}

	priority := int(t.spec.ProvisioningTime)
	if err := t.deps.Alternatives.Install(ctx, t.spec.Role, t.spec.Owner, t.id, priority); err != nil {
		t.fail("%v", err)
		return
	}

	data := protofile.Marshal(t.spec)
	if err := t.deps.Host.WriteFileAtomic(path.Join(sandboxDir, "sandbox.proto"), data, 0o644, ".t"); err != nil {
		t.fail("write sandbox.proto: %v", err)
		return
	}

	t.mu.Lock()
	t.status = types.SubstatusDone
	t.mu.Unlock()
}

// create invokes the container creator, holding the provisioning semaphore
// only for this step.
func (t *ProvisioningTask) create(ctx context.Context) error {
	if t.spec.Requirements.Disk != "" && t.deps.VGName == "" {
		return fmt.Errorf("provisioning: %s requests LVM but no volume group is configured", t.id)
	}

	if err := t.deps.Semaphore.Acquire(ctx); err != nil {
		return fmt.Errorf("provisioning: acquire semaphore: %w", err)
	}
	defer t.deps.Semaphore.Release()

	args := []string{"-n", t.id, "-t", t.spec.System}
	if t.spec.Requirements.Disk != "" {
		args = append(args, "-B", "lvm", "--vgname", t.deps.VGName, "--fssize", t.spec.Requirements.Disk)
	}
	if t.spec.SystemOptions != "" {
		args = append(args, "--")
		args = append(args, strings.Fields(t.spec.SystemOptions)...)
	}

	lines, result := t.deps.Host.ExecStream(ctx, "lxc-create", args...)
	for line := range lines {
		t.appendProgress(line)
	}
	if result.Err != nil {
		return fmt.Errorf("provisioning: lxc-create failed: %w", result.Err)
	}
	return nil
}

// cleanup performs the post-create filesystem edits, all under one rootfs
// mount scope.
func (t *ProvisioningTask) cleanup(ctx context.Context, sandboxDir string) error {
	scope, err := t.deps.Rootfs.Acquire(ctx, t.id)
	if err != nil {
		return fmt.Errorf("cleanup: acquire rootfs scope: %w", err)
	}
	defer scope.Release()

	entries := make([]types.ReservedPort, 0, len(t.spec.Requirements.Ports))
	for _, p := range t.spec.Requirements.Ports {
		entries = append(entries, types.ReservedPort{Port: p})
	}
	if err := t.deps.Host.WriteFileAtomic(path.Join(sandboxDir, "ports"), ports.Format(entries), 0o644, ".bak"); err != nil {
		return fmt.Errorf("cleanup: write ports: %w", err)
	}

	if err := t.deps.SharedDir.EnsureOwnerDir(ctx, t.spec.Owner); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	if _, err := t.deps.SharedDir.UpdateFstab(sandboxDir, t.spec.Owner, "mnt"); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	if err := t.deps.SharedDir.PatchUmountFS(scope.Path()); err != nil {
		return fmt.Errorf("cleanup: patch umountfs: %w", err)
	}

	if err := t.writeHostnameAndHosts(scope.Path()); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	if err := t.writeIssueFiles(ctx, scope.Path()); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	return nil
}

func (t *ProvisioningTask) writeHostnameAndHosts(rootfsPath string) error {
	mac, err := t.deps.Network.HardwareAddress(t.id)
	if err != nil || mac == "" {
		return nil // lxc-create may not have assigned one yet
	}
	hostname := strings.ReplaceAll(mac, ":", "-")

	if err := t.deps.Host.WriteFileAtomic(path.Join(rootfsPath, "etc", "hostname"), []byte(hostname+"\n"), 0o644, ".t"); err != nil {
		return fmt.Errorf("write hostname: %w", err)
	}

	hostsPath := path.Join(rootfsPath, "etc", "hosts")
	existing, _ := t.deps.Host.ReadFile(hostsPath)
	var buf bytes.Buffer
	buf.Write(existing)
	fmt.Fprintf(&buf, "127.0.2.1\t%s\n", hostname)
	if err := t.deps.Host.WriteFileAtomic(hostsPath, buf.Bytes(), 0o644, ".t"); err != nil {
		return fmt.Errorf("append hosts: %w", err)
	}
	return nil
}

func (t *ProvisioningTask) writeIssueFiles(ctx context.Context, rootfsPath string) error {
	hostIP, err := t.deps.Host.HostAddress(t.deps.Dev)
	if err != nil {
		return nil // host address unknown yet; not fatal to provisioning
	}
	banner := fmt.Sprintf("%s/%s/%s@%s\n", t.spec.Role, t.spec.Version, t.spec.Owner, hostIP)

	if err := t.deps.Host.WriteFileAtomic(path.Join(rootfsPath, "etc", "issue"), []byte(banner), 0o644, ".t"); err != nil {
		return fmt.Errorf("write issue: %w", err)
	}
	if err := t.deps.Host.WriteFileAtomic(path.Join(rootfsPath, "etc", "debian_chroot"), []byte(banner), 0o644, ".t"); err != nil {
		return fmt.Errorf("write debian_chroot: %w", err)
	}
	return nil
}
