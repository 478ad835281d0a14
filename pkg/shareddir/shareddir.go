// Package shareddir manages the per-owner shared directory bind-mounted
// into every sandbox belonging to that owner: creating the directory on
// first use and keeping each sandbox's fstab pointed at it.
package shareddir

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/cuemby/sandboxd/pkg/hostadapter"
)

const ownerDirMode = 0o1777

// Manager creates and wires owner shared directories rooted at dir
// (/srv/ips/users by convention).
type Manager struct {
	host hostadapter.HostAdapter
	dir  string
}

// New constructs a Manager.
func New(host hostadapter.HostAdapter, dir string) *Manager {
	return &Manager{host: host, dir: dir}
}

// OwnerPath returns the shared directory for owner.
func (m *Manager) OwnerPath(owner string) string {
	return path.Join(m.dir, owner)
}

// EnsureOwnerDir creates the owner's shared directory, mode 01777, if it
// does not already exist.
func (m *Manager) EnsureOwnerDir(ctx context.Context, owner string) error {
	p := m.OwnerPath(owner)
	if m.host.Exists(p) {
		return nil
	}
	if err := m.host.MkdirAll(p, ownerDirMode); err != nil {
		return fmt.Errorf("shareddir: create %s: %w", p, err)
	}
	if _, err := m.host.Exec(ctx, "chmod", "01777", p); err != nil {
		return fmt.Errorf("shareddir: chmod %s: %w", p, err)
	}
	return nil
}

// BindFstabLine renders the fstab line binding owner's shared directory
// into a sandbox at mountPoint ("mnt" by convention).
func (m *Manager) BindFstabLine(owner, mountPoint string) string {
	return fmt.Sprintf("%s %s none rbind 0 0", m.OwnerPath(owner), mountPoint)
}

// UpdateFstab rewrites sandboxDir's fstab so the only line referencing the
// shared directory root is the owner's bind mount: any prior line
// mentioning m.dir is dropped first, then the current line is appended.
func (m *Manager) UpdateFstab(sandboxDir, owner, mountPoint string) ([]byte, error) {
	fstabPath := path.Join(sandboxDir, "fstab")
	existing, err := m.host.ReadFile(fstabPath)
	if err != nil {
		existing = nil
	}

	var kept []string
	scanner := bufio.NewScanner(bytes.NewReader(existing))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, m.dir) {
			continue
		}
		kept = append(kept, line)
	}
	kept = append(kept, m.BindFstabLine(owner, mountPoint))

	out := []byte(strings.Join(kept, "\n") + "\n")
	if err := m.host.WriteFileAtomic(fstabPath, out, 0o644, ".bak"); err != nil {
		return nil, fmt.Errorf("shareddir: write fstab for %s: %w", sandboxDir, err)
	}
	return out, nil
}

// PatchUmountFS removes a bare "-f" flag from `umount` invocations in the
// rootfs init script that unmounts filesystems at shutdown, so the owner's
// rbind mount is not force-unmounted out from under a host-side glusterfs
// mount sharing the same directory.
func (m *Manager) PatchUmountFS(rootfsPath string) error {
	scriptPath := path.Join(rootfsPath, "etc", "init.d", "umountfs")
	data, err := m.host.ReadFile(scriptPath)
	if err != nil {
		return nil // not every template ships one
	}
	patched := strings.ReplaceAll(string(data), "umount -f", "umount")
	if patched == string(data) {
		return nil
	}
	return m.host.WriteFileAtomic(scriptPath, []byte(patched), os.FileMode(0o755), ".bak")
}
