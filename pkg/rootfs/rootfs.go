// Package rootfs provides scoped acquisition of a sandbox's root
// filesystem: resolve its path, mount the LVM backing device if the
// sandbox's config declares one, and guarantee release on every exit path.
// Nested acquisitions for the same sandbox are not supported; an advisory
// file lock enforces that at runtime instead of silently corrupting state.
package rootfs

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/cuemby/sandboxd/pkg/hostadapter"
	"github.com/cuemby/sandboxd/pkg/log"
)

const configRootfsKey = "lxc.rootfs"

// Mounter acquires and releases rootfs scopes for sandboxes rooted at dir.
type Mounter struct {
	host hostadapter.HostAdapter
	dir  string // e.g. /var/lib/lxc
}

// New constructs a Mounter for sandboxes under dir.
func New(host hostadapter.HostAdapter, dir string) *Mounter {
	return &Mounter{host: host, dir: dir}
}

// Scope is a held rootfs acquisition. Release is idempotent.
type Scope struct {
	token    string
	path     string
	mounted  bool
	device   string
	lock     *flock.Flock
	released bool
}

// Path returns the mountable rootfs directory for the held scope.
func (s *Scope) Path() string { return s.path }

// Acquire resolves id's rootfs path and, if its config declares an LVM
// backing device, mounts it before returning.
func (m *Mounter) Acquire(ctx context.Context, id string) (*Scope, error) {
	sandboxDir := filepath.Join(m.dir, id)

	lock := flock.New(filepath.Join(sandboxDir, ".rootfs.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("rootfs: lock %s: %w", id, err)
	}
	if !locked {
		return nil, fmt.Errorf("rootfs: %s already has an active rootfs scope", id)
	}

	path := m.resolveRootfsPath(id, sandboxDir)
	scope := &Scope{token: uuid.NewString(), path: path, lock: lock}

	device, err := m.lvmDevice(sandboxDir)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	if device != "" {
		if err := unix.Mount(device, path, "ext4", 0, ""); err != nil {
			lock.Unlock()
			return nil, fmt.Errorf("rootfs: mount %s at %s: %w", device, path, err)
		}
		scope.mounted = true
		scope.device = device
		log.WithSandboxID(log.WithComponent("rootfs"), id).Debug().Str("device", device).Msg("mounted LVM rootfs")
	}

	return scope, nil
}

// Release unmounts the LVM backing (if mounted) and drops the scope lock.
// Safe to call more than once.
func (s *Scope) Release() error {
	if s.released {
		return nil
	}
	s.released = true

	var unmountErr error
	if s.mounted {
		unmountErr = unix.Unmount(s.path, 0)
	}
	if s.lock != nil {
		s.lock.Unlock()
	}
	return unmountErr
}

func (m *Mounter) resolveRootfsPath(id, sandboxDir string) string {
	direct := filepath.Join(sandboxDir, "rootfs")
	nested := filepath.Join(sandboxDir, id, "rootfs")
	if !m.host.Exists(direct) && m.host.Exists(nested) {
		return nested
	}
	return direct
}

// lvmDevice scans the sandbox's config for an "lxc.rootfs" key whose value
// starts with "/dev/", returning "" if none is declared.
func (m *Mounter) lvmDevice(sandboxDir string) (string, error) {
	data, err := m.host.ReadFile(filepath.Join(sandboxDir, "config"))
	if err != nil {
		return "", nil // no config yet (pre-provisioning) is not an error here
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, configRootfsKey) {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		value := strings.TrimSpace(parts[1])
		if strings.HasPrefix(value, "/dev/") {
			return value, nil
		}
	}
	return "", scanner.Err()
}
