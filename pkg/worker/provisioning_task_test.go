package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/sandboxd/pkg/alternatives"
	"github.com/cuemby/sandboxd/pkg/hostadapter"
	"github.com/cuemby/sandboxd/pkg/network"
	"github.com/cuemby/sandboxd/pkg/rootfs"
	"github.com/cuemby/sandboxd/pkg/shareddir"
	"github.com/cuemby/sandboxd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProvisioningDeps(t *testing.T, fake *hostadapter.Fake, lxcDir string) ProvisioningDeps {
	t.Helper()
	return ProvisioningDeps{
		Host:         fake,
		Rootfs:       rootfs.New(fake, lxcDir),
		Network:      network.New(fake, lxcDir, filepath.Join(lxcDir, "leases", "*.leases"), "eth0"),
		SharedDir:    shareddir.New(fake, "/srv/ips/users"),
		Alternatives: alternatives.New(fake, "/etc/alternatives", lxcDir),
		Semaphore:    NewProvisioningSemaphore(),
		LXCDir:       lxcDir,
		VGName:       "vg0",
		Dev:          "eth0",
	}
}

func TestProvisioningTaskRunSucceeds(t *testing.T) {
	lxcDir := t.TempDir()
	fake := hostadapter.NewFake()

	spec := &types.Spec{
		Role:    "web",
		Owner:   "alice",
		Version: "1",
		System:  "ubuntu",
		Requirements: types.Requirements{
			Ports: []int{8080},
		},
	}

	sandboxDir := filepath.Join(lxcDir, "sbox-1")
	require.NoError(t, os.MkdirAll(sandboxDir, 0o755))

	task := NewProvisioningTask("sbox-1", spec, newProvisioningDeps(t, fake, lxcDir))
	task.Run(context.Background())

	require.Equal(t, types.SubstatusDone, task.Status())
	assert.Contains(t, fake.Files, filepath.Join(sandboxDir, "sandbox.proto"))
	assert.Contains(t, fake.Files, filepath.Join(sandboxDir, "ports"))
	assert.True(t, fake.Dirs["/srv/ips/users/alice"])
}

func TestProvisioningTaskFailsWithoutVGNameForLVM(t *testing.T) {
	lxcDir := t.TempDir()
	fake := hostadapter.NewFake()

	spec := &types.Spec{
		Role:   "web",
		Owner:  "alice",
		System: "ubuntu",
		Requirements: types.Requirements{
			Disk: "10G",
		},
	}

	deps := newProvisioningDeps(t, fake, lxcDir)
	deps.VGName = ""
	task := NewProvisioningTask("sbox-2", spec, deps)
	task.Run(context.Background())

	assert.Equal(t, types.SubstatusFailed, task.Status())
	assert.Contains(t, task.Progress(), "no volume group")
}

func TestProvisioningTaskFailsWhenLxcCreateErrors(t *testing.T) {
	lxcDir := t.TempDir()
	fake := hostadapter.NewFake()
	fake.StreamErr["lxc-create -n sbox-3 -t ubuntu"] = assert.AnError

	spec := &types.Spec{Role: "web", Owner: "alice", System: "ubuntu"}
	task := NewProvisioningTask("sbox-3", spec, newProvisioningDeps(t, fake, lxcDir))
	task.Run(context.Background())

	assert.Equal(t, types.SubstatusFailed, task.Status())
}
