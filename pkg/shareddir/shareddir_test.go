package shareddir

import (
	"context"
	"testing"

	"github.com/cuemby/sandboxd/pkg/hostadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureOwnerDirCreatesOnce(t *testing.T) {
	fake := hostadapter.NewFake()
	m := New(fake, "/srv/ips/users")

	require.NoError(t, m.EnsureOwnerDir(context.Background(), "alice"))
	assert.True(t, fake.Dirs["/srv/ips/users/alice"])
	assert.Equal(t, 1, fake.CallCount("chmod", "01777", "/srv/ips/users/alice"))

	// Already exists: no redundant chmod.
	require.NoError(t, m.EnsureOwnerDir(context.Background(), "alice"))
	assert.Equal(t, 1, fake.CallCount("chmod", "01777", "/srv/ips/users/alice"))
}

func TestUpdateFstabDropsPriorSharedLine(t *testing.T) {
	fake := hostadapter.NewFake()
	fake.Files["/var/lib/lxc/sbox-1/fstab"] = []byte(
		"/srv/ips/users/bob mnt none rbind 0 0\nproc /proc proc defaults 0 0\n")

	m := New(fake, "/srv/ips/users")
	out, err := m.UpdateFstab("/var/lib/lxc/sbox-1", "alice", "mnt")
	require.NoError(t, err)

	assert.Contains(t, string(out), "/srv/ips/users/alice mnt none rbind 0 0")
	assert.NotContains(t, string(out), "bob")
	assert.Contains(t, string(out), "proc /proc proc defaults 0 0")
}

func TestPatchUmountFSRemovesForceFlag(t *testing.T) {
	fake := hostadapter.NewFake()
	fake.Files["/var/lib/lxc/sbox-1/rootfs/etc/init.d/umountfs"] = []byte("umount -f -a -r\n")

	m := New(fake, "/srv/ips/users")
	require.NoError(t, m.PatchUmountFS("/var/lib/lxc/sbox-1/rootfs"))

	patched := string(fake.Files["/var/lib/lxc/sbox-1/rootfs/etc/init.d/umountfs"])
	assert.Equal(t, "umount -a -r\n", patched)
}

func TestPatchUmountFSMissingFileIsNotError(t *testing.T) {
	fake := hostadapter.NewFake()
	m := New(fake, "/srv/ips/users")
	assert.NoError(t, m.PatchUmountFS("/var/lib/lxc/sbox-2/rootfs"))
}
