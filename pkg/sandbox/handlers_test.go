package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/sandboxd/pkg/hostadapter"
	"github.com/cuemby/sandboxd/pkg/protofile"
	"github.com/cuemby/sandboxd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSpecRejectsDottedRole(t *testing.T) {
	err := validateSpec(&types.Spec{Role: "web.prod", Owner: "alice"})
	assert.ErrorIs(t, err, ErrInvalidRoleName)
}

func TestValidateSpecRejectsDashedOwner(t *testing.T) {
	err := validateSpec(&types.Spec{Role: "web", Owner: "alice-prod"})
	assert.ErrorIs(t, err, ErrInvalidOwnerName)
}

func TestValidateSpecAcceptsDottedOwner(t *testing.T) {
	err := validateSpec(&types.Spec{Role: "web", Owner: "alice.prod"})
	assert.NoError(t, err)
}

func TestHandleStartOpensStatuszPort(t *testing.T) {
	env := newTestEnv(t, "sbox-start")
	env.fake.Files[filepath.Join(env.sandboxDir("sbox-start"), "ports")] = []byte("9000 statusz\n")

	resp := env.sb.handleStart(context.Background())
	assert.Equal(t, types.StatusSuccess, resp.Status)
	assert.Equal(t, 1, env.fake.CallCount("lxc-start", "-n", "sbox-start", "-d"))
}

func TestHandleStartFailsWhenLxcStartFails(t *testing.T) {
	env := newTestEnv(t, "sbox-startfail")
	env.fake.ExecResults["lxc-start -n sbox-startfail -d"] = hostadapter.FakeExecResult{Err: assert.AnError}

	resp := env.sb.handleStart(context.Background())
	assert.Equal(t, types.StatusFailed, resp.Status)
}

func TestHandleDestroySkipsLxcDestroyWhenConfigAbsent(t *testing.T) {
	env := newTestEnv(t, "sbox-destroy")
	spec := &types.Spec{Role: "web", Owner: "alice", System: "ubuntu"}
	env.fake.Files[filepath.Join(env.sandboxDir("sbox-destroy"), "sandbox.proto")] = protofile.Marshal(spec)

	resp := env.sb.handleDestroy(context.Background())
	assert.Equal(t, types.StatusSuccess, resp.Status)
	assert.Equal(t, 0, env.fake.CallCount("lxc-destroy", "-n", "sbox-destroy"))
	assert.Equal(t, 1, env.fake.CallCount("update-alternatives", "--remove", "ips-sandbox_web.alice", filepath.Join(env.lxcDir, "sbox-destroy")))
}

func TestHandleDestroyRemovesConfigWhenPresent(t *testing.T) {
	env := newTestEnv(t, "sbox-destroy2")
	env.fake.Files[filepath.Join(env.sandboxDir("sbox-destroy2"), "config")] = []byte("lxc.rootfs = x\n")

	resp := env.sb.handleDestroy(context.Background())
	assert.Equal(t, types.StatusSuccess, resp.Status)
	assert.Equal(t, 1, env.fake.CallCount("lxc-destroy", "-n", "sbox-destroy2"))
	assert.NotContains(t, env.fake.Files, filepath.Join(env.sandboxDir("sbox-destroy2"), "config"))
}

func TestHandleProvisioningEnqueuesTask(t *testing.T) {
	env := newTestEnv(t, "sbox-provtask")
	spec := &types.Spec{Role: "web", Owner: "alice", System: "ubuntu"}

	resp := env.sb.handleProvisioning(context.Background(), spec)
	assert.Equal(t, types.StatusSuccess, resp.Status)
	assert.Equal(t, "provisioning", resp.Description)
}

func TestHandleProvisioningRejectsNilSpec(t *testing.T) {
	env := newTestEnv(t, "sbox-provnil")
	resp := env.sb.handleProvisioning(context.Background(), nil)
	assert.Equal(t, types.StatusFailed, resp.Status)
}

func TestHandleArchiveEnqueuesTask(t *testing.T) {
	env := newTestEnv(t, "sbox-archive")
	require.NoError(t, os.MkdirAll(env.sandboxDir("sbox-archive"), 0o755))

	resp := env.sb.handleArchive(context.Background())
	assert.Equal(t, types.StatusSuccess, resp.Status)
	assert.Equal(t, "archiving", resp.Description)
}
