package alternatives

import (
	"context"
	"testing"

	"github.com/cuemby/sandboxd/pkg/hostadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeName(t *testing.T) {
	tests := []struct {
		name     string
		role     string
		owner    string
		expected string
	}{
		{name: "plain owner", role: "web", owner: "alice", expected: "ips-sandbox_web.alice"},
		{name: "dotted owner is dashed", role: "web", owner: "alice.smith", expected: "ips-sandbox_web.alice-smith"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, EncodeName(tt.role, tt.owner))
		})
	}
}

func TestLinkPathAndTargetPath(t *testing.T) {
	r := New(hostadapter.NewFake(), "/var/lib/ips-cell/sandbox", "/var/lib/lxc")
	assert.Equal(t, "/var/lib/ips-cell/sandbox/alice-smith/web.alice-smith", r.LinkPath("web", "alice.smith"))
	assert.Equal(t, "/var/lib/lxc/sandbox-123", r.TargetPath("sandbox-123"))
}

func TestGetGenericNamesSplitsOnDot(t *testing.T) {
	// A dotted owner was stored dashed and decodes dashed ("alice.smith"
	// comes back as "alice-smith"): this is the documented lossy behavior,
	// not a bug fix target.
	fake := hostadapter.NewFake()
	fake.ExecResults["update-alternatives --get-selections"] = hostadapter.FakeExecResult{
		Output: []byte("ips-sandbox_web.alice-smith auto /var/lib/lxc/sbox-1\nips-sandbox_db.bob auto /var/lib/lxc/sbox-2\nunrelated-package auto /usr/bin/foo\n"),
	}
	r := New(fake, "/var/lib/ips-cell/sandbox", "/var/lib/lxc")

	names, err := r.GetGenericNames(context.Background())
	require.NoError(t, err)
	require.Len(t, names, 2)
	assert.Equal(t, "web", names[0].Role)
	assert.Equal(t, "alice-smith", names[0].Owner)
	assert.Equal(t, "db", names[1].Role)
	assert.Equal(t, "bob", names[1].Owner)
}

func TestSetAlternativeEmptyIDMeansAuto(t *testing.T) {
	fake := hostadapter.NewFake()
	r := New(fake, "/var/lib/ips-cell/sandbox", "/var/lib/lxc")

	require.NoError(t, r.SetAlternative(context.Background(), "web", "alice", ""))
	assert.Equal(t, 1, fake.CallCount("update-alternatives", "--auto", "ips-sandbox_web.alice"))

	require.NoError(t, r.SetAlternative(context.Background(), "web", "alice", "sbox-1"))
	assert.Equal(t, 1, fake.CallCount("update-alternatives", "--set", "ips-sandbox_web.alice", "/var/lib/lxc/sbox-1"))
}

func TestParseQuery(t *testing.T) {
	out := []byte(`web.alice - status is manual.
  Link currently points to /var/lib/lxc/sbox-2
/var/lib/lxc/sbox-1 - priority 10
/var/lib/lxc/sbox-2 - priority 20
Status: manual
`)
	view := parseQuery(out)
	assert.Equal(t, "/var/lib/lxc/sbox-2", view.CurrentTargetPath)
	require.Len(t, view.Alternatives, 2)
	assert.Equal(t, 10, view.Alternatives[0].Priority)
	assert.Equal(t, 20, view.Alternatives[1].Priority)
}
