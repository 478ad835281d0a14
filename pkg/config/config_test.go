package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sandboxd.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
sandbox_vgname = "vg0"
dev = "eth1"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "vg0", cfg.SandboxVGName)
	assert.Equal(t, "eth1", cfg.Dev)
	// Unspecified keys keep their defaults.
	assert.Equal(t, Default().LXCDir, cfg.LXCDir)
}
