// Package config holds the process-wide options sandboxd needs: the LVM
// volume group for provisioning, the host network device, the shared
// directory root, and the filesystem layout it otherwise treats as
// contractual (spec.md §6).
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the process-wide option set. Default() holds the values used
// for any option a config file does not set.
type Config struct {
	// SandboxVGName is the LVM volume group used for LVM-backed sandboxes.
	// Empty means LVM-backed sandboxes cannot be provisioned.
	SandboxVGName string `toml:"sandbox_vgname"`

	// Dev is the host network device the DNAT "outside" address is taken
	// from. Defaults to "eth0".
	Dev string `toml:"dev"`

	// SharedDir is the parent of per-owner shared directories bind-mounted
	// into provisioned sandboxes. Defaults to "/srv/ips/users".
	SharedDir string `toml:"shared_dir"`

	// LXCDir is the root of the per-sandbox directory tree.
	LXCDir string `toml:"lxc_dir"`

	// ArchiveDir holds sandbox archives (<id>.tar.bz2).
	ArchiveDir string `toml:"archive_dir"`

	// AlternativesDir is the root of the alternatives link tree.
	AlternativesDir string `toml:"alternatives_dir"`

	// LeasesGlob matches the dnsmasq leases file(s) used to resolve a
	// sandbox's IPv4 from its hardware address.
	LeasesGlob string `toml:"leases_glob"`
}

// Default returns the option set sandboxd uses when no config file is
// present, matching spec.md §6's documented defaults.
func Default() Config {
	return Config{
		SandboxVGName:   "",
		Dev:             "eth0",
		SharedDir:       "/srv/ips/users",
		LXCDir:          "/var/lib/lxc",
		ArchiveDir:      "/var/lib/ips-cell/sandbox/archive",
		AlternativesDir: "/var/lib/ips-cell/sandbox",
		LeasesGlob:      "/var/lib/misc/dnsmasq*.leases",
	}
}

// Load reads a TOML config file over the defaults. A missing file is not an
// error: sandboxd runs fine on defaults alone.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
