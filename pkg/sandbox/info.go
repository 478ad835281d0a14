package sandbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/containerd/cgroups"

	"github.com/cuemby/sandboxd/pkg/log"
)

// GetInfo returns free-text diagnostic info for the sandbox: runtime info,
// cgroup memory.stat, hardware address, and resolved IPv4/IPv6.
func (s *Sandbox) GetInfo(ctx context.Context) (string, error) {
	var buf strings.Builder

	runtimeInfo, err := s.deps.Host.Exec(ctx, "lxc-info", "-n", s.id)
	if err == nil {
		buf.Write(runtimeInfo)
		buf.WriteByte('\n')
	}

	buf.WriteString(s.cgroupMemoryStat())

	if mac, err := s.deps.Network.HardwareAddress(s.id); err == nil && mac != "" {
		fmt.Fprintf(&buf, "hwaddr: %s\n", mac)
	}
	if ip, err := s.deps.Network.SandboxIPv4(s.id); err == nil && ip != "" {
		fmt.Fprintf(&buf, "ipv4: %s\n", ip)
	}
	if ip6, err := s.deps.Network.SandboxIPv6(ctx, s.id); err == nil && ip6 != "" {
		fmt.Fprintf(&buf, "ipv6: %s\n", ip6)
	}

	return buf.String(), nil
}

// cgroupMemoryStat reads the sandbox's cgroup memory.stat, preferring the
// containerd/cgroups v1 API and falling back to a raw read of the unified
// (v2) hierarchy's file when that mode is in effect on this host.
func (s *Sandbox) cgroupMemoryStat() string {
	logger := log.WithSandboxID(log.WithComponent("sandbox"), s.id)

	if cgroups.Mode() == cgroups.Unified {
		data, err := s.deps.Host.ReadFile(fmt.Sprintf("/sys/fs/cgroup/lxc/%s/memory.stat", s.id))
		if err != nil {
			return ""
		}
		return string(data)
	}

	control, err := cgroups.Load(cgroups.V1, cgroups.StaticPath("/lxc/"+s.id))
	if err != nil {
		logger.Debug().Err(err).Msg("cgroup load failed")
		return ""
	}
	metrics, err := control.Stat(cgroups.IgnoreNotExist)
	if err != nil || metrics.Memory == nil {
		return ""
	}
	return fmt.Sprintf("memory.usage_in_bytes: %d\nmemory.limit_in_bytes: %d\n",
		metrics.Memory.Usage.Usage, metrics.Memory.Usage.Limit)
}
