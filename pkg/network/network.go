// Package network computes and installs the DNAT-based network exposure
// policy tied to sandbox lifecycle transitions: which reserved ports are
// reachable from outside the host, and IPv6 router-advertisement acceptance
// on the sandbox's overlay link.
package network

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/cuemby/sandboxd/pkg/hostadapter"
	"github.com/cuemby/sandboxd/pkg/log"
)

const (
	hwaddrKey = "lxc.network.hwaddr"
	linkKey   = "lxc.network.link"
)

// Controller installs and queries the DNAT exposure policy for sandboxes
// rooted at lxcDir, using the host's leases file to resolve sandbox IPv4s.
type Controller struct {
	host       hostadapter.HostAdapter
	lxcDir     string
	leasesGlob string
	dev        string
}

// New constructs a Controller.
func New(host hostadapter.HostAdapter, lxcDir, leasesGlob, dev string) *Controller {
	return &Controller{host: host, lxcDir: lxcDir, leasesGlob: leasesGlob, dev: dev}
}

// SetAcceptRA idempotently enables IPv6 router-advertisement acceptance on
// link, returning a human-readable report.
func (c *Controller) SetAcceptRA(link string) (string, error) {
	path := fmt.Sprintf("/proc/sys/net/ipv6/conf/%s/accept_ra", link)
	current, err := c.host.ReadFile(path)
	if err == nil && strings.TrimSpace(string(current)) == "2" {
		return fmt.Sprintf("accept_ra already 2 on %s", link), nil
	}

	if _, err := c.host.Exec(context.Background(), "sysctl", "-w",
		fmt.Sprintf("net.ipv6.conf.%s.accept_ra=2", link)); err != nil {
		return "", fmt.Errorf("network: set accept_ra on %s: %w", link, err)
	}

	if err := c.enableNeighborProxy(link); err != nil {
		log.WithComponent("network").Warn().Err(err).Str("link", link).Msg("neighbor proxy enablement failed")
	}

	return fmt.Sprintf("accept_ra set to 2 on %s", link), nil
}

// enableNeighborProxy turns on IPv6 neighbor proxying for link via netlink,
// rather than shelling out to `ip neigh`, which spec.md §9 calls out as
// contractually brittle to parse.
func (c *Controller) enableNeighborProxy(link string) error {
	l, err := netlink.LinkByName(link)
	if err != nil {
		return fmt.Errorf("lookup link %s: %w", link, err)
	}
	neighs, err := netlink.NeighList(l.Attrs().Index, netlink.FAMILY_V6)
	if err != nil {
		return fmt.Errorf("list neighbors on %s: %w", link, err)
	}
	for _, n := range neighs {
		if n.Flags&unix.NTF_PROXY != 0 {
			return nil // already has a proxy entry
		}
	}
	return netlink.NeighAdd(&netlink.Neigh{
		LinkIndex: l.Attrs().Index,
		Family:    netlink.FAMILY_V6,
		Flags:     unix.NTF_PROXY,
		IP:        net.IPv6zero,
	})
}

// OpenNetwork installs a DNAT pair (PREROUTING and OUTPUT, table nat) for
// every reserved port not already open. ports==nil opens all of them.
func (c *Controller) OpenNetwork(ctx context.Context, id string, allPorts []int, ports []int) (string, error) {
	if len(ports) == 0 {
		ports = allPorts
	}
	hostIP, err := c.host.HostAddress(c.dev)
	if err != nil {
		return "", nil // spec: unresolvable address is not an error, just a no-op
	}
	sandboxIP, err := c.resolveSandboxIP(id)
	if err != nil || sandboxIP == "" {
		return "no lease yet for sandbox; network operation skipped", nil
	}

	open, err := c.enabledPortSet(ctx)
	if err != nil {
		return "", err
	}

	var report strings.Builder
	for _, port := range ports {
		if open[port] {
			continue
		}
		if err := c.installDNAT(ctx, hostIP.String(), sandboxIP, port); err != nil {
			return "", err
		}
		fmt.Fprintf(&report, "opened port %d: %s:%d -> %s:%d\n", port, hostIP, port, sandboxIP, port)
	}
	if report.Len() == 0 {
		return "all requested ports already open", nil
	}
	return report.String(), nil
}

// Lameduck removes DNAT rules for all currently open ports of id except the
// statusz port, unless rejectStatusz is set.
func (c *Controller) Lameduck(ctx context.Context, id string, statuszPort int, hasStatusz, rejectStatusz bool) (string, error) {
	hostIP, err := c.host.HostAddress(c.dev)
	if err != nil {
		return "", nil
	}
	sandboxIP, err := c.resolveSandboxIP(id)
	if err != nil || sandboxIP == "" {
		return "no lease yet for sandbox; network operation skipped", nil
	}

	lines, err := c.dnatLines(ctx)
	if err != nil {
		return "", err
	}

	var report strings.Builder
	for _, l := range lines {
		if strings.SplitN(l.Sandbox, ":", 2)[0] != sandboxIP {
			continue
		}
		if hasStatusz && l.Port == statuszPort && !rejectStatusz {
			continue
		}
		if err := c.removeDNAT(ctx, hostIP.String(), sandboxIP, l.Port); err != nil {
			return "", err
		}
		fmt.Fprintf(&report, "closed port %d\n", l.Port)
	}
	if report.Len() == 0 {
		return "nothing to lameduck", nil
	}
	return report.String(), nil
}

// EnabledPorts returns the ports currently exposed via DNAT for id.
func (c *Controller) EnabledPorts(ctx context.Context, id string) ([]int, error) {
	sandboxIP, err := c.resolveSandboxIP(id)
	if err != nil || sandboxIP == "" {
		return nil, nil
	}
	lines, err := c.dnatLines(ctx)
	if err != nil {
		return nil, err
	}
	var ports []int
	for _, l := range lines {
		if strings.SplitN(l.Sandbox, ":", 2)[0] == sandboxIP {
			ports = append(ports, l.Port)
		}
	}
	return ports, nil
}

type dnatLine struct {
	Host    string
	Port    int
	Sandbox string
}

var dnatLineRe = regexp.MustCompile(`^DNAT\s+tcp\s+--\s+0\.0\.0\.0/0\s+(\S+)\s+tcp\s+dpt:(\d+)\s+to:(\S+)`)

// parseDNATLines extracts DNAT rows from `iptables -L PREROUTING -t nat -n`
// output. Kept as its own tiny parser per spec.md §9: the output format is
// not guaranteed stable across iptables versions, and the component boundary
// isolates that risk.
func parseDNATLines(data []byte) []dnatLine {
	var out []dnatLine
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		m := dnatLineRe.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		port, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		out = append(out, dnatLine{Host: m[1], Port: port, Sandbox: m[3]})
	}
	return out
}

func (c *Controller) dnatLines(ctx context.Context) ([]dnatLine, error) {
	out, err := c.host.Exec(ctx, "iptables", "-L", "PREROUTING", "-t", "nat", "-n")
	if err != nil {
		return nil, fmt.Errorf("network: list DNAT rules: %w", err)
	}
	return parseDNATLines(out), nil
}

func (c *Controller) enabledPortSet(ctx context.Context) (map[int]bool, error) {
	lines, err := c.dnatLines(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[int]bool, len(lines))
	for _, l := range lines {
		set[l.Port] = true
	}
	return set, nil
}

func (c *Controller) installDNAT(ctx context.Context, hostIP, sandboxIP string, port int) error {
	dest := fmt.Sprintf("%s:%d", sandboxIP, port)
	portStr := strconv.Itoa(port)
	if _, err := c.host.Exec(ctx, "iptables", "-t", "nat", "-A", "PREROUTING",
		"-p", "tcp", "-d", hostIP, "--dport", portStr, "-j", "DNAT", "--to-destination", dest); err != nil {
		return fmt.Errorf("network: install PREROUTING DNAT for port %d: %w", port, err)
	}
	if _, err := c.host.Exec(ctx, "iptables", "-t", "nat", "-A", "OUTPUT",
		"-p", "tcp", "-d", hostIP, "--dport", portStr, "-j", "DNAT", "--to-destination", dest); err != nil {
		return fmt.Errorf("network: install OUTPUT DNAT for port %d: %w", port, err)
	}
	return nil
}

func (c *Controller) removeDNAT(ctx context.Context, hostIP, sandboxIP string, port int) error {
	dest := fmt.Sprintf("%s:%d", sandboxIP, port)
	portStr := strconv.Itoa(port)
	if _, err := c.host.Exec(ctx, "iptables", "-t", "nat", "-D", "PREROUTING",
		"-p", "tcp", "-d", hostIP, "--dport", portStr, "-j", "DNAT", "--to-destination", dest); err != nil {
		return fmt.Errorf("network: remove PREROUTING DNAT for port %d: %w", port, err)
	}
	if _, err := c.host.Exec(ctx, "iptables", "-t", "nat", "-D", "OUTPUT",
		"-p", "tcp", "-d", hostIP, "--dport", portStr, "-j", "DNAT", "--to-destination", dest); err != nil {
		return fmt.Errorf("network: remove OUTPUT DNAT for port %d: %w", port, err)
	}
	return nil
}

// HardwareAddress returns id's configured network hardware address.
func (c *Controller) HardwareAddress(id string) (string, error) {
	return c.hardwareAddress(id)
}

// SandboxIPv4 resolves id's current lease IPv4, or "" if it has none yet.
func (c *Controller) SandboxIPv4(id string) (string, error) {
	return c.resolveSandboxIP(id)
}

// SandboxIPv6 resolves id's link-local IPv6 address by provoking a
// multicast-ping reply on its overlay link and matching its hardware address
// against the resulting neighbor cache entry. An absent link, hwaddr, or
// neighbor entry is not an error: it returns "".
func (c *Controller) SandboxIPv6(ctx context.Context, id string) (string, error) {
	link, err := c.NetworkLink(id)
	if err != nil || link == "" {
		return "", nil
	}
	mac, err := c.hardwareAddress(id)
	if err != nil || mac == "" {
		return "", nil
	}

	// Populate the neighbor cache; a failure just means the cache may be
	// stale, so it's not fatal.
	_, _ = c.host.Exec(ctx, "ping6", "-c", "1", "-I", link, "ff02::1")

	out, err := c.host.Exec(ctx, "ip", "-6", "neigh", "show")
	if err != nil {
		return "", nil
	}
	if ip, ok := matchNeighbor(out, mac); ok {
		return ip, nil
	}
	return "", nil
}

// matchNeighbor scans `ip -6 neigh show` output for a line whose "lladdr"
// field equals mac, returning its leading address field.
func matchNeighbor(data []byte, mac string) (string, bool) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		for i, f := range fields {
			if f == "lladdr" && i+1 < len(fields) && strings.EqualFold(fields[i+1], mac) {
				return fields[0], true
			}
		}
	}
	return "", false
}

// resolveSandboxIP matches id's hardware address (read from its config)
// against the DHCP leases file. An absent lease is not an error.
func (c *Controller) resolveSandboxIP(id string) (string, error) {
	mac, err := c.hardwareAddress(id)
	if err != nil || mac == "" {
		return "", nil
	}

	paths, err := c.host.Glob(c.leasesGlob)
	if err != nil {
		return "", err
	}
	for _, p := range paths {
		data, err := c.host.ReadFile(p)
		if err != nil {
			continue
		}
		if ip, ok := matchLease(data, mac); ok {
			return ip, nil
		}
	}
	return "", nil
}

// matchLease scans dnsmasq leases-file text for a line whose second field
// (hardware address) equals mac, returning its third field (IPv4).
func matchLease(data []byte, mac string) (string, bool) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		if strings.EqualFold(fields[1], mac) {
			return fields[2], true
		}
	}
	return "", false
}

func (c *Controller) hardwareAddress(id string) (string, error) {
	path := filepath.Join(c.lxcDir, id, "config")
	data, err := c.host.ReadFile(path)
	if err != nil {
		return "", nil
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, hwaddrKey) {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		return strings.TrimSpace(parts[1]), nil
	}
	return "", scanner.Err()
}

// NetworkLink returns the sandbox's configured overlay link name, used by
// SetAcceptRA at START.
func (c *Controller) NetworkLink(id string) (string, error) {
	path := filepath.Join(c.lxcDir, id, "config")
	data, err := c.host.ReadFile(path)
	if err != nil {
		return "", err
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, linkKey) {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		return strings.TrimSpace(parts[1]), nil
	}
	return "", fmt.Errorf("network: no %s in %s", linkKey, path)
}
