// Package health implements sandbox readiness probing: an HTTP check
// against a declared statusz port, falling back to a bare TCP connect
// against the first reserved port.
package health

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/cuemby/sandboxd/pkg/hostadapter"
	"github.com/cuemby/sandboxd/pkg/ports"
)

// RunningState is the container runtime state string that must be observed
// before any readiness probe is attempted.
const RunningState = "RUNNING"

const healthzOK = "ok"

// IPResolver resolves a sandbox's current lease IPv4; "" means no lease yet.
type IPResolver interface {
	SandboxIPv4(id string) (string, error)
}

// Prober implements isReady/isBoot per spec.md §4.7.
type Prober struct {
	host    hostadapter.HostAdapter
	network IPResolver
	dialer  func(ctx context.Context, network, addr string) (net.Conn, error)
}

// New constructs a Prober.
func New(host hostadapter.HostAdapter, network IPResolver) *Prober {
	return &Prober{
		host:    host,
		network: network,
		dialer: func(ctx context.Context, network, addr string) (net.Conn, error) {
			d := net.Dialer{Timeout: 2 * time.Second}
			return d.DialContext(ctx, network, addr)
		},
	}
}

// IsReady reports whether id is serving traffic: the runtime must report
// RUNNING, a lease must exist, and either the declared statusz endpoint
// answers "ok" or (absent one) a bare TCP connect to the first reserved
// port succeeds.
func (p *Prober) IsReady(ctx context.Context, id, runtimeState string, store *ports.Store) (bool, error) {
	if runtimeState != RunningState {
		return false, nil
	}
	ip, err := p.network.SandboxIPv4(id)
	if err != nil {
		return false, err
	}
	if ip == "" {
		return false, nil
	}

	if port, ok := store.StatusZPort(); ok {
		return p.probeHTTP(ctx, ip, port)
	}
	return p.probeTCP(ctx, ip, firstPortOrSSH(store))
}

// IsBoot reports whether id's runtime is up but not yet ready.
func (p *Prober) IsBoot(ctx context.Context, id, runtimeState string, store *ports.Store) (bool, error) {
	if runtimeState != RunningState {
		return false, nil
	}
	ready, err := p.IsReady(ctx, id, runtimeState, store)
	if err != nil {
		return false, err
	}
	return !ready, nil
}

func firstPortOrSSH(store *ports.Store) int {
	reserved := store.ReservedPorts()
	if len(reserved) == 0 {
		return 22
	}
	return reserved[0]
}

// probeHTTP retries transient network errors with a short bounded backoff;
// a reachable-but-wrong body is a definitive "not ready", not retried.
func (p *Prober) probeHTTP(ctx context.Context, ip string, port int) (bool, error) {
	url := fmt.Sprintf("http://%s:%d/healthz", ip, port)

	var body []byte
	operation := func() error {
		b, err := p.host.URLGet(ctx, url)
		if err != nil {
			return err
		}
		body = b
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	if err := backoff.Retry(operation, policy); err != nil {
		return false, nil
	}
	return string(body) == healthzOK, nil
}

func (p *Prober) probeTCP(ctx context.Context, ip string, port int) (bool, error) {
	addr := fmt.Sprintf("%s:%d", ip, port)

	var conn net.Conn
	operation := func() error {
		c, err := p.dialer(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	if err := backoff.Retry(operation, policy); err != nil {
		return false, nil
	}
	conn.Close()
	return true, nil
}
