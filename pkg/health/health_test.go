package health

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/cuemby/sandboxd/pkg/hostadapter"
	"github.com/cuemby/sandboxd/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	ip  string
	err error
}

func (f fakeResolver) SandboxIPv4(id string) (string, error) { return f.ip, f.err }

func TestIsReadyNotRunning(t *testing.T) {
	p := New(hostadapter.NewFake(), fakeResolver{ip: "10.0.0.5"})
	store, err := ports.NewStore(nil)
	require.NoError(t, err)

	ready, err := p.IsReady(context.Background(), "sbox-1", "STOPPED", store)
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestIsReadyNoLeaseYet(t *testing.T) {
	p := New(hostadapter.NewFake(), fakeResolver{ip: ""})
	store, err := ports.NewStore(nil)
	require.NoError(t, err)

	ready, err := p.IsReady(context.Background(), "sbox-1", RunningState, store)
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestIsReadyHTTPStatusZ(t *testing.T) {
	fake := hostadapter.NewFake()
	fake.URLs["http://10.0.0.5:9000/healthz"] = []byte("ok")
	p := New(fake, fakeResolver{ip: "10.0.0.5"})
	store, err := ports.NewStore([]byte("9000 statusz\n"))
	require.NoError(t, err)

	ready, err := p.IsReady(context.Background(), "sbox-1", RunningState, store)
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestIsReadyHTTPStatusZWrongBody(t *testing.T) {
	fake := hostadapter.NewFake()
	fake.URLs["http://10.0.0.5:9000/healthz"] = []byte("not ok")
	p := New(fake, fakeResolver{ip: "10.0.0.5"})
	store, err := ports.NewStore([]byte("9000 statusz\n"))
	require.NoError(t, err)

	ready, err := p.IsReady(context.Background(), "sbox-1", RunningState, store)
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestIsReadyTCPFallback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	p := New(hostadapter.NewFake(), fakeResolver{ip: "127.0.0.1"})
	p.dialer = func(ctx context.Context, network, addr string) (net.Conn, error) {
		d := net.Dialer{}
		return d.DialContext(ctx, network, net.JoinHostPort("127.0.0.1", port))
	}
	store, err := ports.NewStore(nil) // no reserved ports -> defaults to 22, overridden by dialer above
	require.NoError(t, err)

	ready, err := p.IsReady(context.Background(), "sbox-1", RunningState, store)
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestIsBootTrueWhenRunningButNotReady(t *testing.T) {
	p := New(hostadapter.NewFake(), fakeResolver{ip: ""})
	store, err := ports.NewStore(nil)
	require.NoError(t, err)

	boot, err := p.IsBoot(context.Background(), "sbox-1", RunningState, store)
	require.NoError(t, err)
	assert.True(t, boot)
}

func TestIsReadyPropagatesResolverError(t *testing.T) {
	p := New(hostadapter.NewFake(), fakeResolver{err: errors.New("boom")})
	store, err := ports.NewStore(nil)
	require.NoError(t, err)

	_, err = p.IsReady(context.Background(), "sbox-1", RunningState, store)
	assert.Error(t, err)
}
