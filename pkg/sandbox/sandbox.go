// Package sandbox implements the sandbox state machine: deriving current
// state from host observations, validating requested events against the
// allowed-event matrix, and dispatching to synchronous handlers or the
// per-sandbox task worker.
package sandbox

import (
	"context"
	"fmt"
	"path"

	"github.com/cuemby/sandboxd/pkg/alternatives"
	"github.com/cuemby/sandboxd/pkg/hostadapter"
	"github.com/cuemby/sandboxd/pkg/health"
	"github.com/cuemby/sandboxd/pkg/network"
	"github.com/cuemby/sandboxd/pkg/ports"
	"github.com/cuemby/sandboxd/pkg/protofile"
	"github.com/cuemby/sandboxd/pkg/rootfs"
	"github.com/cuemby/sandboxd/pkg/shareddir"
	"github.com/cuemby/sandboxd/pkg/types"
	"github.com/cuemby/sandboxd/pkg/worker"
)

// Deps bundles the collaborators every Sandbox needs. These are
// process-wide singletons constructed once at startup and injected, never
// reached through a global.
type Deps struct {
	Host         hostadapter.HostAdapter
	Rootfs       *rootfs.Mounter
	Network      *network.Controller
	Health       *health.Prober
	SharedDir    *shareddir.Manager
	Alternatives *alternatives.Registry
	Semaphore    *worker.ProvisioningSemaphore

	LXCDir     string
	ArchiveDir string
	VGName     string
	Dev        string
}

// Sandbox is one container-like isolated environment, identified by id.
// Its state is never stored on the struct; every query recomputes it from
// the deps above.
type Sandbox struct {
	id     string
	deps   Deps
	worker *worker.Worker
}

// New constructs a Sandbox and starts its task-worker daemon goroutine.
func New(id string, deps Deps) *Sandbox {
	return &Sandbox{id: id, deps: deps, worker: worker.New(id)}
}

// ID returns the sandbox identifier.
func (s *Sandbox) ID() string { return s.id }

func (s *Sandbox) dir() string          { return path.Join(s.deps.LXCDir, s.id) }
func (s *Sandbox) configPath() string   { return path.Join(s.dir(), "config") }
func (s *Sandbox) protoPath() string    { return path.Join(s.dir(), "sandbox.proto") }
func (s *Sandbox) portsPath() string    { return path.Join(s.dir(), "ports") }
func (s *Sandbox) helpPath() string     { return path.Join(s.dir(), "help") }
func (s *Sandbox) archivePath() string  { return worker.ArchivePath(s.deps.ArchiveDir, s.id) }

func (s *Sandbox) portsStore() (*ports.Store, error) {
	data, err := s.deps.Host.ReadFile(s.portsPath())
	if err != nil {
		data = nil
	}
	return ports.NewStore(data)
}

func (s *Sandbox) readSpec() (*types.Spec, error) {
	data, err := s.deps.Host.ReadFile(s.protoPath())
	if err != nil {
		return nil, err
	}
	return protofile.Unmarshal(data)
}

// Help returns the sandbox's free-text operator aid, or "" if none is set.
func (s *Sandbox) Help() string {
	data, err := s.deps.Host.ReadFile(s.helpPath())
	if err != nil {
		return ""
	}
	return string(data)
}

// SetHelp overwrites the sandbox's operator aid.
func (s *Sandbox) SetHelp(text string) error {
	return s.deps.Host.WriteFileAtomic(s.helpPath(), []byte(text), 0o644, ".t")
}

// Ports returns the sandbox's currently declared reserved ports.
func (s *Sandbox) Ports() ([]int, error) {
	store, err := s.portsStore()
	if err != nil {
		return nil, err
	}
	return store.ReservedPorts(), nil
}

// GetState derives the current state and a human description: the progress
// of the worker's current or most recent task, or "" if it has run none.
func (s *Sandbox) GetState(ctx context.Context) (types.State, string) {
	state, _ := s.deriveState(ctx)
	description := ""
	if snapshot, ok := s.worker.Snapshot(); ok {
		description = snapshot.Progress
	}
	return state, description
}

// SendEvent validates event against the allowed-event matrix for the
// sandbox's current derived state, then dispatches it. An event rejected
// by the matrix never reaches a handler, so it never issues a host command
// beyond whatever state derivation itself required.
func (s *Sandbox) SendEvent(ctx context.Context, event types.Event, spec *types.Spec) types.EventResponse {
	state, err := s.deriveState(ctx)
	if err != nil {
		return failResponse(err)
	}
	if !allowedEvents[state][event] {
		return types.EventResponse{
			Status:      types.StatusFailed,
			Description: fmt.Sprintf("%s not allowed in the current status.", event),
		}
	}

	switch event {
	case types.EventStart:
		return s.handleStart(ctx)
	case types.EventOpenNetwork:
		return s.handleOpenNetwork(ctx)
	case types.EventLameduckNetwork:
		return s.handleLameduck(ctx, false)
	case types.EventShutdown:
		return s.handleShutdown(ctx)
	case types.EventReboot:
		return s.handleReboot(ctx)
	case types.EventStop:
		return s.handleStop(ctx)
	case types.EventDestroy:
		return s.handleDestroy(ctx)
	case types.EventArchive:
		return s.handleArchive(ctx)
	case types.EventProvisioning:
		return s.handleProvisioning(ctx, spec)
	default:
		return types.EventResponse{
			Status:      types.StatusFailed,
			Description: fmt.Sprintf("%s not allowed in the current status.", event),
		}
	}
}

func success(description string) types.EventResponse {
	return types.EventResponse{Status: types.StatusSuccess, Description: description}
}

func failResponse(err error) types.EventResponse {
	return types.EventResponse{Status: types.StatusFailed, Description: err.Error()}
}
