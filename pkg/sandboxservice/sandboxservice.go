// Package sandboxservice is the public control-plane façade: enumerate,
// get-info, get-state, send-event, and the alternatives operations. It
// resolves a target Sandbox or GenericName and otherwise holds no logic of
// its own — every operation here is a thin dispatch over pkg/sandbox and
// pkg/alternatives.
package sandboxservice

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/cuemby/sandboxd/pkg/alternatives"
	"github.com/cuemby/sandboxd/pkg/hostadapter"
	"github.com/cuemby/sandboxd/pkg/health"
	"github.com/cuemby/sandboxd/pkg/network"
	"github.com/cuemby/sandboxd/pkg/rootfs"
	"github.com/cuemby/sandboxd/pkg/sandbox"
	"github.com/cuemby/sandboxd/pkg/shareddir"
	"github.com/cuemby/sandboxd/pkg/types"
	"github.com/cuemby/sandboxd/pkg/worker"
)

// excludedRuntimeStates are the runtime states GetSandboxes filters OUT.
// Preserved verbatim from the source behavior this enumeration is modeled
// on: it excludes every state a live container can actually report, which
// leaves only containers in some unrecognized state. See DESIGN.md.
var excludedRuntimeStates = map[string]bool{
	"RUNNING": true,
	"FROZEN":  true,
	"STOPPED": true,
}

// Service is the process-wide SandboxService singleton.
type Service struct {
	host         hostadapter.HostAdapter
	alternatives *alternatives.Registry

	lxcDir     string
	archiveDir string

	sandboxDeps sandbox.Deps

	mu       sync.Mutex
	sandboxes map[string]*sandbox.Sandbox
}

// New constructs a Service. lxcDir and archiveDir mirror the config options
// of the same name.
func New(
	host hostadapter.HostAdapter,
	rootfsMounter *rootfs.Mounter,
	net *network.Controller,
	prober *health.Prober,
	shared *shareddir.Manager,
	alts *alternatives.Registry,
	sem *worker.ProvisioningSemaphore,
	lxcDir, archiveDir, vgName, dev string,
) *Service {
	return &Service{
		host:         host,
		alternatives: alts,
		lxcDir:       lxcDir,
		archiveDir:   archiveDir,
		sandboxDeps: sandbox.Deps{
			Host:         host,
			Rootfs:       rootfsMounter,
			Network:      net,
			Health:       prober,
			SharedDir:    shared,
			Alternatives: alts,
			Semaphore:    sem,
			LXCDir:       lxcDir,
			ArchiveDir:   archiveDir,
			VGName:       vgName,
			Dev:          dev,
		},
		sandboxes: map[string]*sandbox.Sandbox{},
	}
}

// sandboxFor returns the cached Sandbox for id, constructing (and starting
// its worker) on first use.
func (s *Service) sandboxFor(id string) *sandbox.Sandbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sb, ok := s.sandboxes[id]; ok {
		return sb
	}
	sb := sandbox.New(id, s.sandboxDeps)
	s.sandboxes[id] = sb
	return sb
}

// GetSandboxes returns the union of containers whose runtime state is not
// RUNNING/FROZEN/STOPPED and archived tarballs, lexicographically ordered.
// The apparent state filter is retained verbatim for bug-compatibility.
func (s *Service) GetSandboxes(ctx context.Context) ([]string, error) {
	set := map[string]bool{}

	dirs, err := s.host.Glob(path.Join(s.lxcDir, "*"))
	if err != nil {
		return nil, fmt.Errorf("sandboxservice: list %s: %w", s.lxcDir, err)
	}
	for _, d := range dirs {
		id := path.Base(d)
		state := s.sandboxFor(id).RuntimeState(ctx)
		if !excludedRuntimeStates[state] {
			set[id] = true
		}
	}

	archives, err := s.host.Glob(path.Join(s.archiveDir, "*.tar.bz2"))
	if err == nil {
		for _, a := range archives {
			set[strings.TrimSuffix(path.Base(a), ".tar.bz2")] = true
		}
	}

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// GetGenericNames lists every installed (role, owner) pair.
func (s *Service) GetGenericNames(ctx context.Context) ([]types.GenericName, error) {
	return s.alternatives.GetGenericNames(ctx)
}

// GetAlternatives returns the registry view for name.
func (s *Service) GetAlternatives(ctx context.Context, name types.GenericName) (types.AlternativesView, error) {
	return s.alternatives.GetAlternatives(ctx, name.Role, name.Owner)
}

// SetAlternative pins name to sandboxID, or switches it to auto selection
// if sandboxID is "".
func (s *Service) SetAlternative(ctx context.Context, name types.GenericName, sandboxID string) types.EventResponse {
	if err := s.alternatives.SetAlternative(ctx, name.Role, name.Owner, sandboxID); err != nil {
		return types.EventResponse{Status: types.StatusFailed, Description: err.Error()}
	}
	return types.EventResponse{Status: types.StatusSuccess}
}

// GetStatus returns a host-wide container listing.
func (s *Service) GetStatus(ctx context.Context) (string, error) {
	out, err := s.host.Exec(ctx, "lxc-ls", "--fancy")
	if err != nil {
		return "", fmt.Errorf("sandboxservice: get status: %w", err)
	}
	return string(out), nil
}

// GetInfo returns id's free-text diagnostic info.
func (s *Service) GetInfo(ctx context.Context, id string) (string, error) {
	return s.sandboxFor(id).GetInfo(ctx)
}

// Help returns id's free-text operator aid, or "" if none is set.
func (s *Service) Help(id string) string {
	return s.sandboxFor(id).Help()
}

// SetHelp overwrites id's free-text operator aid.
func (s *Service) SetHelp(id, text string) error {
	return s.sandboxFor(id).SetHelp(text)
}

// Ports returns id's currently declared reserved ports.
func (s *Service) Ports(id string) ([]int, error) {
	return s.sandboxFor(id).Ports()
}

// StateResponse is getState's response shape.
type StateResponse struct {
	State       types.State
	Description string
}

// GetState derives id's current state.
func (s *Service) GetState(ctx context.Context, id string) StateResponse {
	state, description := s.sandboxFor(id).GetState(ctx)
	return StateResponse{State: state, Description: description}
}

// SendEvent dispatches event against id's current state.
func (s *Service) SendEvent(ctx context.Context, id string, event types.Event, spec *types.Spec) types.EventResponse {
	return s.sandboxFor(id).SendEvent(ctx, event, spec)
}
