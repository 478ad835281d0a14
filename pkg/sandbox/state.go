package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"regexp"
	"strings"

	"github.com/cuemby/sandboxd/pkg/health"
	"github.com/cuemby/sandboxd/pkg/types"
)

// allowedEvents is the allowed-event matrix from the state machine design.
// FAILED's matrix entry lists PROVISIONING once: the design's duplicate
// listing is treated as the same single-element set.
var allowedEvents = map[types.State]map[types.Event]bool{
	types.StateNone:         {types.EventProvisioning: true},
	types.StateFailed:       {types.EventProvisioning: true},
	types.StateStop:         {types.EventStart: true, types.EventArchive: true},
	types.StateBoot:         {types.EventReboot: true, types.EventShutdown: true, types.EventLameduckNetwork: true, types.EventStop: true},
	types.StateReady:        {types.EventReboot: true, types.EventShutdown: true, types.EventOpenNetwork: true, types.EventLameduckNetwork: true, types.EventStop: true},
	types.StateArchived:     {types.EventDestroy: true},
	types.StateProvisioning: {},
	types.StateArchiving:    {},
}

var runtimeStateLineRe = regexp.MustCompile(`(?i)^state:\s*(\S+)`)

// RuntimeState returns the container runtime's reported state, or "" if it
// cannot be determined. Exposed for SandboxService's host-wide enumeration.
func (s *Sandbox) RuntimeState(ctx context.Context) string {
	return s.runtimeState(ctx)
}

// runtimeState returns the container runtime's reported state, or "" if it
// cannot be determined (not yet created, tool error).
func (s *Sandbox) runtimeState(ctx context.Context) string {
	out, err := s.deps.Host.Exec(ctx, "lxc-info", "-n", s.id)
	if err != nil {
		return ""
	}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		if m := runtimeStateLineRe.FindStringSubmatch(scanner.Text()); m != nil {
			return strings.ToUpper(m[1])
		}
	}
	return ""
}

// deriveState computes the sandbox's current state per the fixed
// precedence order: first matching predicate wins.
func (s *Sandbox) deriveState(ctx context.Context) (types.State, error) {
	configExists := s.deps.Host.Exists(s.configPath())
	archiveExists := s.deps.Host.Exists(s.archivePath())
	snapshot, hasTask := s.worker.Snapshot()

	runtimeState := s.runtimeState(ctx)
	isRunning := runtimeState == health.RunningState

	ready := false
	if isRunning {
		store, err := s.portsStore()
		if err == nil {
			ready, _ = s.deps.Health.IsReady(ctx, s.id, runtimeState, store)
		}
	}

	provisioning := hasTask && snapshot.Kind == types.TaskKindProvisioning
	archiving := hasTask && snapshot.Kind == types.TaskKindArchive

	switch {
	case isRunning && ready:
		return types.StateReady, nil
	case isRunning && !ready:
		return types.StateBoot, nil
	case provisioning && snapshot.Substatus == types.SubstatusCreating:
		return types.StateProvisioning, nil
	case archiving && snapshot.Substatus == types.SubstatusArchiving:
		return types.StateArchiving, nil
	case !configExists && archiveExists:
		return types.StateArchived, nil
	case provisioning && snapshot.Substatus == types.SubstatusFailed:
		return types.StateFailed, nil
	case !isRunning && configExists && !archiveExists && !archiving:
		return types.StateStop, nil
	case !configExists && !archiveExists && !hasTask:
		return types.StateNone, nil
	default:
		return types.StateNone, nil
	}
}
