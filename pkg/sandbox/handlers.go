package sandbox

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/cuemby/sandboxd/pkg/types"
	"github.com/cuemby/sandboxd/pkg/worker"
)

var (
	// ErrInvalidRoleName is returned when a PROVISIONING request's role
	// contains "." or "-".
	ErrInvalidRoleName = errors.New("invalid role name")
	// ErrInvalidOwnerName is returned when a PROVISIONING request's owner
	// contains "-".
	ErrInvalidOwnerName = errors.New("invalid owner name")
)

var (
	invalidRoleRe  = regexp.MustCompile(`[.\-]`)
	invalidOwnerRe = regexp.MustCompile(`-`)
)

func validateSpec(spec *types.Spec) error {
	if invalidRoleRe.MatchString(spec.Role) {
		return fmt.Errorf("%w: %q", ErrInvalidRoleName, spec.Role)
	}
	if invalidOwnerRe.MatchString(spec.Owner) {
		return fmt.Errorf("%w: %q", ErrInvalidOwnerName, spec.Owner)
	}
	return nil
}

func (s *Sandbox) handleStart(ctx context.Context) types.EventResponse {
	if link, err := s.deps.Network.NetworkLink(s.id); err == nil {
		if _, err := s.deps.Network.SetAcceptRA(link); err != nil {
			return failResponse(err)
		}
	}

	if _, err := s.deps.Host.Exec(ctx, "lxc-start", "-n", s.id, "-d"); err != nil {
		return failResponse(err)
	}

	store, err := s.portsStore()
	if err != nil {
		return failResponse(err)
	}
	if port, ok := store.StatusZPort(); ok {
		if _, err := s.deps.Network.OpenNetwork(ctx, s.id, store.ReservedPorts(), []int{port}); err != nil {
			return failResponse(err)
		}
	}
	return success("started")
}

func (s *Sandbox) handleOpenNetwork(ctx context.Context) types.EventResponse {
	store, err := s.portsStore()
	if err != nil {
		return failResponse(err)
	}
	report, err := s.deps.Network.OpenNetwork(ctx, s.id, store.ReservedPorts(), nil)
	if err != nil {
		return failResponse(err)
	}
	return success(report)
}

func (s *Sandbox) handleLameduck(ctx context.Context, rejectStatusz bool) types.EventResponse {
	store, err := s.portsStore()
	if err != nil {
		return failResponse(err)
	}
	port, hasStatusz := store.StatusZPort()
	report, err := s.deps.Network.Lameduck(ctx, s.id, port, hasStatusz, rejectStatusz)
	if err != nil {
		return failResponse(err)
	}
	return success(report)
}

func (s *Sandbox) handleShutdown(ctx context.Context) types.EventResponse {
	if _, err := s.deps.Host.Exec(ctx, "lxc-stop", "-n", s.id); err != nil {
		return failResponse(err)
	}
	return s.handleLameduck(ctx, true)
}

func (s *Sandbox) handleReboot(ctx context.Context) types.EventResponse {
	if _, err := s.deps.Host.Exec(ctx, "lxc-stop", "-n", s.id, "--reboot"); err != nil {
		return failResponse(err)
	}
	return success("rebooting")
}

func (s *Sandbox) handleStop(ctx context.Context) types.EventResponse {
	if _, err := s.deps.Host.Exec(ctx, "lxc-stop", "-n", s.id, "-k"); err != nil {
		return failResponse(err)
	}
	return s.handleLameduck(ctx, true)
}

// handleDestroy is also what ARCHIVED's lifecycle note means by "DESTROY
// removes config and alternatives entry": by the time a sandbox reaches
// ARCHIVED, ArchiveTask has already torn down the container and its config;
// this only needs to remove what's left, the alternatives registration.
func (s *Sandbox) handleDestroy(ctx context.Context) types.EventResponse {
	if s.deps.Host.Exists(s.configPath()) {
		if _, err := s.deps.Host.Exec(ctx, "lxc-destroy", "-n", s.id); err != nil {
			return failResponse(err)
		}
		if err := s.deps.Host.Remove(s.configPath()); err != nil {
			return failResponse(err)
		}
	}

	if spec, err := s.readSpec(); err == nil {
		if err := s.deps.Alternatives.Remove(ctx, spec.Role, spec.Owner, s.id); err != nil {
			return failResponse(err)
		}
	}
	return success("destroyed")
}

func (s *Sandbox) handleArchive(ctx context.Context) types.EventResponse {
	task := worker.NewArchiveTask(s.id, worker.ArchiveDeps{
		Host:    s.deps.Host,
		Rootfs:  s.deps.Rootfs,
		LXCDir:  s.deps.LXCDir,
		Archive: s.archivePath(),
		Destroy: s.finishArchive,
	})
	if err := s.worker.Enqueue(task); err != nil {
		return failResponse(err)
	}
	return success("archiving")
}

// finishArchive is ArchiveTask's container+config teardown step, run after
// the tarball is safely in place. It deliberately leaves the alternatives
// registration intact; that is removed later by an explicit DESTROY event
// against the resulting ARCHIVED state.
func (s *Sandbox) finishArchive(ctx context.Context) error {
	if _, err := s.deps.Host.Exec(ctx, "lxc-destroy", "-n", s.id); err != nil {
		return err
	}
	return s.deps.Host.Remove(s.configPath())
}

func (s *Sandbox) handleProvisioning(ctx context.Context, spec *types.Spec) types.EventResponse {
	if spec == nil {
		return failResponse(fmt.Errorf("provisioning requires a sandbox spec"))
	}
	if err := validateSpec(spec); err != nil {
		return failResponse(err)
	}

	task := worker.NewProvisioningTask(s.id, spec, worker.ProvisioningDeps{
		Host:         s.deps.Host,
		Rootfs:       s.deps.Rootfs,
		Network:      s.deps.Network,
		SharedDir:    s.deps.SharedDir,
		Alternatives: s.deps.Alternatives,
		Semaphore:    s.deps.Semaphore,
		LXCDir:       s.deps.LXCDir,
		VGName:       s.deps.VGName,
		Dev:          s.deps.Dev,
	})
	if err := s.worker.Enqueue(task); err != nil {
		return failResponse(err)
	}
	return success("provisioning")
}
