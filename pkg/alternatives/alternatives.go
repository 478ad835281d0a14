// Package alternatives is a thin façade over a host alternatives tool
// (update-alternatives-shaped): it groups sandbox instances under a
// (role, owner) identity, tracks priorities, and switches which one is
// current.
package alternatives

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/cuemby/sandboxd/pkg/hostadapter"
	"github.com/cuemby/sandboxd/pkg/protofile"
	"github.com/cuemby/sandboxd/pkg/types"
)

const namePrefix = "ips-sandbox_"

// Registry is the alternatives façade, rooted at dir
// (/var/lib/ips-cell/sandbox by convention) and operating against
// /var/lib/lxc/<id> targets.
type Registry struct {
	host   hostadapter.HostAdapter
	dir    string
	lxcDir string
}

// New constructs a Registry.
func New(host hostadapter.HostAdapter, dir, lxcDir string) *Registry {
	return &Registry{host: host, dir: dir, lxcDir: lxcDir}
}

// EncodeName builds the internal alternatives name for (role, owner).
func EncodeName(role, owner string) string {
	return fmt.Sprintf("%s%s.%s", namePrefix, role, dashOwner(owner))
}

// LinkPath builds the path clients follow to reach the current sandbox for
// (role, owner).
func (r *Registry) LinkPath(role, owner string) string {
	dashed := dashOwner(owner)
	return path.Join(r.dir, dashed, fmt.Sprintf("%s.%s", role, dashed))
}

// TargetPath is the sandbox directory an alternative points at.
func (r *Registry) TargetPath(sandboxID string) string {
	return path.Join(r.lxcDir, sandboxID)
}

func dashOwner(owner string) string {
	return strings.ReplaceAll(owner, ".", "-")
}

// Install registers sandboxID as an alternative for (role, owner) with the
// given priority.
func (r *Registry) Install(ctx context.Context, role, owner, sandboxID string, priority int) error {
	name := EncodeName(role, owner)
	link := r.LinkPath(role, owner)
	target := r.TargetPath(sandboxID)
	_, err := r.host.Exec(ctx, "update-alternatives", "--install", link, name, target, strconv.Itoa(priority))
	if err != nil {
		return fmt.Errorf("alternatives: install %s: %w", name, err)
	}
	return nil
}

// Remove unregisters sandboxID as an alternative for (role, owner).
func (r *Registry) Remove(ctx context.Context, role, owner, sandboxID string) error {
	name := EncodeName(role, owner)
	target := r.TargetPath(sandboxID)
	_, err := r.host.Exec(ctx, "update-alternatives", "--remove", name, target)
	if err != nil {
		return fmt.Errorf("alternatives: remove %s: %w", name, err)
	}
	return nil
}

// SetAuto switches (role, owner) back to priority-based auto selection.
func (r *Registry) SetAuto(ctx context.Context, role, owner string) error {
	name := EncodeName(role, owner)
	if _, err := r.host.Exec(ctx, "update-alternatives", "--auto", name); err != nil {
		return fmt.Errorf("alternatives: set auto %s: %w", name, err)
	}
	return nil
}

// SetManual pins (role, owner) to sandboxID.
func (r *Registry) SetManual(ctx context.Context, role, owner, sandboxID string) error {
	name := EncodeName(role, owner)
	target := r.TargetPath(sandboxID)
	if _, err := r.host.Exec(ctx, "update-alternatives", "--set", name, target); err != nil {
		return fmt.Errorf("alternatives: set manual %s: %w", name, err)
	}
	return nil
}

var (
	linkLineRe  = regexp.MustCompile(`^\s*Link currently points to (\S+)`)
	statusLineRe = regexp.MustCompile(`^Status\s*:\s*(\S+)`)
	altLineRe   = regexp.MustCompile(`^(\S+)\s*-\s*priority\s+(-?\d+)`)
)

// Query reads the current registration for (role, owner).
func (r *Registry) Query(ctx context.Context, role, owner string) (types.AlternativesView, error) {
	name := EncodeName(role, owner)
	out, err := r.host.Exec(ctx, "update-alternatives", "--query", name)
	if err != nil {
		return types.AlternativesView{}, fmt.Errorf("alternatives: query %s: %w", name, err)
	}
	return parseQuery(out), nil
}

// parseQuery extracts the fields this package cares about from
// `update-alternatives --query` text output. Kept as its own small parser
// per spec.md §9: brittle to the tool's text format, isolated behind this
// function so it can be swapped if a structured query mode ever exists.
func parseQuery(out []byte) types.AlternativesView {
	view := types.AlternativesView{Mode: types.ModeAuto}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if m := statusLineRe.FindStringSubmatch(line); m != nil {
			if strings.EqualFold(m[1], "manual") {
				view.Mode = types.ModeManual
			}
			continue
		}
		if m := linkLineRe.FindStringSubmatch(line); m != nil {
			view.CurrentTargetPath = m[1]
			continue
		}
		if m := altLineRe.FindStringSubmatch(line); m != nil {
			priority, err := strconv.Atoi(m[2])
			if err != nil {
				continue
			}
			view.Alternatives = append(view.Alternatives, types.Alternative{
				TargetPath: m[1],
				Priority:   priority,
			})
		}
	}
	return view
}

// GetGenericNames lists every installed (role, owner) pair by asking the
// host tool for all known alternatives names and decoding each. The decode
// splits the encoded form on the first "." and returns the owner in its
// dashed form: EncodeName turned every "." of the owner into "-", so a
// decoded owner cannot tell an original "-" from an original "." —
// preserved verbatim, not fixed, per the suspected-bug note on this exact
// behavior.
func (r *Registry) GetGenericNames(ctx context.Context) ([]types.GenericName, error) {
	out, err := r.host.Exec(ctx, "update-alternatives", "--get-selections")
	if err != nil {
		return nil, fmt.Errorf("alternatives: get-selections: %w", err)
	}

	var names []types.GenericName
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		name := fields[0]
		if !strings.HasPrefix(name, namePrefix) {
			continue
		}
		encoded := strings.TrimPrefix(name, namePrefix)
		parts := strings.SplitN(encoded, ".", 2)
		if len(parts) != 2 {
			continue
		}
		names = append(names, types.GenericName{Role: parts[0], Owner: parts[1]})
	}
	return names, nil
}

// GetAlternatives enumerates the present alternatives for name, cross
// referencing the query output with each target's sandbox.proto to fill in
// the Spec each entry points at.
func (r *Registry) GetAlternatives(ctx context.Context, role, owner string) (types.AlternativesView, error) {
	view, err := r.Query(ctx, role, owner)
	if err != nil {
		return view, err
	}
	for i := range view.Alternatives {
		data, err := r.host.ReadFile(path.Join(view.Alternatives[i].TargetPath, "sandbox.proto"))
		if err != nil {
			continue // not provisioned, or already destroyed
		}
		spec, err := protofile.Unmarshal(data)
		if err != nil {
			continue
		}
		view.Alternatives[i].Spec = spec
		view.Alternatives[i].SandboxID = path.Base(view.Alternatives[i].TargetPath)
	}
	return view, nil
}

// SetAlternative pins (role, owner) to sandboxID, or switches it to auto
// selection if sandboxID is empty.
func (r *Registry) SetAlternative(ctx context.Context, role, owner, sandboxID string) error {
	if sandboxID == "" {
		return r.SetAuto(ctx, role, owner)
	}
	return r.SetManual(ctx, role, owner, sandboxID)
}
