package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cuemby/sandboxd/pkg/types"
	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "send-event ID EVENT",
	Short: "Send a lifecycle event to a sandbox",
	Long: `Send a lifecycle event to a sandbox.

EVENT is one of PROVISIONING, START, OPEN_NETWORK, LAMEDUCK_NETWORK,
SHUTDOWN, REBOOT, STOP, DESTROY, ARCHIVE.

PROVISIONING additionally requires --role, --owner, and --system; the
remaining --spec-* flags are optional.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService(cmd)
		if err != nil {
			return err
		}

		id, event := args[0], types.Event(strings.ToUpper(args[1]))

		var spec *types.Spec
		if event == types.EventProvisioning {
			spec, err = specFromFlags(cmd)
			if err != nil {
				return err
			}
		}

		resp := svc.SendEvent(context.Background(), id, event, spec)
		fmt.Printf("%s: %s\n", resp.Status, resp.Description)
		if resp.Status != types.StatusSuccess {
			return fmt.Errorf("event rejected")
		}
		return nil
	},
}

func specFromFlags(cmd *cobra.Command) (*types.Spec, error) {
	role, _ := cmd.Flags().GetString("role")
	owner, _ := cmd.Flags().GetString("owner")
	version, _ := cmd.Flags().GetString("spec-version")
	system, _ := cmd.Flags().GetString("system")
	systemOptions, _ := cmd.Flags().GetString("system-options")
	disk, _ := cmd.Flags().GetString("disk")
	portsRaw, _ := cmd.Flags().GetStringSlice("port")

	if role == "" || owner == "" || system == "" {
		return nil, fmt.Errorf("PROVISIONING requires --role, --owner, and --system")
	}

	ports := make([]int, 0, len(portsRaw))
	for _, p := range portsRaw {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid --port %q: %w", p, err)
		}
		ports = append(ports, n)
	}

	return &types.Spec{
		Role:          role,
		Owner:         owner,
		Version:       version,
		System:        system,
		SystemOptions: systemOptions,
		Requirements: types.Requirements{
			Disk:  disk,
			Ports: ports,
		},
	}, nil
}

func init() {
	eventCmd.Flags().String("role", "", "PROVISIONING: sandbox role (no '.' or '-')")
	eventCmd.Flags().String("owner", "", "PROVISIONING: sandbox owner (no '-')")
	eventCmd.Flags().String("spec-version", "", "PROVISIONING: version label")
	eventCmd.Flags().String("system", "", "PROVISIONING: lxc-create template/system name")
	eventCmd.Flags().String("system-options", "", "PROVISIONING: extra lxc-create template options")
	eventCmd.Flags().String("disk", "", "PROVISIONING: LVM rootfs size (e.g. 4G); empty means directory-backed")
	eventCmd.Flags().StringSlice("port", nil, "PROVISIONING: reserved port (repeatable)")
}
