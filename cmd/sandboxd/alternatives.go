package main

import (
	"context"
	"fmt"

	"github.com/cuemby/sandboxd/pkg/types"
	"github.com/spf13/cobra"
)

var alternativesCmd = &cobra.Command{
	Use:   "alternatives",
	Short: "Inspect and control the (role, owner) alternatives registry",
}

var alternativesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every registered (role, owner) generic name",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService(cmd)
		if err != nil {
			return err
		}
		names, err := svc.GetGenericNames(context.Background())
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Printf("%s\t%s\n", n.Role, n.Owner)
		}
		return nil
	},
}

var alternativesGetCmd = &cobra.Command{
	Use:   "get ROLE OWNER",
	Short: "Print a generic name's current selection and candidates",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService(cmd)
		if err != nil {
			return err
		}
		view, err := svc.GetAlternatives(context.Background(), types.GenericName{Role: args[0], Owner: args[1]})
		if err != nil {
			return err
		}
		fmt.Printf("mode: %s\n", view.Mode)
		fmt.Printf("current: %s -> %s\n", view.CurrentSandboxID, view.CurrentTargetPath)
		for _, alt := range view.Alternatives {
			fmt.Printf("  %s\t priority=%d\t %s\n", alt.SandboxID, alt.Priority, alt.TargetPath)
		}
		return nil
	},
}

var alternativesSetCmd = &cobra.Command{
	Use:   "set ROLE OWNER [SANDBOX_ID]",
	Short: "Pin a generic name to SANDBOX_ID, or omit it to restore auto selection",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService(cmd)
		if err != nil {
			return err
		}
		sandboxID := ""
		if len(args) == 3 {
			sandboxID = args[2]
		}
		resp := svc.SetAlternative(context.Background(), types.GenericName{Role: args[0], Owner: args[1]}, sandboxID)
		fmt.Printf("%s: %s\n", resp.Status, resp.Description)
		if resp.Status != types.StatusSuccess {
			return fmt.Errorf("set alternative failed")
		}
		return nil
	},
}

func init() {
	alternativesCmd.AddCommand(alternativesListCmd)
	alternativesCmd.AddCommand(alternativesGetCmd)
	alternativesCmd.AddCommand(alternativesSetCmd)
}
