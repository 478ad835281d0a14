package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var sandboxesCmd = &cobra.Command{
	Use:   "get-sandboxes",
	Short: "List known sandbox IDs",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService(cmd)
		if err != nil {
			return err
		}
		ids, err := svc.GetSandboxes(context.Background())
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

var stateCmd = &cobra.Command{
	Use:   "get-state ID",
	Short: "Print a sandbox's derived state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService(cmd)
		if err != nil {
			return err
		}
		resp := svc.GetState(context.Background(), args[0])
		fmt.Printf("%s\n", resp.State)
		if resp.Description != "" {
			fmt.Println(resp.Description)
		}
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "get-info ID",
	Short: "Print a sandbox's free-text diagnostic info",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService(cmd)
		if err != nil {
			return err
		}
		out, err := svc.GetInfo(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "get-status",
	Short: "Print a host-wide container listing (lxc-ls --fancy)",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService(cmd)
		if err != nil {
			return err
		}
		out, err := svc.GetStatus(context.Background())
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

var helpTextCmd = &cobra.Command{
	Use:   "help",
	Short: "Get or set a sandbox's free-text operator aid",
}

var helpGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Print a sandbox's help text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService(cmd)
		if err != nil {
			return err
		}
		fmt.Println(svc.Help(args[0]))
		return nil
	},
}

var helpSetCmd = &cobra.Command{
	Use:   "set ID TEXT",
	Short: "Set a sandbox's help text",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newService(cmd)
		if err != nil {
			return err
		}
		return svc.SetHelp(args[0], args[1])
	},
}

func init() {
	helpTextCmd.AddCommand(helpGetCmd)
	helpTextCmd.AddCommand(helpSetCmd)
}
