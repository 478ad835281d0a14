package main

import (
	"fmt"
	"os"

	"github.com/cuemby/sandboxd/pkg/alternatives"
	"github.com/cuemby/sandboxd/pkg/config"
	"github.com/cuemby/sandboxd/pkg/health"
	"github.com/cuemby/sandboxd/pkg/hostadapter"
	"github.com/cuemby/sandboxd/pkg/log"
	"github.com/cuemby/sandboxd/pkg/network"
	"github.com/cuemby/sandboxd/pkg/rootfs"
	"github.com/cuemby/sandboxd/pkg/sandboxservice"
	"github.com/cuemby/sandboxd/pkg/shareddir"
	"github.com/cuemby/sandboxd/pkg/worker"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sandboxd",
	Short: "sandboxd - sandbox lifecycle manager for the local host",
	Long: `sandboxd derives and drives the lifecycle of LXC-backed sandboxes:
provisioning, starting, network exposure, archiving, and destruction.

It is the core invoked directly by a transport (RPC/HTTP) running
alongside it; this CLI exercises the same core for operators and tests.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("sandboxd version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to sandboxd.toml (defaults to $SANDBOXD_CONFIG or /etc/sandboxd/sandboxd.toml)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(sandboxesCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(eventCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(helpTextCmd)
	rootCmd.AddCommand(alternativesCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// configPath resolves the config file per spec.md §6's search order:
// --config flag, then $SANDBOXD_CONFIG, then the default location.
func configPath(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("config"); p != "" {
		return p
	}
	if p := os.Getenv("SANDBOXD_CONFIG"); p != "" {
		return p
	}
	return "/etc/sandboxd/sandboxd.toml"
}

// newService builds the process-wide Service and its full dependency graph
// from the resolved config. Every CLI command goes through this: there is no
// long-lived daemon process here, so each invocation pays construction cost
// again, matching a stateless CLI tool rather than a server.
func newService(cmd *cobra.Command) (*sandboxservice.Service, error) {
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	host := hostadapter.NewReal()
	net := network.New(host, cfg.LXCDir, cfg.LeasesGlob, cfg.Dev)
	prober := health.New(host, net)
	rootfsMounter := rootfs.New(host, cfg.LXCDir)
	shared := shareddir.New(host, cfg.SharedDir)
	alts := alternatives.New(host, cfg.AlternativesDir, cfg.LXCDir)
	sem := worker.NewProvisioningSemaphore()

	return sandboxservice.New(host, rootfsMounter, net, prober, shared, alts, sem,
		cfg.LXCDir, cfg.ArchiveDir, cfg.SandboxVGName, cfg.Dev), nil
}
