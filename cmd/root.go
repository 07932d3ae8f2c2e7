// Package cmd implements the CLI bootstrap: flag parsing, config
// loading, and handing the resolved topology to the supervisor.
package cmd

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/easybill/mehsh/config"
	"github.com/easybill/mehsh/supervisor"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `mehsh — distributed mesh-health probing agent

Usage:
  mehsh -config <path> [options]

Options:
  -config <path>   Fleet configuration file (required).
  -name <id>       Self peer identifier; defaults to the OS hostname.
  -version         Print the version and exit.

Examples:
  mehsh -config /etc/mehsh/fleet.json
  mehsh -config ./fleet.json -name edge-fra1
`)
}

// Run parses flags, loads and resolves the fleet configuration, and runs
// the supervisor until a termination signal arrives or the Echo Server
// exits.
func Run() error {
	flag.Usage = printUsage

	configPath := flag.String("config", "", "fleet configuration file")
	name := flag.String("name", "", "self peer identifier (defaults to hostname)")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(Version)
		return nil
	}

	if *configPath == "" {
		printUsage()
		return fmt.Errorf("cmd: -config is required")
	}

	self := *name
	if self == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("cmd: could not resolve hostname, pass -name explicitly: %w", err)
		}
		self = hostname
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("cmd: %w", err)
	}
	if cfg.Self == "" || *name != "" {
		cfg.Self = self
	}
	if _, ok := cfg.Peers[cfg.Self]; !ok {
		return fmt.Errorf("cmd: self identifier %q is not a declared peer", cfg.Self)
	}

	log.Printf("mehsh %s starting as %q (%d peers, %d checks, %d analyses)",
		Version, cfg.Self, len(cfg.Peers), len(cfg.Checks), len(cfg.Analyses))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("mehsh: received %s, shutting down", sig)
		cancel()
	}()

	return supervisor.Run(ctx, cfg)
}
