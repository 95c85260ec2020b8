// Command takliftui is the operator console for a taklif instance. It starts
// the daemon when none is running.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/usat-ai-lab/taklif/internal/api"
	"github.com/usat-ai-lab/taklif/internal/config"
	"github.com/usat-ai-lab/taklif/internal/console"
	"github.com/usat-ai-lab/taklif/internal/instance"
)

func main() {
	instanceFlag := flag.String("instance", "", "instance name (overrides config default)")
	configFlag := flag.String("config", "", "config file (default ~/.taklif/config.toml)")
	flag.Parse()

	name := instance.Resolve(*instanceFlag)
	if err := instance.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	configPath := *configFlag
	if configPath == "" {
		configPath = instance.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	socketPath := instance.SocketPath(name)
	c, err := api.Dial(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to daemon: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if !probe(c) {
		fmt.Fprintf(os.Stderr, "daemon not running for instance %q, starting...\n", name)
		if err := startDaemon(name, *configFlag); err != nil {
			fmt.Fprintf(os.Stderr, "failed to start daemon: %v\n", err)
			os.Exit(1)
		}
		if !waitForDaemon(c, 15*time.Second) {
			fmt.Fprintf(os.Stderr, "daemon did not become ready\n")
			os.Exit(1)
		}
	}

	app := console.NewApp(c, instance.DataDir(name, cfg.Store.DataDir))
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func probe(c *api.Client) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.Probe(ctx)
}

func startDaemon(name, configPath string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	daemon := filepath.Join(filepath.Dir(executable), "taklifd")
	if _, err := os.Stat(daemon); err != nil {
		daemon = "taklifd"
	}

	args := []string{"--instance", name}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	cmd := exec.Command(daemon, args...)
	// Inherit stderr so daemon startup errors are visible.
	cmd.Stderr = os.Stderr
	return cmd.Start()
}

// waitForDaemon polls the health service until the daemon answers.
func waitForDaemon(c *api.Client, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if probe(c) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}
