// Command taklifctl inspects and drives a running taklifd instance.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/usat-ai-lab/taklif/internal/api"
	"github.com/usat-ai-lab/taklif/internal/config"
	"github.com/usat-ai-lab/taklif/internal/instance"
)

var (
	instanceFlag string
	configFlag   string
	jsonOut      bool
	timeout      time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "taklifctl",
	Short:         "Inspect and drive a taklif daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return instance.ValidateName(instanceName())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&instanceFlag, "instance", "", "instance name (overrides config default)")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "config file (default ~/.taklif/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "daemon call timeout")

	rootCmd.AddCommand(statusCmd, pendingCmd, historyCmd, syncNowCmd, qrCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func instanceName() string {
	return instance.Resolve(instanceFlag)
}

func configPath() string {
	if configFlag != "" {
		return configFlag
	}
	return instance.ConfigPath()
}

func loadConfig() (*config.Config, error) {
	return config.LoadOrDefault(configPath())
}

// dial connects to the instance daemon. ok is false when it does not answer
// health checks; the client is closed in that case.
func dial(ctx context.Context) (c *api.Client, ok bool, err error) {
	c, err = api.Dial(instance.SocketPath(instanceName()))
	if err != nil {
		return nil, false, err
	}
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if !c.Probe(probeCtx) {
		_ = c.Close()
		return nil, false, nil
	}
	return c, true, nil
}

// mustDial is dial for commands that need the daemon.
func mustDial(ctx context.Context) (*api.Client, error) {
	c, ok, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("daemon for instance %q is not running", instanceName())
	}
	return c, nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func outputJSON(cmd *cobra.Command, m proto.Message) error {
	data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(m)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
