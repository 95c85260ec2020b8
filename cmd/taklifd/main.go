package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/usat-ai-lab/taklif/internal/daemon"
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

	app := fx.New(
		daemon.Module(daemon.Params{Instance: name, ConfigPath: *configFlag}),
	)

	app.Run()
}
