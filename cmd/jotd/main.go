package main

import (
	"fmt"
	"os"

	"github.com/matheus3301/jot/internal/config"
	"github.com/matheus3301/jot/internal/daemon"
	"github.com/matheus3301/jot/internal/profile"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func main() {
	var (
		p       daemon.Params
		cfgPath string
	)
	root := &cobra.Command{
		Use:           "jotd",
		Short:         "Remote record store for jot replicas",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.LoadOrDefault(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			p.Config = cfg
			p.Console = true
			fx.New(daemon.Module(p)).Run()
			return nil
		},
	}
	root.Flags().StringVar(&cfgPath, "config", profile.ConfigPath(), "config file")
	root.Flags().StringVar(&p.Listen, "listen", "", "gRPC listen address (overrides config)")
	root.Flags().StringVar(&p.AdminListen, "admin-listen", "", "admin HTTP listen address (overrides config)")
	root.Flags().StringVar(&p.DBPath, "db", "", "record store path (overrides config)")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
