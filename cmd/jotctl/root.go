package main

import (
	"context"
	"fmt"

	"github.com/matheus3301/jot/internal/bus"
	"github.com/matheus3301/jot/internal/config"
	"github.com/matheus3301/jot/internal/profile"
	"github.com/matheus3301/jot/internal/replica"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var globals struct {
	profile string
	json    bool
	debug   bool
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "jotctl",
		Short:         "Offline-first chat replica",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&globals.profile, "profile", "", "profile name (overrides config default)")
	root.PersistentFlags().BoolVar(&globals.json, "json", false, "output in JSON format")
	root.PersistentFlags().BoolVar(&globals.debug, "debug", false, "log at debug level")

	root.AddCommand(
		newRegisterCmd(),
		newLoginCmd(),
		newLogoutCmd(),
		newWhoamiCmd(),
		newChatsCmd(),
		newMessagesCmd(),
		newSendCmd(),
		newMarkCmd(),
		newSyncCmd(),
		newStateCmd(),
		newQueueCmd(),
		newRunCmd(),
	)
	return root
}

// session is an opened replica for the duration of one command.
type session struct {
	replica *replica.Replica
	bus     *bus.Bus
}

type runMode struct {
	background bool
}

// withReplica opens the active profile's replica, runs fn and shuts it down.
func withReplica(ctx context.Context, mode runMode, fn func(ctx context.Context, s *session) error) error {
	name := profile.Resolve(globals.profile)
	if err := profile.ValidateName(name); err != nil {
		return err
	}
	cfgPath := profile.ConfigPath()
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var s session
	app := fx.New(
		replica.Module(replica.Params{
			Profile:    name,
			Config:     cfg,
			ConfigPath: cfgPath,
			Watch:      mode.background,
			AutoSync:   mode.background,
			Console:    mode.background,
			Debug:      globals.debug,
		}),
		fx.NopLogger,
		fx.Populate(&s.replica, &s.bus),
	)
	if err := app.Start(ctx); err != nil {
		return err
	}
	runErr := fn(ctx, &s)
	stopCtx, cancel := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancel()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}
