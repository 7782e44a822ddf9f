// Package cmd wires the command line interface.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cvkitio/cvkit-go/cmd/cleanup"
	"github.com/cvkitio/cvkit-go/cmd/file"
	"github.com/cvkitio/cvkit-go/cmd/run"
	"github.com/cvkitio/cvkit-go/internal/conf"
	"github.com/cvkitio/cvkit-go/internal/logging"
)

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cvkit",
		Short: "cvkit detection pipeline CLI",
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	subcommands := []*cobra.Command{
		run.Command(settings),
		file.Command(settings),
		cleanup.Command(),
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if settings.Debug {
			logging.Init(slog.LevelDebug)
		}

		// Resolve the worker pool size with full precedence: flag over
		// environment over config file over default.
		flag := cmd.Flags().Lookup("workers")
		settings.ResolveWorkers(settings.Workers.DetectWorkers, flag != nil && flag.Changed)
		return nil
	}

	return rootCmd
}

// setupFlags defines flags global to the command line interface.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().IntVarP(&settings.Workers.DetectWorkers, "workers", "j", viper.GetInt("workers.detectworkers"), "Number of detect workers")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}
	return nil
}
