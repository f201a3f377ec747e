package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dgallion1/storygest/internal/config"
)

// app carries state shared by every subcommand.
type app struct {
	cfg     *config.CLIConfig
	log     *slog.Logger
	verbose bool
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "storyctl",
		Short: "Generate, stream and parse bedtime stories",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFile(cmd.Context())
			if err != nil {
				return err
			}
			a.cfg = cfg

			level := slog.LevelWarn
			if a.verbose {
				level = slog.LevelDebug
			}
			a.log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			return nil
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log session events to stderr")

	rootCmd.AddCommand(newGenerateCmd(a))
	rootCmd.AddCommand(newParseCmd(a))
	return rootCmd
}
