package main

import (
	"errors"

	"github.com/spf13/cobra"
)

// errReported marks failures already shown to the operator as an alert.
var errReported = errors.New("reported")

func newRootCommand() *cobra.Command {
	var configFlag string
	var backendFlag string
	var logLevelFlag string

	ctx := newCommandContext(&configFlag, &backendFlag, &logLevelFlag)

	rootCmd := &cobra.Command{
		Use:           "scanctl",
		Short:         "Upload scans and inspect the meshes they produce",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "Backend base URL (overrides config and BACKEND_URL)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "warn", "Log level: debug, info, warn, error, off")

	rootCmd.AddCommand(newUploadCommand(ctx))
	rootCmd.AddCommand(newRenderCommand(ctx))
	rootCmd.AddCommand(newInspectCommand(ctx))

	return rootCmd
}
