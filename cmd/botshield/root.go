package main

import (
	"github.com/spf13/cobra"

	"github.com/qaforge/botshield/internal/application"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "botshield",
		Short: "Multi-layer bot-detection consensus engine",
		Long: `botshield classifies social-platform comments as bot or human by
fusing independent detection layers (signature patterns, behavioral
statistics, authorship stylometry) into a weighted consensus verdict.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "path to YAML configuration file")

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newClassifyCommand())
	return cmd
}

// loadConfig resolves the service configuration from the --config flag,
// falling back to production defaults when no file is given.
func loadConfig(cmd *cobra.Command) (application.ServiceConfig, error) {
	path, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return application.ServiceConfig{}, err
	}
	if path == "" {
		return application.DefaultServiceConfig(), nil
	}
	return application.LoadServiceConfig(path)
}
