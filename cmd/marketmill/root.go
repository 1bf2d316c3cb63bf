package main

import (
	"github.com/spf13/cobra"

	"github.com/avelline/marketmill/internal/config"
	"github.com/avelline/marketmill/internal/logger"
)

type rootFlags struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "marketmill",
		Short:         "marketmill builds a local market-data warehouse of parquet artifacts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to configuration file")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose logging")

	cmd.AddCommand(newBuildCmd(flags))
	cmd.AddCommand(newStatusCmd(flags))
	cmd.AddCommand(newSummaryCmd(flags))
	cmd.AddCommand(newFetchCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func (f *rootFlags) loadConfig() (*config.Config, error) {
	return config.Load(f.configPath)
}

func (f *rootFlags) newLogger() (*logger.Logger, error) {
	level := "info"
	if f.verbose {
		level = "debug"
	}
	return logger.New(logger.Options{Level: level, HumanReadable: true})
}
