package main

import (
	"github.com/melih/wpfleet/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "wpfleet",
		Short: "Provision and administer WordPress instances through WP-CLI",
		Long: `wpfleet provisions WordPress instances with Docker Compose and exposes
WP-CLI operations on them over HTTP. Every command is validated and run as
an argument vector inside the instance's WordPress container.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("database", "", "path to the instance registry database")
	rootCmd.PersistentFlags().String("projects", "", "directory holding instance projects")

	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("paths.database", rootCmd.PersistentFlags().Lookup("database"))
	viper.BindPFlag("paths.projects", rootCmd.PersistentFlags().Lookup("projects"))
}

// loadConfig reads the configuration once flags have been parsed.
// Flags left at their zero value fall back to file, env and defaults.
func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper(), cfgFile)
}
