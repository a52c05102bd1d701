package main

import (
	"fmt"

	"github.com/melih/wpfleet/internal/core/domain"
	"github.com/melih/wpfleet/internal/core/wpcli"
	"github.com/spf13/cobra"
)

var execCmd = &cobra.Command{
	Use:   "exec [namespace] [subcommand] [args...]",
	Short: "Run one WP-CLI command against an instance",
	Long: `Run one WP-CLI command against an instance, with the same validation
as the HTTP API. Package installs go through the package name check.

This runs in its own process and does not take the per-instance locks held
by a running "wpfleet serve".

Examples:
  wpfleet exec --instance=blog plugin list --format=json
  wpfleet exec --instance=blog option update blogname "My Blog"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := newServices(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		instance, _ := cmd.Flags().GetString("instance")
		if instance == "" {
			instance = cfg.Instances.Default
		}
		if len(args) == 3 && args[0] == "package" && args[1] == "install" {
			res, err := s.dispatcher.InstallPackage(cmd.Context(), instance, args[2])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Output())
			return nil
		}

		res, err := s.dispatcher.Run(cmd.Context(), instance, domain.CliOperation{
			Namespace: args[0],
			ArgString: wpcli.QuoteAll(args[1:]),
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.Output())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(execCmd)
	execCmd.Flags().String("instance", "", "instance ID (default from config)")
	// Everything after the namespace belongs to WP-CLI.
	execCmd.Flags().SetInterspersed(false)
}
