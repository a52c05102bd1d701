package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/melih/wpfleet/internal/core/provision"
	"github.com/spf13/cobra"
)

var instancesCmd = &cobra.Command{
	Use:     "instances",
	Aliases: []string{"instance", "i"},
	Short:   "Manage WordPress instances",
}

var instancesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered instances",
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

		list, err := s.provision.List(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATE\tURL\tPROJECT")
		for _, inst := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", inst.ID, inst.State, inst.SiteURL, inst.ProjectDirectory)
		}
		return w.Flush()
	},
}

var instancesCreateCmd = &cobra.Command{
	Use:   "create [site name]",
	Short: "Provision a new instance and wait for it",
	Long: `Provision a new instance and wait until it is READY or FAILED.

Examples:
  wpfleet instances create "My Blog" --admin-user=admin --admin-password=secret
  wpfleet instances create shop --bundle=./wordpress.zip --language=de_DE`,
	Args: cobra.ExactArgs(1),
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

		flags := cmd.Flags()
		req := provision.CreateRequest{SiteName: args[0]}
		req.ID, _ = flags.GetString("id")
		req.AdminUser, _ = flags.GetString("admin-user")
		req.AdminPassword, _ = flags.GetString("admin-password")
		req.AdminEmail, _ = flags.GetString("admin-email")
		req.Language, _ = flags.GetString("language")

		var bundle io.Reader
		if path, _ := flags.GetString("bundle"); path != "" {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			bundle = f
		}

		inst, err := s.provision.Create(cmd.Context(), req, bundle)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "provisioning %s...\n", inst.ID)
		s.provision.Wait()

		final, err := s.provision.Get(cmd.Context(), inst.ID)
		if err != nil {
			return err
		}
		if final.LastError != "" {
			return fmt.Errorf("instance %s %s: %s", final.ID, final.State, final.LastError)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is %s at %s\n", final.ID, final.State, final.SiteURL)
		return nil
	},
}

var instancesRemoveCmd = &cobra.Command{
	Use:     "rm [id]",
	Aliases: []string{"remove"},
	Short:   "Stop an instance and remove it from the registry",
	Args:    cobra.ExactArgs(1),
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

		purge, _ := cmd.Flags().GetBool("purge")
		return s.provision.Remove(cmd.Context(), args[0], purge)
	},
}

func init() {
	rootCmd.AddCommand(instancesCmd)
	instancesCmd.AddCommand(instancesListCmd, instancesCreateCmd, instancesRemoveCmd)

	instancesCreateCmd.Flags().String("id", "", "instance ID (derived from the site name if empty)")
	instancesCreateCmd.Flags().String("admin-user", "admin", "administrator login")
	instancesCreateCmd.Flags().String("admin-password", "", "administrator password")
	instancesCreateCmd.Flags().String("admin-email", "", "administrator email")
	instancesCreateCmd.Flags().String("language", "en_US", "site language")
	instancesCreateCmd.Flags().String("bundle", "", "zip file to use instead of downloading WordPress")
	instancesCreateCmd.MarkFlagRequired("admin-password")

	instancesRemoveCmd.Flags().Bool("purge", false, "also delete the project directory")
}
