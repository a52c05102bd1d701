package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/melih/wpfleet/internal/adapters/http"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
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

		if err := s.docker.Ping(cmd.Context()); err != nil {
			s.log.WithError(err).Warn("docker is not reachable yet; requests will fail until it is")
		}

		app := http.NewApp(http.Deps{
			Dispatcher: s.dispatcher,
			Instances:  s.provision,
			Resolver:   s.resolver,
			Runtime:    s.docker,
			Logger:     s.log,
		}, http.Options{
			DefaultInstance:      cfg.Instances.Default,
			ExposeErrors:         cfg.Server.ExposeErrors,
			CORSOrigins:          cfg.Server.CORSOrigins,
			BaseHost:             cfg.Server.BaseHost,
			BodyLimit:            cfg.Server.BodyLimitMB << 20,
			PackageInstallMax:    cfg.RateLimit.PackageInstall.Max,
			PackageInstallWindow: cfg.RateLimit.PackageInstall.Window,
		})

		errc := make(chan error, 1)
		go func() {
			s.log.WithField("addr", cfg.Server.Addr).Info("server starting")
			errc <- app.Listen(cfg.Server.Addr)
		}()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		select {
		case err := <-errc:
			return err
		case <-sig:
		}

		s.log.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(ctx); err != nil {
			s.log.WithError(err).Warn("server shutdown")
		}
		s.log.Info("waiting for running provisioning jobs")
		s.provision.Wait()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "listen address (default :3001)")
	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}
