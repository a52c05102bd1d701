package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/melih/wpfleet/internal/adapters/builder"
	"github.com/melih/wpfleet/internal/adapters/docker"
	"github.com/melih/wpfleet/internal/adapters/sqlite"
	"github.com/melih/wpfleet/internal/config"
	"github.com/melih/wpfleet/internal/core/provision"
	"github.com/melih/wpfleet/internal/core/resolver"
	"github.com/melih/wpfleet/internal/core/wpcli"
	"github.com/sirupsen/logrus"
)

// services is the object graph shared by every subcommand.
type services struct {
	cfg        *config.Config
	log        *logrus.Logger
	docker     *docker.Adapter
	repo       *sqlite.Repository
	resolver   *resolver.Resolver
	dispatcher *wpcli.Dispatcher
	provision  *provision.Service
}

func (s *services) Close() {
	if s.repo != nil {
		s.repo.Close()
	}
	if s.docker != nil {
		s.docker.Close()
	}
}

func newServices(cfg *config.Config) (*services, error) {
	log := config.NewLogger(cfg.Log)
	s := &services{cfg: cfg, log: log}

	dockerAdapter, err := docker.NewAdapter()
	if err != nil {
		return nil, err
	}
	s.docker = dockerAdapter

	imageBuilder, err := builder.NewBuilderAdapter(log)
	if err != nil {
		s.Close()
		return nil, err
	}

	repo, err := sqlite.Open(cfg.Paths.Database)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.repo = repo

	staging := cfg.Paths.Staging
	if staging == "" {
		staging = filepath.Join(os.TempDir(), "wpfleet-staging")
	}
	if err := os.MkdirAll(staging, 0o700); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create staging dir: %w", err)
	}
	if err := os.MkdirAll(cfg.Paths.Projects, 0o755); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create projects dir: %w", err)
	}

	s.resolver = resolver.New(dockerAdapter, resolver.Options{
		Image:   cfg.Docker.Image,
		Service: cfg.Docker.Service,
		Logger:  log,
	})
	s.dispatcher = wpcli.NewDispatcher(dockerAdapter, s.resolver, imageBuilder, wpcli.Options{
		Denylist:   cfg.WPCLI.Denylist,
		StagingDir: staging,
		Timeout:    cfg.WPCLI.Timeout,
		LockWait:   cfg.WPCLI.LockWait,
		Logger:     log,
	})
	s.provision = provision.NewService(repo, docker.NewComposeCLI(strings.Fields(cfg.Docker.ComposeCommand)), imageBuilder,
		dockerAdapter, s.resolver, s.dispatcher, provision.Options{
			ProjectsDir:  cfg.Paths.Projects,
			WordPressURL: cfg.Provision.WordPressURL,
			BaseImage:    cfg.Provision.BaseImage,
			DBImage:      cfg.Provision.DBImage,
			NginxImage:   cfg.Provision.NginxImage,
			CLIURL:       cfg.Provision.CLIURL,
			ImagePrefix:  cfg.Provision.ImagePrefix,
			Host:         cfg.Provision.Host,
			BasePort:     cfg.Provision.BasePort,
			Timeout:      cfg.Provision.Timeout,
			ReadyTimeout: cfg.Provision.ReadyTimeout,
			Logger:       log,
		})
	return s, nil
}
