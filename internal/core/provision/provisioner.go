// Package provision creates, inspects and removes WordPress instances.
package provision

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/melih/wpfleet/internal/core/domain"
	"github.com/melih/wpfleet/internal/core/ports"
	"github.com/melih/wpfleet/internal/core/retry"
	"github.com/melih/wpfleet/internal/core/wpcli"
	"github.com/sirupsen/logrus"
)

var (
	instanceIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,39}$`)
	nonSlugChars      = regexp.MustCompile(`[^a-z0-9]+`)
	dbIdentPattern    = regexp.MustCompile(`^[A-Za-z0-9_]{1,32}$`)
	languagePattern   = regexp.MustCompile(`^[a-z]{2,3}(_[A-Z]{2})?(_[a-z0-9]+)?$`)
)

const sourceArchive = "source.zip"

// ReadinessProbe waits for an instance's WordPress container.
type ReadinessProbe interface {
	WaitReady(ctx context.Context, instanceID string, timeout time.Duration) (domain.InstanceHandle, error)
}

// Options configures a Service.
type Options struct {
	ProjectsDir  string
	WordPressURL string
	BaseImage    string
	DBImage      string
	NginxImage   string
	CLIURL       string
	ImagePrefix  string
	Host         string
	BasePort     int
	Timeout      time.Duration
	ReadyTimeout time.Duration
	HTTPClient   *http.Client
	Logger       logrus.FieldLogger
}

func (o *Options) setDefaults() {
	if o.ProjectsDir == "" {
		o.ProjectsDir = "projects"
	}
	if o.WordPressURL == "" {
		o.WordPressURL = "https://wordpress.org/latest.zip"
	}
	if o.BaseImage == "" {
		o.BaseImage = "wordpress:latest"
	}
	if o.DBImage == "" {
		o.DBImage = "mysql:5.7"
	}
	if o.NginxImage == "" {
		o.NginxImage = "nginx:latest"
	}
	if o.CLIURL == "" {
		o.CLIURL = "https://raw.githubusercontent.com/wp-cli/builds/gh-pages/phar/wp-cli.phar"
	}
	if o.ImagePrefix == "" {
		o.ImagePrefix = "wpfleet"
	}
	if o.Host == "" {
		o.Host = "localhost"
	}
	if o.BasePort <= 0 {
		o.BasePort = 8000
	}
	if o.Timeout <= 0 {
		o.Timeout = 20 * time.Minute
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = 3 * time.Minute
	}
	if o.HTTPClient == nil {
		o.HTTPClient = http.DefaultClient
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
}

// CreateRequest describes a new instance. Admin credentials are used once
// for core install and never stored.
type CreateRequest struct {
	ID            string `json:"id" form:"id"`
	SiteName      string `json:"siteName" form:"siteName"`
	AdminUser     string `json:"adminUser" form:"adminUser"`
	AdminPassword string `json:"adminPassword" form:"adminPassword"`
	AdminEmail    string `json:"adminEmail" form:"adminEmail"`
	DBName        string `json:"dbName" form:"dbName"`
	DBUser        string `json:"dbUser" form:"dbUser"`
	DBPassword    string `json:"dbPassword" form:"dbPassword"`
	Language      string `json:"language" form:"language"`
}

// Service runs the create-instance workflow and instance housekeeping.
type Service struct {
	repo       ports.InstanceRepository
	compose    ports.ComposeService
	builder    ports.BuilderService
	runtime    ports.ContainerService
	probe      ReadinessProbe
	dispatcher *wpcli.Dispatcher
	opts       Options
	log        logrus.FieldLogger

	mu sync.Mutex // serializes port allocation
	wg sync.WaitGroup
}

func NewService(repo ports.InstanceRepository, compose ports.ComposeService, builder ports.BuilderService,
	runtime ports.ContainerService, probe ReadinessProbe, dispatcher *wpcli.Dispatcher, opts Options) *Service {
	opts.setDefaults()
	return &Service{
		repo:       repo,
		compose:    compose,
		builder:    builder,
		runtime:    runtime,
		probe:      probe,
		dispatcher: dispatcher,
		opts:       opts,
		log:        opts.Logger,
	}
}

// Slugify derives an instance ID from a site name.
func Slugify(name string) string {
	slug := strings.Trim(nonSlugChars.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if len(slug) > 40 {
		slug = strings.TrimRight(slug[:40], "-")
	}
	return slug
}

func (r *CreateRequest) normalize() error {
	r.SiteName = strings.TrimSpace(r.SiteName)
	if r.SiteName == "" {
		return domain.Validationf("siteName is required")
	}
	if r.ID == "" {
		r.ID = Slugify(r.SiteName)
	}
	if !instanceIDPattern.MatchString(r.ID) {
		return domain.Validationf("invalid instance id %q", r.ID)
	}
	if strings.TrimSpace(r.AdminUser) == "" {
		return domain.Validationf("adminUser is required")
	}
	if r.AdminPassword == "" {
		return domain.Validationf("adminPassword is required")
	}
	if r.AdminEmail == "" {
		r.AdminEmail = r.AdminUser + "@example.com"
	}
	if r.DBName == "" {
		r.DBName = "wordpress"
	}
	if r.DBUser == "" {
		r.DBUser = "wordpress"
	}
	if !dbIdentPattern.MatchString(r.DBName) || !dbIdentPattern.MatchString(r.DBUser) {
		return domain.Validationf("dbName and dbUser must be 1-32 letters, digits or underscores")
	}
	if r.DBPassword == "" {
		pw, err := randomHex(16)
		if err != nil {
			return fmt.Errorf("failed to generate database password: %w", err)
		}
		r.DBPassword = pw
	}
	if r.Language == "" {
		r.Language = "en_US"
	}
	if !languagePattern.MatchString(r.Language) {
		return domain.Validationf("invalid language %q", r.Language)
	}
	return nil
}

// Create registers the instance, prepares its directory, stages an
// optional zip bundle and starts the remaining workflow in the background.
// The returned instance is in DIRECTORY_PREPARED.
func (s *Service) Create(ctx context.Context, req CreateRequest, bundle io.Reader) (*domain.ManagedInstance, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	inst, err := s.register(ctx, req)
	if err != nil {
		return nil, err
	}
	log := s.log.WithField("instance", inst.ID)

	if err := s.prepareDirectory(inst.ProjectDirectory, bundle); err != nil {
		s.fail(inst.ID, domain.StateDirectoryPrepared, err)
		return nil, domain.Infrastructure("failed to prepare project directory", err)
	}
	if err := s.transition(ctx, inst.ID, domain.StateDirectoryPrepared); err != nil {
		return nil, err
	}
	inst.State = domain.StateDirectoryPrepared
	log.Info("instance registered, provisioning")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
		defer cancel()
		s.provision(ctx, inst, req, bundle != nil)
	}()
	return inst, nil
}

// Wait blocks until every background provisioning run has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) register(ctx context.Context, req CreateRequest) (*domain.ManagedInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	port, err := s.repo.MaxHTTPPort(ctx)
	if err != nil {
		return nil, err
	}
	if port < s.opts.BasePort {
		port = s.opts.BasePort
	} else {
		port++
	}

	projectDir, err := filepath.Abs(filepath.Join(s.opts.ProjectsDir, req.ID))
	if err != nil {
		return nil, err
	}
	inst := &domain.ManagedInstance{
		ID:               req.ID,
		SiteName:         req.SiteName,
		ProjectDirectory: projectDir,
		DB:               domain.DBCredentials{Name: req.DBName, User: req.DBUser, Password: req.DBPassword},
		SiteURL:          fmt.Sprintf("http://%s:%d", s.opts.Host, port),
		HTTPPort:         port,
		Language:         req.Language,
		State:            domain.StateRequested,
	}
	if err := s.repo.Create(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

func (s *Service) prepareDirectory(dir string, bundle io.Reader) error {
	for _, sub := range []string{sourceDirName, imageDirName} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Join(dir, secretsDirName), 0o700); err != nil {
		return err
	}
	if bundle == nil {
		return nil
	}
	f, err := os.Create(filepath.Join(dir, sourceArchive))
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, bundle); err != nil {
		f.Close()
		return fmt.Errorf("failed to store bundle: %w", err)
	}
	return f.Close()
}

type step struct {
	state domain.ProvisionState
	run   func(ctx context.Context) error
}

// provision walks the remaining states. The first failure stops the walk
// and is recorded; nothing already created is rolled back.
func (s *Service) provision(ctx context.Context, inst *domain.ManagedInstance, req CreateRequest, hasBundle bool) {
	log := s.log.WithField("instance", inst.ID)
	var handle domain.InstanceHandle

	steps := []step{
		{domain.StateSourceStaged, func(ctx context.Context) error {
			return s.stageSource(ctx, inst, hasBundle)
		}},
		{domain.StateConfigWritten, func(ctx context.Context) error {
			return WriteProject(inst.ProjectDirectory, s.project(inst))
		}},
		{domain.StateContainersStarted, func(ctx context.Context) error {
			var err error
			handle, err = s.startContainers(ctx, inst)
			return err
		}},
		{domain.StateToolingInstalled, func(ctx context.Context) error {
			return s.pollCommand(ctx, handle, "cli", "version")
		}},
		{domain.StateCoreConfigured, func(ctx context.Context) error {
			return s.configureCore(ctx, handle, inst, req)
		}},
	}

	for _, st := range steps {
		start := time.Now()
		if err := st.run(ctx); err != nil {
			s.fail(inst.ID, st.state, err)
			return
		}
		if err := s.transition(ctx, inst.ID, st.state); err != nil {
			log.WithError(err).Error("failed to record state")
			return
		}
		log.WithField("state", st.state).WithField("took", time.Since(start)).Info("provisioning step done")
	}
	if err := s.transition(ctx, inst.ID, domain.StateReady); err != nil {
		log.WithError(err).Error("failed to record state")
		return
	}
	log.WithField("url", inst.SiteURL).Info("instance ready")
}

func (s *Service) stageSource(ctx context.Context, inst *domain.ManagedInstance, hasBundle bool) error {
	archive := filepath.Join(inst.ProjectDirectory, sourceArchive)
	if !hasBundle {
		s.log.WithField("instance", inst.ID).WithField("url", s.opts.WordPressURL).Info("downloading WordPress")
		if err := download(ctx, s.opts.HTTPClient, s.opts.WordPressURL, archive); err != nil {
			return err
		}
	}
	defer os.Remove(archive)

	dest := filepath.Join(inst.ProjectDirectory, sourceDirName)
	if err := ExtractZip(archive, dest); err != nil {
		return err
	}
	return FlattenNested(dest)
}

func (s *Service) project(inst *domain.ManagedInstance) Project {
	return Project{
		ID:          inst.ID,
		SiteName:    inst.SiteName,
		SiteURL:     inst.SiteURL,
		HTTPPort:    inst.HTTPPort,
		DBName:      inst.DB.Name,
		DBUser:      inst.DB.User,
		DBPassword:  inst.DB.Password,
		TablePrefix: "wp_",
		Image:       s.imageTag(inst.ID),
		BaseImage:   s.opts.BaseImage,
		DBImage:     s.opts.DBImage,
		NginxImage:  s.opts.NginxImage,
		CLIURL:      s.opts.CLIURL,
		ServerNames: []string{inst.ID + "." + s.opts.Host, s.opts.Host},
	}
}

func (s *Service) imageTag(id string) string {
	return s.opts.ImagePrefix + "/" + id + ":latest"
}

func (s *Service) startContainers(ctx context.Context, inst *domain.ManagedInstance) (domain.InstanceHandle, error) {
	if _, err := s.builder.BuildImage(ctx, filepath.Join(inst.ProjectDirectory, imageDirName), s.imageTag(inst.ID)); err != nil {
		return domain.InstanceHandle{}, err
	}
	if err := s.compose.Up(ctx, inst.ProjectDirectory, inst.ID); err != nil {
		return domain.InstanceHandle{}, err
	}
	return s.probe.WaitReady(ctx, inst.ID, s.opts.ReadyTimeout)
}

// pollCommand retries a read-only command until it succeeds.
func (s *Service) pollCommand(ctx context.Context, h domain.InstanceHandle, namespace, sub string, args ...string) error {
	cmd, err := s.dispatcher.Builder().Build(namespace, sub, args)
	if err != nil {
		return err
	}
	policy := retry.DefaultPolicy
	policy.Timeout = s.opts.ReadyTimeout
	return retry.Until(ctx, policy, func(ctx context.Context) error {
		_, err := s.dispatcher.ExecuteOn(ctx, h, cmd, 0)
		return err
	}, func(err error, next time.Duration) {
		s.log.WithField("instance", h.InstanceID).WithField("command", cmd.String()).WithField("retry_in", next).Debugf("not ready: %v", err)
	})
}

func (s *Service) configureCore(ctx context.Context, h domain.InstanceHandle, inst *domain.ManagedInstance, req CreateRequest) error {
	if err := s.pollCommand(ctx, h, "db", "check"); err != nil {
		return fmt.Errorf("database not reachable: %w", err)
	}

	install, err := s.dispatcher.Builder().Build("core", "install", []string{
		"--url=" + inst.SiteURL,
		"--title=" + inst.SiteName,
		"--admin_user=" + req.AdminUser,
		"--admin_password=" + req.AdminPassword,
		"--admin_email=" + req.AdminEmail,
		"--skip-email",
	})
	if err != nil {
		return err
	}
	if _, err := s.dispatcher.ExecuteOn(ctx, h, install.WithSecrets(req.AdminPassword), 0); err != nil {
		return err
	}

	if inst.Language != "en_US" {
		lang, err := s.dispatcher.Builder().Build("language", "core", []string{"install", inst.Language, "--activate"})
		if err != nil {
			return err
		}
		if _, err := s.dispatcher.ExecuteOn(ctx, h, lang, 0); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) transition(ctx context.Context, id string, state domain.ProvisionState) error {
	return s.repo.UpdateState(ctx, id, state, "")
}

// fail records the failed step. It uses a fresh context so a timed-out
// run can still be recorded.
func (s *Service) fail(id string, state domain.ProvisionState, err error) {
	s.log.WithField("instance", id).WithField("state", state).WithError(err).Error("provisioning failed")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	msg := fmt.Sprintf("%s: %v", state, err)
	if uerr := s.repo.UpdateState(ctx, id, domain.StateFailed, msg); uerr != nil {
		s.log.WithField("instance", id).WithError(uerr).Error("failed to record failure")
	}
}

// Get returns a registered instance.
func (s *Service) Get(ctx context.Context, id string) (*domain.ManagedInstance, error) {
	return s.repo.Get(ctx, id)
}

// List returns every registered instance.
func (s *Service) List(ctx context.Context) ([]domain.ManagedInstance, error) {
	return s.repo.List(ctx)
}

// Status is an instance plus what the runtime currently reports for it.
type Status struct {
	domain.ManagedInstance
	Containers    []domain.Container `json:"containers"`
	PublishedPort string             `json:"published_port,omitempty"`
}

// Inspect reports the instance's containers and its published HTTP port.
func (s *Service) Inspect(ctx context.Context, id string) (*Status, error) {
	inst, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	containers, err := s.runtime.ListContainers(ctx, domain.ContainerFilter{
		Labels: map[string]string{"com.docker.compose.project": id},
		All:    true,
	})
	if err != nil {
		return nil, domain.Infrastructure("failed to list containers", err)
	}
	st := &Status{ManagedInstance: *inst, Containers: containers}
	for _, c := range containers {
		if c.Labels["com.docker.compose.service"] == "nginx" && c.State == "running" {
			if port, err := s.runtime.PublishedPort(ctx, c.ID, 80); err == nil {
				st.PublishedPort = port
			}
		}
	}
	return st, nil
}

// Logs streams the logs of the instance's WordPress container.
func (s *Service) Logs(ctx context.Context, h domain.InstanceHandle, tail int) (io.ReadCloser, error) {
	rc, err := s.runtime.ContainerLogs(ctx, h.ContainerID, tail)
	if err != nil {
		return nil, domain.Infrastructure("failed to read container logs", err)
	}
	return rc, nil
}

// Remove stops the instance's containers and forgets it. With purge the
// project directory is deleted as well.
func (s *Service) Remove(ctx context.Context, id string, purge bool) error {
	inst, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.compose.Down(ctx, inst.ProjectDirectory, inst.ID); err != nil {
		return domain.Infrastructure("failed to stop instance", err)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if purge {
		root, err := filepath.Abs(s.opts.ProjectsDir)
		if err != nil {
			return err
		}
		if !strings.HasPrefix(inst.ProjectDirectory, root+string(os.PathSeparator)) {
			return domain.Validationf("refusing to purge %s outside %s", inst.ProjectDirectory, root)
		}
		if err := os.RemoveAll(inst.ProjectDirectory); err != nil {
			return fmt.Errorf("failed to purge project directory: %w", err)
		}
	}
	s.log.WithField("instance", id).WithField("purge", purge).Info("instance removed")
	return nil
}
