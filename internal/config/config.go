// Package config loads wpfleet settings from defaults, an optional YAML
// file and WPFLEET_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override,
// e.g. WPFLEET_SERVER_ADDR.
const EnvPrefix = "WPFLEET"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Docker    DockerConfig    `mapstructure:"docker"`
	Instances InstancesConfig `mapstructure:"instances"`
	Paths     PathsConfig     `mapstructure:"paths"`
	WPCLI     WPCLIConfig     `mapstructure:"wpcli"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Provision ProvisionConfig `mapstructure:"provision"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Addr         string   `mapstructure:"addr"`
	CORSOrigins  []string `mapstructure:"cors_origins"`
	ExposeErrors bool     `mapstructure:"expose_errors"`
	// BaseHost is the parent domain of instance subdomains.
	BaseHost    string `mapstructure:"base_host"`
	BodyLimitMB int    `mapstructure:"body_limit_mb"`
}

type DockerConfig struct {
	// Image selects the container in single-instance mode.
	Image          string `mapstructure:"image"`
	Service        string `mapstructure:"service"`
	ComposeCommand string `mapstructure:"compose_command"`
}

type InstancesConfig struct {
	// Default is the instance served by the /wp-cli routes. Empty means
	// single-instance mode.
	Default string `mapstructure:"default"`
}

type PathsConfig struct {
	Projects string `mapstructure:"projects"`
	Staging  string `mapstructure:"staging"`
	Database string `mapstructure:"database"`
}

type WPCLIConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	LockWait time.Duration `mapstructure:"lock_wait"`
	Denylist []string      `mapstructure:"denylist"`
}

type RateLimitConfig struct {
	PackageInstall LimitConfig `mapstructure:"package_install"`
}

type LimitConfig struct {
	Max    int           `mapstructure:"max"`
	Window time.Duration `mapstructure:"window"`
}

type ProvisionConfig struct {
	WordPressURL string        `mapstructure:"wordpress_url"`
	BaseImage    string        `mapstructure:"base_image"`
	DBImage      string        `mapstructure:"db_image"`
	NginxImage   string        `mapstructure:"nginx_image"`
	CLIURL       string        `mapstructure:"cli_url"`
	ImagePrefix  string        `mapstructure:"image_prefix"`
	Host         string        `mapstructure:"host"`
	BasePort     int           `mapstructure:"base_port"`
	Timeout      time.Duration `mapstructure:"timeout"`
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every key so environment overrides are picked up
// by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":3001")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.expose_errors", false)
	v.SetDefault("server.base_host", "localhost")
	v.SetDefault("server.body_limit_mb", 512)

	v.SetDefault("docker.image", "wordpress")
	v.SetDefault("docker.service", "wordpress")
	v.SetDefault("docker.compose_command", "docker compose")

	v.SetDefault("instances.default", "")

	v.SetDefault("paths.projects", "projects")
	v.SetDefault("paths.staging", "")
	v.SetDefault("paths.database", "wpfleet.db")

	v.SetDefault("wpcli.timeout", 2*time.Minute)
	v.SetDefault("wpcli.lock_wait", 30*time.Second)
	v.SetDefault("wpcli.denylist", []string{"eval", "eval-file", "shell"})

	v.SetDefault("ratelimit.package_install.max", 5)
	v.SetDefault("ratelimit.package_install.window", time.Minute)

	v.SetDefault("provision.wordpress_url", "https://wordpress.org/latest.zip")
	v.SetDefault("provision.base_image", "wordpress:latest")
	v.SetDefault("provision.db_image", "mysql:5.7")
	v.SetDefault("provision.nginx_image", "nginx:latest")
	v.SetDefault("provision.cli_url", "https://raw.githubusercontent.com/wp-cli/builds/gh-pages/phar/wp-cli.phar")
	v.SetDefault("provision.image_prefix", "wpfleet")
	v.SetDefault("provision.host", "localhost")
	v.SetDefault("provision.base_port", 8000)
	v.SetDefault("provision.timeout", 20*time.Minute)
	v.SetDefault("provision.ready_timeout", 3*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads cfgFile when set (a missing file is an error) and applies
// environment overrides on top of the defaults.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", cfgFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail much later.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.WPCLI.Timeout <= 0 {
		return fmt.Errorf("wpcli.timeout must be positive")
	}
	if c.RateLimit.PackageInstall.Max <= 0 || c.RateLimit.PackageInstall.Window <= 0 {
		return fmt.Errorf("ratelimit.package_install needs a positive max and window")
	}
	if c.Provision.BasePort <= 0 || c.Provision.BasePort > 65535 {
		return fmt.Errorf("provision.base_port %d is out of range", c.Provision.BasePort)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// NewLogger builds the process logger described by c.
func NewLogger(c LogConfig) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if level, err := logrus.ParseLevel(c.Level); err == nil {
		log.SetLevel(level)
	}
	if c.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}
