package provision

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Project holds everything rendered into an instance's project directory.
type Project struct {
	ID          string
	SiteName    string
	SiteURL     string
	HTTPPort    int
	DBName      string
	DBUser      string
	DBPassword  string
	TablePrefix string
	Image       string // tag of the built WordPress image
	BaseImage   string
	DBImage     string
	NginxImage  string
	CLIURL      string
	ServerNames []string
}

const (
	composeFileName   = "docker-compose.yml"
	imageDirName      = "image"
	sourceDirName     = "wordpress"
	secretsDirName    = "secrets"
	dbPasswordSecret  = "db_password"
	nginxConfFileName = "nginx.conf"
)

type composeFile struct {
	Services map[string]composeService `yaml:"services"`
	Volumes  map[string]map[string]any `yaml:"volumes"`
	Secrets  map[string]composeSecret  `yaml:"secrets"`
}

type composeService struct {
	Image       string            `yaml:"image"`
	Restart     string            `yaml:"restart,omitempty"`
	Ports       []string          `yaml:"ports,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
	Volumes     []string          `yaml:"volumes,omitempty"`
	Secrets     []string          `yaml:"secrets,omitempty"`
	DependsOn   []string          `yaml:"depends_on,omitempty"`
}

type composeSecret struct {
	File string `yaml:"file"`
}

// RenderCompose renders docker-compose.yml. Passwords never appear in it;
// both containers read them from the db_password secret file.
func RenderCompose(p Project) ([]byte, error) {
	secretPath := "/run/secrets/" + dbPasswordSecret
	file := composeFile{
		Services: map[string]composeService{
			"wordpress": {
				Image:   p.Image,
				Restart: "unless-stopped",
				Environment: map[string]string{
					"WORDPRESS_DB_HOST":          "db",
					"WORDPRESS_DB_NAME":          p.DBName,
					"WORDPRESS_DB_USER":          p.DBUser,
					"WORDPRESS_DB_PASSWORD_FILE": secretPath,
					"WORDPRESS_TABLE_PREFIX":     p.TablePrefix,
					"WORDPRESS_HOME":             p.SiteURL,
				},
				Volumes:   []string{"./" + sourceDirName + ":/var/www/html"},
				Secrets:   []string{dbPasswordSecret},
				DependsOn: []string{"db"},
			},
			"db": {
				Image:   p.DBImage,
				Restart: "unless-stopped",
				Environment: map[string]string{
					"MYSQL_DATABASE":           p.DBName,
					"MYSQL_USER":               p.DBUser,
					"MYSQL_PASSWORD_FILE":      secretPath,
					"MYSQL_ROOT_PASSWORD_FILE": secretPath,
				},
				Volumes: []string{"db_data:/var/lib/mysql"},
				Secrets: []string{dbPasswordSecret},
			},
			"nginx": {
				Image:     p.NginxImage,
				Restart:   "unless-stopped",
				Ports:     []string{fmt.Sprintf("%d:80", p.HTTPPort)},
				Volumes:   []string{"./" + nginxConfFileName + ":/etc/nginx/conf.d/default.conf:ro"},
				DependsOn: []string{"wordpress"},
			},
		},
		Volumes: map[string]map[string]any{"db_data": {}},
		Secrets: map[string]composeSecret{
			dbPasswordSecret: {File: "./" + secretsDirName + "/" + dbPasswordSecret},
		},
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(file); err != nil {
		return nil, fmt.Errorf("failed to render compose file: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to render compose file: %w", err)
	}
	return buf.Bytes(), nil
}

var dockerfileTemplate = template.Must(template.New("Dockerfile").Parse(`FROM {{.BaseImage}}

RUN apt-get update \
 && apt-get install -y --no-install-recommends less default-mysql-client \
 && rm -rf /var/lib/apt/lists/*

RUN curl -fsSL -o /usr/local/bin/wp {{.CLIURL}} \
 && chmod +x /usr/local/bin/wp \
 && wp --allow-root --version
`))

var nginxTemplate = template.Must(template.New("nginx.conf").Parse(`server {
    listen 80;
    server_name{{range .ServerNames}} {{.}}{{end}};

    client_max_body_size 64m;

    location / {
        proxy_pass http://wordpress:80;
        proxy_set_header Host $http_host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
    }
}
`))

var wpConfigTemplate = template.Must(template.New("wp-config.php").Funcs(template.FuncMap{
	"php": phpString,
}).Parse(`<?php
/**
 * The base configuration for WordPress, read from the container environment.
 * For every setting, <VAR>_FILE names a file whose trimmed contents win over <VAR>.
 */

if (!function_exists('getenv_docker')) {
	function getenv_docker($env, $default) {
		if ($fileEnv = getenv($env . '_FILE')) {
			return rtrim(file_get_contents($fileEnv), "\r\n");
		} else if (($val = getenv($env)) !== false) {
			return $val;
		} else {
			return $default;
		}
	}
}

define('DB_NAME', getenv_docker('WORDPRESS_DB_NAME', {{php .DBName}}));
define('DB_USER', getenv_docker('WORDPRESS_DB_USER', {{php .DBUser}}));
define('DB_PASSWORD', getenv_docker('WORDPRESS_DB_PASSWORD', ''));
define('DB_HOST', getenv_docker('WORDPRESS_DB_HOST', 'db'));
define('DB_CHARSET', getenv_docker('WORDPRESS_DB_CHARSET', 'utf8'));
define('DB_COLLATE', getenv_docker('WORDPRESS_DB_COLLATE', ''));

{{range .Salts}}define({{php .Name}}, getenv_docker({{php .Env}}, {{php .Value}}));
{{end}}
$table_prefix = getenv_docker('WORDPRESS_TABLE_PREFIX', {{php .TablePrefix}});

define('WP_HOME', getenv_docker('WORDPRESS_HOME', {{php .SiteURL}}));
define('WP_SITEURL', WP_HOME);
define('WP_DEBUG', !!getenv_docker('WORDPRESS_DEBUG', ''));
define('WP_AUTO_UPDATE_CORE', false);

if (isset($_SERVER['HTTP_X_FORWARDED_PROTO']) && strpos($_SERVER['HTTP_X_FORWARDED_PROTO'], 'https') !== false) {
	$_SERVER['HTTPS'] = 'on';
}

if (!defined('ABSPATH')) {
	define('ABSPATH', __DIR__ . '/');
}

require_once ABSPATH . 'wp-settings.php';
`))

var saltNames = []string{
	"AUTH_KEY", "SECURE_AUTH_KEY", "LOGGED_IN_KEY", "NONCE_KEY",
	"AUTH_SALT", "SECURE_AUTH_SALT", "LOGGED_IN_SALT", "NONCE_SALT",
}

type salt struct {
	Name, Env, Value string
}

// phpString renders s as a single-quoted PHP string literal.
func phpString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// RenderWPConfig renders wp-config.php with freshly generated salts.
func RenderWPConfig(p Project) ([]byte, error) {
	salts := make([]salt, 0, len(saltNames))
	for _, name := range saltNames {
		value, err := randomHex(32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		salts = append(salts, salt{Name: name, Env: "WORDPRESS_" + name, Value: value})
	}
	var buf bytes.Buffer
	err := wpConfigTemplate.Execute(&buf, struct {
		Project
		Salts []salt
	}{p, salts})
	if err != nil {
		return nil, fmt.Errorf("failed to render wp-config.php: %w", err)
	}
	return buf.Bytes(), nil
}

func RenderDockerfile(p Project) ([]byte, error) {
	var buf bytes.Buffer
	if err := dockerfileTemplate.Execute(&buf, p); err != nil {
		return nil, fmt.Errorf("failed to render Dockerfile: %w", err)
	}
	return buf.Bytes(), nil
}

func RenderNginx(p Project) ([]byte, error) {
	var buf bytes.Buffer
	if err := nginxTemplate.Execute(&buf, p); err != nil {
		return nil, fmt.Errorf("failed to render nginx.conf: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteProject renders every project file into dir.
func WriteProject(dir string, p Project) error {
	compose, err := RenderCompose(p)
	if err != nil {
		return err
	}
	dockerfile, err := RenderDockerfile(p)
	if err != nil {
		return err
	}
	nginx, err := RenderNginx(p)
	if err != nil {
		return err
	}
	wpConfig, err := RenderWPConfig(p)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Join(dir, secretsDirName), 0o700); err != nil {
		return fmt.Errorf("failed to create secrets dir: %w", err)
	}
	files := []struct {
		path string
		data []byte
		mode os.FileMode
	}{
		{filepath.Join(dir, composeFileName), compose, 0o644},
		{filepath.Join(dir, imageDirName, "Dockerfile"), dockerfile, 0o644},
		{filepath.Join(dir, nginxConfFileName), nginx, 0o644},
		{filepath.Join(dir, sourceDirName, "wp-config.php"), wpConfig, 0o644},
		// Readable inside the db container, which runs as another user;
		// the 0700 secrets directory guards it on the host.
		{filepath.Join(dir, secretsDirName, dbPasswordSecret), []byte(p.DBPassword), 0o644},
	}
	for _, f := range files {
		if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", filepath.Dir(f.path), err)
		}
		if err := os.WriteFile(f.path, f.data, f.mode); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.path, err)
		}
	}
	return nil
}
