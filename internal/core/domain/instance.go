package domain

import "time"

// ProvisionState is a step of the create-instance workflow.
type ProvisionState string

const (
	StateRequested         ProvisionState = "REQUESTED"
	StateDirectoryPrepared ProvisionState = "DIRECTORY_PREPARED"
	StateSourceStaged      ProvisionState = "SOURCE_STAGED"
	StateConfigWritten     ProvisionState = "CONFIG_WRITTEN"
	StateContainersStarted ProvisionState = "CONTAINERS_STARTED"
	StateToolingInstalled  ProvisionState = "TOOLING_INSTALLED"
	StateCoreConfigured    ProvisionState = "CORE_CONFIGURED"
	StateReady             ProvisionState = "READY"
	StateFailed            ProvisionState = "FAILED"
)

// Terminal reports whether no further transitions follow s.
func (s ProvisionState) Terminal() bool {
	return s == StateReady || s == StateFailed
}

// DBCredentials holds the database connection settings of one deployment.
type DBCredentials struct {
	Name     string `json:"name"`
	User     string `json:"user"`
	Password string `json:"-"`
}

// ManagedInstance identifies one WordPress deployment.
// The container serving it is never stored; it is resolved per operation.
type ManagedInstance struct {
	ID               string         `json:"id"`
	SiteName         string         `json:"site_name"`
	ProjectDirectory string         `json:"project_directory"`
	DB               DBCredentials  `json:"db"`
	SiteURL          string         `json:"site_url"`
	HTTPPort         int            `json:"http_port"`
	Language         string         `json:"language"`
	State            ProvisionState `json:"state"`
	LastError        string         `json:"last_error,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// InstanceHandle is the resolved identity of an instance's WordPress
// container for the duration of one request.
type InstanceHandle struct {
	InstanceID    string
	ContainerID   string
	ContainerName string
}
