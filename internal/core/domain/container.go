package domain

// Container represents a running (or stopped) container as seen by the runtime.
type Container struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Image     string            `json:"image"`
	Status    string            `json:"status"`
	State     string            `json:"state"` // running, exited, etc.
	IPAddress string            `json:"ip_address,omitempty"`
	Labels    map[string]string `json:"-"`
}

// ContainerFilter narrows a container listing. Empty fields are ignored.
type ContainerFilter struct {
	Labels   map[string]string
	Ancestor string
	All      bool
}

// ExecRequest describes a process to run inside a container.
type ExecRequest struct {
	Argv    []string
	User    string
	WorkDir string
	Env     []string
}

// ExecOutput is the raw outcome of a process run inside a container.
type ExecOutput struct {
	Stdout   string
	Stderr   string
	ExitCode int
}
