package wpcli

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/melih/wpfleet/internal/core/domain"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// fakeRuntime is an in-memory ContainerService. Exec answers through
// respond; the default answers every command with exit 0 and no output.
type fakeRuntime struct {
	mu      sync.Mutex
	execs   [][]string
	copies  map[string][]byte
	dirs    []string
	respond func(argv []string) (domain.ExecOutput, error)
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{copies: make(map[string][]byte)}
}

func (f *fakeRuntime) ListContainers(ctx context.Context, filter domain.ContainerFilter) ([]domain.Container, error) {
	return nil, nil
}

func (f *fakeRuntime) Exec(ctx context.Context, containerID string, req domain.ExecRequest) (domain.ExecOutput, error) {
	f.mu.Lock()
	f.execs = append(f.execs, append([]string(nil), req.Argv...))
	respond := f.respond
	f.mu.Unlock()
	if respond == nil {
		return domain.ExecOutput{}, nil
	}
	return respond(req.Argv)
}

func (f *fakeRuntime) CopyToContainer(ctx context.Context, containerID, destPath string, content io.Reader, size int64) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies[destPath] = data
	return nil
}

func (f *fakeRuntime) CopyDirToContainer(ctx context.Context, containerID, srcDir, destDir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs = append(f.dirs, destDir)
	return nil
}

func (f *fakeRuntime) PublishedPort(ctx context.Context, containerID string, containerPort int) (string, error) {
	return "", errors.New("not published")
}

func (f *fakeRuntime) ContainerLogs(ctx context.Context, containerID string, tail int) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (f *fakeRuntime) calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.execs...)
}

// staticResolver always resolves to the same container, or fails with err.
type staticResolver struct {
	err   error
	calls atomic.Int32
}

func (r *staticResolver) Resolve(ctx context.Context, instanceID string) (domain.InstanceHandle, error) {
	r.calls.Add(1)
	if r.err != nil {
		return domain.InstanceHandle{}, r.err
	}
	return domain.InstanceHandle{InstanceID: instanceID, ContainerID: "c-" + instanceID, ContainerName: instanceID + "-wordpress-1"}, nil
}

func quietLogger() (logrus.FieldLogger, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return log, hook
}

func newTestDispatcher(rt *fakeRuntime, res Resolver, staging string) *Dispatcher {
	log, _ := quietLogger()
	return NewDispatcher(rt, res, nil, Options{StagingDir: staging, Logger: log})
}

// wpOptionStore answers `wp option update|get` from a map, which is all
// the round-trip tests need.
func wpOptionStore() func(argv []string) (domain.ExecOutput, error) {
	var mu sync.Mutex
	store := map[string]string{}
	return func(argv []string) (domain.ExecOutput, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(argv) < 4 || argv[1] != "option" {
			return domain.ExecOutput{}, nil
		}
		switch argv[2] {
		case "update":
			store[argv[3]] = argv[4]
			return domain.ExecOutput{Stdout: "Success: Updated '" + argv[3] + "' option.\n"}, nil
		case "get":
			v, ok := store[argv[3]]
			if !ok {
				return domain.ExecOutput{ExitCode: 1, Stderr: "Error: Could not get '" + argv[3] + "' option. Does it exist?"}, nil
			}
			return domain.ExecOutput{Stdout: v + "\n"}, nil
		}
		return domain.ExecOutput{}, nil
	}
}
