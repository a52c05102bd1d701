package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/melih/wpfleet/internal/core/domain"
	"github.com/melih/wpfleet/internal/core/provision"
	"github.com/melih/wpfleet/internal/core/wpcli"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuntime struct {
	mu         sync.Mutex
	execs      [][]string
	copies     []string
	containers []domain.Container
	respond    func(argv []string) domain.ExecOutput
}

func (f *fakeRuntime) ListContainers(ctx context.Context, filter domain.ContainerFilter) ([]domain.Container, error) {
	return f.containers, nil
}

func (f *fakeRuntime) Exec(ctx context.Context, containerID string, req domain.ExecRequest) (domain.ExecOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, req.Argv)
	if f.respond != nil {
		return f.respond(req.Argv), nil
	}
	return domain.ExecOutput{Stdout: "Success\n"}, nil
}

func (f *fakeRuntime) CopyToContainer(ctx context.Context, containerID, destPath string, content io.Reader, size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies = append(f.copies, destPath)
	return nil
}

func (f *fakeRuntime) CopyDirToContainer(ctx context.Context, containerID, srcDir, destDir string) error {
	return nil
}

func (f *fakeRuntime) PublishedPort(ctx context.Context, containerID string, containerPort int) (string, error) {
	return "", nil
}

func (f *fakeRuntime) ContainerLogs(ctx context.Context, containerID string, tail int) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (f *fakeRuntime) last() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.execs) == 0 {
		return nil
	}
	return f.execs[len(f.execs)-1]
}

type fakeResolver struct {
	err error
}

func (r fakeResolver) Resolve(ctx context.Context, id string) (domain.InstanceHandle, error) {
	if r.err != nil {
		return domain.InstanceHandle{}, r.err
	}
	return domain.InstanceHandle{InstanceID: id, ContainerID: "c-" + id}, nil
}

type fakeInstances struct {
	items   map[string]domain.ManagedInstance
	created []provision.CreateRequest
	bundle  []byte
	removed []string
}

func (f *fakeInstances) Create(ctx context.Context, req provision.CreateRequest, bundle io.Reader) (*domain.ManagedInstance, error) {
	if req.SiteName == "" {
		return nil, domain.Validationf("siteName is required")
	}
	f.created = append(f.created, req)
	if bundle != nil {
		f.bundle, _ = io.ReadAll(bundle)
	}
	inst := domain.ManagedInstance{ID: provision.Slugify(req.SiteName), SiteName: req.SiteName, State: domain.StateDirectoryPrepared}
	f.items[inst.ID] = inst
	return &inst, nil
}

func (f *fakeInstances) Get(ctx context.Context, id string) (*domain.ManagedInstance, error) {
	inst, ok := f.items[id]
	if !ok {
		return nil, domain.NotFoundf("instance %q not found", id)
	}
	return &inst, nil
}

func (f *fakeInstances) List(ctx context.Context) ([]domain.ManagedInstance, error) {
	out := []domain.ManagedInstance{}
	for _, inst := range f.items {
		out = append(out, inst)
	}
	return out, nil
}

func (f *fakeInstances) Inspect(ctx context.Context, id string) (*provision.Status, error) {
	inst, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &provision.Status{ManagedInstance: *inst}, nil
}

func (f *fakeInstances) Logs(ctx context.Context, h domain.InstanceHandle, tail int) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("GET / 200\n")), nil
}

func (f *fakeInstances) Remove(ctx context.Context, id string, purge bool) error {
	if _, err := f.Get(ctx, id); err != nil {
		return err
	}
	f.removed = append(f.removed, id)
	delete(f.items, id)
	return nil
}

type testServer struct {
	app       *fiber.App
	runtime   *fakeRuntime
	instances *fakeInstances
}

func newTestServer(t *testing.T, res wpcli.Resolver, opts Options) *testServer {
	t.Helper()
	log, _ := test.NewNullLogger()
	rt := &fakeRuntime{}
	d := wpcli.NewDispatcher(rt, res, nil, wpcli.Options{StagingDir: t.TempDir(), LockWait: 50 * time.Millisecond, Logger: log})
	inst := &fakeInstances{items: map[string]domain.ManagedInstance{"blog": {ID: "blog", State: domain.StateReady}}}
	app := NewApp(Deps{Dispatcher: d, Instances: inst, Resolver: res, Runtime: rt, Logger: log}, opts)
	return &testServer{app: app, runtime: rt, instances: inst}
}

func (s *testServer) do(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := map[string]any{}
	_ = json.Unmarshal(raw, &body)
	return resp.StatusCode, body
}

func jsonRequest(method, path string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestPackageInstall(t *testing.T) {
	s := newTestServer(t, fakeResolver{}, Options{})

	status, body := s.do(t, jsonRequest("POST", "/api/v1/wp-cli/package/install", map[string]string{"packageName": "hello-dolly"}))
	assert.Equal(t, 200, status)
	assert.Equal(t, "Success", body["output"])
	assert.Equal(t, []string{"wp", "package", "install", "hello-dolly", "--allow-root"}, s.runtime.last())

	status, body = s.do(t, jsonRequest("POST", "/api/v1/wp-cli/package/install", map[string]string{"packageName": "bad name"}))
	assert.Equal(t, 400, status)
	assert.Contains(t, body["error"], "invalid package name")
}

func TestPackageInstallRateLimited(t *testing.T) {
	s := newTestServer(t, fakeResolver{}, Options{PackageInstallMax: 2, PackageInstallWindow: time.Minute})

	for i := 0; i < 2; i++ {
		status, _ := s.do(t, jsonRequest("POST", "/api/v1/wp-cli/package/install", map[string]string{"packageName": "hello-dolly"}))
		require.Equal(t, 200, status)
	}
	status, _ := s.do(t, jsonRequest("POST", "/api/v1/instances/blog/wp-cli/package/install", map[string]string{"packageName": "hello-dolly"}))
	assert.Equal(t, 429, status)

	// Other routes are not limited.
	status, _ = s.do(t, jsonRequest("POST", "/api/v1/wp-cli/cache/add", map[string]string{"key": "k", "data": "v"}))
	assert.Equal(t, 200, status)
}

func TestGenericProxyCannotInstallPackages(t *testing.T) {
	s := newTestServer(t, fakeResolver{}, Options{PackageInstallMax: 1, PackageInstallWindow: time.Minute})

	for i := 0; i < 3; i++ {
		status, body := s.do(t, jsonRequest("POST", "/api/v1/wp-cli/package", map[string]string{"args": "install ../../evil;name"}))
		assert.Equal(t, 403, status)
		assert.Contains(t, body["error"], "package/install")
	}
	assert.Nil(t, s.runtime.last())

	// the dedicated route still validates the name and keeps its budget
	status, _ := s.do(t, jsonRequest("POST", "/api/v1/wp-cli/package/install", map[string]string{"packageName": "../../evil;name"}))
	assert.Equal(t, 400, status)
	status, _ = s.do(t, jsonRequest("POST", "/api/v1/wp-cli/package/install", map[string]string{"packageName": "hello-dolly"}))
	assert.Equal(t, 429, status)
}

func TestDeniedCommandIsForbidden(t *testing.T) {
	s := newTestServer(t, fakeResolver{}, Options{})

	status, body := s.do(t, jsonRequest("POST", "/api/v1/wp-cli/eval", map[string]string{"args": "phpinfo();"}))
	assert.Equal(t, 403, status)
	assert.NotEmpty(t, body["error"])
	assert.Nil(t, s.runtime.last())
}

func TestGenericProxy(t *testing.T) {
	s := newTestServer(t, fakeResolver{}, Options{})

	status, _ := s.do(t, jsonRequest("POST", "/api/v1/instances/blog/wp-cli/plugin/install", map[string]string{"args": `akismet "; rm -rf /"`}))
	assert.Equal(t, 200, status)
	assert.Equal(t, []string{"wp", "plugin", "install", "akismet", "; rm -rf /", "--allow-root"}, s.runtime.last())
}

func TestGenericGetIsReadOnly(t *testing.T) {
	s := newTestServer(t, fakeResolver{}, Options{})

	req := httptest.NewRequest("GET", "/api/v1/wp-cli/plugin/list?args=--format%3Djson", nil)
	status, _ := s.do(t, req)
	assert.Equal(t, 200, status)
	assert.Equal(t, []string{"wp", "plugin", "list", "--format=json", "--allow-root"}, s.runtime.last())

	status, _ = s.do(t, httptest.NewRequest("GET", "/api/v1/wp-cli/plugin/delete?args=akismet", nil))
	assert.Equal(t, 400, status)
}

func TestMaintenanceBenign(t *testing.T) {
	s := newTestServer(t, fakeResolver{}, Options{})
	s.runtime.respond = func(argv []string) domain.ExecOutput {
		return domain.ExecOutput{ExitCode: 1, Stderr: "Error: Maintenance mode already active."}
	}

	status, body := s.do(t, jsonRequest("POST", "/api/v1/wp-cli/maintenance/enable", nil))
	assert.Equal(t, 200, status)
	assert.Equal(t, true, body["benign"])
	assert.Equal(t, "Maintenance mode is already active.", body["output"])

	status, _ = s.do(t, jsonRequest("POST", "/api/v1/wp-cli/maintenance/sideways", nil))
	assert.Equal(t, 400, status)
}

func TestExecutionErrorCarriesStderr(t *testing.T) {
	s := newTestServer(t, fakeResolver{}, Options{})
	s.runtime.respond = func(argv []string) domain.ExecOutput {
		return domain.ExecOutput{ExitCode: 1, Stderr: "Error: Role with ID 'ghost' does not exist."}
	}

	status, body := s.do(t, jsonRequest("POST", "/api/v1/wp-cli/roles/delete", map[string]string{"roleName": "ghost"}))
	assert.Equal(t, 500, status)
	assert.Equal(t, "Error: Role with ID 'ghost' does not exist.", body["detail"])
}

func TestResolutionFailureIsBadGateway(t *testing.T) {
	s := newTestServer(t, fakeResolver{err: domain.Resolution("no running container for instance \"blog\"", nil)}, Options{})

	status, body := s.do(t, httptest.NewRequest("GET", "/api/v1/wp-cli/roles", nil))
	assert.Equal(t, 502, status)
	assert.Contains(t, body["error"], "no running container")
}

func TestInfrastructureDetailRedacted(t *testing.T) {
	cause := errors.New("dial unix /var/run/docker.sock: connect: permission denied")
	for _, expose := range []bool{false, true} {
		s := newTestServer(t, fakeResolver{err: domain.Infrastructure("failed to list containers", cause)}, Options{ExposeErrors: expose})
		status, body := s.do(t, httptest.NewRequest("GET", "/api/v1/wp-cli/roles", nil))
		assert.Equal(t, 500, status)
		if expose {
			assert.Equal(t, cause.Error(), body["detail"])
		} else {
			assert.Nil(t, body["detail"])
		}
	}
}

func TestUnknownInstanceIsNotFound(t *testing.T) {
	s := newTestServer(t, fakeResolver{}, Options{})

	status, _ := s.do(t, httptest.NewRequest("GET", "/api/v1/instances/ghost/wp-cli/roles", nil))
	assert.Equal(t, 404, status)
	assert.Nil(t, s.runtime.last())
}

func TestOptionRoutes(t *testing.T) {
	s := newTestServer(t, fakeResolver{}, Options{})
	s.runtime.respond = func(argv []string) domain.ExecOutput {
		return domain.ExecOutput{Stdout: "value with spaces\n"}
	}

	status, _ := s.do(t, jsonRequest("POST", "/api/v1/instances/blog/wp-cli/option/set", map[string]string{"key": "tagline", "value": "value with spaces"}))
	assert.Equal(t, 200, status)
	assert.Equal(t, []string{"wp", "option", "update", "tagline", "value with spaces", "--allow-root"}, s.runtime.last())

	status, body := s.do(t, httptest.NewRequest("GET", "/api/v1/instances/blog/wp-cli/option/get/tagline", nil))
	assert.Equal(t, 200, status)
	assert.Equal(t, "value with spaces", body["output"])
}

func multipartRequest(t *testing.T, path, field, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if field != "" {
		part, err := w.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest("POST", path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestMediaImport(t *testing.T) {
	s := newTestServer(t, fakeResolver{}, Options{})

	status, body := s.do(t, multipartRequest(t, "/api/v1/wp-cli/media/import", "file", "cat.png", []byte("\x89PNG"), nil))
	assert.Equal(t, 200, status)
	assert.Equal(t, "Successfully imported cat.png as attachment.", body["output"])
	assert.Equal(t, []string{"/var/www/html/wp-content/uploads/cat.png"}, s.runtime.copies)

	status, _ = s.do(t, multipartRequest(t, "/api/v1/wp-cli/media/import", "", "", nil, map[string]string{"x": "y"}))
	assert.Equal(t, 400, status)
}

func TestExportDownload(t *testing.T) {
	s := newTestServer(t, fakeResolver{}, Options{})
	s.runtime.respond = func(argv []string) domain.ExecOutput {
		if argv[1] == "option" {
			return domain.ExecOutput{Stdout: "blog"}
		}
		return domain.ExecOutput{Stdout: "<rss/>"}
	}

	resp, err := s.app.Test(httptest.NewRequest("GET", "/api/v1/wp-cli/export", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "blog.wordpress.")
	data, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "<rss/>\n", string(data))
}

func TestInstanceRoutes(t *testing.T) {
	s := newTestServer(t, fakeResolver{}, Options{})

	status, body := s.do(t, multipartRequest(t, "/api/v1/instances", "bundle", "site.zip", []byte("PK"), map[string]string{
		"siteName":      "My Shop",
		"adminUser":     "admin",
		"adminPassword": "pw",
	}))
	assert.Equal(t, 202, status)
	assert.Equal(t, "my-shop", body["id"])
	assert.Equal(t, []byte("PK"), s.instances.bundle)
	require.Len(t, s.instances.created, 1)
	assert.Equal(t, "admin", s.instances.created[0].AdminUser)

	status, body = s.do(t, httptest.NewRequest("GET", "/api/v1/instances/blog", nil))
	assert.Equal(t, 200, status)
	assert.Equal(t, "READY", body["state"])

	status, _ = s.do(t, httptest.NewRequest("DELETE", "/api/v1/instances/blog?purge=true", nil))
	assert.Equal(t, 204, status)
	assert.Equal(t, []string{"blog"}, s.instances.removed)

	status, _ = s.do(t, httptest.NewRequest("GET", "/api/v1/instances/blog", nil))
	assert.Equal(t, 404, status)

	status, _ = s.do(t, jsonRequest("POST", "/api/v1/instances", map[string]string{"adminUser": "x"}))
	assert.Equal(t, 400, status)
}

func TestInstanceLogs(t *testing.T) {
	s := newTestServer(t, fakeResolver{}, Options{})

	resp, err := s.app.Test(httptest.NewRequest("GET", "/api/v1/instances/blog/logs?tail=10", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "GET / 200\n", string(data))
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t, fakeResolver{}, Options{})

	resp, err := s.app.Test(httptest.NewRequest("GET", "/healthz", nil), -1)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderXRequestID))
}

func TestRequestContextEndsWithRequest(t *testing.T) {
	app := fiber.New()
	app.Use(RequestContext())
	var seen context.Context
	app.Get("/", func(c *fiber.Ctx) error {
		seen = c.UserContext()
		assert.NoError(t, seen.Err())
		return c.SendStatus(fiber.StatusNoContent)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	require.NotNil(t, seen)
	assert.ErrorIs(t, seen.Err(), context.Canceled)
}
