package http

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/melih/wpfleet/internal/core/domain"
	"github.com/melih/wpfleet/internal/core/ports"
	"github.com/melih/wpfleet/internal/core/resolver"
	"github.com/sirupsen/logrus"
)

// ProxyHandler forwards <instance>.<base host> requests to the instance's
// WordPress container.
type ProxyHandler struct {
	service  ports.ContainerService
	baseHost string
	log      logrus.FieldLogger
}

func NewProxyHandler(service ports.ContainerService, baseHost string, log logrus.FieldLogger) *ProxyHandler {
	return &ProxyHandler{service: service, baseHost: strings.ToLower(baseHost), log: log}
}

// instanceFor returns the subdomain label of host under the base host, or
// "" when host is not an instance subdomain.
func (h *ProxyHandler) instanceFor(host string) string {
	if hostname, _, err := net.SplitHostPort(host); err == nil {
		host = hostname
	}
	host = strings.ToLower(host)
	sub, ok := strings.CutSuffix(host, "."+h.baseHost)
	if !ok || sub == "" || sub == "www" || strings.Contains(sub, ".") {
		return ""
	}
	return sub
}

// ProxyRequest passes through anything that is not an instance subdomain.
func (h *ProxyHandler) ProxyRequest(c *fiber.Ctx) error {
	id := h.instanceFor(c.Hostname())
	if id == "" {
		return c.Next()
	}

	containers, err := h.service.ListContainers(c.UserContext(), domain.ContainerFilter{
		Labels: map[string]string{resolver.ProjectLabel: id, resolver.ServiceLabel: resolver.DefaultService},
	})
	if err != nil {
		return domain.Infrastructure("failed to list containers", err)
	}

	var targetIP string
	for _, container := range containers {
		if container.State == "running" && container.IPAddress != "" {
			targetIP = container.IPAddress
			break
		}
	}
	if targetIP == "" {
		return c.Status(fiber.StatusNotFound).SendString(fmt.Sprintf("Site '%s' not found or not running", id))
	}

	remote, err := url.Parse("http://" + targetIP)
	if err != nil {
		return domain.Infrastructure("invalid target address", err)
	}
	proxy := httputil.NewSingleHostReverseProxy(remote)

	// WordPress builds links from Host, so the original one is kept and
	// only the upstream address changes.
	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalHost := req.Host
		originalDirector(req)
		req.Header.Set("X-Forwarded-Host", originalHost)
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		h.log.WithError(err).WithField("instance", id).WithField("target", targetIP).Warn("proxy request failed")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream unavailable"))
	}

	return adaptor.HTTPHandler(proxy)(c)
}
