package http

import (
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/melih/wpfleet/internal/core/domain"
	"github.com/melih/wpfleet/internal/core/wpcli"
)

// WPCLIHandler exposes WP-CLI operations of one instance. Routes mounted
// under /instances/:id use that ID; the others use the default instance.
type WPCLIHandler struct {
	dispatcher      *wpcli.Dispatcher
	defaultInstance string
}

func NewWPCLIHandler(d *wpcli.Dispatcher, defaultInstance string) *WPCLIHandler {
	return &WPCLIHandler{dispatcher: d, defaultInstance: defaultInstance}
}

// Register mounts every WP-CLI route on r. packageLimit guards
// package/install and may be nil.
func (h *WPCLIHandler) Register(r fiber.Router, packageLimit fiber.Handler) {
	if packageLimit != nil {
		r.Post("/package/install", packageLimit, h.InstallPackage)
	} else {
		r.Post("/package/install", h.InstallPackage)
	}
	r.Post("/cap-add", h.CapAdd)
	r.Post("/cap", h.CapList)
	r.Post("/cap/delete", h.CapRemove)
	r.Get("/roles", h.RoleList)
	r.Post("/role/create", h.RoleCreate)
	r.Post("/roles/delete", h.RoleDelete)
	r.Post("/cache/add", h.CacheAdd)
	r.Post("/import", h.ImportContent)
	r.Post("/media/import", h.ImportMedia)
	r.Post("/language/set", h.LanguageSet)
	r.Get("/language/installed", h.LanguagesInstalled)
	r.Get("/language/all-languages", h.LanguagesAll)
	r.Post("/language/install", h.LanguageInstall)
	r.Post("/language/uninstall", h.LanguageUninstall)
	r.Get("/maintenance/status", h.MaintenanceStatus)
	r.Post("/maintenance/:mode", h.Maintenance)
	r.Post("/search-replace", h.SearchReplace)
	r.Post("/user/create", h.UserCreate)
	r.Post("/user/generate", h.UserGenerate)
	r.Post("/user/delete", h.UserDelete)
	r.Post("/user/list/sorted", h.UserListSorted)
	r.Post("/user/filtered", h.UserListFiltered)
	r.Post("/option/set", h.OptionSet)
	r.Get("/option/get/:optionName", h.OptionGet)
	r.Get("/export", h.Export)
	r.Get("/help/:command?", h.Help)
	r.Post("/git/:kind", h.InstallFromGit)
	r.Post("/:namespace/:subCommand?", h.Proxy)
	r.Get("/:namespace/:subCommand?", h.ProxyReadOnly)
}

func (h *WPCLIHandler) instance(c *fiber.Ctx) string {
	if id := c.Params("id"); id != "" {
		return id
	}
	return h.defaultInstance
}

func respond(c *fiber.Ctx, res wpcli.Result, err error) error {
	if err != nil {
		return err
	}
	body := fiber.Map{"output": res.Output()}
	if res.Benign {
		body["benign"] = true
	}
	return c.JSON(body)
}

func parse(c *fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(out); err != nil {
		return domain.Validationf("invalid request body")
	}
	return nil
}

type argsRequest struct {
	Args string `json:"args" form:"args"`
}

func (h *WPCLIHandler) InstallPackage(c *fiber.Ctx) error {
	var req struct {
		PackageName string `json:"packageName" form:"packageName"`
	}
	if err := parse(c, &req); err != nil {
		return err
	}
	res, err := h.dispatcher.InstallPackage(c.UserContext(), h.instance(c), req.PackageName)
	return respond(c, res, err)
}

func (h *WPCLIHandler) CapAdd(c *fiber.Ctx) error {
	var req struct {
		Role       string `json:"role"`
		Capability string `json:"capability"`
	}
	if err := parse(c, &req); err != nil {
		return err
	}
	res, err := h.dispatcher.CapAdd(c.UserContext(), h.instance(c), req.Role, req.Capability)
	return respond(c, res, err)
}

func (h *WPCLIHandler) CapList(c *fiber.Ctx) error {
	var req struct {
		Role string `json:"role"`
	}
	if err := parse(c, &req); err != nil {
		return err
	}
	res, err := h.dispatcher.CapList(c.UserContext(), h.instance(c), req.Role)
	return respond(c, res, err)
}

func (h *WPCLIHandler) CapRemove(c *fiber.Ctx) error {
	var req struct {
		RoleName string `json:"roleName"`
		Cap      string `json:"cap"`
	}
	if err := parse(c, &req); err != nil {
		return err
	}
	res, err := h.dispatcher.CapRemove(c.UserContext(), h.instance(c), req.RoleName, req.Cap)
	return respond(c, res, err)
}

func (h *WPCLIHandler) RoleList(c *fiber.Ctx) error {
	res, err := h.dispatcher.RoleList(c.UserContext(), h.instance(c))
	return respond(c, res, err)
}

func (h *WPCLIHandler) RoleCreate(c *fiber.Ctx) error {
	var req struct {
		RoleName    string `json:"roleName"`
		DisplayName string `json:"displayName"`
	}
	if err := parse(c, &req); err != nil {
		return err
	}
	res, err := h.dispatcher.RoleCreate(c.UserContext(), h.instance(c), req.RoleName, req.DisplayName)
	return respond(c, res, err)
}

func (h *WPCLIHandler) RoleDelete(c *fiber.Ctx) error {
	var req struct {
		RoleName string `json:"roleName"`
	}
	if err := parse(c, &req); err != nil {
		return err
	}
	res, err := h.dispatcher.RoleDelete(c.UserContext(), h.instance(c), req.RoleName)
	return respond(c, res, err)
}

func (h *WPCLIHandler) CacheAdd(c *fiber.Ctx) error {
	var req struct {
		Key   string `json:"key"`
		Data  string `json:"data"`
		Group string `json:"group"`
	}
	if err := parse(c, &req); err != nil {
		return err
	}
	res, err := h.dispatcher.CacheAdd(c.UserContext(), h.instance(c), req.Key, req.Data, req.Group)
	return respond(c, res, err)
}

func (h *WPCLIHandler) upload(c *fiber.Ctx) (wpcli.Upload, func(), error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return wpcli.Upload{}, nil, domain.Validationf("no file uploaded")
	}
	f, err := fh.Open()
	if err != nil {
		return wpcli.Upload{}, nil, domain.Infrastructure("failed to read upload", err)
	}
	return wpcli.Upload{Filename: fh.Filename, Content: f}, func() { f.Close() }, nil
}

func (h *WPCLIHandler) ImportContent(c *fiber.Ctx) error {
	up, done, err := h.upload(c)
	if err != nil {
		return err
	}
	defer done()
	res, err := h.dispatcher.ImportContent(c.UserContext(), h.instance(c), up)
	return respond(c, res, err)
}

func (h *WPCLIHandler) ImportMedia(c *fiber.Ctx) error {
	up, done, err := h.upload(c)
	if err != nil {
		return err
	}
	defer done()
	res, err := h.dispatcher.ImportMedia(c.UserContext(), h.instance(c), up)
	return respond(c, res, err)
}

func (h *WPCLIHandler) LanguageSet(c *fiber.Ctx) error {
	var req argsRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	res, err := h.dispatcher.LanguageSet(c.UserContext(), h.instance(c), req.Args)
	return respond(c, res, err)
}

func (h *WPCLIHandler) LanguagesInstalled(c *fiber.Ctx) error {
	res, err := h.dispatcher.LanguagesInstalled(c.UserContext(), h.instance(c))
	return respond(c, res, err)
}

func (h *WPCLIHandler) LanguagesAll(c *fiber.Ctx) error {
	res, err := h.dispatcher.LanguagesAll(c.UserContext(), h.instance(c))
	return respond(c, res, err)
}

type languageRequest struct {
	Language string `json:"language"`
}

func (h *WPCLIHandler) LanguageInstall(c *fiber.Ctx) error {
	var req languageRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	res, err := h.dispatcher.LanguageInstall(c.UserContext(), h.instance(c), req.Language)
	return respond(c, res, err)
}

func (h *WPCLIHandler) LanguageUninstall(c *fiber.Ctx) error {
	var req languageRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	res, err := h.dispatcher.LanguageUninstall(c.UserContext(), h.instance(c), req.Language)
	return respond(c, res, err)
}

func (h *WPCLIHandler) MaintenanceStatus(c *fiber.Ctx) error {
	res, err := h.dispatcher.MaintenanceStatus(c.UserContext(), h.instance(c))
	return respond(c, res, err)
}

func (h *WPCLIHandler) Maintenance(c *fiber.Ctx) error {
	var enable bool
	switch c.Params("mode") {
	case "enable":
		enable = true
	case "disable":
	default:
		return domain.Validationf("mode must be enable or disable")
	}
	res, err := h.dispatcher.SetMaintenanceMode(c.UserContext(), h.instance(c), enable)
	return respond(c, res, err)
}

func (h *WPCLIHandler) SearchReplace(c *fiber.Ctx) error {
	var req struct {
		OldValue string `json:"oldValue"`
		NewValue string `json:"newValue"`
	}
	if err := parse(c, &req); err != nil {
		return err
	}
	res, err := h.dispatcher.SearchReplace(c.UserContext(), h.instance(c), req.OldValue, req.NewValue)
	return respond(c, res, err)
}

func (h *WPCLIHandler) UserCreate(c *fiber.Ctx) error {
	var req struct {
		Username    string `json:"username"`
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := parse(c, &req); err != nil {
		return err
	}
	res, err := h.dispatcher.UserCreate(c.UserContext(), h.instance(c), req.Username, req.Email, req.Password, req.DisplayName)
	return respond(c, res, err)
}

func (h *WPCLIHandler) UserGenerate(c *fiber.Ctx) error {
	var req struct {
		Count int `json:"count"`
	}
	if err := parse(c, &req); err != nil {
		return err
	}
	res, err := h.dispatcher.UserGenerate(c.UserContext(), h.instance(c), req.Count)
	return respond(c, res, err)
}

func (h *WPCLIHandler) UserDelete(c *fiber.Ctx) error {
	var req struct {
		UserName string `json:"userName"`
	}
	if err := parse(c, &req); err != nil {
		return err
	}
	res, err := h.dispatcher.UserDelete(c.UserContext(), h.instance(c), req.UserName)
	return respond(c, res, err)
}

func (h *WPCLIHandler) UserListSorted(c *fiber.Ctx) error {
	var req argsRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	res, err := h.dispatcher.UserListSorted(c.UserContext(), h.instance(c), req.Args)
	return respond(c, res, err)
}

func (h *WPCLIHandler) UserListFiltered(c *fiber.Ctx) error {
	var req struct {
		Field string `json:"field"`
		Args  string `json:"args"`
	}
	if err := parse(c, &req); err != nil {
		return err
	}
	res, err := h.dispatcher.UserListFiltered(c.UserContext(), h.instance(c), req.Field, req.Args)
	return respond(c, res, err)
}

func (h *WPCLIHandler) OptionSet(c *fiber.Ctx) error {
	var req struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := parse(c, &req); err != nil {
		return err
	}
	res, err := h.dispatcher.OptionSet(c.UserContext(), h.instance(c), req.Key, req.Value)
	return respond(c, res, err)
}

func (h *WPCLIHandler) OptionGet(c *fiber.Ctx) error {
	res, err := h.dispatcher.OptionGet(c.UserContext(), h.instance(c), c.Params("optionName"))
	return respond(c, res, err)
}

func (h *WPCLIHandler) Export(c *fiber.Ctx) error {
	exp, err := h.dispatcher.Export(c.UserContext(), h.instance(c))
	if err != nil {
		return err
	}
	c.Attachment(exp.Filename)
	c.Set(fiber.HeaderContentType, "application/xml; charset=utf-8")
	return c.Send(exp.Data)
}

func (h *WPCLIHandler) Help(c *fiber.Ctx) error {
	topic, err := url.PathUnescape(c.Params("command"))
	if err != nil {
		return domain.Validationf("invalid help topic")
	}
	res, err := h.dispatcher.Help(c.UserContext(), h.instance(c), topic)
	return respond(c, res, err)
}

func (h *WPCLIHandler) InstallFromGit(c *fiber.Ctx) error {
	var req struct {
		RepoURL string `json:"repoURL"`
		Ref     string `json:"ref"`
	}
	if err := parse(c, &req); err != nil {
		return err
	}
	res, err := h.dispatcher.InstallFromGit(c.UserContext(), h.instance(c), wpcli.GitSource{
		Kind:    c.Params("kind"),
		RepoURL: req.RepoURL,
		Ref:     req.Ref,
	})
	return respond(c, res, err)
}

// Proxy runs `wp <namespace> <subCommand> <args>` for any allowed namespace.
func (h *WPCLIHandler) Proxy(c *fiber.Ctx) error {
	var req argsRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	res, err := h.dispatcher.Run(c.UserContext(), h.instance(c), domain.CliOperation{
		Namespace:  c.Params("namespace"),
		SubCommand: c.Params("subCommand"),
		ArgString:  req.Args,
	})
	return respond(c, res, err)
}

// ProxyReadOnly is the GET form of Proxy; arguments come from the args
// query parameter and only read-only commands are accepted.
func (h *WPCLIHandler) ProxyReadOnly(c *fiber.Ctx) error {
	cmd, err := h.dispatcher.Builder().Operation(domain.CliOperation{
		Namespace:  c.Params("namespace"),
		SubCommand: c.Params("subCommand"),
		ArgString:  c.Query("args"),
	})
	if err != nil {
		return err
	}
	if !cmd.ReadOnly() {
		return domain.Validationf("%s changes state; use POST", strings.TrimSpace(cmd.Namespace()+" "+cmd.SubCommand()))
	}
	res, err := h.dispatcher.Dispatch(c.UserContext(), h.instance(c), cmd)
	return respond(c, res, err)
}
