package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"appbuilder/internal/domain"
	"appbuilder/internal/service"
	"appbuilder/internal/storage"
	"appbuilder/internal/widgets"
)

// Server is the HTTP surface of the serve command: the websocket sync
// channel of each page, rendered previews, authoring endpoints and the
// approval inbox for destructive MCP calls.
type Server struct {
	app  *App
	echo *echo.Echo
}

func NewServer(a *App) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = httpErrorHandler(e)

	s := &Server{app: a, echo: e}
	s.routes()
	return s
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	log.Printf("server: listening on %s", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) routes() {
	e := s.echo

	// Projects and pages
	e.GET("/projects", s.listProjects)
	e.POST("/projects", s.createProject)
	e.PATCH("/projects/:id", s.renameProject)
	e.DELETE("/projects/:id", s.deleteProject)
	e.GET("/projects/:id/pages", s.listPages)
	e.POST("/projects/:id/pages", s.createPage)
	e.PATCH("/pages/:id", s.renamePage)
	e.DELETE("/pages/:id", s.deletePage)

	// Rendering contexts
	e.GET("/pages/:id/ws", s.pageSocket)
	e.GET("/pages/:id/render", s.renderPage)
	e.GET("/pages/:id/state", s.pageState)

	// Elements
	e.POST("/pages/:id/elements", s.createElement)
	e.POST("/pages/:id/reorder", s.reorderElements)
	e.GET("/elements/:eid", s.getElement)
	e.PATCH("/elements/:eid", s.patchElement)
	e.PUT("/elements/:eid/binding", s.setBinding)
	e.DELETE("/elements/:eid", s.deleteElement)
	e.POST("/elements/:eid/events/:type", s.fireEvent)
	e.POST("/elements/:eid/interact/:op", s.interact)

	// Theme
	e.GET("/theme", s.getTheme)
	e.PUT("/theme/vars", s.setThemeVars)
	e.PUT("/theme/tokens", s.setThemeTokens)

	// Managed backends
	e.GET("/backends", s.listBackends)
	e.POST("/backends", s.createBackend)
	e.DELETE("/backends/:id", s.deleteBackend)
	e.GET("/backends/:name/schema", s.introspectBackend)
	e.GET("/backends/:name/tables/:table", s.previewTable)
	e.POST("/bindings/resolve", s.resolveBinding)

	// Approvals
	e.GET("/approvals", s.listApprovals)
	e.POST("/approvals/:id/approve", s.resolveApproval(true))
	e.POST("/approvals/:id/reject", s.resolveApproval(false))
}

// httpErrorHandler maps not-found and validation errors to their status
// codes; everything else is a 500.
func httpErrorHandler(e *echo.Echo) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		var he *echo.HTTPError
		switch {
		case errors.As(err, &he):
		case errors.Is(err, storage.ErrNotFound), errors.Is(err, service.ErrElementNotFound):
			he = echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, domain.ErrInvalidBinding), errors.Is(err, widgets.ErrUnsupported):
			he = echo.NewHTTPError(http.StatusBadRequest, err.Error())
		default:
			log.Printf("server: %s %s: %v", c.Request().Method, c.Path(), err)
			he = echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		e.DefaultHTTPErrorHandler(he, c)
	}
}

// bind decodes the JSON body only. echo's default binder also copies path
// and query params, which would leak into map-typed bodies.
func bind(c echo.Context, target any) error {
	if err := json.NewDecoder(c.Request().Body).Decode(target); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("decode body: %v", err))
	}
	return nil
}

// ── projects and pages ─────────────────────────────────────

type nameRequest struct {
	Name string `json:"name"`
}

func (s *Server) listProjects(c echo.Context) error {
	projects, err := s.app.projects.ListProjects()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, projects)
}

func (s *Server) createProject(c echo.Context) error {
	var req nameRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	project, err := s.app.projects.CreateProject(req.Name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, project)
}

func (s *Server) renameProject(c echo.Context) error {
	var req nameRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := s.app.projects.RenameProject(c.Param("id"), req.Name); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deleteProject(c echo.Context) error {
	id := c.Param("id")
	pages, err := s.app.projects.ListPages(id)
	if err != nil {
		return err
	}
	if err := s.app.projects.DeleteProject(id); err != nil {
		return err
	}
	for _, p := range pages {
		s.app.contexts.ClosePage(p.ID)
	}
	s.app.syncSchedule()
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listPages(c echo.Context) error {
	pages, err := s.app.projects.ListPages(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pages)
}

func (s *Server) createPage(c echo.Context) error {
	var req nameRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	page, err := s.app.projects.CreatePage(c.Param("id"), req.Name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, page)
}

func (s *Server) renamePage(c echo.Context) error {
	var req nameRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := s.app.projects.RenamePage(c.Param("id"), req.Name); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deletePage(c echo.Context) error {
	id := c.Param("id")
	if err := s.app.projects.DeletePage(id); err != nil {
		return err
	}
	s.app.contexts.ClosePage(id)
	s.app.syncSchedule()
	return c.NoContent(http.StatusNoContent)
}

// ── rendering contexts ─────────────────────────────────────

// pageSocket upgrades to the page's sync channel. The hub sends the current
// elements and theme on connect.
func (s *Server) pageSocket(c echo.Context) error {
	page, err := s.app.projects.GetPage(c.Param("id"))
	if err != nil {
		return err
	}
	hub, err := s.app.contexts.Hub(page.ID, page.ProjectID)
	if err != nil {
		return err
	}
	s.app.syncSchedule()
	hub.ServeHTTP(c.Response(), c.Request())
	return nil
}

func (s *Server) renderPage(c echo.Context) error {
	html, err := s.app.RenderHTML(c.Param("id"))
	if err != nil {
		return err
	}
	return c.HTML(http.StatusOK, html)
}

func (s *Server) pageState(c echo.Context) error {
	state, err := s.app.projects.PageState(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, state)
}

// ── elements ───────────────────────────────────────────────

func (s *Server) createElement(c echo.Context) error {
	var in service.CreateInput
	if err := bind(c, &in); err != nil {
		return err
	}
	in.PageID = c.Param("id")
	el, err := s.app.elements.Create(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, el)
}

type reorderRequest struct {
	ParentID string   `json:"parentId"`
	IDs      []string `json:"ids"`
}

func (s *Server) reorderElements(c echo.Context) error {
	var req reorderRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	pageID := c.Param("id")
	if err := s.app.elements.Reorder(c.Request().Context(), pageID, req.ParentID, req.IDs); err != nil {
		return err
	}
	children, err := s.app.elements.Children(pageID, req.ParentID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, children)
}

func (s *Server) getElement(c echo.Context) error {
	el, err := s.app.elements.Get(c.Param("eid"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, el)
}

type patchRequest struct {
	Props   map[string]any `json:"props"`
	Replace bool           `json:"replace"`
}

func (s *Server) patchElement(c echo.Context) error {
	var req patchRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	el, err := s.app.elements.PatchProps(c.Request().Context(), c.Param("eid"), req.Props, !req.Replace)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, el)
}

// setBinding replaces the element's binding; a JSON null clears it.
func (s *Server) setBinding(c echo.Context) error {
	var desc *domain.BindingDescriptor
	if err := bind(c, &desc); err != nil {
		return err
	}
	el, err := s.app.elements.SetBinding(c.Request().Context(), c.Param("eid"), desc)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, el)
}

// deleteElement removes an element subtree. ?soft=true flags the rows
// instead of removing them.
func (s *Server) deleteElement(c echo.Context) error {
	soft := false
	if v := c.QueryParam("soft"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "soft must be a boolean")
		}
		soft = b
	}
	ids, err := s.app.elements.Delete(c.Request().Context(), c.Param("eid"), soft)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"deleted": ids, "soft": soft})
}

func (s *Server) fireEvent(c echo.Context) error {
	var payload map[string]any
	if c.Request().ContentLength != 0 {
		if err := bind(c, &payload); err != nil {
			return err
		}
	}
	res, effects, err := s.app.FireEvent(c.Request().Context(), c.Param("eid"), c.Param("type"), payload)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"result": res, "effects": effects})
}

type interactRequest struct {
	Keys []string `json:"keys"`
}

func (s *Server) interact(c echo.Context) error {
	var req interactRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := s.app.Interact(c.Request().Context(), c.Param("eid"), c.Param("op"), req.Keys); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// ── theme ──────────────────────────────────────────────────

func (s *Server) getTheme(c echo.Context) error {
	t, err := s.app.theme.Get()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (s *Server) setThemeVars(c echo.Context) error {
	var vars map[string]string
	if err := bind(c, &vars); err != nil {
		return err
	}
	if err := s.app.theme.SetVars(c.Request().Context(), vars); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// setThemeTokens accepts a selector → declarations object or a JSON string
// holding a stylesheet.
func (s *Server) setThemeTokens(c echo.Context) error {
	var styles any
	if err := bind(c, &styles); err != nil {
		return err
	}
	if err := s.app.theme.SetTokens(c.Request().Context(), styles); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// ── backends ───────────────────────────────────────────────

func (s *Server) listBackends(c echo.Context) error {
	backends, err := s.app.backends.ListBackends()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, backends)
}

func (s *Server) createBackend(c echo.Context) error {
	var in service.CreateBackendInput
	if err := bind(c, &in); err != nil {
		return err
	}
	b, err := s.app.backends.CreateBackend(in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, b)
}

func (s *Server) deleteBackend(c echo.Context) error {
	if err := s.app.backends.DeleteBackend(c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) introspectBackend(c echo.Context) error {
	schema, err := s.app.backends.Introspect(c.Request().Context(), c.Param("name"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, schema)
}

func (s *Server) previewTable(c echo.Context) error {
	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	rows, err := s.app.backends.Preview(c.Request().Context(), c.Param("name"), c.Param("table"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rows)
}

func (s *Server) resolveBinding(c echo.Context) error {
	var desc domain.BindingDescriptor
	if err := bind(c, &desc); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.app.resolver.Resolve(c.Request().Context(), &desc))
}

// ── approvals ──────────────────────────────────────────────

func (s *Server) listApprovals(c echo.Context) error {
	pending, err := s.app.approvals.ListPending()
	if err != nil {
		return err
	}
	if pending == nil {
		pending = []storage.Approval{}
	}
	return c.JSON(http.StatusOK, pending)
}

func (s *Server) resolveApproval(approved bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		if err := s.app.approvals.Resolve(id, approved); err != nil {
			return err
		}
		log.Printf("server: approval %s resolved (approved=%v)", id, approved)
		return c.NoContent(http.StatusNoContent)
	}
}
