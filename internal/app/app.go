package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"appbuilder/internal/binding"
	"appbuilder/internal/config"
	"appbuilder/internal/dbclient"
	"appbuilder/internal/domain"
	"appbuilder/internal/interp"
	"appbuilder/internal/plugins"
	"appbuilder/internal/secret"
	"appbuilder/internal/service"
	"appbuilder/internal/storage"
	"appbuilder/internal/syncproto"
)

// App wires storage, services and the per-page rendering contexts. The
// serve command exposes it over HTTP, the mcp command over stdio.
type App struct {
	cfg config.Config

	db       *storage.DB
	settings *storage.SettingsStore
	secrets  secret.SecretStore
	pool     *dbclient.Pool
	fixtures *binding.FixtureProvider
	resolver *binding.Resolver

	plugins  *service.PluginRegistry
	elements *service.ElementService
	theme    *service.ThemeService
	projects *service.ProjectService
	backends *service.BackendService
	refresh  *service.RefreshService

	approvals *storage.ApprovalStore

	contexts *Contexts
	watcher  *pageWatcher
}

// New opens the database and builds every service. cfg must be resolved.
func New(cfg config.Config) (*App, error) {
	db, err := storage.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	secrets, err := secret.New(cfg.Secrets)
	if err != nil {
		db.Close()
		return nil, err
	}

	a := &App{cfg: cfg, db: db, secrets: secrets, settings: storage.NewSettingsStore(db)}

	backendStore := storage.NewBackendStore(db)
	a.pool = dbclient.NewPool(backendStore, secrets)
	if cfg.Fixtures {
		a.fixtures = binding.NewDemoFixtures()
	}
	a.resolver = binding.NewDefaultResolver(&http.Client{Timeout: 30 * time.Second}, a.pool, a.fixtures)

	a.contexts = NewContexts(ContextsOptions{
		Resolver:       a.resolver,
		BuilderOrigin:  cfg.PublicOrigin,
		PreviewOrigin:  config.PreviewOrigin,
		AllowedOrigins: cfg.AllowedOrigins,
		Interp:         []interp.Option{interp.WithScriptTimeout(cfg.ScriptTimeout)},
	})
	a.refresh = service.NewRefreshService(a.refreshElement)

	out := service.Fanout{a.contexts, scheduleSync{a}}
	a.plugins = service.NewPluginRegistry()
	a.elements = service.NewElementService(storage.NewElementStore(db), out, a.plugins)
	a.plugins.Register(plugins.NewTablePlugin(a.elements, a.resolver, binding.Describer(a.pool, a.fixtures)))
	a.contexts.SetElements(a.elements)

	a.theme = service.NewThemeService(a.settings, a.contexts)
	a.contexts.opts.Theme = a.theme
	a.projects = service.NewProjectService(storage.NewProjectStore(db), a.elements, a.theme)
	a.backends = service.NewBackendService(backendStore, secrets, a.pool)
	a.approvals = storage.NewApprovalStore(db)

	return a, nil
}

// Start begins the background work: theme file watching and external edit
// polling.
func (a *App) Start(ctx context.Context) error {
	if a.cfg.ThemeFile != "" {
		// WatchFile applies the current contents before watching
		if err := a.theme.WatchFile(ctx, a.cfg.ThemeFile); err != nil {
			return fmt.Errorf("watch theme file: %w", err)
		}
	}
	a.watcher = newPageWatcher(ctx, storage.NewElementStore(a.db), a.elements, a.theme, a.contexts.Open, a.cfg.PollInterval)
	a.watcher.Start()
	return nil
}

// Shutdown stops background work and closes the database. Pending element
// writes are flushed first.
func (a *App) Shutdown(ctx context.Context) {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	a.refresh.Stop()
	a.theme.Stop()
	a.contexts.Close()
	if err := a.elements.Flush(ctx); err != nil {
		log.Printf("app: flush elements: %v", err)
	}
	a.elements.Close()
	if err := a.backends.Close(); err != nil {
		log.Printf("app: close backends: %v", err)
	}
	if a.db != nil {
		a.db.Close()
	}
}

func (a *App) Elements() *service.ElementService { return a.elements }
func (a *App) Theme() *service.ThemeService { return a.theme }
func (a *App) Projects() *service.ProjectService { return a.projects }
func (a *App) Backends() *service.BackendService { return a.backends }
func (a *App) Plugins() *service.PluginRegistry { return a.plugins }
func (a *App) Resolver() *binding.Resolver { return a.resolver }
func (a *App) Contexts() *Contexts { return a.contexts }
func (a *App) Refresh() *service.RefreshService { return a.refresh }
func (a *App) Config() config.Config { return a.cfg }
func (a *App) Approvals() *storage.ApprovalStore { return a.approvals }

// Preview opens (or returns) the in-process preview of a page.
func (a *App) Preview(pageID string) (*Preview, error) {
	page, err := a.projects.GetPage(pageID)
	if err != nil {
		return nil, err
	}
	p, err := a.contexts.Preview(page.ID, page.ProjectID)
	if err != nil {
		return nil, err
	}
	a.syncSchedule()
	return p, nil
}

// FireEvent fires an event on an element in its page's preview and returns
// the action results with the host effects they produced.
func (a *App) FireEvent(ctx context.Context, elementID, eventType string, payload map[string]any) (interp.Result, []interp.Effect, error) {
	el, err := a.elements.Get(elementID)
	if err != nil {
		return interp.Result{}, nil, err
	}
	p, err := a.Preview(el.PageID)
	if err != nil {
		return interp.Result{}, nil, err
	}
	p.Settle()
	res, err := p.Fire(ctx, elementID, eventType, payload)
	if err != nil {
		return interp.Result{}, nil, err
	}
	return res, p.Host().Drain(), nil
}

// Interact performs a widget gesture in the element's page preview.
func (a *App) Interact(ctx context.Context, elementID, op string, keys []string) error {
	el, err := a.elements.Get(elementID)
	if err != nil {
		return err
	}
	p, err := a.Preview(el.PageID)
	if err != nil {
		return err
	}
	return p.Interact(elementID, op, keys)
}

// RenderHTML renders a page once its bindings have settled.
func (a *App) RenderHTML(pageID string) (string, error) {
	p, err := a.Preview(pageID)
	if err != nil {
		return "", err
	}
	p.Settle()
	// the first render starts resolution; render again once it settles
	p.Render()
	p.Settle()
	return p.HTML(), nil
}

// ── scheduled refresh ──────────────────────────────────────

// refreshElement re-resolves an element's binding in every open preview
// that has it bound and waits for the results.
func (a *App) refreshElement(ctx context.Context, elementID string) error {
	refreshed := 0
	for _, pageID := range a.contexts.Open() {
		p, err := a.contexts.Preview(pageID, "")
		if err != nil {
			continue
		}
		if p.Tracker().Refresh(elementID) {
			refreshed++
			p.Settle()
		}
	}
	if refreshed == 0 {
		log.Printf("refresh: element %s is not bound in any open page", elementID)
	}
	return ctx.Err()
}

// syncSchedule rebuilds the refresh schedule from the elements of every
// open page.
func (a *App) syncSchedule() {
	var all []domain.Element
	for _, pageID := range a.contexts.Open() {
		els, err := a.elements.Load(pageID)
		if err != nil {
			log.Printf("refresh: load page %s: %v", pageID, err)
			continue
		}
		all = append(all, els...)
	}
	a.refresh.Sync(all)
}

// scheduleSync watches element envelopes and keeps the refresh schedule in
// step with the bindings they carry.
type scheduleSync struct{ a *App }

func (s scheduleSync) Send(context.Context, syncproto.Envelope) error { return nil }

func (s scheduleSync) SendPage(_ context.Context, _ string, env syncproto.Envelope) error {
	switch env.(type) {
	case syncproto.UpdateElements, syncproto.DeleteElement, syncproto.DeleteElements:
		s.a.syncSchedule()
	}
	return nil
}
