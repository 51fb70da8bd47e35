package service

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"appbuilder/internal/domain"
)

// ─────────────────────────────────────────────────────────────
// Project Service — projects and their pages
// ─────────────────────────────────────────────────────────────

// ProjectService manages projects and pages and assembles the page state a
// rendering context starts from.
type ProjectService struct {
	store    domain.ProjectStore
	elements *ElementService
	theme    *ThemeService
}

func NewProjectService(store domain.ProjectStore, elements *ElementService, theme *ThemeService) *ProjectService {
	return &ProjectService{store: store, elements: elements, theme: theme}
}

// ── Projects ───────────────────────────────────────────────

func (s *ProjectService) ListProjects() ([]domain.Project, error) {
	return s.store.ListProjects()
}

func (s *ProjectService) CreateProject(name string) (*domain.Project, error) {
	p := &domain.Project{ID: uuid.NewString(), Name: name}
	if err := s.store.CreateProject(p); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return p, nil
}

func (s *ProjectService) RenameProject(id, name string) error {
	p, err := s.store.GetProject(id)
	if err != nil {
		return err
	}
	p.Name = name
	return s.store.UpdateProject(p)
}

func (s *ProjectService) DeleteProject(id string) error {
	pages, err := s.store.ListPages(id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteProject(id); err != nil {
		return err
	}
	for _, p := range pages {
		s.elements.Unload(p.ID)
	}
	return nil
}

// ── Pages ──────────────────────────────────────────────────

func (s *ProjectService) ListPages(projectID string) ([]domain.Page, error) {
	return s.store.ListPages(projectID)
}

func (s *ProjectService) GetPage(id string) (*domain.Page, error) {
	return s.store.GetPage(id)
}

// CreatePage appends a page to a project. The slug is derived from the name.
func (s *ProjectService) CreatePage(projectID, name string) (*domain.Page, error) {
	existing, err := s.store.ListPages(projectID)
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	p := &domain.Page{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Name:      name,
		Slug:      Slugify(name),
		Order:     len(existing),
	}
	if err := s.store.CreatePage(p); err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	return p, nil
}

func (s *ProjectService) RenamePage(id, name string) error {
	p, err := s.store.GetPage(id)
	if err != nil {
		return err
	}
	p.Name = name
	p.Slug = Slugify(name)
	return s.store.UpdatePage(p)
}

func (s *ProjectService) DeletePage(id string) error {
	if err := s.store.DeletePage(id); err != nil {
		return err
	}
	s.elements.Unload(id)
	return nil
}

// PageState returns the page with its elements and theme variables.
func (s *ProjectService) PageState(pageID string) (*domain.PageState, error) {
	page, err := s.store.GetPage(pageID)
	if err != nil {
		return nil, err
	}
	elements, err := s.elements.Load(pageID)
	if err != nil {
		return nil, err
	}
	if elements == nil {
		elements = []domain.Element{}
	}
	st := &domain.PageState{Page: *page, Elements: elements}
	if s.theme != nil {
		if t, err := s.theme.Get(); err == nil && len(t.Vars) > 0 {
			st.Theme = t.Vars
		}
	}
	return st, nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases name and joins its alphanumeric runs with dashes.
func Slugify(name string) string {
	s := nonSlug.ReplaceAllString(strings.ToLower(name), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "page"
	}
	return s
}
