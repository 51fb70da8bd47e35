package binding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"appbuilder/internal/domain"
)

// ── Fixture provider ────────────────────────────────────────
// In-process data for offline/demo mode. API bindings whose base URL is
// FixtureBaseURL and managed bindings whose backend is FixtureBackend are
// served from here. Callers cannot tell the difference: the same result path
// extraction, projection, ordering and limits apply.

// FixtureBackend is the reserved managed backend name served by fixtures.
const FixtureBackend = "fixtures"

// ErrFixtureNotFound is returned for an endpoint or table with no fixture.
var ErrFixtureNotFound = errors.New("fixture not found")

// FixtureProvider holds canned endpoint bodies and tables.
type FixtureProvider struct {
	mu        sync.RWMutex
	endpoints map[string]any
	tables    map[string][]domain.Record
	latency   time.Duration
}

// NewFixtureProvider creates an empty provider.
func NewFixtureProvider() *FixtureProvider {
	return &FixtureProvider{
		endpoints: make(map[string]any),
		tables:    make(map[string][]domain.Record),
	}
}

// NewDemoFixtures returns a provider preloaded with the demo data set.
func NewDemoFixtures() *FixtureProvider {
	p := NewFixtureProvider()
	users := []domain.Record{
		{"id": 1.0, "name": "Ada Lovelace", "email": "ada@example.com", "role": "admin", "active": true},
		{"id": 2.0, "name": "Grace Hopper", "email": "grace@example.com", "role": "editor", "active": true},
		{"id": 3.0, "name": "Alan Turing", "email": "alan@example.com", "role": "viewer", "active": false},
		{"id": 4.0, "name": "Edsger Dijkstra", "email": "edsger@example.com", "role": "editor", "active": true},
	}
	products := []domain.Record{
		{"sku": "KB-01", "title": "Keyboard", "price": 49.0, "stock": 120.0},
		{"sku": "MS-02", "title": "Mouse", "price": 19.0, "stock": 300.0},
		{"sku": "MN-03", "title": "Monitor", "price": 229.0, "stock": 35.0},
	}
	p.RegisterTable("users", users)
	p.RegisterTable("products", products)

	userList := make([]any, len(users))
	for i, u := range users {
		userList[i] = u
	}
	p.Register("/users", userList)
	p.Register("/users/paged", map[string]any{
		"data":  map[string]any{"items": userList},
		"total": float64(len(users)),
	})
	p.Register("/status", map[string]any{"status": "ok", "version": "1"})
	return p
}

// Register stores the body returned for endpoint.
func (p *FixtureProvider) Register(endpoint string, body any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endpoints[normalizeEndpoint(endpoint)] = domain.CloneValue(body)
}

// RegisterTable stores the rows of a fixture table.
func (p *FixtureProvider) RegisterTable(name string, rows []domain.Record) {
	cp := make([]domain.Record, len(rows))
	for i, r := range rows {
		cp[i] = domain.CloneProps(r)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tables[name] = cp
}

// SetLatency delays every fixture answer, honoring cancellation.
func (p *FixtureProvider) SetLatency(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latency = d
}

// Endpoint returns a copy of the body registered for endpoint. Only reads are
// served; other methods answer with an empty object.
func (p *FixtureProvider) Endpoint(ctx context.Context, method, endpoint string) (any, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	p.mu.RLock()
	body, ok := p.endpoints[normalizeEndpoint(endpoint)]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("http 404: %w: %s", ErrFixtureNotFound, endpoint)
	}
	if method != "" && method != http.MethodGet && method != http.MethodHead {
		return map[string]any{}, nil
	}
	return domain.CloneValue(body), nil
}

// QueryTable runs q against a fixture table with the same semantics as a
// managed backend.
func (p *FixtureProvider) QueryTable(ctx context.Context, q domain.TableQuery) ([]domain.Record, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	p.mu.RLock()
	rows, ok := p.tables[q.Table]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: table %s", ErrFixtureNotFound, q.Table)
	}
	out := ApplyTransformers(rows, QueryTransformers(q)...)
	cp := make([]domain.Record, len(out))
	for i, r := range out {
		cp[i] = domain.CloneProps(r)
	}
	return cp, nil
}

// TableColumns lists a fixture table's columns.
func (p *FixtureProvider) TableColumns(_ context.Context, _ string, table string) ([]string, error) {
	p.mu.RLock()
	rows, ok := p.tables[table]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: table %s", ErrFixtureNotFound, table)
	}
	return InferColumns(rows), nil
}

func (p *FixtureProvider) wait(ctx context.Context) error {
	p.mu.RLock()
	d := p.latency
	p.mu.RUnlock()
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		endpoint = endpoint[:i]
	}
	return "/" + strings.Trim(endpoint, "/")
}
