package dbclient

import (
	"context"
	"fmt"
	"log"
	"sync"

	"appbuilder/internal/domain"
	"appbuilder/internal/secret"
)

// ── Pool ────────────────────────────────────────────────────
// Lazily opened connectors keyed by backend ID. A TableQuery names its
// backend by name or ID; an empty name selects the only configured backend.

// OpenFunc opens a connector; NewConnector by default.
type OpenFunc func(b *domain.ManagedBackend, password string) (Connector, error)

// Pool resolves managed backends and caches their connectors.
type Pool struct {
	backends domain.ManagedBackendStore
	secrets  secret.SecretStore
	open     OpenFunc

	mu    sync.Mutex
	conns map[string]Connector
}

// NewPool creates a Pool. secrets may be nil for password-less backends.
func NewPool(backends domain.ManagedBackendStore, secrets secret.SecretStore) *Pool {
	return &Pool{
		backends: backends,
		secrets:  secrets,
		open:     NewConnector,
		conns:    make(map[string]Connector),
	}
}

// WithOpener replaces the connector factory.
func (p *Pool) WithOpener(open OpenFunc) *Pool {
	p.open = open
	return p
}

// QueryTable runs q on its backend.
func (p *Pool) QueryTable(ctx context.Context, q domain.TableQuery) ([]domain.Record, error) {
	conn, err := p.connector(q.Backend)
	if err != nil {
		return nil, err
	}
	return conn.QueryTable(ctx, q)
}

// TableColumns lists the column names of table on backend.
func (p *Pool) TableColumns(ctx context.Context, backend, table string) ([]string, error) {
	conn, err := p.connector(backend)
	if err != nil {
		return nil, err
	}
	cols, err := conn.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names, nil
}

// Introspect describes every table on backend.
func (p *Pool) Introspect(ctx context.Context, backend string) (*SchemaInfo, error) {
	conn, err := p.connector(backend)
	if err != nil {
		return nil, err
	}
	return conn.Introspect(ctx)
}

// Evict closes and forgets the connector of a backend, e.g. after its
// settings changed.
func (p *Pool) Evict(backendID string) {
	p.mu.Lock()
	conn, ok := p.conns[backendID]
	delete(p.conns, backendID)
	p.mu.Unlock()
	if ok {
		if err := conn.Close(); err != nil {
			log.Printf("dbclient: close %s: %v", backendID, err)
		}
	}
}

// Close closes every open connector.
func (p *Pool) Close() error {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]Connector)
	p.mu.Unlock()

	var firstErr error
	for id, c := range conns {
		if err := c.Close(); err != nil {
			log.Printf("dbclient: close %s: %v", id, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (p *Pool) lookup(name string) (*domain.ManagedBackend, error) {
	if name == "" {
		all, err := p.backends.ListBackends()
		if err != nil {
			return nil, fmt.Errorf("list backends: %w", err)
		}
		switch len(all) {
		case 0:
			return nil, fmt.Errorf("no managed backend configured")
		case 1:
			return &all[0], nil
		default:
			return nil, fmt.Errorf("binding must name a backend: %d configured", len(all))
		}
	}
	if b, err := p.backends.GetBackendByName(name); err == nil && b != nil {
		return b, nil
	}
	b, err := p.backends.GetBackend(name)
	if err != nil {
		return nil, fmt.Errorf("backend %q not found: %w", name, err)
	}
	return b, nil
}

func (p *Pool) connector(name string) (Connector, error) {
	b, err := p.lookup(name)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.conns[b.ID]; ok {
		return c, nil
	}

	var password string
	if p.secrets != nil {
		pw, err := p.secrets.Get(b.ID)
		if err != nil {
			return nil, fmt.Errorf("read secret for %s: %w", b.Name, err)
		}
		password = string(pw)
	}
	c, err := p.open(b, password)
	if err != nil {
		return nil, fmt.Errorf("open backend %s: %w", b.Name, err)
	}
	p.conns[b.ID] = c
	return c, nil
}
