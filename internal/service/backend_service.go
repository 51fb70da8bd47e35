package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"appbuilder/internal/dbclient"
	"appbuilder/internal/domain"
	"appbuilder/internal/secret"
)

// ─────────────────────────────────────────────────────────────
// Backend Service — managed-table backends
// ─────────────────────────────────────────────────────────────

// CreateBackendInput is the service-layer DTO for registering a backend.
type CreateBackendInput struct {
	Name     string `json:"name"`
	Driver   string `json:"driver"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
	SSLMode  string `json:"sslMode"`
}

// BackendService registers managed backends and reaches them through the
// shared connector pool. Passwords go to the secret store, keyed by backend
// ID.
type BackendService struct {
	store   domain.ManagedBackendStore
	secrets secret.SecretStore
	pool    *dbclient.Pool
}

func NewBackendService(store domain.ManagedBackendStore, secrets secret.SecretStore, pool *dbclient.Pool) *BackendService {
	return &BackendService{store: store, secrets: secrets, pool: pool}
}

func (s *BackendService) ListBackends() ([]domain.ManagedBackend, error) {
	return s.store.ListBackends()
}

func (s *BackendService) CreateBackend(input CreateBackendInput) (*domain.ManagedBackend, error) {
	switch domain.BackendDriver(input.Driver) {
	case domain.DriverSQLite, domain.DriverPostgres, domain.DriverMySQL, domain.DriverMongoDB:
	default:
		return nil, fmt.Errorf("create backend: unsupported driver %q", input.Driver)
	}
	if input.Name == "" {
		return nil, fmt.Errorf("create backend: name is required")
	}
	b := &domain.ManagedBackend{
		ID:       uuid.NewString(),
		Name:     input.Name,
		Driver:   domain.BackendDriver(input.Driver),
		Host:     input.Host,
		Port:     input.Port,
		Database: input.Database,
		Username: input.Username,
		SSLMode:  input.SSLMode,
	}
	if err := s.store.CreateBackend(b); err != nil {
		return nil, fmt.Errorf("create backend: %w", err)
	}
	if input.Password != "" && s.secrets != nil {
		if err := s.secrets.Set(b.ID, []byte(input.Password)); err != nil {
			return nil, fmt.Errorf("store backend password: %w", err)
		}
	}
	return b, nil
}

func (s *BackendService) DeleteBackend(id string) error {
	s.pool.Evict(id)
	if s.secrets != nil {
		_ = s.secrets.Delete(id)
	}
	return s.store.DeleteBackend(id)
}

// ── Introspection ──────────────────────────────────────────

// Introspect describes every table of a backend, by name or ID.
func (s *BackendService) Introspect(ctx context.Context, backend string) (*dbclient.SchemaInfo, error) {
	info, err := s.pool.Introspect(ctx, backend)
	if err != nil {
		return nil, fmt.Errorf("introspect %s: %w", backend, err)
	}
	return info, nil
}

// Preview reads up to limit rows of a table.
func (s *BackendService) Preview(ctx context.Context, backend, table string, limit int) ([]domain.Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.QueryTable(ctx, domain.TableQuery{Backend: backend, Table: table, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("preview %s.%s: %w", backend, table, err)
	}
	return rows, nil
}

// Close tears down all open connectors.
func (s *BackendService) Close() error {
	return s.pool.Close()
}
