package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"appbuilder/internal/domain"
)

// BackendStore manages managed-backend records in SQLite.
type BackendStore struct {
	db *DB
}

// NewBackendStore creates a new BackendStore.
func NewBackendStore(db *DB) *BackendStore {
	return &BackendStore{db: db}
}

const backendColumns = `id, name, driver, host, port, database_name, username, ssl_mode, created_at, updated_at`

func scanBackend(r rowScanner) (*domain.ManagedBackend, error) {
	b := &domain.ManagedBackend{}
	err := r.Scan(&b.ID, &b.Name, &b.Driver, &b.Host, &b.Port, &b.Database, &b.Username, &b.SSLMode, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func (s *BackendStore) CreateBackend(b *domain.ManagedBackend) error {
	now := time.Now()
	b.CreatedAt = now
	b.UpdatedAt = now

	_, err := s.db.Conn().Exec(
		`INSERT INTO managed_backends (`+backendColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Name, b.Driver, b.Host, b.Port, b.Database, b.Username, b.SSLMode, b.CreatedAt, b.UpdatedAt,
	)
	return err
}

func (s *BackendStore) GetBackend(id string) (*domain.ManagedBackend, error) {
	b, err := scanBackend(s.db.Conn().QueryRow(
		`SELECT `+backendColumns+` FROM managed_backends WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("managed backend %s: %w", id, ErrNotFound)
	}
	return b, err
}

func (s *BackendStore) GetBackendByName(name string) (*domain.ManagedBackend, error) {
	b, err := scanBackend(s.db.Conn().QueryRow(
		`SELECT `+backendColumns+` FROM managed_backends WHERE name = ?`, name,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("managed backend %q: %w", name, ErrNotFound)
	}
	return b, err
}

func (s *BackendStore) ListBackends() ([]domain.ManagedBackend, error) {
	rows, err := s.db.Conn().Query(`SELECT ` + backendColumns + ` FROM managed_backends ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var backends []domain.ManagedBackend
	for rows.Next() {
		b, err := scanBackend(rows)
		if err != nil {
			return nil, err
		}
		backends = append(backends, *b)
	}
	return backends, rows.Err()
}

func (s *BackendStore) DeleteBackend(id string) error {
	_, err := s.db.Conn().Exec(`DELETE FROM managed_backends WHERE id = ?`, id)
	return err
}
