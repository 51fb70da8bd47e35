package domain

import "time"

// BackendDriver is the engine behind a managed-table backend.
type BackendDriver string

const (
	DriverSQLite   BackendDriver = "sqlite"
	DriverPostgres BackendDriver = "postgres"
	DriverMySQL    BackendDriver = "mysql"
	DriverMongoDB  BackendDriver = "mongodb"
)

// ManagedBackend holds the metadata for reaching a managed-table backend.
// The password lives in the SecretStore under the backend ID.
type ManagedBackend struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Driver    BackendDriver `json:"driver"`
	Host      string        `json:"host"`     // hostname, URI, or file path (sqlite)
	Port      int           `json:"port"`     // 0 for sqlite
	Database  string        `json:"database"` // db name or empty for sqlite
	Username  string        `json:"username"`
	SSLMode   string        `json:"sslMode"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// ManagedBackendStore manages CRUD for backend records.
type ManagedBackendStore interface {
	CreateBackend(b *ManagedBackend) error
	GetBackend(id string) (*ManagedBackend, error)
	GetBackendByName(name string) (*ManagedBackend, error)
	ListBackends() ([]ManagedBackend, error)
	DeleteBackend(id string) error
}

// TableQuery is a managed-table read. Projection, ordering and the limit are
// executed by the backend, not by the caller.
type TableQuery struct {
	Backend string    `json:"backend"`
	Table   string    `json:"table"`
	Columns []string  `json:"columns,omitempty"`
	OrderBy []OrderBy `json:"orderBy,omitempty"`
	Limit   int       `json:"limit,omitempty"`
}
