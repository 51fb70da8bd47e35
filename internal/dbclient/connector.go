package dbclient

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"appbuilder/internal/domain"
)

// SchemaInfo describes the tables of a managed backend.
type SchemaInfo struct {
	Tables []TableInfo `json:"tables"`
}

// TableInfo describes a table/collection.
type TableInfo struct {
	Name    string       `json:"name"`
	Columns []ColumnInfo `json:"columns"`
}

// ColumnInfo describes a column/field.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Connector abstracts read access to one managed backend.
type Connector interface {
	// TestConnection verifies connectivity.
	TestConnection(ctx context.Context) error

	// QueryTable reads rows with projection, ordering and limit pushed down
	// to the backend.
	QueryTable(ctx context.Context, q domain.TableQuery) ([]domain.Record, error)

	// Columns describes one table.
	Columns(ctx context.Context, table string) ([]ColumnInfo, error)

	// Introspect returns every table with its columns.
	Introspect(ctx context.Context) (*SchemaInfo, error)

	// Close releases the underlying connection pool.
	Close() error
}

// NewConnector opens a read connector for b. The password comes from the
// secret store, never from the backend record.
func NewConnector(b *domain.ManagedBackend, password string) (Connector, error) {
	switch b.Driver {
	case domain.DriverSQLite:
		return newSQLConnector("sqlite", sqliteDSN(b))
	case domain.DriverMySQL:
		return newSQLConnector("mysql", mysqlDSN(b, password))
	case domain.DriverPostgres:
		return newSQLConnector("postgres", postgresDSN(b, password))
	case domain.DriverMongoDB:
		return newMongoConnector(b, password)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", b.Driver)
	}
}

// ── DSNs ───────────────────────────────────────────────────

var defaultPorts = map[domain.BackendDriver]int{
	domain.DriverMySQL:    3306,
	domain.DriverPostgres: 5432,
	domain.DriverMongoDB:  27017,
}

func hostPort(b *domain.ManagedBackend) string {
	port := b.Port
	if port == 0 {
		port = defaultPorts[b.Driver]
	}
	return net.JoinHostPort(b.Host, strconv.Itoa(port))
}

// sqliteDSN opens the file read-only; Host holds its path.
func sqliteDSN(b *domain.ManagedBackend) string {
	return "file:" + b.Host + "?mode=ro&_pragma=busy_timeout(5000)"
}

func mysqlDSN(b *domain.ManagedBackend, password string) string {
	cfg := mysql.NewConfig()
	cfg.User = b.Username
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = hostPort(b)
	cfg.DBName = b.Database
	cfg.ParseTime = true
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	if b.SSLMode == "require" {
		cfg.TLSConfig = "true"
	}
	return cfg.FormatDSN()
}

func postgresDSN(b *domain.ManagedBackend, password string) string {
	mode := b.SSLMode
	if mode == "" {
		mode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(b.Username, password),
		Host:     hostPort(b),
		Path:     "/" + b.Database,
		RawQuery: url.Values{"sslmode": {mode}}.Encode(),
	}
	return u.String()
}
