package dbclient_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"appbuilder/internal/dbclient"
	"appbuilder/internal/domain"
	"appbuilder/internal/secret"
)

type memBackends struct {
	list []domain.ManagedBackend
}

func (m *memBackends) CreateBackend(b *domain.ManagedBackend) error {
	m.list = append(m.list, *b)
	return nil
}

func (m *memBackends) GetBackend(id string) (*domain.ManagedBackend, error) {
	for i := range m.list {
		if m.list[i].ID == id {
			return &m.list[i], nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memBackends) GetBackendByName(name string) (*domain.ManagedBackend, error) {
	for i := range m.list {
		if m.list[i].Name == name {
			return &m.list[i], nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memBackends) ListBackends() ([]domain.ManagedBackend, error) { return m.list, nil }

func (m *memBackends) DeleteBackend(id string) error { return nil }

func seedSQLite(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	stmts := []string{
		`CREATE TABLE products (sku TEXT PRIMARY KEY, title TEXT, price REAL, stock INTEGER)`,
		`INSERT INTO products VALUES ('KB-01','Keyboard',49,120),('MS-02','Mouse',19,300),('MN-03','Monitor',229,35)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("seed %q: %v", s, err)
		}
	}
	return path
}

func newPool(t *testing.T) *dbclient.Pool {
	t.Helper()
	store := &memBackends{}
	_ = store.CreateBackend(&domain.ManagedBackend{ID: "b1", Name: "shop", Driver: domain.DriverSQLite, Host: seedSQLite(t)})
	p := dbclient.NewPool(store, secret.NewMemoryStore())
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPool_QueryTablePushesDownProjectionOrderLimit(t *testing.T) {
	p := newPool(t)
	rows, err := p.QueryTable(context.Background(), domain.TableQuery{
		Backend: "shop",
		Table:   "products",
		Columns: []string{"title", "price"},
		OrderBy: []domain.OrderBy{{Column: "price", Ascending: false}},
		Limit:   2,
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []domain.Record{
		{"title": "Monitor", "price": 229.0},
		{"title": "Keyboard", "price": 49.0},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch:\n%s", diff)
	}
}

func TestPool_DefaultBackendAndColumns(t *testing.T) {
	p := newPool(t)
	cols, err := p.TableColumns(context.Background(), "", "products")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"sku", "title", "price", "stock"}, cols); diff != "" {
		t.Errorf("columns mismatch:\n%s", diff)
	}

	schema, err := p.Introspect(context.Background(), "b1")
	if err != nil {
		t.Fatal(err)
	}
	if len(schema.Tables) != 1 || schema.Tables[0].Name != "products" {
		t.Errorf("unexpected schema: %+v", schema)
	}
}

func TestPool_IdentifiersAreQuoted(t *testing.T) {
	p := newPool(t)
	_, err := p.QueryTable(context.Background(), domain.TableQuery{
		Table: "products; DROP TABLE products",
	})
	if err == nil {
		t.Fatal("expected an error for a non-existent quoted table")
	}
	rows, err := p.QueryTable(context.Background(), domain.TableQuery{Table: "products"})
	if err != nil {
		t.Fatalf("products table should survive: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("expected 3 rows, got %d", len(rows))
	}
}

func TestPool_UnknownBackend(t *testing.T) {
	p := newPool(t)
	if _, err := p.QueryTable(context.Background(), domain.TableQuery{Backend: "nope", Table: "x"}); err == nil {
		t.Error("expected unknown backend error")
	}
}

type countingConn struct {
	dbclient.Connector
	closed bool
}

func (c *countingConn) Columns(context.Context, string) ([]dbclient.ColumnInfo, error) {
	return []dbclient.ColumnInfo{{Name: "a", Type: "text"}}, nil
}

func (c *countingConn) Close() error { c.closed = true; return nil }

func TestPool_CachesConnectorsAndReadsSecrets(t *testing.T) {
	store := &memBackends{}
	_ = store.CreateBackend(&domain.ManagedBackend{ID: "pg", Name: "pg", Driver: domain.DriverPostgres})
	secrets := secret.NewMemoryStore()
	_ = secrets.Set("pg", []byte("s3cret"))

	opened := 0
	var gotPassword string
	conn := &countingConn{}
	p := dbclient.NewPool(store, secrets).WithOpener(func(b *domain.ManagedBackend, pw string) (dbclient.Connector, error) {
		opened++
		gotPassword = pw
		return conn, nil
	})

	for i := 0; i < 3; i++ {
		cols, err := p.TableColumns(context.Background(), "pg", "t")
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{"a"}, cols); diff != "" {
			t.Errorf("columns mismatch:\n%s", diff)
		}
	}
	if opened != 1 {
		t.Errorf("expected a single open, got %d", opened)
	}
	if gotPassword != "s3cret" {
		t.Errorf("password = %q", gotPassword)
	}
	p.Evict("pg")
	if !conn.closed {
		t.Error("evict should close the connector")
	}
}
