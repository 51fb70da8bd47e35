package storage_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"appbuilder/internal/domain"
	"appbuilder/internal/storage"
)

func openDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedPage(t *testing.T, db *storage.DB) string {
	t.Helper()
	projects := storage.NewProjectStore(db)
	if err := projects.CreateProject(&domain.Project{ID: "p1", Name: "Demo"}); err != nil {
		t.Fatal(err)
	}
	if err := projects.CreatePage(&domain.Page{ID: "pg1", ProjectID: "p1", Name: "Home", Slug: "home"}); err != nil {
		t.Fatal(err)
	}
	return "pg1"
}

func TestElementStore_RoundTripKeepsCollectionOrder(t *testing.T) {
	db := openDB(t)
	pageID := seedPage(t, db)
	store := storage.NewElementStore(db)

	enabled := false
	elements := []domain.Element{
		{ID: "t1", Tag: "Panel", PageID: pageID, Props: map[string]any{}},
		{ID: "t3", Tag: "Text", PageID: pageID, ParentID: domain.StringPtr("t1"), OrderNum: 1,
			Props: map[string]any{"children": "second"}},
		{ID: "t2", Tag: "Table", PageID: pageID, ParentID: domain.StringPtr("t1"), OrderNum: 0,
			Props: map[string]any{"events": []any{map[string]any{"event_type": "onClick", "enabled": enabled}}},
			DataBinding: &domain.BindingDescriptor{
				Type: domain.BindingCollection, Source: domain.SourceStatic,
				Config: map[string]any{"data": []any{map[string]any{"a": 1.0}}},
			}},
	}
	for i := range elements {
		if err := store.CreateElement(&elements[i]); err != nil {
			t.Fatalf("create %s: %v", elements[i].ID, err)
		}
	}

	got, err := store.ListElements(pageID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(elements, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestElementStore_UpdateSoftDeleteAndReplace(t *testing.T) {
	db := openDB(t)
	pageID := seedPage(t, db)
	store := storage.NewElementStore(db)

	e := &domain.Element{ID: "a", Tag: "Button", PageID: pageID, Props: map[string]any{"label": "Go"}}
	if err := store.CreateElement(e); err != nil {
		t.Fatal(err)
	}
	e.Props["label"] = "Stop"
	if err := store.UpdateElement(e); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetElement("a")
	if err != nil {
		t.Fatal(err)
	}
	if got.StringProp("label") != "Stop" {
		t.Errorf("label = %q", got.StringProp("label"))
	}

	if err := store.SoftDeleteElement("a"); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetElement("a")
	if !got.Deleted {
		t.Error("expected soft-deleted flag")
	}

	replacement := []domain.Element{
		{ID: "x", Tag: "Text", Props: map[string]any{}},
		{ID: "y", Tag: "Text", Props: map[string]any{}},
	}
	if err := store.ReplacePageElements(pageID, replacement); err != nil {
		t.Fatal(err)
	}
	list, _ := store.ListElements(pageID)
	ids := make([]string, len(list))
	for i, el := range list {
		ids[i] = el.ID
	}
	if diff := cmp.Diff([]string{"x", "y"}, ids); diff != "" {
		t.Errorf("replace mismatch:\n%s", diff)
	}

	if _, err := store.GetElement("a"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.UpdateElement(&domain.Element{ID: "ghost", Tag: "Text"}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound on update, got %v", err)
	}
}

func TestElementStore_FingerprintChangesOnWrite(t *testing.T) {
	db := openDB(t)
	pageID := seedPage(t, db)
	store := storage.NewElementStore(db)

	before, err := store.Fingerprint(pageID)
	if err != nil {
		t.Fatal(err)
	}
	_ = store.CreateElement(&domain.Element{ID: "n", Tag: "Text", PageID: pageID})
	after, _ := store.Fingerprint(pageID)
	if before == after {
		t.Errorf("fingerprint unchanged after insert: %s", after)
	}
}

func TestProjectStore_DeleteCascades(t *testing.T) {
	db := openDB(t)
	pageID := seedPage(t, db)
	elements := storage.NewElementStore(db)
	_ = elements.CreateElement(&domain.Element{ID: "e", Tag: "Text", PageID: pageID})

	projects := storage.NewProjectStore(db)
	pages, err := projects.ListPages("p1")
	if err != nil || len(pages) != 1 || pages[0].Slug != "home" {
		t.Fatalf("unexpected pages %+v, %v", pages, err)
	}
	if err := projects.DeleteProject("p1"); err != nil {
		t.Fatal(err)
	}
	if _, err := projects.GetPage(pageID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("page should be gone, got %v", err)
	}
	if list, _ := elements.ListElements(pageID); len(list) != 0 {
		t.Errorf("elements should be gone, got %d", len(list))
	}
}

func TestBackendStore(t *testing.T) {
	db := openDB(t)
	store := storage.NewBackendStore(db)
	b := &domain.ManagedBackend{ID: "b1", Name: "shop", Driver: domain.DriverPostgres, Host: "db", Port: 5432}
	if err := store.CreateBackend(b); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetBackendByName("shop")
	if err != nil {
		t.Fatal(err)
	}
	opts := cmpopts.IgnoreFields(domain.ManagedBackend{}, "CreatedAt", "UpdatedAt")
	if diff := cmp.Diff(b, got, opts); diff != "" {
		t.Errorf("backend mismatch:\n%s", diff)
	}
	if _, err := store.GetBackend("missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSettingsStore_JSON(t *testing.T) {
	db := openDB(t)
	s := storage.NewSettingsStore(db)

	var vars map[string]string
	if ok, err := s.GetJSON("theme", &vars); ok || err != nil {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}
	if err := s.SetJSON("theme", map[string]string{"--primary": "#333"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetJSON("theme", map[string]string{"--primary": "#111"}); err != nil {
		t.Fatal(err)
	}
	if ok, err := s.GetJSON("theme", &vars); !ok || err != nil {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if vars["--primary"] != "#111" {
		t.Errorf("upsert did not overwrite: %v", vars)
	}
}

func TestApprovalStore_Lifecycle(t *testing.T) {
	db := openDB(t)
	s := storage.NewApprovalStore(db)

	a := &storage.Approval{ID: "a1", Tool: "delete_element", Description: "delete e1"}
	if err := s.Create(a); err != nil {
		t.Fatal(err)
	}
	pending, err := s.ListPending()
	if err != nil || len(pending) != 1 || pending[0].Metadata != "{}" {
		t.Fatalf("pending = %+v, %v", pending, err)
	}
	if err := s.Resolve("a1", true); err != nil {
		t.Fatal(err)
	}
	if st, _ := s.Status("a1"); st != storage.ApprovalApproved {
		t.Errorf("status = %q", st)
	}
	if err := s.Resolve("a1", false); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second resolve: %v", err)
	}
	_ = s.Delete("a1")
	if _, err := s.Status("a1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("status after delete: %v", err)
	}
}
