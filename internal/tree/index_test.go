package tree_test

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"appbuilder/internal/domain"
	"appbuilder/internal/tree"
)

func el(id, parent string, order float64) domain.Element {
	e := domain.Element{ID: id, Tag: "Panel", OrderNum: order, Props: map[string]any{}}
	if parent != "" {
		e.ParentID = domain.StringPtr(parent)
	}
	return e
}

func ids(els []domain.Element) []string {
	out := make([]string, len(els))
	for i, e := range els {
		out[i] = e.ID
	}
	return out
}

// filterChildren is the naive definition the index must agree with.
func filterChildren(all []domain.Element, parent string) []string {
	var kids []domain.Element
	for _, e := range all {
		if e.Parent() == parent && !e.Deleted {
			kids = append(kids, e)
		}
	}
	sort.SliceStable(kids, func(i, j int) bool { return kids[i].OrderNum < kids[j].OrderNum })
	return ids(kids)
}

func TestChildren_OrderAndStableTies(t *testing.T) {
	all := []domain.Element{
		el("root", "", 0),
		el("c", "root", 2),
		el("a", "root", 1),
		el("b1", "root", 1),
		el("b2", "root", 1),
		el("other", "", 1),
	}
	ix := tree.New(all)

	got := ids(ix.Children("root"))
	want := []string{"a", "b1", "b2", "c"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("children mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(filterChildren(all, "root"), got); diff != "" {
		t.Errorf("index disagrees with filter+stable sort:\n%s", diff)
	}
	if diff := cmp.Diff([]string{"root", "other"}, ids(ix.Roots())); diff != "" {
		t.Errorf("roots mismatch:\n%s", diff)
	}
}

func TestChildren_IdempotentAcrossCalls(t *testing.T) {
	ix := tree.New([]domain.Element{el("p", "", 0), el("x", "p", 1), el("y", "p", 1), el("z", "p", 0)})
	first := ids(ix.Children("p"))
	for i := 0; i < 5; i++ {
		if diff := cmp.Diff(first, ids(ix.Children("p"))); diff != "" {
			t.Fatalf("call %d differs:\n%s", i, diff)
		}
	}
}

func TestUpsert_ReorderKeepsCollectionTieBreak(t *testing.T) {
	ix := tree.New([]domain.Element{el("p", "", 0), el("a", "p", 0), el("b", "p", 1)})

	moved := el("a", "p", 1)
	ix.Upsert(moved)

	// a keeps its original collection position, so it still sorts before b on a tie.
	if diff := cmp.Diff([]string{"a", "b"}, ids(ix.Children("p"))); diff != "" {
		t.Errorf("unexpected order:\n%s", diff)
	}

	ix.Upsert(el("a", "p", 5))
	if diff := cmp.Diff([]string{"b", "a"}, ids(ix.Children("p"))); diff != "" {
		t.Errorf("unexpected order after move:\n%s", diff)
	}
}

func TestUpsert_Reparent(t *testing.T) {
	ix := tree.New([]domain.Element{el("p", "", 0), el("q", "", 1), el("a", "p", 0)})
	ix.Upsert(el("a", "q", 0))
	if got := len(ix.Children("p")); got != 0 {
		t.Errorf("expected p to have no children, got %d", got)
	}
	if diff := cmp.Diff([]string{"a"}, ids(ix.Children("q"))); diff != "" {
		t.Errorf("unexpected children of q:\n%s", diff)
	}
}

func TestDelete_DoesNotCascade(t *testing.T) {
	ix := tree.New([]domain.Element{el("p", "", 0), el("a", "p", 0), el("a1", "a", 0)})
	if n := ix.Delete("a", "missing"); n != 1 {
		t.Fatalf("expected 1 deletion, got %d", n)
	}
	if _, ok := ix.Get("a1"); !ok {
		t.Error("grandchild should survive a non-cascading delete")
	}
	if len(ix.Children("p")) != 0 {
		t.Error("deleted child still listed")
	}
}

func TestSoftDeletedHiddenFromQueries(t *testing.T) {
	gone := el("b", "p", 1)
	gone.Deleted = true
	ix := tree.New([]domain.Element{el("p", "", 0), el("a", "p", 0), gone})
	if diff := cmp.Diff([]string{"a"}, ids(ix.Children("p"))); diff != "" {
		t.Errorf("soft-deleted element listed:\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "b"}, ix.DescendantIDs("p")); diff != "" {
		t.Errorf("DescendantIDs should include soft-deleted ids:\n%s", diff)
	}
}

func TestPatchProps_MergeDoesNotAliasPrevious(t *testing.T) {
	orig := el("a", "", 0)
	orig.Props = map[string]any{"x": 1.0, "y": 2.0}
	ix := tree.New([]domain.Element{orig})

	ix.PatchProps("a", map[string]any{"y": 3.0, "z": 4.0}, true)
	got, _ := ix.Get("a")
	want := map[string]any{"x": 1.0, "y": 3.0, "z": 4.0}
	if diff := cmp.Diff(want, got.Props); diff != "" {
		t.Errorf("merge mismatch:\n%s", diff)
	}
	if orig.Props["y"] != 2.0 {
		t.Error("original props map was mutated")
	}

	ix.PatchProps("a", map[string]any{"only": true}, false)
	got, _ = ix.Get("a")
	if diff := cmp.Diff(map[string]any{"only": true}, got.Props); diff != "" {
		t.Errorf("replace mismatch:\n%s", diff)
	}
	if ix.PatchProps("missing", nil, true) {
		t.Error("patching a missing element should report false")
	}
}

func TestDescendantsAndAncestors(t *testing.T) {
	ix := tree.New([]domain.Element{
		el("r", "", 0), el("a", "r", 0), el("b", "r", 1), el("a1", "a", 0), el("a2", "a", 1),
	})
	if diff := cmp.Diff([]string{"a", "a1", "a2", "b"}, ix.DescendantIDs("r")); diff != "" {
		t.Errorf("descendants mismatch:\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "r"}, ids(ix.Ancestors("a2"))); diff != "" {
		t.Errorf("ancestors mismatch:\n%s", diff)
	}
}

func TestParentLoopsAreWalkedOnce(t *testing.T) {
	ix := tree.New([]domain.Element{
		el("self", "self", 0),
		el("a", "b", 0), el("b", "a", 0), el("c", "b", 1),
	})

	if got := ix.DescendantIDs("self"); len(got) != 0 {
		t.Errorf("self-parent descendants = %v, want none", got)
	}
	if diff := cmp.Diff([]string{"b", "c"}, ix.DescendantIDs("a")); diff != "" {
		t.Errorf("2-cycle descendants mismatch:\n%s", diff)
	}
	if diff := cmp.Diff([]string{"b"}, ids(ix.Ancestors("a"))); diff != "" {
		t.Errorf("2-cycle ancestors mismatch:\n%s", diff)
	}
	if got := ix.Roots(); len(got) != 0 {
		t.Errorf("looped elements are not roots, got %v", ids(got))
	}
}

func TestElementsKeepsCollectionOrder(t *testing.T) {
	all := []domain.Element{el("z", "", 3), el("y", "", 2), el("x", "", 1)}
	ix := tree.New(all)
	ix.Upsert(el("y", "", 9))
	if diff := cmp.Diff([]string{"z", "y", "x"}, ids(ix.Elements())); diff != "" {
		t.Errorf("Elements order mismatch:\n%s", diff)
	}
	if got := ix.NextOrder(""); got != 10 {
		t.Errorf("expected next order 10, got %v", got)
	}
}
