package binding_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"appbuilder/internal/binding"
	"appbuilder/internal/domain"
)

// gatedSource is an api stand-in whose answers are released by the test.
// It ignores cancellation so discarding must happen on arrival.
type gatedSource struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
	calls atomic.Int32
}

func newGatedSource() *gatedSource {
	return &gatedSource{gates: make(map[string]chan struct{})}
}

func (s *gatedSource) gate(name string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gates[name]
	if !ok {
		g = make(chan struct{})
		s.gates[name] = g
	}
	return g
}

func (s *gatedSource) Kind() domain.BindingSource { return domain.SourceAPI }

func (s *gatedSource) Fetch(_ context.Context, desc domain.BindingDescriptor) (any, error) {
	s.calls.Add(1)
	name, _ := desc.Config["name"].(string)
	<-s.gate(name)
	return []any{map[string]any{"from": name}}, nil
}

func gatedDesc(name string) *domain.BindingDescriptor {
	return &domain.BindingDescriptor{
		Type:   domain.BindingCollection,
		Source: domain.SourceAPI,
		Config: map[string]any{"name": name},
	}
}

func TestTracker_StaleResolutionDoesNotOverwriteNewer(t *testing.T) {
	src := newGatedSource()
	tr := binding.NewTracker(binding.NewResolver(binding.NewRegistry(src)))
	defer tr.Close()

	committed := make(chan string, 4)
	tr.OnChange(func(id string, res binding.Result) {
		committed <- res.Data[0]["from"].(string)
	})

	if res := tr.Bind("el", gatedDesc("X")); !res.Loading {
		t.Fatalf("expected loading result, got %+v", res)
	}
	tr.Bind("el", gatedDesc("Y"))

	close(src.gate("Y"))
	select {
	case got := <-committed:
		if got != "Y" {
			t.Fatalf("first commit = %s, want Y", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Y")
	}

	// X completes after Y and must be dropped.
	close(src.gate("X"))
	tr.Wait()

	res, ok := tr.Result("el")
	if !ok {
		t.Fatal("slot missing")
	}
	if diff := cmp.Diff([]domain.Record{{"from": "Y"}}, res.Data); diff != "" {
		t.Errorf("final state should match the last dispatched descriptor:\n%s", diff)
	}
	if len(committed) != 0 {
		t.Errorf("stale result was delivered: %s", <-committed)
	}
}

func TestTracker_StructurallyEqualDescriptorDoesNotRefetch(t *testing.T) {
	src := newGatedSource()
	close(src.gate("A"))
	tr := binding.NewTracker(binding.NewResolver(binding.NewRegistry(src)))
	defer tr.Close()

	tr.Bind("el", gatedDesc("A"))
	tr.Wait()
	res := tr.Bind("el", gatedDesc("A"))
	if res.Loading {
		t.Error("equal descriptor should return the committed result")
	}
	if n := src.calls.Load(); n != 1 {
		t.Errorf("expected 1 fetch, got %d", n)
	}

	if !tr.Refresh("el") {
		t.Fatal("refresh of a bound element should dispatch")
	}
	tr.Wait()
	if n := src.calls.Load(); n != 2 {
		t.Errorf("expected 2 fetches after refresh, got %d", n)
	}
}

func TestTracker_StaticResolvesInline(t *testing.T) {
	tr := binding.NewTracker(binding.NewDefaultResolver(nil, nil, nil))
	defer tr.Close()

	res := tr.Bind("el", &domain.BindingDescriptor{
		Type:   domain.BindingCollection,
		Source: domain.SourceStatic,
		Config: map[string]any{"data": []any{map[string]any{"a": 1.0}}},
	})
	if res.Loading || res.Error != "" {
		t.Fatalf("static binding should resolve synchronously: %+v", res)
	}
	if diff := cmp.Diff([]domain.Record{{"a": 1.0}}, res.Data); diff != "" {
		t.Errorf("data mismatch:\n%s", diff)
	}
}

func TestTracker_ForgetDiscardsInFlight(t *testing.T) {
	src := newGatedSource()
	tr := binding.NewTracker(binding.NewResolver(binding.NewRegistry(src)))
	defer tr.Close()

	var changes atomic.Int32
	tr.OnChange(func(string, binding.Result) { changes.Add(1) })

	tr.Bind("el", gatedDesc("late"))
	tr.Forget("el")
	close(src.gate("late"))
	tr.Wait()

	if _, ok := tr.Result("el"); ok {
		t.Error("forgotten slot came back")
	}
	if changes.Load() != 0 {
		t.Error("result for a forgotten element was delivered")
	}
}
