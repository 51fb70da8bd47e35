package service

import (
	"context"
	"fmt"
	"log"
	"maps"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"

	"appbuilder/internal/domain"
)

// RefreshFunc re-resolves the binding of one element in every rendering
// context that holds it. It may block until the resolution settles.
type RefreshFunc func(ctx context.Context, elementID string) error

// RefreshService re-resolves bindings on the cron schedule named by their
// descriptor's refresh expression. A refresh that is still running when its
// next tick fires is skipped.
type RefreshService struct {
	refresh RefreshFunc

	mu        sync.Mutex
	cronSched *cron.Cron
	wanted    map[string]string // element id → expression, as last synced
	scheduled map[string]string // the valid subset of wanted
	running   runningGuard
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewRefreshService(refresh RefreshFunc) *RefreshService {
	ctx, cancel := context.WithCancel(context.Background())
	return &RefreshService{refresh: refresh, wanted: map[string]string{}, scheduled: map[string]string{}, ctx: ctx, cancel: cancel}
}

// Sync brings the schedule in line with elements. Elements without a
// binding refresh expression are not scheduled; invalid expressions are
// logged and skipped. The running schedule is kept when the expressions did
// not change, so frequent edits never postpone a tick.
func (s *RefreshService) Sync(elements []domain.Element) {
	want := map[string]string{}
	for _, el := range elements {
		if el.Deleted || el.DataBinding == nil || el.DataBinding.Refresh == "" {
			continue
		}
		want[el.ID] = el.DataBinding.Refresh
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if maps.Equal(want, s.wanted) {
		return
	}
	s.wanted = want
	s.stopLocked()

	c := cron.New()
	scheduled := map[string]string{}
	for id, expr := range want {
		sched, err := cron.ParseStandard(expr)
		if err != nil {
			log.Printf("refresh cron: invalid expression %q for element %s: %v", expr, id, err)
			continue
		}
		c.Schedule(sched, cron.FuncJob(func() {
			if err := s.RunNow(s.ctx, id); err != nil {
				log.Printf("refresh cron: %s: %v", id, err)
			}
		}))
		scheduled[id] = expr
	}
	s.scheduled = scheduled
	if len(scheduled) == 0 {
		return
	}
	c.Start()
	s.cronSched = c
	log.Printf("refresh cron: scheduled %d binding(s)", len(scheduled))
}

// Scheduled returns the ids of scheduled elements, sorted.
func (s *RefreshService) Scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.scheduled))
	for id := range s.scheduled {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ErrRefreshRunning is returned by RunNow while the same element is being
// refreshed.
var ErrRefreshRunning = fmt.Errorf("refresh already running")

// RunNow refreshes elementID immediately.
func (s *RefreshService) RunNow(ctx context.Context, elementID string) error {
	if !s.running.TryLock(elementID) {
		return ErrRefreshRunning
	}
	defer s.running.Unlock(elementID)
	if s.refresh == nil {
		return nil
	}
	return s.refresh(ctx, elementID)
}

// WaitRunning blocks until in-flight refreshes finish or ctx is cancelled.
func (s *RefreshService) WaitRunning(ctx context.Context) {
	s.running.WaitAll(ctx)
}

// Stop halts the schedule and cancels running refreshes.
func (s *RefreshService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.cancel()
}

func (s *RefreshService) stopLocked() {
	if s.cronSched != nil {
		s.cronSched.Stop()
		s.cronSched = nil
	}
}
