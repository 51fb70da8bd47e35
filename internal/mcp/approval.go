package mcpserver

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"appbuilder/internal/storage"
)

// ApprovalStore is the mailbox destructive calls are parked in.
type ApprovalStore interface {
	Create(a *storage.Approval) error
	Status(id string) (string, error)
	Delete(id string) error
}

// ApprovalQueue implements human-in-the-loop approval for destructive MCP
// tool calls. The standalone MCP process writes a pending row and polls it;
// the serve process lists pending rows and resolves them over HTTP.
// A queue without a store approves everything.
type ApprovalQueue struct {
	store    ApprovalStore
	timeout  time.Duration
	interval time.Duration
}

func NewApprovalQueue(store ApprovalStore) *ApprovalQueue {
	return &ApprovalQueue{
		store:    store,
		timeout:  120 * time.Second,
		interval: 500 * time.Millisecond,
	}
}

// WithTimings overrides the approval timeout and poll interval.
func (q *ApprovalQueue) WithTimings(timeout, interval time.Duration) *ApprovalQueue {
	q.timeout = timeout
	q.interval = interval
	return q
}

// Request parks an approval request and blocks until it is approved,
// rejected, timed out or ctx ends. metadata is optional JSON with extra
// context (e.g. element IDs).
func (q *ApprovalQueue) Request(ctx context.Context, tool, description string, metadata ...string) (bool, error) {
	if q == nil || q.store == nil {
		return true, nil
	}
	a := &storage.Approval{ID: uuid.NewString(), Tool: tool, Description: description}
	if len(metadata) > 0 {
		a.Metadata = metadata[0]
	}
	if err := q.store.Create(a); err != nil {
		return false, err
	}
	defer q.store.Delete(a.ID)

	deadline := time.NewTimer(q.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			status, err := q.store.Status(a.ID)
			if err != nil {
				continue
			}
			switch status {
			case storage.ApprovalApproved:
				return true, nil
			case storage.ApprovalRejected:
				return false, fmt.Errorf("action rejected by user: %s", tool)
			}
		case <-deadline.C:
			return false, fmt.Errorf("action timed out after %s: %s", q.timeout, tool)
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}
