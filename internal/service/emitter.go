package service

import (
	"context"
	"sync"

	"appbuilder/internal/syncproto"
)

// ─────────────────────────────────────────────────────────────
// Broadcaster — decouples services from the transport
// ─────────────────────────────────────────────────────────────

// Broadcaster delivers protocol envelopes to every rendering context.
// syncproto.Hub and syncproto.PipeEnd implement it.
type Broadcaster interface {
	Send(ctx context.Context, env syncproto.Envelope) error
}

// PageSender is implemented by broadcasters that can address only the
// contexts rendering one page. Element envelopes go through SendPage when
// the broadcaster offers it.
type PageSender interface {
	SendPage(ctx context.Context, pageID string, env syncproto.Envelope) error
}

// MockBroadcaster is a test-friendly Broadcaster that records all envelopes.
type MockBroadcaster struct {
	mu        sync.Mutex
	Envelopes []syncproto.Envelope
}

func (m *MockBroadcaster) Send(_ context.Context, env syncproto.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Envelopes = append(m.Envelopes, env)
	return nil
}

// Types returns the recorded envelope types in order.
func (m *MockBroadcaster) Types() []syncproto.Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]syncproto.Type, len(m.Envelopes))
	for i, e := range m.Envelopes {
		out[i] = e.Type()
	}
	return out
}

// Last returns the most recent envelope, or nil.
func (m *MockBroadcaster) Last() syncproto.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Envelopes) == 0 {
		return nil
	}
	return m.Envelopes[len(m.Envelopes)-1]
}

// Fanout sends to several broadcasters; the first error is returned after
// every target was tried.
type Fanout []Broadcaster

func (f Fanout) Send(ctx context.Context, env syncproto.Envelope) error {
	var first error
	for _, b := range f {
		if b == nil {
			continue
		}
		if err := b.Send(ctx, env); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// SendPage routes to targets that address pages and broadcasts to the rest.
func (f Fanout) SendPage(ctx context.Context, pageID string, env syncproto.Envelope) error {
	var first error
	for _, b := range f {
		var err error
		switch t := b.(type) {
		case nil:
			continue
		case PageSender:
			err = t.SendPage(ctx, pageID, env)
		default:
			err = t.Send(ctx, env)
		}
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}
