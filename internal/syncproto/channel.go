package syncproto

import (
	"context"
	"errors"
	"log"
	"sync"
)

// ErrClosed is returned by Send on a closed channel.
var ErrClosed = errors.New("channel closed")

// Channel is an at-most-once, possibly reordering message channel.
type Channel interface {
	// Send encodes env and delivers it to the peer(s).
	Send(ctx context.Context, env Envelope) error
	// Messages yields raw deliveries; it is closed when the channel closes.
	Messages() <-chan Message
	Close() error
}

// Pump reads ch until it closes or ctx ends. Each message is checked against
// policy and decoded; rejected or unknown envelopes are logged and skipped.
func Pump(ctx context.Context, ch Channel, policy *OriginPolicy, apply func(Envelope)) {
	msgs := ch.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			env, err := policy.Open(msg)
			if err != nil {
				log.Printf("syncproto: ignored message: %v", err)
				continue
			}
			apply(env)
		}
	}
}

// ── Pipe ───────────────────────────────────────────────────
// An in-process channel pair. Each end stamps its own origin on what it
// sends. A full buffer drops the message.

// PipeEnd is one side of a Pipe.
type PipeEnd struct {
	origin string
	in     chan Message
	peer   *PipeEnd

	mu     sync.Mutex
	closed bool
}

// NewPipe connects two ends with the given origins and buffer size.
func NewPipe(originA, originB string, buffer int) (*PipeEnd, *PipeEnd) {
	a := &PipeEnd{origin: originA, in: make(chan Message, buffer)}
	b := &PipeEnd{origin: originB, in: make(chan Message, buffer)}
	a.peer, b.peer = b, a
	return a, b
}

func (p *PipeEnd) Send(ctx context.Context, env Envelope) error {
	data, err := Encode(env)
	if err != nil {
		return err
	}
	return p.SendRaw(ctx, data)
}

// SendRaw delivers already-encoded bytes.
func (p *PipeEnd) SendRaw(ctx context.Context, data []byte) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return p.peer.deliver(ctx, Message{Origin: p.origin, Data: data})
}

func (p *PipeEnd) deliver(ctx context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.in <- msg:
	case <-ctx.Done():
		return ctx.Err()
	default:
		log.Printf("syncproto: pipe %s full, dropped message", p.origin)
	}
	return nil
}

func (p *PipeEnd) Messages() <-chan Message { return p.in }

func (p *PipeEnd) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.in)
	}
	return nil
}
