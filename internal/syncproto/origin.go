package syncproto

import (
	"errors"
	"fmt"
	"strings"
)

// ErrOriginDenied marks a message from an origin outside the policy.
var ErrOriginDenied = errors.New("origin not allowed")

// Message is one raw delivery with the sender's origin.
type Message struct {
	Origin string
	Data   []byte
}

// OriginPolicy is an allowlist of sender origins. "*" allows any origin.
type OriginPolicy struct {
	any     bool
	allowed map[string]bool
}

// NewOriginPolicy creates a policy. Origins are compared without a trailing
// slash and case-insensitively.
func NewOriginPolicy(origins ...string) *OriginPolicy {
	p := &OriginPolicy{allowed: make(map[string]bool, len(origins))}
	for _, o := range origins {
		o = normalizeOrigin(o)
		if o == "*" {
			p.any = true
			continue
		}
		if o != "" {
			p.allowed[o] = true
		}
	}
	return p
}

// Allow reports whether origin may deliver envelopes.
func (p *OriginPolicy) Allow(origin string) bool {
	if p == nil {
		return false
	}
	if p.any {
		return true
	}
	return p.allowed[normalizeOrigin(origin)]
}

// Open decodes msg after checking its origin. Disallowed messages are never
// decoded.
func (p *OriginPolicy) Open(msg Message) (Envelope, error) {
	if !p.Allow(msg.Origin) {
		return nil, fmt.Errorf("%w: %q", ErrOriginDenied, msg.Origin)
	}
	return Decode(msg.Data)
}

func normalizeOrigin(o string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
}
