package syncproto

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait   = 10 * time.Second
	inboxSize   = 256
	maxFrameLen = 8 << 20
)

// ── Hub ────────────────────────────────────────────────────
// Server side of the websocket transport. Every connected peer receives
// every envelope sent through the hub; inbound frames from all peers are
// merged into Messages(). The upgrade is refused for origins outside the
// policy, and Pump checks the origin again per message.

// Peer is one websocket connection.
type Peer struct {
	id     string
	origin string
	conn   *websocket.Conn
	wmu    sync.Mutex
}

// ID returns the remote address the peer connected from.
func (p *Peer) ID() string { return p.id }

// Send writes one envelope to this peer only.
func (p *Peer) Send(_ context.Context, env Envelope) error {
	data, err := Encode(env)
	if err != nil {
		return err
	}
	return p.write(data)
}

func (p *Peer) write(data []byte) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write to %s: %w", p.id, err)
	}
	return nil
}

// Hub is an http.Handler and a broadcast Channel.
type Hub struct {
	policy   *OriginPolicy
	upgrader websocket.Upgrader
	inbox    chan Message

	mu        sync.Mutex
	peers     map[*Peer]struct{}
	onConnect []func(*Peer)
	closed    bool
}

// NewHub creates a hub that accepts connections from policy's origins.
func NewHub(policy *OriginPolicy) *Hub {
	h := &Hub{
		policy: policy,
		inbox:  make(chan Message, inboxSize),
		peers:  make(map[*Peer]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return policy.Allow(r.Header.Get("Origin"))
		},
	}
	return h
}

// OnConnect registers a callback run for each new peer before its frames are
// read, e.g. to send the initial UPDATE_ELEMENTS.
func (h *Hub) OnConnect(fn func(*Peer)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onConnect = append(h.onConnect, fn)
}

// Peers returns the number of connected peers.
func (h *Hub) Peers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("syncproto: upgrade from %q refused: %v", r.Header.Get("Origin"), err)
		return
	}
	conn.SetReadLimit(maxFrameLen)
	p := &Peer{id: r.RemoteAddr, origin: r.Header.Get("Origin"), conn: conn}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.peers[p] = struct{}{}
	hooks := append([]func(*Peer){}, h.onConnect...)
	h.mu.Unlock()
	log.Printf("syncproto: peer %s connected (%s)", p.id, p.origin)

	for _, fn := range hooks {
		fn(p)
	}
	h.readLoop(p)
}

func (h *Hub) readLoop(p *Peer) {
	defer func() {
		h.mu.Lock()
		delete(h.peers, p)
		h.mu.Unlock()
		_ = p.conn.Close()
		log.Printf("syncproto: peer %s disconnected", p.id)
	}()
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case h.inbox <- Message{Origin: p.origin, Data: data}:
		default:
			log.Printf("syncproto: hub inbox full, dropped frame from %s", p.id)
		}
	}
}

// Send broadcasts env to every peer. Write failures drop that peer.
func (h *Hub) Send(_ context.Context, env Envelope) error {
	data, err := Encode(env)
	if err != nil {
		return err
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	peers := make([]*Peer, 0, len(h.peers))
	for p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		if err := p.write(data); err != nil {
			log.Printf("syncproto: %v", err)
			_ = p.conn.Close()
		}
	}
	return nil
}

func (h *Hub) Messages() <-chan Message { return h.inbox }

// Close disconnects every peer. Messages() is not closed while read loops
// may still be draining; callers stop pumping through their context.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	peers := h.peers
	h.peers = make(map[*Peer]struct{})
	h.mu.Unlock()
	for p := range peers {
		_ = p.conn.Close()
	}
	return nil
}

// ── Client ─────────────────────────────────────────────────

// Conn is the client side of the websocket transport.
type Conn struct {
	peer   *Peer
	origin string // origin of the server, stamped on inbound messages
	in     chan Message
	once   sync.Once
}

// Dial connects to a hub at rawURL (ws:// or wss://), presenting origin.
func Dial(ctx context.Context, rawURL, origin string) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}
	ws.SetReadLimit(maxFrameLen)

	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	c := &Conn{
		peer:   &Peer{id: rawURL, origin: origin, conn: ws},
		origin: scheme + "://" + u.Host,
		in:     make(chan Message, inboxSize),
	}
	go c.readLoop()
	return c, nil
}

func (c *Conn) readLoop() {
	defer close(c.in)
	for {
		_, data, err := c.peer.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case c.in <- Message{Origin: c.origin, Data: data}:
		default:
			log.Printf("syncproto: client inbox full, dropped frame")
		}
	}
}

// Origin returns the server origin stamped on inbound messages.
func (c *Conn) Origin() string { return c.origin }

func (c *Conn) Send(ctx context.Context, env Envelope) error {
	return c.peer.Send(ctx, env)
}

func (c *Conn) Messages() <-chan Message { return c.in }

func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		p := c.peer
		p.wmu.Lock()
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		p.wmu.Unlock()
		err = p.conn.Close()
	})
	return err
}
