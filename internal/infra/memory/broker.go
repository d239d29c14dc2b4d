package memory

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"quiz-sync/internal/domain"
	"quiz-sync/internal/transport"
)

// Hub is an in-process topic broker. It backs the WebSocket relay and lets
// tests drop every connection at once to simulate a socket failure.
type Hub struct {
	mu    sync.Mutex
	conns map[*hubConn]struct{}
	down  bool
	buf   int
}

// NewHub creates a hub whose connections buffer up to 512 inbound messages.
func NewHub() *Hub {
	return &Hub{conns: make(map[*hubConn]struct{}), buf: 512}
}

// Dial opens a new connection, failing while the hub is marked down.
func (h *Hub) Dial(ctx context.Context) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.down {
		return nil, domain.ErrNotConnected
	}
	c := &hubConn{
		hub:  h,
		subs: make(map[string]struct{}),
		msgs: make(chan transport.Message, h.buf),
		done: make(chan struct{}),
	}
	h.conns[c] = struct{}{}
	return c, nil
}

// SetDown makes subsequent dials fail (true) or succeed (false).
func (h *Hub) SetDown(down bool) {
	h.mu.Lock()
	h.down = down
	h.mu.Unlock()
}

// DropAll severs every open connection.
func (h *Hub) DropAll() {
	h.mu.Lock()
	conns := make([]*hubConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// Connections returns the number of open connections.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Publish delivers payload to every matching subscription. Delivery happens
// under the hub lock, so messages on one topic keep their publish order.
func (h *Hub) Publish(topic string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		c.deliver(topic, payload)
	}
}

func (h *Hub) remove(c *hubConn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

type hubConn struct {
	hub *Hub

	mu   sync.Mutex
	subs map[string]struct{}

	msgs      chan transport.Message
	done      chan struct{}
	closeOnce sync.Once
}

func (c *hubConn) Subscribe(_ context.Context, topic string) error {
	if c.isClosed() {
		return domain.ErrNotConnected
	}
	c.mu.Lock()
	c.subs[topic] = struct{}{}
	c.mu.Unlock()
	return nil
}

func (c *hubConn) Unsubscribe(_ context.Context, topic string) error {
	if c.isClosed() {
		return domain.ErrNotConnected
	}
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()
	return nil
}

func (c *hubConn) Publish(_ context.Context, topic string, payload []byte) error {
	if c.isClosed() {
		return domain.ErrNotConnected
	}
	// Copy so later mutation by the publisher never leaks into deliveries.
	c.hub.Publish(topic, append([]byte(nil), payload...))
	return nil
}

func (c *hubConn) Messages() <-chan transport.Message { return c.msgs }

func (c *hubConn) Done() <-chan struct{} { return c.done }

func (c *hubConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.hub.remove(c)
	})
	return nil
}

func (c *hubConn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// deliver is called with the hub lock held.
func (c *hubConn) deliver(topic string, payload []byte) {
	if c.isClosed() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for sub := range c.subs {
		if !domain.MatchTopic(sub, topic) {
			continue
		}
		select {
		case c.msgs <- transport.Message{Topic: topic, Subscription: sub, Payload: payload}:
		default:
			log.Warn().Str("topic", topic).Msg("hub connection buffer full, dropping message")
		}
	}
}
