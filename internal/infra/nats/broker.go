package nats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"quiz-sync/internal/transport"
)

// Config holds the NATS connection settings.
type Config struct {
	URL            string
	Name           string
	ConnectTimeout time.Duration
}

// Broker dials core NATS connections. Client-side reconnects are disabled so
// the transport session alone decides when and how often to retry; NATS `*`
// already has single-token semantics.
type Broker struct {
	cfg Config
	buf int
}

func NewBroker(cfg Config) *Broker {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 2 * time.Second
	}
	return &Broker{cfg: cfg, buf: 512}
}

func (b *Broker) Dial(ctx context.Context) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := &conn{
		subs:  make(map[string]*nats.Subscription),
		inbox: make(chan *nats.Msg, b.buf),
		msgs:  make(chan transport.Message, b.buf),
		done:  make(chan struct{}),
	}
	opts := []nats.Option{
		nats.Name(b.cfg.Name),
		nats.Timeout(b.cfg.ConnectTimeout),
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Error().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			c.shutdown()
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}
	nc, err := nats.Connect(b.cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS connected")
	c.nc = nc
	go c.forward()
	return c, nil
}

// conn funnels every subscription into one channel so deliveries keep their
// arrival order across topics.
type conn struct {
	nc *nats.Conn

	mu   sync.Mutex
	subs map[string]*nats.Subscription

	inbox    chan *nats.Msg
	msgs     chan transport.Message
	done     chan struct{}
	doneOnce sync.Once
}

func (c *conn) Subscribe(_ context.Context, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[topic]; ok {
		return nil
	}
	sub, err := c.nc.ChanSubscribe(topic, c.inbox)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	c.subs[topic] = sub
	return nil
}

func (c *conn) Unsubscribe(_ context.Context, topic string) error {
	c.mu.Lock()
	sub, ok := c.subs[topic]
	delete(c.subs, topic)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", topic, err)
	}
	return nil
}

func (c *conn) Publish(_ context.Context, topic string, payload []byte) error {
	if err := c.nc.Publish(topic, payload); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

func (c *conn) Messages() <-chan transport.Message { return c.msgs }

func (c *conn) Done() <-chan struct{} { return c.done }

func (c *conn) Close() error {
	c.nc.Close()
	c.shutdown()
	return nil
}

func (c *conn) shutdown() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *conn) forward() {
	for {
		select {
		case m := <-c.inbox:
			sub := m.Subject
			if m.Sub != nil {
				sub = m.Sub.Subject
			}
			select {
			case c.msgs <- transport.Message{Topic: m.Subject, Subscription: sub, Payload: m.Data}:
			case <-c.done:
				return
			}
		case <-c.done:
			return
		}
	}
}
