package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"quiz-sync/internal/domain"
	"quiz-sync/internal/transport"
)

// Broker dials pub/sub connections on a shared Redis client. Topics containing
// the `*` token wildcard are subscribed with PSUBSCRIBE.
type Broker struct {
	client *redis.Client
	buf    int
}

func NewBroker(client *redis.Client) *Broker {
	return &Broker{client: client, buf: 512}
}

// Dial verifies the server is reachable and opens a dedicated PubSub.
func (b *Broker) Dial(ctx context.Context) (transport.Conn, error) {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	readCtx, cancel := context.WithCancel(context.Background())
	c := &conn{
		client:   b.client,
		pubsub:   b.client.Subscribe(readCtx),
		patterns: make(map[string]bool),
		msgs:     make(chan transport.Message, b.buf),
		done:     make(chan struct{}),
		cancel:   cancel,
	}
	go c.read(readCtx)
	return c, nil
}

type conn struct {
	client *redis.Client
	pubsub *redis.PubSub

	mu       sync.Mutex
	patterns map[string]bool

	msgs      chan transport.Message
	done      chan struct{}
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func isPattern(topic string) bool {
	return strings.Contains(topic, "*")
}

func (c *conn) Subscribe(ctx context.Context, topic string) error {
	if isPattern(topic) {
		if err := c.pubsub.PSubscribe(ctx, topic); err != nil {
			return fmt.Errorf("psubscribe %s: %w", topic, err)
		}
	} else if err := c.pubsub.Subscribe(ctx, topic); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	c.mu.Lock()
	c.patterns[topic] = true
	c.mu.Unlock()
	return nil
}

func (c *conn) Unsubscribe(ctx context.Context, topic string) error {
	var err error
	if isPattern(topic) {
		err = c.pubsub.PUnsubscribe(ctx, topic)
	} else {
		err = c.pubsub.Unsubscribe(ctx, topic)
	}
	c.mu.Lock()
	delete(c.patterns, topic)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("unsubscribe %s: %w", topic, err)
	}
	return nil
}

func (c *conn) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := c.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (c *conn) Messages() <-chan transport.Message { return c.msgs }

func (c *conn) Done() <-chan struct{} { return c.done }

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.pubsub.Close()
		close(c.done)
	})
	return err
}

func (c *conn) read(ctx context.Context) {
	for {
		msg, err := c.pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Msg("redis pubsub receive failed")
			}
			_ = c.Close()
			return
		}
		sub := msg.Channel
		if msg.Pattern != "" {
			// Redis globs let `*` span dots; keep single-token semantics.
			if !domain.MatchTopic(msg.Pattern, msg.Channel) {
				continue
			}
			sub = msg.Pattern
		}
		select {
		case c.msgs <- transport.Message{Topic: msg.Channel, Subscription: sub, Payload: []byte(msg.Payload)}:
		case <-c.done:
			return
		}
	}
}
