package transport

import "context"

// Message is one inbound delivery. Subscription is the topic or pattern the
// broker matched the message against; brokers fill it so overlapping
// subscriptions are dispatched without duplicates.
type Message struct {
	Topic        string
	Subscription string
	Payload      []byte
}

// Handler consumes inbound messages. Handlers run on the session's reader
// goroutine and must not block.
type Handler func(Message)

// Conn is one live broker connection. Done is closed when the connection is
// lost; after that every call fails and the session dials a new Conn.
type Conn interface {
	Subscribe(ctx context.Context, topic string) error
	Unsubscribe(ctx context.Context, topic string) error
	Publish(ctx context.Context, topic string, payload []byte) error
	Messages() <-chan Message
	Done() <-chan struct{}
	Close() error
}

// Dialer opens broker connections (in-process hub, Redis, NATS, WebSocket relay).
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }
