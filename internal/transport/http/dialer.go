package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"quiz-sync/internal/domain"
	"quiz-sync/internal/transport"
)

var errUnsupportedFrame = errors.New("unsupported frame type")

// Dialer opens relay sockets. Token, when set, is sent as a bearer header.
type Dialer struct {
	URL   string
	Token string
	WS    *websocket.Dialer
}

func NewDialer(url, token string) *Dialer {
	return &Dialer{URL: url, Token: token, WS: websocket.DefaultDialer}
}

func (d *Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}
	ws, resp, err := d.WS.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				return nil, fmt.Errorf("dial relay: %w", domain.ErrUnauthorized)
			case http.StatusForbidden:
				return nil, fmt.Errorf("dial relay: %w", domain.ErrForbidden)
			}
		}
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	c := &wsConn{
		ws:   ws,
		msgs: make(chan transport.Message, 512),
		done: make(chan struct{}),
	}
	go c.read()
	return c, nil
}

type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	msgs      chan transport.Message
	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) Subscribe(ctx context.Context, topic string) error {
	return c.write(ctx, frameSubscribe, destinationPayload{Destination: topic})
}

func (c *wsConn) Unsubscribe(ctx context.Context, topic string) error {
	return c.write(ctx, frameUnsubscribe, destinationPayload{Destination: topic})
}

func (c *wsConn) Publish(ctx context.Context, topic string, payload []byte) error {
	return c.write(ctx, frameSend, destinationPayload{Destination: topic, Body: string(payload)})
}

func (c *wsConn) Messages() <-chan transport.Message { return c.msgs }

func (c *wsConn) Done() <-chan struct{} { return c.done }

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) write(ctx context.Context, kind string, p destinationPayload) error {
	select {
	case <-c.done:
		return domain.ErrNotConnected
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
	}
	if err := c.ws.WriteJSON(outboundMessage[destinationPayload]{Type: kind, Payload: p}); err != nil {
		_ = c.Close()
		return fmt.Errorf("ws write: %w", err)
	}
	return nil
}

func (c *wsConn) read() {
	defer c.Close()
	for {
		var frame inboundMessage
		if err := c.ws.ReadJSON(&frame); err != nil {
			select {
			case <-c.done:
			default:
				log.Warn().Err(err).Msg("relay socket closed")
			}
			return
		}
		switch frame.Type {
		case frameMessage:
			var m messagePayload
			if err := json.Unmarshal(frame.Payload, &m); err != nil {
				log.Warn().Err(err).Msg("dropping malformed relay frame")
				continue
			}
			select {
			case c.msgs <- transport.Message{Topic: m.Destination, Subscription: m.Subscription, Payload: []byte(m.Body)}:
			case <-c.done:
				return
			}
		case frameError:
			var e errorPayload
			_ = json.Unmarshal(frame.Payload, &e)
			log.Warn().Str("message", e.Message).Msg("relay reported an error")
		}
	}
}
