package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"quiz-sync/internal/transport"
)

// Frame types exchanged over the relay socket.
const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	frameSend        = "send"
	frameMessage     = "message"
	frameError       = "error"
)

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// destinationPayload is the body of subscribe, unsubscribe and send frames.
type destinationPayload struct {
	Destination string `json:"destination"`
	Body        string `json:"body,omitempty"`
}

// messagePayload is one delivery pushed to the socket.
type messagePayload struct {
	Destination  string `json:"destination"`
	Subscription string `json:"subscription"`
	Body         string `json:"body"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// RelayHandler bridges WebSocket clients onto a broker. Each socket gets its
// own broker connection; losing either side closes the other.
type RelayHandler struct {
	broker   transport.Dialer
	upgrader websocket.Upgrader
}

func NewRelayHandler(broker transport.Dialer) *RelayHandler {
	return &RelayHandler{
		broker: broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS upgrades the request and relays frames until either side goes away.
func (h *RelayHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	upstream, err := h.broker.Dial(r.Context())
	if err != nil {
		http.Error(w, "broker unavailable", http.StatusServiceUnavailable)
		return
	}
	defer upstream.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	send := make(chan outboundMessage[any], 64)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	forwardDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Warn().Err(err).Msg("ws write error")
				return
			}
		}
	}()

	go func() {
		defer close(forwardDone)
		for {
			select {
			case m := <-upstream.Messages():
				select {
				case send <- outboundMessage[any]{Type: frameMessage, Payload: messagePayload{
					Destination:  m.Topic,
					Subscription: m.Subscription,
					Body:         string(m.Payload),
				}}:
				case <-closeSignals:
					return
				}
			case <-upstream.Done():
				// Unblock the read loop so the client notices the loss.
				_ = conn.Close()
				return
			case <-closeSignals:
				return
			}
		}
	}()

	ctx := r.Context()
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		var payload destinationPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.Destination == "" {
			h.reply(send, closeSignals, "invalid frame payload")
			continue
		}
		if err := h.apply(ctx, upstream, inbound.Type, payload); err != nil {
			h.reply(send, closeSignals, err.Error())
		}
	}

	close(closeSignals)
	<-forwardDone
	close(send)
	<-writerDone
}

func (h *RelayHandler) apply(ctx context.Context, upstream transport.Conn, kind string, p destinationPayload) error {
	switch kind {
	case frameSubscribe:
		return upstream.Subscribe(ctx, p.Destination)
	case frameUnsubscribe:
		return upstream.Unsubscribe(ctx, p.Destination)
	case frameSend:
		return upstream.Publish(ctx, p.Destination, []byte(p.Body))
	default:
		return errUnsupportedFrame
	}
}

func (h *RelayHandler) reply(send chan<- outboundMessage[any], closed <-chan struct{}, msg string) {
	select {
	case send <- outboundMessage[any]{Type: frameError, Payload: errorPayload{Message: msg}}:
	case <-closed:
	}
}
