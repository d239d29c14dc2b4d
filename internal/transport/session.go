package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"quiz-sync/internal/domain"
)

// Config tunes a Session.
type Config struct {
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	QueueSize            int
	OpTimeout            time.Duration
	Clock                clockwork.Clock
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:       2 * time.Second,
		MaxReconnectAttempts: 10,
		QueueSize:            256,
		OpTimeout:            5 * time.Second,
	}
}

// OutboundMessage is a publish waiting for the connection to come back.
type OutboundMessage struct {
	Topic      string
	Payload    []byte
	EnqueuedAt time.Time
}

// Stats is a point-in-time view of the session bookkeeping.
type Stats struct {
	State         domain.ConnState
	Attempts      int
	Queued        int
	Subscriptions int
	Failed        bool
}

type subscription struct {
	topic   string
	handler Handler
}

// Session owns one resilient publish/subscribe connection. Subscribe,
// Unsubscribe and Publish are safe at any time: while disconnected they only
// touch local bookkeeping, and every (re)connect restores subscriptions in
// registration order before flushing queued publishes in FIFO order.
type Session struct {
	dialer Dialer
	cfg    Config
	clock  clockwork.Clock

	mu        sync.Mutex
	state     domain.ConnState
	conn      Conn
	subs      map[string]*subscription
	order     []string
	queue     []OutboundMessage
	attempts  int
	err       error
	started   bool
	changed   chan struct{}
	listeners []func(domain.ConnState)

	kick      chan struct{}
	failed    chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSession builds a session; nothing is dialed until Connect.
func NewSession(dialer Dialer, cfg Config) *Session {
	def := DefaultConfig()
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = def.OpTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Session{
		dialer:  dialer,
		cfg:     cfg,
		clock:   cfg.Clock,
		state:   domain.ConnDisconnected,
		subs:    make(map[string]*subscription),
		changed: make(chan struct{}),
		kick:    make(chan struct{}, 1),
		failed:  make(chan struct{}),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Connect starts the dial/retry loop in the background. Calling it again is a no-op.
func (s *Session) Connect(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	go s.run(ctx)
}

// Subscribe registers handler for topic. Registering the same topic again
// replaces the handler without a second broker subscription.
func (s *Session) Subscribe(topic string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.subs[topic]; ok {
		sub.handler = handler
		return
	}
	s.subs[topic] = &subscription{topic: topic, handler: handler}
	s.order = append(s.order, topic)

	if s.state != domain.ConnConnected || s.conn == nil {
		log.Debug().Str("topic", topic).Msg("subscription recorded until connected")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.OpTimeout)
	defer cancel()
	if err := s.conn.Subscribe(ctx, topic); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("live subscribe failed, reconnecting")
		s.forceReconnectLocked()
	}
}

// Unsubscribe removes both the live subscription and the pending registration.
// Unknown topics are ignored.
func (s *Session) Unsubscribe(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[topic]; !ok {
		return
	}
	delete(s.subs, topic)
	for i, t := range s.order {
		if t == topic {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.state != domain.ConnConnected || s.conn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.OpTimeout)
	defer cancel()
	if err := s.conn.Unsubscribe(ctx, topic); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("live unsubscribe failed")
	}
}

// Publish sends payload to topic, queueing it while disconnected.
func (s *Session) Publish(topic string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == domain.ConnConnected && s.conn != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.OpTimeout)
		err := s.conn.Publish(ctx, topic, payload)
		cancel()
		if err == nil {
			return
		}
		log.Warn().Err(err).Str("topic", topic).Msg("publish failed, queueing and reconnecting")
		s.forceReconnectLocked()
	}
	s.enqueueLocked(OutboundMessage{Topic: topic, Payload: payload, EnqueuedAt: s.clock.Now()})
}

// PublishJSON encodes v and publishes it. Encoding failures are logged and dropped.
func (s *Session) PublishJSON(topic string, v any) {
	payload, err := domain.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("failed to encode outbound message")
		return
	}
	s.Publish(topic, payload)
}

// IsConnected reports whether the session currently has a live connection.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == domain.ConnConnected
}

// State returns the connection lifecycle state.
func (s *Session) State() domain.ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// WaitForConnection blocks until connected, the timeout elapses, the session
// fails or ctx is cancelled.
func (s *Session) WaitForConnection(ctx context.Context, timeout time.Duration) bool {
	deadline := s.clock.After(timeout)
	for {
		s.mu.Lock()
		if s.state == domain.ConnConnected {
			s.mu.Unlock()
			return true
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-changed:
		case <-deadline:
			return false
		case <-s.failed:
			return false
		case <-s.closed:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// OnStateChange registers a listener called after every lifecycle transition.
func (s *Session) OnStateChange(fn func(domain.ConnState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Failed is closed once reconnect attempts are exhausted.
func (s *Session) Failed() <-chan struct{} { return s.failed }

// Err returns the fatal error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stats returns the current bookkeeping counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		State:         s.state,
		Attempts:      s.attempts,
		Queued:        len(s.queue),
		Subscriptions: len(s.order),
		Failed:        errors.Is(s.err, domain.ErrReconnectExhausted),
	}
}

// Close tears the session down. Queued messages are discarded.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mu.Lock()
		cancel, started := s.cancel, s.started
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if started {
			<-s.done
		}
		s.mu.Lock()
		if s.err == nil {
			s.err = domain.ErrSessionClosed
		}
		s.mu.Unlock()
	})
	return nil
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.ReconnectDelay), uint64(s.cfg.MaxReconnectAttempts))
	for {
		s.setState(domain.ConnConnecting, nil)

		conn, err := s.dialer.Dial(ctx)
		if err == nil {
			err = s.establish(conn)
			if err != nil {
				_ = conn.Close()
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				s.setState(domain.ConnDisconnected, nil)
				return
			}
			log.Warn().Err(err).Int("attempt", s.attemptCount()).Msg("transport connect failed")
			s.setState(domain.ConnDisconnected, nil)
			if !s.waitRetry(ctx, policy) {
				return
			}
			continue
		}

		policy.Reset()
		s.pump(ctx, conn)
		s.setState(domain.ConnDisconnected, conn)
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		log.Warn().Msg("transport connection lost")
		if !s.waitRetry(ctx, policy) {
			return
		}
	}
}

// establish restores every registered subscription, then drains the queue,
// then marks the session connected. The lock is held throughout so no
// Subscribe or Publish interleaves with the restore.
func (s *Session) establish(conn Conn) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.OpTimeout)
	defer cancel()

	s.mu.Lock()
	for _, topic := range s.order {
		if err := conn.Subscribe(ctx, topic); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	flushed := 0
	for len(s.queue) > 0 {
		msg := s.queue[0]
		if err := conn.Publish(ctx, msg.Topic, msg.Payload); err != nil {
			s.mu.Unlock()
			return err
		}
		s.queue = s.queue[1:]
		flushed++
	}

	s.conn = conn
	s.attempts = 0
	// Drop a stale kick left from the previous connection.
	select {
	case <-s.kick:
	default:
	}
	subscriptions := len(s.order)
	notify := s.transitionLocked(domain.ConnConnected)
	s.mu.Unlock()

	log.Info().
		Int("subscriptions", subscriptions).
		Int("flushed", flushed).
		Msg("transport connected")
	notifyAll(notify, domain.ConnConnected)
	return nil
}

func (s *Session) pump(ctx context.Context, conn Conn) {
	for {
		select {
		case msg, ok := <-conn.Messages():
			if !ok {
				return
			}
			for _, h := range s.handlersFor(msg) {
				h(msg)
			}
		case <-conn.Done():
			return
		case <-s.kick:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) handlersFor(msg Message) []Handler {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Subscription != "" {
		if sub, ok := s.subs[msg.Subscription]; ok {
			return []Handler{sub.handler}
		}
		return nil
	}
	var out []Handler
	for _, topic := range s.order {
		if domain.MatchTopic(topic, msg.Topic) {
			out = append(out, s.subs[topic].handler)
		}
	}
	return out
}

func (s *Session) waitRetry(ctx context.Context, policy backoff.BackOff) bool {
	delay := policy.NextBackOff()
	if delay == backoff.Stop {
		s.mu.Lock()
		s.err = domain.ErrReconnectExhausted
		attempts := s.attempts
		s.mu.Unlock()
		close(s.failed)
		log.Error().Int("attempts", attempts).Msg("transport reconnect attempts exhausted")
		return false
	}

	s.mu.Lock()
	s.attempts++
	s.mu.Unlock()

	select {
	case <-s.clock.After(delay):
		return true
	case <-ctx.Done():
		return false
	case <-s.closed:
		return false
	}
}

func (s *Session) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Session) enqueueLocked(msg OutboundMessage) {
	if len(s.queue) >= s.cfg.QueueSize {
		dropped := s.queue[0]
		s.queue = s.queue[1:]
		log.Warn().Str("topic", dropped.Topic).Msg("outbound queue full, dropping oldest message")
	}
	s.queue = append(s.queue, msg)
}

func (s *Session) forceReconnectLocked() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Session) setState(state domain.ConnState, lost Conn) {
	s.mu.Lock()
	if lost != nil && s.conn == lost {
		s.conn = nil
	}
	notify := s.transitionLocked(state)
	s.mu.Unlock()
	notifyAll(notify, state)
}

// transitionLocked records the new state and returns the listeners the
// caller must invoke once the lock is released.
func (s *Session) transitionLocked(state domain.ConnState) []func(domain.ConnState) {
	if s.state == state {
		return nil
	}
	s.state = state
	close(s.changed)
	s.changed = make(chan struct{})
	return append([]func(domain.ConnState){}, s.listeners...)
}

func notifyAll(listeners []func(domain.ConnState), state domain.ConnState) {
	for _, fn := range listeners {
		fn(state)
	}
}
