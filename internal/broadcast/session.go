package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"broadcast-hub/internal/core/fault"
	"broadcast-hub/internal/core/network"
	"broadcast-hub/internal/metrics"
)

// InvalidText replaces any frame that is not valid UTF-8.
const InvalidText = "invalid text"

var errInvalidUTF8 = errors.New("frame is not valid UTF-8")

// Sink consumes decoded messages. Deliver is called from the session goroutine.
type Sink interface {
	Deliver(topic, text string)
}

type SinkFunc func(topic, text string)

func (f SinkFunc) Deliver(topic, text string) { f(topic, text) }

// LogSink writes one "Subscribe" line per message.
type LogSink struct {
	Log     zerolog.Logger
	Channel string
}

func (s LogSink) Deliver(topic, text string) {
	s.Log.Info().Str("channel", s.Channel).Msgf("Subscribe: [%q, %q]", topic, text)
}

// Session owns one connected socket filtered to a single topic.
type Session struct {
	transport network.Transport
	name      string
	endpoint  string
	topic     string
	sink      Sink
	log       zerolog.Logger
	metrics   *metrics.Metrics

	connectedOnce sync.Once
	connected     chan struct{}
	received      atomic.Uint64
}

type SessionOption func(*Session)

func WithSessionLogger(l zerolog.Logger) SessionOption {
	return func(s *Session) { s.log = l }
}

func WithSessionMetrics(m *metrics.Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

func NewSession(t network.Transport, name, endpoint, topic string, sink Sink, opts ...SessionOption) *Session {
	s := &Session{
		transport: t,
		name:      name,
		endpoint:  endpoint,
		topic:     topic,
		sink:      sink,
		log:       zerolog.Nop(),
		connected: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run connects, subscribes and delivers messages until the transport fails
// or ctx is done. A connect failure ends only this session.
func (s *Session) Run(ctx context.Context) error {
	sock, err := s.transport.Connect(ctx, s.endpoint, s.topic)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fault.Startup("connect "+s.endpoint, err)
	}
	closeSock := sync.OnceFunc(func() { _ = sock.Close() })
	defer closeSock()
	// Unblock Recv on cancellation.
	stop := context.AfterFunc(ctx, closeSock)
	defer stop()

	s.connectedOnce.Do(func() { close(s.connected) })
	s.log.Info().Str("endpoint", s.endpoint).Str("topic", s.topic).Msg("subscriber connected")

	for {
		msg, err := sock.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fault.Runtime("recv "+s.topic, err)
		}
		// ZMQ filters by prefix; only the exact topic belongs to this channel.
		if msg.Topic != s.topic {
			s.metrics.MessageFiltered(s.name)
			s.log.Debug().Str("topic", msg.Topic).Msg("dropped prefix match")
			continue
		}
		topic, text := s.decode(msg)
		s.received.Add(1)
		s.metrics.MessageReceived(s.name, s.topic)
		s.sink.Deliver(topic, text)
	}
}

func (s *Session) decode(msg network.Message) (string, string) {
	topic, topicOK := decodeFrame([]byte(msg.Topic))
	text, textOK := decodeFrame(msg.Payload)
	if !topicOK || !textOK {
		s.metrics.DecodeFailed(s.name)
		s.log.Debug().Err(fault.Recoverable("decode "+s.name, errInvalidUTF8)).Msg("substituted invalid text")
	}
	return topic, text
}

func decodeFrame(b []byte) (string, bool) {
	if !utf8.Valid(b) {
		return InvalidText, false
	}
	return string(b), true
}

// Connected is closed once the socket is connected and subscribed.
func (s *Session) Connected() <-chan struct{} {
	return s.connected
}

// Received counts messages handed to the sink.
func (s *Session) Received() uint64 {
	return s.received.Load()
}

func (s *Session) Name() string     { return s.name }
func (s *Session) Topic() string    { return s.topic }
func (s *Session) Endpoint() string { return s.endpoint }
