// Package broadcast implements the publish loop and the topic-filtered
// subscriber sessions of the hub.
package broadcast

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"broadcast-hub/internal/channel"
	"broadcast-hub/internal/core/fault"
	"broadcast-hub/internal/core/network"
	"broadcast-hub/internal/metrics"
)

const (
	// DefaultInterval is the publisher tick period.
	DefaultInterval = 2000 * time.Millisecond
	HeartbeatName   = "heartbeat"
)

// Channel is one publish target: a logical channel name and its topic.
type Channel struct {
	Name  string
	Topic string
}

// Payload is the text published on every topic for tick seq.
func Payload(seq uint64) string {
	return fmt.Sprintf("Broadcast #%d", seq)
}

// Publisher owns one bound socket and sends one message per channel on every tick.
type Publisher struct {
	transport network.Transport
	endpoint  string
	channels  []Channel
	interval  time.Duration
	clock     clock.Clock
	log       zerolog.Logger
	metrics   *metrics.Metrics

	seq       atomic.Uint64
	boundOnce sync.Once
	bound     chan struct{}
	mu        sync.RWMutex
	effective string
}

type PublisherOption func(*Publisher)

func WithInterval(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithClock(c clock.Clock) PublisherOption {
	return func(p *Publisher) { p.clock = c }
}

func WithPublisherLogger(l zerolog.Logger) PublisherOption {
	return func(p *Publisher) { p.log = l }
}

func WithPublisherMetrics(m *metrics.Metrics) PublisherOption {
	return func(p *Publisher) { p.metrics = m }
}

// NewPublisher sends the given channels in order followed by the heartbeat topic.
func NewPublisher(t network.Transport, endpoint string, channels []Channel, opts ...PublisherOption) *Publisher {
	all := make([]Channel, 0, len(channels)+1)
	all = append(all, channels...)
	all = append(all, Channel{Name: HeartbeatName, Topic: channel.HeartbeatTopic})
	p := &Publisher{
		transport: t,
		endpoint:  endpoint,
		channels:  all,
		interval:  DefaultInterval,
		clock:     clock.New(),
		log:       zerolog.Nop(),
		bound:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run binds and publishes until a send fails or ctx is done. The first
// batch goes out one interval after binding, giving subscribers a window to
// connect.
func (p *Publisher) Run(ctx context.Context) error {
	sock, err := p.transport.Bind(ctx, p.endpoint)
	if err != nil {
		return fault.Startup("bind "+p.endpoint, err)
	}
	defer sock.Close()

	ticker := p.clock.Ticker(p.interval)
	defer ticker.Stop()

	p.mu.Lock()
	p.effective = sock.Endpoint()
	p.mu.Unlock()
	p.boundOnce.Do(func() { close(p.bound) })
	p.log.Info().Str("endpoint", sock.Endpoint()).Int("channels", len(p.channels)).Dur("interval", p.interval).Msg("publisher bound")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := p.publishTick(sock); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (p *Publisher) publishTick(sock network.PubSocket) error {
	seq := p.seq.Add(1)
	payload := []byte(Payload(seq))
	p.log.Info().Msgf("Publish: %s", payload)

	for _, ch := range p.channels {
		if err := sock.Send(network.Message{Topic: ch.Topic, Payload: payload}); err != nil {
			return fault.Runtime("send "+ch.Topic, err)
		}
		p.metrics.MessagePublished(ch.Topic)
	}
	p.metrics.TickPublished()
	return nil
}

// Bound is closed once the socket is bound.
func (p *Publisher) Bound() <-chan struct{} {
	return p.bound
}

// Endpoint is the bound address, resolved from wildcards; empty before Bound.
func (p *Publisher) Endpoint() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.effective
}

// Sequence is the number of the last tick started.
func (p *Publisher) Sequence() uint64 {
	return p.seq.Load()
}

func (p *Publisher) Channels() []Channel {
	return append([]Channel(nil), p.channels...)
}
