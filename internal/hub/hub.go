// Package hub runs the publisher and the subscriber sessions as independent
// units under one shared cancellation signal.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"broadcast-hub/internal/broadcast"
	"broadcast-hub/internal/channel"
	"broadcast-hub/internal/config"
	"broadcast-hub/internal/core/fault"
	"broadcast-hub/internal/core/network"
	"broadcast-hub/internal/metrics"
)

const (
	KindPublisher  = "publisher"
	KindSubscriber = "subscriber"
)

type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// UnitStatus describes one publisher or subscriber unit.
type UnitStatus struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind"`
	Endpoint string   `json:"endpoint"`
	Topics   []string `json:"topics"`
	State    State    `json:"state"`
	Error    string   `json:"error,omitempty"`
}

// SinkFactory builds the sink for a subscribed route.
type SinkFactory func(route channel.Route, log zerolog.Logger) broadcast.Sink

func logSinks(route channel.Route, log zerolog.Logger) broadcast.Sink {
	return broadcast.LogSink{Log: log, Channel: route.Name}
}

type Hub struct {
	cfg       *config.Config
	transport network.Transport
	log       zerolog.Logger
	metrics   *metrics.Metrics
	clock     clock.Clock
	sinks     SinkFactory
	interval  time.Duration
}

type Option func(*Hub)

func WithLogger(l zerolog.Logger) Option {
	return func(h *Hub) { h.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

func WithClock(c clock.Clock) Option {
	return func(h *Hub) { h.clock = c }
}

func WithSinkFactory(f SinkFactory) Option {
	return func(h *Hub) {
		if f != nil {
			h.sinks = f
		}
	}
}

func New(cfg *config.Config, t network.Transport, opts ...Option) *Hub {
	h := &Hub{
		cfg:       cfg,
		transport: t,
		log:       zerolog.Nop(),
		clock:     clock.New(),
		sinks:     logSinks,
		interval:  cfg.TickInterval(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run starts the hub and blocks until every unit has terminated.
func (h *Hub) Run(ctx context.Context) error {
	handle, err := h.Start(ctx)
	if err != nil {
		return err
	}
	return handle.Wait()
}

// Start resolves the channel registry and launches the publisher plus one
// session per route. Registry failures are returned before any socket opens.
func (h *Hub) Start(ctx context.Context) (*Handle, error) {
	reg, err := channel.New(h.cfg)
	if err != nil {
		return nil, err
	}

	hctx, cancel := context.WithCancel(ctx)
	handle := &Handle{
		id:       uuid.NewString(),
		ctx:      hctx,
		cancel:   cancel,
		registry: reg,
		metrics:  h.metrics,
		done:     make(chan struct{}),
	}
	handle.log = h.log.With().Str("run", handle.id).Logger()

	routes := reg.Routes()
	channels := make([]broadcast.Channel, 0, len(routes))
	for _, r := range routes {
		channels = append(channels, broadcast.Channel{Name: r.Name, Topic: r.PublishTopic})
	}

	const sendUnit = "send_task"
	pub := broadcast.NewPublisher(h.transport, reg.BindEndpoint(), channels,
		broadcast.WithInterval(h.interval),
		broadcast.WithClock(h.clock),
		broadcast.WithPublisherLogger(handle.log.With().Str("unit", sendUnit).Logger()),
		broadcast.WithPublisherMetrics(h.metrics),
	)
	handle.publisher = pub
	topics := make([]string, 0, len(channels)+1)
	for _, c := range pub.Channels() {
		topics = append(topics, c.Topic)
	}
	handle.launch(unit{
		status: UnitStatus{Name: sendUnit, Kind: KindPublisher, Endpoint: reg.BindEndpoint(), Topics: topics},
		ready:  pub.Bound(),
		run:    pub.Run,
	})

	for _, r := range routes {
		name := "recv_" + r.Name + "_task"
		log := handle.log.With().Str("unit", name).Logger()
		s := broadcast.NewSession(h.transport, r.Name, r.ConnectEndpoint, r.SubscribeTopic, h.sinks(r, log),
			broadcast.WithSessionLogger(log),
			broadcast.WithSessionMetrics(h.metrics),
		)
		handle.launch(unit{
			status: UnitStatus{Name: name, Kind: KindSubscriber, Endpoint: r.ConnectEndpoint, Topics: []string{r.SubscribeTopic}},
			ready:  s.Connected(),
			run:    s.Run,
		})
	}

	go handle.wait()
	handle.log.Info().Int("units", len(routes)+1).Msg("hub started")
	return handle, nil
}

type unit struct {
	status UnitStatus
	ready  <-chan struct{}
	run    func(context.Context) error
}

// Handle supervises the units launched by Start.
type Handle struct {
	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	group     errgroup.Group
	registry  *channel.Registry
	publisher *broadcast.Publisher
	metrics   *metrics.Metrics
	log       zerolog.Logger

	mu    sync.RWMutex
	units []UnitStatus
	errs  []error

	done chan struct{}
	err  error
}

func (h *Handle) launch(u unit) {
	h.mu.Lock()
	idx := len(h.units)
	u.status.State = StateStarting
	h.units = append(h.units, u.status)
	h.errs = append(h.errs, nil)
	h.mu.Unlock()

	exited := make(chan struct{})
	go func() {
		select {
		case <-u.ready:
			h.setState(idx, StateRunning, nil)
		case <-exited:
		}
	}()

	h.group.Go(func() error {
		defer close(exited)
		err := u.run(h.ctx)

		if err != nil {
			c, ok := fault.ClassOf(err)
			if !ok {
				c = fault.ClassRuntime
			}
			class := string(c)
			h.log.Error().Err(err).Str("unit", u.status.Name).Str("class", class).Msg("unit terminated")
			h.setState(idx, StateFailed, err)
			h.metrics.UnitFailed(u.status.Name, class)
		} else {
			h.log.Info().Str("unit", u.status.Name).Msg("unit stopped")
			h.setState(idx, StateStopped, nil)
		}
		return err
	})
}

func (h *Handle) setState(idx int, state State, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cur := &h.units[idx]
	// running only follows starting; a terminal state is final. The gauge
	// moves with the transitions so it counts only units that are running.
	if state == StateRunning {
		if cur.State == StateStarting {
			cur.State = StateRunning
			h.metrics.UnitStarted()
		}
		return
	}
	if cur.State == StateRunning {
		h.metrics.UnitStopped()
	}
	cur.State = state
	if err != nil {
		cur.Error = err.Error()
		h.errs[idx] = err
	}
}

func (h *Handle) wait() {
	_ = h.group.Wait()
	h.mu.RLock()
	h.err = multierr.Combine(h.errs...)
	h.mu.RUnlock()
	h.cancel()
	close(h.done)
}

// Wait blocks until every unit has terminated and returns their combined errors.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// Stop cancels every unit; Wait reports when they have finished.
func (h *Handle) Stop() {
	h.cancel()
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Units returns a snapshot of unit states in launch order.
func (h *Handle) Units() []UnitStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]UnitStatus, len(h.units))
	for i, u := range h.units {
		u.Topics = append([]string(nil), u.Topics...)
		out[i] = u
	}
	return out
}

func (h *Handle) ID() string                      { return h.id }
func (h *Handle) Registry() *channel.Registry     { return h.registry }
func (h *Handle) Publisher() *broadcast.Publisher { return h.publisher }
