package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"broadcast-hub/internal/broadcast"
	"broadcast-hub/internal/channel"
	"broadcast-hub/internal/config"
	"broadcast-hub/internal/core/fault"
	"broadcast-hub/internal/core/network"
	"broadcast-hub/internal/metrics"
)

const application = `
application:
  build: test
  container_name: hub
  environment2:
    one_env2: a
    sec_env2: b
`

func loopbackConfig(t *testing.T, bind, connect string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(application + `
network:
  transport: memory
  pub_bind: ` + bind + `
  sub_connect: ` + connect + `
  udp_pub_topic: UDP2
  udp_sub_topic: UDP2
  serial_pub_topic: SERIAL2
  serial_sub_topic: SERIAL2
  http_pub_topic: HTTP2
  http_sub_topic: HTTP2
`))
	require.NoError(t, err)
	return cfg
}

// spyTransport records whether any socket was requested.
type spyTransport struct {
	network.Transport
	mu    sync.Mutex
	calls int
}

func (s *spyTransport) Bind(ctx context.Context, endpoint string) (network.PubSocket, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.Transport.Bind(ctx, endpoint)
}

func (s *spyTransport) Connect(ctx context.Context, endpoint, topic string) (network.SubSocket, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.Transport.Connect(ctx, endpoint, topic)
}

type recorder struct {
	mu  sync.Mutex
	got map[string][][2]string
}

func newRecorder() *recorder {
	return &recorder{got: make(map[string][][2]string)}
}

func (r *recorder) factory(route channel.Route, _ zerolog.Logger) broadcast.Sink {
	return broadcast.SinkFunc(func(topic, text string) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.got[route.Name] = append(r.got[route.Name], [2]string{topic, text})
	})
}

func (r *recorder) snapshot() map[string][][2]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][][2]string, len(r.got))
	for k, v := range r.got {
		out[k] = append([][2]string(nil), v...)
	}
	return out
}

func waitStates(t *testing.T, h *Handle, want map[string]State) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, u := range h.Units() {
			if s, ok := want[u.Name]; ok && u.State != s {
				return false
			}
		}
		return true
	}, 3*time.Second, 5*time.Millisecond)
}

func TestHubLoopbackDeliversEachTopicToItsChannel(t *testing.T) {
	cfg := loopbackConfig(t, "inproc://loop", "inproc://loop")
	tr := network.NewMemoryTransport().WithDialRetry(5*time.Millisecond, 400)
	mock := clock.NewMock()
	rec := newRecorder()
	m := metrics.New()

	handle, err := New(cfg, tr, WithClock(mock), WithSinkFactory(rec.factory), WithMetrics(m)).Start(context.Background())
	require.NoError(t, err)
	waitStates(t, handle, map[string]State{
		"send_task":        StateRunning,
		"recv_udp_task":    StateRunning,
		"recv_serial_task": StateRunning,
		"recv_http_task":   StateRunning,
	})
	assert.Equal(t, 4.0, testutil.ToFloat64(m.UnitsRunning))

	mock.Add(cfg.TickInterval())
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 3 }, 2*time.Second, 5*time.Millisecond)

	got := rec.snapshot()
	assert.Equal(t, [][2]string{{"UDP2", "Broadcast #1"}}, got["udp"])
	assert.Equal(t, [][2]string{{"SERIAL2", "Broadcast #1"}}, got["serial"])
	assert.Equal(t, [][2]string{{"HTTP2", "Broadcast #1"}}, got["http"])

	handle.Stop()
	require.NoError(t, handle.Wait())
	for _, u := range handle.Units() {
		assert.Equal(t, StateStopped, u.State, u.Name)
	}
	assert.Equal(t, 0.0, testutil.ToFloat64(m.UnitsRunning))
}

func TestHubMissingNetworkBlockOpensNoSockets(t *testing.T) {
	cfg, err := config.Parse([]byte(application))
	require.NoError(t, err)

	spy := &spyTransport{Transport: network.NewMemoryTransport()}
	_, err = New(cfg, spy).Start(context.Background())
	require.ErrorIs(t, err, channel.ErrMissingKey)
	assert.True(t, fault.IsStartup(err))
	assert.Zero(t, spy.calls)

	require.ErrorIs(t, New(cfg, spy).Run(context.Background()), channel.ErrMissingKey)
}

func TestHubFailedSessionsDoNotStopPublisher(t *testing.T) {
	cfg := loopbackConfig(t, "inproc://alive", "inproc://nobody-home")
	tr := network.NewMemoryTransport()
	mock := clock.NewMock()
	m := metrics.New()

	handle, err := New(cfg, tr, WithClock(mock), WithMetrics(m)).Start(context.Background())
	require.NoError(t, err)
	waitStates(t, handle, map[string]State{
		"send_task":        StateRunning,
		"recv_udp_task":    StateFailed,
		"recv_serial_task": StateFailed,
		"recv_http_task":   StateFailed,
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.UnitsRunning), "failed sessions never count as running")

	// An outside subscriber still sees every tick.
	sub, err := tr.Connect(context.Background(), handle.Publisher().Endpoint(), "AAA")
	require.NoError(t, err)
	defer sub.Close()
	for i := 1; i <= 2; i++ {
		mock.Add(cfg.TickInterval())
		msg, err := sub.Recv()
		require.NoError(t, err)
		assert.Equal(t, broadcast.Payload(uint64(i)), string(msg.Payload))
	}

	select {
	case <-handle.Done():
		t.Fatal("hub finished while the publisher was still running")
	default:
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UnitFailures.WithLabelValues("recv_udp_task", "startup")))

	handle.Stop()
	err = handle.Wait()
	require.Error(t, err)
	errs := multierr.Errors(err)
	require.Len(t, errs, 3)
	for _, e := range errs {
		assert.True(t, fault.IsStartup(e))
		assert.ErrorIs(t, e, network.ErrNoListener)
	}
	for _, u := range handle.Units() {
		if u.Kind == KindSubscriber {
			assert.Contains(t, u.Error, "no listener")
		}
	}
}

func TestHubUnitsDescribeRoutes(t *testing.T) {
	cfg := loopbackConfig(t, "inproc://describe", "inproc://describe")
	tr := network.NewMemoryTransport().WithDialRetry(5*time.Millisecond, 400)
	handle, err := New(cfg, tr, WithClock(clock.NewMock())).Start(context.Background())
	require.NoError(t, err)
	defer func() {
		handle.Stop()
		_ = handle.Wait()
	}()

	units := handle.Units()
	require.Len(t, units, 4)
	assert.Equal(t, UnitStatus{
		Name: "send_task", Kind: KindPublisher, Endpoint: "inproc://describe",
		Topics: []string{"UDP2", "SERIAL2", "HTTP2", "AAA"}, State: units[0].State,
	}, units[0])
	assert.Equal(t, "recv_serial_task", units[2].Name)
	assert.Equal(t, []string{"SERIAL2"}, units[2].Topics)
	assert.NotEmpty(t, handle.ID())
	assert.Equal(t, "inproc://describe", handle.Registry().BindEndpoint())
}

func TestHubSessionsWaitForPublisherWithDefaultDialSettings(t *testing.T) {
	cfg := loopbackConfig(t, "inproc://defaults", "inproc://defaults")
	_, hasRetry := cfg.Get("network.dial_retry")
	require.True(t, hasRetry)

	for run := 0; run < 20; run++ {
		tr, err := network.NewTransport(cfg.Network.Transport, cfg.TransportOptions())
		require.NoError(t, err)
		m := metrics.New()
		handle, err := New(cfg, tr, WithClock(clock.NewMock()), WithMetrics(m)).Start(context.Background())
		require.NoError(t, err)

		waitStates(t, handle, map[string]State{
			"send_task":        StateRunning,
			"recv_udp_task":    StateRunning,
			"recv_serial_task": StateRunning,
			"recv_http_task":   StateRunning,
		})
		assert.Equal(t, 4.0, testutil.ToFloat64(m.UnitsRunning), "run %d", run)

		handle.Stop()
		require.NoError(t, handle.Wait(), "run %d", run)
	}
}
