package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"broadcast-hub/internal/core/fault"
)

type mapLookup map[string]string

func (m mapLookup) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

func fullNetwork() mapLookup {
	return mapLookup{
		"network.pub_bind":         "tcp://127.0.0.1:7899",
		"network.sub_connect":      "tcp://127.0.0.1:7898",
		"network.udp_pub_topic":    "UDP2",
		"network.udp_sub_topic":    "UDP1",
		"network.serial_pub_topic": "SERIAL2",
		"network.serial_sub_topic": "SERIAL1",
		"network.http_pub_topic":   "HTTP2",
		"network.http_sub_topic":   "HTTP1",
	}
}

func TestResolve(t *testing.T) {
	r, err := New(fullNetwork())
	require.NoError(t, err)

	route, err := r.Resolve("serial")
	require.NoError(t, err)
	assert.Equal(t, Route{
		Name:            "serial",
		PublishTopic:    "SERIAL2",
		SubscribeTopic:  "SERIAL1",
		BindEndpoint:    "tcp://127.0.0.1:7899",
		ConnectEndpoint: "tcp://127.0.0.1:7898",
	}, route)

	_, err = r.Resolve("carrier-pigeon")
	require.ErrorIs(t, err, ErrUnknownChannel)
}

func TestRoutesKeepRegistrationOrder(t *testing.T) {
	r, err := New(fullNetwork())
	require.NoError(t, err)

	var topics []string
	for _, route := range r.Routes() {
		topics = append(topics, route.PublishTopic)
	}
	assert.Equal(t, []string{"UDP2", "SERIAL2", "HTTP2"}, topics)

	routes := r.Routes()
	routes[0].PublishTopic = "mutated"
	again, _ := r.Resolve("udp")
	assert.Equal(t, "UDP2", again.PublishTopic)
}

func TestMissingNetworkBlock(t *testing.T) {
	_, err := New(mapLookup{})
	require.ErrorIs(t, err, ErrMissingKey)
	assert.True(t, fault.IsStartup(err))
	for key := range fullNetwork() {
		assert.Contains(t, err.Error(), key)
	}
}

func TestEachNetworkKeyIsMandatory(t *testing.T) {
	for key := range fullNetwork() {
		t.Run(key, func(t *testing.T) {
			cfg := fullNetwork()
			delete(cfg, key)
			_, err := New(cfg)
			require.ErrorIs(t, err, ErrMissingKey)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestPublishTopicsMustBeDistinct(t *testing.T) {
	cfg := fullNetwork()
	cfg["network.http_pub_topic"] = "UDP2"
	_, err := New(cfg)
	require.ErrorIs(t, err, ErrDuplicateTopic)

	cfg = fullNetwork()
	cfg["network.serial_pub_topic"] = HeartbeatTopic
	_, err = New(cfg)
	require.ErrorIs(t, err, ErrDuplicateTopic)
}

func TestSubscribeTopicsAreIndependent(t *testing.T) {
	cfg := fullNetwork()
	cfg["network.udp_sub_topic"] = "SHARED"
	cfg["network.http_sub_topic"] = "SHARED"
	_, err := New(cfg)
	require.NoError(t, err)
}
