// Package channel maps the hub's logical channels onto topics and endpoints.
package channel

import (
	"errors"
	"fmt"
	"strings"

	"broadcast-hub/internal/core/fault"
)

// HeartbeatTopic is published once per tick regardless of configured channels.
const HeartbeatTopic = "AAA"

// Names lists the logical channels in registration order.
var Names = []string{"udp", "serial", "http"}

var (
	ErrUnknownChannel = errors.New("unknown channel")
	ErrMissingKey     = errors.New("required network key missing")
	ErrDuplicateTopic = errors.New("duplicate publish topic")
)

// Lookup is the read-only view of the configuration the registry needs.
type Lookup interface {
	Get(key string) (string, bool)
}

// Route is a resolved logical channel.
type Route struct {
	Name            string `json:"name"`
	PublishTopic    string `json:"publish_topic"`
	SubscribeTopic  string `json:"subscribe_topic"`
	BindEndpoint    string `json:"bind_endpoint"`
	ConnectEndpoint string `json:"connect_endpoint"`
}

// Registry is immutable after New.
type Registry struct {
	bind    string
	connect string
	routes  []Route
}

// New resolves every channel from cfg and fails with a startup fault listing
// all absent keys.
func New(cfg Lookup) (*Registry, error) {
	var missing []string
	get := func(key string) string {
		v, ok := cfg.Get(key)
		if !ok || v == "" {
			missing = append(missing, key)
		}
		return v
	}

	r := &Registry{
		bind:    get("network.pub_bind"),
		connect: get("network.sub_connect"),
	}
	for _, name := range Names {
		r.routes = append(r.routes, Route{
			Name:           name,
			PublishTopic:   get("network." + name + "_pub_topic"),
			SubscribeTopic: get("network." + name + "_sub_topic"),
		})
	}
	if len(missing) > 0 {
		return nil, fault.Startup("resolve channels", fmt.Errorf("%w: %s", ErrMissingKey, strings.Join(missing, ", ")))
	}

	seen := map[string]string{HeartbeatTopic: "heartbeat"}
	for i := range r.routes {
		route := &r.routes[i]
		if other, ok := seen[route.PublishTopic]; ok {
			return nil, fault.Startup("resolve channels",
				fmt.Errorf("%w: %q used by %s and %s", ErrDuplicateTopic, route.PublishTopic, other, route.Name))
		}
		seen[route.PublishTopic] = route.Name
		route.BindEndpoint = r.bind
		route.ConnectEndpoint = r.connect
	}
	return r, nil
}

func (r *Registry) Resolve(name string) (Route, error) {
	for _, route := range r.routes {
		if route.Name == name {
			return route, nil
		}
	}
	return Route{}, fmt.Errorf("%w: %q", ErrUnknownChannel, name)
}

// Routes returns a copy of all routes in registration order.
func (r *Registry) Routes() []Route {
	out := make([]Route, len(r.routes))
	copy(out, r.routes)
	return out
}

func (r *Registry) BindEndpoint() string    { return r.bind }
func (r *Registry) ConnectEndpoint() string { return r.connect }
