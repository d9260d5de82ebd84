// Package config loads the hub settings snapshot. The snapshot is read once
// at startup and is immutable afterwards; Get is safe for concurrent use.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"broadcast-hub/internal/core/fault"
	"broadcast-hub/internal/core/network"
)

const (
	DefaultPath         = "config.yaml"
	DefaultTickInterval = 2000 * time.Millisecond
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "console"
)

var ErrMissingKey = errors.New("required key missing")

type Config struct {
	Application Application `yaml:"application"`
	Network     Network     `yaml:"network"`
	Log         Log         `yaml:"log"`
	Status      Status      `yaml:"status"`

	values map[string]string
}

type Application struct {
	Build         string      `yaml:"build"`
	ContainerName string      `yaml:"container_name"`
	Environment2  Environment `yaml:"environment2"`
	Environment   []string    `yaml:"environment,omitempty"`
}

type Environment struct {
	OneEnv2 string `yaml:"one_env2"`
	SecEnv2 string `yaml:"sec_env2"`
}

// Network holds the endpoints and the per-channel topics. The eight
// endpoint/topic strings are validated by the channel registry.
type Network struct {
	PubBind        string `yaml:"pub_bind"`
	SubConnect     string `yaml:"sub_connect"`
	UDPPubTopic    string `yaml:"udp_pub_topic"`
	UDPSubTopic    string `yaml:"udp_sub_topic"`
	SerialPubTopic string `yaml:"serial_pub_topic"`
	SerialSubTopic string `yaml:"serial_sub_topic"`
	HTTPPubTopic   string `yaml:"http_pub_topic"`
	HTTPSubTopic   string `yaml:"http_sub_topic"`

	Transport      string `yaml:"transport"`
	TickInterval   string `yaml:"tick_interval"`
	DialRetry      string `yaml:"dial_retry"`
	DialMaxRetries int    `yaml:"dial_max_retries"`
	IdentityKey    string `yaml:"identity_key"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

type Status struct {
	Listen string `yaml:"listen"`
}

// Load reads and validates the file at path. A missing or malformed file is
// a startup fault; there is no empty-table fallback.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Startup("read config", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	cfg := &Config{}
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fault.Startup("parse config", errors.New("empty document"))
		}
		return nil, fault.Startup("parse config", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fault.Startup("validate config", err)
	}
	cfg.values = cfg.flatten()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Network.Transport == "" {
		c.Network.Transport = network.KindZMQ
	}
	if c.Network.TickInterval == "" {
		c.Network.TickInterval = DefaultTickInterval.String()
	}
	if c.Network.DialRetry == "" {
		c.Network.DialRetry = network.DefaultDialRetry.String()
	}
	if c.Network.DialMaxRetries == 0 {
		c.Network.DialMaxRetries = network.DefaultDialMaxRetries
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func (c *Config) validate() error {
	required := []struct {
		key, value string
	}{
		{"application.build", c.Application.Build},
		{"application.container_name", c.Application.ContainerName},
		{"application.environment2.one_env2", c.Application.Environment2.OneEnv2},
		{"application.environment2.sec_env2", c.Application.Environment2.SecEnv2},
	}
	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingKey, strings.Join(missing, ", "))
	}

	switch c.Network.Transport {
	case network.KindZMQ, network.KindLibp2p, network.KindMemory:
	default:
		return fmt.Errorf("network.transport: %w: %q", network.ErrUnknownKind, c.Network.Transport)
	}
	if d, err := time.ParseDuration(c.Network.TickInterval); err != nil {
		return fmt.Errorf("network.tick_interval: %w", err)
	} else if d <= 0 {
		return fmt.Errorf("network.tick_interval must be positive, got %s", d)
	}
	if _, err := time.ParseDuration(c.Network.DialRetry); err != nil {
		return fmt.Errorf("network.dial_retry: %w", err)
	}
	if c.Network.DialMaxRetries < 0 {
		return fmt.Errorf("network.dial_max_retries must be >= 0, got %d", c.Network.DialMaxRetries)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	return nil
}

func (c *Config) flatten() map[string]string {
	out := make(map[string]string, 24)
	put := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	put("application.build", c.Application.Build)
	put("application.container_name", c.Application.ContainerName)
	put("application.environment2.one_env2", c.Application.Environment2.OneEnv2)
	put("application.environment2.sec_env2", c.Application.Environment2.SecEnv2)
	// The joined form is lossy for entries containing a comma; each entry is
	// also kept verbatim under application.environment.<index>.
	put("application.environment", strings.Join(c.Application.Environment, ","))
	for i, e := range c.Application.Environment {
		put("application.environment."+strconv.Itoa(i), e)
	}

	put("network.pub_bind", c.Network.PubBind)
	put("network.sub_connect", c.Network.SubConnect)
	put("network.udp_pub_topic", c.Network.UDPPubTopic)
	put("network.udp_sub_topic", c.Network.UDPSubTopic)
	put("network.serial_pub_topic", c.Network.SerialPubTopic)
	put("network.serial_sub_topic", c.Network.SerialSubTopic)
	put("network.http_pub_topic", c.Network.HTTPPubTopic)
	put("network.http_sub_topic", c.Network.HTTPSubTopic)
	put("network.transport", c.Network.Transport)
	put("network.tick_interval", c.Network.TickInterval)
	put("network.dial_retry", c.Network.DialRetry)
	if c.Network.DialMaxRetries > 0 {
		put("network.dial_max_retries", strconv.Itoa(c.Network.DialMaxRetries))
	}
	put("network.identity_key", c.Network.IdentityKey)

	put("log.level", c.Log.Level)
	put("log.format", c.Log.Format)
	put("log.file", c.Log.File)
	put("status.listen", c.Status.Listen)
	return out
}

// Get returns the value stored under a dotted key such as "network.pub_bind".
func (c *Config) Get(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

// TickInterval is the publisher period; validated at load.
func (c *Config) TickInterval() time.Duration {
	d, err := time.ParseDuration(c.Network.TickInterval)
	if err != nil {
		return DefaultTickInterval
	}
	return d
}

// TransportOptions maps the network block onto transport options.
func (c *Config) TransportOptions() network.Options {
	opts := network.Options{
		DialMaxRetries:  c.Network.DialMaxRetries,
		IdentityKeyFile: c.Network.IdentityKey,
	}
	if d, err := time.ParseDuration(c.Network.DialRetry); err == nil {
		opts.DialRetry = d
	}
	return opts
}
